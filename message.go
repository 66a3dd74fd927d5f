// Copyright 2026 The Stemvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stemvisor

import (
	"github.com/google/uuid"
)

// MessageType tags a transport envelope.
type MessageType string

const (
	MsgCreate      MessageType = "create"
	MsgDestroy     MessageType = "destroy"
	MsgRestart     MessageType = "restart"
	MsgStatus      MessageType = "status"
	MsgStatusReply MessageType = "status-reply"
	MsgAck         MessageType = "ack"
	MsgError       MessageType = "error"
)

// Message is the envelope exchanged between Supervisor and Stem.  Each
// direction carries one outstanding request at a time; replies echo the
// request's correlation id.
type Message struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`

	// Name targets destroy/restart/status requests.  Empty means all.
	Name string `json:"name,omitempty"`

	// Config is present on create requests.
	Config *NodeConfig `json:"config,omitempty"`

	// Nodes is present on status replies.
	Nodes []NodeStatus `json:"nodes,omitempty"`

	// Code and Error are present on error replies.  Error is the
	// operator-facing text; Code identifies the failure class.
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func newRequest(t MessageType) Message {
	return Message{Type: t, ID: uuid.NewString()}
}

func ackReply(req Message) Message {
	return Message{Type: MsgAck, ID: req.ID}
}

func errorReply(req Message, code, text string) Message {
	return Message{Type: MsgError, ID: req.ID, Code: code, Error: text}
}

func statusReply(req Message, nodes []NodeStatus) Message {
	return Message{Type: MsgStatusReply, ID: req.ID, Nodes: nodes}
}
