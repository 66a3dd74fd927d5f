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

package rest

import (
	"github.com/stemvisor/stemvisor"
)

const mimeJson = "application/json; charset=UTF-8"

var ok struct{}

// SupervisorInfo is the top-level view returned at the API root.
type SupervisorInfo struct {
	Name    string `json:"name"`
	StemPID int    `json:"stemPid"`
	Nodes   int    `json:"nodes"`
}

// LogPage is a chunk of retained supervisor log, with the cursor a client
// passes back to resume.
type LogPage struct {
	Records []stemvisor.LogRecord `json:"records"`
	Last    int64                 `json:"last,string"`
}

// Error is the JSON body of any non-2xx response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
