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
	"time"
)

const (
	// revivalDelayMax caps the exponential backoff, in seconds.
	revivalDelayMax = 64

	// revivalStablePeriod is how long a process must stay up for its
	// next unplanned death to be treated as a fresh incident rather
	// than a continuation of a crash loop.
	revivalStablePeriod = 30 * time.Second
)

// Node is the Stem's bookkeeping for one supervised process.  The Stem is
// its only writer; everyone else sees NodeStatus snapshots.
type Node struct {
	Config NodeConfig

	// PID is the live process id, or 0 when no process is running.
	PID int

	// Killed is set once the Stem has voluntarily requested
	// termination.  A killed node is never revived.
	Killed bool

	// ExitStatus and SignalNumber record the last termination cause.
	// They are meaningful only after a reap.
	ExitStatus   int
	SignalNumber int

	// RevivalAttempts counts consecutive unplanned restarts since the
	// node last ran stably.  RevivalDelay is the wait, in seconds,
	// before the next attempt.
	RevivalAttempts int
	RevivalDelay    int

	// SpawnTime is when the process was last forked.
	SpawnTime time.Time

	// reviveAt is the pending revival deadline; zero when none.
	reviveAt time.Time
}

func newNode(cfg NodeConfig) Node {
	return Node{Config: cfg, RevivalDelay: 1}
}

func (n *Node) Name() string {
	return n.Config.Name
}

// recordExit stores the termination cause of a reaped process.
func (n *Node) recordExit(status, signo int) {
	n.PID = 0
	n.ExitStatus = status
	n.SignalNumber = signo
}

// scheduleRevival applies the backoff policy after an unplanned death and
// returns the delay until the next spawn attempt.  An instance that stayed
// up past the stability threshold resets the policy first, so transient
// faults do not accumulate punishment forever.
func (n *Node) scheduleRevival(now time.Time) time.Duration {
	if !n.SpawnTime.IsZero() && now.Sub(n.SpawnTime) >= revivalStablePeriod {
		n.RevivalAttempts = 0
		n.RevivalDelay = 1
	}
	delay := time.Duration(n.RevivalDelay) * time.Second
	n.RevivalAttempts++
	n.reviveAt = now.Add(delay)
	n.RevivalDelay *= 2
	if n.RevivalDelay > revivalDelayMax {
		n.RevivalDelay = revivalDelayMax
	}
	return delay
}

// status takes an immutable snapshot of the node.
func (n *Node) status() NodeStatus {
	return NodeStatus{
		Config:          n.Config,
		PID:             n.PID,
		Killed:          n.Killed,
		ExitStatus:      n.ExitStatus,
		SignalNumber:    n.SignalNumber,
		RevivalAttempts: n.RevivalAttempts,
		RevivalDelay:    n.RevivalDelay,
		SpawnTime:       n.SpawnTime,
	}
}

// NodeStatus is the read-only view of a Node reported by status replies.
type NodeStatus struct {
	Config          NodeConfig `json:"config"`
	PID             int        `json:"pid"`
	Killed          bool       `json:"killed"`
	ExitStatus      int        `json:"exitStatus"`
	SignalNumber    int        `json:"signalNumber"`
	RevivalAttempts int        `json:"revivalAttempts"`
	RevivalDelay    int        `json:"revivalDelay"`
	SpawnTime       time.Time  `json:"spawnTime"`
}

func (s NodeStatus) Name() string {
	return s.Config.Name
}
