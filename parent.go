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
	"os"
	"time"
)

// parentCheckInterval is how often supervised processes poll their parent
// identity.  Orphan detection is delayed by up to one interval; that
// approximation is deliberate, trading immediacy for not holding a live
// descriptor open in every process.
const parentCheckInterval = time.Second

// ParentMonitor periodically compares the current parent process id with
// the one recorded when monitoring began.  A change means the parent died
// and the OS reparented us, which no signal announces; the monitored
// process self-terminates in response.  Every Stem and every worker runs
// one of these.
type ParentMonitor struct {
	interval time.Duration
	parent   int
	getppid  func() int
	onLost   func()
	done     chan struct{}
}

// NewParentMonitor watches the process identified by parent, which should
// be the authoritative pid handed down at spawn time.  Sampling the current
// parent here instead would race the parent's death: a process orphaned
// before this call would record init as its parent and never notice.  A
// non-positive parent falls back to sampling, for processes not spawned by
// a supervision tier.  A zero interval selects the default.  The default
// reaction to a lost parent is immediate process exit.
func NewParentMonitor(parent int, interval time.Duration) *ParentMonitor {
	if interval <= 0 {
		interval = parentCheckInterval
	}
	m := &ParentMonitor{
		interval: interval,
		parent:   parent,
		getppid:  os.Getppid,
		onLost:   func() { os.Exit(1) },
		done:     make(chan struct{}),
	}
	if m.parent <= 0 {
		m.parent = m.getppid()
	}
	return m
}

// OnLost replaces the self-termination reaction.  Must be called before
// Start.
func (m *ParentMonitor) OnLost(fn func()) {
	m.onLost = fn
}

// Start begins polling in the background.
func (m *ParentMonitor) Start() {
	go m.run()
}

func (m *ParentMonitor) run() {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-t.C:
			if m.getppid() != m.parent {
				m.onLost()
				return
			}
		}
	}
}

// Stop ends monitoring.  Safe to call once.
func (m *ParentMonitor) Stop() {
	close(m.done)
}

// lost reports whether the parent has changed, for callers that poll from
// their own loop instead of running the background goroutine.
func (m *ParentMonitor) lost() bool {
	return m.getppid() != m.parent
}
