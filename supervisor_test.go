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

//go:build unix

package stemvisor

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// TestMain makes the test binary play all three roles.  The supervisor
// under test re-execs this same binary as its Stem, and the Stem execs it
// again for each worker.
func TestMain(m *testing.M) {
	if IsStem() {
		os.Exit(RunStem())
	}
	if n, err := SupervisedEnv(); err != nil {
		os.Exit(1)
	} else if n != nil {
		os.Exit(RunSupervised(n, func(*SupervisedNode) int {
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
			<-sigs
			return 0
		}))
	}
	os.Exit(m.Run())
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	s, err := New(Config{Name: t.Name(), BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.mlog.AddLogger(newTestLogger(t))
	t.Cleanup(s.Shutdown)
	return s
}

// waitNodes polls status until cond holds or the deadline passes.
func waitNodes(t *testing.T, s *Supervisor, cond func([]NodeStatus) bool) []NodeStatus {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for {
		nodes, err := s.Status("")
		if err == nil && cond(nodes) {
			return nodes
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached; last status %+v (err %v)", nodes, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func allRunning(n int) func([]NodeStatus) bool {
	return func(nodes []NodeStatus) bool {
		if len(nodes) != n {
			return false
		}
		for _, ns := range nodes {
			if ns.PID <= 0 {
				return false
			}
		}
		return true
	}
}

func TestSupervisorLifecycle(t *testing.T) {
	Convey("Nodes are created, listed, restarted and destroyed", t, func() {
		s := newTestSupervisor(t)
		So(s.StemPID(), ShouldBeGreaterThan, 0)

		So(s.Create(NodeConfig{Name: "alpha"}), ShouldBeNil)
		So(s.Create(NodeConfig{Name: "beta"}), ShouldBeNil)
		nodes := waitNodes(t, s, allRunning(2))
		So(nodes[0].Name(), ShouldEqual, "alpha")
		So(nodes[1].Name(), ShouldEqual, "beta")

		Convey("Duplicate creation fails", func() {
			err := s.Create(NodeConfig{Name: "alpha"})
			So(errors.Is(err, ErrAlreadyExists), ShouldBeTrue)
		})

		Convey("Invalid configs are rejected locally", func() {
			err := s.Create(NodeConfig{Name: "a/b"})
			So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
		})

		Convey("Restart replaces the worker process", func() {
			old := nodes[0].PID
			So(s.Restart("alpha"), ShouldBeNil)
			waitNodes(t, s, func(ns []NodeStatus) bool {
				return len(ns) == 2 && ns[0].PID > 0 && ns[0].PID != old
			})
		})

		Convey("Destroying an unknown node fails", func() {
			err := s.Destroy("nope")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("Destroy removes one node", func() {
			So(s.Destroy("beta"), ShouldBeNil)
			waitNodes(t, s, func(ns []NodeStatus) bool {
				return len(ns) == 1 && ns[0].Name() == "alpha"
			})

			Convey("and evicts it from the cached view", func() {
				cached := s.Nodes()
				So(len(cached), ShouldEqual, 1)
				So(cached[0].Name(), ShouldEqual, "alpha")
			})
		})

		Convey("A named status miss evicts a stale cache entry", func() {
			s.mx.Lock()
			s.cache["ghost"] = NodeStatus{Config: NodeConfig{Name: "ghost"}}
			s.mx.Unlock()

			nodes, err := s.Status("ghost")
			So(err, ShouldBeNil)
			So(nodes, ShouldBeEmpty)

			for _, ns := range s.Nodes() {
				So(ns.Name(), ShouldNotEqual, "ghost")
			}
		})

		Convey("Destroying all leaves nothing behind", func() {
			So(s.Destroy(""), ShouldBeNil)
			waitNodes(t, s, func(ns []NodeStatus) bool {
				return len(ns) == 0
			})
		})
	})
}

func TestSupervisorStemRevival(t *testing.T) {
	Convey("A killed stem is rebuilt and the node set replayed", t, func() {
		s := newTestSupervisor(t)
		So(s.Create(NodeConfig{Name: "alpha"}), ShouldBeNil)
		So(s.Create(NodeConfig{Name: "beta"}), ShouldBeNil)
		before := waitNodes(t, s, allRunning(2))
		stemPID := s.StemPID()

		So(syscall.Kill(stemPID, syscall.SIGKILL), ShouldBeNil)

		// The stem comes back under a new pid with both nodes respawned.
		after := waitNodes(t, s, func(ns []NodeStatus) bool {
			return allRunning(2)(ns) && s.StemPID() != stemPID &&
				ns[0].PID != before[0].PID &&
				ns[1].PID != before[1].PID
		})
		So(after[0].Name(), ShouldEqual, "alpha")
		So(after[1].Name(), ShouldEqual, "beta")
	})
}

func TestSupervisorShutdown(t *testing.T) {
	Convey("Shutdown stops the stem and refuses further work", t, func() {
		s := newTestSupervisor(t)
		So(s.Create(NodeConfig{Name: "alpha"}), ShouldBeNil)
		waitNodes(t, s, allRunning(1))

		s.Shutdown()
		err := s.Create(NodeConfig{Name: "beta"})
		So(errors.Is(err, ErrShutdown), ShouldBeTrue)
		_, err = s.Status("")
		So(errors.Is(err, ErrShutdown), ShouldBeTrue)

		Convey("Shutdown is idempotent", func() {
			s.Shutdown()
		})
	})
}

func TestSupervisorLog(t *testing.T) {
	Convey("The retained log records supervision events", t, func() {
		s := newTestSupervisor(t)
		So(s.Create(NodeConfig{Name: "alpha"}), ShouldBeNil)

		recs, last := s.GetLog(0)
		So(len(recs), ShouldBeGreaterThan, 0)
		So(last, ShouldBeGreaterThan, 0)

		recs, _ = s.GetLog(last)
		So(recs, ShouldBeEmpty)
	})
}
