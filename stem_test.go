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
	"os/exec"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// testStem runs a Stem over an in-process channel pair with its spawn hook
// pointed at stub processes.  The returned channel is the supervisor end.
func testStem(t *testing.T, spawn func(cfg NodeConfig) (*exec.Cmd, error)) (*Channel, chan error) {
	t.Helper()
	supEnd, stemEnd := channelPair()
	s, err := NewStem(stemEnd, StemOptions{})
	if err != nil {
		t.Fatalf("NewStem: %v", err)
	}
	s.mlog.AddLogger(newTestLogger(t))
	if spawn != nil {
		s.spawn = spawn
	}
	done := make(chan error, 1)
	go func() {
		done <- s.Run()
		close(done)
	}()
	t.Cleanup(func() {
		supEnd.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("stem did not stop")
		}
	})
	return supEnd, done
}

func spawnSleeper(cfg NodeConfig) (*exec.Cmd, error) {
	cmd := exec.Command("sleep", "3600")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// roundTrip issues one request on the supervisor end and collects its reply.
func testRoundTrip(t *testing.T, ch *Channel, m Message) Message {
	t.Helper()
	if err := ch.Send(m); err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := ch.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if reply.ID != m.ID {
		t.Fatalf("reply id %q does not match request %q", reply.ID, m.ID)
	}
	return reply
}

func createReq(cfg NodeConfig) Message {
	m := newRequest(MsgCreate)
	m.Config = &cfg
	return m
}

func statusOf(t *testing.T, ch *Channel, name string) []NodeStatus {
	t.Helper()
	m := newRequest(MsgStatus)
	m.Name = name
	reply := testRoundTrip(t, ch, m)
	if reply.Type != MsgStatusReply {
		t.Fatalf("want status reply, got %v (%s)", reply.Type, reply.Error)
	}
	return reply.Nodes
}

func TestStemCreateDestroy(t *testing.T) {
	Convey("Create spawns a process and destroy stops it", t, func() {
		ch, _ := testStem(t, spawnSleeper)

		reply := testRoundTrip(t, ch, createReq(NodeConfig{Name: "w1"}))
		So(reply.Type, ShouldEqual, MsgAck)

		nodes := statusOf(t, ch, "w1")
		So(len(nodes), ShouldEqual, 1)
		So(nodes[0].PID, ShouldBeGreaterThan, 0)
		So(nodes[0].Killed, ShouldBeFalse)

		Convey("Creating the same name again fails without side effects", func() {
			pid := nodes[0].PID
			reply := testRoundTrip(t, ch, createReq(NodeConfig{Name: "w1"}))
			So(reply.Type, ShouldEqual, MsgError)
			So(reply.Code, ShouldEqual, codeAlreadyExists)

			nodes := statusOf(t, ch, "w1")
			So(len(nodes), ShouldEqual, 1)
			So(nodes[0].PID, ShouldEqual, pid)
		})

		Convey("An invalid config is rejected", func() {
			reply := testRoundTrip(t, ch, createReq(NodeConfig{Name: "no/slash"}))
			So(reply.Type, ShouldEqual, MsgError)
			So(reply.Code, ShouldEqual, codeInvalidConfig)
		})

		Convey("Destroy removes the node", func() {
			m := newRequest(MsgDestroy)
			m.Name = "w1"
			reply := testRoundTrip(t, ch, m)
			So(reply.Type, ShouldEqual, MsgAck)

			So(statusOf(t, ch, "w1"), ShouldBeEmpty)
		})

		Convey("Destroying an unknown node is an error", func() {
			m := newRequest(MsgDestroy)
			m.Name = "nope"
			reply := testRoundTrip(t, ch, m)
			So(reply.Type, ShouldEqual, MsgError)
			So(reply.Code, ShouldEqual, codeNotFound)
		})
	})
}

func TestStemRestart(t *testing.T) {
	Convey("Restart replaces the process but keeps the config", t, func() {
		ch, _ := testStem(t, spawnSleeper)

		cfg := NodeConfig{Name: "w1", Scripts: []string{"extra.cfg"}}
		reply := testRoundTrip(t, ch, createReq(cfg))
		So(reply.Type, ShouldEqual, MsgAck)
		oldPID := statusOf(t, ch, "w1")[0].PID

		m := newRequest(MsgRestart)
		m.Name = "w1"
		reply = testRoundTrip(t, ch, m)
		So(reply.Type, ShouldEqual, MsgAck)

		nodes := statusOf(t, ch, "w1")
		So(len(nodes), ShouldEqual, 1)
		So(nodes[0].PID, ShouldBeGreaterThan, 0)
		So(nodes[0].PID, ShouldNotEqual, oldPID)
		So(nodes[0].Config.Equal(cfg), ShouldBeTrue)
	})
}

func TestStemRevival(t *testing.T) {
	Convey("An unplanned death schedules a revival under backoff", t, func() {
		ch, _ := testStem(t, spawnSleeper)

		reply := testRoundTrip(t, ch, createReq(NodeConfig{Name: "w1"}))
		So(reply.Type, ShouldEqual, MsgAck)
		pid := statusOf(t, ch, "w1")[0].PID

		So(syscall.Kill(pid, syscall.SIGKILL), ShouldBeNil)

		// First the death is observed with revival pending, then the
		// node comes back under a new pid.
		deadline := time.Now().Add(10 * time.Second)
		revived := false
		for time.Now().Before(deadline) {
			nodes := statusOf(t, ch, "w1")
			So(len(nodes), ShouldEqual, 1)
			n := nodes[0]
			if n.PID > 0 && n.PID != pid {
				So(n.RevivalAttempts, ShouldEqual, 1)
				So(n.RevivalDelay, ShouldEqual, 2)
				revived = true
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		So(revived, ShouldBeTrue)
	})

	Convey("A destroyed node stays destroyed even if its process lingers", t, func() {
		ch, _ := testStem(t, spawnSleeper)
		reply := testRoundTrip(t, ch, createReq(NodeConfig{Name: "w1"}))
		So(reply.Type, ShouldEqual, MsgAck)

		m := newRequest(MsgDestroy)
		reply = testRoundTrip(t, ch, m) // empty name: all nodes
		So(reply.Type, ShouldEqual, MsgAck)

		time.Sleep(100 * time.Millisecond)
		So(statusOf(t, ch, ""), ShouldBeEmpty)
	})
}

func TestStemSpawnFailure(t *testing.T) {
	Convey("A failing spawn enters the revival path instead of erroring", t, func() {
		ch, _ := testStem(t, func(cfg NodeConfig) (*exec.Cmd, error) {
			cmd := exec.Command("/nonexistent/binary")
			if err := cmd.Start(); err != nil {
				return nil, err
			}
			return cmd, nil
		})

		reply := testRoundTrip(t, ch, createReq(NodeConfig{Name: "w1"}))
		So(reply.Type, ShouldEqual, MsgAck)

		nodes := statusOf(t, ch, "w1")
		So(len(nodes), ShouldEqual, 1)
		So(nodes[0].PID, ShouldEqual, 0)
		So(nodes[0].RevivalAttempts, ShouldBeGreaterThanOrEqualTo, 1)
	})
}

func TestStemReapByPid(t *testing.T) {
	Convey("Exit events are matched to nodes by pid", t, func() {
		supEnd, stemEnd := channelPair()
		defer supEnd.Close()
		s, err := NewStem(stemEnd, StemOptions{})
		So(err, ShouldBeNil)
		s.mlog.AddLogger(newTestLogger(t))

		n := newNode(NodeConfig{Name: "w1"})
		n.PID = 4321
		n.SpawnTime = time.Now()
		s.reg.put(n)

		Convey("A stale exit from a superseded process is ignored", func() {
			s.handleExit(workerExit{pid: 9999, signal: 9})

			got, ok := s.reg.byName("w1")
			So(ok, ShouldBeTrue)
			So(got.PID, ShouldEqual, 4321)
			So(got.RevivalAttempts, ShouldEqual, 0)
		})

		Convey("A matching exit reaps the node and schedules revival", func() {
			s.handleExit(workerExit{pid: 4321, signal: 9})

			got, ok := s.reg.byName("w1")
			So(ok, ShouldBeTrue)
			So(got.PID, ShouldEqual, 0)
			So(got.SignalNumber, ShouldEqual, 9)
			So(got.RevivalAttempts, ShouldEqual, 1)
		})

		Convey("A killed node is reaped without revival", func() {
			n.Killed = true
			s.reg.put(n)
			s.handleExit(workerExit{pid: 4321, signal: 15})

			got, ok := s.reg.byName("w1")
			So(ok, ShouldBeTrue)
			So(got.PID, ShouldEqual, 0)
			So(got.RevivalAttempts, ShouldEqual, 0)
		})
	})
}

func TestStemShutdown(t *testing.T) {
	Convey("Closing the channel shuts the stem down cleanly", t, func() {
		ch, done := testStem(t, spawnSleeper)
		reply := testRoundTrip(t, ch, createReq(NodeConfig{Name: "w1"}))
		So(reply.Type, ShouldEqual, MsgAck)

		ch.Close()
		select {
		case err := <-done:
			So(err, ShouldBeNil)
		case <-time.After(5 * time.Second):
			t.Fatal("stem did not exit")
		}
	})
}
