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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRevivalBackoff(t *testing.T) {
	Convey("Consecutive crashes double the delay up to the cap", t, func() {
		n := newNode(NodeConfig{Name: "crashy"})
		now := time.Now()

		want := []time.Duration{
			1 * time.Second, 2 * time.Second, 4 * time.Second,
			8 * time.Second, 16 * time.Second, 32 * time.Second,
			64 * time.Second, 64 * time.Second, 64 * time.Second,
		}
		for i, w := range want {
			// Instance died almost immediately after spawn.
			n.SpawnTime = now
			d := n.scheduleRevival(now.Add(time.Millisecond))
			So(d, ShouldEqual, w)
			So(n.RevivalAttempts, ShouldEqual, i+1)
			now = now.Add(d)
		}
		So(n.RevivalDelay, ShouldEqual, revivalDelayMax)
	})

	Convey("A stable run resets the policy", t, func() {
		n := newNode(NodeConfig{Name: "flaky"})
		now := time.Now()

		n.SpawnTime = now
		n.scheduleRevival(now)
		n.scheduleRevival(now)
		n.scheduleRevival(now)
		So(n.RevivalAttempts, ShouldEqual, 3)
		So(n.RevivalDelay, ShouldEqual, 8)

		// This incarnation stayed up past the stability threshold
		// before dying, so the next death starts from scratch.
		n.SpawnTime = now
		d := n.scheduleRevival(now.Add(revivalStablePeriod))
		So(d, ShouldEqual, time.Second)
		So(n.RevivalAttempts, ShouldEqual, 1)
		So(n.RevivalDelay, ShouldEqual, 2)
	})

	Convey("An instance that dies just under the threshold keeps its debt", t, func() {
		n := newNode(NodeConfig{Name: "flaky"})
		now := time.Now()
		n.SpawnTime = now
		n.scheduleRevival(now)

		n.SpawnTime = now
		d := n.scheduleRevival(now.Add(revivalStablePeriod - time.Second))
		So(d, ShouldEqual, 2*time.Second)
		So(n.RevivalAttempts, ShouldEqual, 2)
	})
}

func TestNodeExitRecord(t *testing.T) {
	Convey("recordExit captures the termination cause", t, func() {
		n := newNode(NodeConfig{Name: "n"})
		n.PID = 1234
		n.recordExit(0, 9)
		So(n.PID, ShouldEqual, 0)
		So(n.SignalNumber, ShouldEqual, 9)

		st := n.status()
		So(st.Name(), ShouldEqual, "n")
		So(st.SignalNumber, ShouldEqual, 9)
		So(st.PID, ShouldEqual, 0)
	})
}
