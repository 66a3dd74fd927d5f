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
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParentMonitor(t *testing.T) {
	Convey("A reparented process notices within one interval", t, func() {
		var ppid atomic.Int64
		ppid.Store(42)

		m := NewParentMonitor(42, 5*time.Millisecond)
		m.getppid = func() int { return int(ppid.Load()) }

		lost := make(chan struct{})
		m.OnLost(func() { close(lost) })
		m.Start()
		defer m.Stop()

		// Stable parent: no reaction.
		select {
		case <-lost:
			t.Fatal("lost fired with parent unchanged")
		case <-time.After(25 * time.Millisecond):
		}

		// Parent died; init inherited us.
		ppid.Store(1)
		select {
		case <-lost:
		case <-time.After(time.Second):
			t.Fatal("lost never fired")
		}
	})

	Convey("Inline polling reports the same condition", t, func() {
		var ppid atomic.Int64
		ppid.Store(42)
		m := NewParentMonitor(42, 0)
		m.getppid = func() int { return int(ppid.Load()) }

		So(m.lost(), ShouldBeFalse)
		ppid.Store(1)
		So(m.lost(), ShouldBeTrue)
	})

	Convey("A parent that died before construction is caught", t, func() {
		// The handoff names pid 42, but by the time the monitor is
		// built init has already inherited us. Sampling getppid here
		// would record pid 1 as the parent and never fire.
		m := NewParentMonitor(42, 0)
		m.getppid = func() int { return 1 }

		So(m.lost(), ShouldBeTrue)
	})

	Convey("Without a handoff pid the current parent is sampled", t, func() {
		m := NewParentMonitor(0, 0)
		So(m.parent, ShouldEqual, m.getppid())
		So(m.lost(), ShouldBeFalse)
	})
}
