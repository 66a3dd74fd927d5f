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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"
)

func TestConfigRoundTrip(t *testing.T) {
	Convey("A full config survives a JSON round trip", t, func() {
		cpu := 2
		cfg := NodeConfig{
			Name:        "worker-1",
			Interface:   "eth0",
			Directory:   "/tmp/worker-1",
			StdoutFile:  "/tmp/worker-1/out.log",
			StderrFile:  "/tmp/worker-1/err.log",
			CPUAffinity: &cpu,
			Scripts:     []string{"setup.cfg", "local.cfg"},
			Cluster: map[string]ClusterEndpoint{
				"manager": {Role: RoleManager, Host: "10.0.0.1", Port: 4200},
				"worker-1": {Role: RoleWorker, Host: "10.0.0.2",
					Port: 4201, Interface: "eth0"},
			},
		}

		data, err := cfg.JSON()
		So(err, ShouldBeNil)

		got, err := ParseConfigJSON(data)
		So(err, ShouldBeNil)
		So(got.Equal(cfg), ShouldBeTrue)
		So(cmp.Diff(cfg, got), ShouldBeEmpty)
	})

	Convey("A minimal config omits absent optionals from its JSON", t, func() {
		cfg := NodeConfig{Name: "bare"}
		data, err := cfg.JSON()
		So(err, ShouldBeNil)
		So(string(data), ShouldEqual, `{"name":"bare"}`)

		got, err := ParseConfigJSON(data)
		So(err, ShouldBeNil)
		So(got.Equal(cfg), ShouldBeTrue)
	})
}

func TestConfigValidate(t *testing.T) {
	Convey("Validation rejects bad configs", t, func() {
		bad := []NodeConfig{
			{},
			{Name: "a/b"},
			{Name: ".."},
			{Name: "x", CPUAffinity: func() *int { n := -1; return &n }()},
			{Name: "x", Cluster: map[string]ClusterEndpoint{
				"peer": {Role: "coordinator", Host: "h", Port: 1}}},
			{Name: "x", Cluster: map[string]ClusterEndpoint{
				"peer": {Role: RoleWorker, Host: "h", Port: 70000}}},
			{Name: "x", Cluster: map[string]ClusterEndpoint{
				"": {Role: RoleWorker, Host: "h", Port: 1}}},
		}
		for _, cfg := range bad {
			err := cfg.Validate()
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
		}
	})

	Convey("Validation accepts good configs", t, func() {
		So(NodeConfig{Name: "plain"}.Validate(), ShouldBeNil)
		So(NodeConfig{
			Name: "clustered",
			Cluster: map[string]ClusterEndpoint{
				"clustered": {Role: RoleProxy, Host: "::1", Port: 0},
			},
		}.Validate(), ShouldBeNil)
	})

	Convey("Malformed JSON maps to the config error", t, func() {
		_, err := ParseConfigJSON([]byte(`{"name":`))
		So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
	})
}

func TestConfigEqual(t *testing.T) {
	Convey("Equal treats nil and empty collections alike", t, func() {
		a := NodeConfig{Name: "n"}
		b := NodeConfig{
			Name:    "n",
			Scripts: []string{},
			Cluster: map[string]ClusterEndpoint{},
		}
		So(a.Equal(b), ShouldBeTrue)
		So(b.Equal(a), ShouldBeTrue)
	})

	Convey("Equal distinguishes real differences", t, func() {
		cpu0, cpu1 := 0, 1
		a := NodeConfig{Name: "n", CPUAffinity: &cpu0}
		b := NodeConfig{Name: "n", CPUAffinity: &cpu1}
		So(a.Equal(b), ShouldBeFalse)
		So(a.Equal(NodeConfig{Name: "n"}), ShouldBeFalse)
		So(a.Equal(NodeConfig{Name: "m", CPUAffinity: &cpu0}), ShouldBeFalse)
	})
}

func TestConfigLogPaths(t *testing.T) {
	Convey("Default log paths derive from the node name", t, func() {
		cfg := NodeConfig{Name: "logger-1"}
		So(cfg.stdoutPath("/var/sv"), ShouldEqual, "/var/sv/logger-1.stdout.log")
		So(cfg.stderrPath("/var/sv"), ShouldEqual, "/var/sv/logger-1.stderr.log")

		Convey("Explicit files win over the default", func() {
			cfg.StdoutFile = "/out"
			So(cfg.stdoutPath("/var/sv"), ShouldEqual, "/out")
		})

		Convey("No base directory means inherit", func() {
			So(cfg.stdoutPath(""), ShouldEqual, "")
			So(cfg.stderrPath(""), ShouldEqual, "")
		})
	})
}
