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
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// SupervisedNode is what a spawned worker knows about itself: its own
// configuration, including the cluster topology snapshot, and the process
// id of the Stem that spawned it.
type SupervisedNode struct {
	Config    NodeConfig `json:"config"`
	ParentPID int        `json:"parentPid"`
}

// Endpoint returns the node's own entry in its cluster topology, when it
// has one.
func (sn *SupervisedNode) Endpoint() (ClusterEndpoint, bool) {
	ep, ok := sn.Config.Cluster[sn.Config.Name]
	return ep, ok
}

// SupervisedEnv decodes the node handoff when this process was exec'd as a
// worker.  It returns nil when running in any other role.
func SupervisedEnv() (*SupervisedNode, error) {
	raw := os.Getenv(envNode)
	if raw == "" {
		return nil, nil
	}
	var sn SupervisedNode
	if err := json.Unmarshal([]byte(raw), &sn); err != nil {
		return nil, fmt.Errorf("bad node handoff: %v", err)
	}
	return &sn, nil
}

// WorkerMain is the application payload a worker runs.  The return value
// becomes the process exit code.  Payload semantics are entirely up to the
// embedding program; the supervision core neither knows nor cares what a
// worker does.
type WorkerMain func(*SupervisedNode) int

// RunSupervised is the process entry for a worker exec.  It applies the
// node's cpu pinning, starts the parent-liveness monitor, and hands off to
// the payload.  If the Stem dies, the monitor terminates this process
// within one check interval; that self-termination is correct behavior,
// not a failure.
func RunSupervised(sn *SupervisedNode, main WorkerMain) int {
	if sn.Config.CPUAffinity != nil {
		if err := setAffinity(*sn.Config.CPUAffinity); err != nil {
			log.Printf("[%s] cpu pinning failed: %v", sn.Config.Name, err)
		}
	}
	mon := NewParentMonitor(sn.ParentPID, parentCheckInterval)
	mon.Start()
	defer mon.Stop()
	return main(sn)
}
