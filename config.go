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
	"path/filepath"
	"strings"
)

// ClusterRole is the role a node plays within the cluster topology handed
// to it at spawn time.  The core does not interpret roles; they are passed
// through to the worker payload.
type ClusterRole string

const (
	RoleManager ClusterRole = "manager"
	RoleLogger  ClusterRole = "logger"
	RoleWorker  ClusterRole = "worker"
	RoleProxy   ClusterRole = "proxy"
)

func (r ClusterRole) valid() bool {
	switch r {
	case RoleManager, RoleLogger, RoleWorker, RoleProxy:
		return true
	}
	return false
}

// ClusterEndpoint describes one peer in a node's cluster topology snapshot.
// Endpoints have no lifecycle of their own; they live and die with the
// NodeConfig that contains them.
type ClusterEndpoint struct {
	Role      ClusterRole `json:"role"`
	Host      string      `json:"host"`
	Port      int         `json:"port"`
	Interface string      `json:"interface,omitempty"`
}

// NodeConfig is the immutable description of a worker's desired identity,
// resources, and cluster placement.  It is created by the requester and
// read-only from then on; the Stem copies it around but never mutates it.
type NodeConfig struct {
	// Name uniquely identifies the node within the supervised tree.  It
	// is the lookup and ordering key everywhere, and doubles as a
	// filesystem-safe path component for default log locations.
	Name string `json:"name"`

	// Interface names the capture interface the worker should read from.
	Interface string `json:"interface,omitempty"`

	// Directory is the working directory for the worker process.
	Directory string `json:"directory,omitempty"`

	// StdoutFile and StderrFile redirect the worker's output streams.
	// When empty, defaults derived from Name are used if the supervisor
	// was given a base directory, otherwise streams are inherited.
	StdoutFile string `json:"stdoutFile,omitempty"`
	StderrFile string `json:"stderrFile,omitempty"`

	// CPUAffinity pins the worker to a core.  Nil means unpinned.
	CPUAffinity *int `json:"cpuAffinity,omitempty"`

	// Scripts are extra startup inputs handed to the worker payload.
	Scripts []string `json:"scripts,omitempty"`

	// Cluster is the static topology snapshot given to the worker at
	// spawn time, keyed by peer node name.
	Cluster map[string]ClusterEndpoint `json:"cluster,omitempty"`
}

// ParseConfigJSON decodes and validates a NodeConfig from its JSON form.
func ParseConfigJSON(data []byte) (NodeConfig, error) {
	var c NodeConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return NodeConfig{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return c, nil
}

// JSON renders the config in its JSON form.  ParseConfigJSON(c.JSON())
// yields a config equal to c.
func (c NodeConfig) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// Validate checks the structural constraints a config must satisfy before
// the Stem will accept it.
func (c NodeConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrConfigInvalid)
	}
	if strings.ContainsAny(c.Name, "/\\") || c.Name == "." || c.Name == ".." {
		return fmt.Errorf("%w: name %q is not filesystem-safe",
			ErrConfigInvalid, c.Name)
	}
	if c.CPUAffinity != nil && *c.CPUAffinity < 0 {
		return fmt.Errorf("%w: cpu affinity must be non-negative",
			ErrConfigInvalid)
	}
	for peer, ep := range c.Cluster {
		if peer == "" {
			return fmt.Errorf("%w: cluster peer name must not be empty",
				ErrConfigInvalid)
		}
		if !ep.Role.valid() {
			return fmt.Errorf("%w: cluster peer %q has unknown role %q",
				ErrConfigInvalid, peer, ep.Role)
		}
		if ep.Port < 0 || ep.Port > 65535 {
			return fmt.Errorf("%w: cluster peer %q has invalid port %d",
				ErrConfigInvalid, peer, ep.Port)
		}
	}
	return nil
}

// Equal reports structural equality, used for idempotence checks.  A nil
// and an empty collection compare equal, so a config survives a JSON round
// trip unchanged under Equal.
func (c NodeConfig) Equal(o NodeConfig) bool {
	if c.Name != o.Name || c.Interface != o.Interface ||
		c.Directory != o.Directory ||
		c.StdoutFile != o.StdoutFile || c.StderrFile != o.StderrFile {
		return false
	}
	switch {
	case c.CPUAffinity == nil && o.CPUAffinity != nil:
		return false
	case c.CPUAffinity != nil && o.CPUAffinity == nil:
		return false
	case c.CPUAffinity != nil && *c.CPUAffinity != *o.CPUAffinity:
		return false
	}
	if len(c.Scripts) != len(o.Scripts) {
		return false
	}
	for i, s := range c.Scripts {
		if o.Scripts[i] != s {
			return false
		}
	}
	if len(c.Cluster) != len(o.Cluster) {
		return false
	}
	for peer, ep := range c.Cluster {
		if o.Cluster[peer] != ep {
			return false
		}
	}
	return true
}

// stdoutPath resolves where the worker's stdout goes.  Empty means inherit.
func (c NodeConfig) stdoutPath(base string) string {
	if c.StdoutFile != "" {
		return c.StdoutFile
	}
	if base == "" {
		return ""
	}
	return filepath.Join(base, c.Name+".stdout.log")
}

// stderrPath resolves where the worker's stderr goes.  Empty means inherit.
func (c NodeConfig) stderrPath(base string) string {
	if c.StderrFile != "" {
		return c.StderrFile
	}
	if base == "" {
		return ""
	}
	return filepath.Join(base, c.Name+".stderr.log")
}
