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

// Package nodefile converts node definitions between their on-disk forms
// and stemvisor.NodeConfig values.  The native form is HCL:
//
//	node "worker-1" {
//	  interface    = "eth0"
//	  cpu_affinity = 2
//	  scripts      = ["extra.cfg"]
//
//	  cluster "manager" {
//	    role = "manager"
//	    host = "127.0.0.1"
//	    port = 9990
//	  }
//	}
//
// Plain JSON manifests (one NodeConfig per file) are accepted too.
package nodefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/stemvisor/stemvisor"
)

type nodeFile struct {
	Nodes []nodeBlock `hcl:"node,block"`
}

type nodeBlock struct {
	Name        string         `hcl:"name,label"`
	Interface   *string        `hcl:"interface,optional"`
	Directory   *string        `hcl:"directory,optional"`
	StdoutFile  *string        `hcl:"stdout_file,optional"`
	StderrFile  *string        `hcl:"stderr_file,optional"`
	CPUAffinity *int           `hcl:"cpu_affinity,optional"`
	Scripts     []string       `hcl:"scripts,optional"`
	Cluster     []clusterBlock `hcl:"cluster,block"`
}

type clusterBlock struct {
	Peer      string  `hcl:"peer,label"`
	Role      string  `hcl:"role"`
	Host      string  `hcl:"host"`
	Port      int     `hcl:"port"`
	Interface *string `hcl:"interface,optional"`
}

// Parse reads node definitions from an HCL file on disk.
func Parse(path string) ([]stemvisor.NodeConfig, error) {
	f, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diags
	}
	return decode(f.Body)
}

// ParseBytes reads node definitions from HCL source.  The filename only
// labels diagnostics.
func ParseBytes(src []byte, filename string) ([]stemvisor.NodeConfig, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	return decode(f.Body)
}

func decode(body hcl.Body) ([]stemvisor.NodeConfig, error) {
	var nf nodeFile
	if diags := gohcl.DecodeBody(body, nil, &nf); diags.HasErrors() {
		return nil, diags
	}
	cfgs := make([]stemvisor.NodeConfig, 0, len(nf.Nodes))
	for _, nb := range nf.Nodes {
		cfg := stemvisor.NodeConfig{
			Name:        nb.Name,
			Interface:   deref(nb.Interface),
			Directory:   deref(nb.Directory),
			StdoutFile:  deref(nb.StdoutFile),
			StderrFile:  deref(nb.StderrFile),
			CPUAffinity: nb.CPUAffinity,
			Scripts:     nb.Scripts,
		}
		if len(nb.Cluster) > 0 {
			cfg.Cluster = make(map[string]stemvisor.ClusterEndpoint, len(nb.Cluster))
			for _, cb := range nb.Cluster {
				cfg.Cluster[cb.Peer] = stemvisor.ClusterEndpoint{
					Role:      stemvisor.ClusterRole(cb.Role),
					Host:      cb.Host,
					Port:      cb.Port,
					Interface: deref(cb.Interface),
				}
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("node %q: %w", nb.Name, err)
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Render produces HCL source for the given configs, the inverse of Parse.
func Render(cfgs []stemvisor.NodeConfig) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()
	for i, cfg := range cfgs {
		if i > 0 {
			root.AppendNewline()
		}
		block := root.AppendNewBlock("node", []string{cfg.Name})
		b := block.Body()
		if cfg.Interface != "" {
			b.SetAttributeValue("interface", cty.StringVal(cfg.Interface))
		}
		if cfg.Directory != "" {
			b.SetAttributeValue("directory", cty.StringVal(cfg.Directory))
		}
		if cfg.StdoutFile != "" {
			b.SetAttributeValue("stdout_file", cty.StringVal(cfg.StdoutFile))
		}
		if cfg.StderrFile != "" {
			b.SetAttributeValue("stderr_file", cty.StringVal(cfg.StderrFile))
		}
		if cfg.CPUAffinity != nil {
			b.SetAttributeValue("cpu_affinity",
				cty.NumberIntVal(int64(*cfg.CPUAffinity)))
		}
		if len(cfg.Scripts) > 0 {
			vals := make([]cty.Value, 0, len(cfg.Scripts))
			for _, s := range cfg.Scripts {
				vals = append(vals, cty.StringVal(s))
			}
			b.SetAttributeValue("scripts", cty.ListVal(vals))
		}
		peers := make([]string, 0, len(cfg.Cluster))
		for peer := range cfg.Cluster {
			peers = append(peers, peer)
		}
		sort.Strings(peers)
		for _, peer := range peers {
			ep := cfg.Cluster[peer]
			cb := b.AppendNewBlock("cluster", []string{peer}).Body()
			cb.SetAttributeValue("role", cty.StringVal(string(ep.Role)))
			cb.SetAttributeValue("host", cty.StringVal(ep.Host))
			cb.SetAttributeValue("port", cty.NumberIntVal(int64(ep.Port)))
			if ep.Interface != "" {
				cb.SetAttributeValue("interface", cty.StringVal(ep.Interface))
			}
		}
	}
	return f.Bytes()
}

// LoadDir reads every .hcl and .json node definition under dir, name
// order.  Matches how the daemon boots its initial node set.
func LoadDir(dir string) ([]stemvisor.NodeConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var cfgs []stemvisor.NodeConfig
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		switch strings.ToLower(filepath.Ext(ent.Name())) {
		case ".hcl":
			parsed, err := Parse(path)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			cfgs = append(cfgs, parsed...)
		case ".json":
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			cfg, err := stemvisor.ParseConfigJSON(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			cfgs = append(cfgs, cfg)
		}
	}
	return cfgs, nil
}
