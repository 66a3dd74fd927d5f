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

// Command stemvisor is the client for stemvisord.  Without a subcommand
// it starts the interactive monitor.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stemvisor/stemvisor"
	"github.com/stemvisor/stemvisor/nodefile"
	"github.com/stemvisor/stemvisor/rest"
)

var (
	addr string
	auth string
)

func newClient() *rest.Client {
	c := rest.NewClient(nil, addr)
	if auth != "" {
		user, pass, found := strings.Cut(auth, ":")
		if !found {
			fmt.Fprintln(os.Stderr, "Bad user:pass supplied")
			os.Exit(1)
		}
		c.SetAuth(user, pass)
	}
	return c
}

func nodeState(n *stemvisor.NodeStatus) string {
	switch {
	case n.PID > 0:
		return "running"
	case n.Killed:
		return "stopped"
	case n.RevivalAttempts > 0:
		return "reviving"
	default:
		return "pending"
	}
}

func showNodes(nodes []stemvisor.NodeStatus) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPID\tUPTIME\tREVIVALS")
	for i := range nodes {
		n := &nodes[i]
		up := "-"
		if n.PID > 0 {
			d := time.Since(n.SpawnTime)
			d -= d % time.Second
			up = d.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n", n.Name(),
			nodeState(n), n.PID, up, n.RevivalAttempts)
	}
	tw.Flush()
}

func fatal(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:          "stemvisor",
	Short:        "stemvisord client",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return monitor(newClient())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "show node status",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		var nodes []stemvisor.NodeStatus
		var err error
		if name == "" {
			nodes, err = newClient().Nodes(context.Background())
		} else {
			var n *stemvisor.NodeStatus
			n, err = newClient().Node(context.Background(), name)
			if n != nil {
				nodes = []stemvisor.NodeStatus{*n}
			}
		}
		if err != nil {
			fatal("Failed: %v", err)
		}
		showNodes(nodes)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <file.hcl|file.json> ...",
	Short: "create nodes from definition files",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient()
		for _, path := range args {
			cfgs, err := nodefile.Parse(path)
			if err != nil {
				fatal("Failed to load %s: %v", path, err)
			}
			for _, cfg := range cfgs {
				if err := c.Create(context.Background(), cfg); err != nil {
					fatal("Failed to create %s: %v", cfg.Name, err)
				}
			}
		}
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy [name]",
	Short: "destroy a node, or all nodes",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		if len(args) == 0 {
			err = newClient().DestroyAll(context.Background())
		} else {
			err = newClient().Destroy(context.Background(), args[0])
		}
		if err != nil {
			fatal("Failed: %v", err)
		}
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart [name]",
	Short: "restart a node, or all nodes",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		if err := newClient().Restart(context.Background(), name); err != nil {
			fatal("Failed: %v", err)
		}
	},
}

var logCmd = &cobra.Command{
	Use:   "log [last]",
	Short: "show retained supervisor log",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		last := int64(0)
		if len(args) == 1 {
			v, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fatal("Bad cursor: %v", err)
			}
			last = v
		}
		page, err := newClient().Log(context.Background(), last)
		if err != nil {
			fatal("Failed: %v", err)
		}
		for _, rec := range page.Records {
			fmt.Printf("%s %s\n",
				rec.Time.Format(time.Stamp), rec.Text)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a",
		"http://127.0.0.1:8321", "stemvisord address")
	rootCmd.PersistentFlags().StringVarP(&auth, "user", "u", "",
		"user:pass authentication")
	rootCmd.AddCommand(statusCmd, createCmd, destroyCmd, restartCmd,
		logCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
