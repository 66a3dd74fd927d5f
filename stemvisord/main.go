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

// Command stemvisord runs the top-level supervisor and serves its REST
// API.  The same binary hosts the stem and worker roles: when it finds
// the role markers in its environment it runs those instead, so the
// supervisor can re-execute itself to rebuild a dead stem.
package main

import (
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"

	"github.com/stemvisor/stemvisor"
	"github.com/stemvisor/stemvisor/nodefile"
	"github.com/stemvisor/stemvisor/rest"
)

var (
	addr     string
	dir      string
	name     string
	baseDir  string
	auth     string
	maxConns int
)

var rootCmd = &cobra.Command{
	Use:          "stemvisord",
	Short:        "process supervision daemon",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:8321",
		"listen address")
	rootCmd.Flags().StringVarP(&dir, "dir", "d", "",
		"node definition directory")
	rootCmd.Flags().StringVarP(&name, "name", "n", "stemvisord",
		"supervisor name")
	rootCmd.Flags().StringVar(&baseDir, "base", "",
		"base directory for node output")
	rootCmd.Flags().StringVar(&auth, "auth", "",
		"require HTTP basic auth (user:bcrypt-hash)")
	rootCmd.Flags().IntVar(&maxConns, "max-conns", 64,
		"maximum concurrent API connections")
}

// workerMain is the payload run by supervised leaf processes.  The
// daemon itself has no real workload, so workers just idle until their
// parent tells them to stop or disappears.
func workerMain(n *stemvisor.SupervisedNode) int {
	log.Printf("node %s running (pid %d)", n.Config.Name, os.Getpid())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	return 0
}

func run() error {
	cfg := stemvisor.Config{Name: name, BaseDir: baseDir}
	s, err := stemvisor.New(cfg)
	if err != nil {
		return err
	}

	if dir != "" {
		configs, err := nodefile.LoadDir(dir)
		if err != nil {
			return err
		}
		for _, nc := range configs {
			if err := s.Create(nc); err != nil {
				log.Printf("Failed to create node %s: %v",
					nc.Name, err)
			}
		}
	}

	h := http.Handler(rest.NewHandler(name, s))
	if auth != "" {
		user, hash, found := strings.Cut(auth, ":")
		if !found {
			log.Fatalf("Bad auth spec, want user:bcrypt-hash")
		}
		h = basicAuth(user, []byte(hash), h)
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		log.Fatal(http.Serve(l, h))
	}()

	// Wait for a termination signal, and shutdown cleanly if we get it.
	<-sigs
	s.Shutdown()
	return nil
}

func basicAuth(user string, hash []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user ||
			bcrypt.CompareHashAndPassword(hash, []byte(p)) != nil {
			w.Header().Set("WWW-Authenticate",
				`Basic realm="stemvisord"`)
			http.Error(w, "Unauthorized",
				http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	// Role dispatch happens before any flag parsing; stems and
	// workers are exec'd with markers in their environment and must
	// never interpret supervisor arguments.
	if stemvisor.IsStem() {
		os.Exit(stemvisor.RunStem())
	}
	if n, err := stemvisor.SupervisedEnv(); err != nil {
		log.Fatalf("Bad worker handoff: %v", err)
	} else if n != nil {
		os.Exit(stemvisor.RunSupervised(n, workerMain))
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
