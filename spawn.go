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
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Supervised processes are always fresh execs of the configured executable.
// Role and node handoff travel in the environment; the Stem additionally
// inherits its channel ends as descriptors 3 and 4.
const (
	// envStem carries the supervisor's pid.  The pid, not just a flag:
	// the stem seeds its parent-liveness monitor from it, so a
	// supervisor that dies before the stem finishes starting up is
	// still noticed.
	envStem    = "STEMVISOR_STEM"
	envNode    = "STEMVISOR_NODE"
	envBaseDir = "STEMVISOR_DIR"

	stemReadFD  = 3 // stem's read side of the supervisor->stem pipe
	stemWriteFD = 4 // stem's write side of the stem->supervisor pipe
)

// spawnStem execs a fresh Stem from exe and returns the started command
// plus the supervisor-side channel.  The child-side pipe ends are closed
// in this process once the child holds them, so the channel sees end of
// stream exactly when the Stem exits.
func spawnStem(exe, baseDir string) (*exec.Cmd, *Channel, error) {
	downR, downW, err := os.Pipe() // supervisor -> stem
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	upR, upW, err := os.Pipe() // stem -> supervisor
	if err != nil {
		downR.Close()
		downW.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	cmd := exec.Command(exe)
	cmd.Env = append(cleanEnv(os.Environ()),
		envStem+"="+strconv.Itoa(os.Getpid()),
		envBaseDir+"="+baseDir)
	cmd.ExtraFiles = []*os.File{downR, upW} // fds 3 and 4 in the child
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		downR.Close()
		downW.Close()
		upR.Close()
		upW.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	downR.Close()
	upW.Close()
	return cmd, NewChannel(upR, downW), nil
}

// stemChannel reconstructs the Stem's end of the transport from the
// descriptors inherited across exec.  They come in with close-on-exec
// stripped, and must not stay that way: a worker inheriting them would
// hold the supervisor's read side open after this process dies, hiding
// the end of stream that announces stem death.
func stemChannel() *Channel {
	r := os.NewFile(stemReadFD, "stem-rx")
	w := os.NewFile(stemWriteFD, "stem-tx")
	setCloseOnExec(r)
	setCloseOnExec(w)
	return NewChannel(r, w)
}

// IsStem reports whether this process was exec'd to run as the Stem.
func IsStem() bool {
	return os.Getenv(envStem) != ""
}

// stemParentPID is the supervisor pid recorded in the stem's role marker,
// or 0 when not running as a stem.
func stemParentPID() int {
	pid, _ := strconv.Atoi(os.Getenv(envStem))
	return pid
}

// spawnWorker builds and starts a worker process for the node.  Redirection
// and working directory come from the config; the node handoff ships in the
// environment for the worker entry to decode.
func spawnWorker(exe string, cfg NodeConfig, baseDir string) (*exec.Cmd, error) {
	handoff, err := json.Marshal(SupervisedNode{Config: cfg, ParentPID: os.Getpid()})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	cmd := exec.Command(exe)
	cmd.Env = append(cleanEnv(os.Environ()), envNode+"="+string(handoff))
	cmd.Dir = cfg.Directory

	if p := cfg.stdoutPath(baseDir); p != "" {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: stdout redirect: %v", ErrSpawnFailed, err)
		}
		cmd.Stdout = f
	} else {
		cmd.Stdout = os.Stdout
	}
	if p := cfg.stderrPath(baseDir); p != "" {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			closeRedirects(cmd)
			return nil, fmt.Errorf("%w: stderr redirect: %v", ErrSpawnFailed, err)
		}
		cmd.Stderr = f
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		closeRedirects(cmd)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	// The child holds the redirect files now.
	closeRedirects(cmd)
	return cmd, nil
}

func closeRedirects(cmd *exec.Cmd) {
	if f, ok := cmd.Stdout.(*os.File); ok && f != os.Stdout {
		f.Close()
	}
	if f, ok := cmd.Stderr.(*os.File); ok && f != os.Stderr {
		f.Close()
	}
}

// cleanEnv strips the role markers so children never inherit a stale one.
func cleanEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, envStem+"=") ||
			strings.HasPrefix(kv, envNode+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
