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
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Config tunes a Supervisor.
type Config struct {
	// Name distinguishes this supervisor instance in logs.
	Name string

	// ExePath is the on-disk executable the Stem (and, transitively,
	// every worker) is exec'd from.  Defaults to the running
	// executable.  A dead Stem is always revived from this path,
	// never from the current process image: the running image may
	// have drifted since the original Stem started.
	ExePath string

	// BaseDir anchors default worker log redirection.  Defaults to
	// $STEMVISOR_DIR, then a platform-appropriate home.
	BaseDir string
}

// stemHandle is one Stem incarnation.  wait is idempotent so the watcher
// goroutine and an in-flight round trip can both collect the exit status
// without racing cmd.Wait.
type stemHandle struct {
	cmd      *exec.Cmd
	ch       *Channel
	pid      int
	waitOnce sync.Once
	waitErr  error
}

func (h *stemHandle) wait() error {
	h.waitOnce.Do(func() { h.waitErr = h.cmd.Wait() })
	return h.waitErr
}

// Supervisor is the top-level controller of the supervised tree.  It owns
// the Stem's lifecycle and the transport to it, and translates external
// Create/Destroy/Restart/Status calls 1:1 into channel messages with a
// single-outstanding-request discipline.  It never manipulates worker
// processes directly.
type Supervisor struct {
	cfg     Config
	mx      sync.Mutex
	stem    *stemHandle
	desired map[string]NodeConfig
	cache   map[string]NodeStatus
	ring    *RingLog
	mlog    *MultiLogger
	logger  *log.Logger
	closed  bool
}

// New starts a Supervisor and its first Stem.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Name == "" {
		cfg.Name = "stemvisor"
	}
	if cfg.ExePath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		cfg.ExePath = exe
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = defaultBaseDir()
	}
	s := &Supervisor{
		cfg:     cfg,
		desired: make(map[string]NodeConfig),
		cache:   make(map[string]NodeStatus),
		ring:    NewRingLog(),
		mlog:    NewMultiLogger(),
	}
	s.mlog.AddLogger(log.New(s.ring, "", 0))
	s.mlog.AddLogger(log.New(os.Stderr, "["+cfg.Name+"] ", log.LstdFlags))
	s.logger = s.mlog.Logger()

	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.startStemLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func defaultBaseDir() string {
	dir := os.Getenv(envBaseDir)
	if dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "windows":
		if dir = os.Getenv("HOME"); dir == "" {
			dir = "C:\\"
		}
	default:
		if os.Geteuid() == 0 {
			dir = "/var"
		} else {
			dir = os.Getenv("HOME")
		}
	}
	if dir == "" {
		dir = "."
	}
	return dir
}

// StemPID returns the process id of the current Stem.
func (s *Supervisor) StemPID() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.stem == nil {
		return 0
	}
	return s.stem.pid
}

// Create asks the Stem to add and spawn a new node.  Duplicate names fail
// with ErrAlreadyExists and leave existing state untouched.
func (s *Supervisor) Create(cfg NodeConfig) error {
	// Reject malformed configs locally; no point in a round trip.
	if err := cfg.Validate(); err != nil {
		return err
	}
	m := newRequest(MsgCreate)
	m.Config = &cfg
	reply, err := s.roundTrip(m)
	if err != nil {
		return err
	}
	if err := replyErr(reply); err != nil {
		return err
	}
	s.mx.Lock()
	s.desired[cfg.Name] = cfg
	s.mx.Unlock()
	return nil
}

// Destroy stops and removes a node; an empty name means all nodes.
// Destroy is the only path that removes a node.
func (s *Supervisor) Destroy(name string) error {
	m := newRequest(MsgDestroy)
	m.Name = name
	reply, err := s.roundTrip(m)
	if err != nil {
		return err
	}
	if err := replyErr(reply); err != nil {
		return err
	}
	s.mx.Lock()
	if name == "" {
		s.desired = make(map[string]NodeConfig)
		s.cache = make(map[string]NodeStatus)
	} else {
		delete(s.desired, name)
		delete(s.cache, name)
	}
	s.mx.Unlock()
	return nil
}

// Restart destroys and re-creates a node from its stored configuration;
// an empty name means all nodes.
func (s *Supervisor) Restart(name string) error {
	m := newRequest(MsgRestart)
	m.Name = name
	reply, err := s.roundTrip(m)
	if err != nil {
		return err
	}
	return replyErr(reply)
}

// Status returns snapshots of matching nodes; an empty name means all.
// An unknown name yields an empty slice, not an error.
func (s *Supervisor) Status(name string) ([]NodeStatus, error) {
	m := newRequest(MsgStatus)
	m.Name = name
	reply, err := s.roundTrip(m)
	if err != nil {
		return nil, err
	}
	if err := replyErr(reply); err != nil {
		return nil, err
	}
	s.mx.Lock()
	if name == "" {
		s.cache = make(map[string]NodeStatus, len(reply.Nodes))
	} else if len(reply.Nodes) == 0 {
		// The stem no longer knows the name; drop any stale cache entry.
		delete(s.cache, name)
	}
	for _, ns := range reply.Nodes {
		s.cache[ns.Name()] = ns
	}
	s.mx.Unlock()
	return reply.Nodes, nil
}

// Nodes returns the supervisor's cached view from the last status reply,
// without a round trip.
func (s *Supervisor) Nodes() []NodeStatus {
	s.mx.Lock()
	defer s.mx.Unlock()
	nodes := make([]NodeStatus, 0, len(s.cache))
	for _, ns := range s.cache {
		nodes = append(nodes, ns)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Name() < nodes[j].Name()
	})
	return nodes
}

// GetLog returns retained supervisor log records newer than last.
func (s *Supervisor) GetLog(last int64) ([]LogRecord, int64) {
	return s.ring.GetRecords(last)
}

// Shutdown tears the whole tree down: destroys every node, closes the
// channel so the Stem exits on its own, and reaps it.  The Supervisor is
// unusable afterwards.
func (s *Supervisor) Shutdown() {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	h := s.stem
	s.stem = nil
	if h == nil {
		return
	}
	m := newRequest(MsgDestroy)
	if err := h.ch.Send(m); err == nil {
		_, _ = h.ch.Receive()
	}
	h.ch.Close()
	if !s.awaitStem(h, stopTimeout) {
		s.logger.Printf("Stem pid %d ignored channel close, killing", h.pid)
		_ = h.cmd.Process.Kill()
		s.awaitStem(h, stopTimeout)
	}
	s.logger.Printf("*** Supervisor shut down: %s ***", s.cfg.Name)
}

// awaitStem waits for the handle's process to exit, bounded by timeout.
func (s *Supervisor) awaitStem(h *stemHandle, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// roundTrip sends one request and blocks for its reply.  There is never
// more than one request in flight.  A channel failure mid-request means
// the Stem died: the stem-death path runs before the caller gets its
// error, so the tree is already being rebuilt when ErrChannelClosed
// surfaces.
func (s *Supervisor) roundTrip(m Message) (Message, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return Message{}, ErrShutdown
	}
	h := s.stem
	if h == nil {
		return Message{}, ErrChannelClosed
	}
	if err := h.ch.Send(m); err != nil {
		s.reapStemLocked(h)
		return Message{}, fmt.Errorf("%w: stem was rebuilt", ErrChannelClosed)
	}
	for {
		reply, err := h.ch.Receive()
		if err != nil {
			s.reapStemLocked(h)
			return Message{}, fmt.Errorf("%w: stem was rebuilt", ErrChannelClosed)
		}
		if reply.ID != m.ID {
			s.logger.Printf("Dropping reply with unexpected id %q", reply.ID)
			continue
		}
		return reply, nil
	}
}

// replyErr converts an error reply into the equivalent Go error.
func replyErr(reply Message) error {
	if reply.Type != MsgError {
		return nil
	}
	return &opError{code: reply.Code, msg: reply.Error}
}

// startStemLocked execs a fresh Stem and begins watching it.  Call with
// the lock held.
func (s *Supervisor) startStemLocked() error {
	cmd, ch, err := spawnStem(s.cfg.ExePath, s.cfg.BaseDir)
	if err != nil {
		return err
	}
	h := &stemHandle{cmd: cmd, ch: ch, pid: cmd.Process.Pid}
	s.stem = h
	s.logger.Printf("Started stem pid %d", h.pid)

	// The watcher is how an idle Supervisor notices a dead Stem; a
	// Supervisor blocked in a round trip notices via end of stream
	// first, and the two paths converge in reapStemLocked.
	go func() {
		h.wait()
		s.mx.Lock()
		defer s.mx.Unlock()
		if !s.closed && s.stem == h {
			s.reapStemLocked(h)
		}
	}()
	return nil
}

// reapStemLocked collects a dead Stem's exit status, execs a replacement
// from the on-disk executable, and replays every desired configuration at
// it.  A freshly exec'd Stem knows nothing; whatever worker processes the
// old Stem left behind are not reattached; they self-terminate via their
// parent-liveness monitors and the replay spawns replacements.
//
// Idempotent per incarnation: whichever of the watcher or an in-flight
// round trip gets here first wins.
func (s *Supervisor) reapStemLocked(h *stemHandle) {
	if s.stem != h {
		return
	}
	werr := h.wait()
	h.ch.Close()
	s.stem = nil
	if werr != nil {
		s.logger.Printf("Stem pid %d died: %v", h.pid, werr)
	} else {
		s.logger.Printf("Stem pid %d exited", h.pid)
	}
	if s.closed {
		return
	}
	if err := s.startStemLocked(); err != nil {
		s.logger.Printf("Failed to revive stem: %v", err)
		return
	}
	s.replayLocked()
}

// replayLocked re-creates every desired node against the new Stem.
func (s *Supervisor) replayLocked() {
	names := make([]string, 0, len(s.desired))
	for name := range s.desired {
		names = append(names, name)
	}
	sort.Strings(names)
	h := s.stem
	for _, name := range names {
		cfg := s.desired[name]
		m := newRequest(MsgCreate)
		m.Config = &cfg
		if err := h.ch.Send(m); err != nil {
			s.logger.Printf("Replay of %q failed: %v", name, err)
			return
		}
		reply, err := h.ch.Receive()
		if err != nil {
			s.logger.Printf("Replay of %q failed: %v", name, err)
			return
		}
		if err := replyErr(reply); err != nil {
			s.logger.Printf("Replay of %q rejected: %v", name, err)
			continue
		}
		s.logger.Printf("Replayed node %q at new stem", name)
	}
}
