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
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// stopTimeout bounds how long Destroy waits for a worker to honor SIGTERM
// before escalating to SIGKILL.
const stopTimeout = 10 * time.Second

// ErrParentLost is returned by Stem.Run when the Supervisor has died.  The
// correct reaction is self-termination; a Stem with no Supervisor must not
// linger, and its orphaned workers notice the same way.
var ErrParentLost = errors.New("Parent process lost")

// workerExit is the reaped termination of one worker, posted by its wait
// goroutine.  This is the only way process death reaches the Stem loop; no
// state is ever touched from anywhere but that loop.  The pid is the sole
// key: the owning node is looked up through the registry's pid index, so a
// stale exit from a superseded process cannot be misattributed.
type workerExit struct {
	pid    int
	status int
	signal int
}

// Stem owns the live worker set.  It runs single-threaded: one goroutine
// selects over supervisor requests, worker exits, revival deadlines and
// the parent-liveness tick, and is the sole writer of the node table.
type Stem struct {
	ch      *Channel
	exe     string
	baseDir string
	reg     *nodeRegistry
	cmds    map[string]*exec.Cmd
	exitCh  chan workerExit
	reqCh   chan Message
	parent  *ParentMonitor
	mlog    *MultiLogger
	logger  *log.Logger

	// spawn is swappable so the revival machinery can be exercised
	// against stub processes.
	spawn func(cfg NodeConfig) (*exec.Cmd, error)
}

// StemOptions tune a Stem.  The zero value is what production uses.
type StemOptions struct {
	// Exe is the executable workers are exec'd from.  Defaults to the
	// running executable, which for a real Stem is already the
	// configured binary it was itself exec'd from.
	Exe string

	// BaseDir anchors default stdout/stderr redirect files.  Defaults
	// to the directory handed down by the Supervisor.
	BaseDir string
}

// NewStem builds a Stem speaking to its Supervisor over ch.
func NewStem(ch *Channel, opts StemOptions) (*Stem, error) {
	exe := opts.Exe
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, err
		}
	}
	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = os.Getenv(envBaseDir)
	}
	reg, err := newNodeRegistry()
	if err != nil {
		return nil, err
	}
	s := &Stem{
		ch:      ch,
		exe:     exe,
		baseDir: baseDir,
		reg:     reg,
		cmds:    make(map[string]*exec.Cmd),
		exitCh:  make(chan workerExit, 16),
		reqCh:   make(chan Message),
		parent:  NewParentMonitor(stemParentPID(), parentCheckInterval),
		mlog:    NewMultiLogger(),
	}
	s.mlog.AddLogger(log.New(os.Stderr, "[stem] ", log.LstdFlags))
	s.logger = s.mlog.Logger()
	s.spawn = func(cfg NodeConfig) (*exec.Cmd, error) {
		return spawnWorker(s.exe, cfg, s.baseDir)
	}
	return s, nil
}

// RunStem is the process entry for a Stem exec.  It wires the inherited
// descriptors back into a channel and runs until the Supervisor goes away.
// The exit code distinguishes an orderly channel shutdown from orphaning.
func RunStem() int {
	st, err := NewStem(stemChannel(), StemOptions{})
	if err != nil {
		log.Printf("[stem] startup failed: %v", err)
		return 1
	}
	if err := st.Run(); err != nil {
		st.logger.Printf("Exiting: %v", err)
		return 1
	}
	return 0
}

// Run drives the Stem until the control channel closes (orderly shutdown,
// returns nil) or the parent disappears (returns ErrParentLost).  Any
// workers still alive when the Stem exits are orphaned deliberately; their
// own parent-liveness monitors clean them up.
func (s *Stem) Run() error {
	go s.readRequests()
	tick := time.NewTicker(s.parent.interval)
	defer tick.Stop()

	for {
		// Re-arm the revival timer to the earliest pending deadline.
		var reviveC <-chan time.Time
		if at, ok := s.nextRevival(); ok {
			reviveC = time.After(time.Until(at))
		}

		select {
		case m, ok := <-s.reqCh:
			if !ok {
				s.logger.Printf("Supervisor channel closed, stopping %d node(s)",
					s.reg.count())
				s.destroyAll()
				return nil
			}
			s.handleRequest(m)
		case ev := <-s.exitCh:
			s.handleExit(ev)
		case <-reviveC:
			s.reviveDue(time.Now())
		case <-tick.C:
			if s.parent.lost() {
				return ErrParentLost
			}
		}
	}
}

func (s *Stem) readRequests() {
	for {
		m, err := s.ch.Receive()
		if err != nil {
			close(s.reqCh)
			return
		}
		s.reqCh <- m
	}
}

func (s *Stem) handleRequest(m Message) {
	var reply Message
	switch m.Type {
	case MsgCreate:
		reply = s.handleCreate(m)
	case MsgDestroy:
		reply = s.handleDestroy(m)
	case MsgRestart:
		reply = s.handleRestart(m)
	case MsgStatus:
		reply = s.handleStatus(m)
	default:
		reply = errorReply(m, "", fmt.Sprintf("unknown message type %q", m.Type))
	}
	if err := s.ch.Send(reply); err != nil {
		s.logger.Printf("Failed to send reply: %v", err)
	}
}

func (s *Stem) handleCreate(m Message) Message {
	if m.Config == nil {
		return errorReply(m, codeInvalidConfig, "create carried no configuration")
	}
	cfg := *m.Config
	if err := cfg.Validate(); err != nil {
		return errorReply(m, codeInvalidConfig, err.Error())
	}
	if _, ok := s.reg.byName(cfg.Name); ok {
		return errorReply(m, codeAlreadyExists,
			fmt.Sprintf("node %q already exists", cfg.Name))
	}
	n := newNode(cfg)
	s.startNode(&n, time.Now())
	s.reg.put(n)
	return ackReply(m)
}

func (s *Stem) handleDestroy(m Message) Message {
	names, err := s.matchNames(m.Name)
	if err != nil {
		return errorReply(m, codeNotFound,
			fmt.Sprintf("no such node %q", m.Name))
	}
	for _, name := range names {
		s.destroyNode(name)
	}
	return ackReply(m)
}

func (s *Stem) handleRestart(m Message) Message {
	names, err := s.matchNames(m.Name)
	if err != nil {
		return errorReply(m, codeNotFound,
			fmt.Sprintf("no such node %q", m.Name))
	}
	for _, name := range names {
		// Destroy followed by create with the stored config; the
		// caller never resupplies it.
		cfg := s.destroyNode(name)
		n := newNode(cfg)
		s.startNode(&n, time.Now())
		s.reg.put(n)
	}
	return ackReply(m)
}

func (s *Stem) handleStatus(m Message) Message {
	var nodes []NodeStatus
	for _, n := range s.reg.all() {
		if m.Name == "" || n.Name() == m.Name {
			nodes = append(nodes, n.status())
		}
	}
	// An unmatched non-empty name yields an empty sequence, not an
	// error; callers check for absence this way after Destroy.
	return statusReply(m, nodes)
}

// matchNames expands a request target.  Empty means every node; a missing
// non-empty name is an error.
func (s *Stem) matchNames(name string) ([]string, error) {
	if name == "" {
		var names []string
		for _, n := range s.reg.all() {
			names = append(names, n.Name())
		}
		return names, nil
	}
	if _, ok := s.reg.byName(name); !ok {
		return nil, ErrNotFound
	}
	return []string{name}, nil
}

// startNode spawns the node's process and records the outcome.  A failed
// spawn is handled exactly like an unplanned death: it schedules a revival
// under backoff instead of surfacing an error, since transient resource
// exhaustion is expected to clear.
func (s *Stem) startNode(n *Node, now time.Time) {
	// SpawnTime marks the attempt, not just successes: a failed spawn
	// then has no measurable uptime and cannot trip the stability reset.
	n.SpawnTime = now
	cmd, err := s.spawn(n.Config)
	if err != nil {
		delay := n.scheduleRevival(now)
		s.logger.Printf("Spawn of %q failed (attempt %d, retry in %s): %v",
			n.Name(), n.RevivalAttempts, delay, err)
		return
	}
	n.PID = cmd.Process.Pid
	n.reviveAt = time.Time{}
	s.cmds[n.Name()] = cmd
	s.logger.Printf("Spawned node %q pid %d", n.Name(), n.PID)
	go s.waitWorker(cmd)
}

// waitWorker reaps one worker and posts its exit to the loop.
func (s *Stem) waitWorker(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	err := cmd.Wait()
	ev := workerExit{pid: pid}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				ev.signal = int(ws.Signal())
			} else {
				ev.status = ws.ExitStatus()
			}
		}
	}
	s.exitCh <- ev
}

// handleExit applies a reaped termination to its node, found through the
// pid index.  Kills the Stem asked for stay stopped; anything else enters
// the revival path.
func (s *Stem) handleExit(ev workerExit) {
	n, ok := s.reg.byPID(ev.pid)
	if !ok {
		// Node destroyed, or a stale exit from a superseded process.
		return
	}
	delete(s.cmds, n.Name())
	n.recordExit(ev.status, ev.signal)
	if n.Killed {
		s.reg.put(n)
		return
	}
	delay := n.scheduleRevival(time.Now())
	s.reg.put(n)
	s.logger.Printf("Node %q pid %d died (status %d, signal %d); revival %d in %s",
		n.Name(), ev.pid, ev.status, ev.signal, n.RevivalAttempts, delay)
}

// destroyNode stops the node's process if live and removes the entry.  The
// stored config is returned for restart's benefit.
func (s *Stem) destroyNode(name string) NodeConfig {
	n, ok := s.reg.byName(name)
	if !ok {
		return NodeConfig{}
	}
	n.Killed = true
	s.reg.put(n)
	if n.PID > 0 {
		s.stopProcess(name, n.PID)
	}
	s.reg.remove(name)
	delete(s.cmds, name)
	s.logger.Printf("Destroyed node %q", name)
	return n.Config
}

func (s *Stem) destroyAll() {
	for _, n := range s.reg.all() {
		s.destroyNode(n.Name())
	}
}

// stopProcess terminates pid, first politely, then not.
func (s *Stem) stopProcess(name string, pid int) {
	cmd := s.cmds[name]
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Printf("Failed sending SIGTERM to %q pid %d: %v", name, pid, err)
	}
	if s.awaitExit(pid, stopTimeout) {
		return
	}
	s.logger.Printf("Node %q pid %d ignored SIGTERM, killing", name, pid)
	if err := cmd.Process.Kill(); err != nil {
		s.logger.Printf("Failed killing %q pid %d: %v", name, pid, err)
	}
	s.awaitExit(pid, stopTimeout)
}

// awaitExit consumes exit events until pid's arrives or the timeout fires.
// Other nodes' exits observed along the way are processed normally rather
// than dropped.
func (s *Stem) awaitExit(pid int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.exitCh:
			if ev.pid == pid {
				return true
			}
			s.handleExit(ev)
		case <-deadline:
			return false
		}
	}
}

// nextRevival finds the earliest pending revival deadline, if any.
func (s *Stem) nextRevival() (time.Time, bool) {
	var at time.Time
	for _, n := range s.reg.all() {
		if n.PID != 0 || n.Killed || n.reviveAt.IsZero() {
			continue
		}
		if at.IsZero() || n.reviveAt.Before(at) {
			at = n.reviveAt
		}
	}
	return at, !at.IsZero()
}

// reviveDue re-spawns every node whose revival deadline has passed.
func (s *Stem) reviveDue(now time.Time) {
	for _, n := range s.reg.all() {
		if n.PID != 0 || n.Killed || n.reviveAt.IsZero() || n.reviveAt.After(now) {
			continue
		}
		s.logger.Printf("Reviving node %q (attempt %d)", n.Name(), n.RevivalAttempts)
		s.startNode(&n, now)
		s.reg.put(n)
	}
}
