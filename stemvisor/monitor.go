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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/stemvisor/stemvisor"
	"github.com/stemvisor/stemvisor/rest"
)

const monitorPoll = time.Second

// monitor is a full-screen status panel.  It polls the daemon once a
// second and lets the operator restart or destroy the selected node.
func monitor(c *rest.Client) error {
	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	m := &monitorApp{c: c, screen: s}
	return m.run()
}

type monitorApp struct {
	c      *rest.Client
	screen tcell.Screen
	nodes  []stemvisor.NodeStatus
	info   *rest.SupervisorInfo
	sel    int
	status string
	err    error
}

func (m *monitorApp) run() error {
	events := make(chan tcell.Event, 8)
	quit := make(chan struct{})
	go m.screen.ChannelEvents(events, quit)

	ticker := time.NewTicker(monitorPoll)
	defer ticker.Stop()

	m.refresh()
	for {
		m.draw()
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if m.handleKey(ev) {
					close(quit)
					return nil
				}
			case *tcell.EventResize:
				m.screen.Sync()
			}
		case <-ticker.C:
			m.refresh()
		}
	}
}

func (m *monitorApp) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyUp:
		if m.sel > 0 {
			m.sel--
		}
	case tcell.KeyDown:
		if m.sel < len(m.nodes)-1 {
			m.sel++
		}
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q', 'Q':
			return true
		case 'r', 'R':
			m.act("restart", m.c.Restart)
		case 'd', 'D':
			m.act("destroy", m.c.Destroy)
		}
	}
	return false
}

func (m *monitorApp) act(verb string, f func(context.Context, string) error) {
	if m.sel >= len(m.nodes) {
		return
	}
	name := m.nodes[m.sel].Name()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f(ctx, name); err != nil {
		m.status = fmt.Sprintf("%s %s: %v", verb, name, err)
		return
	}
	m.status = fmt.Sprintf("%s %s: ok", verb, name)
	m.refresh()
}

func (m *monitorApp) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), monitorPoll)
	defer cancel()
	m.info, m.err = m.c.Info(ctx)
	if m.err != nil {
		return
	}
	m.nodes, m.err = m.c.Nodes(ctx)
	if m.sel >= len(m.nodes) {
		m.sel = len(m.nodes) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func (m *monitorApp) puts(x, y int, style tcell.Style, text string) {
	w, _ := m.screen.Size()
	for _, r := range text {
		if x >= w {
			break
		}
		m.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

func (m *monitorApp) draw() {
	m.screen.Clear()
	w, h := m.screen.Size()

	title := tcell.StyleDefault.Reverse(true)
	normal := tcell.StyleDefault
	selected := tcell.StyleDefault.Bold(true).Reverse(true)
	bad := tcell.StyleDefault.Foreground(tcell.ColorRed)

	head := "stemvisor"
	if m.info != nil {
		head = fmt.Sprintf("%s  stem pid %d  %d nodes",
			m.info.Name, m.info.StemPID, m.info.Nodes)
	}
	for x := 0; x < w; x++ {
		m.screen.SetContent(x, 0, ' ', nil, title)
	}
	m.puts(1, 0, title, head)

	if m.err != nil {
		m.puts(1, 2, bad, fmt.Sprintf("connection: %v", m.err))
	} else {
		m.puts(1, 1, normal.Bold(true), fmt.Sprintf(
			"%-16s %-9s %7s %10s %8s",
			"NAME", "STATE", "PID", "UPTIME", "REVIVALS"))
		for i := range m.nodes {
			if i+2 >= h-1 {
				break
			}
			n := &m.nodes[i]
			up := "-"
			if n.PID > 0 {
				d := time.Since(n.SpawnTime)
				d -= d % time.Second
				up = d.String()
			}
			st := normal
			if i == m.sel {
				st = selected
			}
			m.puts(1, i+2, st, fmt.Sprintf(
				"%-16s %-9s %7d %10s %8d",
				n.Name(), nodeState(n), n.PID, up,
				n.RevivalAttempts))
		}
	}

	bar := " q:quit  r:restart  d:destroy  arrows:select"
	if m.status != "" {
		bar = " " + m.status
	}
	for x := 0; x < w; x++ {
		m.screen.SetContent(x, h-1, ' ', nil, title)
	}
	m.puts(0, h-1, title, bar)
	m.screen.Show()
}
