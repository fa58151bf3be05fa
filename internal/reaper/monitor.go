/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package reaper turns SIGCHLD into exit notifications for whichever
// component is waiting on a given PID, and drives the exit-file and
// cleanup-command side effects once a container or exec process dies.
package reaper

import (
	"os"
	"os/signal"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Monitor is a subscriber map keyed by PID: on every SIGCHLD it drains all
// reapable children with a non-blocking wait and delivers each to its
// subscriber, if any. A child that exits before anyone subscribes is
// reaped and its status held until Subscribe is called.
type Monitor struct {
	sigCh chan os.Signal

	mu          sync.Mutex
	waiting     map[int]chan unix.WaitStatus
	early       map[int]unix.WaitStatus
	stopCh      chan struct{}
}

// NewMonitor marks this process a child subreaper (so container and exec
// processes started via `runc create --detach`/`runc exec --detach`, which
// exit their immediate runc parent right away, reparent here instead of to
// PID 1), installs the SIGCHLD handler, and starts the reap loop.
func NewMonitor() *Monitor {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		logrus.WithError(err).Warn("failed to set child subreaper, detached exec processes may not be reaped")
	}

	m := &Monitor{
		sigCh:   make(chan os.Signal, 32),
		waiting: make(map[int]chan unix.WaitStatus),
		early:   make(map[int]unix.WaitStatus),
		stopCh:  make(chan struct{}),
	}
	signal.Notify(m.sigCh, unix.SIGCHLD)
	go m.run()
	return m
}

func (m *Monitor) run() {
	for {
		select {
		case <-m.sigCh:
			m.reapAvailable()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) reapAvailable() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		m.mu.Lock()
		ch, ok := m.waiting[pid]
		if ok {
			delete(m.waiting, pid)
		} else {
			m.early[pid] = ws
		}
		m.mu.Unlock()
		if ok {
			ch <- ws
			close(ch)
		}
	}
}

// Subscribe returns a channel that receives pid's wait status exactly
// once. If pid was already reaped before Subscribe was called, the stored
// status is delivered immediately on a pre-closed channel.
func (m *Monitor) Subscribe(pid int) <-chan unix.WaitStatus {
	ch := make(chan unix.WaitStatus, 1)

	m.mu.Lock()
	if ws, ok := m.early[pid]; ok {
		delete(m.early, pid)
		m.mu.Unlock()
		ch <- ws
		close(ch)
		return ch
	}
	m.waiting[pid] = ch
	m.mu.Unlock()
	return ch
}

// Stop halts the reap loop. It does not un-notify SIGCHLD.
func (m *Monitor) Stop() {
	close(m.stopCh)
}
