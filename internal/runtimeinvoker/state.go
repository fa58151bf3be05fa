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

// Package runtimeinvoker drives the OCI runtime binary (runc or a
// compatible alternative) through github.com/containerd/go-runc, and
// tracks each container/exec's lifecycle state.
package runtimeinvoker

import (
	"fmt"
	"sync"
)

// State is a container's position in its lifecycle. Transitions only move
// forward, except into Failed which is reachable from any state.
type State int

const (
	StateNew State = iota
	StateCreated
	StateRunning
	StateExited
	StateReaped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateReaped:
		return "reaped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var forward = map[State][]State{
	StateNew:     {StateCreated, StateFailed},
	StateCreated: {StateRunning, StateFailed},
	StateRunning: {StateExited, StateFailed},
	StateExited:  {StateReaped, StateFailed},
	StateReaped:  {},
	StateFailed:  {},
}

// stateMachine guards one container's state under a mutex so C8's request
// handlers and C5's reaper never race on the same transition.
type stateMachine struct {
	mu    sync.Mutex
	state State
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateNew}
}

func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to next, rejecting any move not present in forward's
// adjacency list.
func (m *stateMachine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next == StateFailed {
		m.state = StateFailed
		return nil
	}
	for _, allowed := range forward[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("runtimeinvoker: illegal transition %s -> %s", m.state, next)
}
