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

package reaper

import (
	"sync/atomic"
	"time"

	"github.com/containers/conmonrs/internal/child"
)

// ExecTimeout arms a timer that SIGKILLs an exec child on expiry rather
// than escalating through SIGTERM first, per historical conmon behaviour
// (spec §5). Cancel must be called once the exec finishes normally to
// avoid a spurious late kill.
type ExecTimeout struct {
	timer   *time.Timer
	timedOut atomic.Bool
}

// Arm starts the timer. timeout <= 0 means no timeout is armed.
func Arm(c *child.Child, timeout time.Duration) *ExecTimeout {
	if timeout <= 0 {
		return &ExecTimeout{}
	}
	t := &ExecTimeout{}
	t.timer = time.AfterFunc(timeout, func() {
		t.timedOut.Store(true)
		_ = c.Signal(9) // SIGKILL
	})
	return t
}

// Cancel disarms the timer. Safe to call on a nil-timer (unarmed) instance.
func (t *ExecTimeout) Cancel() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Fired reports whether the timeout actually killed the child.
func (t *ExecTimeout) Fired() bool {
	return t.timedOut.Load()
}
