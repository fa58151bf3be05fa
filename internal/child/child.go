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

// Package child wraps one spawned OS process: its true PID, its stdio
// (exactly a PTY console master, or a pair of stdout/stderr pipes, never
// both), and an exit slot that transitions absent to present exactly once.
package child

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/containerd/console"
	"golang.org/x/sys/unix"
)

// Status is the terminal state of a Child once its exit slot is filled.
type Status struct {
	Code   int  // 0-255 on normal exit, 128+signal on signalled exit
	Signal bool // true if the low byte above is a signal number
	OOM    bool
}

// Stdio describes the FDs a Child adopts. Exactly one of Console or the
// Stdout/Stderr pipe pair is set, per spec's PTY-xor-pipes invariant.
type Stdio struct {
	Terminal bool
	Console  console.Console
	Stdout   io.ReadCloser
	Stderr   io.ReadCloser
	Stdin    io.WriteCloser // nil if stdin was not requested
}

// Child is a spawned runtime or exec child. The zero value is not usable;
// construct with New.
type Child struct {
	ID string

	mu    sync.Mutex
	pid   int
	stdio Stdio

	exit   *Status
	waitCh chan struct{}
}

// New returns a Child with no adopted process yet.
func New(id string) *Child {
	return &Child{
		ID:     id,
		waitCh: make(chan struct{}),
	}
}

// Adopt records the child's PID and takes ownership of its stdio FDs. It
// may be called only once.
func (c *Child) Adopt(pid int, stdio Stdio) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pid != 0 {
		return fmt.Errorf("child: %s already adopted pid %d", c.ID, c.pid)
	}
	if stdio.Terminal == (stdio.Stdout != nil || stdio.Stderr != nil) {
		return fmt.Errorf("child: %s stdio must be exactly console xor pipes", c.ID)
	}
	c.pid = pid
	c.stdio = stdio
	return nil
}

// PID returns the adopted process id, or 0 if none has been adopted yet.
func (c *Child) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// Stdio returns the adopted stdio handles.
func (c *Child) Stdio() Stdio {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdio
}

// Signal delivers sig to the adopted process.
func (c *Child) Signal(sig unix.Signal) error {
	pid := c.PID()
	if pid <= 0 {
		return fmt.Errorf("child: %s has no adopted pid", c.ID)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("child: signal %d -> pid %d: %w", sig, pid, err)
	}
	return nil
}

// SetExit fills the exit slot exactly once. Subsequent calls are no-ops and
// report false, preserving the "immutable once present" invariant.
func (c *Child) SetExit(status Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exit != nil {
		return false
	}
	c.exit = &status
	close(c.waitCh)
	return true
}

// MarkOOM sets the OOM flag on an exit slot that has already been filled.
// It is a no-op if the slot is still empty (the reaper always fills it
// after consulting the OOM notifier).
func (c *Child) MarkOOM() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exit != nil {
		c.exit.OOM = true
	}
}

// AwaitExit blocks until the exit slot is filled or ctx is done.
func (c *Child) AwaitExit(ctx context.Context) (Status, error) {
	select {
	case <-c.waitCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		return *c.exit, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Exited reports whether the exit slot has been filled, without blocking.
func (c *Child) Exited() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exit == nil {
		return Status{}, false
	}
	return *c.exit, true
}

// Close releases the adopted stdio FDs. It is safe to call once the exit
// slot is filled and every pump/attach subscriber has drained.
func (c *Child) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	closeOne := func(c io.Closer) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closeOne(c.stdio.Console)
	closeOne(c.stdio.Stdout)
	closeOne(c.stdio.Stderr)
	closeOne(c.stdio.Stdin)
	return firstErr
}
