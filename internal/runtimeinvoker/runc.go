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

package runtimeinvoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	runc "github.com/containerd/go-runc"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"github.com/containers/conmonrs/internal/child"
	"github.com/containers/conmonrs/internal/registry"
	"github.com/containers/conmonrs/internal/wire"
)

// Invoker drives a single OCI runtime binary. One Invoker serves every
// container the monitor supervises for its pod; go-runc's Runc value is
// stateless beyond the binary path and log destination, so it is safe to
// share across concurrent Create/Kill/Delete calls the way the registry's
// per-id kmutex already serializes them.
type Invoker struct {
	runc *runc.Runc
}

// New builds an Invoker that shells out to command (a path or a $PATH
// name, e.g. "runc" or "crun"), rooted at runtimeRoot (its --root), and
// writing its own JSON debug log under logDir.
func New(command, runtimeRoot, logDir string) *Invoker {
	return &Invoker{
		runc: &runc.Runc{
			Command:      command,
			Root:         runtimeRoot,
			Log:          filepath.Join(logDir, "runtime.json"),
			LogFormat:    runc.JSON,
			PdeathSignal: unix.SIGKILL,
		},
	}
}

// CreateOpts is the subset of wire.CreateContainerRequest CreateContainer
// needs, translated into filesystem paths already resolved by the caller.
type CreateOpts struct {
	ID            string
	Bundle        string
	StateDir      string // holds pidfile and, for TTY containers, the console socket
	Terminal      bool
	NoPivot       bool
	AdditionalFDs []uintptr // consumed by the runtime process, closed once Create returns
	LeakFDs       []uintptr // held open for the container's lifetime, per spec's leak-fd contract
}

// CreateResult carries what the registry needs to adopt the spawned child.
type CreateResult struct {
	PID     int
	Stdio   child.Stdio
	LeakFDs []*os.File // caller stashes these on the Record and closes them at reap
}

func stateOf(rec *registry.Record) *stateMachine {
	if v, ok := rec.Get("lifecycle"); ok {
		return v.(*stateMachine)
	}
	sm := newStateMachine()
	rec.Set("lifecycle", sm)
	return sm
}

// CreateContainer runs `runc create`, wiring a PTY console socket or a
// stdio pipe triple depending on opts.Terminal, per the PTY-xor-pipes
// invariant internal/child.Adopt also enforces.
func (inv *Invoker) CreateContainer(ctx context.Context, rec *registry.Record, opts CreateOpts) (*CreateResult, error) {
	sm := stateOf(rec)

	pidFile := filepath.Join(opts.StateDir, "pid")

	var (
		socket *runc.Socket
		pio    runc.IO
		err    error
	)
	if opts.Terminal {
		socket, err = runc.NewConsoleSocket(filepath.Join(opts.StateDir, "pty.sock"))
		if err != nil {
			sm.Transition(StateFailed)
			return nil, fmt.Errorf("runtimeinvoker: console socket: %w", err)
		}
		defer os.Remove(socket.Path())
	} else {
		pio, err = runc.NewPipeIO(0, 0)
		if err != nil {
			sm.Transition(StateFailed)
			return nil, fmt.Errorf("runtimeinvoker: pipe io: %w", err)
		}
	}

	extraFiles, additionalFiles := splitFDs(opts.AdditionalFDs, opts.LeakFDs)

	createOpts := &runc.CreateOpts{
		PidFile:    pidFile,
		IO:         pio,
		NoPivot:    opts.NoPivot,
		ExtraFiles: extraFiles,
	}
	if socket != nil {
		createOpts.ConsoleSocket = socket
	}

	if err := inv.runc.Create(ctx, opts.ID, opts.Bundle, createOpts); err != nil {
		sm.Transition(StateFailed)
		closeAll(additionalFiles)
		return nil, wire.Errorf(wire.StatusRuntimeFailed, "runtime create failed: %v", err)
	}

	// AdditionalFDs were only needed by the runtime process to hand off to
	// the container at exec time; the monitor's copies are no longer
	// useful once Create has returned. LeakFDs are held open until reap.
	for _, f := range extraFiles[:len(opts.AdditionalFDs)] {
		f.Close()
	}

	var stdio child.Stdio
	if socket != nil {
		console, err := socket.ReceiveMaster()
		if err != nil {
			sm.Transition(StateFailed)
			closeAll(additionalFiles)
			return nil, fmt.Errorf("runtimeinvoker: receive console master: %w", err)
		}
		stdio = child.Stdio{Terminal: true, Console: console}
	} else {
		stdio = child.Stdio{Stdout: pio.Stdout(), Stderr: pio.Stderr(), Stdin: pio.Stdin()}
	}

	pid, err := runc.ReadPidFile(pidFile)
	if err != nil {
		sm.Transition(StateFailed)
		closeAll(additionalFiles)
		return nil, fmt.Errorf("runtimeinvoker: read pid file: %w", err)
	}

	if err := sm.Transition(StateCreated); err != nil {
		return nil, err
	}
	return &CreateResult{PID: pid, Stdio: stdio, LeakFDs: additionalFiles}, nil
}

// splitFDs wraps additional and leak fds as *os.File in the order go-runc
// expects for CreateOpts.ExtraFiles (fd 3, 4, 5... inside the runtime
// process), and separately returns the leak-fd subset for the caller to
// hold onto.
func splitFDs(additional, leak []uintptr) (extraFiles []*os.File, leakFiles []*os.File) {
	for i, fd := range additional {
		extraFiles = append(extraFiles, os.NewFile(fd, fmt.Sprintf("additional-%d", i)))
	}
	for i, fd := range leak {
		f := os.NewFile(fd, fmt.Sprintf("leak-%d", i))
		extraFiles = append(extraFiles, f)
		leakFiles = append(leakFiles, f)
	}
	return extraFiles, leakFiles
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// StartContainer runs `runc start`.
func (inv *Invoker) StartContainer(ctx context.Context, rec *registry.Record) error {
	sm := stateOf(rec)
	if err := inv.runc.Start(ctx, rec.ID); err != nil {
		sm.Transition(StateFailed)
		return wire.Errorf(wire.StatusRuntimeFailed, "runtime start failed: %v", err)
	}
	return sm.Transition(StateRunning)
}

// KillContainer sends signal to the container's init process, or every
// process in its cgroup if all is set.
func (inv *Invoker) KillContainer(ctx context.Context, id string, signal int, all bool) error {
	if err := inv.runc.Kill(ctx, id, signal, &runc.KillOpts{All: all}); err != nil {
		return wire.Errorf(wire.StatusRuntimeFailed, "runtime kill failed: %v", err)
	}
	return nil
}

// DeleteContainer runs `runc delete`, releasing the runtime's own on-disk
// state. It is called once the reaper has observed exit.
func (inv *Invoker) DeleteContainer(ctx context.Context, rec *registry.Record) error {
	sm := stateOf(rec)
	if err := inv.runc.Delete(ctx, rec.ID, &runc.DeleteOpts{Force: true}); err != nil {
		return wire.Errorf(wire.StatusRuntimeFailed, "runtime delete failed: %v", err)
	}
	return sm.Transition(StateReaped)
}

// MarkExited records the exit transition the reaper observed via SIGCHLD,
// independent of when DeleteContainer eventually runs.
func MarkExited(rec *registry.Record) error {
	return stateOf(rec).Transition(StateExited)
}

// CurrentState reports rec's lifecycle position.
func CurrentState(rec *registry.Record) State {
	return stateOf(rec).Current()
}

// PauseContainer / ResumeContainer wrap `runc pause` / `runc resume`.
func (inv *Invoker) PauseContainer(ctx context.Context, id string) error {
	if err := inv.runc.Pause(ctx, id); err != nil {
		return wire.Errorf(wire.StatusRuntimeFailed, "runtime pause failed: %v", err)
	}
	return nil
}

func (inv *Invoker) ResumeContainer(ctx context.Context, id string) error {
	if err := inv.runc.Resume(ctx, id); err != nil {
		return wire.Errorf(wire.StatusRuntimeFailed, "runtime resume failed: %v", err)
	}
	return nil
}

// RuntimeState reports the runtime's own view of a container (created,
// running, stopped...). No RPC handler calls it.
func (inv *Invoker) RuntimeState(ctx context.Context, id string) (*runc.Container, error) {
	c, err := inv.runc.State(ctx, id)
	if err != nil {
		return nil, wire.Errorf(wire.StatusRuntimeFailed, "runtime state failed: %v", err)
	}
	return c, nil
}

// ExecDetachedOpts is the subset of wire.ServeExecContainerRequest needed to
// start an interactive, unbounded exec session.
type ExecDetachedOpts struct {
	ContainerID string
	Command     []string
	Terminal    bool
	StateDir    string // holds the exec's own pidfile and, for TTY sessions, its console socket
}

// ExecDetachedResult mirrors CreateResult for the exec case: a PID the
// reaper can watch and the stdio the caller streams through an attach hub.
type ExecDetachedResult struct {
	PID   int
	Stdio child.Stdio
}

// ExecDetached runs `runc exec --detach`, wiring stdio the same way
// CreateContainer does. Because a detached runc exits immediately after
// forking the requested process, that process reparents to whatever set
// PR_SET_CHILD_SUBREAPER (internal/reaper.NewMonitor does this at startup),
// so the returned PID is still reapable by the normal SIGCHLD path.
func (inv *Invoker) ExecDetached(ctx context.Context, opts ExecDetachedOpts) (*ExecDetachedResult, error) {
	if len(opts.Command) == 0 {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "exec command must not be empty")
	}

	pidFile := filepath.Join(opts.StateDir, "exec-pid")

	var (
		socket *runc.Socket
		pio    runc.IO
		err    error
	)
	if opts.Terminal {
		socket, err = runc.NewConsoleSocket(filepath.Join(opts.StateDir, "exec-pty.sock"))
		if err != nil {
			return nil, fmt.Errorf("runtimeinvoker: exec console socket: %w", err)
		}
		defer os.Remove(socket.Path())
	} else {
		pio, err = runc.NewPipeIO(0, 0)
		if err != nil {
			return nil, fmt.Errorf("runtimeinvoker: exec pipe io: %w", err)
		}
	}

	execOpts := &runc.ExecOpts{IO: pio, Detach: true, PidFile: pidFile}
	if socket != nil {
		execOpts.ConsoleSocket = socket
	}

	spec := specs.Process{Args: opts.Command, Terminal: opts.Terminal}
	if err := inv.runc.Exec(ctx, opts.ContainerID, spec, execOpts); err != nil {
		return nil, wire.Errorf(wire.StatusRuntimeFailed, "runtime exec failed: %v", err)
	}

	var stdio child.Stdio
	if socket != nil {
		console, err := socket.ReceiveMaster()
		if err != nil {
			return nil, fmt.Errorf("runtimeinvoker: receive exec console master: %w", err)
		}
		stdio = child.Stdio{Terminal: true, Console: console}
	} else {
		stdio = child.Stdio{Stdout: pio.Stdout(), Stderr: pio.Stderr(), Stdin: pio.Stdin()}
	}

	pid, err := runc.ReadPidFile(pidFile)
	if err != nil {
		return nil, fmt.Errorf("runtimeinvoker: read exec pid file: %w", err)
	}

	return &ExecDetachedResult{PID: pid, Stdio: stdio}, nil
}

// ExecResult is the outcome of a synchronous exec, per wire.ExecSyncContainerResponse.
type ExecResult struct {
	ExitCode int32
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
}

// ExecSync runs a one-shot command inside an existing container's
// namespaces via `runc exec`, blocking until it exits or timeout elapses.
// A timeout cancels the call's context, which kills the runtime's exec
// process with SIGKILL. This is the synchronous one-call variant used by
// the ExecSyncContainer RPC; the long-lived ServeExecContainer sessions
// are not given a timeout.
func (inv *Invoker) ExecSync(ctx context.Context, containerID string, command []string, terminal bool, timeout time.Duration) (*ExecResult, error) {
	if len(command) == 0 {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "exec command must not be empty")
	}

	pio, err := runc.NewPipeIO(0, 0)
	if err != nil {
		return nil, fmt.Errorf("runtimeinvoker: exec pipe io: %w", err)
	}
	defer pio.Close()

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(&stdout, pio.Stdout()) }()
	go func() { defer wg.Done(); io.Copy(&stderr, pio.Stderr()) }()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	spec := specs.Process{Args: command, Terminal: terminal}
	execOpts := &runc.ExecOpts{IO: pio, Detach: false}

	execErr := inv.runc.Exec(ctx, containerID, spec, execOpts)
	wg.Wait()

	result := &ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if execErr == nil {
		return result, nil
	}

	var exitErr *runc.ExitError
	if errors.As(execErr, &exitErr) {
		result.ExitCode = int32(exitErr.Status)
		return result, nil
	}
	return nil, wire.Errorf(wire.StatusRuntimeFailed, "runtime exec failed: %v", execErr)
}
