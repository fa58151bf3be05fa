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

package rpc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/containers/conmonrs/internal/attach"
	"github.com/containers/conmonrs/internal/child"
	"github.com/containers/conmonrs/internal/logdriver"
	"github.com/containers/conmonrs/internal/metrics"
	"github.com/containers/conmonrs/internal/nsutil"
	"github.com/containers/conmonrs/internal/registry"
	"github.com/containers/conmonrs/internal/runtimeinvoker"
	"github.com/containers/conmonrs/internal/stream"
	"github.com/containers/conmonrs/internal/wire"
)

func instancesOf(v interface{}) []*logdriver.Instance {
	inst, _ := v.([]*logdriver.Instance)
	return inst
}

func (s *Server) handleExecSyncContainer(ctx context.Context, payload interface{}) (interface{}, error) {
	req, ok := payload.(wire.ExecSyncContainerRequest)
	if !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for ExecSyncContainerRequest")
	}

	if err := s.Registry.Keys.Lock(ctx, req.ContainerID); err != nil {
		return nil, wire.Errorf(wire.StatusIOFailure, "lock %s: %v", req.ContainerID, err)
	}
	defer s.Registry.Keys.Unlock(req.ContainerID)

	if _, err := s.Registry.Get(req.ContainerID); err != nil {
		return nil, err
	}

	timeout := time.Duration(req.Timeout) * time.Second
	result, err := s.Invoker.ExecSync(ctx, req.ContainerID, req.Command, req.Terminal, timeout)
	if err != nil {
		return nil, err
	}
	return wire.ExecSyncContainerResponse{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		TimedOut: result.TimedOut,
	}, nil
}

func (s *Server) handleAttachContainer(_ context.Context, payload interface{}) (interface{}, error) {
	req, ok := payload.(wire.AttachContainerRequest)
	if !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for AttachContainerRequest")
	}

	rec, err := s.Registry.Get(req.ContainerID)
	if err != nil {
		return nil, err
	}

	v, ok := rec.Get("attachSink")
	if !ok {
		return nil, wire.Errorf(wire.StatusIOFailure, "container %s has no attach sink", req.ContainerID)
	}
	lazy := v.(*attach.LazySink)
	if lazy.Hub() != nil {
		return wire.AttachContainerResponse{}, nil
	}

	var stdinWriter io.WriteCloser
	if sv, ok := rec.Get("stdin"); ok && sv != nil {
		stdinWriter, _ = sv.(io.WriteCloser)
	}

	hub, err := attach.New(req.ContainerID, req.SocketPath, stdinWriter)
	if err != nil {
		return nil, fmt.Errorf("rpc: attach: %w", err)
	}
	if rec.Terminal {
		if stdio := rec.Child.Stdio(); stdio.Console != nil {
			hub.SetConsole(stdio.Console)
		}
	}
	lazy.Attach(hub)

	return wire.AttachContainerResponse{}, nil
}

func (s *Server) handleReopenLogContainer(_ context.Context, payload interface{}) (interface{}, error) {
	req, ok := payload.(wire.ReopenLogContainerRequest)
	if !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for ReopenLogContainerRequest")
	}
	rec, err := s.Registry.Get(req.ContainerID)
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get("logInstances")
	if !ok {
		return wire.ReopenLogContainerResponse{}, nil
	}
	for _, inst := range instancesOf(v) {
		if err := inst.ReopenLog(); err != nil {
			return nil, wire.Errorf(wire.StatusIOFailure, "reopen log: %v", err)
		}
	}
	return wire.ReopenLogContainerResponse{}, nil
}

func (s *Server) handleSetWindowSizeContainer(_ context.Context, payload interface{}) (interface{}, error) {
	req, ok := payload.(wire.SetWindowSizeContainerRequest)
	if !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for SetWindowSizeContainerRequest")
	}
	rec, err := s.Registry.Get(req.ContainerID)
	if err != nil {
		return nil, err
	}
	v, ok := rec.Get("attachSink")
	if !ok {
		return nil, wire.Errorf(wire.StatusIOFailure, "container %s has no attach sink", req.ContainerID)
	}
	lazy := v.(*attach.LazySink)
	hub := lazy.Hub()
	if hub == nil {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "container %s has no attached client to resize", req.ContainerID)
	}
	if err := hub.Resize(req.Width, req.Height); err != nil {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "resize: %v", err)
	}
	return wire.SetWindowSizeContainerResponse{}, nil
}

func (s *Server) handleCreateNamespaces(_ context.Context, payload interface{}) (interface{}, error) {
	req, ok := payload.(wire.CreateNamespacesRequest)
	if !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for CreateNamespacesRequest")
	}
	if req.PodID == "" {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "pod id is required")
	}

	paths, err := nsutil.Create(req.PodID, req.BaseDir, req.Kinds, req.UIDMapping, req.GIDMapping)
	if err != nil {
		return nil, err
	}

	entries := make([]registry.NamespaceEntry, 0, len(req.Kinds))
	for i, kind := range req.Kinds {
		entries = append(entries, registry.NamespaceEntry{Kind: kind, Path: paths[i]})
	}
	if err := s.Registry.InsertNamespaces(req.PodID, entries); err != nil {
		nsutil.Remove(paths)
		return nil, err
	}

	return wire.CreateNamespacesResponse{Paths: paths}, nil
}

// ServeExecContainer opens an interactive exec session behind its own
// attach-protocol socket: the command runs detached via `runc exec
// --detach`, its stdio wired through an attach.Hub the same way a
// container's is, so the caller streams input/output exactly like
// AttachContainer instead of waiting for one bounded response.
func (s *Server) handleServeExecContainer(ctx context.Context, payload interface{}) (interface{}, error) {
	req, ok := payload.(wire.ServeExecContainerRequest)
	if !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for ServeExecContainerRequest")
	}
	if _, err := s.Registry.Get(req.ContainerID); err != nil {
		return nil, err
	}
	if len(req.Command) == 0 {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "exec command must not be empty")
	}

	execID := uuid.NewString()
	stateDir := filepath.Join(s.RuntimeDir, req.ContainerID, "exec-"+execID)
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("rpc: mkdir exec state dir: %w", err)
	}

	result, err := s.Invoker.ExecDetached(ctx, runtimeinvoker.ExecDetachedOpts{
		ContainerID: req.ContainerID,
		Command:     req.Command,
		Terminal:    req.Terminal,
		StateDir:    stateDir,
	})
	if err != nil {
		os.RemoveAll(stateDir)
		return nil, err
	}

	c := child.New(req.ContainerID + "/exec-" + execID)
	if err := c.Adopt(result.PID, result.Stdio); err != nil {
		os.RemoveAll(stateDir)
		return nil, fmt.Errorf("rpc: adopt exec child: %w", err)
	}

	socketPath := req.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(stateDir, "attach.sock")
	}
	hub, err := attach.New(req.ContainerID, socketPath, result.Stdio.Stdin)
	if err != nil {
		c.Close()
		os.RemoveAll(stateDir)
		return nil, fmt.Errorf("rpc: exec attach: %w", err)
	}
	if result.Stdio.Terminal {
		hub.SetConsole(result.Stdio.Console)
	}

	pumpWG := &sync.WaitGroup{}
	sinks := []stream.Sink{hub}
	if result.Stdio.Terminal {
		pumpWG.Add(1)
		go func() {
			defer pumpWG.Done()
			stream.Pump(result.Stdio.Console, stream.PipeStdout, defaultMaxLineLength, sinks)
		}()
	} else {
		pumpWG.Add(2)
		go func() {
			defer pumpWG.Done()
			stream.Pump(result.Stdio.Stdout, stream.PipeStdout, defaultMaxLineLength, sinks)
		}()
		go func() {
			defer pumpWG.Done()
			stream.Pump(result.Stdio.Stderr, stream.PipeStderr, defaultMaxLineLength, sinks)
		}()
	}

	// A detached exec is not a Registry-tracked container, so it gets its
	// own tiny reap: wait for the PID the subreaper picked up, drain the
	// pumps, then tear down the hub and its state dir. There is nothing to
	// report the exit code to, since this is the unbounded interactive
	// path, not ExecSyncContainer.
	metrics.ExecSessionsActive.Inc()
	exited := s.Reaper.Monitor.Subscribe(result.PID)
	go func() {
		<-exited
		pumpWG.Wait()
		hub.Close()
		c.Close()
		os.RemoveAll(stateDir)
		metrics.ExecSessionsActive.Dec()
	}()

	return wire.ServeExecContainerResponse{URL: "unix://" + socketPath}, nil
}

func (s *Server) handleServeAttachContainer(_ context.Context, payload interface{}) (interface{}, error) {
	req, ok := payload.(wire.ServeAttachContainerRequest)
	if !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for ServeAttachContainerRequest")
	}
	rec, err := s.Registry.Get(req.ContainerID)
	if err != nil {
		return nil, err
	}

	v, ok := rec.Get("attachSink")
	if !ok {
		return nil, wire.Errorf(wire.StatusIOFailure, "container %s has no attach sink", req.ContainerID)
	}
	lazy := v.(*attach.LazySink)
	socketPath := filepath.Join(s.RuntimeDir, req.ContainerID, "attach.sock")
	if lazy.Hub() == nil {
		var stdinWriter io.WriteCloser
		if sv, ok := rec.Get("stdin"); ok && sv != nil {
			stdinWriter, _ = sv.(io.WriteCloser)
		}
		hub, err := attach.New(req.ContainerID, socketPath, stdinWriter)
		if err != nil {
			return nil, fmt.Errorf("rpc: serve attach: %w", err)
		}
		lazy.Attach(hub)
	}

	return wire.ServeAttachContainerResponse{URL: "unix://" + socketPath}, nil
}
