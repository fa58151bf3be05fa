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

// Package rpc dispatches decoded wire envelopes onto the registry and
// runtime invoker. Handlers validate arguments and route; they hold no
// state of their own beyond what a Server is constructed with.
package rpc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/containers/conmonrs/internal/attach"
	"github.com/containers/conmonrs/internal/cgroup"
	"github.com/containers/conmonrs/internal/child"
	"github.com/containers/conmonrs/internal/logdriver"
	"github.com/containers/conmonrs/internal/reaper"
	"github.com/containers/conmonrs/internal/registry"
	"github.com/containers/conmonrs/internal/runtimeinvoker"
	"github.com/containers/conmonrs/internal/stream"
	"github.com/containers/conmonrs/internal/wire"
)

// defaultMaxLineLength bounds a single delivered log segment, matching the
// historical CRI logger's 16KiB line cap.
const defaultMaxLineLength = 16 * 1024

// Server holds every component a request handler needs: the container
// registry, the runtime invoker, the reaper, and process-wide defaults
// from the server's own configuration.
type Server struct {
	Registry *registry.Registry
	Invoker  *runtimeinvoker.Invoker
	Reaper   *reaper.Reaper
	Log      *logrus.Entry

	Version string
	Tag     string

	RuntimeDir           string // per-container state (pidfile, sockets) lives under here
	DefaultCgroupManager string
	CgroupVersion        cgroup.Version
}

// Dispatch routes one decoded request to its handler. The returned error,
// if non-nil, is always classifiable via wire.StatusOf.
func (s *Server) Dispatch(ctx context.Context, op wire.Op, payload interface{}) (interface{}, error) {
	switch op {
	case wire.OpVersion:
		return s.handleVersion(ctx, payload)
	case wire.OpCreateContainer:
		return s.handleCreateContainer(ctx, payload)
	case wire.OpExecSyncContainer:
		return s.handleExecSyncContainer(ctx, payload)
	case wire.OpAttachContainer:
		return s.handleAttachContainer(ctx, payload)
	case wire.OpReopenLogContainer:
		return s.handleReopenLogContainer(ctx, payload)
	case wire.OpSetWindowSizeContainer:
		return s.handleSetWindowSizeContainer(ctx, payload)
	case wire.OpCreateNamespaces:
		return s.handleCreateNamespaces(ctx, payload)
	case wire.OpServeExecContainer:
		return s.handleServeExecContainer(ctx, payload)
	case wire.OpServeAttachContainer:
		return s.handleServeAttachContainer(ctx, payload)
	case wire.OpServePortForwardContainer:
		return nil, wire.Errorf(wire.StatusUnsupported, "port-forwarding is provided by the CNI plugin, not the monitor")
	default:
		return nil, wire.Errorf(wire.StatusInvalidRequest, "unknown op %s", op)
	}
}

func (s *Server) handleVersion(_ context.Context, payload interface{}) (interface{}, error) {
	if _, ok := payload.(wire.VersionRequest); !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for VersionRequest")
	}
	return wire.VersionResponse{Version: s.Version, Tag: s.Tag}, nil
}

func (s *Server) handleCreateContainer(ctx context.Context, payload interface{}) (interface{}, error) {
	req, ok := payload.(wire.CreateContainerRequest)
	if !ok {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "bad payload for CreateContainerRequest")
	}
	if req.ID == "" || req.BundlePath == "" {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "id and bundle path are required")
	}

	if err := s.Registry.Keys.Lock(ctx, req.ID); err != nil {
		return nil, wire.Errorf(wire.StatusIOFailure, "lock %s: %v", req.ID, err)
	}
	defer s.Registry.Keys.Unlock(req.ID)

	mgr, err := cgroup.Resolve(s.DefaultCgroupManager, req.CgroupManager)
	if err != nil {
		return nil, err
	}

	rec := &registry.Record{
		ID:            req.ID,
		PodID:         req.PodID,
		BundlePath:    req.BundlePath,
		Terminal:      req.Terminal,
		ExitPaths:     req.ExitPaths,
		OOMExitPaths:  req.OOMExitPaths,
		CleanupCmd:    req.CleanupCmd,
		CgroupManager: string(mgr),
		CreatedAt:     time.Now(),
	}
	if err := s.Registry.Insert(rec); err != nil {
		return nil, err
	}

	stateDir := filepath.Join(s.RuntimeDir, req.ID)
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		s.Registry.Remove(req.ID)
		return nil, fmt.Errorf("rpc: mkdir state dir: %w", err)
	}

	result, err := s.Invoker.CreateContainer(ctx, rec, runtimeinvoker.CreateOpts{
		ID:            req.ID,
		Bundle:        req.BundlePath,
		StateDir:      stateDir,
		Terminal:      req.Terminal,
		AdditionalFDs: req.AdditionalFDs,
		LeakFDs:       req.LeakFDs,
	})
	if err != nil {
		s.Registry.Remove(req.ID)
		return nil, err
	}

	c := child.New(req.ID)
	if err := c.Adopt(result.PID, result.Stdio); err != nil {
		s.Registry.Remove(req.ID)
		return nil, fmt.Errorf("rpc: adopt child: %w", err)
	}
	rec.Child = c
	rec.Set("leakFDs", result.LeakFDs)

	if watcher, err := cgroup.WatchOOM(result.PID, s.CgroupVersion); err != nil {
		s.Log.WithError(err).WithField("container", req.ID).Warn("failed to start oom watcher")
	} else {
		rec.Set("oomWatcher", watcher)
	}

	lazy := attach.NewLazySink()
	rec.Set("attachSink", lazy)
	rec.Set("stdin", result.Stdio.Stdin)

	sinks := []stream.Sink{lazy}
	var instances []*logdriver.Instance
	for _, spec := range req.LogDrivers {
		driver, err := logdriver.NewFromSpec(req.ID, spec)
		if err != nil {
			s.Log.WithError(err).WithField("container", req.ID).Warn("skipping unconfigurable log driver")
			continue
		}
		queue := stream.NewBlockingQueue(64)
		inst := logdriver.NewInstance(driver, queue, s.Log)
		go inst.Run()
		instances = append(instances, inst)
		sinks = append(sinks, queue)
	}
	rec.Set("logInstances", instances)

	pumpWG := &sync.WaitGroup{}
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

	s.Reaper.WatchContainer(rec, pumpWG)
	go s.finalize(rec, pumpWG)

	return wire.CreateContainerResponse{PID: result.PID}, nil
}

// finalize runs once a container's exit slot fills: it deletes the
// runtime's on-disk state and releases the log/attach resources this
// handler wired up, then drops the record from the registry.
func (s *Server) finalize(rec *registry.Record, pumpWG *sync.WaitGroup) {
	rec.Child.AwaitExit(context.Background())
	runtimeinvoker.MarkExited(rec)
	pumpWG.Wait()

	if v, ok := rec.Get("oomWatcher"); ok {
		if w, ok := v.(cgroup.OOMWatcher); ok {
			w.Close()
		}
	}
	if v, ok := rec.Get("logInstances"); ok {
		for _, inst := range v.([]*logdriver.Instance) {
			inst.Close()
		}
	}
	if v, ok := rec.Get("attachSink"); ok {
		if lazy, ok := v.(*attach.LazySink); ok {
			if hub := lazy.Hub(); hub != nil {
				hub.Close()
			}
		}
	}
	rec.Child.Close()
	if v, ok := rec.Get("leakFDs"); ok {
		for _, f := range v.([]*os.File) {
			f.Close()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Invoker.DeleteContainer(ctx, rec); err != nil {
		s.Log.WithError(err).WithField("container", rec.ID).Warn("runtime delete failed")
	}

	s.Registry.Remove(rec.ID)
}
