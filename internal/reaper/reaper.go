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
	"os/exec"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/containers/conmonrs/internal/child"
	"github.com/containers/conmonrs/internal/registry"
	"github.com/containers/conmonrs/pkg/atomicfile"
)

// oomChecker is implemented by internal/cgroup's OOM watchers. Declared
// here rather than imported to avoid a reaper<->cgroup import cycle; the
// registry record carries the concrete watcher as an opaque value.
type oomChecker interface {
	Fired() bool
}

// drainer is provided by whatever owns a container's stream pumps (the
// rpc CreateContainer handler's pump WaitGroup), so the reaper can block exit-file writes until every pump
// has flushed, per spec §4.5's "pump tasks have drained" requirement.
type drainer interface {
	Wait()
}

// Reaper watches container and exec processes, fills their exit slots,
// and performs the exit-file/cleanup-command side effects spec §4.5
// describes.
type Reaper struct {
	Monitor *Monitor
	log     *logrus.Entry

	cleanupOnce sync.Map // container id -> *sync.Once
}

func New(log *logrus.Entry) *Reaper {
	return &Reaper{Monitor: NewMonitor(), log: log}
}

// WatchContainer waits for rec's child to exit, consults its OOM watcher
// (if any), fills the exit slot, drains d if given, then writes exit and
// OOM-exit files and runs the cleanup command. It runs to completion in
// its own goroutine.
func (r *Reaper) WatchContainer(rec *registry.Record, d drainer) {
	pid := rec.Child.PID()
	ch := r.Monitor.Subscribe(pid)

	go func() {
		ws := <-ch
		status := toStatus(ws)

		if v, ok := rec.Get("oomWatcher"); ok {
			if checker, ok := v.(oomChecker); ok && checker.Fired() {
				status.OOM = true
			}
		}

		rec.Child.SetExit(status)

		if d != nil {
			d.Wait()
		}

		r.writeExitFiles(rec, status)
		r.runCleanup(rec)
	}()
}

func toStatus(ws unix.WaitStatus) child.Status {
	if ws.Signaled() {
		return child.Status{Code: 128 + int(ws.Signal()), Signal: true}
	}
	return child.Status{Code: ws.ExitStatus()}
}

func (r *Reaper) writeExitFiles(rec *registry.Record, status child.Status) {
	body := []byte(strconv.Itoa(status.Code))
	for _, path := range rec.ExitPaths {
		if err := atomicfile.WriteFile(path, body, 0644); err != nil {
			r.log.WithError(err).WithField("container", rec.ID).Error("failed to write exit file")
		}
	}
	if !status.OOM {
		return
	}
	for _, path := range rec.OOMExitPaths {
		if err := atomicfile.WriteFile(path, nil, 0644); err != nil {
			r.log.WithError(err).WithField("container", rec.ID).Error("failed to write oom-exit file")
		}
	}
}

func (r *Reaper) runCleanup(rec *registry.Record) {
	if len(rec.CleanupCmd) == 0 {
		return
	}
	onceVal, _ := r.cleanupOnce.LoadOrStore(rec.ID, &sync.Once{})
	onceVal.(*sync.Once).Do(func() {
		cmd := exec.Command(rec.CleanupCmd[0], rec.CleanupCmd[1:]...)
		if err := cmd.Run(); err != nil {
			r.log.WithError(err).WithField("container", rec.ID).Warn("cleanup command failed")
		}
	})
}
