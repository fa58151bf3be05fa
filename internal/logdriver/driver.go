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

// Package logdriver implements the pluggable log sinks a container's
// stream pump writes to: CRI-formatted files, JSON-lines files, journald,
// and a raw stdout passthrough for debugging.
package logdriver

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/containers/conmonrs/internal/stream"
)

// Driver writes one segment at a time and rotates its own backing store.
// ReopenLog forces an unconditional reopen (truncating any file), used by
// the ReopenLogContainer RPC independent of size-based rotation.
type Driver interface {
	Name() string
	WriteSegment(seg stream.Segment) error
	ReopenLog() error
	Close() error
}

// Instance pairs a Driver with the blocking queue its stream pump feeds.
// A write failure degrades the instance permanently: per spec §4.3, a
// failing driver drops subsequent writes for that container without
// affecting siblings or the container itself.
type Instance struct {
	driver   Driver
	queue    *stream.Queue
	log      *logrus.Entry
	degraded atomic.Bool
}

// NewInstance wires driver to queue; call Run in its own goroutine.
func NewInstance(driver Driver, queue *stream.Queue, log *logrus.Entry) *Instance {
	return &Instance{driver: driver, queue: queue, log: log.WithField("driver", driver.Name())}
}

// Run drains the queue until it is closed. It never returns an error;
// failures degrade the instance and are logged.
func (in *Instance) Run() {
	for seg := range in.queue.Chan() {
		if in.degraded.Load() {
			continue
		}
		if err := in.driver.WriteSegment(seg); err != nil {
			in.log.WithError(err).Error("log driver write failed, degrading")
			in.degraded.Store(true)
		}
	}
}

// Degraded reports whether this instance has stopped accepting writes.
func (in *Instance) Degraded() bool {
	return in.degraded.Load()
}

// ReopenLog forwards to the underlying driver unless already degraded.
func (in *Instance) ReopenLog() error {
	if in.degraded.Load() {
		return nil
	}
	return in.driver.ReopenLog()
}

// Close stops accepting new segments and releases the driver's resources.
func (in *Instance) Close() error {
	in.queue.Close()
	return in.driver.Close()
}
