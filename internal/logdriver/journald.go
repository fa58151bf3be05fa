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

package logdriver

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/containers/conmonrs/internal/stream"
)

// Journald sends one journal entry per line; there is no rotation concept
// because the journal manages its own retention.
type Journald struct {
	containerID string
}

// NewJournald requires the local journal daemon to be reachable; per
// go-systemd convention this is verified once at construction.
func NewJournald(containerID string) (*Journald, error) {
	if !journal.Enabled() {
		return nil, fmt.Errorf("logdriver: journald is not available")
	}
	return &Journald{containerID: containerID}, nil
}

func (d *Journald) Name() string { return "journald" }

func (d *Journald) WriteSegment(seg stream.Segment) error {
	priority := journal.PriInfo
	if seg.Pipe == stream.PipeStderr {
		priority = journal.PriErr
	}
	vars := map[string]string{
		"CONTAINER_ID_FULL": d.containerID,
		"CONTAINER_TAG":     string(seg.Pipe),
		"CONMONRS_LOG_TAG":  string(seg.Tag),
	}
	if err := journal.Send(string(seg.Payload), priority, vars); err != nil {
		return fmt.Errorf("logdriver: journald send: %w", err)
	}
	return nil
}

// ReopenLog is a no-op: journald has nothing analogous to file rotation.
func (d *Journald) ReopenLog() error { return nil }

func (d *Journald) Close() error { return nil }
