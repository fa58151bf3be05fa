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
	"io"
	"sync"

	"github.com/containers/conmonrs/internal/stream"
)

// Stdout passes container output through to the monitor's own stdout, one
// segment per line: each segment's payload followed by a newline, with no
// timestamp, stream or partial tag. Used for debug only; no rotation.
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStdout(w io.Writer) *Stdout {
	return &Stdout{w: w}
}

func (d *Stdout) Name() string { return "stdout" }

func (d *Stdout) WriteSegment(seg stream.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintf(d.w, "%s\n", seg.Payload); err != nil {
		return fmt.Errorf("logdriver: stdout write: %w", err)
	}
	return nil
}

func (d *Stdout) ReopenLog() error { return nil }
func (d *Stdout) Close() error     { return nil }
