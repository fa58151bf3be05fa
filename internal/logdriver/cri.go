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
	"os"
	"sync"
	"time"

	"github.com/containers/conmonrs/internal/stream"
)

// timestampFormat renders RFC 3339 with nanosecond precision and a numeric
// UTC offset (never the "Z" shorthand), per spec §6.
const timestampFormat = "2006-01-02T15:04:05.000000000-07:00"

// CRIFile writes `<timestamp> <stream> <F|P> <payload>\n` records to a
// path, rotating (truncate-and-reopen) once cumulative bytes reach
// maxSize. maxSize <= 0 disables size-based rotation.
type CRIFile struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	file    *os.File
	written int64
}

// NewCRIFile opens (or creates) path for appending.
func NewCRIFile(path string, maxSize int64) (*CRIFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logdriver: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logdriver: stat %s: %w", path, err)
	}
	return &CRIFile{path: path, maxSize: maxSize, file: f, written: info.Size()}, nil
}

func (d *CRIFile) Name() string { return "cri" }

func (d *CRIFile) WriteSegment(seg stream.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := fmt.Sprintf("%s %s %s %s\n", time.Now().Format(timestampFormat), seg.Pipe, seg.Tag, seg.Payload)
	n, err := d.file.WriteString(line)
	if err != nil {
		return fmt.Errorf("logdriver: cri write: %w", err)
	}
	d.written += int64(n)

	if d.maxSize > 0 && d.written >= d.maxSize {
		return d.reopen(true)
	}
	return nil
}

// ReopenLog truncates and reopens unconditionally, regardless of size.
func (d *CRIFile) ReopenLog() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reopen(true)
}

func (d *CRIFile) reopen(truncate bool) error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("logdriver: fsync before rotate: %w", err)
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("logdriver: close before rotate: %w", err)
	}
	flags := os.O_APPEND | os.O_CREATE | os.O_WRONLY
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(d.path, flags, 0644)
	if err != nil {
		return fmt.Errorf("logdriver: reopen %s: %w", d.path, err)
	}
	d.file = f
	d.written = 0
	return nil
}

func (d *CRIFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
