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
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/containers/conmonrs/internal/stream"
)

// jsonRecord is one line of the json-lines format: {"time","stream","log"}.
type jsonRecord struct {
	Time   string `json:"time"`
	Stream string `json:"stream"`
	Log    string `json:"log"`
}

// JSONLines writes one JSON object per line, with the same size-based
// rotation semantics as CRIFile.
type JSONLines struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	file    *os.File
	written int64
}

func NewJSONLines(path string, maxSize int64) (*JSONLines, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logdriver: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logdriver: stat %s: %w", path, err)
	}
	return &JSONLines{path: path, maxSize: maxSize, file: f, written: info.Size()}, nil
}

func (d *JSONLines) Name() string { return "json" }

func (d *JSONLines) WriteSegment(seg stream.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := jsonRecord{
		Time:   time.Now().Format(timestampFormat),
		Stream: string(seg.Pipe),
		Log:    string(seg.Payload),
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("logdriver: json marshal: %w", err)
	}
	buf = append(buf, '\n')

	n, err := d.file.Write(buf)
	if err != nil {
		return fmt.Errorf("logdriver: json write: %w", err)
	}
	d.written += int64(n)

	if d.maxSize > 0 && d.written >= d.maxSize {
		return d.reopen()
	}
	return nil
}

func (d *JSONLines) ReopenLog() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reopen()
}

func (d *JSONLines) reopen() error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("logdriver: fsync before rotate: %w", err)
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("logdriver: close before rotate: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logdriver: reopen %s: %w", d.path, err)
	}
	d.file = f
	d.written = 0
	return nil
}

func (d *JSONLines) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
