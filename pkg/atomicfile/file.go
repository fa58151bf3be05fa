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

// Package atomicfile writes a file's final content only on Close, via a
// write-to-temp-then-rename in the destination's own directory so a reader
// never observes a partially written file.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// File accumulates writes into a temporary sibling of the destination path
// and only becomes visible at that path once Close succeeds.
type File struct {
	dest string
	tmp  *os.File
}

// New creates a new atomic file targeting path with the given permissions.
// The file is not visible at path until Close is called.
func New(path string, perm os.FileMode) (*File, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("atomicfile: create temp in %s: %w", dir, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("atomicfile: chmod: %w", err)
	}
	return &File{dest: path, tmp: tmp}, nil
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	return f.tmp.Write(p)
}

// Close flushes the temporary file to disk and renames it into place,
// replacing any previous content at path.
func (f *File) Close() error {
	name := f.tmp.Name()
	if err := f.tmp.Sync(); err != nil {
		f.tmp.Close()
		os.Remove(name)
		return fmt.Errorf("atomicfile: sync: %w", err)
	}
	if err := f.tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("atomicfile: close temp: %w", err)
	}
	if err := os.Rename(name, f.dest); err != nil {
		os.Remove(name)
		return fmt.Errorf("atomicfile: rename into place: %w", err)
	}
	return nil
}

// WriteFile is a convenience wrapper that atomically writes data to path in
// a single call.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := New(path, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Close()
}
