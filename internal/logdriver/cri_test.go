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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/conmonrs/internal/stream"
)

func TestCRIFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.log")
	d, err := NewCRIFile(path, 0)
	require.NoError(t, err)

	require.NoError(t, d.WriteSegment(stream.Segment{Pipe: stream.PipeStdout, Tag: stream.TagFull, Payload: []byte("hello")}))
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	fields := strings.SplitN(strings.TrimSuffix(string(data), "\n"), " ", 4)
	require.Len(t, fields, 4)
	_, err = time.Parse(timestampFormat, fields[0])
	assert.NoError(t, err)
	assert.Equal(t, "stdout", fields[1])
	assert.Equal(t, "F", fields[2])
	assert.Equal(t, "hello", fields[3])
}

func TestCRIFileEightKiBLineIsOneFullRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.log")
	d, err := NewCRIFile(path, 0)
	require.NoError(t, err)

	payload := strings.Repeat("a", 8*1024)
	require.NoError(t, d.WriteSegment(stream.Segment{Pipe: stream.PipeStdout, Tag: stream.TagFull, Payload: []byte(payload)}))
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.Contains(lines[0], " F "))
}

func TestCRIFileRotatesOnMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.log")
	d, err := NewCRIFile(path, 50)
	require.NoError(t, err)
	defer d.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, d.WriteSegment(stream.Segment{Pipe: stream.PipeStdout, Tag: stream.TagFull, Payload: []byte("x")}))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(50), "rotation should have truncated the file below max size")
}

func TestCRIFileReopenLogIsIdempotentTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.log")
	d, err := NewCRIFile(path, 0)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.WriteSegment(stream.Segment{Pipe: stream.PipeStdout, Tag: stream.TagFull, Payload: []byte("hello")}))
	require.NoError(t, d.ReopenLog())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	require.NoError(t, d.ReopenLog())
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}
