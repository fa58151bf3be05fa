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

package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	segs []Segment
}

func (r *recordSink) Enqueue(seg Segment) {
	r.segs = append(r.segs, seg)
}

func TestPumpLineSplitting(t *testing.T) {
	const maxLen = defaultBufSize * 4

	tests := map[string]struct {
		input   string
		maxLen  int
		tags    []Tag
		content []string
	}{
		"simple lines": {
			input:   "test stdout log 1\ntest stdout log 2\n",
			maxLen:  maxLen,
			tags:    []Tag{TagFull, TagFull},
			content: []string{"test stdout log 1", "test stdout log 2"},
		},
		"log ends without newline": {
			input:   "test stderr log 1\ntest stderr log 2",
			maxLen:  maxLen,
			tags:    []Tag{TagFull, TagPartial},
			content: []string{"test stderr log 1", "test stderr log 2"},
		},
		"log length equal to max length": {
			input:   strings.Repeat("a", maxLen) + "\n" + strings.Repeat("a", maxLen) + "\n",
			maxLen:  maxLen,
			tags:    []Tag{TagFull, TagFull},
			content: []string{strings.Repeat("a", maxLen), strings.Repeat("a", maxLen)},
		},
		"log length exceed max length by 1": {
			input:  strings.Repeat("a", maxLen+1) + "\n" + strings.Repeat("a", maxLen+1) + "\n",
			maxLen: maxLen,
			tags:   []Tag{TagPartial, TagFull, TagPartial, TagFull},
			content: []string{
				strings.Repeat("a", maxLen), "a",
				strings.Repeat("a", maxLen), "a",
			},
		},
		"max length shorter than buffer size": {
			input:  strings.Repeat("a", defaultBufSize*3/2+10) + "\n" + strings.Repeat("a", defaultBufSize*3/2+20) + "\n",
			maxLen: defaultBufSize / 2,
			tags: []Tag{
				TagPartial, TagPartial, TagPartial, TagFull,
				TagPartial, TagPartial, TagPartial, TagFull,
			},
			content: []string{
				strings.Repeat("a", defaultBufSize/2), strings.Repeat("a", defaultBufSize/2), strings.Repeat("a", defaultBufSize/2), strings.Repeat("a", 10),
				strings.Repeat("a", defaultBufSize/2), strings.Repeat("a", defaultBufSize/2), strings.Repeat("a", defaultBufSize/2), strings.Repeat("a", 20),
			},
		},
		"no limit if max length is 0": {
			input:   strings.Repeat("a", defaultBufSize*10+10) + "\n" + strings.Repeat("a", defaultBufSize*10+20) + "\n",
			maxLen:  0,
			tags:    []Tag{TagFull, TagFull},
			content: []string{strings.Repeat("a", defaultBufSize*10+10), strings.Repeat("a", defaultBufSize*10+20)},
		},
		"trailing carriage return is stripped": {
			input:   strings.Repeat("a", defaultBufSize-1) + "\r\n" + strings.Repeat("a", defaultBufSize-1) + "\r\n",
			maxLen:  -1,
			tags:    []Tag{TagFull, TagFull},
			content: []string{strings.Repeat("a", defaultBufSize-1), strings.Repeat("a", defaultBufSize-1)},
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			sink := &recordSink{}
			r := io.NopCloser(strings.NewReader(tc.input))
			require.NoError(t, Pump(r, PipeStdout, tc.maxLen, []Sink{sink}))

			require.Len(t, sink.segs, len(tc.content))
			for i, seg := range sink.segs {
				assert.Equal(t, tc.tags[i], seg.Tag)
				assert.Equal(t, tc.content[i], string(seg.Payload))
				assert.Equal(t, PipeStdout, seg.Pipe)
			}
		})
	}
}

func TestBlockingQueueBlocksWhenFull(t *testing.T) {
	q := NewBlockingQueue(1)
	q.Enqueue(Segment{Payload: []byte("a")})

	done := make(chan struct{})
	go func() {
		q.Enqueue(Segment{Payload: []byte("b")})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Enqueue on full blocking queue returned early")
	default:
	}

	<-q.Chan()
	<-done
}

func TestDroppingQueueDisconnectsOnOverflow(t *testing.T) {
	dropped := make(chan struct{})
	q := NewDroppingQueue(1, func() { close(dropped) })

	q.Enqueue(Segment{Payload: []byte("a")})
	q.Enqueue(Segment{Payload: []byte("b")}) // queue full, triggers drop

	select {
	case <-dropped:
	default:
		t.Fatal("onFull was not invoked on overflow")
	}
}
