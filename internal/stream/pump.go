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

// Package stream reads a container's stdio, segments it into lines bounded
// by a driver-specific maximum, and fans each segment out to every
// configured queue in read order.
package stream

import (
	"bufio"
	"fmt"
	"io"
)

// defaultBufSize matches the historical CRI logger's read granularity; it
// does not bound the length of a delivered segment, only how much is
// pulled from the source per underlying read.
const defaultBufSize = 4096

// PipeID names which stdio source a segment came from.
type PipeID string

const (
	PipeStdout PipeID = "stdout"
	PipeStderr PipeID = "stderr"
)

// Tag marks whether a segment ends a source line (Full) or was split
// because it hit the length limit or the source closed mid-line (Partial).
type Tag string

const (
	TagFull    Tag = "F"
	TagPartial Tag = "P"
)

// Segment is one unit of output handed to every sink.
type Segment struct {
	Pipe    PipeID
	Tag     Tag
	Payload []byte
}

// Sink receives segments in order. Queue implements it with either
// blocking or best-effort-dropping semantics.
type Sink interface {
	Enqueue(seg Segment)
}

// Pump reads r to EOF, splitting into segments of at most maxLen bytes
// (maxLen <= 0 means unbounded) and delivering each, in order, to every
// sink. It returns when r is exhausted or a read error occurs.
func Pump(r io.Reader, pipe PipeID, maxLen int, sinks []Sink) error {
	br := bufio.NewReaderSize(r, defaultBufSize)
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			deliver(raw, pipe, maxLen, sinks)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("stream: read %s: %w", pipe, err)
		}
	}
}

func deliver(raw []byte, pipe PipeID, maxLen int, sinks []Sink) {
	hadNewline := raw[len(raw)-1] == '\n'
	content := raw
	if hadNewline {
		content = content[:len(content)-1]
		if len(content) > 0 && content[len(content)-1] == '\r' {
			content = content[:len(content)-1]
		}
	}

	if maxLen > 0 {
		for len(content) > maxLen {
			writeToAll(sinks, pipe, TagPartial, content[:maxLen])
			content = content[maxLen:]
		}
	}

	tag := TagPartial
	if hadNewline {
		tag = TagFull
	}
	writeToAll(sinks, pipe, tag, content)
}

func writeToAll(sinks []Sink, pipe PipeID, tag Tag, payload []byte) {
	// Each sink gets its own copy: queues may retain the slice past this
	// call (e.g. a dropping queue's buffered channel), and the source
	// buffer is reused by the next ReadBytes call.
	for _, s := range sinks {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		s.Enqueue(Segment{Pipe: pipe, Tag: tag, Payload: buf})
	}
}
