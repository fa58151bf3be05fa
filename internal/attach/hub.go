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

// Package attach implements the per-container attach hub: a SEQPACKET
// unix socket that any number of clients may connect to, each receiving
// an independent copy of the container's output from the moment it
// subscribes, and optionally forwarding its own datagrams as stdin.
package attach

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/containerd/console"

	"github.com/containers/conmonrs/internal/stream"
)

const (
	pipeIDStdin  byte = 1
	pipeIDStdout byte = 2
	pipeIDStderr byte = 3

	// maxDatagram is the largest frame the socket protocol allows, per
	// spec §6.
	maxDatagram = 8 * 1024

	subscriberQueueDepth = 32
)

// Hub owns one container's attach socket. It implements stream.Sink so a
// pump can register it as one more fan-out target; internally it forks
// each segment to every live subscriber's own dropping queue.
type Hub struct {
	containerID string
	socketPath  string
	stdinWriter io.WriteCloser // container's stdin write end, or nil

	listener *net.UnixListener

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	console     console.Console // set only for TTY containers
	closed      bool
}

type subscriber struct {
	conn   *net.UnixConn
	queue  *stream.Queue
	stdin  bool
	stdout bool
	stderr bool
}

// New creates the listening socket at socketPath (removing any stale file
// first) and starts the accept loop in a background goroutine.
func New(containerID, socketPath string, stdin io.WriteCloser) (*Hub, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return nil, fmt.Errorf("attach: mkdir for socket: %w", err)
	}
	_ = os.Remove(socketPath)

	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: socketPath, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("attach: listen %s: %w", socketPath, err)
	}

	h := &Hub{
		containerID: containerID,
		socketPath:  socketPath,
		stdinWriter: stdin,
		listener:    l,
		subscribers: make(map[*subscriber]struct{}),
	}
	go h.acceptLoop()
	return h, nil
}

// SetConsole records the container's console master so SetWindowSize can
// issue a resize; called only for TTY containers.
func (h *Hub) SetConsole(c console.Console) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.console = c
}

func (h *Hub) acceptLoop() {
	for {
		conn, err := h.listener.AcceptUnix()
		if err != nil {
			return // listener closed
		}
		h.serve(conn)
	}
}

func (h *Hub) serve(conn *net.UnixConn) {
	sub := &subscriber{
		conn:   conn,
		queue:  stream.NewDroppingQueue(subscriberQueueDepth, func() { conn.Close() }),
		stdin:  true,
		stdout: true,
		stderr: true,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go h.pumpOut(sub)
	go h.pumpIn(sub)
}

func (h *Hub) pumpOut(sub *subscriber) {
	defer h.drop(sub)
	for seg := range sub.queue.Chan() {
		var id byte
		switch seg.Pipe {
		case stream.PipeStdout:
			id = pipeIDStdout
		case stream.PipeStderr:
			id = pipeIDStderr
		default:
			continue
		}
		payload := seg.Payload
		for {
			n := len(payload)
			if n > maxDatagram-2 {
				n = maxDatagram - 2
			}
			frame := make([]byte, 0, n+2)
			frame = append(frame, id)
			frame = append(frame, payload[:n]...)
			frame = append(frame, '\n')
			if _, err := sub.conn.Write(frame); err != nil {
				return
			}
			payload = payload[n:]
			if len(payload) == 0 {
				break
			}
		}
	}
}

func (h *Hub) pumpIn(sub *subscriber) {
	buf := make([]byte, maxDatagram)
	for {
		n, err := sub.conn.Read(buf)
		if err != nil {
			h.drop(sub)
			return
		}
		if n == 0 || h.stdinWriter == nil {
			continue
		}
		if _, err := h.stdinWriter.Write(buf[:n]); err != nil {
			h.drop(sub)
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()
	if ok {
		sub.queue.Close()
		sub.conn.Close()
	}
}

// Enqueue implements stream.Sink: broadcast seg to every live subscriber.
// Each subscriber has its own dropping queue, so a slow client never
// blocks the pump or its siblings.
func (h *Hub) Enqueue(seg stream.Segment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if seg.Pipe == stream.PipeStdout && !sub.stdout {
			continue
		}
		if seg.Pipe == stream.PipeStderr && !sub.stderr {
			continue
		}
		sub.queue.Enqueue(seg)
	}
}

// Resize issues TIOCSWINSZ on the container's console master.
func (h *Hub) Resize(width, height uint16) error {
	h.mu.Lock()
	c := h.console
	h.mu.Unlock()
	if c == nil {
		return fmt.Errorf("attach: container has no tty")
	}
	return c.Resize(console.WinSize{Width: width, Height: height})
}

// Close shuts down the listener and disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.drop(sub)
	}
	err := h.listener.Close()
	_ = os.Remove(h.socketPath)
	return err
}
