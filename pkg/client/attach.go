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

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"
)

// Pipe identifies which stream a byte read off the attach socket
// belongs to; it is the first byte of every frame internal/attach's Hub
// writes, matching internal/attach's own pipeID constants.
type Pipe byte

const (
	PipeStdin  Pipe = 1
	PipeStdout Pipe = 2
	PipeStderr Pipe = 3
)

// ErrDetach is the error for a detach key sequence read from Stdin.
// StreamAttach does not watch Stdin for detach keys and never returns it.
var ErrDetach = errors.New("client: detach key sequence received")

// AttachIO wires the local ends of an attach session.
type AttachIO struct {
	Stdin          io.Reader
	Stdout, Stderr io.Writer

	AttachStdin, AttachStdout, AttachStderr bool
}

// StreamAttach dials socketPath (a SEQPACKET socket previously opened
// by an AttachContainer or ServeAttachContainer call) and pumps bytes
// between it and streams until one side closes or the context is cancelled.
func StreamAttach(ctx context.Context, socketPath string, streams AttachIO) error {
	conn, err := net.Dial("unixpacket", socketPath)
	if err != nil {
		return fmt.Errorf("client: dial attach socket %s: %w", socketPath, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	outErrCh := make(chan error, 1)
	go func() { outErrCh <- demux(conn, streams) }()

	inErrCh := make(chan error, 1)
	go func() {
		var err error
		if streams.AttachStdin && streams.Stdin != nil {
			// internal/attach.Hub.pumpIn forwards a subscriber's datagrams
			// to the container's stdin verbatim, with no tag byte of its
			// own; only the hub's outgoing frames (stdout/stderr) are tagged.
			_, err = io.Copy(conn, streams.Stdin)
		}
		inErrCh <- err
	}()

	select {
	case err := <-outErrCh:
		return err
	case err := <-inErrCh:
		if err == nil {
			if uc, ok := conn.(interface{ CloseWrite() error }); ok {
				if cerr := uc.CloseWrite(); cerr != nil {
					logrus.Debugf("client: close attach write side: %v", cerr)
				}
			}
			if streams.AttachStdout || streams.AttachStderr {
				return <-outErrCh
			}
		}
		return err
	}
}

// demux reads framed segments off conn (first byte is the Pipe tag,
// followed by the payload and a trailing newline internal/attach.Hub
// appends for readability) and writes each payload to the matching
// output stream.
func demux(conn net.Conn, streams AttachIO) error {
	buf := make([]byte, 8193)
	for {
		n, err := conn.Read(buf)
		if n > 1 {
			payload := buf[1:n]
			if len(payload) > 0 && payload[len(payload)-1] == '\n' {
				payload = payload[:len(payload)-1]
			}
			var dst io.Writer
			var enabled bool
			switch Pipe(buf[0]) {
			case PipeStdout:
				dst, enabled = streams.Stdout, streams.AttachStdout
			case PipeStderr:
				dst, enabled = streams.Stderr, streams.AttachStderr
			default:
				logrus.Debugf("client: unexpected attach pipe tag %d", buf[0])
			}
			if enabled && dst != nil {
				if _, werr := dst.Write(payload); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
