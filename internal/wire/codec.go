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

package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single envelope so a malformed length prefix cannot
// force an unbounded allocation.
const MaxFrameSize = 32 << 20

func init() {
	gob.Register(VersionRequest{})
	gob.Register(VersionResponse{})
	gob.Register(CreateContainerRequest{})
	gob.Register(CreateContainerResponse{})
	gob.Register(ExecSyncContainerRequest{})
	gob.Register(ExecSyncContainerResponse{})
	gob.Register(AttachContainerRequest{})
	gob.Register(AttachContainerResponse{})
	gob.Register(ReopenLogContainerRequest{})
	gob.Register(ReopenLogContainerResponse{})
	gob.Register(SetWindowSizeContainerRequest{})
	gob.Register(SetWindowSizeContainerResponse{})
	gob.Register(CreateNamespacesRequest{})
	gob.Register(CreateNamespacesResponse{})
	gob.Register(ServeExecContainerRequest{})
	gob.Register(ServeExecContainerResponse{})
	gob.Register(ServeAttachContainerRequest{})
	gob.Register(ServeAttachContainerResponse{})
	gob.Register(ServePortForwardContainerRequest{})
	gob.Register(ServePortForwardContainerResponse{})
	gob.Register(&Error{})
}

// response is the wire shape of a reply: exactly one of Payload/Err is set.
type response struct {
	Op      Op
	Meta    map[string]string
	Payload interface{}
	Err     *Error
}

// WriteEnvelope encodes env as a gob stream and writes it to w prefixed by
// its 4-byte big-endian length.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	return writeFrame(w, env)
}

// WriteResponse encodes a reply for op, carrying either payload or err (not
// both).
func WriteResponse(w io.Writer, op Op, meta map[string]string, payload interface{}, err error) error {
	r := &response{Op: op, Meta: meta, Payload: payload}
	if err != nil {
		if e, ok := err.(*Error); ok {
			r.Err = e
		} else {
			r.Err = Errorf(StatusIOFailure, "%s", err.Error())
		}
	}
	return writeFrame(w, r)
}

// ReadEnvelope reads and decodes one request frame from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	env := &Envelope{}
	if err := readFrame(r, env); err != nil {
		return nil, err
	}
	return env, nil
}

// ReadResponse reads and decodes one response frame from r, returning the
// carried error (if any) as a plain Go error.
func ReadResponse(r io.Reader) (Op, map[string]string, interface{}, error) {
	resp := &response{}
	if err := readFrame(r, resp); err != nil {
		return 0, nil, nil, err
	}
	if resp.Err != nil {
		return resp.Op, resp.Meta, nil, resp.Err
	}
	return resp.Op, resp.Meta, resp.Payload, nil
}

func writeFrame(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	if buf.Len() > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", buf.Len())
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(buf.Len()))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write length: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("wire: read payload: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}
