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

package attach

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/containers/conmonrs/internal/stream"
)

func dial(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	require.NoError(t, err)
	return conn
}

func TestTwoSubscribersBothReceiveInOrder(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "attach.sock")
	h, err := New("c1", sockPath, nil)
	require.NoError(t, err)
	defer h.Close()

	c1 := dial(t, sockPath)
	defer c1.Close()
	c2 := dial(t, sockPath)
	defer c2.Close()

	time.Sleep(20 * time.Millisecond) // allow accept loop to register both

	h.Enqueue(stream.Segment{Pipe: stream.PipeStdout, Tag: stream.TagFull, Payload: []byte("marker")})

	for _, c := range []*net.UnixConn{c1, c2} {
		buf := make([]byte, maxDatagram)
		c.SetReadDeadline(time.Now().Add(time.Second))
		n, err := c.Read(buf)
		require.NoError(t, err)
		require.Equal(t, byte(2), buf[0])
		require.Equal(t, "marker\n", string(buf[1:n]))
	}
}

func TestDisconnectingOneSubscriberDoesNotAffectOther(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "attach.sock")
	h, err := New("c1", sockPath, nil)
	require.NoError(t, err)
	defer h.Close()

	c1 := dial(t, sockPath)
	c2 := dial(t, sockPath)
	defer c2.Close()

	time.Sleep(20 * time.Millisecond)
	c1.Close()
	time.Sleep(20 * time.Millisecond)

	h.Enqueue(stream.Segment{Pipe: stream.PipeStdout, Tag: stream.TagFull, Payload: []byte("still alive")})

	buf := make([]byte, maxDatagram)
	c2.SetReadDeadline(time.Now().Add(time.Second))
	n, err := c2.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "still alive\n", string(buf[1:n]))
}

func TestResizeFailsWithoutConsole(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "attach.sock")
	h, err := New("c1", sockPath, nil)
	require.NoError(t, err)
	defer h.Close()

	require.Error(t, h.Resize(80, 24))
}
