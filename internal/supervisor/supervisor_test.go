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

package supervisor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/conmonrs/internal/registry"
	"github.com/containers/conmonrs/internal/rpc"
	"github.com/containers/conmonrs/internal/wire"
)

func testServer(t *testing.T) *rpc.Server {
	t.Helper()
	return &rpc.Server{
		Registry:   registry.New(),
		Log:        logrus.NewEntry(logrus.New()),
		Version:    "1.0.0",
		RuntimeDir: t.TempDir(),
	}
}

func TestListenAndServeBindsSocketAndHonorsContextCancel(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "conmon.sock")
	sup := New(socketPath, testServer(t), nil, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.ListenAndServe(ctx) }()

	select {
	case <-sup.Ready:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never became ready")
	}

	_, err := os.Stat(socketPath)
	require.NoError(t, err)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}

	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestServeConnRoundTripsVersion(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "conmon.sock")
	sup := New(socketPath, testServer(t), nil, logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.ListenAndServe(ctx) //nolint:errcheck

	<-sup.Ready

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteEnvelope(conn, &wire.Envelope{Op: wire.OpVersion, Payload: wire.VersionRequest{}}))

	op, _, payload, rpcErr := wire.ReadResponse(conn)
	require.NoError(t, rpcErr)
	assert.Equal(t, wire.OpVersion, op)
	assert.Equal(t, wire.VersionResponse{Version: "1.0.0"}, payload)
}
