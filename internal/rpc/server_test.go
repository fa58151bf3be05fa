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

package rpc

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/conmonrs/internal/registry"
	"github.com/containers/conmonrs/internal/wire"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		Registry:             registry.New(),
		Log:                  logrus.NewEntry(logrus.New()),
		Version:              "1.2.3",
		Tag:                  "v1.2.3",
		RuntimeDir:           t.TempDir(),
		DefaultCgroupManager: "systemd",
	}
}

func TestDispatchVersion(t *testing.T) {
	s := testServer(t)
	resp, err := s.Dispatch(context.Background(), wire.OpVersion, wire.VersionRequest{})
	require.NoError(t, err)
	assert.Equal(t, wire.VersionResponse{Version: "1.2.3", Tag: "v1.2.3"}, resp)
}

func TestDispatchUnknownOpRejected(t *testing.T) {
	s := testServer(t)
	_, err := s.Dispatch(context.Background(), wire.Op(255), nil)
	assert.Equal(t, wire.StatusInvalidRequest, wire.StatusOf(err))
}

func TestDispatchPortForwardAlwaysUnsupported(t *testing.T) {
	s := testServer(t)
	_, err := s.Dispatch(context.Background(), wire.OpServePortForwardContainer, wire.ServePortForwardContainerRequest{PodID: "p1", Port: 80})
	assert.Equal(t, wire.StatusUnsupported, wire.StatusOf(err))
}

func TestDispatchCreateContainerRejectsMissingFields(t *testing.T) {
	s := testServer(t)
	_, err := s.Dispatch(context.Background(), wire.OpCreateContainer, wire.CreateContainerRequest{})
	assert.Equal(t, wire.StatusInvalidRequest, wire.StatusOf(err))
}

func TestDispatchExecSyncRejectsUnknownContainer(t *testing.T) {
	s := testServer(t)
	_, err := s.Dispatch(context.Background(), wire.OpExecSyncContainer, wire.ExecSyncContainerRequest{ContainerID: "nope", Command: []string{"true"}})
	assert.Equal(t, wire.StatusNotFound, wire.StatusOf(err))
}

func TestDispatchAttachRejectsUnknownContainer(t *testing.T) {
	s := testServer(t)
	_, err := s.Dispatch(context.Background(), wire.OpAttachContainer, wire.AttachContainerRequest{ContainerID: "nope"})
	assert.Equal(t, wire.StatusNotFound, wire.StatusOf(err))
}

func TestDispatchCreateNamespacesRejectsEmptyPodID(t *testing.T) {
	s := testServer(t)
	_, err := s.Dispatch(context.Background(), wire.OpCreateNamespaces, wire.CreateNamespacesRequest{})
	assert.Equal(t, wire.StatusInvalidRequest, wire.StatusOf(err))
}
