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
	"fmt"

	"github.com/containers/conmonrs/internal/wire"
)

// CreateContainerConfig mirrors wire.CreateContainerRequest with the
// engine-facing names the original Cap'n Proto client exposed.
type CreateContainerConfig struct {
	ID            string
	PodID         string
	BundlePath    string
	Terminal      bool
	Stdin         bool
	ExitPaths     []string
	OOMExitPaths  []string
	LogDrivers    []wire.LogDriverSpec
	CleanupCmd    []string
	CgroupManager string
	AdditionalFDs []uintptr
	LeakFDs       []uintptr
}

// CreateContainer asks the monitor to create (but not start) a container.
func (c *Client) CreateContainer(ctx context.Context, cfg *CreateContainerConfig) (*wire.CreateContainerResponse, error) {
	resp, err := c.call(ctx, wire.OpCreateContainer, wire.CreateContainerRequest{
		ID:            cfg.ID,
		PodID:         cfg.PodID,
		BundlePath:    cfg.BundlePath,
		Terminal:      cfg.Terminal,
		Stdin:         cfg.Stdin,
		ExitPaths:     cfg.ExitPaths,
		OOMExitPaths:  cfg.OOMExitPaths,
		LogDrivers:    cfg.LogDrivers,
		CleanupCmd:    cfg.CleanupCmd,
		CgroupManager: cfg.CgroupManager,
		AdditionalFDs: cfg.AdditionalFDs,
		LeakFDs:       cfg.LeakFDs,
	})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(wire.CreateContainerResponse)
	if !ok {
		return nil, fmt.Errorf("client: unexpected create response type %T", resp)
	}
	return &v, nil
}

// ExecSyncConfig configures a one-shot in-container command.
type ExecSyncConfig struct {
	ID       string
	Command  []string
	Timeout  int64
	Terminal bool
}

// ExecSyncContainer runs a command inside a running container and waits
// for it to finish, capturing its output.
func (c *Client) ExecSyncContainer(ctx context.Context, cfg *ExecSyncConfig) (*wire.ExecSyncContainerResponse, error) {
	resp, err := c.call(ctx, wire.OpExecSyncContainer, wire.ExecSyncContainerRequest{
		ContainerID: cfg.ID,
		Command:     cfg.Command,
		Timeout:     cfg.Timeout,
		Terminal:    cfg.Terminal,
	})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(wire.ExecSyncContainerResponse)
	if !ok {
		return nil, fmt.Errorf("client: unexpected exec response type %T", resp)
	}
	return &v, nil
}

// AttachConfig configures a pre-shared attach socket.
type AttachConfig struct {
	ID         string
	SocketPath string
	Stdin      bool
	Stdout     bool
	Stderr     bool
}

// AttachContainer asks the monitor to open (or reuse) the attach socket
// at cfg.SocketPath; the caller then dials that socket directly to
// stream.
func (c *Client) AttachContainer(ctx context.Context, cfg *AttachConfig) error {
	_, err := c.call(ctx, wire.OpAttachContainer, wire.AttachContainerRequest{
		ContainerID: cfg.ID,
		SocketPath:  cfg.SocketPath,
		Stdin:       cfg.Stdin,
		Stdout:      cfg.Stdout,
		Stderr:      cfg.Stderr,
	})
	return err
}

// ReopenLogContainer forces every file-backed log driver on the
// container to close and reopen.
func (c *Client) ReopenLogContainer(ctx context.Context, id string) error {
	_, err := c.call(ctx, wire.OpReopenLogContainer, wire.ReopenLogContainerRequest{ContainerID: id})
	return err
}

// SetWindowSizeContainer resizes a TTY container's console. execID is sent
// along but the monitor does not consult it: exec sessions' consoles are
// not resized by this call.
func (c *Client) SetWindowSizeContainer(ctx context.Context, id, execID string, width, height uint16) error {
	_, err := c.call(ctx, wire.OpSetWindowSizeContainer, wire.SetWindowSizeContainerRequest{
		ContainerID: id,
		ExecID:      execID,
		Width:       width,
		Height:      height,
	})
	return err
}

// CreateNamespacesConfig configures a pod namespace set.
type CreateNamespacesConfig struct {
	PodID      string
	Kinds      []wire.NamespaceKind
	BaseDir    string
	UIDMapping []wire.IDMapping
	GIDMapping []wire.IDMapping
}

// CreateNamespaces bind-mounts a fresh namespace set for a pod, returning
// one path per requested kind in request order.
func (c *Client) CreateNamespaces(ctx context.Context, cfg *CreateNamespacesConfig) ([]string, error) {
	resp, err := c.call(ctx, wire.OpCreateNamespaces, wire.CreateNamespacesRequest{
		PodID:      cfg.PodID,
		Kinds:      cfg.Kinds,
		BaseDir:    cfg.BaseDir,
		UIDMapping: cfg.UIDMapping,
		GIDMapping: cfg.GIDMapping,
	})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(wire.CreateNamespacesResponse)
	if !ok {
		return nil, fmt.Errorf("client: unexpected namespaces response type %T", resp)
	}
	return v.Paths, nil
}

// ServeExecContainer opens a long-lived interactive exec session and
// returns the URL the caller dials to stream it.
func (c *Client) ServeExecContainer(ctx context.Context, id string, command []string, terminal bool, socketPath string) (string, error) {
	resp, err := c.call(ctx, wire.OpServeExecContainer, wire.ServeExecContainerRequest{
		ContainerID: id,
		Command:     command,
		Terminal:    terminal,
		SocketPath:  socketPath,
	})
	if err != nil {
		return "", err
	}
	v, ok := resp.(wire.ServeExecContainerResponse)
	if !ok {
		return "", fmt.Errorf("client: unexpected serve-exec response type %T", resp)
	}
	return v.URL, nil
}

// ServeAttachContainer is the streaming counterpart of AttachContainer
// for callers that want a dedicated URL rather than a pre-shared path.
func (c *Client) ServeAttachContainer(ctx context.Context, id string) (string, error) {
	resp, err := c.call(ctx, wire.OpServeAttachContainer, wire.ServeAttachContainerRequest{ContainerID: id})
	if err != nil {
		return "", err
	}
	v, ok := resp.(wire.ServeAttachContainerResponse)
	if !ok {
		return "", fmt.Errorf("client: unexpected serve-attach response type %T", resp)
	}
	return v.URL, nil
}

// ServePortForwardContainer always fails: port-forwarding is provided by
// the CNI plugin, not the monitor. Exposed for protocol completeness so
// callers get a typed wire.Error rather than an unknown-method failure.
func (c *Client) ServePortForwardContainer(ctx context.Context, podID string, port int32) (string, error) {
	resp, err := c.call(ctx, wire.OpServePortForwardContainer, wire.ServePortForwardContainerRequest{PodID: podID, Port: port})
	if err != nil {
		return "", err
	}
	v, ok := resp.(wire.ServePortForwardContainerResponse)
	if !ok {
		return "", fmt.Errorf("client: unexpected serve-portforward response type %T", resp)
	}
	return v.URL, nil
}
