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

// Package wire implements the monitor's request/response protocol: a
// length-delimited binary encoding carried over a local stream socket. There
// is no schema compiler in play here, so envelopes are encoded with
// encoding/gob rather than a generated wire format.
package wire

import (
	"errors"
	"fmt"
)

// Op identifies one of the monitor's RPC methods.
type Op uint8

const (
	OpVersion Op = iota + 1
	OpCreateContainer
	OpExecSyncContainer
	OpAttachContainer
	OpReopenLogContainer
	OpSetWindowSizeContainer
	OpCreateNamespaces
	OpServeExecContainer
	OpServeAttachContainer
	OpServePortForwardContainer
)

func (o Op) String() string {
	switch o {
	case OpVersion:
		return "Version"
	case OpCreateContainer:
		return "CreateContainer"
	case OpExecSyncContainer:
		return "ExecSyncContainer"
	case OpAttachContainer:
		return "AttachContainer"
	case OpReopenLogContainer:
		return "ReopenLogContainer"
	case OpSetWindowSizeContainer:
		return "SetWindowSizeContainer"
	case OpCreateNamespaces:
		return "CreateNamespaces"
	case OpServeExecContainer:
		return "ServeExecContainer"
	case OpServeAttachContainer:
		return "ServeAttachContainer"
	case OpServePortForwardContainer:
		return "ServePortForwardContainer"
	default:
		return fmt.Sprintf("Op(%d)", o)
	}
}

// Status is the closed taxonomy of RPC failure kinds from spec §7. TimedOut
// is not among them: an exec timeout is a successful response.
type Status int

const (
	StatusInvalidRequest Status = iota + 1
	StatusAlreadyExists
	StatusNotFound
	StatusRuntimeFailed
	StatusIOFailure
	StatusShuttingDown
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusInvalidRequest:
		return "invalid request"
	case StatusAlreadyExists:
		return "already exists"
	case StatusNotFound:
		return "not found"
	case StatusRuntimeFailed:
		return "runtime failed"
	case StatusIOFailure:
		return "i/o failure"
	case StatusShuttingDown:
		return "shutting down"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown status"
	}
}

// Error is a status-carrying error returned by C6/C9 and serialized by the
// dispatcher as a typed failure rather than a success payload.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(status Status, format string, args ...interface{}) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the Status from err if it is (or wraps) a *Error,
// defaulting to StatusIOFailure for opaque errors — an internal failure that
// was not deliberately classified is treated as this monitor's own fault.
func StatusOf(err error) Status {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusIOFailure
}

// NamespaceKind enumerates the pod namespace kinds spec §3 names.
type NamespaceKind string

const (
	NamespaceIPC  NamespaceKind = "ipc"
	NamespaceNet  NamespaceKind = "net"
	NamespacePID  NamespaceKind = "pid"
	NamespaceUser NamespaceKind = "user"
	NamespaceUTS  NamespaceKind = "uts"
)

// Envelope is the unit exchanged over the wire: one request or response,
// tagged with its method and an optional trace-propagation metadata map.
type Envelope struct {
	Op      Op
	Meta    map[string]string
	Payload interface{}
}

// VersionRequest carries nothing; the RPC is a liveness/compatibility probe.
type VersionRequest struct{}

// VersionResponse reports the monitor's own version for client-side semver
// compatibility checks (see pkg/version and pkg/client).
type VersionResponse struct {
	Version string
	Tag     string
}

// CreateContainerRequest asks the monitor to create (but not start) a
// container from an already-prepared OCI bundle.
type CreateContainerRequest struct {
	ID              string
	PodID           string
	BundlePath      string
	Terminal        bool
	Stdin           bool
	ExitPaths       []string
	OOMExitPaths    []string
	LogDrivers      []LogDriverSpec
	CleanupCmd      []string
	CgroupManager   string // "" means use the server default
	AdditionalFDs   []uintptr
	LeakFDs         []uintptr
}

// LogDriverSpec configures one log sink for a container.
type LogDriverSpec struct {
	Kind    string // "cri", "json", "journald", "stdout"
	Path    string
	MaxSize int64
}

// CreateContainerResponse reports the runtime-assigned PID once `create`
// has returned and the pidfile has been read back.
type CreateContainerResponse struct {
	PID int
}

// ExecSyncContainerRequest runs a one-shot command inside a running
// container and waits (bounded by Timeout, 0 meaning unbounded) for it to
// finish, capturing its output.
type ExecSyncContainerRequest struct {
	ContainerID string
	Command     []string
	Timeout     int64 // seconds; 0 = no timeout
	Terminal    bool
}

// ExecSyncContainerResponse is always a success payload; TimedOut is not an
// error per spec §7.
type ExecSyncContainerResponse struct {
	ExitCode int32
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
}

// AttachContainerRequest opens (or reuses) the per-container SEQPACKET
// socket at SocketPath, ready for the caller to connect and stream on.
type AttachContainerRequest struct {
	ContainerID string
	SocketPath  string
	Stdin       bool
	Stdout      bool
	Stderr      bool
}

// AttachContainerResponse acknowledges the socket is ready to accept.
type AttachContainerResponse struct{}

// ReopenLogContainerRequest forces every file-backed log driver on the
// container to close and reopen (truncating) regardless of size.
type ReopenLogContainerRequest struct {
	ContainerID string
}

type ReopenLogContainerResponse struct{}

// SetWindowSizeContainerRequest resizes a TTY container's console.
type SetWindowSizeContainerRequest struct {
	ContainerID string
	ExecID      string // not consulted: the container's own console is resized
	Width       uint16
	Height      uint16
}

type SetWindowSizeContainerResponse struct{}

// CreateNamespacesRequest asks the monitor to bind-mount a fresh namespace
// set for a pod.
type CreateNamespacesRequest struct {
	PodID      string
	Kinds      []NamespaceKind
	BaseDir    string
	UIDMapping []IDMapping
	GIDMapping []IDMapping
}

// IDMapping mirrors a single OCI uid/gid mapping entry.
type IDMapping struct {
	ContainerID int64
	HostID      int64
	Size        int64
}

// CreateNamespacesResponse reports the created namespace paths, one per
// requested kind, in the same order as the request.
type CreateNamespacesResponse struct {
	Paths []string
}

// ServeExecContainerRequest opens a long-lived, interactive exec session
// reachable over its own SEQPACKET socket, distinct from ExecSync.
type ServeExecContainerRequest struct {
	ContainerID string
	Command     []string
	Terminal    bool
	SocketPath  string
}

type ServeExecContainerResponse struct {
	URL string
}

// ServeAttachContainerRequest is the streaming counterpart of
// AttachContainer for engines that want a dedicated URL instead of a
// pre-shared socket path.
type ServeAttachContainerRequest struct {
	ContainerID string
}

type ServeAttachContainerResponse struct {
	URL string
}

// ServePortForwardContainerRequest is accepted for protocol completeness;
// the monitor does not implement network port-forwarding itself (that is
// the CNI plugin's job) and always fails with StatusUnsupported.
type ServePortForwardContainerRequest struct {
	PodID string
	Port  int32
}

type ServePortForwardContainerResponse struct {
	URL string
}
