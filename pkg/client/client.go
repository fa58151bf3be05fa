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

// Package client is the engine-side library for talking to a monitor
// process: it reuses an already-running monitor when one answers on the
// expected socket, otherwise it spawns and daemonizes one itself, then
// speaks internal/wire's request/response protocol over a Unix socket for
// the lifetime of the pod.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/containers/conmonrs/internal/tracing"
	"github.com/containers/conmonrs/internal/wire"
	"github.com/containers/conmonrs/pkg/fifosync"
	"github.com/containers/conmonrs/pkg/version"
)

const (
	binaryName     = "conmonrs"
	pidFileName    = "pidfile"
	readyFIFOName  = "ready.fifo"
	defaultTimeout = 10 * time.Second
)

var (
	errRuntimeUnspecified = errors.New("client: runtime must be specified")
	errRunDirUnspecified  = errors.New("client: RunDir must be specified")
	errUndefinedCgroup    = errors.New("client: undefined cgroup manager")
	errTimeoutWaitForPid  = errors.New("client: timed out waiting for server PID to disappear")
)

// Client is the main entry point of this package. One Client corresponds
// to one monitor process, which in turn corresponds to one pod.
type Client struct {
	serverPID     uint32
	runDir        string
	socketPath    string
	logger        *logrus.Logger
	tracer        trace.Tracer
	serverVersion string

	mu   sync.Mutex
	conn net.Conn
}

// ServerConfig configures how New locates or spawns a monitor.
type ServerConfig struct {
	// ClientLogger overrides logrus.StandardLogger.
	ClientLogger *logrus.Logger

	// ServerPath is the monitor binary path. Empty means look up
	// "conmonrs" on $PATH.
	ServerPath string

	LogLevel  string
	LogDriver string

	Runtime     string
	RuntimeRoot string

	// RunDir is where the monitor keeps its socket, pidfile and
	// readiness FIFO. Every pod gets its own.
	RunDir string

	// Stdout/Stderr receive the monitor's own ambient log output when
	// LogDriver is "stdout" (may be nil).
	Stdout io.WriteCloser
	Stderr io.WriteCloser

	CgroupManager string

	Tracing *Tracing
}

// Tracing configures OpenTelemetry export on the spawned monitor.
type Tracing struct {
	Enabled  bool
	Endpoint string
	Tracer   trace.Tracer
}

// New locates a running monitor via a Version probe, and only if none
// answers does it spawn and daemonize a fresh one.
func New(config *ServerConfig) (cl *Client, retErr error) {
	c, err := config.toClient()
	if err != nil {
		return nil, fmt.Errorf("client: build client: %w", err)
	}

	ctx, cancel := defaultContext()
	defer cancel()

	if resp, err := c.Version(ctx); err == nil {
		c.serverVersion = resp.Version
		if pid, err := pidGivenFile(c.pidFile()); err == nil {
			c.serverPID = pid
		}
		return c, nil
	}

	if err := c.startServer(config); err != nil {
		return nil, fmt.Errorf("client: start server: %w", err)
	}

	defer func() {
		if retErr != nil {
			if err := c.Shutdown(); err != nil {
				c.logger.Errorf("client: unable to shut down server after failed start: %v", err)
			}
		}
	}()

	pid, err := pidGivenFile(c.pidFile())
	if err != nil {
		return nil, fmt.Errorf("client: read pid file: %w", err)
	}
	c.serverPID = pid

	if err := c.waitUntilServerUp(ctx); err != nil {
		return nil, fmt.Errorf("client: wait until server is up: %w", err)
	}

	return c, nil
}

func (c *ServerConfig) toClient() (*Client, error) {
	if c.Runtime == "" {
		return nil, errRuntimeUnspecified
	}
	if c.RunDir == "" {
		return nil, errRunDirUnspecified
	}
	if err := os.MkdirAll(c.RunDir, 0o755); err != nil {
		return nil, fmt.Errorf("client: create run dir: %w", err)
	}

	logger := c.ClientLogger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var tracer trace.Tracer
	if c.Tracing != nil {
		tracer = c.Tracing.Tracer
	}

	return &Client{
		runDir:     c.RunDir,
		socketPath: filepath.Join(c.RunDir, "conmon.sock"),
		logger:     logger,
		tracer:     tracer,
	}, nil
}

// startServer daemonizes a monitor: it opens a readiness FIFO
// (pkg/fifosync), starts the monitor in its own process group without
// waiting for it to exit, and blocks on the FIFO rather than polling. The
// monitor binds its own listening socket and fires the FIFO once that
// socket is bound.
func (c *Client) startServer(config *ServerConfig) error {
	entrypoint, args, err := c.toArgs(config)
	if err != nil {
		return fmt.Errorf("client: build args: %w", err)
	}

	ready, err := fifosync.NewWaiter(filepath.Join(c.runDir, readyFIFOName), 0o600)
	if err != nil {
		return fmt.Errorf("client: create readiness fifo: %w", err)
	}

	cmd := exec.Command(entrypoint, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if config.LogDriver == "stdout" || config.LogDriver == "" {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if config.Stdout != nil {
			cmd.Stdout = config.Stdout
		}
		if config.Stderr != nil {
			cmd.Stderr = config.Stderr
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("client: start monitor process: %w", err)
	}
	go cmd.Wait() //nolint:errcheck // reaped only to avoid a zombie; exit status is irrelevant here

	return ready.Wait()
}

func (c *Client) toArgs(config *ServerConfig) (entrypoint string, args []string, err error) {
	var cgroupManager string
	switch config.CgroupManager {
	case "", "systemd":
		cgroupManager = "systemd"
	case "cgroupfs":
		cgroupManager = "cgroupfs"
	default:
		return "", nil, errUndefinedCgroup
	}

	entrypoint = config.ServerPath
	if entrypoint == "" {
		path, err := exec.LookPath(binaryName)
		if err != nil {
			return "", nil, fmt.Errorf("client: find %s on PATH: %w", binaryName, err)
		}
		entrypoint = path
	}

	args = append(args, "--runtime", config.Runtime, "--runtime-dir", config.RunDir)
	if config.RuntimeRoot != "" {
		args = append(args, "--runtime-root", config.RuntimeRoot)
	}
	if config.LogLevel != "" {
		args = append(args, "--log-level", config.LogLevel)
	}
	if config.LogDriver != "" {
		args = append(args, "--log-driver", config.LogDriver)
	}

	args = append(args, "--cgroup-manager", cgroupManager)

	if config.Tracing != nil && config.Tracing.Enabled {
		args = append(args, "--enable-tracing")
		if config.Tracing.Endpoint != "" {
			args = append(args, "--tracing-endpoint", config.Tracing.Endpoint)
		}
	}

	args = append(args, "--ready-fifo", filepath.Join(config.RunDir, readyFIFOName))

	return entrypoint, args, nil
}

func pidGivenFile(file string) (uint32, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("client: read pid file: %w", err)
	}
	pid, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("client: parse pid: %w", err)
	}
	return uint32(pid), nil
}

func (c *Client) waitUntilServerUp(ctx context.Context) error {
	var err error
	for range 100 {
		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		_, err = c.Version(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return err
}

func defaultContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultTimeout)
}

func (c *Client) pidFile() string {
	return filepath.Join(c.runDir, pidFileName)
}

// call opens a fresh connection, sends one envelope and waits for its
// matching response. The wire protocol is request/response over a
// stream socket, so one connection per call keeps ordering trivial; the
// streaming RPCs (Attach, ServeExec, ServeAttach) instead hand back a
// socket path the caller dials directly.
func (c *Client) call(ctx context.Context, op wire.Op, req interface{}) (interface{}, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	meta := map[string]string{}
	if c.tracer != nil {
		tracing.InjectMeta(ctx, meta)
	}

	if err := wire.WriteEnvelope(conn, &wire.Envelope{Op: op, Meta: meta, Payload: req}); err != nil {
		return nil, fmt.Errorf("client: write request: %w", err)
	}

	_, _, payload, rpcErr := wire.ReadResponse(conn)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return payload, nil
}

// Version retrieves the server version without requiring any other RPC
// to have succeeded first; New relies on it to detect a live monitor.
func (c *Client) Version(ctx context.Context) (*wire.VersionResponse, error) {
	resp, err := c.call(ctx, wire.OpVersion, &wire.VersionRequest{})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(wire.VersionResponse)
	if !ok {
		return nil, fmt.Errorf("client: unexpected version response type %T", resp)
	}
	return &v, nil
}

// CompatibleWithServer reports whether this client build (version.Version) can
// safely talk to the monitor's advertised version, per pkg/version's
// major-equal/minor-forward rule.
func (c *Client) CompatibleWithServer(ctx context.Context) (bool, error) {
	resp, err := c.Version(ctx)
	if err != nil {
		return false, err
	}
	return version.CompatibleWith(version.Version, resp.Version)
}

// PID returns the monitor's process ID.
func (c *Client) PID() uint32 {
	return c.serverPID
}

// Shutdown sends SIGTERM to the monitor and waits up to 10 seconds for
// its PID to disappear.
func (c *Client) Shutdown() error {
	pid := int(c.serverPID)
	if pid == 0 {
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("client: signal server: %w", err)
	}

	const (
		interval = 100 * time.Millisecond
		attempts = 100
	)
	for range attempts {
		if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
			return nil
		}
		time.Sleep(interval)
	}
	return errTimeoutWaitForPid
}
