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

// Package supervisor owns the monitor's own process lifecycle: the
// listening socket, the accept loop that feeds internal/rpc, and the
// signal handling that gives shutdown a bounded grace period.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/containers/conmonrs/internal/rpc"
	"github.com/containers/conmonrs/internal/tracing"
	"github.com/containers/conmonrs/internal/wire"
)

// gracefulShutdownBound is how long a graceful drain is given before the
// process exits unconditionally, per spec §5's "bounded-time" shutdown.
const gracefulShutdownBound = 10 * time.Second

// Supervisor accepts client connections on a Unix stream socket and
// dispatches each decoded request onto an rpc.Server.
type Supervisor struct {
	socketPath string
	server     *rpc.Server
	tracer     *tracing.Provider
	log        *logrus.Entry

	listener net.Listener
	wg       sync.WaitGroup

	// Ready is closed once the listening socket is bound, so cmd/conmonrs's
	// main can fire the readiness FIFO a daemonizing pkg/client waits on
	// only after a racing dial is guaranteed to succeed.
	Ready chan struct{}
}

// New wires a Supervisor. GOMAXPROCS is set to 2 unless the GOMAXPROCS
// environment variable overrides it, matching the teacher's own
// setRuntime convention.
func New(socketPath string, server *rpc.Server, tracer *tracing.Provider, log *logrus.Entry) *Supervisor {
	applyGOMAXPROCS(log)
	return &Supervisor{socketPath: socketPath, server: server, tracer: tracer, log: log, Ready: make(chan struct{})}
}

func applyGOMAXPROCS(log *logrus.Entry) {
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
			return
		}
		log.Warnf("ignoring invalid GOMAXPROCS=%q", v)
	}
	runtime.GOMAXPROCS(2)
}

// ListenAndServe binds the socket, starts the accept loop, and blocks
// until a shutdown signal arrives or ctx is cancelled.
func (s *Supervisor) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath)
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("supervisor: listen %s: %w", s.socketPath, err)
	}
	s.listener = l
	s.log.WithField("socket", s.socketPath).Info("listening")
	close(s.Ready)

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	signal.Ignore(unix.SIGPIPE)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop()
	}()

	select {
	case sig := <-sigCh:
		s.log.WithField("signal", sig).Info("received shutdown signal")
	case <-ctx.Done():
		s.log.Info("context cancelled")
	case <-acceptDone:
		return fmt.Errorf("supervisor: accept loop exited unexpectedly")
	}

	return s.shutdown()
}

func (s *Supervisor) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Supervisor) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		env, err := wire.ReadEnvelope(conn)
		if err != nil {
			return
		}

		ctx := context.Background()
		spanCtx, endSpan := s.startSpan(ctx, env)

		resp, rpcErr := s.server.Dispatch(spanCtx, env.Op, env.Payload)
		endSpan()

		if err := wire.WriteResponse(conn, env.Op, env.Meta, resp, rpcErr); err != nil {
			return
		}
	}
}

func (s *Supervisor) startSpan(ctx context.Context, env *wire.Envelope) (context.Context, func()) {
	if s.tracer == nil {
		return ctx, func() {}
	}
	spanCtx, span := s.tracer.StartRPCSpan(ctx, env.Op.String(), env.Meta)
	return spanCtx, func() { span.End() }
}

// shutdown stops accepting new connections and waits up to
// gracefulShutdownBound for in-flight requests to finish before returning
// regardless.
func (s *Supervisor) shutdown() error {
	s.listener.Close()
	os.Remove(s.socketPath)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracefulShutdownBound):
		s.log.Warn("graceful shutdown bound exceeded, exiting anyway")
	}
	return nil
}
