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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/containers/conmonrs/internal/cgroup"
	"github.com/containers/conmonrs/internal/config"
	"github.com/containers/conmonrs/internal/metrics"
	"github.com/containers/conmonrs/internal/nsutil"
	"github.com/containers/conmonrs/internal/reaper"
	"github.com/containers/conmonrs/internal/registry"
	"github.com/containers/conmonrs/internal/rpc"
	"github.com/containers/conmonrs/internal/runtimeinvoker"
	"github.com/containers/conmonrs/internal/supervisor"
	"github.com/containers/conmonrs/internal/tracing"
	"github.com/containers/conmonrs/pkg/fifosync"
	"github.com/containers/conmonrs/pkg/version"
)

func main() {
	// nsutil re-execs this same binary to unshare and bind-mount a
	// namespace set; that child must do nothing else, so it is
	// intercepted before any flag parsing or logging setup.
	if len(os.Args) > 1 && os.Args[1] == nsutil.HelperArg {
		if err := nsutil.ReexecHelper(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.FromEnv(preScanConfigFlag(args), os.LookupEnv)
	if err != nil {
		return fmt.Errorf("conmonrs: resolve config: %w", err)
	}

	app := cli.NewApp()
	app.Name = "conmonrs"
	app.Usage = "OCI container monitor: one process per pod, one supervised process per container"
	app.Version = version.String()
	app.Flags = append(config.Flags(&cfg),
		&cli.StringFlag{Name: "ready-fifo", Usage: "path to a FIFO to trigger once the socket is listening"},
	)
	app.HideVersion = false

	versionJSON := false
	app.Flags = append(app.Flags, &cli.BoolFlag{
		Name:        "version-json",
		Usage:       "print version information as JSON and exit",
		Destination: &versionJSON,
	})

	app.Action = func(c *cli.Context) error {
		if versionJSON {
			return printVersionJSON()
		}
		return serve(c.Context, cfg, c.String("ready-fifo"))
	}

	return app.Run(args)
}

// preScanConfigFlag finds --config's value without invoking the full CLI
// parser, so the TOML layer can seed each flag's Value before urfave/cli
// builds the flag set (see config.Flags's doc comment).
func preScanConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func printVersionJSON() error {
	return json.NewEncoder(os.Stdout).Encode(struct {
		Version string `json:"version"`
		Tag     string `json:"tag"`
	}{version.Version, version.Tag})
}

func serve(ctx context.Context, cfg config.Config, readyFIFO string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("conmonrs: invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("conmonrs: create runtime dir: %w", err)
	}

	log, err := supervisor.NewLogger(cfg.LogLevel, cfg.LogDriver, cfg.RuntimeDir)
	if err != nil {
		return fmt.Errorf("conmonrs: build logger: %w", err)
	}

	var tracer *tracing.Provider
	if cfg.EnableTracing {
		tracer, err = tracing.New(ctx, cfg.TracingEndpoint)
		if err != nil {
			return fmt.Errorf("conmonrs: init tracing: %w", err)
		}
		defer tracer.Shutdown(ctx) //nolint:errcheck // best effort flush on exit
	}

	invoker := runtimeinvoker.New(cfg.Runtime, cfg.RuntimeRoot, cfg.RuntimeDir)
	server := &rpc.Server{
		Registry:             registry.New(),
		Invoker:              invoker,
		Reaper:               reaper.New(log),
		Log:                  log,
		Version:              version.Version,
		Tag:                  version.Tag,
		RuntimeDir:           cfg.RuntimeDir,
		DefaultCgroupManager: cfg.CgroupManager,
		CgroupVersion:        cgroup.DetectVersion(),
	}

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics server exited")
			}
		}()
		go func() {
			<-ctx.Done()
			metricsSrv.Close() //nolint:errcheck // best effort on shutdown
		}()
	}

	socketPath := cfg.SocketOrDefault()
	sup := supervisor.New(socketPath, server, tracer, log)

	if err := writePidFile(cfg.RuntimeDir); err != nil {
		return fmt.Errorf("conmonrs: write pid file: %w", err)
	}
	defer os.Remove(filepath.Join(cfg.RuntimeDir, "pidfile"))

	if readyFIFO != "" {
		trigger, err := fifosync.NewTrigger(readyFIFO, 0o600)
		if err != nil {
			return fmt.Errorf("conmonrs: open ready fifo: %w", err)
		}
		go func() {
			<-sup.Ready
			if err := trigger.Trigger(); err != nil {
				log.WithError(err).Warn("failed to signal readiness fifo")
			}
		}()
	}

	log.WithField("version", version.Version).Info("conmonrs starting")
	return sup.ListenAndServe(ctx)
}

func writePidFile(runtimeDir string) error {
	return os.WriteFile(
		filepath.Join(runtimeDir, "pidfile"),
		[]byte(strconv.Itoa(os.Getpid())),
		0o644,
	)
}
