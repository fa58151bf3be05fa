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

// Package config resolves the monitor's settings from CLI flags,
// CONMONRS_* environment variables, an optional TOML file, and built-in
// defaults, in that order of precedence.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
)

// Config is the fully-resolved set of settings a Server needs to start.
type Config struct {
	Runtime         string `toml:"runtime"`
	RuntimeDir      string `toml:"runtime_dir"`
	RuntimeRoot     string `toml:"runtime_root"`
	LogLevel        string `toml:"log_level"`
	LogDriver       string `toml:"log_driver"`
	CgroupManager   string `toml:"cgroup_manager"`
	EnableTracing   bool   `toml:"enable_tracing"`
	TracingEndpoint string `toml:"tracing_endpoint"`
	SocketPath      string `toml:"socket_path"`
	MetricsAddress  string `toml:"metrics_address"`
}

// Default returns the built-in baseline every other layer overrides.
func Default() Config {
	return Config{
		LogLevel:      "info",
		LogDriver:     "stdout",
		CgroupManager: "systemd",
	}
}

// fileLayer parses path (if non-empty) as TOML over base, returning base
// unchanged if path is empty.
func fileLayer(base Config, path string) (Config, error) {
	if path == "" {
		return base, nil
	}
	if _, err := toml.DecodeFile(path, &base); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return base, nil
}

// envLayer applies CONMONRS_* environment overrides on top of cfg. The
// urfave/cli App itself resolves the same variables per-flag (see Flags
// below, each carrying an EnvVars entry); this function serves FromEnv,
// which resolves a Config without going through the CLI parser at all.
func envLayer(cfg Config, lookup func(string) (string, bool)) Config {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Runtime, "CONMONRS_RUNTIME")
	set(&cfg.RuntimeDir, "CONMONRS_RUNTIME_DIR")
	set(&cfg.RuntimeRoot, "CONMONRS_RUNTIME_ROOT")
	set(&cfg.LogLevel, "CONMONRS_LOG_LEVEL")
	set(&cfg.LogDriver, "CONMONRS_LOG_DRIVER")
	set(&cfg.CgroupManager, "CONMONRS_CGROUP_MANAGER")
	set(&cfg.TracingEndpoint, "CONMONRS_TRACING_ENDPOINT")
	set(&cfg.SocketPath, "CONMONRS_SOCKET")
	set(&cfg.MetricsAddress, "CONMONRS_METRICS_ADDRESS")
	return cfg
}

// FromEnv resolves file+env layers over the default, without touching CLI
// flags. cmd/conmonrs's main uses it to seed the CLI flag defaults before
// the flags themselves are parsed.
func FromEnv(configPath string, lookup func(string) (string, bool)) (Config, error) {
	cfg, err := fileLayer(Default(), configPath)
	if err != nil {
		return Config{}, err
	}
	return envLayer(cfg, lookup), nil
}

// SocketOrDefault returns cfg.SocketPath, defaulting to
// <runtime-dir>/conmon.sock per spec.md §6's filesystem layout.
func (c Config) SocketOrDefault() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(c.RuntimeDir, "conmon.sock")
}

// Flags is the urfave/cli flag set main() registers. Each flag's Value is
// seeded from cfg's current field, so the caller is expected to have
// already resolved cfg through FromEnv (default < file < env) before
// calling Flags: urfave/cli overwrites Destination with Value whenever
// the flag is absent from argv, so that seed is what makes file/env
// values survive an App.Run that supplies neither the flag nor its
// environment variable. An explicit command-line flag still wins, since
// flag.FlagSet.Parse runs after Apply and assigns Destination again.
func Flags(cfg *Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
		&cli.StringFlag{Name: "runtime", Value: cfg.Runtime, Required: cfg.Runtime == "", EnvVars: []string{"CONMONRS_RUNTIME"}, Destination: &cfg.Runtime},
		&cli.StringFlag{Name: "runtime-dir", Value: cfg.RuntimeDir, Required: cfg.RuntimeDir == "", EnvVars: []string{"CONMONRS_RUNTIME_DIR"}, Destination: &cfg.RuntimeDir},
		&cli.StringFlag{Name: "runtime-root", Value: cfg.RuntimeRoot, EnvVars: []string{"CONMONRS_RUNTIME_ROOT"}, Destination: &cfg.RuntimeRoot},
		&cli.StringFlag{Name: "log-level", Value: cfg.LogLevel, EnvVars: []string{"CONMONRS_LOG_LEVEL"}, Destination: &cfg.LogLevel},
		&cli.StringFlag{Name: "log-driver", Value: cfg.LogDriver, EnvVars: []string{"CONMONRS_LOG_DRIVER"}, Destination: &cfg.LogDriver},
		&cli.StringFlag{Name: "cgroup-manager", Value: cfg.CgroupManager, EnvVars: []string{"CONMONRS_CGROUP_MANAGER"}, Destination: &cfg.CgroupManager},
		&cli.BoolFlag{Name: "enable-tracing", Value: cfg.EnableTracing, Destination: &cfg.EnableTracing},
		&cli.StringFlag{Name: "tracing-endpoint", Value: cfg.TracingEndpoint, EnvVars: []string{"CONMONRS_TRACING_ENDPOINT"}, Destination: &cfg.TracingEndpoint},
		&cli.StringFlag{Name: "socket", Value: cfg.SocketPath, EnvVars: []string{"CONMONRS_SOCKET"}, Destination: &cfg.SocketPath},
		&cli.StringFlag{Name: "metrics-address", Usage: "address to serve Prometheus metrics on, e.g. 127.0.0.1:9090 (disabled if empty)", Value: cfg.MetricsAddress, EnvVars: []string{"CONMONRS_METRICS_ADDRESS"}, Destination: &cfg.MetricsAddress},
	}
}

// Validate rejects a config that would fail at startup rather than mid-run.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "off":
	default:
		return fmt.Errorf("config: invalid log level %q", c.LogLevel)
	}
	switch c.LogDriver {
	case "stdout", "systemd", "file":
	default:
		return fmt.Errorf("config: invalid log driver %q", c.LogDriver)
	}
	switch c.CgroupManager {
	case "systemd", "cgroupfs", "per-command":
	default:
		return fmt.Errorf("config: invalid cgroup manager %q", c.CgroupManager)
	}
	if c.Runtime == "" {
		return fmt.Errorf("config: runtime is required")
	}
	if c.RuntimeDir == "" {
		return fmt.Errorf("config: runtime-dir is required")
	}
	return nil
}
