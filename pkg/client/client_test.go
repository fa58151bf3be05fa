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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToClientRejectsMissingRuntime(t *testing.T) {
	cfg := &ServerConfig{RunDir: t.TempDir()}
	_, err := cfg.toClient()
	assert.ErrorIs(t, err, errRuntimeUnspecified)
}

func TestToClientRejectsMissingRunDir(t *testing.T) {
	cfg := &ServerConfig{Runtime: "runc"}
	_, err := cfg.toClient()
	assert.ErrorIs(t, err, errRunDirUnspecified)
}

func TestToClientDerivesSocketPath(t *testing.T) {
	dir := t.TempDir()
	cfg := &ServerConfig{Runtime: "runc", RunDir: dir}
	c, err := cfg.toClient()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conmon.sock"), c.socketPath)
}

func TestToArgsRejectsUnknownCgroupManager(t *testing.T) {
	c := &Client{}
	_, _, err := c.toArgs(&ServerConfig{Runtime: "runc", RunDir: "/run/x", CgroupManager: "bogus"})
	assert.ErrorIs(t, err, errUndefinedCgroup)
}

func TestToArgsBuildsExpectedFlags(t *testing.T) {
	c := &Client{}
	entrypoint, args, err := c.toArgs(&ServerConfig{
		ServerPath: "/usr/bin/conmonrs",
		Runtime:    "runc",
		RunDir:     "/run/pod-1",
		LogLevel:   "debug",
		LogDriver:  "systemd",
	})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/conmonrs", entrypoint)
	assert.Contains(t, args, "--runtime")
	assert.Contains(t, args, "runc")
	assert.Contains(t, args, "--log-driver")
	assert.Contains(t, args, "systemd")
	assert.Contains(t, args, "--ready-fifo")
}

func TestPidGivenFileParsesDecimalPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pidfile")
	require.NoError(t, os.WriteFile(path, []byte("4242"), 0o644))

	pid, err := pidGivenFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(4242), pid)
}

func TestPidGivenFileRejectsMissingFile(t *testing.T) {
	_, err := pidGivenFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestShutdownIsNoopWithoutServerPID(t *testing.T) {
	c := &Client{}
	assert.NoError(t, c.Shutdown())
}
