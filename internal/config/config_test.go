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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Runtime, cfg.RuntimeDir = "runc", "/run/conmonrs"
	cfg.LogLevel = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresRuntimeAndDir(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())
}

func TestSocketOrDefaultDerivesFromRuntimeDir(t *testing.T) {
	cfg := Default()
	cfg.RuntimeDir = "/run/conmonrs/pod-1"
	assert.Equal(t, "/run/conmonrs/pod-1/conmon.sock", cfg.SocketOrDefault())
}

func TestSocketOrDefaultHonorsExplicitPath(t *testing.T) {
	cfg := Default()
	cfg.RuntimeDir = "/run/conmonrs/pod-1"
	cfg.SocketPath = "/custom/sock"
	assert.Equal(t, "/custom/sock", cfg.SocketOrDefault())
}

func TestFromEnvLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conmonrs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`runtime = "crun"
runtime_dir = "/run/conmonrs"
`), 0644))

	lookup := func(key string) (string, bool) {
		if key == "CONMONRS_LOG_LEVEL" {
			return "debug", true
		}
		return "", false
	}

	cfg, err := FromEnv(path, lookup)
	require.NoError(t, err)
	assert.Equal(t, "crun", cfg.Runtime)
	assert.Equal(t, "debug", cfg.LogLevel)
}
