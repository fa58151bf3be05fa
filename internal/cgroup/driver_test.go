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

package cgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/conmonrs/internal/wire"
)

func TestResolvePerRequestOverridesDefault(t *testing.T) {
	m, err := Resolve("cgroupfs", "systemd")
	require.NoError(t, err)
	assert.Equal(t, ManagerSystemd, m)
}

func TestResolveUsesDefaultWhenNoOverride(t *testing.T) {
	m, err := Resolve("systemd", "")
	require.NoError(t, err)
	assert.Equal(t, ManagerSystemd, m)
}

func TestResolveUnsupportedManagerFails(t *testing.T) {
	_, err := Resolve("systemd", "bogus")
	require.Error(t, err)
	assert.Equal(t, wire.StatusUnsupported, wire.StatusOf(err))
}

func TestAllowsPerCommand(t *testing.T) {
	assert.True(t, AllowsPerCommand("per-command"))
	assert.False(t, AllowsPerCommand("systemd"))
}
