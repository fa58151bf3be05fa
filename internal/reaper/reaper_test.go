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

package reaper

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/containers/conmonrs/internal/child"
	"github.com/containers/conmonrs/internal/registry"
)

func TestWatchContainerWritesExitFile(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	require.NoError(t, cmd.Start())

	c := child.New("c1")
	require.NoError(t, c.Adopt(cmd.Process.Pid, child.Stdio{Terminal: true}))

	exitPath := filepath.Join(t.TempDir(), "exit")
	rec := &registry.Record{ID: "c1", Child: c, ExitPaths: []string{exitPath}}

	r := New(logrus.NewEntry(logrus.New()))
	r.WatchContainer(rec, nil)

	status, err := c.AwaitExit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, status.Code)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(exitPath)
		return err == nil && string(data) == "7"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecTimeoutKillsChild(t *testing.T) {
	cmd := exec.Command("/bin/sleep", "5")
	require.NoError(t, cmd.Start())

	c := child.New("exec1")
	require.NoError(t, c.Adopt(cmd.Process.Pid, child.Stdio{Terminal: true}))

	timeout := Arm(c, 30*time.Millisecond)
	defer timeout.Cancel()

	err := cmd.Wait()
	assert.Error(t, err) // killed
	assert.True(t, timeout.Fired())
}

func TestExecTimeoutNotArmedWhenZero(t *testing.T) {
	c := child.New("exec1")
	timeout := Arm(c, 0)
	assert.False(t, timeout.Fired())
	timeout.Cancel()
}

func TestExitStatusFromSignal(t *testing.T) {
	status := toStatus(unix.WaitStatus(unix.SIGKILL))
	assert.True(t, status.Signal)
	assert.Equal(t, 137, status.Code)
}
