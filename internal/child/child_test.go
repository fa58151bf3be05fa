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

package child

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdoptRejectsMixedStdio(t *testing.T) {
	c := New("c1")
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	err = c.Adopt(123, Stdio{Terminal: true, Stdout: r})
	assert.Error(t, err)
}

func TestAdoptTwiceFails(t *testing.T) {
	c := New("c1")
	require.NoError(t, c.Adopt(123, Stdio{Terminal: true}))
	assert.Error(t, c.Adopt(456, Stdio{Terminal: true}))
}

func TestExitSlotImmutableOnceSet(t *testing.T) {
	c := New("c1")
	require.NoError(t, c.Adopt(1, Stdio{Terminal: true}))

	assert.True(t, c.SetExit(Status{Code: 0}))
	assert.False(t, c.SetExit(Status{Code: 137}))

	status, ok := c.Exited()
	require.True(t, ok)
	assert.Equal(t, 0, status.Code)
}

func TestAwaitExitUnblocksOnSetExit(t *testing.T) {
	c := New("c1")
	require.NoError(t, c.Adopt(1, Stdio{Terminal: true}))

	done := make(chan Status, 1)
	go func() {
		s, err := c.AwaitExit(context.Background())
		require.NoError(t, err)
		done <- s
	}()

	time.Sleep(10 * time.Millisecond)
	c.SetExit(Status{Code: 42})

	select {
	case s := <-done:
		assert.Equal(t, 42, s.Code)
	case <-time.After(time.Second):
		t.Fatal("AwaitExit did not unblock")
	}
}

func TestAwaitExitRespectsContext(t *testing.T) {
	c := New("c1")
	require.NoError(t, c.Adopt(1, Stdio{Terminal: true}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.AwaitExit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMarkOOMOnlyAfterExit(t *testing.T) {
	c := New("c1")
	require.NoError(t, c.Adopt(1, Stdio{Terminal: true}))

	c.MarkOOM()
	_, ok := c.Exited()
	assert.False(t, ok)

	c.SetExit(Status{Code: 137})
	c.MarkOOM()
	status, ok := c.Exited()
	require.True(t, ok)
	assert.True(t, status.OOM)
}
