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

package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("bogus", "stdout", t.TempDir())
	assert.Error(t, err)
}

func TestNewLoggerRejectsUnknownDriver(t *testing.T) {
	_, err := NewLogger("info", "bogus", t.TempDir())
	assert.Error(t, err)
}

func TestNewLoggerFileDriverCreatesDailyFile(t *testing.T) {
	dir := t.TempDir()
	dateStamp = func() string { return "2026-08-06" }
	defer func() { dateStamp = func() string { return "" } }()

	log, err := NewLogger("info", "file", dir)
	require.NoError(t, err)
	log.Info("hello")

	_, err = os.Stat(filepath.Join(dir, "logs", "conmonrs.2026-08-06"))
	assert.NoError(t, err)
}
