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

package nsutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/containers/conmonrs/internal/wire"
)

func TestParseAssignmentMatchesKnownKind(t *testing.T) {
	kind, target, ok := parseAssignment("net=/run/conmonrs/netns/pod-1")
	assert.True(t, ok)
	assert.Equal(t, "net", kind)
	assert.Equal(t, "/run/conmonrs/netns/pod-1", target)
}

func TestParseAssignmentIgnoresUnrelatedArg(t *testing.T) {
	_, _, ok := parseAssignment("uidmap=0:1000:1")
	assert.False(t, ok)
}

func TestCreateRejectsEmptyKinds(t *testing.T) {
	_, err := Create("pod-1", t.TempDir(), nil, nil, nil)
	assert.Error(t, err)
	assert.Equal(t, wire.StatusInvalidRequest, wire.StatusOf(err))
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	_, err := Create("pod-1", t.TempDir(), []wire.NamespaceKind{"bogus"}, nil, nil)
	assert.Error(t, err)
	assert.Equal(t, wire.StatusInvalidRequest, wire.StatusOf(err))
}
