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

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/conmonrs/internal/wire"
)

func TestInsertRejectsDuplicateID(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Record{ID: "c1"}))

	err := r.Insert(&Record{ID: "c1"})
	require.Error(t, err)
	assert.Equal(t, wire.StatusAlreadyExists, wire.StatusOf(err))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Equal(t, wire.StatusNotFound, wire.StatusOf(err))
}

func TestRemoveThenInsertSameIDSucceeds(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Record{ID: "c1"}))
	r.Remove("c1")
	assert.NoError(t, r.Insert(&Record{ID: "c1"}))
}

func TestNamespacesNotIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.InsertNamespaces("pod1", []NamespaceEntry{{Kind: wire.NamespaceNet, Path: "/x"}}))

	err := r.InsertNamespaces("pod1", nil)
	require.Error(t, err)
	assert.Equal(t, wire.StatusAlreadyExists, wire.StatusOf(err))
}

func TestRecordExtraStash(t *testing.T) {
	rec := &Record{ID: "c1"}
	rec.Set("hub", 42)
	v, ok := rec.Get("hub")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = rec.Get("missing")
	assert.False(t, ok)
}
