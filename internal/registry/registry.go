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

// Package registry is the process-wide map of container-id to container
// record and pod-id to namespace set. It is the only shared mutable state
// across the monitor's per-container goroutines; lookups take a shared
// lock and insert/remove an exclusive one, but a looked-up record is shared and callers
// serialize on it themselves via the keyed mutex.
package registry

import (
	"sync"
	"time"

	"github.com/containers/conmonrs/internal/child"
	"github.com/containers/conmonrs/internal/metrics"
	"github.com/containers/conmonrs/internal/wire"
	"github.com/containers/conmonrs/pkg/kmutex"
)

// Record is a container's registry entry: its child handle plus the
// bookkeeping fields C2/C3/C4/C5 consult, per spec §3's data model.
type Record struct {
	ID            string
	PodID         string
	BundlePath    string
	Child         *child.Child
	Terminal      bool
	ExitPaths     []string
	OOMExitPaths  []string
	CleanupCmd    []string
	CgroupManager string
	CreatedAt     time.Time

	// Attach/log wiring is opaque to the registry; components that own
	// these resources stash their own handles here under mu.
	mu    sync.Mutex
	extra map[string]interface{}
}

// Set stashes an opaque per-component handle (log driver instances, the
// attach hub, the cgroup watcher) under key, so a single Record can be the
// hub other components pass around without the registry knowing their
// concrete types.
func (r *Record) Set(key string, v interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.extra == nil {
		r.extra = make(map[string]interface{})
	}
	r.extra[key] = v
}

// Get retrieves a value stashed with Set.
func (r *Record) Get(key string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.extra[key]
	return v, ok
}

// NamespaceEntry is one bind-mounted namespace for a pod.
type NamespaceEntry struct {
	Kind wire.NamespaceKind
	Path string
}

// Registry owns the two maps described in spec §3 and §4.6.
type Registry struct {
	mu         sync.RWMutex
	containers map[string]*Record
	namespaces map[string][]NamespaceEntry

	// Keys serializes operations that target the same container-id, per
	// spec §5's "requests targeting the same container record serialize".
	Keys kmutex.KeyMutex
}

func New() *Registry {
	return &Registry{
		containers: make(map[string]*Record),
		namespaces: make(map[string][]NamespaceEntry),
		Keys:       kmutex.New(),
	}
}

// Insert adds rec, failing with StatusAlreadyExists if the id is taken.
func (r *Registry) Insert(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[rec.ID]; ok {
		return wire.Errorf(wire.StatusAlreadyExists, "container %s already exists", rec.ID)
	}
	r.containers[rec.ID] = rec
	metrics.ContainersActive.Inc()
	return nil
}

// Get looks up a container record by id.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.containers[id]
	if !ok {
		return nil, wire.Errorf(wire.StatusNotFound, "no such container %s", id)
	}
	return rec, nil
}

// Remove deletes a container record. It does not validate lifecycle
// preconditions (exit slot filled, exit files durable, subscribers
// drained); callers are expected to have already established those, per
// spec §3's lifecycle note.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[id]; ok {
		metrics.ContainersActive.Dec()
	}
	delete(r.containers, id)
}

// List returns a snapshot of every registered container-id.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	return ids
}

// InsertNamespaces adds a pod's namespace set, failing with
// StatusAlreadyExists if one is already registered — CreateNamespaces is
// deliberately not idempotent (spec §8).
func (r *Registry) InsertNamespaces(podID string, entries []NamespaceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.namespaces[podID]; ok {
		return wire.Errorf(wire.StatusAlreadyExists, "namespaces for pod %s already exist", podID)
	}
	r.namespaces[podID] = entries
	return nil
}

// GetNamespaces returns a pod's namespace set.
func (r *Registry) GetNamespaces(podID string) ([]NamespaceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries, ok := r.namespaces[podID]
	if !ok {
		return nil, wire.Errorf(wire.StatusNotFound, "no namespaces for pod %s", podID)
	}
	return entries, nil
}

// RemoveNamespaces releases a pod's namespace set entry from the registry.
// It does not unmount; callers do that first.
func (r *Registry) RemoveNamespaces(podID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.namespaces, podID)
}
