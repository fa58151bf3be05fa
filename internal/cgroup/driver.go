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

// Package cgroup wraps containerd/cgroups/v3 (both hierarchies) with the
// OOM watcher C5 consults and the manager-choice validation C9 enforces.
package cgroup

import (
	"os"

	"github.com/containers/conmonrs/internal/wire"
)

// Version names which cgroup hierarchy the host kernel presents.
type Version int

const (
	V1 Version = iota
	V2
)

// DetectVersion reports V2 if the unified hierarchy is mounted, matching
// the standard `cgroup.controllers` presence check.
func DetectVersion() Version {
	if _, err := os.Stat("/sys/fs/cgroup/cgroup.controllers"); err == nil {
		return V2
	}
	return V1
}

// Manager is one of the --cgroup-manager choices from spec §6.
type Manager string

const (
	ManagerSystemd  Manager = "systemd"
	ManagerCgroupfs Manager = "cgroupfs"
	managerPerCmd   Manager = "per-command"
)

// Resolve applies a per-request override over the server default. Only
// systemd and cgroupfs resolve: per-command as the effective choice fails
// with StatusInvalidRequest, and any other name fails with
// StatusUnsupported — per spec §9, an unrecognised manager must fail
// loudly rather than fall back silently.
func Resolve(serverDefault, perRequest string) (Manager, error) {
	choice := serverDefault
	if perRequest != "" {
		choice = perRequest
	}
	switch Manager(choice) {
	case ManagerSystemd, ManagerCgroupfs:
		return Manager(choice), nil
	case managerPerCmd:
		return "", wire.Errorf(wire.StatusInvalidRequest, "per-command is a server default only, not a per-request choice")
	default:
		return "", wire.Errorf(wire.StatusUnsupported, "unsupported cgroup manager %q", choice)
	}
}

// AllowsPerCommand reports whether the server default defers the manager
// choice to each request.
func AllowsPerCommand(serverDefault string) bool {
	return Manager(serverDefault) == managerPerCmd
}

// OOMWatcher is satisfied by both hierarchy's watchers; internal/reaper
// consults Fired() when it observes exit, and Close releases resources on
// reap.
type OOMWatcher interface {
	Fired() bool
	Close() error
}

// WatchOOM starts an OOM watcher for pid's cgroup, using v1's eventfd
// mechanism or v2's memory.events poll depending on the host.
func WatchOOM(pid int, version Version) (OOMWatcher, error) {
	if version == V2 {
		return watchOOMv2(pid)
	}
	return watchOOMv1(pid)
}
