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

// Package nsutil creates the persistent, bind-mounted namespace files the
// CreateNamespaces RPC hands back to the engine, so a pod's sandbox
// namespaces outlive any single container's lifetime. The approach is a
// re-exec of the running binary into fresh namespaces, kept simple: no
// ptrace/pidfd userns dance, since this
// namespace set is plain unshare(2) plus a self bind-mount, not an
// unprivileged userns handoff. It does reuse pkg/sys's unprivileged-userns
// capability probe as a preflight check before attempting one.
package nsutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/containers/conmonrs/internal/wire"
	"github.com/containers/conmonrs/pkg/sys"
)

// HelperArg is the first-argument (argv[1]) sentinel main() checks for
// before doing any other startup work, per ReexecHelper's doc comment.
const HelperArg = "__conmonrs_nsutil_helper__"

var kindDirs = map[wire.NamespaceKind]string{
	wire.NamespaceIPC:  "ipcns",
	wire.NamespaceNet:  "netns",
	wire.NamespacePID:  "pidns",
	wire.NamespaceUser: "userns",
	wire.NamespaceUTS:  "utsns",
}

var procNSName = map[wire.NamespaceKind]string{
	wire.NamespaceIPC:  "ipc",
	wire.NamespaceNet:  "net",
	wire.NamespacePID:  "pid",
	wire.NamespaceUser: "user",
	wire.NamespaceUTS:  "uts",
}

var kindFlags = map[wire.NamespaceKind]uintptr{
	wire.NamespaceIPC:  unix.CLONE_NEWIPC,
	wire.NamespaceNet:  unix.CLONE_NEWNET,
	wire.NamespacePID:  unix.CLONE_NEWPID,
	wire.NamespaceUser: unix.CLONE_NEWUSER,
	wire.NamespaceUTS:  unix.CLONE_NEWUTS,
}

// Create bind-mounts one persistent nsfs file per requested kind under
// baseDir/<kind>ns/<podID>, returning the created paths in request order.
// It re-execs the running binary as a short-lived helper (see
// ReexecHelper) that is spawned already inside the new namespaces (the
// unshare happens at spawn time via SysProcAttr.Unshareflags), since Go's
// runtime cannot safely unshare namespaces that affect the calling
// goroutine's own thread group without first isolating it in its own
// process.
func Create(podID, baseDir string, kinds []wire.NamespaceKind, uidMapping, gidMapping []wire.IDMapping) ([]string, error) {
	if len(kinds) == 0 {
		return nil, wire.Errorf(wire.StatusInvalidRequest, "no namespace kinds requested")
	}

	if os.Geteuid() != 0 {
		for _, kind := range kinds {
			if kind == wire.NamespaceUser && !sys.SupportsUnprivilegedUsernsCreation() {
				return nil, wire.Errorf(wire.StatusUnsupported, "unprivileged user namespace creation is not permitted on this host")
			}
		}
	}

	targets := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		dir, ok := kindDirs[kind]
		if !ok {
			return nil, wire.Errorf(wire.StatusInvalidRequest, "unknown namespace kind %q", kind)
		}
		nsDir := filepath.Join(baseDir, dir)
		if err := os.MkdirAll(nsDir, 0755); err != nil {
			return nil, fmt.Errorf("nsutil: mkdir %s: %w", nsDir, err)
		}
		target := filepath.Join(nsDir, podID)
		if f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL, 0444); err != nil {
			return nil, wire.Errorf(wire.StatusAlreadyExists, "namespace file %s: %v", target, err)
		} else {
			f.Close()
		}
		targets = append(targets, target)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("nsutil: resolve self: %w", err)
	}

	args := []string{HelperArg}
	for i, kind := range kinds {
		args = append(args, string(kind)+"="+targets[i])
	}
	for _, m := range uidMapping {
		args = append(args, fmt.Sprintf("uidmap=%d:%d:%d", m.ContainerID, m.HostID, m.Size))
	}
	for _, m := range gidMapping {
		args = append(args, fmt.Sprintf("gidmap=%d:%d:%d", m.ContainerID, m.HostID, m.Size))
	}

	var flags uintptr
	for _, kind := range kinds {
		flags |= kindFlags[kind]
	}

	cmd := exec.Command(self, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Unshareflags: flags,
		Pdeathsig:    unix.SIGKILL,
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		for _, t := range targets {
			os.Remove(t)
		}
		return nil, wire.Errorf(wire.StatusIOFailure, "namespace helper failed: %v: %s", err, out)
	}
	return targets, nil
}

// ReexecHelper is the entry point cmd/conmonrs's main() calls when its
// first argument is HelperArg. Create has already spawned it inside fresh
// namespaces of the kinds encoded in its argv; it bind-mounts each active
// /proc/self/ns/<kind> onto the target path an ancestor process
// pre-created, then exits. The bind mount
// itself pins the namespace; nothing needs to keep this process alive
// afterward.
func ReexecHelper(args []string) error {
	var once sync.Once
	var err error
	once.Do(func() { err = reexecHelper(args) })
	return err
}

func reexecHelper(args []string) error {
	for _, arg := range args {
		kind, target, hasNS := parseAssignment(arg)
		if !hasNS {
			continue
		}
		nsPath := fmt.Sprintf("/proc/self/ns/%s", procNSName[wire.NamespaceKind(kind)])
		if err := bindMountNamespace(nsPath, target); err != nil {
			return err
		}
	}
	return nil
}

func parseAssignment(arg string) (kind, target string, ok bool) {
	for k := range kindDirs {
		prefix := string(k) + "="
		if len(arg) > len(prefix) && arg[:len(prefix)] == prefix {
			return string(k), arg[len(prefix):], true
		}
	}
	return "", "", false
}

func bindMountNamespace(nsPath, target string) error {
	f, err := os.Create(target)
	if err == nil {
		f.Close()
	}
	if err := unix.Mount(nsPath, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("nsutil: bind mount %s -> %s: %w", nsPath, target, err)
	}
	return nil
}

// Remove unmounts and deletes a pod's previously created namespace files.
func Remove(paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := unix.Unmount(p, unix.MNT_DETACH); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(p); err != nil && firstErr == nil && !os.IsNotExist(err) {
			firstErr = err
		}
	}
	return firstErr
}
