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

// Package sys carries small host-capability probes that don't belong to any
// one component.
package sys

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

var (
	unprivilegedUsernsSupported     bool
	unprivilegedUsernsSupportedOnce sync.Once
)

// SupportsUnprivilegedUsernsCreation reports whether the running kernel and
// LSM policy let an unprivileged process create a user namespace. Some
// distributions deny this through AppArmor or a sysctl even on kernels that
// otherwise support it, so a runtime probe is needed rather than a version
// check.
func SupportsUnprivilegedUsernsCreation() bool {
	unprivilegedUsernsSupportedOnce.Do(func() {
		unprivilegedUsernsSupported = checkUnprivilegedUsernsCreation() == nil
	})
	return unprivilegedUsernsSupported
}

// checkUnprivilegedUsernsCreation runs a no-op binary inside a freshly
// unshared user namespace. A denied creation surfaces as the Start failing,
// not as a nonzero exit from the child.
func checkUnprivilegedUsernsCreation() error {
	path, err := exec.LookPath("true")
	if err != nil {
		return fmt.Errorf("sys: locate probe binary: %w", err)
	}

	cmd := exec.Command(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: syscall.CLONE_NEWUSER}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sys: unprivileged user namespace creation failed: %w", err)
	}
	return nil
}
