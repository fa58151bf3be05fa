/*
Copyright 2017 The Kubernetes Authors.

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

// Package version holds the monitor's own build version and the semver
// compatibility check pkg/client runs against a Version RPC response
// before trusting the rest of the protocol.
package version

import (
	"fmt"

	"github.com/blang/semver/v4"
)

// Version is the monitor's release version, set via -ldflags at build
// time. UNKNOWN means a non-release build.
var Version = "UNKNOWN"

// Tag is the source control tag or commit the binary was built from.
var Tag = "UNKNOWN"

func validateSemver(sv string) (semver.Version, error) {
	v, err := semver.Parse(sv)
	if err != nil {
		return semver.Version{}, fmt.Errorf("version: couldn't parse %q: %w", sv, err)
	}
	return v, nil
}

// String reports "version (tag)".
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Tag)
}

// CompatibleWith reports whether a monitor advertising serverVersion can
// serve a client built against clientVersion: they must share the same
// major version, and the server must be at least as new as the client's
// minor version, so a client never depends on an RPC field the server
// predates.
func CompatibleWith(clientVersion, serverVersion string) (bool, error) {
	cv, err := validateSemver(clientVersion)
	if err != nil {
		return false, err
	}
	sv, err := validateSemver(serverVersion)
	if err != nil {
		return false, err
	}
	if cv.Major != sv.Major {
		return false, nil
	}
	return sv.Minor >= cv.Minor, nil
}
