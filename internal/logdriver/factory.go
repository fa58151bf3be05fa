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

package logdriver

import (
	"fmt"
	"os"

	"github.com/containers/conmonrs/internal/wire"
)

// NewFromSpec builds the Driver a wire.LogDriverSpec names.
func NewFromSpec(containerID string, spec wire.LogDriverSpec) (Driver, error) {
	switch spec.Kind {
	case "cri":
		return NewCRIFile(spec.Path, spec.MaxSize)
	case "json":
		return NewJSONLines(spec.Path, spec.MaxSize)
	case "journald":
		return NewJournald(containerID)
	case "stdout":
		return NewStdout(os.Stdout), nil
	default:
		return nil, fmt.Errorf("logdriver: unknown kind %q", spec.Kind)
	}
}
