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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// dateStamp is overridable by tests; production always wants "today" in
// the monitor's own filename, distinct from a container's CRI log
// timestamps.
var dateStamp = func() string { return time.Now().Format("2006-01-02") }

// NewLogger builds the monitor's own logger per --log-level/--log-driver,
// independent of the per-container log drivers in internal/logdriver.
// "file" rotates daily by filename (conmonrs.YYYY-MM-DD), matching the
// container log drivers' own rotation vocabulary even though the
// mechanism here is simpler (one file per day, no size cap).
func NewLogger(level, driver, runtimeDir string) (*logrus.Entry, error) {
	lvl := logrus.PanicLevel
	if level != "off" {
		var err error
		lvl, err = logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("supervisor: parse log level: %w", err)
		}
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch driver {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "systemd":
		if !journal.Enabled() {
			return nil, fmt.Errorf("supervisor: --log-driver=systemd requested but journald is not available")
		}
		logger.SetOutput(&journalWriter{})
	case "file":
		dir := filepath.Join(runtimeDir, "logs")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("supervisor: mkdir log dir: %w", err)
		}
		path := filepath.Join(dir, "conmonrs."+dateStamp())
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("supervisor: open log file: %w", err)
		}
		logger.SetOutput(f)
	default:
		return nil, fmt.Errorf("supervisor: unknown log driver %q", driver)
	}
	if level == "off" {
		logger.SetOutput(io.Discard)
	}

	return logrus.NewEntry(logger), nil
}

// journalWriter adapts logrus's io.Writer sink to journal.Send, since
// go-systemd's journal package has no io.Writer of its own.
type journalWriter struct{}

func (journalWriter) Write(p []byte) (int, error) {
	if err := journal.Send(string(p), journal.PriInfo, map[string]string{"SYSLOG_IDENTIFIER": "conmonrs"}); err != nil {
		return 0, err
	}
	return len(p), nil
}
