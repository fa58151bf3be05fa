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

package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const oomPollInterval = 250 * time.Millisecond

// watchV2 polls a cgroup v2 memory.events file's modification time and,
// on change, checks whether its oom_kill counter increased. There is no
// generated inotify binding in this dependency surface, so the "modified
// time watch" spec §4.5 names is implemented literally via os.Stat rather
// than an fsnotify subscription.
type watchV2 struct {
	path    string
	fired   atomic.Bool
	stopped chan struct{}
}

func watchOOMv2(pid int) (OOMWatcher, error) {
	group, err := pidCgroupPath(pid)
	if err != nil {
		return nil, err
	}
	path := filepath.Join("/sys/fs/cgroup", group, "memory.events")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cgroup: stat %s: %w", path, err)
	}

	w := &watchV2{path: path, stopped: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *watchV2) run() {
	var lastMod time.Time
	var lastOOMKill int64
	ticker := time.NewTicker(oomPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopped:
			return
		case <-ticker.C:
		}
		info, err := os.Stat(w.path)
		if err != nil {
			continue
		}
		if !info.ModTime().After(lastMod) {
			continue
		}
		lastMod = info.ModTime()

		count, err := readOOMKillCount(w.path)
		if err != nil {
			continue
		}
		if count > lastOOMKill {
			w.fired.Store(true)
		}
		lastOOMKill = count
	}
}

func readOOMKillCount(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[0] == "oom_kill" {
			return strconv.ParseInt(fields[1], 10, 64)
		}
	}
	return 0, sc.Err()
}

// pidCgroupPath resolves the unified-hierarchy group path for pid from
// /proc/<pid>/cgroup, whose v2 line has the form "0::/<path>".
func pidCgroupPath(pid int) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", fmt.Errorf("cgroup: open /proc/%d/cgroup: %w", pid, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "0::") {
			return strings.TrimPrefix(line, "0::"), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("cgroup: no unified hierarchy entry for pid %d", pid)
}

func (w *watchV2) Fired() bool { return w.fired.Load() }

func (w *watchV2) Close() error {
	close(w.stopped)
	return nil
}
