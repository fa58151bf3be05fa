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

// Package metrics exposes a small Prometheus registry so an operator can
// watch the monitor's own footprint (container/exec counts and resident
// memory) from the outside, without the monitor depending on any particular
// scrape topology.
package metrics

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ContainersActive tracks how many containers the registry currently holds.
	ContainersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "conmonrs",
		Name:      "containers_active",
		Help:      "Number of containers currently supervised by this monitor.",
	})

	// ExecSessionsActive tracks long-lived (ServeExecContainer) sessions,
	// distinct from the bounded ExecSyncContainer calls this doesn't cover.
	ExecSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "conmonrs",
		Name:      "exec_sessions_active",
		Help:      "Number of long-lived exec sessions currently streaming.",
	})

	selfRSSBytes = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "conmonrs",
		Name:      "process_resident_memory_bytes",
		Help:      "Resident set size of this monitor process, sampled from /proc/self/statm.",
	}, readRSSBytes)
)

func init() {
	prometheus.MustRegister(ContainersActive, ExecSessionsActive, selfRSSBytes)
}

// readRSSBytes parses /proc/self/statm's resident-page count directly
// rather than runtime.MemStats, which only accounts for the Go heap and
// would miss the PTY/pipe buffers and cgo allocations the single-process
// RSS budget also has to cover.
func readRSSBytes() float64 {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return float64(pages * uint64(os.Getpagesize()))
}

// Handler serves the process's metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
