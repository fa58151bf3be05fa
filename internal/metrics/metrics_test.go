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

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRSSBytesPositive(t *testing.T) {
	rss := readRSSBytes()
	assert.Greater(t, rss, float64(0), "expected a nonzero RSS for the running test process")
}

func TestContainersActiveGaugeTracksIncDec(t *testing.T) {
	ContainersActive.Set(0)
	ContainersActive.Inc()
	ContainersActive.Inc()
	assert.InDelta(t, 2, testutil.ToFloat64(ContainersActive), 0)

	ContainersActive.Dec()
	assert.InDelta(t, 1, testutil.ToFloat64(ContainersActive), 0)
}

func TestExecSessionsActiveGaugeTracksIncDec(t *testing.T) {
	ExecSessionsActive.Set(0)
	ExecSessionsActive.Inc()
	assert.InDelta(t, 1, testutil.ToFloat64(ExecSessionsActive), 0)

	ExecSessionsActive.Dec()
	assert.InDelta(t, 0, testutil.ToFloat64(ExecSessionsActive), 0)
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "conmonrs_containers_active")
	assert.Contains(t, body, "conmonrs_process_resident_memory_bytes")
}
