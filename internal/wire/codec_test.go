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

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := &Envelope{
		Op:   OpCreateContainer,
		Meta: map[string]string{"traceparent": "00-abc-def-01"},
		Payload: CreateContainerRequest{
			ID:         "c1",
			PodID:      "p1",
			BundlePath: "/run/bundles/c1",
			Terminal:   true,
		},
	}
	require.NoError(t, WriteEnvelope(&buf, req))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpCreateContainer, got.Op)
	assert.Equal(t, "00-abc-def-01", got.Meta["traceparent"])

	payload, ok := got.Payload.(CreateContainerRequest)
	require.True(t, ok)
	assert.Equal(t, "c1", payload.ID)
	assert.True(t, payload.Terminal)
}

func TestResponseRoundTripSuccess(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteResponse(&buf, OpVersion, nil, VersionResponse{Version: "1.0.0"}, nil))

	op, _, payload, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpVersion, op)
	assert.Equal(t, VersionResponse{Version: "1.0.0"}, payload)
}

func TestResponseRoundTripError(t *testing.T) {
	var buf bytes.Buffer

	wantErr := Errorf(StatusAlreadyExists, "container %s exists", "c1")
	require.NoError(t, WriteResponse(&buf, OpCreateContainer, nil, nil, wantErr))

	_, _, _, err := ReadResponse(&buf)
	require.Error(t, err)

	var wireErr *Error
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, StatusAlreadyExists, wireErr.Status)
}

func TestReadEnvelopeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	hdr := []byte{0xff, 0xff, 0xff, 0xff}
	buf.Write(hdr)

	_, err := ReadEnvelope(&buf)
	require.Error(t, err)
}
