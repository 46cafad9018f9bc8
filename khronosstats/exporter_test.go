/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package khronosstats

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khronos-project/khronos/discipline"
)

type fakeSnapshotSource struct {
	status discipline.Status
}

func (f fakeSnapshotSource) Snapshot() discipline.Status { return f.status }

func TestHandleStatusServesJSON(t *testing.T) {
	src := fakeSnapshotSource{status: discipline.Status{
		NowUTCNanos:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano(),
		OffsetSeconds:    0.001,
		DriftPPM:         0.5,
		LastServer:       "ntp.example.com",
		LastRTT:          20 * time.Millisecond,
		EpochCounter:     2,
		SamplesSucceeded: 10,
	}}
	e := NewExporter(src, ":0")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	e.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ntp.example.com")
	assert.Contains(t, rec.Body.String(), `"epoch_counter":2`)
}

func TestRefreshUpdatesGauges(t *testing.T) {
	src := fakeSnapshotSource{status: discipline.Status{
		OffsetSeconds: 0.25,
		DriftPPM:      1.5,
		RTTStdDev:     3 * time.Millisecond,
	}}
	e := NewExporter(src, ":0")
	e.refresh()

	assert.InDelta(t, 0.25, testutil.ToFloat64(e.offset), 1e-9)
	assert.InDelta(t, 1.5, testutil.ToFloat64(e.driftPPM), 1e-9)
	assert.InDelta(t, 0.003, testutil.ToFloat64(e.rttStdDev), 1e-9)
}
