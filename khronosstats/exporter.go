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

// Package khronosstats exposes the Discipline Status snapshot (spec §3,
// §6) to external observers over HTTP: a Prometheus /metrics endpoint and
// a plain JSON /status endpoint, the two concrete transports for the
// "published for observers" channel the core leaves abstract.
package khronosstats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/khronos-project/khronos/discipline"
)

// SnapshotSource is anything that can produce the current Discipline
// Status; *discipline.Handle satisfies this.
type SnapshotSource interface {
	Snapshot() discipline.Status
}

// Exporter serves /metrics (Prometheus gauges) and /status (JSON) for a
// SnapshotSource, re-scraping it on every request rather than polling in
// the background: the snapshot read is lock-free and cheap, so there is no
// need for the scrapeMetrics-on-a-timer pattern this is grounded on.
type Exporter struct {
	source     SnapshotSource
	registry   *prometheus.Registry
	listenAddr string

	offset    prometheus.Gauge
	driftPPM  prometheus.Gauge
	qScale    prometheus.Gauge
	nisEMA    prometheus.Gauge
	epoch     prometheus.Gauge
	lastRTT   prometheus.Gauge
	rttStdDev prometheus.Gauge
	succeeded prometheus.Gauge
	failed    prometheus.Gauge
	rejected  prometheus.Gauge
}

// NewExporter builds an Exporter that will listen on listenAddr (e.g.
// ":9100") once Start is called.
func NewExporter(source SnapshotSource, listenAddr string) *Exporter {
	e := &Exporter{
		source:     source,
		registry:   prometheus.NewRegistry(),
		listenAddr: listenAddr,
		offset:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_offset_seconds", Help: "current offset estimate, seconds"}),
		driftPPM:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_drift_ppm", Help: "current drift estimate, parts per million"}),
		qScale:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_q_scale", Help: "adaptive process noise scale factor"}),
		nisEMA:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_nis_ema", Help: "exponentially smoothed normalized innovation squared"}),
		epoch:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_epoch_counter", Help: "re-sync epoch counter"}),
		lastRTT:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_last_rtt_seconds", Help: "round-trip time of the last successful sample"}),
		rttStdDev:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_rtt_stddev_seconds", Help: "running (since start) standard deviation of successful samples' round-trip time"}),
		succeeded:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_samples_succeeded_total", Help: "count of accepted samples"}),
		failed:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_samples_failed_total", Help: "count of failed samples"}),
		rejected:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "khronos_samples_rejected_total", Help: "count of outlier-rejected samples"}),
	}
	e.registry.MustRegister(e.offset, e.driftPPM, e.qScale, e.nisEMA, e.epoch, e.lastRTT, e.rttStdDev, e.succeeded, e.failed, e.rejected)
	return e
}

func (e *Exporter) refresh() {
	s := e.source.Snapshot()
	e.offset.Set(s.OffsetSeconds)
	e.driftPPM.Set(s.DriftPPM)
	e.qScale.Set(s.QScale)
	e.nisEMA.Set(s.NISEMA)
	e.epoch.Set(float64(s.EpochCounter))
	e.lastRTT.Set(s.LastRTT.Seconds())
	e.rttStdDev.Set(s.RTTStdDev.Seconds())
	e.succeeded.Set(float64(s.SamplesSucceeded))
	e.failed.Set(float64(s.SamplesFailed))
	e.rejected.Set(float64(s.SamplesRejected))
}

// StatusJSON mirrors discipline.Status with JSON-friendly field names and
// durations rendered in nanoseconds, matching the plain counter-map JSON
// dump idiom this is grounded on.
type StatusJSON struct {
	NowUTC           time.Time `json:"now_utc"`
	OffsetSeconds    float64   `json:"offset_seconds"`
	DriftPPM         float64   `json:"drift_ppm"`
	QScale           float64   `json:"q_scale"`
	NISEMA           float64   `json:"nis_ema"`
	LastServer       string    `json:"last_server"`
	LastRTTNanos     int64     `json:"last_rtt_nanos"`
	RTTStdDevNanos   int64     `json:"rtt_stddev_nanos"`
	LastSyncAgoNanos int64     `json:"last_sync_ago_nanos"`
	EpochCounter     uint64    `json:"epoch_counter"`
	SamplesSucceeded uint64    `json:"samples_succeeded"`
	SamplesFailed    uint64    `json:"samples_failed"`
	SamplesRejected  uint64    `json:"samples_rejected"`
}

func (e *Exporter) handleStatus(w http.ResponseWriter, r *http.Request) {
	s := e.source.Snapshot()
	body := StatusJSON{
		NowUTC:           time.Unix(0, s.NowUTCNanos).UTC(),
		OffsetSeconds:    s.OffsetSeconds,
		DriftPPM:         s.DriftPPM,
		QScale:           s.QScale,
		NISEMA:           s.NISEMA,
		LastServer:       s.LastServer,
		LastRTTNanos:     s.LastRTT.Nanoseconds(),
		RTTStdDevNanos:   s.RTTStdDev.Nanoseconds(),
		LastSyncAgoNanos: s.LastSyncAgo.Nanoseconds(),
		EpochCounter:     s.EpochCounter,
		SamplesSucceeded: s.SamplesSucceeded,
		SamplesFailed:    s.SamplesFailed,
		SamplesRejected:  s.SamplesRejected,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("failed to encode status response")
	}
}

// Start blocks serving /metrics and /status until the process exits or the
// listener fails.
func (e *Exporter) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
		promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
	mux.HandleFunc("/status", e.handleStatus)

	log.WithField("addr", e.listenAddr).Info("khronosstats listening")
	return http.ListenAndServe(e.listenAddr, mux)
}

// FetchStatus queries a running daemon's /status endpoint -- the client
// side used by the status CLI subcommand.
func FetchStatus(baseURL string) (*StatusJSON, error) {
	resp, err := http.Get(fmt.Sprintf("%s/status", baseURL))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("khronosstats: unexpected status %d", resp.StatusCode)
	}
	var body StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &body, nil
}
