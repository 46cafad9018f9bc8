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

// Package discipline implements the Discipline Loop (spec §4.E): it
// schedules NTP samples, feeds measurements into the Kalman filter, applies
// corrections to the Program Clock, and publishes a read-only status
// snapshot for observers.
package discipline

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"

	"github.com/khronos-project/khronos/clock"
	"github.com/khronos-project/khronos/config"
	"github.com/khronos-project/khronos/kalman"
	"github.com/khronos-project/khronos/ntpsample"
	"github.com/khronos-project/khronos/tick"
)

// slewThresholdSeconds bounds corrections absorbed into the clock's base
// without a visible step (spec §4.E, §9 open question "correction
// discipline"): below this, a correction is applied as a single atomic
// write; at or above it, the loop performs a hard reset and bumps the
// epoch counter instead of slewing.
const slewThresholdSeconds = 0.050

// serverBackoff is how long a server that failed a sample is skipped for
// (spec §4.C "failed servers are demoted for a backoff window").
const serverBackoff = 30 * time.Second

// Handle is the process-surface handle returned by Start (spec §6).
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	status atomic.Pointer[Status]
}

// Snapshot returns the most recently published Status. It never blocks the
// discipline task.
func (h *Handle) Snapshot() Status {
	s := h.status.Load()
	if s == nil {
		return Status{}
	}
	return *s
}

// Shutdown cancels the loop and waits for its current sample-or-timeout to
// finish (spec §5 cancellation rule): no sample is left in flight after
// Shutdown returns.
func (h *Handle) Shutdown() {
	h.cancel()
	<-h.done
}

// loop holds everything exclusively owned by the discipline task. Nothing
// here is accessed concurrently except through Handle.status.
type loop struct {
	cfg     *config.Config
	vclock  *clock.Virtual
	filter  *kalman.Filter
	sampler *ntpsample.Sampler
	src     tick.Source
	handle  *Handle

	intervalSecs    float64
	serverIdx       int
	backoffUntil    map[string]tick.Tick
	lastUpdateTick  tick.Tick
	lastSuccessTick tick.Tick

	pendingResyncServer string

	epoch      uint64
	lastServer string
	lastRTT    time.Duration
	rttStats   *welford.Stats
	succeeded  uint64
	failed     uint64
	rejected   uint64
}

// Start validates cfg, builds the clock/filter/sampler stack, and launches
// the discipline task in the background. transport may be nil to use a
// real UDP sampler; tests supply a fake to drive deterministic scenarios.
func Start(ctx context.Context, cfg *config.Config, src tick.Source, transport ntpsample.Transport) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	l := newLoop(cfg, src, transport, h)
	l.publish()

	go func() {
		defer close(h.done)
		l.run(runCtx)
	}()

	return h, nil
}

// newLoop builds the clock/filter/sampler stack for cfg. transport may be
// nil to use a real UDP sampler.
func newLoop(cfg *config.Config, src tick.Source, transport ntpsample.Transport, h *Handle) *loop {
	vclock := clock.NewVirtual(src, cfg.Clock.InitialUTC)

	kcfg := kalman.Config{
		InitialUncertaintyOffset: cfg.Kalman.InitialUncertaintyOffset,
		InitialUncertaintyDrift:  cfg.Kalman.InitialUncertaintyDrift,
		DelayToRFactor:           cfg.Kalman.DelayToRFactor,
		RFloor:                   cfg.Kalman.RFloor,
		QInit:                    cfg.Kalman.QInit,
		QMin:                     cfg.Kalman.QMin,
		QMax:                     cfg.Kalman.QMax,
		QGrow:                    cfg.Kalman.QGrow,
		QShrink:                  cfg.Kalman.QShrink,
		NISLow:                   cfg.Kalman.NISLow,
		NISHigh:                  cfg.Kalman.NISHigh,
		NISAlpha:                 cfg.Kalman.NISAlpha,
		OutlierSigma:             cfg.Kalman.OutlierSigma,
		HardResyncThresholdSecs:  cfg.Kalman.HardResyncThresholdSecs,
	}
	filter := kalman.New(kcfg)

	var sampler *ntpsample.Sampler
	if transport != nil {
		sampler = ntpsample.NewSamplerWithTransport(src, vclock, transport)
	} else {
		sampler = ntpsample.NewSampler(src, vclock)
	}

	return &loop{
		cfg:             cfg,
		vclock:          vclock,
		filter:          filter,
		sampler:         sampler,
		src:             src,
		handle:          h,
		intervalSecs:    float64(cfg.NTP.SyncIntervalMinSecs),
		backoffUntil:    make(map[string]tick.Tick),
		lastUpdateTick:  src.Now(),
		lastSuccessTick: src.Now(),
		rttStats:        welford.New(),
	}
}

func (l *loop) run(ctx context.Context) {
	for {
		timer := time.NewTimer(time.Duration(l.intervalSecs * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		l.cycle(ctx)
	}
}

// cycle implements one pass of spec §4.E's cycle steps 2-5.
func (l *loop) cycle(ctx context.Context) {
	now := l.src.Now()
	servers := l.cfg.NTP.Servers
	n := len(servers)
	succeeded := false

	for i := 0; i < n; i++ {
		idx := (l.serverIdx + i) % n
		srv := servers[idx]
		if until, ok := l.backoffUntil[srv]; ok && now < until {
			continue
		}

		timeout := time.Duration(l.cfg.NTP.RequestTimeoutMillis) * time.Millisecond
		sampleCtx, cancel := context.WithTimeout(ctx, timeout)
		sample, err := l.sampler.Sample(sampleCtx, srv, timeout)
		cancel()

		if err != nil {
			log.WithError(err).WithField("server", srv).Debug("ntp sample failed")
			l.backoffUntil[srv] = now + tick.Duration(serverBackoff)
			l.failed++
			continue
		}

		l.serverIdx = (idx + 1) % n
		l.processSample(sample, now)
		succeeded = true
		break
	}

	if !succeeded {
		l.predictOnlyFailure(now)
	}

	l.adjustCadence(succeeded)
	l.publish()
}

// processSample folds one accepted NTP sample into the filter and, unless
// gated as an outlier, applies the resulting offset estimate to the
// Program Clock.
func (l *loop) processSample(sample *ntpsample.Sample, now tick.Tick) {
	dtSeconds := now.Sub(l.lastUpdateTick).Seconds()
	z := sample.Offset.Seconds()
	rttSeconds := sample.RTT.Seconds()

	prevOffset := l.filter.Offset()
	deviation := math.Abs(z - prevOffset)
	hardResync := deviation > l.cfg.Kalman.HardResyncThresholdSecs

	result := l.filter.Update(dtSeconds, z, rttSeconds)
	l.lastUpdateTick = now
	l.lastServer = sample.ServerID
	l.lastRTT = sample.RTT
	l.rttStats.Add(rttSeconds)

	if hardResync {
		if l.pendingResyncServer != "" && l.pendingResyncServer != sample.ServerID {
			log.WithFields(log.Fields{
				"server": sample.ServerID,
				"offset": z,
			}).Warn("corroborated step change, resyncing")
			l.forceResync(z, now)
			l.pendingResyncServer = ""
			return
		}
		l.pendingResyncServer = sample.ServerID
	} else {
		l.pendingResyncServer = ""
	}

	if result.Rejected {
		l.rejected++
		return
	}
	l.succeeded++
	l.lastSuccessTick = now

	l.applyCorrection(l.filter.Offset(), now)
}

// applyCorrection implements spec §4.E's slew-vs-reset correction policy.
func (l *loop) applyCorrection(offsetSeconds float64, now tick.Tick) {
	if math.Abs(offsetSeconds) < slewThresholdSeconds {
		l.vclock.ApplyCorrection(int64(offsetSeconds * float64(time.Second)))
		l.filter.AbsorbOffset(offsetSeconds)
		return
	}
	l.forceResync(offsetSeconds, now)
}

// forceResync performs a discontinuous correction: the clock is reset to
// absorb offsetSeconds in one step, the filter is reseeded with zero
// residual offset (the error is now folded into the clock base), and the
// epoch counter is bumped so readers can detect the discontinuity.
func (l *loop) forceResync(offsetSeconds float64, now tick.Tick) {
	newBase := l.vclock.NowUnixNano() + int64(offsetSeconds*float64(time.Second))
	l.vclock.Reset(newBase, now)
	l.filter.Reseed(0)
	l.epoch++
}

// predictOnlyFailure implements spec §4.E step 5: advance the filter's
// time with no measurement, growing P, when every configured server failed
// this cycle.
func (l *loop) predictOnlyFailure(now tick.Tick) {
	dtSeconds := now.Sub(l.lastUpdateTick).Seconds()
	l.filter.PredictOnly(dtSeconds)
	l.lastUpdateTick = now
}

// adjustCadence grows the sync interval toward the max while the filter is
// well-behaved, and shrinks it toward the min on failure or when nis_ema
// drifts out of band (spec §4.E "Cadence").
func (l *loop) adjustCadence(succeeded bool) {
	inBand := l.filter.NISEMA() >= l.cfg.Kalman.NISLow && l.filter.NISEMA() <= l.cfg.Kalman.NISHigh
	minSecs := float64(l.cfg.NTP.SyncIntervalMinSecs)
	maxSecs := float64(l.cfg.NTP.SyncIntervalMaxSecs)

	if succeeded && inBand {
		l.intervalSecs = math.Min(l.intervalSecs*1.5, maxSecs)
	} else {
		l.intervalSecs = math.Max(l.intervalSecs/2, minSecs)
	}
}

// publish builds an immutable Status from current loop state and swaps it
// into the Handle (spec §5 single-writer, many-reader requirement).
func (l *loop) publish() {
	now := l.src.Now()
	s := &Status{
		NowUTCNanos:      l.vclock.NowUnixNano(),
		OffsetSeconds:    l.filter.Offset(),
		DriftPPM:         l.filter.Drift() * 1e6,
		QScale:           l.filter.QScale(),
		NISEMA:           l.filter.NISEMA(),
		LastServer:       l.lastServer,
		LastRTT:          l.lastRTT,
		RTTStdDev:        time.Duration(l.rttStats.Stddev() * float64(time.Second)),
		LastSyncAgo:      now.Sub(l.lastSuccessTick),
		EpochCounter:     l.epoch,
		SamplesSucceeded: l.succeeded,
		SamplesFailed:    l.failed,
		SamplesRejected:  l.rejected,
	}
	l.handle.status.Store(s)
}
