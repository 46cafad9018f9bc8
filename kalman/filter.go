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

// Package kalman implements the 2-state linear Kalman filter over clock
// offset and drift, with adaptive process noise driven by a NIS (Normalized
// Innovation Squared) estimator.
//
// The state is small enough (2x2 covariance) that it is represented as plain
// float64 arithmetic rather than through a general matrix library: nothing
// in the surrounding stack pulls in one, and a hand-rolled 2x2 closed form
// is both clearer and allocation-free compared to a general NxN solver.
package kalman

import "math"

// Config holds the tunable parameters of the filter (spec §6 kalman.*).
type Config struct {
	InitialUncertaintyOffset float64 // seconds
	InitialUncertaintyDrift  float64 // seconds/second

	DelayToRFactor float64 // scales (rtt/2)^2 into the measurement variance
	RFloor         float64 // seconds^2, minimum measurement variance

	QInit  float64
	QMin   float64
	QMax   float64
	QGrow  float64
	QShrink float64

	NISLow   float64
	NISHigh  float64
	NISAlpha float64

	OutlierSigma            float64
	HardResyncThresholdSecs float64
}

// DefaultConfig returns the bounds suggested by the filter design: NIS
// bounds approximate the central mass of a chi-squared(1) distribution.
func DefaultConfig() Config {
	return Config{
		InitialUncertaintyOffset: 1.0,
		InitialUncertaintyDrift:  1e-4,
		DelayToRFactor:           1.0,
		RFloor:                   1e-9,
		QInit:                    1e-12,
		QMin:                     1e-14,
		QMax:                     1e-6,
		QGrow:                    2.0,
		QShrink:                  0.5,
		NISLow:                   0.1,
		NISHigh:                  3.8,
		NISAlpha:                 0.1,
		OutlierSigma:             6.0,
		HardResyncThresholdSecs:  1.0,
	}
}

// mat2 is a 2x2 symmetric-by-construction matrix, stored densely.
type mat2 [2][2]float64

// Filter is a 2-state Kalman filter over (offset, drift).
type Filter struct {
	cfg Config

	x [2]float64 // [offset_seconds, drift_seconds_per_second]
	p mat2

	qScale float64
	nisEMA float64

	initialized bool // true once the first successful sample has seeded x[0]
}

// New returns a Filter seeded with the initial conditions of spec §4.D:
// x = [0, 0], P = diag(uncertainty^2), q_scale = q_init.
func New(cfg Config) *Filter {
	f := &Filter{cfg: cfg}
	f.reset()
	return f
}

func (f *Filter) reset() {
	f.x = [2]float64{0, 0}
	f.p = mat2{
		{sq(f.cfg.InitialUncertaintyOffset), 0},
		{0, sq(f.cfg.InitialUncertaintyDrift)},
	}
	f.qScale = f.cfg.QInit
	f.nisEMA = (f.cfg.NISLow + f.cfg.NISHigh) / 2
	f.initialized = false
}

func sq(v float64) float64 { return v * v }

// Offset returns the current offset estimate in seconds.
func (f *Filter) Offset() float64 { return f.x[0] }

// Drift returns the current drift estimate in seconds per second.
func (f *Filter) Drift() float64 { return f.x[1] }

// Covariance returns a copy of the current 2x2 covariance matrix.
func (f *Filter) Covariance() [2][2]float64 { return f.p }

// QScale returns the current adaptive process-noise scale factor.
func (f *Filter) QScale() float64 { return f.qScale }

// NISEMA returns the exponentially smoothed NIS statistic.
func (f *Filter) NISEMA() float64 { return f.nisEMA }

// predict advances x and P by dtSeconds with no measurement, per the F(Δt)
// transition model and Wiener-process-acceleration Q(Δt) of spec §4.D.
func (f *Filter) predict(dtSeconds float64) {
	if dtSeconds < 0 {
		dtSeconds = 0
	}
	offset := f.x[0] + dtSeconds*f.x[1]
	drift := f.x[1]
	f.x[0], f.x[1] = offset, drift

	// F * P * F^T for F = [[1, dt],[0,1]]:
	p00, p01, p11 := f.p[0][0], f.p[0][1], f.p[1][1]
	fp00 := p00 + dtSeconds*p01
	fp01 := p01 + dtSeconds*p11
	// (F P) F^T
	n00 := fp00 + dtSeconds*fp01
	n01 := fp01
	n11 := p11

	q := processNoise(dtSeconds, f.qScale)
	f.p = mat2{
		{n00 + q[0][0], n01 + q[0][1]},
		{n01 + q[1][0], n11 + q[1][1]},
	}
}

// processNoise computes Q(Δt) = q_scale * [[dt^3/3, dt^2/2], [dt^2/2, dt]].
func processNoise(dt, qScale float64) mat2 {
	dt2 := dt * dt
	dt3 := dt2 * dt
	return mat2{
		{qScale * dt3 / 3, qScale * dt2 / 2},
		{qScale * dt2 / 2, qScale * dt},
	}
}

// UpdateResult reports the outcome of one Update call.
type UpdateResult struct {
	Rejected bool    // true if the sample was gated out as an outlier
	Innovation float64 // y, seconds
	InnovationCovariance float64 // S, seconds^2
	NIS        float64
}

// PredictOnly advances the filter's time without a measurement (spec §4.E
// step 5: sample failure). P grows via Q(Δt) alone, x's offset advances by
// the current drift estimate.
func (f *Filter) PredictOnly(dtSeconds float64) {
	f.predict(dtSeconds)
}

// Update advances the filter by dtSeconds and then folds in a measured
// offset z (seconds) with one-way-delay proxy rttSeconds/2, per spec §4.D.
// On the very first successful sample (no prior Update call), the filter
// seeds x = [z, 0] directly rather than running a trivial predict-update
// cycle against the arbitrary initial x=[0,0].
func (f *Filter) Update(dtSeconds, z, rttSeconds float64) UpdateResult {
	r := f.cfg.DelayToRFactor*sq(rttSeconds/2) + f.cfg.RFloor

	if !f.initialized {
		f.x[0] = z
		f.x[1] = 0
		f.p[0][0] = r
		f.initialized = true
		return UpdateResult{Innovation: 0, InnovationCovariance: r, NIS: 0}
	}

	f.predict(dtSeconds)

	y := z - f.x[0] // H = [1, 0]
	s := f.p[0][0] + r

	nis := sq(y) / s

	if f.outlierGated(y, s, nis) {
		return UpdateResult{Rejected: true, Innovation: y, InnovationCovariance: s, NIS: nis}
	}

	f.applyMeasurement(y, s, r)
	f.adaptProcessNoise(nis)

	if !f.isFinitePositiveSemiDefinite() {
		f.reset()
	}

	return UpdateResult{Innovation: y, InnovationCovariance: s, NIS: nis}
}

// outlierGated implements the spec §4.D outlier gate: reject if the
// innovation exceeds outlier_sigma standard deviations AND nis_ema is still
// in-band (an out-of-band nis_ema means the filter itself is miscalibrated,
// so a large innovation is expected rather than anomalous).
func (f *Filter) outlierGated(y, s, nis float64) bool {
	inBand := f.nisEMA >= f.cfg.NISLow && f.nisEMA <= f.cfg.NISHigh
	threshold := f.cfg.OutlierSigma * math.Sqrt(s)
	return inBand && math.Abs(y) > threshold && nis != 0
}

// applyMeasurement performs the gain computation and a Joseph-form update:
// P = (I-KH) P (I-KH)^T + K R K^T, which preserves symmetry and positive
// semi-definiteness under floating-point rounding better than the textbook
// short form.
func (f *Filter) applyMeasurement(y, s, r float64) {
	k0 := f.p[0][0] / s
	k1 := f.p[0][1] / s

	f.x[0] += k0 * y
	f.x[1] += k1 * y

	p00, p01, p11 := f.p[0][0], f.p[0][1], f.p[1][1]

	// A = I - K H, H = [1,0]: A = [[1-k0, 0], [-k1, 1]]
	// B = A P
	b00 := (1 - k0) * p00
	b01 := (1 - k0) * p01
	b10 := p01 - k1*p00
	b11 := p11 - k1*p01

	// (A P) A^T, then add K R K^T
	j00 := b00*(1-k0) + b01*0
	j01 := -b00*k1 + b01
	j10 := b10*(1-k0) + b11*0
	j11 := -b10*k1 + b11

	kk00 := k0 * r * k0
	kk01 := k0 * r * k1
	kk11 := k1 * r * k1

	f.p = mat2{
		{j00 + kk00, j01 + kk01},
		{j10 + kk01, j11 + kk11},
	}
}

// adaptProcessNoise updates nis_ema and q_scale per spec §4.D.
func (f *Filter) adaptProcessNoise(nis float64) {
	a := f.cfg.NISAlpha
	f.nisEMA = (1-a)*f.nisEMA + a*nis

	switch {
	case f.nisEMA > f.cfg.NISHigh:
		f.qScale = math.Min(f.qScale*f.cfg.QGrow, f.cfg.QMax)
	case f.nisEMA < f.cfg.NISLow:
		f.qScale = math.Max(f.qScale*f.cfg.QShrink, f.cfg.QMin)
	}
}

// isFinitePositiveSemiDefinite is the runtime-invariant check of spec §7:
// P must stay finite with a non-negative diagonal and a non-negative
// determinant (within a small tolerance for floating-point rounding).
func (f *Filter) isFinitePositiveSemiDefinite() bool {
	const eps = -1e-9
	for _, row := range f.p {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	if f.p[0][0] < 0 || f.p[1][1] < 0 {
		return false
	}
	det := f.p[0][0]*f.p[1][1] - f.p[0][1]*f.p[1][0]
	return det >= eps
}

// AbsorbOffset subtracts seconds from the offset state, with no change to
// P. It is used by a caller that has just folded the current offset
// estimate into a downstream clock: the filter's residual belief drops to
// whatever was not absorbed (normally zero), while drift and covariance
// carry on unaffected.
func (f *Filter) AbsorbOffset(seconds float64) {
	f.x[0] -= seconds
}

// Reseed forces x = [offsetSeconds, 0] and inflates P, matching the
// re-sync behavior of spec §4.E: used when the Discipline Loop corroborates
// a large, persistent innovation across two independent servers.
func (f *Filter) Reseed(offsetSeconds float64) {
	f.x[0] = offsetSeconds
	f.x[1] = 0
	f.p[0][0] = math.Max(f.p[0][0], sq(f.cfg.InitialUncertaintyOffset))
	f.p[0][1] = 0
	f.p[1][0] = 0
	f.p[1][1] = math.Max(f.p[1][1], sq(f.cfg.InitialUncertaintyDrift))
	f.initialized = true
}
