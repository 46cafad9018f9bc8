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

package clock

import (
	"sync/atomic"
	"time"

	"github.com/khronos-project/khronos/tick"
)

// snapshot is the atomically-published (base, anchor, epoch) triple. It is
// immutable once constructed; readers never see a partial update.
type snapshot struct {
	baseUTCNanos int64
	anchor       tick.Tick
	epoch        uint64
}

// Virtual is a monotonic-anchored virtual UTC clock. The zero value is not
// usable; construct with NewVirtual. Virtual is safe for concurrent use:
// Now is lock-free, ApplyCorrection and Reset are serialized by the
// Discipline Loop (its only caller) but take no lock themselves, relying on
// a single atomic pointer swap.
type Virtual struct {
	src  tick.Source
	snap atomic.Pointer[snapshot]
}

// NewVirtual creates a Virtual clock that reads initialUTC as "now" until
// the first correction supersedes it.
func NewVirtual(src tick.Source, initialUTC time.Time) *Virtual {
	v := &Virtual{src: src}
	s := &snapshot{
		baseUTCNanos: initialUTC.UnixNano(),
		anchor:       src.Now(),
		epoch:        0,
	}
	v.snap.Store(s)
	return v
}

// Now returns the current estimate of UTC "now". The read path is lock-free:
// one atomic load of the snapshot pointer plus one monotonic read.
func (v *Virtual) Now() time.Time {
	return time.Unix(0, v.NowUnixNano())
}

// NowUnixNano is Now expressed as nanoseconds since the Unix epoch, which is
// what the Kalman Filter and Discipline Loop operate on internally to avoid
// repeated time.Time allocation on the hot read path.
func (v *Virtual) NowUnixNano() int64 {
	s := v.snap.Load()
	elapsed := v.src.Now() - s.anchor
	return s.baseUTCNanos + int64(elapsed)
}

// Epoch returns the current re-sync epoch counter. It increments only on
// Reset, never on ApplyCorrection.
func (v *Virtual) Epoch() uint64 {
	return v.snap.Load().epoch
}

// ApplyCorrection re-anchors the clock so that its estimate of "now" becomes
// NowUnixNano() + deltaOffsetNanos, without incrementing the epoch counter.
// This is the "slew" path (spec §4.E): deployed as a single atomic write,
// not a rate-limited ramp, so the resulting step is bounded by
// deltaOffsetNanos itself -- callers are expected to only use this for
// corrections below the configured slew threshold. The new base already
// accounts for the elapsed time between the old anchor and the write below,
// so no elapsed time is lost; reads stay monotonic across the swap for a
// non-negative deltaOffsetNanos, while a negative one moves reads back by
// |deltaOffsetNanos|. A reader observing the clock mid-swap sees either the
// old or the new snapshot, both internally consistent.
func (v *Virtual) ApplyCorrection(deltaOffsetNanos int64) {
	now := v.src.Now()
	old := v.snap.Load()
	newBase := old.baseUTCNanos + int64(now-old.anchor) + deltaOffsetNanos
	v.snap.Store(&snapshot{
		baseUTCNanos: newBase,
		anchor:       now,
		epoch:        old.epoch,
	})
}

// Reset re-anchors the clock to an authoritative (baseUTCNanos, atTick)
// pair and increments the epoch counter, signaling to observers that a
// discontinuity (a re-sync, spec §4.E) occurred. Used on hard re-sync;
// startup seeding goes through NewVirtual, which leaves the epoch at 0.
func (v *Virtual) Reset(baseUTCNanos int64, atTick tick.Tick) {
	old := v.snap.Load()
	v.snap.Store(&snapshot{
		baseUTCNanos: baseUTCNanos,
		anchor:       atTick,
		epoch:        old.epoch + 1,
	})
}
