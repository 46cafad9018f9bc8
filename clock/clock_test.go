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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khronos-project/khronos/tick"
)

func TestNewVirtualUsesInitialUTC(t *testing.T) {
	src := tick.NewManualSource()
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(src, initial)

	assert.Equal(t, initial.UnixNano(), v.NowUnixNano())
	assert.Equal(t, uint64(0), v.Epoch())
}

func TestNowAdvancesWithTick(t *testing.T) {
	src := tick.NewManualSource()
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(src, initial)

	src.Advance(2 * time.Second)
	assert.Equal(t, initial.Add(2*time.Second).UnixNano(), v.NowUnixNano())
}

func TestApplyCorrectionDoesNotBumpEpoch(t *testing.T) {
	src := tick.NewManualSource()
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(src, initial)

	src.Advance(time.Second)
	v.ApplyCorrection(int64(500 * time.Millisecond))

	assert.Equal(t, uint64(0), v.Epoch())
	assert.Equal(t, initial.Add(1500*time.Millisecond).UnixNano(), v.NowUnixNano())
}

func TestApplyCorrectionIsContinuous(t *testing.T) {
	// Reads immediately before/after a correction must differ by no more
	// than the correction's own magnitude plus elapsed tick time (spec §4.B).
	src := tick.NewManualSource()
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(src, initial)

	before := v.NowUnixNano()
	delta := int64(10 * time.Millisecond)
	v.ApplyCorrection(delta)
	after := v.NowUnixNano()

	assert.Equal(t, delta, after-before)
}

func TestResetBumpsEpochAndRebases(t *testing.T) {
	src := tick.NewManualSource()
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(src, initial)

	newBase := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixNano()
	atTick := src.Now()
	v.Reset(newBase, atTick)

	assert.Equal(t, uint64(1), v.Epoch())
	assert.Equal(t, newBase, v.NowUnixNano())

	v.Reset(newBase, atTick)
	assert.Equal(t, uint64(2), v.Epoch())
}

func TestNowMonotonicExceptAcrossReset(t *testing.T) {
	src := tick.NewManualSource()
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(src, initial)

	last := v.NowUnixNano()
	for i := 0; i < 100; i++ {
		src.Advance(10 * time.Millisecond)
		if i == 50 {
			v.ApplyCorrection(int64(5 * time.Millisecond))
		}
		now := v.NowUnixNano()
		assert.GreaterOrEqual(t, now, last)
		last = now
	}
}
