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

// Package tick provides a monotonic, wall-clock-immune time source for the
// rest of Khronos to anchor against.
package tick

import (
	"time"

	"golang.org/x/sys/unix"
)

// Tick is an opaque, strictly non-decreasing count of nanoseconds since a
// Source was created. It is not comparable across processes or Source
// instances.
type Tick int64

// Duration returns d as a Tick, for arithmetic against a Source's readings.
func Duration(d time.Duration) Tick {
	return Tick(d.Nanoseconds())
}

// Sub returns the duration elapsed between an earlier and later Tick.
func (t Tick) Sub(earlier Tick) time.Duration {
	return time.Duration(t - earlier)
}

// Source is a monotonic tick source. Now is safe for concurrent use by
// multiple goroutines; it never blocks and never allocates.
type Source interface {
	// Now returns the current tick. Two calls t1, t2 where t1 was taken no
	// later than t2 always satisfy t1 <= t2.
	Now() Tick
	// Since returns how much time has elapsed since t.
	Since(t Tick) time.Duration
}

// monotonic reads CLOCK_MONOTONIC through the clock_gettime syscall, the
// same primitive facebook-time's clock package used for CLOCK_REALTIME
// adjustment, here used purely for reading.
type monotonic struct {
	startNanos int64
}

// NewSource calibrates a new monotonic Source. It should be created once per
// process and shared; every Source instance has its own zero point, so Ticks
// from different Sources are not comparable.
func NewSource() Source {
	return &monotonic{startNanos: readMonotonicNanos()}
}

func readMonotonicNanos() int64 {
	var ts unix.Timespec
	// CLOCK_MONOTONIC does not jump on wall-clock adjustments, NTP slewing,
	// or timezone changes, and (on Linux) does not run during suspend --
	// CLOCK_BOOTTIME would, but we don't need cross-suspend continuity here,
	// just non-decreasing reads (see fbclock/daemon/config.go's uptime()
	// for the sibling CLOCK_BOOTTIME use of the same syscall).
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// clock_gettime(CLOCK_MONOTONIC) failing is not recoverable; every
		// other component assumes a working monotonic source exists.
		panic("tick: CLOCK_MONOTONIC unavailable: " + err.Error())
	}
	return ts.Nano()
}

func (m *monotonic) Now() Tick {
	return Tick(readMonotonicNanos() - m.startNanos)
}

func (m *monotonic) Since(t Tick) time.Duration {
	return m.Now().Sub(t)
}
