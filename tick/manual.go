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

package tick

import (
	"sync/atomic"
	"time"
)

// ManualSource is a Source whose reading only moves when Advance is called.
// It exists so property tests (see spec §8) can exercise the Program Clock
// and Discipline Loop without depending on real wall-clock time.
type ManualSource struct {
	nanos atomic.Int64
}

// NewManualSource returns a ManualSource starting at tick 0.
func NewManualSource() *ManualSource {
	return &ManualSource{}
}

// Now implements Source.
func (m *ManualSource) Now() Tick {
	return Tick(m.nanos.Load())
}

// Since implements Source.
func (m *ManualSource) Since(t Tick) time.Duration {
	return m.Now().Sub(t)
}

// Advance moves the source forward by d, which must be non-negative.
func (m *ManualSource) Advance(d time.Duration) Tick {
	return Tick(m.nanos.Add(d.Nanoseconds()))
}
