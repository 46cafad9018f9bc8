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

package discipline

import "time"

// Status is the read-only snapshot published for observers (spec §3, §6).
// It is immutable once built: the loop never mutates a published Status,
// it builds and publishes a new one.
type Status struct {
	NowUTCNanos int64

	OffsetSeconds float64
	DriftPPM      float64
	QScale        float64
	NISEMA        float64

	LastServer     string
	LastRTT        time.Duration
	RTTStdDev      time.Duration // running (since start) standard deviation of successful samples' RTT
	LastSyncAgo    time.Duration // time since the last accepted (non-rejected) sample; grows during an outage
	EpochCounter   uint64

	SamplesSucceeded uint64
	SamplesFailed    uint64
	SamplesRejected  uint64
}
