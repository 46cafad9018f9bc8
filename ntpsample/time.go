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

package ntpsample

import "time"

// NTPEpochOffsetNanoseconds is the difference between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01), in nanoseconds.
const NTPEpochOffsetNanoseconds = int64(2208988800) * int64(time.Second)

// ToNTP converts a Unix-epoch time.Time into NTP seconds+fraction.
func ToNTP(t time.Time) (seconds, fraction uint32) {
	nsec := t.UnixNano() + NTPEpochOffsetNanoseconds
	sec := nsec / time.Second.Nanoseconds()
	frac := (nsec - sec*time.Second.Nanoseconds()) << 32 / time.Second.Nanoseconds()
	return uint32(sec), uint32(frac)
}

// FromNTP converts NTP seconds+fraction into a Unix-epoch time.Time.
func FromNTP(seconds, fraction uint32) time.Time {
	secs := int64(seconds) - NTPEpochOffsetNanoseconds/time.Second.Nanoseconds()
	nanos := (int64(fraction) * time.Second.Nanoseconds()) >> 32
	return time.Unix(secs, nanos).UTC()
}

// offsetAndRTT computes the clock offset and round-trip delay from the four
// NTP exchange timestamps, per RFC 5905 §8:
//
//	offset = ((T2 - T1) + (T3 - T4)) / 2
//	rtt    = (T4 - T1) - (T3 - T2)
//
// T1 origin (local send), T2 receive (server), T3 transmit (server), T4
// destination (local receive).
func offsetAndRTT(t1, t2, t3, t4 time.Time) (offset, rtt time.Duration) {
	forward := t2.Sub(t1)
	back := t3.Sub(t4)
	offset = (forward + back) / 2

	roundTrip := t4.Sub(t1)
	serverProcessing := t3.Sub(t2)
	rtt = roundTrip - serverProcessing
	return offset, rtt
}
