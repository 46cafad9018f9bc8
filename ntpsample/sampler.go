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

import (
	"context"
	"time"

	"github.com/khronos-project/khronos/clock"
	"github.com/khronos-project/khronos/tick"
)

// Sample is the result of one successful NTP query (spec §3 "NTP Sample").
type Sample struct {
	ServerID      string
	Offset        time.Duration // signed: positive means the server's clock is ahead of ours
	RTT           time.Duration
	Stratum       uint8
	Leap          uint8
	SampleTick    tick.Tick // monotonic tick at which this sample was taken, for scheduling
	RecvTimeUTC   time.Time
}

// Transport performs one NTP request/reply exchange over the wire. It is
// abstracted behind an interface (mirroring the PHCIface/Clock-style
// interfaces in facebook-time's sptp client) so the protocol logic in
// Sampler.Sample can be tested without a real UDP socket. It is purely a
// wire carrier: T1/T4 are timestamped by the caller (Sample), not by the
// Transport, so that the timestamps come from the Program Clock Sample is
// disciplining rather than the OS wall clock.
type Transport interface {
	// RoundTrip sends req to addr and returns the raw reply. The deadline
	// must be enforced by the implementation; RoundTrip returns a
	// *SampleError wrapping KindTimeout or KindNetwork on failure, or
	// KindMalformedReply for a reply shorter than PacketSizeBytes.
	RoundTrip(ctx context.Context, addr string, req []byte, timeout time.Duration) (reply []byte, err error)
}

// Sampler issues client-mode NTP queries against configured servers.
type Sampler struct {
	transport Transport
	src       tick.Source
	vclock    *clock.Virtual
	version   uint8
}

// NewSampler returns a Sampler that dials real UDP sockets. vclock is the
// Program Clock being disciplined: its own reading, not the OS clock, is
// what Sample measures against the server (spec Glossary, θ).
func NewSampler(src tick.Source, vclock *clock.Virtual) *Sampler {
	return NewSamplerWithTransport(src, vclock, &udpTransport{})
}

// NewSamplerWithTransport returns a Sampler using a caller-supplied
// Transport, for tests or for alternate wire carriers.
func NewSamplerWithTransport(src tick.Source, vclock *clock.Virtual, transport Transport) *Sampler {
	return &Sampler{transport: transport, src: src, vclock: vclock, version: 4}
}

// Sample performs one NTP client/server exchange against endpoint
// (host[:port]; the UDP transport applies default port 123) and returns a
// validated Sample, or a *SampleError describing why the sample was
// rejected (spec §4.C). T1 and T4 are read from the Program Clock (not
// time.Now()) so the offset this computes is the Program Clock's own error
// against the server, closing the loop the Discipline Loop corrects.
func (s *Sampler) Sample(ctx context.Context, endpoint string, timeout time.Duration) (*Sample, error) {
	t1 := s.vclock.Now()
	txSec, txFrac := ToNTP(t1)
	req := &Packet{
		Settings:     NewRequestSettings(s.version),
		TxTimeSec:    txSec,
		TxTimeFrac:   txFrac,
	}
	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, newSampleError(endpoint, KindMalformedReply, err)
	}

	replyBytes, err := s.transport.RoundTrip(ctx, endpoint, reqBytes, timeout)
	if err != nil {
		if se, ok := err.(*SampleError); ok {
			return nil, se
		}
		return nil, newSampleError(endpoint, KindNetwork, err)
	}
	t4 := s.vclock.Now()

	reply, err := BytesToPacket(replyBytes)
	if err != nil {
		return nil, newSampleError(endpoint, KindMalformedReply, err)
	}

	if err := validateReply(reply, txSec, txFrac); err != nil {
		err.Server = endpoint
		return nil, err
	}

	t2 := FromNTP(reply.RxTimeSec, reply.RxTimeFrac)
	t3 := FromNTP(reply.TxTimeSec, reply.TxTimeFrac)

	offset, rtt := offsetAndRTT(t1, t2, t3, t4)
	if rtt < 0 {
		return nil, newSampleError(endpoint, KindMalformedReply, nil)
	}

	return &Sample{
		ServerID:    endpoint,
		Offset:      offset,
		RTT:         rtt,
		Stratum:     reply.Stratum,
		Leap:        reply.LeapIndicator(),
		SampleTick:  s.src.Now(),
		RecvTimeUTC: t4.UTC(),
	}, nil
}

// validateReply applies the wire-level sanity checks of spec §4.C: mode,
// version, stratum range, leap indicator, and the origin-echo check that
// protects against stale or forged replies.
func validateReply(reply *Packet, sentTxSec, sentTxFrac uint32) *SampleError {
	if reply.Mode() != ModeServer {
		return newSampleError("", KindMalformedReply, nil)
	}
	v := reply.Version()
	if v < versionFirst || v > versionLast {
		return newSampleError("", KindMalformedReply, nil)
	}
	if reply.Stratum == 0 || reply.Stratum > 15 {
		return newSampleError("", KindUnsynchronized, nil)
	}
	if reply.LeapIndicator() == LeapUnsynchronized {
		return newSampleError("", KindUnsynchronized, nil)
	}
	if reply.OrigTimeSec != sentTxSec || reply.OrigTimeFrac != sentTxFrac {
		return newSampleError("", KindMismatch, nil)
	}
	return nil
}
