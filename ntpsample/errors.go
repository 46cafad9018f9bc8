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

import "fmt"

// Kind classifies a sample-level failure (spec §4.C/§7). All Kinds are
// recoverable at the sampler level; the Discipline Loop decides whether to
// retry, fail over to another server, or defer to the next cycle.
type Kind int

const (
	// KindTimeout means no reply arrived within the caller's timeout.
	KindTimeout Kind = iota
	// KindNetwork means the UDP send or receive itself failed.
	KindNetwork
	// KindMalformedReply means the reply could not be parsed as a Packet,
	// or failed the wire-level sanity checks in validateReply.
	KindMalformedReply
	// KindUnsynchronized means the server reported leap=alarm or a stratum
	// outside [1,15] (stratum 0 = kiss-o'-death / unsynchronized, 16+ =
	// reserved/invalid).
	KindUnsynchronized
	// KindMismatch means the origin timestamp echoed by the server does not
	// match the one we sent -- protection against stale or forged replies.
	KindMismatch
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindMalformedReply:
		return "malformed_reply"
	case KindUnsynchronized:
		return "unsynchronized"
	case KindMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// SampleError wraps a sample-level failure with its Kind and the underlying
// cause, if any.
type SampleError struct {
	Kind   Kind
	Server string
	Cause  error
}

func (e *SampleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ntpsample: %s: %s: %v", e.Server, e.Kind, e.Cause)
	}
	return fmt.Sprintf("ntpsample: %s: %s", e.Server, e.Kind)
}

func (e *SampleError) Unwrap() error {
	return e.Cause
}

func newSampleError(server string, kind Kind, cause error) *SampleError {
	return &SampleError{Kind: kind, Server: server, Cause: cause}
}
