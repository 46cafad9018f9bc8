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
	"errors"
	"net"
	"os"
	"time"
)

// defaultNTPPort is appended to bare host endpoints, matching spec §6's
// "host[:port] (default port 123)".
const defaultNTPPort = "123"

// udpTransport is the production Transport: one UDP round-trip per call,
// grounded on the dial/poll shape of the ShiwaTime NTP client example --
// facebook-time itself never implements a plain client-mode NTP query (its
// NTP code is server/responder and control-protocol monitoring only).
type udpTransport struct{}

func (udpTransport) RoundTrip(ctx context.Context, endpoint string, req []byte, timeout time.Duration) ([]byte, error) {
	addr := endpoint
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		addr = net.JoinHostPort(endpoint, defaultNTPPort)
	}

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "udp", addr)
	if err != nil {
		return nil, newSampleError(endpoint, KindNetwork, err)
	}
	defer conn.Close()

	if _, err := conn.Write(req); err != nil {
		return nil, newSampleError(endpoint, KindNetwork, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, newSampleError(endpoint, KindNetwork, err)
	}

	buf := make([]byte, PacketSizeBytes)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, newSampleError(endpoint, KindTimeout, err)
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, newSampleError(endpoint, KindTimeout, err)
		}
		return nil, newSampleError(endpoint, KindNetwork, err)
	}
	if n < PacketSizeBytes {
		return nil, newSampleError(endpoint, KindMalformedReply, nil)
	}

	return buf[:n], nil
}
