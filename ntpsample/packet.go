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

// Package ntpsample implements client-mode NTP v3/v4 queries: wire-format
// packet encode/decode, offset/RTT computation, and per-sample quality
// validation (spec §4.C).
package ntpsample

import (
	"bytes"
	"encoding/binary"
)

// PacketSizeBytes is the size of a standard NTP packet, with no extension
// fields or MAC.
const PacketSizeBytes = 48

// Packet is an NTP v3/v4 packet.
/*
http://seriot.ch/ntp.php
https://tools.ietf.org/html/rfc5905
   0                   1                   2                   3
   0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
0 +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |LI | VN  |Mode |    Stratum     |     Poll      |  Precision   |
4 +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                         Root Delay                            |
8 +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                         Root Dispersion                       |
12+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                          Reference ID                         |
16+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                     Reference Timestamp (64)                  |
24+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                      Origin Timestamp (64)                    |
32+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                      Receive Timestamp (64)                   |
40+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
  |                      Transmit Timestamp (64)                  |
48+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

 0 1 2 3 4 5 6 7
+-+-+-+-+-+-+-+-+
|LI | VN  |Mode |
+-+-+-+-+-+-+-+-+
 0 0 1 0 0 0 1 1

Setting = LI | VN | Mode. Client request example:
00 100 011 (or 0x23)
|  |   +-- client mode (3)
|  +------ version (4)
+--------- leap indicator, 0 no warning
*/
type Packet struct {
	Settings       uint8  // leap indicator, version number and mode
	Stratum        uint8  // stratum
	Poll           int8   // poll, power of 2 seconds
	Precision      int8   // precision, power of 2 seconds
	RootDelay      uint32 // total delay to the reference clock
	RootDispersion uint32 // total dispersion to the reference clock
	ReferenceID    uint32 // identifier of server or reference clock
	RefTimeSec     uint32 // last time local clock was updated, sec
	RefTimeFrac    uint32 // last time local clock was updated, frac
	OrigTimeSec    uint32 // client transmit time, sec (echoed by server)
	OrigTimeFrac   uint32 // client transmit time, frac (echoed by server)
	RxTimeSec      uint32 // server receive time, sec
	RxTimeFrac     uint32 // server receive time, frac
	TxTimeSec      uint32 // server transmit time, sec
	TxTimeFrac     uint32 // server transmit time, frac
}

// leap indicator values
const (
	LeapNone          = 0
	LeapInsertSecond  = 1
	LeapDeleteSecond  = 2
	LeapUnsynchronized = 3
)

// mode values
const (
	ModeClient = 3
	ModeServer = 4
)

const (
	versionFirst = 1
	versionLast  = 4
)

// LeapIndicator extracts the 2-bit leap indicator from Settings.
func (p *Packet) LeapIndicator() uint8 {
	return p.Settings >> 6
}

// Version extracts the 3-bit version number from Settings.
func (p *Packet) Version() uint8 {
	return (p.Settings >> 3) & 0x7
}

// Mode extracts the 3-bit mode from Settings.
func (p *Packet) Mode() uint8 {
	return p.Settings & 0x7
}

// NewRequestSettings builds a Settings byte for a version v client-mode
// request with no leap warning.
func NewRequestSettings(v uint8) uint8 {
	return (LeapNone << 6) | (v << 3) | ModeClient
}

// ValidRequestFormat verifies that LI|VN|Mode are well-formed for a client
// request: LI is no-warning or alarm, VN in [1,4], mode is client.
func (p *Packet) ValidRequestFormat() bool {
	li := p.LeapIndicator()
	v := p.Version()
	m := p.Mode()
	if li != LeapNone && li != LeapUnsynchronized {
		return false
	}
	if v < versionFirst || v > versionLast {
		return false
	}
	return m == ModeClient
}

// Bytes serializes the packet to its 48-byte wire representation.
func (p *Packet) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToPacket parses a 48-byte wire representation into a Packet.
func BytesToPacket(raw []byte) (*Packet, error) {
	p := &Packet{}
	reader := bytes.NewReader(raw)
	if err := binary.Read(reader, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return p, nil
}
