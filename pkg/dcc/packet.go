// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import "bytes"

// Address is a multi-function decoder address.
type Address int

// IsLong returns true if the address needs the two-byte long form
func (a Address) IsLong() bool {
	return a > MaxShortAddress
}

// Validate checks the address against the registrable range
func (a Address) Validate() error {
	return checkRange("address", int(a), int(MinAddress), int(MaxLongAddress))
}

// appendAddress appends the address bytes. Broadcast is a single zero byte.
func appendAddress(dst []byte, a Address) []byte {
	if a.IsLong() {
		return append(dst, 0xC0|byte(a>>8), byte(a))
	}
	return append(dst, byte(a))
}

// Packet represents a DCC packet: instruction bytes and the trailing
// error detection byte.
type Packet struct {
	data     []byte
	class    Class
	preamble int
	cutout   bool
}

// NewPacket creates a packet from its body, appending the checksum.
func NewPacket(class Class, body ...byte) Packet {
	data := make([]byte, len(body), len(body)+1)
	copy(data, body)
	data = append(data, Checksum(body))
	return Packet{
		data:     data,
		class:    class,
		preamble: PreambleBits,
	}
}

// NewRawPacket wraps bytes that already include the checksum, as seen on
// the wire. The checksum is not verified; use Valid.
func NewRawPacket(data []byte, preamble int) Packet {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Packet{data: cp, preamble: preamble}
}

// Bytes returns all packet bytes including the checksum
func (p Packet) Bytes() []byte {
	return p.data
}

// Body returns the packet bytes without the checksum
func (p Packet) Body() []byte {
	if len(p.data) == 0 {
		return nil
	}
	return p.data[:len(p.data)-1]
}

// Checksum returns the transmitted error detection byte
func (p Packet) Checksum() byte {
	if len(p.data) == 0 {
		return 0
	}
	return p.data[len(p.data)-1]
}

// Len returns the packet length in bytes including the checksum
func (p Packet) Len() int {
	return len(p.data)
}

// IsZero returns true for the zero Packet
func (p Packet) IsZero() bool {
	return len(p.data) == 0
}

// Valid returns true if the checksum matches the body
func (p Packet) Valid() bool {
	return len(p.data) >= MinPacketSize && Checksum(p.Body()) == p.Checksum()
}

// Class returns the scheduler class the packet was built for
func (p Packet) Class() Class {
	return p.class
}

// Preamble returns the number of preamble one-bits sent before the packet
func (p Packet) Preamble() int {
	return p.preamble
}

// Cutout returns true if a RailCom cutout follows the packet
func (p Packet) Cutout() bool {
	return p.cutout
}

// WithClass returns a copy tagged with class c
func (p Packet) WithClass(c Class) Packet {
	p.class = c
	return p
}

// WithPreamble returns a copy sent with n preamble bits
func (p Packet) WithPreamble(n int) Packet {
	p.preamble = n
	return p
}

// WithCutout returns a copy with the RailCom cutout flag set to on
func (p Packet) WithCutout(on bool) Packet {
	p.cutout = on
	return p
}

// Equal compares packet bytes, ignoring scheduling metadata
func (p Packet) Equal(q Packet) bool {
	return bytes.Equal(p.data, q.data)
}

// IsIdle returns true for the idle packet
func (p Packet) IsIdle() bool {
	return len(p.data) == 3 && p.data[0] == idleAddressByte && p.data[1] == 0x00
}

// IsReset returns true for the digital decoder reset packet
func (p Packet) IsReset() bool {
	return len(p.data) == 3 && p.data[0] == 0x00 && p.data[1] == 0x00
}

// IsDirectMode returns true if p has the shape of a service mode direct
// access packet. Outside service mode the same bytes address 112-127.
func (p Packet) IsDirectMode() bool {
	return len(p.data) == 4 && p.data[0]&0xF0 == instrDirectMode
}

// Address extracts the multi-function decoder address.
// Returns false for idle, accessory and reserved address partitions.
func (p Packet) Address() (Address, bool) {
	if len(p.data) < MinPacketSize {
		return 0, false
	}
	b := p.data[0]
	switch {
	case b <= 0x7F:
		return Address(b), true
	case b >= 0xC0 && b <= 0xE7:
		return Address(b&0x3F)<<8 | Address(p.data[1]), true
	}
	return 0, false
}
