// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import (
	"fmt"
	"time"
)

// Decoder implements the DCC packet decoder state machine.
// It accepts either measured half-periods (DecodeHalfPeriod) or already
// recovered bits (DecodeBit).
type Decoder struct {
	state    int
	ones     int // preamble one-bits seen
	current  byte
	bitCount int
	buffer   []byte

	// Half-period pairing
	pendingHalf bool
	pendingOne  bool
}

// NewDecoder creates a new packet decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  statePreamble,
		buffer: make([]byte, 0, MaxPacketSize),
	}
}

// Reset resets the decoder to hunt for a preamble
func (d *Decoder) Reset() {
	d.state = statePreamble
	d.ones = 0
	d.current = 0
	d.bitCount = 0
	d.buffer = d.buffer[:0]
	d.pendingHalf = false
}

// DecodeHalfPeriod classifies the time between two signal edges and pairs
// halves into bits. A mismatched pair drops the older half, which is how
// the decoder locks onto bit boundaries at the first zero after a preamble.
func (d *Decoder) DecodeHalfPeriod(dur time.Duration) (*Packet, error) {
	var one bool
	switch {
	case dur >= OneHalfMin && dur <= OneHalfMax:
		one = true
	case dur >= ZeroHalfMin && dur <= ZeroHalfMax:
		one = false
	default:
		d.Reset()
		return nil, fmt.Errorf("invalid half-period %v", dur)
	}

	if !d.pendingHalf || d.pendingOne != one {
		d.pendingHalf = true
		d.pendingOne = one
		return nil, nil
	}
	d.pendingHalf = false
	return d.DecodeBit(one)
}

// DecodeBit processes a single bit through the decoder state machine
// Returns a completed packet, or nil if the packet is incomplete
// Returns an error if decoding fails
func (d *Decoder) DecodeBit(bit bool) (*Packet, error) {
	switch d.state {
	case statePreamble:
		if bit {
			d.ones++
			return nil, nil
		}
		if d.ones < MinDecoderPreamble {
			ones := d.ones
			d.ones = 0
			if ones == 0 {
				return nil, nil
			}
			return nil, fmt.Errorf("preamble too short: %d bits (min %d)", ones, MinDecoderPreamble)
		}
		d.state = stateData
		d.current = 0
		d.bitCount = 0
		d.buffer = d.buffer[:0]
		return nil, nil

	case stateData:
		d.current <<= 1
		if bit {
			d.current |= 1
		}
		d.bitCount++
		if d.bitCount < 8 {
			return nil, nil
		}
		if len(d.buffer) >= MaxPacketSize {
			d.Reset()
			return nil, fmt.Errorf("buffer overflow: packet exceeds %d bytes", MaxPacketSize)
		}
		d.buffer = append(d.buffer, d.current)
		d.state = stateSeparator
		return nil, nil

	case stateSeparator:
		if !bit {
			// Data start bit: another byte follows
			d.state = stateData
			d.current = 0
			d.bitCount = 0
			return nil, nil
		}
		// Packet end bit, which may also count toward the next preamble
		preamble := d.ones
		data := d.buffer
		d.state = statePreamble
		d.ones = 1

		if len(data) < MinPacketSize {
			return nil, fmt.Errorf("packet too short: %d bytes", len(data))
		}
		packet := NewRawPacket(data, preamble)
		if !packet.Valid() {
			return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, Checksum(packet.Body()), packet.Checksum())
		}
		return &packet, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
