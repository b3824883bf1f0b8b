// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import "time"

// AppendBits appends the wire bit sequence of p to dst.
// Format: PREAMBLE(1...) + { START(0) + BYTE(MSB first) }... + END(1)
func AppendBits(dst []bool, p Packet) []bool {
	for i := 0; i < p.Preamble(); i++ {
		dst = append(dst, true)
	}
	for _, b := range p.Bytes() {
		dst = append(dst, false)
		for i := 7; i >= 0; i-- {
			dst = append(dst, b&(1<<i) != 0)
		}
	}
	return append(dst, true)
}

// EncodeBits returns the wire bit sequence of p
func EncodeBits(p Packet) []bool {
	return AppendBits(make([]bool, 0, BitLength(p)), p)
}

// BitLength returns the number of bits transmitted for p
func BitLength(p Packet) int {
	return p.Preamble() + 9*p.Len() + 1
}

// HalfPeriod returns the duration of each half of a bit
func HalfPeriod(bit bool) time.Duration {
	if bit {
		return OneHalfPeriod
	}
	return ZeroHalfPeriod
}

// Duration returns the time needed to transmit p
func Duration(p Packet) time.Duration {
	var d time.Duration
	for _, bit := range EncodeBits(p) {
		d += 2 * HalfPeriod(bit)
	}
	return d
}

// MaxPacketDuration is the transmission time of the longest packet this
// package produces with the long preamble and every data bit zero.
const MaxPacketDuration = (ServicePreambleBits+1)*2*OneHalfPeriod + 9*MaxPacketSize*2*ZeroHalfPeriod
