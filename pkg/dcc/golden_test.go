// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestGolden_FormatBits(t *testing.T) {
	speed, _ := NewSpeedPacket(3, 64)
	write, _ := NewDirectWritePacket(29, 6)

	tests := []struct {
		name   string
		packet Packet
	}{
		{"idle_bits", NewIdlePacket()},
		{"reset_bits", NewResetPacket()},
		{"speed_bits", speed},
		{"direct_write_bits", write},
	}

	g := newGoldie(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(FormatBits(tt.packet)+"\n"))
		})
	}
}

func TestGolden_FormatPacket(t *testing.T) {
	speed, _ := NewSpeedPacket(3, 64)
	write, _ := NewDirectWritePacket(29, 6)
	fn, _ := NewFunctionPacket(3, GroupF0F4, 0x03)

	tests := []struct {
		name    string
		packet  Packet
		service bool
	}{
		{"format_speed", speed, false},
		{"format_direct_write", write, true},
		{"format_function", fn, false},
	}

	g := newGoldie(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(FormatPacket(tt.packet, tt.service)))
		})
	}
}
