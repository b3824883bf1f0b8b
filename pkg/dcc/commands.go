// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

// Command builder functions create Packet values ready for transmission.
// Every builder validates its inputs and returns a *ValidationError before
// any byte is produced.

// functionGroupSpec describes one function group instruction
type functionGroupSpec struct {
	first, last int
	encode      func(fns uint32) []byte
	decode      func(instr []byte) uint32
}

// functionGroups is the instruction table for F0-F28, indexed by FunctionGroup
var functionGroups = [NumFunctionGroups]functionGroupSpec{
	GroupF0F4: {
		first: 0, last: 4,
		encode: func(f uint32) []byte {
			return []byte{instrFuncGroupOne | byte(f&0x01)<<4 | byte(f>>1)&0x0F}
		},
		decode: func(b []byte) uint32 {
			return uint32(b[0]>>4)&0x01 | uint32(b[0]&0x0F)<<1
		},
	},
	GroupF5F8: {
		first: 5, last: 8,
		encode: func(f uint32) []byte {
			return []byte{instrFuncGroupTwo | 0x10 | byte(f>>5)&0x0F}
		},
		decode: func(b []byte) uint32 {
			return uint32(b[0]&0x0F) << 5
		},
	},
	GroupF9F12: {
		first: 9, last: 12,
		encode: func(f uint32) []byte {
			return []byte{instrFuncGroupTwo | byte(f>>9)&0x0F}
		},
		decode: func(b []byte) uint32 {
			return uint32(b[0]&0x0F) << 9
		},
	},
	GroupF13F20: {
		first: 13, last: 20,
		encode: func(f uint32) []byte {
			return []byte{instrF13F20, byte(f >> 13)}
		},
		decode: func(b []byte) uint32 {
			return uint32(b[1]) << 13
		},
	},
	GroupF21F28: {
		first: 21, last: 28,
		encode: func(f uint32) []byte {
			return []byte{instrF21F28, byte(f >> 21)}
		},
		decode: func(b []byte) uint32 {
			return uint32(b[1]) << 21
		},
	},
}

// FunctionGroupOf returns the group carrying function index fn.
func FunctionGroupOf(fn int) (FunctionGroup, error) {
	if err := checkRange("function", fn, 0, MaxFunction); err != nil {
		return 0, err
	}
	for g := GroupF0F4; g < NumFunctionGroups; g++ {
		if fn <= functionGroups[g].last {
			return g, nil
		}
	}
	return 0, checkRange("function", fn, 0, MaxFunction)
}

// Mask returns the function bits covered by the group
func (g FunctionGroup) Mask() uint32 {
	if g < 0 || g >= NumFunctionGroups {
		return 0
	}
	spec := functionGroups[g]
	return (uint32(1)<<(spec.last+1) - 1) &^ (uint32(1)<<spec.first - 1)
}

// NewIdlePacket creates the idle packet (FF 00 FF)
func NewIdlePacket() Packet {
	return NewPacket(ClassIdle, idleAddressByte, 0x00)
}

// NewResetPacket creates the digital decoder reset packet (00 00 00).
// Service mode sequences send it with the long preamble.
func NewResetPacket() Packet {
	return NewPacket(ClassProgramming, 0x00, 0x00).WithPreamble(ServicePreambleBits)
}

// SpeedCode maps a speed magnitude 0..127 to the 7-bit 128-step code.
// Code 1 means emergency stop, so magnitude 1 runs at the lowest step.
func SpeedCode(magnitude int) byte {
	switch {
	case magnitude <= 0:
		return 0
	case magnitude == 1:
		return lowestStepCode
	case magnitude > MaxSpeed:
		return MaxSpeed
	}
	return byte(magnitude)
}

// NewSpeedPacket creates a 128 speed step packet from a signed speed.
// Negative speeds run in reverse; zero is sent as stop, forward.
func NewSpeedPacket(addr Address, speed int) (Packet, error) {
	if err := checkRange("speed", speed, -MaxSpeed, MaxSpeed); err != nil {
		return Packet{}, err
	}
	if speed < 0 {
		return NewSpeedStepPacket(addr, -speed, false)
	}
	return NewSpeedStepPacket(addr, speed, true)
}

// NewSpeedStepPacket creates a 128 speed step packet (001 11111, DSSSSSSS).
func NewSpeedStepPacket(addr Address, magnitude int, forward bool) (Packet, error) {
	if err := addr.Validate(); err != nil {
		return Packet{}, err
	}
	if err := checkRange("speed", magnitude, 0, MaxSpeed); err != nil {
		return Packet{}, err
	}
	code := SpeedCode(magnitude)
	if forward {
		code |= 0x80
	}
	body := appendAddress(make([]byte, 0, 4), addr)
	body = append(body, instrAdvancedOps, code)
	return NewPacket(ClassPeriodic, body...), nil
}

// NewEmergencyStopPacket creates a 128 step emergency stop. Address 0
// stops every locomotive.
func NewEmergencyStopPacket(addr Address) (Packet, error) {
	if addr != AddressBroadcast {
		if err := addr.Validate(); err != nil {
			return Packet{}, err
		}
	}
	body := appendAddress(make([]byte, 0, 4), addr)
	body = append(body, instrAdvancedOps, 0x80|emergencyCode)
	return NewPacket(ClassPeriodic, body...), nil
}

// NewFunctionPacket creates the function group instruction for group g.
// fns holds the full F0-F28 bitset (bit n = Fn); only the group's bits
// are transmitted.
func NewFunctionPacket(addr Address, g FunctionGroup, fns uint32) (Packet, error) {
	if err := addr.Validate(); err != nil {
		return Packet{}, err
	}
	if err := checkRange("function group", int(g), int(GroupF0F4), int(GroupF21F28)); err != nil {
		return Packet{}, err
	}
	body := appendAddress(make([]byte, 0, 5), addr)
	body = append(body, functionGroups[g].encode(fns)...)
	return NewPacket(ClassPeriodic, body...), nil
}

// cvBytes splits a CV number into the 10-bit wire form (CV1 is sent as 0)
func cvBytes(cv int) (hi, lo byte) {
	wire := cv - 1
	return byte(wire>>8) & 0x03, byte(wire)
}

func checkCV(cv, value int) error {
	if err := checkRange("cv", cv, MinCV, MaxCV); err != nil {
		return err
	}
	return checkRange("value", value, 0, MaxCVValue)
}

func checkBit(bit int) error {
	return checkRange("bit", bit, 0, 7)
}

func bitData(write bool, bit int, value bool) byte {
	b := byte(bitManipulation) | byte(bit)
	if write {
		b |= 0x10
	}
	if value {
		b |= 0x08
	}
	return b
}

// directPacket builds an addressless service mode instruction (0111CCAA)
func directPacket(op CVOp, cv int, data byte) Packet {
	hi, lo := cvBytes(cv)
	return NewPacket(ClassProgramming, instrDirectMode|byte(op)<<2|hi, lo, data).
		WithPreamble(ServicePreambleBits)
}

// NewDirectWritePacket creates a service mode direct write byte packet
func NewDirectWritePacket(cv, value int) (Packet, error) {
	if err := checkCV(cv, value); err != nil {
		return Packet{}, err
	}
	return directPacket(CVOpWrite, cv, byte(value)), nil
}

// NewDirectVerifyPacket creates a service mode direct verify byte packet.
// The decoder acknowledges if the CV holds value.
func NewDirectVerifyPacket(cv, value int) (Packet, error) {
	if err := checkCV(cv, value); err != nil {
		return Packet{}, err
	}
	return directPacket(CVOpVerify, cv, byte(value)), nil
}

// NewDirectBitVerifyPacket creates a service mode bit verify packet.
// The decoder acknowledges if bit of the CV equals value.
func NewDirectBitVerifyPacket(cv, bit int, value bool) (Packet, error) {
	if err := checkCV(cv, 0); err != nil {
		return Packet{}, err
	}
	if err := checkBit(bit); err != nil {
		return Packet{}, err
	}
	return directPacket(CVOpBit, cv, bitData(false, bit, value)), nil
}

// NewDirectBitWritePacket creates a service mode bit write packet
func NewDirectBitWritePacket(cv, bit int, value bool) (Packet, error) {
	if err := checkCV(cv, 0); err != nil {
		return Packet{}, err
	}
	if err := checkBit(bit); err != nil {
		return Packet{}, err
	}
	return directPacket(CVOpBit, cv, bitData(true, bit, value)), nil
}

// opsPacket builds a long form CV access instruction for an address
func opsPacket(addr Address, op CVOp, cv int, data byte) Packet {
	hi, lo := cvBytes(cv)
	body := appendAddress(make([]byte, 0, 6), addr)
	body = append(body, instrCVLong|byte(op)<<2|hi, lo, data)
	return NewPacket(ClassProgramming, body...)
}

// NewPOMReadPacket creates an operations mode verify/read byte packet.
// The decoder answers with the CV value through RailCom.
func NewPOMReadPacket(addr Address, cv int) (Packet, error) {
	if err := addr.Validate(); err != nil {
		return Packet{}, err
	}
	if err := checkCV(cv, 0); err != nil {
		return Packet{}, err
	}
	return opsPacket(addr, CVOpVerify, cv, 0), nil
}

// NewPOMWritePacket creates an operations mode write byte packet
func NewPOMWritePacket(addr Address, cv, value int) (Packet, error) {
	if err := addr.Validate(); err != nil {
		return Packet{}, err
	}
	if err := checkCV(cv, value); err != nil {
		return Packet{}, err
	}
	return opsPacket(addr, CVOpWrite, cv, byte(value)), nil
}
