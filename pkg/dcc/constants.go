// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dcc provides a Go implementation of the NMRA Digital Command Control
// track protocol.
//
// DCC is the bipolar track signal that carries commands from a command station
// to locomotive decoders. This package provides packet construction for the
// baseline and extended instruction sets, checksum handling, bit serialization,
// a half-period decoder, and human-readable formatting.
//
// Timing and framing values are taken from NMRA S-9.1 (electrical), S-9.2
// (baseline packets), S-9.2.1 (extended packets) and S-9.2.3 (service mode).
package dcc

import "time"

// Bit timing for a command station (S-9.1)
const (
	OneHalfPeriod  = 58 * time.Microsecond
	ZeroHalfPeriod = 100 * time.Microsecond
)

// Half-period acceptance windows for a decoder (S-9.1)
const (
	OneHalfMin  = 52 * time.Microsecond
	OneHalfMax  = 64 * time.Microsecond
	ZeroHalfMin = 90 * time.Microsecond
	ZeroHalfMax = 10000 * time.Microsecond
)

// Preamble lengths in one-bits
const (
	PreambleBits        = 14 // minimum sent by a command station (S-9.2)
	ServicePreambleBits = 20 // long preamble for service mode (S-9.2.3)
	MinDecoderPreamble  = 10 // shortest preamble a decoder accepts (S-9.2)
)

// Packet size limits, checksum included
const (
	MinPacketSize = 3
	MaxPacketSize = 6
)

// Address ranges (S-9.2.1)
const (
	AddressBroadcast Address = 0
	MinAddress       Address = 1
	MaxShortAddress  Address = 127
	MaxLongAddress   Address = 10239
	idleAddressByte          = 0xFF
)

// Value ranges accepted by the instruction encoders
const (
	MaxSpeed       = 127
	MaxFunction    = 28
	MinCV          = 1
	MaxCV          = 1024
	MaxCVValue     = 255
	emergencyCode  = 0x01
	lowestStepCode = 0x02
)

// Service mode direct-mode sequencing (S-9.2.3)
const (
	ServiceResetPackets    = 3 // resets before the first probe
	ServiceProbePackets    = 5 // identical write/verify packets
	ServiceRecoveryPackets = 6 // resets giving the decoder time to act
)

// Service mode acknowledgment (S-9.2.3): at least 60 mA for 6 ms +/- 1 ms
const (
	AckCurrentMilliamps = 60
	AckPulse            = 6 * time.Millisecond
	AckPulseTolerance   = 1 * time.Millisecond
)

// SameAddressGap is the minimum spacing between packets to one address.
const SameAddressGap = 5 * time.Millisecond

// Instruction byte prefixes
const (
	instrAdvancedOps  = 0x3F // 001 11111: 128 speed step control
	instrFuncGroupOne = 0x80 // 100: F0-F4
	instrFuncGroupTwo = 0xA0 // 101: F5-F12, bit 4 selects the half
	instrFeatureExp   = 0xC0 // 110: expansion instructions
	instrF13F20       = 0xDE
	instrF21F28       = 0xDF
	instrCVLong       = 0xE0 // 1110: configuration variable access, long form
	instrDirectMode   = 0x70 // 0111: service mode direct access
	bitManipulation   = 0xE0 // 111KDBBB
)

// CVOp is the two-bit CC field of a CV access instruction.
type CVOp uint8

// CV access operations
const (
	CVOpReserved  CVOp = 0x00
	CVOpVerify    CVOp = 0x01
	CVOpBit       CVOp = 0x02
	CVOpWrite     CVOp = 0x03
	cvOpFieldMask      = 0x03
)

// Class tags a packet with the scheduler priority it was produced for.
type Class uint8

// Packet classes
const (
	ClassIdle Class = iota
	ClassPeriodic
	ClassProgramming
)

// FunctionGroup identifies one of the function group instructions.
type FunctionGroup int

// Function groups
const (
	GroupF0F4 FunctionGroup = iota
	GroupF5F8
	GroupF9F12
	GroupF13F20
	GroupF21F28
	NumFunctionGroups
)

// Decoder states (internal)
const (
	statePreamble = iota
	stateData
	stateSeparator
)
