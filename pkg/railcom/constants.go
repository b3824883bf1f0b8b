// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package railcom decodes the RailCom bidirectional return channel (RCN-217).
//
// During a cutout after a DCC packet the command station stops driving the
// rails and decoders answer with a short burst of 250 kbaud UART bytes.
// Every byte is a 4-of-8 line code symbol carrying six data bits or a
// control symbol. Channel 1 carries the broadcast address datagrams;
// channel 2 answers the decoder addressed by the preceding packet.
package railcom

import "time"

// Baud is the RailCom UART bit rate (8N1)
const Baud = 250000

// Cutout timing measured from the end of the packet end bit (RCN-217)
const (
	CutoutStartMin = 26 * time.Microsecond
	CutoutStartMax = 32 * time.Microsecond
	Channel1Start  = 80 * time.Microsecond
	Channel1End    = 177 * time.Microsecond
	Channel2Start  = 193 * time.Microsecond
	Channel2End    = 454 * time.Microsecond
	CutoutEndMin   = 454 * time.Microsecond
	CutoutEndMax   = 488 * time.Microsecond
)

// Channel sizes in bytes
const (
	Channel1Bytes = 2
	Channel2Bytes = 6
)

// Control symbols
const (
	SymbolAck    = 0x0F
	SymbolAckAlt = 0xF0
	SymbolNack   = 0x3C
	SymbolBusy   = 0xE1
)

// Datagram identifiers (first four bits of a datagram)
const (
	IDPOM     = 0
	IDAdrHigh = 1
	IDAdrLow  = 2
	IDExt     = 3
	IDDyn     = 7
)

// DynActualSpeed is the DYN subindex reporting the actual speed
const DynActualSpeed = 0

// Datagram lengths in 6-bit symbols
const (
	shortDatagramSymbols = 2 // 12 bits: ID + 8 data bits
	dynDatagramSymbols   = 3 // 18 bits: ID + 8 data bits + 6 bit subindex
)

// longAddressFlag marks ADR_HIGH as the upper part of a long address
const longAddressFlag = 0x80

// encodeTable maps six data bits to their 4-of-8 line code symbol
var encodeTable = [64]byte{
	0xAC, 0xAA, 0xA9, 0xA5, 0xA3, 0xA6, 0x9C, 0x9A, // 0x00-0x07
	0x99, 0x95, 0x93, 0x96, 0x8E, 0x8D, 0x8B, 0xB1, // 0x08-0x0F
	0xB2, 0xB4, 0xB8, 0x74, 0x72, 0x6C, 0x6A, 0x69, // 0x10-0x17
	0x65, 0x63, 0x66, 0x5C, 0x5A, 0x59, 0x55, 0x53, // 0x18-0x1F
	0x56, 0x4E, 0x4D, 0x4B, 0x47, 0x71, 0xE8, 0xE4, // 0x20-0x27
	0xE2, 0xD1, 0xC9, 0xC5, 0xD8, 0xD4, 0xD2, 0xCA, // 0x28-0x2F
	0xC6, 0xCC, 0x78, 0x17, 0x1B, 0x1D, 0x1E, 0x2E, // 0x30-0x37
	0x36, 0x3A, 0x27, 0x2B, 0x2D, 0x35, 0x39, 0x33, // 0x38-0x3F
}
