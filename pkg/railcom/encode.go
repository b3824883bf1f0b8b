// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package railcom

import "github.com/Thermoquad/trackside/pkg/dcc"

// EncodeDatagram encodes a 12-bit datagram: ID(4) DATA(8)
func EncodeDatagram(id, value byte) []byte {
	return []byte{
		EncodeSymbol(id<<2 | value>>6),
		EncodeSymbol(value),
	}
}

// EncodePOM encodes a CV value answer
func EncodePOM(value byte) []byte {
	return EncodeDatagram(IDPOM, value)
}

// EncodeDyn encodes an 18-bit DYN datagram: ID(4) DATA(8) SUBINDEX(6)
func EncodeDyn(value, subindex byte) []byte {
	return append(EncodeDatagram(IDDyn, value), EncodeSymbol(subindex))
}

// EncodeSpeed encodes the actual speed DYN datagram
func EncodeSpeed(speed byte) []byte {
	return EncodeDyn(speed, DynActualSpeed)
}

// EncodeAddress encodes the ADR_HIGH or ADR_LOW datagram of addr
func EncodeAddress(addr dcc.Address, high bool) []byte {
	if !high {
		return EncodeDatagram(IDAdrLow, byte(addr))
	}
	if !addr.IsLong() {
		return EncodeDatagram(IDAdrHigh, 0)
	}
	return EncodeDatagram(IDAdrHigh, longAddressFlag|byte(addr>>8)&0x3F)
}

// EncodeAck returns the ACK control symbol
func EncodeAck() []byte {
	return []byte{SymbolAck}
}

// EncodeNack returns the NACK control symbol
func EncodeNack() []byte {
	return []byte{SymbolNack}
}
