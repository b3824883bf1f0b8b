// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package railcom

// SymbolKind classifies a received line code byte
type SymbolKind uint8

// Symbol kinds
const (
	SymbolInvalid SymbolKind = iota
	SymbolData
	SymbolKindAck
	SymbolKindNack
	SymbolKindBusy
)

// decodeTable is the inverse of encodeTable; 0xFF marks a non-data byte
var decodeTable = buildDecodeTable()

func buildDecodeTable() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = 0xFF
	}
	for v, code := range encodeTable {
		t[code] = byte(v)
	}
	return t
}

// DecodeSymbol maps a received byte to its six data bits or control kind
func DecodeSymbol(b byte) (byte, SymbolKind) {
	switch b {
	case SymbolAck, SymbolAckAlt:
		return 0, SymbolKindAck
	case SymbolNack:
		return 0, SymbolKindNack
	case SymbolBusy:
		return 0, SymbolKindBusy
	}
	if v := decodeTable[b]; v != 0xFF {
		return v, SymbolData
	}
	return 0, SymbolInvalid
}

// EncodeSymbol returns the line code byte for the low six bits of v
func EncodeSymbol(v byte) byte {
	return encodeTable[v&0x3F]
}
