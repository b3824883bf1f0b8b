// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package railcom

import (
	"time"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

// Kind identifies the meaning of a decoded frame
type Kind uint8

// Frame kinds
const (
	KindAddressHigh Kind = iota
	KindAddressLow
	KindCVValue
	KindSpeed
	KindDyn
	KindExt
	KindAck
	KindNack
	KindBusy
)

// Frame is one decoded RailCom datagram or control symbol.
// Broadcast frames come from channel 1 and carry no packet address.
type Frame struct {
	Address   dcc.Address
	Broadcast bool
	Kind      Kind
	Value     int
	Subindex  int
}

// Capture holds the raw bytes received during one cutout, tagged with the
// address of the packet that preceded it.
type Capture struct {
	Address  dcc.Address
	Channel1 []byte
	Channel2 []byte
	At       time.Duration
}

// Empty returns true if nothing was received in either channel
func (c Capture) Empty() bool {
	return len(c.Channel1) == 0 && len(c.Channel2) == 0
}

// AddressFromParts combines ADR_HIGH and ADR_LOW values into an address.
// Short addresses are sent with ADR_HIGH = 0.
func AddressFromParts(high, low byte) dcc.Address {
	if high&longAddressFlag == 0 {
		return dcc.Address(low)
	}
	return dcc.Address(high&0x3F)<<8 | dcc.Address(low)
}
