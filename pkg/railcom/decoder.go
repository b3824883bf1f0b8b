// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package railcom

import "github.com/Thermoquad/trackside/pkg/dcc"

// Stats counts what the decoder saw and discarded
type Stats struct {
	Captures          uint64
	EmptyCaptures     uint64
	Frames            uint64
	InvalidSymbols    uint64
	UnknownDatagrams  uint64
	TruncatedDatagram uint64
}

// Decoder turns cutout captures into frames.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	stats Stats
}

// NewDecoder creates a new RailCom decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes both channels of a capture. Channel 1 yields broadcast
// address frames; channel 2 yields frames for the capture's address.
// Corrupt data is dropped, so an empty result only means no new data.
func (d *Decoder) Decode(c Capture) []Frame {
	d.stats.Captures++
	if c.Empty() {
		d.stats.EmptyCaptures++
		return nil
	}
	frames := d.DecodeChannel(c.Channel1, 1, c.Address)
	return append(frames, d.DecodeChannel(c.Channel2, 2, c.Address)...)
}

// DecodeChannel decodes the bytes of one channel. An invalid symbol is
// dropped along with any datagram it interrupts, and decoding resumes at the
// next symbol that starts a known datagram.
func (d *Decoder) DecodeChannel(data []byte, channel int, addr dcc.Address) []Frame {
	var frames []Frame
	var pending []byte
	need := 0

	for _, b := range data {
		v, kind := DecodeSymbol(b)
		switch kind {
		case SymbolInvalid:
			d.stats.InvalidSymbols++
			if len(pending) > 0 {
				d.stats.TruncatedDatagram++
				pending = pending[:0]
			}
			continue

		case SymbolKindAck, SymbolKindNack, SymbolKindBusy:
			if len(pending) > 0 {
				d.stats.TruncatedDatagram++
				pending = pending[:0]
			}
			if channel == 2 {
				frames = append(frames, Frame{Address: addr, Kind: controlKind(kind)})
			}
			continue
		}

		if len(pending) == 0 {
			need = datagramSymbols(v >> 2)
			if need == 0 {
				d.stats.UnknownDatagrams++
				continue
			}
		}
		pending = append(pending, v)
		if len(pending) < need {
			continue
		}

		f := parseDatagram(pending)
		if channel == 1 {
			f.Broadcast = true
		} else {
			f.Address = addr
		}
		frames = append(frames, f)
		pending = pending[:0]
	}

	if len(pending) > 0 {
		d.stats.TruncatedDatagram++
	}
	return d.count(frames)
}

// Stats returns a snapshot of the decoder counters
func (d *Decoder) Stats() Stats {
	return d.stats
}

// ResetStats clears the decoder counters
func (d *Decoder) ResetStats() {
	d.stats = Stats{}
}

func (d *Decoder) count(frames []Frame) []Frame {
	d.stats.Frames += uint64(len(frames))
	return frames
}

func controlKind(k SymbolKind) Kind {
	switch k {
	case SymbolKindNack:
		return KindNack
	case SymbolKindBusy:
		return KindBusy
	}
	return KindAck
}

// datagramSymbols returns the length of a datagram by ID, 0 if unknown
func datagramSymbols(id byte) int {
	switch id {
	case IDPOM, IDAdrHigh, IDAdrLow, IDExt:
		return shortDatagramSymbols
	case IDDyn:
		return dynDatagramSymbols
	}
	return 0
}

// parseDatagram unpacks ID(4) DATA(8) [SUBINDEX(6)] from 6-bit symbols
func parseDatagram(syms []byte) Frame {
	id := syms[0] >> 2
	value := int(syms[0]&0x03)<<6 | int(syms[1])

	switch id {
	case IDPOM:
		return Frame{Kind: KindCVValue, Value: value}
	case IDAdrHigh:
		return Frame{Kind: KindAddressHigh, Value: value}
	case IDAdrLow:
		return Frame{Kind: KindAddressLow, Value: value}
	case IDExt:
		return Frame{Kind: KindExt, Value: value}
	}

	sub := int(syms[2])
	if sub == DynActualSpeed {
		return Frame{Kind: KindSpeed, Value: value, Subindex: sub}
	}
	return Frame{Kind: KindDyn, Value: value, Subindex: sub}
}
