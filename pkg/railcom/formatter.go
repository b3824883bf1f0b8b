// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package railcom

import "fmt"

// FormatKind returns the human-readable name for a frame kind
func FormatKind(k Kind) string {
	switch k {
	case KindAddressHigh:
		return "ADR_HIGH"
	case KindAddressLow:
		return "ADR_LOW"
	case KindCVValue:
		return "POM"
	case KindSpeed:
		return "SPEED"
	case KindDyn:
		return "DYN"
	case KindExt:
		return "EXT"
	case KindAck:
		return "ACK"
	case KindNack:
		return "NACK"
	case KindBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// FormatFrame formats a frame into a single line
func FormatFrame(f Frame) string {
	target := fmt.Sprintf("addr=%d", f.Address)
	if f.Broadcast {
		target = "ch1"
	}

	switch f.Kind {
	case KindAck, KindNack, KindBusy:
		return fmt.Sprintf("%s %s", target, FormatKind(f.Kind))
	case KindDyn:
		return fmt.Sprintf("%s %s[%d] = %d", target, FormatKind(f.Kind), f.Subindex, f.Value)
	default:
		return fmt.Sprintf("%s %s = %d", target, FormatKind(f.Kind), f.Value)
	}
}

// String returns a formatted statistics summary
func (s Stats) String() string {
	result := "=== RailCom Statistics ===\n"
	result += fmt.Sprintf("Captures:        %8d (%d empty)\n", s.Captures, s.EmptyCaptures)
	result += fmt.Sprintf("Frames:          %8d\n", s.Frames)
	result += fmt.Sprintf("Invalid Symbols: %8d\n", s.InvalidSymbols)
	result += fmt.Sprintf("Unknown IDs:     %8d\n", s.UnknownDatagrams)
	result += fmt.Sprintf("Truncated:       %8d\n", s.TruncatedDatagram)
	result += "==========================\n"
	return result
}
