// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError via errors.Is
var ErrValidation = errors.New("validation error")

// ErrChecksum is returned for packets whose error detection byte is wrong
var ErrChecksum = errors.New("checksum mismatch")

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyOutOfRange AnomalyType = iota
	AnomalyChecksum
	AnomalyLength
	AnomalyPreamble
	AnomalyReservedAddress
	AnomalyUnknownInstruction
	AnomalyDecodeError
)

// ValidationError represents an out-of-range input or a packet anomaly
type ValidationError struct {
	Type    AnomalyType
	Field   string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Is makes every ValidationError match ErrValidation
func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// checkRange returns a *ValidationError if v is outside [min, max]
func checkRange(field string, v, min, max int) error {
	if v >= min && v <= max {
		return nil
	}
	return &ValidationError{
		Type:    AnomalyOutOfRange,
		Field:   field,
		Message: fmt.Sprintf("%s %d out of range (valid %d-%d)", field, v, min, max),
		Details: map[string]interface{}{"value": v, "min": min, "max": max},
	}
}

// CheckRange validates v against [min, max] for the named field
func CheckRange(field string, v, min, max int) error {
	return checkRange(field, v, min, max)
}

// ValidatePacket validates packet structure and detects anomalies
// Returns a slice of validation errors (empty if packet is valid)
func ValidatePacket(p Packet, service bool) []ValidationError {
	anomalies := []ValidationError{}

	if p.Len() < MinPacketSize || p.Len() > MaxPacketSize {
		anomalies = append(anomalies, ValidationError{
			Type:    AnomalyLength,
			Message: fmt.Sprintf("Packet length %d out of range (%d-%d bytes)", p.Len(), MinPacketSize, MaxPacketSize),
			Details: map[string]interface{}{"length": p.Len(), "min": MinPacketSize, "max": MaxPacketSize},
		})
		return anomalies
	}

	if !p.Valid() {
		anomalies = append(anomalies, ValidationError{
			Type:    AnomalyChecksum,
			Message: fmt.Sprintf("Checksum mismatch (expected 0x%02X, got 0x%02X)", Checksum(p.Body()), p.Checksum()),
			Details: map[string]interface{}{"expected": Checksum(p.Body()), "actual": p.Checksum()},
		})
		return anomalies
	}

	if p.Preamble() > 0 && p.Preamble() < MinDecoderPreamble {
		anomalies = append(anomalies, ValidationError{
			Type:    AnomalyPreamble,
			Message: fmt.Sprintf("Preamble too short (%d bits, minimum %d)", p.Preamble(), MinDecoderPreamble),
			Details: map[string]interface{}{"preamble": p.Preamble(), "min": MinDecoderPreamble},
		})
	}

	first := p.Bytes()[0]
	if first >= 0xE8 && first <= 0xFE {
		anomalies = append(anomalies, ValidationError{
			Type:    AnomalyReservedAddress,
			Message: fmt.Sprintf("Reserved address partition 0x%02X", first),
			Details: map[string]interface{}{"first_byte": first},
		})
		return anomalies
	}

	if _, err := ParsePacket(p, service); err != nil {
		anomalies = append(anomalies, ValidationError{
			Type:    AnomalyUnknownInstruction,
			Message: err.Error(),
			Details: map[string]interface{}{"bytes": p.Bytes()},
		})
	}

	return anomalies
}
