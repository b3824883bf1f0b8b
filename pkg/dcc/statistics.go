// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks packet statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets     uint64
	ValidPackets     uint64
	ChecksumErrors   uint64
	DecodeErrors     uint64
	MalformedPackets uint64
	IdlePackets      uint64
	SpeedPackets     uint64
	FunctionPackets  uint64
	CVPackets        uint64
	ResetPackets     uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a packet and its errors
func (s *Statistics) Update(packet *Packet, decodeErr error, anomalies []ValidationError) {
	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrChecksum) {
			s.ChecksumErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if len(anomalies) > 0 {
		s.MalformedPackets++
		return
	}
	s.ValidPackets++

	if packet == nil {
		return
	}
	ins, err := ParsePacket(*packet, false)
	if err != nil {
		return
	}
	switch ins.Kind {
	case KindIdle:
		s.IdlePackets++
	case KindReset:
		s.ResetPackets++
	case KindSpeed128, KindEmergencyStop:
		s.SpeedPackets++
	case KindFunction:
		s.FunctionPackets++
	case KindOpsCV, KindDirectCV:
		s.CVPackets++
	}
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

func (s *Statistics) errorCount() uint64 {
	return s.ChecksumErrors + s.DecodeErrors + s.MalformedPackets
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, errorPercent float64
	if s.TotalPackets > 0 {
		validPercent = float64(s.ValidPackets) * 100.0 / float64(s.TotalPackets)
		errorPercent = float64(s.errorCount()) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, validPercent)
	result += fmt.Sprintf("  Idle:             %5d\n", s.IdlePackets)
	result += fmt.Sprintf("  Speed:            %5d\n", s.SpeedPackets)
	result += fmt.Sprintf("  Function:         %5d\n", s.FunctionPackets)
	result += fmt.Sprintf("  CV Access:        %5d\n", s.CVPackets)
	result += fmt.Sprintf("  Reset:            %5d\n", s.ResetPackets)
	if s.errorCount() > 0 {
		result += fmt.Sprintf("Errors:          %8d (%.1f%%)\n", s.errorCount(), errorPercent)
		if s.ChecksumErrors > 0 {
			result += fmt.Sprintf("  Checksum:         %5d\n", s.ChecksumErrors)
		}
		if s.DecodeErrors > 0 {
			result += fmt.Sprintf("  Decode:           %5d\n", s.DecodeErrors)
		}
		if s.MalformedPackets > 0 {
			result += fmt.Sprintf("  Malformed:        %5d\n", s.MalformedPackets)
		}
	}
	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
