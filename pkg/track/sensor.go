// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package track

import (
	"sync"
	"time"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

// SensorConfig holds the current thresholds
type SensorConfig struct {
	AckThreshold      float64       // mA above baseline
	AckMinPulse       time.Duration // shortest pulse counted as an ack
	OvercurrentLimit  float64       // absolute mA
	OvercurrentWindow time.Duration // how long the limit must be exceeded
}

// DefaultSensorConfig returns the NMRA service mode ack thresholds and a
// 2.5 A short circuit limit
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		AckThreshold:      dcc.AckCurrentMilliamps,
		AckMinPulse:       dcc.AckPulse - dcc.AckPulseTolerance,
		OvercurrentLimit:  2500,
		OvercurrentWindow: 2 * time.Millisecond,
	}
}

// baselineAlpha is the weight of a new sample in the baseline average
const baselineAlpha = 0.05

// noEdge marks a condition that is not currently active
const noEdge time.Duration = -1

// Sensor turns current samples into ack and overcurrent events.
// Sample may run on the ADC goroutine while the predicates are polled from
// the timer context; both predicates are edge-triggered and report each
// event once.
type Sensor struct {
	cfg SensorConfig

	mu          sync.Mutex
	last        float64
	baseline    float64
	hasBaseline bool

	armed       bool
	ackStart    time.Duration
	ackLatched  bool
	ackReported bool

	overStart    time.Duration
	overActive   bool
	overReported bool
}

// NewSensor creates a current sensor
func NewSensor(cfg SensorConfig) *Sensor {
	s := &Sensor{cfg: cfg}
	s.Reset()
	return s
}

// Sample records a current measurement taken at time at.
// Times only need to be monotonic relative to each other.
func (s *Sensor) Sample(mA float64, at time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = mA
	if !s.hasBaseline {
		s.baseline = mA
		s.hasBaseline = true
	}

	if s.armed && !s.ackLatched {
		if mA >= s.baseline+s.cfg.AckThreshold {
			if s.ackStart == noEdge {
				s.ackStart = at
			}
			if at-s.ackStart >= s.cfg.AckMinPulse {
				s.ackLatched = true
			}
		} else {
			s.ackStart = noEdge
		}
	}

	// Baseline is frozen while waiting for an ack
	if !s.armed && mA < s.cfg.OvercurrentLimit {
		s.baseline += baselineAlpha * (mA - s.baseline)
	}

	if mA >= s.cfg.OvercurrentLimit {
		if s.overStart == noEdge {
			s.overStart = at
		}
		if at-s.overStart >= s.cfg.OvercurrentWindow {
			s.overActive = true
		}
	} else {
		s.overStart = noEdge
		s.overActive = false
		s.overReported = false
	}
}

// ArmAck starts watching for an ack pulse relative to the current baseline
func (s *Sensor) ArmAck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.ackStart = noEdge
	s.ackLatched = false
	s.ackReported = false
}

// DisarmAck stops watching for an ack and resumes baseline tracking
func (s *Sensor) DisarmAck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	s.ackStart = noEdge
}

// AckDetected reports an ack pulse seen since ArmAck, once
func (s *Sensor) AckDetected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackLatched && !s.ackReported {
		s.ackReported = true
		return true
	}
	return false
}

// Overcurrent reports a sustained overcurrent, once per episode
func (s *Sensor) Overcurrent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overActive && !s.overReported {
		s.overReported = true
		return true
	}
	return false
}

// Milliamps returns the most recent sample
func (s *Sensor) Milliamps() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Baseline returns the quiescent current estimate
func (s *Sensor) Baseline() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline
}

// Reset clears all state including the baseline
func (s *Sensor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
	s.baseline = 0
	s.hasBaseline = false
	s.armed = false
	s.ackStart = noEdge
	s.ackLatched = false
	s.ackReported = false
	s.overStart = noEdge
	s.overActive = false
	s.overReported = false
}
