// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const step = 250 * time.Microsecond

// feed samples mA from start for length and returns the end time
func feed(s *Sensor, mA float64, start, length time.Duration) time.Duration {
	t := start
	for ; t < start+length; t += step {
		s.Sample(mA, t)
	}
	return t
}

func TestSensor_AckPulse(t *testing.T) {
	s := NewSensor(DefaultSensorConfig())
	now := feed(s, 20, 0, 10*time.Millisecond)
	assert.InDelta(t, 20, s.Baseline(), 0.01)

	s.ArmAck()
	now = feed(s, 100, now, 6*time.Millisecond)
	feed(s, 20, now, time.Millisecond)

	assert.True(t, s.AckDetected(), "6 ms pulse of +80 mA should ack")
	assert.False(t, s.AckDetected(), "ack is reported once")
}

func TestSensor_AckRejects(t *testing.T) {
	tests := []struct {
		name  string
		arm   bool
		mA    float64
		pulse time.Duration
	}{
		{"not armed", false, 100, 6 * time.Millisecond},
		{"pulse too short", true, 100, 3 * time.Millisecond},
		{"pulse too weak", true, 70, 6 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSensor(DefaultSensorConfig())
			now := feed(s, 20, 0, 10*time.Millisecond)
			if tt.arm {
				s.ArmAck()
			}
			now = feed(s, tt.mA, now, tt.pulse)
			feed(s, 20, now, time.Millisecond)
			assert.False(t, s.AckDetected())
		})
	}
}

func TestSensor_BaselineRelative(t *testing.T) {
	s := NewSensor(DefaultSensorConfig())
	// A running locomotive raises the quiescent draw
	now := feed(s, 400, 0, 50*time.Millisecond)
	s.ArmAck()
	now = feed(s, 470, now, 6*time.Millisecond)
	assert.True(t, s.AckDetected())

	s.ArmAck()
	feed(s, 450, now, 6*time.Millisecond)
	assert.False(t, s.AckDetected(), "50 mA above baseline is below threshold")
}

func TestSensor_RearmClearsLatch(t *testing.T) {
	s := NewSensor(DefaultSensorConfig())
	now := feed(s, 20, 0, 5*time.Millisecond)
	s.ArmAck()
	now = feed(s, 100, now, 6*time.Millisecond)
	s.ArmAck()
	assert.False(t, s.AckDetected(), "ArmAck discards an earlier pulse")

	s.DisarmAck()
	feed(s, 100, now, 6*time.Millisecond)
	assert.False(t, s.AckDetected())
}

func TestSensor_Overcurrent(t *testing.T) {
	s := NewSensor(DefaultSensorConfig())
	now := feed(s, 20, 0, time.Millisecond)

	now = feed(s, 3000, now, time.Millisecond)
	assert.False(t, s.Overcurrent(), "1 ms spike is within the window")

	now = feed(s, 20, now, time.Millisecond)
	now = feed(s, 3000, now, 3*time.Millisecond)
	assert.True(t, s.Overcurrent())
	assert.False(t, s.Overcurrent(), "reported once per episode")

	now = feed(s, 20, now, time.Millisecond)
	feed(s, 3000, now, 3*time.Millisecond)
	assert.True(t, s.Overcurrent(), "a new episode reports again")
}

func TestSensor_Reset(t *testing.T) {
	s := NewSensor(DefaultSensorConfig())
	now := feed(s, 20, 0, 2*time.Millisecond)
	feed(s, 3000, now, 3*time.Millisecond)
	s.Reset()

	assert.False(t, s.Overcurrent())
	assert.Zero(t, s.Milliamps())
	assert.Zero(t, s.Baseline())
}
