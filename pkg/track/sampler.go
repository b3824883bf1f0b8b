// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package track

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSampleInterval is the ADC polling period
const DefaultSampleInterval = 250 * time.Microsecond

// Sampler polls an ADC and feeds the readings to a Sensor
type Sampler struct {
	adc      ADC
	sensor   *Sensor
	interval time.Duration
	log      logrus.FieldLogger

	readErrors atomic.Uint64
}

// NewSampler creates a sampler. A zero interval selects DefaultSampleInterval.
func NewSampler(adc ADC, sensor *Sensor, interval time.Duration, log logrus.FieldLogger) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		adc:      adc,
		sensor:   sensor,
		interval: interval,
		log:      log,
	}
}

// Run samples until ctx is cancelled
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			mA, err := s.adc.ReadMilliamps()
			if err != nil {
				// Only the first failure is logged above debug
				if s.readErrors.Add(1) == 1 {
					s.log.WithError(err).Warn("ADC read failed")
				} else {
					s.log.WithError(err).Debug("ADC read failed")
				}
				continue
			}
			s.sensor.Sample(mA, now.Sub(start))
		}
	}
}

// ReadErrors returns the number of failed ADC reads
func (s *Sampler) ReadErrors() uint64 {
	return s.readErrors.Load()
}
