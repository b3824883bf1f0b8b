// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package track

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedADC returns a constant reading, or an error when failing is set
type fixedADC struct {
	mA      float64
	failing atomic.Bool
}

func (f *fixedADC) ReadMilliamps() (float64, error) {
	if f.failing.Load() {
		return 0, errors.New("conversion timeout")
	}
	return f.mA, nil
}

func TestSampler_FeedsSensor(t *testing.T) {
	cfg := DefaultSensorConfig()
	cfg.OvercurrentWindow = time.Millisecond
	sensor := NewSensor(cfg)
	log, _ := test.NewNullLogger()
	sampler := NewSampler(&fixedADC{mA: 3000}, sensor, 0, log)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sampler.Run(ctx) }()

	require.Eventually(t, sensor.Overcurrent, time.Second, time.Millisecond)
	assert.Equal(t, 3000.0, sensor.Milliamps())

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestSampler_CountsReadErrors(t *testing.T) {
	adc := &fixedADC{}
	adc.failing.Store(true)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	sampler := NewSampler(adc, NewSensor(DefaultSensorConfig()), time.Millisecond, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sampler.Run(ctx)

	require.Eventually(t, func() bool { return sampler.ReadErrors() >= 3 }, time.Second, time.Millisecond)
	cancel()

	first := hook.AllEntries()[0]
	assert.Equal(t, logrus.WarnLevel, first.Level)
}

// ============================================================
// Serial Receiver Tests
// ============================================================

func TestSerialReceiver_Window(t *testing.T) {
	pr, pw := io.Pipe()
	log, _ := test.NewNullLogger()
	rx := NewSerialReceiver(pr, log)

	rx.Arm()
	_, err := pw.Write([]byte{0xAC, 0xAA})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rx.mu.Lock()
		defer rx.mu.Unlock()
		return len(rx.window) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, []byte{0xAC, 0xAA}, rx.Collect())
	assert.Nil(t, rx.Collect(), "Collect empties the window")

	require.NoError(t, rx.Close())
}

func TestSerialReceiver_Overflow(t *testing.T) {
	pr, pw := io.Pipe()
	log, _ := test.NewNullLogger()
	rx := NewSerialReceiver(pr, log)
	defer rx.Close()

	rx.Arm()
	_, err := pw.Write(make([]byte, maxWindowBytes+4))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rx.Overflows() == 1 }, time.Second, time.Millisecond)
	assert.Len(t, rx.Collect(), maxWindowBytes)
}
