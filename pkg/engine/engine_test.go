// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/trackside/pkg/dcc"
	"github.com/Thermoquad/trackside/pkg/railcom"
	"github.com/Thermoquad/trackside/pkg/track"
)

// ============================================================
// Test Helpers
// ============================================================

// simRig runs an engine against a simulated layout
type simRig struct {
	e      *Engine
	layout *track.Layout
	hook   *test.Hook
}

func newSimRig(t *testing.T, cfg Config) *simRig {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	layout := track.NewLayout(track.DefaultLayoutConfig())
	e, err := New(cfg, layout, layout, logger)
	require.NoError(t, err)
	layout.AttachSensor(e.Sensor())

	return &simRig{e: e, layout: layout, hook: hook}
}

// run steps the track for d of signal time, ticking after every edge
func (r *simRig) run(d time.Duration) {
	end := r.layout.Now() + d
	for r.layout.Now() < end {
		r.layout.Advance(r.e.Step())
		r.e.Tick()
	}
}

// await runs until the operation of h is done or limit passes
func (r *simRig) await(t *testing.T, h Handle, limit time.Duration) (bool, uint8) {
	t.Helper()
	end := r.layout.Now() + limit
	for r.layout.Now() < end {
		r.layout.Advance(r.e.Step())
		r.e.Tick()
		if ok, v, done := r.e.OpsDone(h); done {
			return ok, v
		}
	}
	t.Fatalf("operation not done after %v", limit)
	return false, 0
}

func (r *simRig) sawPacket(want []byte) bool {
	for _, p := range r.layout.Packets() {
		if string(p.Bytes()) == string(want) {
			return true
		}
	}
	return false
}

func (r *simRig) errorLogs() int {
	n := 0
	for _, entry := range r.hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			n++
		}
	}
	return n
}

// ============================================================
// Throttle Tests
// ============================================================

func TestEngine_SpeedReachesDecoder(t *testing.T) {
	tests := []struct {
		name    string
		speed   int
		bytes   []byte
		forward bool
	}{
		{"forward half", 64, []byte{0x03, 0x3F, 0xC0, 0xFC}, true},
		{"reverse half", -64, []byte{0x03, 0x3F, 0x40, 0x7C}, false},
		{"full", 127, []byte{0x03, 0x3F, 0xFF, 0xC3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newSimRig(t, DefaultConfig())
			r.layout.AddLocomotive(3, false)
			h, err := r.e.CreateThrottle(3)
			require.NoError(t, err)
			r.e.SetModeOps()

			require.NoError(t, r.e.SetSpeed(h, tt.speed))
			r.run(50 * time.Millisecond)

			loco, ok := r.layout.Locomotive(3)
			require.True(t, ok)
			assert.Equal(t, tt.speed, loco.Speed())
			assert.Equal(t, tt.forward, loco.Forward)
			assert.True(t, r.sawPacket(tt.bytes), "expected % X on the rails", tt.bytes)
		})
	}
}

func TestEngine_LowestStepSharesCode(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, false)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeOps()

	require.NoError(t, r.e.SetSpeed(h, 1))
	r.run(50 * time.Millisecond)

	assert.True(t, r.sawPacket([]byte{0x03, 0x3F, 0x82, 0xBE}))
	assert.False(t, r.sawPacket([]byte{0x03, 0x3F, 0x81, 0xBD}), "emergency stop never sent for speed 1")
	loco, _ := r.layout.Locomotive(3)
	assert.Equal(t, 2, loco.Speed())
}

func TestEngine_StopKeepsDirection(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)

	require.NoError(t, r.e.SetSpeed(h, -10))
	require.NoError(t, r.e.SetSpeed(h, 0))

	st, err := r.e.State(h)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Speed)
	assert.False(t, st.Forward)
}

func TestEngine_FunctionsReachDecoder(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, false)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeOps()

	require.NoError(t, r.e.SetFunction(h, 0, true))
	require.NoError(t, r.e.SetFunction(h, 8, true))
	require.NoError(t, r.e.SetFunction(h, 20, true))
	r.run(100 * time.Millisecond)

	loco, _ := r.layout.Locomotive(3)
	assert.Equal(t, uint32(1<<0|1<<8|1<<20), loco.Functions)

	require.NoError(t, r.e.SetFunction(h, 8, false))
	r.run(50 * time.Millisecond)

	loco, _ = r.layout.Locomotive(3)
	assert.Equal(t, uint32(1<<0|1<<20), loco.Functions)
}

func TestEngine_RefreshRestoresDecoder(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, false)
	r.layout.AddLocomotive(1234, false)
	h1, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	h2, err := r.e.CreateThrottle(1234)
	require.NoError(t, err)
	r.e.SetModeOps()

	require.NoError(t, r.e.SetSpeed(h1, 30))
	require.NoError(t, r.e.SetSpeed(h2, -90))
	r.run(50 * time.Millisecond)

	// A decoder that lost its state picks it up from periodic refresh
	r.layout.AddLocomotive(3, false)
	r.run(DefaultConfig().MaxRefresh + 50*time.Millisecond)

	loco, _ := r.layout.Locomotive(3)
	assert.Equal(t, 30, loco.Speed())
	loco, _ = r.layout.Locomotive(1234)
	assert.Equal(t, -90, loco.Speed())
}

func TestEngine_Validation(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
	}{
		{"address zero", func() error { _, err := r.e.CreateThrottle(0); return err }},
		{"address too large", func() error { _, err := r.e.CreateThrottle(10240); return err }},
		{"duplicate address", func() error { _, err := r.e.CreateThrottle(3); return err }},
		{"speed too fast", func() error { return r.e.SetSpeed(h, 128) }},
		{"speed too fast reverse", func() error { return r.e.SetSpeed(h, -128) }},
		{"function 29", func() error { return r.e.SetFunction(h, 29, true) }},
		{"function negative", func() error { return r.e.SetFunction(h, -1, true) }},
		{"unknown handle", func() error { return r.e.SetSpeed(Handle(7), 1) }},
		{"negative handle", func() error { return r.e.SetSpeed(Handle(-1), 1) }},
		{"cv zero", func() error { return r.e.ReadCV(h, 0) }},
		{"cv too large", func() error { return r.e.ReadCV(h, 1025) }},
		{"value too large", func() error { return r.e.WriteCV(h, 1, 256) }},
		{"value negative", func() error { return r.e.WriteCV(h, 1, -1) }},
		{"track off", func() error { return r.e.ReadCV(h, 1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	assert.ErrorIs(t, r.e.ReadCV(h, 1), ErrTrackOff)
	_, err = r.e.State(Handle(9))
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestEngine_RCSpeed(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, true)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)

	v, err := r.e.RCSpeed(h)
	require.NoError(t, err)
	assert.Equal(t, SpeedUnknown, v)

	r.e.SetModeOps()
	require.NoError(t, r.e.SetSpeed(h, 40))
	r.run(100 * time.Millisecond)

	v, err = r.e.RCSpeed(h)
	require.NoError(t, err)
	assert.Equal(t, 40, v)
	assert.NotZero(t, r.e.RailComStats().Frames)
}

func TestEngine_RailComStatsWhileTicking(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, true)
	_, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeOps()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run(50 * time.Millisecond)
	}()

	var last railcom.Stats
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			s := r.e.RailComStats()
			assert.GreaterOrEqual(t, s.Captures, last.Captures)
			last = s
		}
	}
	assert.NotZero(t, r.e.RailComStats().Captures)
}

func TestEngine_RCSpeedWithoutRailCom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RailCom = false
	r := newSimRig(t, cfg)
	r.layout.AddLocomotive(3, true)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)

	r.e.SetModeOps()
	require.NoError(t, r.e.SetSpeed(h, 40))
	r.run(100 * time.Millisecond)

	v, _ := r.e.RCSpeed(h)
	assert.Equal(t, SpeedUnknown, v)
}

// ============================================================
// Service Mode Tests
// ============================================================

func TestEngine_ServiceWriteThenRead(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.SetProgrammingDecoder(3)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeService()

	require.NoError(t, r.e.WriteCV(h, 29, 6))
	ok, v := r.await(t, h, time.Second)
	assert.True(t, ok)
	assert.Equal(t, uint8(6), v)

	stored, _ := r.layout.ProgrammingCV(29)
	assert.Equal(t, byte(6), stored)

	require.NoError(t, r.e.ReadCV(h, 29))
	ok, v = r.await(t, h, 3*time.Second)
	assert.True(t, ok)
	assert.Equal(t, uint8(6), v)
}

func TestEngine_ServiceReadValues(t *testing.T) {
	for _, value := range []byte{0x00, 0xFF, 0xA5, 0x13} {
		t.Run(fmt.Sprintf("%#02x", value), func(t *testing.T) {
			r := newSimRig(t, DefaultConfig())
			r.layout.SetProgrammingDecoder(3)
			r.layout.SetProgrammingCV(8, value)
			h, err := r.e.CreateThrottle(3)
			require.NoError(t, err)
			r.e.SetModeService()

			require.NoError(t, r.e.ReadCV(h, 8))
			ok, v := r.await(t, h, 3*time.Second)
			assert.True(t, ok)
			assert.Equal(t, value, v)
		})
	}
}

func TestEngine_ServiceNoDecoder(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeService()

	require.NoError(t, r.e.WriteCV(h, 1, 5))
	op := r.e.active.Load()
	ok, _ := r.await(t, h, time.Second)
	assert.False(t, ok)

	_, _, opErr := op.Result()
	assert.ErrorIs(t, opErr, ErrTimeout)
}

func TestEngine_ServiceUsesLongPreamble(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.SetProgrammingDecoder(3)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeService()

	require.NoError(t, r.e.WriteCV(h, 1, 5))
	r.await(t, h, time.Second)

	var resets int
	for _, p := range r.layout.Packets() {
		if p.IsReset() && p.Preamble() >= dcc.ServicePreambleBits {
			resets++
		}
	}
	assert.GreaterOrEqual(t, resets, DefaultConfig().ServiceResets)
}

// ============================================================
// Ops Mode Programming Tests
// ============================================================

func TestEngine_POMReadViaRailCom(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, true)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeOps()
	r.run(20 * time.Millisecond)

	require.NoError(t, r.e.ReadCV(h, 8))
	ok, v := r.await(t, h, 200*time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, uint8(13), v)
}

func TestEngine_POMWriteVerified(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, true)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeOps()

	require.NoError(t, r.e.WriteCV(h, 3, 25))
	ok, v := r.await(t, h, 200*time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, uint8(25), v)

	loco, _ := r.layout.Locomotive(3)
	assert.Equal(t, byte(25), loco.CVs[3])
}

func TestEngine_POMTimeoutWithoutRailCom(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, false)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeOps()

	require.NoError(t, r.e.ReadCV(h, 8))
	op := r.e.active.Load()
	ok, _ := r.await(t, h, time.Second)
	assert.False(t, ok)

	_, _, opErr := op.Result()
	assert.ErrorIs(t, opErr, ErrTimeout)

	// The locomotive keeps being refreshed afterwards
	require.NoError(t, r.e.SetSpeed(h, 12))
	r.run(30 * time.Millisecond)
	loco, _ := r.layout.Locomotive(3)
	assert.Equal(t, 12, loco.Speed())
}

// pomRig starts an ops mode operation on address 3 without running the track
func pomRig(t *testing.T, write bool) (*simRig, Handle, *ProgOp) {
	t.Helper()
	r := newSimRig(t, DefaultConfig())
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeOps()
	if write {
		require.NoError(t, r.e.WriteCV(h, 29, 6))
	} else {
		require.NoError(t, r.e.ReadCV(h, 29))
	}
	op := r.e.active.Load()
	require.NotNil(t, op)
	return r, h, op
}

func TestEngine_POMNackFailsOperation(t *testing.T) {
	for _, write := range []bool{true, false} {
		t.Run(fmt.Sprintf("write=%v", write), func(t *testing.T) {
			r, h, op := pomRig(t, write)

			r.e.routeCapture([]railcom.Frame{{Address: 3, Kind: railcom.KindNack}})

			ok, _, done := r.e.OpsDone(h)
			assert.True(t, done)
			assert.False(t, ok)
			_, _, err := op.Result()
			assert.ErrorIs(t, err, ErrNack)
		})
	}
}

func TestEngine_POMAckCompletesWrite(t *testing.T) {
	r, h, _ := pomRig(t, true)

	r.e.routeCapture([]railcom.Frame{{Address: 3, Kind: railcom.KindAck}})

	ok, v, done := r.e.OpsDone(h)
	assert.True(t, done)
	assert.True(t, ok)
	assert.Equal(t, uint8(6), v)
}

func TestEngine_POMAckWithValueIsVerified(t *testing.T) {
	r, _, op := pomRig(t, true)

	r.e.routeCapture([]railcom.Frame{
		{Address: 3, Kind: railcom.KindCVValue, Value: 7},
		{Address: 3, Kind: railcom.KindAck},
	})

	ok, v, err := op.Result()
	assert.False(t, ok)
	assert.Equal(t, uint8(7), v)
	assert.ErrorIs(t, err, ErrVerify)
}

func TestEngine_POMAckIgnored(t *testing.T) {
	tests := []struct {
		name  string
		write bool
		frame railcom.Frame
	}{
		{"read needs a value", false, railcom.Frame{Address: 3, Kind: railcom.KindAck}},
		{"other address", true, railcom.Frame{Address: 4, Kind: railcom.KindAck}},
		{"nack from other address", true, railcom.Frame{Address: 4, Kind: railcom.KindNack}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, h, op := pomRig(t, tt.write)
			r.e.routeCapture([]railcom.Frame{tt.frame})

			_, _, done := r.e.OpsDone(h)
			assert.False(t, done)
			assert.Equal(t, StatusInProgress, op.Status())
		})
	}
}

// ============================================================
// Operation Lifecycle Tests
// ============================================================

func TestEngine_BusyWithSecondHandle(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	h1, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	h2, err := r.e.CreateThrottle(4)
	require.NoError(t, err)
	r.e.SetModeService()

	require.NoError(t, r.e.ReadCV(h1, 1))
	err = r.e.WriteCV(h2, 1, 4)
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, errors.Is(err, ErrValidation))

	err = r.e.ReadCV(h1, 1)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestEngine_OpsDoneReportsOnce(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.SetProgrammingDecoder(3)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeService()

	_, _, done := r.e.OpsDone(h)
	assert.False(t, done, "no operation yet")

	require.NoError(t, r.e.WriteCV(h, 1, 9))
	_, _, done = r.e.OpsDone(h)
	assert.False(t, done, "still in progress")

	ok, v := r.await(t, h, time.Second)
	assert.True(t, ok)
	assert.Equal(t, uint8(9), v)

	_, _, done = r.e.OpsDone(h)
	assert.False(t, done, "reported twice")

	// The handle accepts a new operation
	require.NoError(t, r.e.WriteCV(h, 1, 3))
	ok, _ = r.await(t, h, time.Second)
	assert.True(t, ok)
}

func TestEngine_ModeSwitchCancels(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.SetProgrammingDecoder(3)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeService()

	require.NoError(t, r.e.ReadCV(h, 1))
	op := r.e.active.Load()
	r.run(20 * time.Millisecond)

	r.e.SetModeOps()
	ok, v, done := r.e.OpsDone(h)
	assert.True(t, done)
	assert.False(t, ok)
	assert.Zero(t, v)

	_, _, opErr := op.Result()
	assert.ErrorIs(t, opErr, ErrCancelled)
	assert.Equal(t, ModeOps, r.e.Mode())

	// A new operation is accepted in the new mode
	require.NoError(t, r.e.ReadCV(h, 1))
}

func TestEngine_AwaitOp(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)

	_, _, err = r.e.AwaitOp(context.Background(), h)
	assert.ErrorIs(t, err, ErrNoOperation)

	r.e.SetModeService()
	require.NoError(t, r.e.ReadCV(h, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = r.e.AwaitOp(ctx, h)
	assert.ErrorIs(t, err, context.Canceled)

	r.e.SetModeIdle()
	ok, _, err := r.e.AwaitOp(context.Background(), h)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCancelled)
}

// ============================================================
// Fault Tests
// ============================================================

func TestEngine_OvercurrentGoesIdle(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	r.layout.AddLocomotive(3, true)
	h, err := r.e.CreateThrottle(3)
	require.NoError(t, err)
	r.e.SetModeOps()
	r.run(10 * time.Millisecond)

	require.NoError(t, r.e.ReadCV(h, 8))
	r.layout.SetShort(true)
	r.run(10 * time.Millisecond)

	assert.Equal(t, ModeIdle, r.e.Mode())
	assert.ErrorIs(t, r.e.Fault(), ErrOvercurrent)
	assert.False(t, r.layout.Powered())
	assert.Equal(t, uint64(1), r.e.Driver().Stats().Faults)

	ok, _, done := r.e.OpsDone(h)
	assert.True(t, done)
	assert.False(t, ok)
	assert.Equal(t, 1, r.errorLogs(), "fault logged once")

	// Track stays off until the next mode call
	r.run(10 * time.Millisecond)
	assert.False(t, r.layout.Powered())
	assert.ErrorIs(t, r.e.ReadCV(h, 8), ErrTrackOff)

	r.layout.SetShort(false)
	r.e.SetModeOps()
	assert.NoError(t, r.e.Fault())
	r.run(10 * time.Millisecond)
	assert.True(t, r.layout.Powered())
	assert.Equal(t, ModeOps, r.e.Mode())
}

func TestEngine_IdleCutsPower(t *testing.T) {
	r := newSimRig(t, DefaultConfig())
	assert.Equal(t, ModeIdle, r.e.Mode())

	r.e.SetModeService()
	r.run(5 * time.Millisecond)
	assert.True(t, r.layout.Powered())

	r.e.SetModeIdle()
	r.run(5 * time.Millisecond)
	assert.False(t, r.layout.Powered())
	assert.Equal(t, "idle", r.e.Mode().String())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PomRepeat = 0
	logger, _ := test.NewNullLogger()

	_, err := New(cfg, track.NewLayout(track.DefaultLayoutConfig()), nil, logger)
	assert.Error(t, err)
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "idle", ModeIdle.String())
	assert.Equal(t, "service", ModeService.String())
	assert.Equal(t, "ops", ModeOps.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}

var _ track.PacketSource = (*Scheduler)(nil)
