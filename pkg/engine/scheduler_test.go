// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/trackside/pkg/dcc"
	"github.com/Thermoquad/trackside/pkg/track"
)

// ============================================================
// Test Helpers
// ============================================================

// fakeAck reports one ack per pending flag while armed
type fakeAck struct {
	armed   bool
	arms    int
	pending bool
}

func (f *fakeAck) ArmAck()    { f.armed = true; f.arms++ }
func (f *fakeAck) DisarmAck() { f.armed = false }
func (f *fakeAck) AckDetected() bool {
	if f.armed && f.pending {
		f.pending = false
		return true
	}
	return false
}

// slot is one scheduled packet and the time it was loaded
type slot struct {
	at     time.Duration
	packet dcc.Packet
}

// runSlots pulls n packets, advancing time by each packet's duration and
// the cutout that follows it
func runSlots(s *Scheduler, start time.Duration, n int) []slot {
	now := start
	slots := make([]slot, 0, n)
	for range n {
		p, ok := s.NextPacket(now)
		if !ok {
			p = dcc.NewIdlePacket()
		}
		slots = append(slots, slot{at: now, packet: p})
		now += dcc.Duration(p)
		if p.Cutout() {
			now += track.CutoutLead + 470*time.Microsecond
		}
	}
	return slots
}

func newOpsScheduler(cfg Config, addrs ...dcc.Address) (*Scheduler, []*Locomotive) {
	s := NewScheduler(cfg, &fakeAck{})
	locos := make([]*Locomotive, len(addrs))
	for i, a := range addrs {
		locos[i] = newLocomotive(a)
		s.AddLocomotive(locos[i])
	}
	s.SetMode(ModeOps)
	return s, locos
}

// ============================================================
// Ops Mode Tests
// ============================================================

func TestScheduler_IdleModeHasNothing(t *testing.T) {
	s := NewScheduler(DefaultConfig(), &fakeAck{})
	_, ok := s.NextPacket(0)
	assert.False(t, ok)
}

func TestScheduler_IdleWithoutLocomotives(t *testing.T) {
	s, _ := newOpsScheduler(DefaultConfig())
	p, ok := s.NextPacket(0)
	require.True(t, ok)
	assert.True(t, p.IsIdle())
	assert.True(t, p.Cutout())
}

func TestScheduler_NoCutoutWithoutRailCom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RailCom = false
	s, _ := newOpsScheduler(cfg, 3)
	for _, sl := range runSlots(s, 0, 20) {
		assert.False(t, sl.packet.Cutout())
	}
}

func TestScheduler_SameAddressGap(t *testing.T) {
	cfg := DefaultConfig()
	s, locos := newOpsScheduler(cfg, 3, 4, 1234)
	locos[0].SetSpeed(20)
	locos[1].SetFunction(0, dcc.GroupF0F4, true)

	last := map[dcc.Address]time.Duration{}
	for _, sl := range runSlots(s, 0, 2000) {
		addr, ok := sl.packet.Address()
		if !ok || addr == 0 {
			continue
		}
		if prev, seen := last[addr]; seen {
			assert.GreaterOrEqual(t, sl.at-prev, cfg.SameAddressGap,
				"address %d sent twice within the gap", addr)
		}
		last[addr] = sl.at
	}
}

func TestScheduler_RefreshDeadline(t *testing.T) {
	cfg := DefaultConfig()
	addrs := []dcc.Address{3, 4, 5, 6, 7, 8, 9, 10, 1234, 5000}
	s, _ := newOpsScheduler(cfg, addrs...)

	slots := runSlots(s, 0, 5000)
	end := slots[len(slots)-1].at

	last := map[dcc.Address]time.Duration{}
	for _, a := range addrs {
		last[a] = 0
	}
	for _, sl := range slots {
		addr, ok := sl.packet.Address()
		if !ok {
			continue
		}
		if prev, seen := last[addr]; seen {
			assert.LessOrEqual(t, sl.at-prev, cfg.MaxRefresh,
				"address %d not refreshed in time", addr)
		}
		last[addr] = sl.at
	}
	for _, a := range addrs {
		assert.LessOrEqual(t, end-last[a], cfg.MaxRefresh)
	}
}

func TestScheduler_DirtyFieldNextSlot(t *testing.T) {
	s, locos := newOpsScheduler(DefaultConfig(), 3, 4)
	slots := runSlots(s, 0, 200)

	locos[1].SetSpeed(-5)
	now := slots[len(slots)-1].at + 10*time.Millisecond
	p, ok := s.NextPacket(now)
	require.True(t, ok)

	want, err := dcc.NewSpeedPacket(4, -5)
	require.NoError(t, err)
	assert.True(t, want.Equal(p), "got % X", p.Bytes())
}

func TestScheduler_ModeChangeResendsEverything(t *testing.T) {
	s, locos := newOpsScheduler(DefaultConfig(), 3)
	runSlots(s, 0, 200)
	_, _, dirty := locos[0].takeDirty()
	require.False(t, dirty)

	s.SetMode(ModeService)
	s.SetMode(ModeOps)

	field, _, dirty := locos[0].takeDirty()
	assert.True(t, dirty)
	assert.Equal(t, fieldSpeed, field)
}

// ============================================================
// Programming Tests
// ============================================================

func TestScheduler_POMRepeatsThenTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	s, locos := newOpsScheduler(cfg, 3)
	slots := runSlots(s, 0, 100)
	now := slots[len(slots)-1].at + 10*time.Millisecond

	op := newProgOp(OpRead, locos[0], 8, 0, false)
	s.Submit(op)

	want, err := dcc.NewPOMReadPacket(3, 8)
	require.NoError(t, err)

	sent := 0
	for _, sl := range runSlots(s, now, 400) {
		if sl.packet.Equal(want) {
			sent++
		}
	}
	assert.Equal(t, cfg.PomRepeat, sent)

	select {
	case <-op.Done():
	default:
		t.Fatal("operation did not time out")
	}
	ok, _, err := op.Result()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestScheduler_POMPreemptsDirtyField(t *testing.T) {
	cfg := DefaultConfig()
	s, locos := newOpsScheduler(cfg, 3, 4)
	slots := runSlots(s, 0, 200)
	now := slots[len(slots)-1].at + 10*time.Millisecond

	op := newProgOp(OpWrite, locos[0], 29, 6, false)
	s.Submit(op)
	locos[1].SetSpeed(10)

	want, err := dcc.NewPOMWritePacket(3, 29, 6)
	require.NoError(t, err)
	p, ok := s.NextPacket(now)
	require.True(t, ok)
	assert.True(t, want.Equal(p), "got % X", p.Bytes())

	// The dirty field goes out on the following slot
	speed, err := dcc.NewSpeedPacket(4, 10)
	require.NoError(t, err)
	p, ok = s.NextPacket(now + dcc.Duration(p))
	require.True(t, ok)
	assert.True(t, speed.Equal(p), "got % X", p.Bytes())
}

func TestScheduler_LateRefreshBeatsPOM(t *testing.T) {
	cfg := DefaultConfig()
	s, locos := newOpsScheduler(cfg, 3, 4)
	slots := runSlots(s, 0, 200)
	now := slots[len(slots)-1].at + 10*time.Millisecond
	locos[1].lastSent = now - cfg.MaxRefresh

	s.Submit(newProgOp(OpRead, locos[0], 8, 0, false))

	p, ok := s.NextPacket(now)
	require.True(t, ok)
	addr, ok := p.Address()
	require.True(t, ok)
	assert.Equal(t, dcc.Address(4), addr)
}

func TestScheduler_ServiceWriteSequence(t *testing.T) {
	cfg := DefaultConfig()
	ack := &fakeAck{}
	s := NewScheduler(cfg, ack)
	l := newLocomotive(3)
	s.AddLocomotive(l)
	s.SetMode(ModeService)

	op := newProgOp(OpWrite, l, 29, 6, true)
	s.Submit(op)

	probe, err := dcc.NewDirectWritePacket(29, 6)
	require.NoError(t, err)

	var seq []string
	for i := 0; i < 40 && op.inProgress(); i++ {
		p, ok := s.NextPacket(0)
		require.True(t, ok)
		switch {
		case p.IsReset():
			seq = append(seq, "R")
		case p.Equal(probe):
			seq = append(seq, "P")
			if len(seq) == cfg.ServiceResets+2 {
				ack.pending = true
			}
		default:
			seq = append(seq, "?")
		}
	}

	// Ack seen at the boundary after the second probe, then recovery and
	// the reset that carries the result
	assert.Equal(t, []string{
		"R", "R", "R",
		"P", "P",
		"R", "R", "R", "R", "R", "R", "R",
	}, seq)
	ok, v, err := op.Result()
	assert.True(t, ok)
	assert.Equal(t, uint8(6), v)
	assert.NoError(t, err)
	assert.Equal(t, 1, ack.arms)
	assert.False(t, ack.armed)

	p, _ := s.NextPacket(0)
	assert.True(t, p.IsIdle(), "idle once the operation is done")
}

func TestScheduler_ServiceReadAssemblesBits(t *testing.T) {
	cfg := DefaultConfig()
	ack := &fakeAck{}
	s := NewScheduler(cfg, ack)
	l := newLocomotive(3)
	s.AddLocomotive(l)
	s.SetMode(ModeService)

	const cvValue = 0x5A
	op := newProgOp(OpRead, l, 1, 0, true)
	s.Submit(op)

	for i := 0; i < 1000 && op.inProgress(); i++ {
		p, _ := s.NextPacket(0)
		ins, err := dcc.ParsePacket(p, true)
		if err != nil || ins.Kind != dcc.KindDirectCV {
			continue
		}
		switch {
		case ins.Op == dcc.CVOpBit && !ins.BitWrite:
			ack.pending = (cvValue>>ins.Bit&1 == 1) == ins.BitValue
		case ins.Op == dcc.CVOpVerify:
			ack.pending = ins.Value == cvValue
		}
	}

	ok, v, err := op.Result()
	assert.True(t, ok)
	assert.Equal(t, uint8(cvValue), v)
	assert.NoError(t, err)
	assert.Equal(t, 9, ack.arms)
}

func TestScheduler_SetModeDropsJob(t *testing.T) {
	s := NewScheduler(DefaultConfig(), &fakeAck{})
	l := newLocomotive(3)
	s.AddLocomotive(l)
	s.SetMode(ModeService)
	s.Submit(newProgOp(OpRead, l, 1, 0, true))

	p, _ := s.NextPacket(0)
	assert.True(t, p.IsReset())

	s.SetMode(ModeService)
	p, _ = s.NextPacket(0)
	assert.True(t, p.IsIdle())
}

func TestScheduler_BusyReportsNothingReady(t *testing.T) {
	s, _ := newOpsScheduler(DefaultConfig(), 3)
	s.mu.Lock()
	_, ok := s.NextPacket(0)
	s.mu.Unlock()
	assert.False(t, ok)
}
