// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"sync"
	"time"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

// AckSensor is the part of the current sensor used for service mode acks
type AckSensor interface {
	ArmAck()
	DisarmAck()
	AckDetected() bool
}

// slotBudget is the longest a slot can take, used for refresh deadlines
const slotBudget = dcc.MaxPacketDuration

// Scheduler picks the packet for every slot. It implements
// track.PacketSource.
//
// Per slot, in order: a locomotive about to miss its refresh deadline, the
// in-flight programming packet, a dirty locomotive field, round-robin
// refresh, idle. Every locomotive packet respects the same-address gap.
type Scheduler struct {
	cfg    Config
	sensor AckSensor

	mu     sync.Mutex
	mode   Mode
	locos  []*Locomotive
	cursor int // round-robin refresh
	dirty  int // dirty field scan
	job    *progJob
	idle   dcc.Packet
}

// NewScheduler creates a scheduler in idle mode
func NewScheduler(cfg Config, sensor AckSensor) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		sensor: sensor,
		idle:   dcc.NewIdlePacket(),
	}
}

// AddLocomotive adds a locomotive to the refresh rotation
func (s *Scheduler) AddLocomotive(l *Locomotive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locos = append(s.locos, l)
}

// SetMode flushes all scheduled work and switches mode. Every locomotive
// is retransmitted from scratch in ops mode.
func (s *Scheduler) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.job = nil
	s.cursor = 0
	s.dirty = 0
	for _, l := range s.locos {
		l.lastSent = neverSent
		l.rotation = 0
		l.markAllDirty()
	}
	if s.sensor != nil {
		s.sensor.DisarmAck()
	}
}

// Submit makes op the in-flight programming operation
func (s *Scheduler) Submit(op *ProgOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = newProgJob(op, s.cfg)
}

// NextPacket returns the packet for the next slot. It is called from the
// timer context and reports nothing ready if the scheduler is busy.
func (s *Scheduler) NextPacket(now time.Duration) (dcc.Packet, bool) {
	if !s.mu.TryLock() {
		return dcc.Packet{}, false
	}
	defer s.mu.Unlock()

	switch s.mode {
	case ModeOps:
		return s.nextOps(now).WithCutout(s.cfg.RailCom), true
	case ModeService:
		return s.nextService(), true
	}
	return dcc.Packet{}, false
}

func (s *Scheduler) gapElapsed(l *Locomotive, now time.Duration) bool {
	return now-l.lastSent >= s.cfg.SameAddressGap
}

func (s *Scheduler) nextOps(now time.Duration) dcc.Packet {
	if j := s.job; j != nil && (!j.op.inProgress() || j.waiting && now >= j.deadline) {
		j.op.resolve(false, 0, ErrTimeout)
		s.job = nil
	}

	n := len(s.locos)
	var late *Locomotive
	for _, l := range s.locos {
		if !s.gapElapsed(l, now) || now-l.lastSent+slotBudget < s.cfg.MaxRefresh {
			continue
		}
		if late == nil || l.lastSent < late.lastSent {
			late = l
		}
	}
	if late != nil {
		if p, err := late.nextRefresh(); err == nil {
			late.lastSent = now
			return p
		}
	}

	if j := s.job; j != nil && !j.waiting && s.gapElapsed(j.op.loco, now) {
		j.sent++
		if j.sent >= s.cfg.PomRepeat {
			j.waiting = true
			j.deadline = now + s.cfg.ResponseTimeout
		}
		j.op.loco.lastSent = now
		return j.pom
	}

	for i := 0; i < n; i++ {
		idx := (s.dirty + i) % n
		l := s.locos[idx]
		if !s.gapElapsed(l, now) {
			continue
		}
		if field, st, ok := l.takeDirty(); ok {
			if p, err := l.packet(field, st); err == nil {
				s.dirty = (idx + 1) % n
				l.lastSent = now
				return p
			}
		}
	}

	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		l := s.locos[idx]
		if !s.gapElapsed(l, now) {
			continue
		}
		if p, err := l.nextRefresh(); err == nil {
			s.cursor = (idx + 1) % n
			l.lastSent = now
			return p
		}
	}

	return s.idle
}

func (s *Scheduler) nextService() dcc.Packet {
	j := s.job
	if j == nil || !j.op.inProgress() {
		s.job = nil
		return s.idle
	}
	return j.nextService(s.sensor, s.cfg)
}
