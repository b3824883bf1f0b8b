// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"sync/atomic"
	"time"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

// SpeedUnknown is reported until a decoder has sent its actual speed
const SpeedUnknown = -1

// Packed locomotive state word:
//
//	bits  0-28  functions F0-F28
//	bits 29-35  speed magnitude
//	bit  36     forward
//	bits 37-42  dirty fields (speed, then one per function group)
const (
	functionBits   = 29
	functionMask   = 1<<functionBits - 1
	speedShift     = 29
	speedMask      = 0x7F
	forwardBit     = 1 << 36
	dirtyShift     = 37
	fieldSpeed     = 0
	numFields      = 1 + int(dcc.NumFunctionGroups)
	dirtyFieldMask = (1<<numFields - 1) << dirtyShift
)

// neverSent marks a locomotive with no packet since the last mode change
const neverSent = time.Duration(-1 << 62)

// LocoState is a consistent snapshot of a locomotive's commanded state
type LocoState struct {
	Address   dcc.Address
	Speed     int // signed, sign is direction
	Forward   bool
	Functions uint32
}

// Locomotive holds the commanded state of one decoder.
// Setters run on the control loop; the scheduler reads and clears dirty
// fields from the timer context. All fields live in one atomic word.
type Locomotive struct {
	addr    dcc.Address
	state   atomic.Uint64
	rcSpeed atomic.Int32
	op      atomic.Pointer[ProgOp]

	// Guarded by the scheduler mutex
	lastSent time.Duration
	rotation int
}

func newLocomotive(addr dcc.Address) *Locomotive {
	l := &Locomotive{addr: addr, lastSent: neverSent}
	l.state.Store(forwardBit | dirtyFieldMask)
	l.rcSpeed.Store(SpeedUnknown)
	return l
}

// Address returns the decoder address
func (l *Locomotive) Address() dcc.Address {
	return l.addr
}

// update applies fn to the state word until the CAS succeeds
func (l *Locomotive) update(fn func(uint64) uint64) {
	for {
		old := l.state.Load()
		if l.state.CompareAndSwap(old, fn(old)) {
			return
		}
	}
}

// SetSpeed sets the signed speed and marks it dirty.
// A stop keeps the current direction.
func (l *Locomotive) SetSpeed(speed int) {
	magnitude := uint64(speed)
	if speed < 0 {
		magnitude = uint64(-speed)
	}
	l.update(func(w uint64) uint64 {
		w = w&^(speedMask<<speedShift) | (magnitude&speedMask)<<speedShift
		switch {
		case speed > 0:
			w |= forwardBit
		case speed < 0:
			w &^= forwardBit
		}
		return w | 1<<(dirtyShift+fieldSpeed)
	})
}

// SetFunction switches function fn and marks its group dirty
func (l *Locomotive) SetFunction(fn int, g dcc.FunctionGroup, on bool) {
	bit := uint64(1) << fn
	l.update(func(w uint64) uint64 {
		if on {
			w |= bit
		} else {
			w &^= bit
		}
		return w | 1<<(dirtyShift+1+int(g))
	})
}

// State returns a consistent snapshot
func (l *Locomotive) State() LocoState {
	return unpack(l.addr, l.state.Load())
}

func unpack(addr dcc.Address, w uint64) LocoState {
	st := LocoState{
		Address:   addr,
		Speed:     int(w >> speedShift & speedMask),
		Forward:   w&forwardBit != 0,
		Functions: uint32(w & functionMask),
	}
	if !st.Forward {
		st.Speed = -st.Speed
	}
	return st
}

// RCSpeed returns the last RailCom reported speed or SpeedUnknown
func (l *Locomotive) RCSpeed() int {
	return int(l.rcSpeed.Load())
}

func (l *Locomotive) setRCSpeed(v int) {
	l.rcSpeed.Store(int32(v))
}

// takeDirty clears the first dirty field and returns it together with the
// state it was cleared against
func (l *Locomotive) takeDirty() (int, LocoState, bool) {
	for {
		old := l.state.Load()
		dirty := old & dirtyFieldMask
		if dirty == 0 {
			return 0, LocoState{}, false
		}
		field := 0
		for dirty&(1<<(dirtyShift+field)) == 0 {
			field++
		}
		if l.state.CompareAndSwap(old, old&^(1<<(dirtyShift+field))) {
			return field, unpack(l.addr, old), true
		}
	}
}

// markAllDirty forces every field out on the next slots
func (l *Locomotive) markAllDirty() {
	l.update(func(w uint64) uint64 { return w | dirtyFieldMask })
}

// packet builds the packet for one field of st
func (l *Locomotive) packet(field int, st LocoState) (dcc.Packet, error) {
	if field == fieldSpeed {
		magnitude := st.Speed
		if magnitude < 0 {
			magnitude = -magnitude
		}
		return dcc.NewSpeedStepPacket(l.addr, magnitude, st.Forward)
	}
	return dcc.NewFunctionPacket(l.addr, dcc.FunctionGroup(field-1), st.Functions)
}

// nextRefresh advances the refresh rotation and returns its packet.
// F13-F28 groups are skipped while all their functions are off.
// Called with the scheduler mutex held.
func (l *Locomotive) nextRefresh() (dcc.Packet, error) {
	st := l.State()
	for range numFields {
		field := l.rotation
		l.rotation = (l.rotation + 1) % numFields
		if field > int(dcc.GroupF9F12)+1 {
			g := dcc.FunctionGroup(field - 1)
			if st.Functions&g.Mask() == 0 {
				continue
			}
		}
		return l.packet(field, st)
	}
	return l.packet(fieldSpeed, st)
}
