// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"time"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

// Service mode sequence phases
const (
	phaseResets = iota
	phaseProbes
	phaseRecovery
)

// readBits is the number of bit verify steps before the byte verify
const readBits = 8

// progJob sequences the packets of one programming operation
type progJob struct {
	op *ProgOp

	// Ops mode
	pom      dcc.Packet
	sent     int
	waiting  bool
	deadline time.Duration

	// Service mode
	probe dcc.Packet
	step  int
	phase int
	count int
	armed bool
	acked bool
	value uint8
	reset dcc.Packet
}

func newProgJob(op *ProgOp, cfg Config) *progJob {
	j := &progJob{op: op, reset: dcc.NewResetPacket()}
	var err error
	switch {
	case !op.Service && op.Kind == OpRead:
		j.pom, err = dcc.NewPOMReadPacket(op.Address, op.CV)
	case !op.Service:
		j.pom, err = dcc.NewPOMWritePacket(op.Address, op.CV, int(op.Value))
	case op.Kind == OpRead:
		j.probe, err = dcc.NewDirectBitVerifyPacket(op.CV, 0, true)
	default:
		j.probe, err = dcc.NewDirectWritePacket(op.CV, int(op.Value))
	}
	if err != nil {
		// Inputs are validated before submission
		op.resolve(false, 0, err)
	}
	return j
}

// nextService returns the next packet of the direct mode sequence:
// resets, probes until acked, recovery resets. The ack is sampled at
// packet boundaries while armed.
func (j *progJob) nextService(sensor AckSensor, cfg Config) dcc.Packet {
	if j.armed && !j.acked && sensor.AckDetected() {
		j.acked = true
	}

	for {
		switch j.phase {
		case phaseResets:
			if j.count < cfg.ServiceResets {
				j.count++
				return j.reset
			}
			j.phase, j.count = phaseProbes, 0

		case phaseProbes:
			if j.count < cfg.ServiceProbes && !j.acked {
				if j.count == 0 {
					sensor.ArmAck()
					j.armed = true
				}
				j.count++
				return j.probe
			}
			j.phase, j.count = phaseRecovery, 0

		case phaseRecovery:
			if j.count < cfg.ServiceRecovery {
				j.count++
				return j.reset
			}
			sensor.DisarmAck()
			j.armed = false
			if j.finishStep() {
				return j.reset
			}
			j.phase, j.count, j.acked = phaseResets, 0, false
		}
	}
}

// finishStep evaluates the ack of the step just completed. Returns true
// once the operation is resolved.
func (j *progJob) finishStep() bool {
	op := j.op
	if op.Kind == OpWrite {
		if j.acked {
			op.resolve(true, op.Value, nil)
		} else {
			op.resolve(false, 0, ErrTimeout)
		}
		return true
	}

	if j.step < readBits {
		if j.acked {
			j.value |= 1 << j.step
		}
		j.step++
		var err error
		if j.step < readBits {
			j.probe, err = dcc.NewDirectBitVerifyPacket(op.CV, j.step, true)
		} else {
			j.probe, err = dcc.NewDirectVerifyPacket(op.CV, int(j.value))
		}
		if err != nil {
			op.resolve(false, 0, err)
			return true
		}
		return false
	}

	if j.acked {
		op.resolve(true, j.value, nil)
	} else {
		op.resolve(false, 0, ErrTimeout)
	}
	return true
}
