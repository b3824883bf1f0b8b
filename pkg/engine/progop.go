// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

// OpKind selects a CV read or write
type OpKind int

// Operation kinds
const (
	OpRead OpKind = iota
	OpWrite
)

func (k OpKind) String() string {
	if k == OpWrite {
		return "write"
	}
	return "read"
}

// OpStatus is the lifecycle state of a programming operation
type OpStatus int

// Operation states
const (
	StatusInProgress OpStatus = iota
	StatusDone
)

// ProgOp is one CV read or write. It is resolved exactly once, from
// whichever context observes the outcome first.
type ProgOp struct {
	ID      uuid.UUID
	Kind    OpKind
	CV      int
	Value   uint8 // value to write
	Address dcc.Address
	Service bool

	loco *Locomotive
	done chan struct{}

	mu      sync.Mutex
	status  OpStatus
	success bool
	result  uint8
	err     error
}

func newProgOp(kind OpKind, loco *Locomotive, cv int, value uint8, service bool) *ProgOp {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &ProgOp{
		ID:      id,
		Kind:    kind,
		CV:      cv,
		Value:   value,
		Address: loco.Address(),
		Service: service,
		loco:    loco,
		done:    make(chan struct{}),
	}
}

// resolve completes the operation; later calls are ignored.
// Returns true if this call completed it.
func (op *ProgOp) resolve(success bool, value uint8, err error) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.status == StatusDone {
		return false
	}
	op.status = StatusDone
	op.success = success
	op.result = value
	op.err = err
	close(op.done)
	return true
}

// Status returns the lifecycle state
func (op *ProgOp) Status() OpStatus {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.status
}

func (op *ProgOp) inProgress() bool {
	return op.Status() == StatusInProgress
}

// Done is closed when the operation resolves
func (op *ProgOp) Done() <-chan struct{} {
	return op.done
}

// Result returns the outcome; only meaningful once Done is closed
func (op *ProgOp) Result() (success bool, value uint8, err error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.success, op.result, op.err
}
