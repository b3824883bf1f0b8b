// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"errors"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

// ErrValidation matches every synchronous rejection of bad input,
// including ErrUnknownHandle and ErrTrackOff
var ErrValidation = dcc.ErrValidation

var (
	// ErrBusy is returned when a programming operation is already in progress
	ErrBusy = errors.New("programming operation in progress")

	// ErrTimeout resolves an operation that got no ack or RailCom answer
	ErrTimeout = errors.New("no response from decoder")

	// ErrOvercurrent resolves operations aborted by a track short
	ErrOvercurrent = errors.New("track overcurrent")

	// ErrCancelled resolves operations aborted by a mode change
	ErrCancelled = errors.New("cancelled by mode change")

	// ErrVerify resolves a write whose answer does not match the written value
	ErrVerify = errors.New("decoder reported a different value")

	// ErrNack resolves an operation the decoder refused over RailCom
	ErrNack = errors.New("decoder rejected the request")

	// ErrNoOperation is returned by AwaitOp when the handle has no operation
	ErrNoOperation = errors.New("no programming operation")
)

var (
	// ErrUnknownHandle is returned for handles not issued by CreateThrottle
	ErrUnknownHandle error = &dcc.ValidationError{
		Type:    dcc.AnomalyOutOfRange,
		Field:   "handle",
		Message: "unknown throttle handle",
	}

	// ErrTrackOff is returned for programming requests while the track is off
	ErrTrackOff error = &dcc.ValidationError{
		Type:    dcc.AnomalyOutOfRange,
		Field:   "mode",
		Message: "track is off; select ops or service mode first",
	}
)
