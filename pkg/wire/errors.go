// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/trackside/pkg/engine"
)

// ErrMalformed is returned for messages that cannot be understood
var ErrMalformed = errors.New("malformed message")

// RemoteError is an error reported by the server
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Is maps remote codes back onto the engine sentinels
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeValidation:
		return target == engine.ErrValidation
	case CodeBusy:
		return target == engine.ErrBusy
	case CodeMalformed, CodeUnknownMessage:
		return target == ErrMalformed
	}
	return false
}

// errorCode classifies a facade error for the wire
func errorCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	switch {
	case errors.Is(err, engine.ErrValidation):
		return CodeValidation
	case errors.Is(err, engine.ErrBusy):
		return CodeBusy
	case errors.Is(err, ErrMalformed):
		return CodeMalformed
	}
	return CodeInternal
}

func errorPayload(code int, err error) map[int]interface{} {
	return map[int]interface{}{
		KeyErrorCode:    int64(code),
		KeyErrorMessage: err.Error(),
	}
}

func remoteError(m Message) error {
	code, _ := GetMapInt(m.Payload, KeyErrorCode)
	msg, _ := GetMapString(m.Payload, KeyErrorMessage)
	return &RemoteError{Code: int(code), Message: msg}
}
