// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import "github.com/Thermoquad/trackside/pkg/engine"

// Facade is the throttle interface of the engine. *engine.Engine and
// *Client both implement it.
type Facade interface {
	CreateThrottle(addr int) (engine.Handle, error)
	SetSpeed(h engine.Handle, speed int) error
	SetFunction(h engine.Handle, index int, on bool) error
	RCSpeed(h engine.Handle) (int, error)
	ReadCV(h engine.Handle, cv int) error
	WriteCV(h engine.Handle, cv int, value int) error
	OpsDone(h engine.Handle) (result bool, value uint8, done bool)
	SetModeOps()
	SetModeService()
	SetModeIdle()
	Mode() engine.Mode
	Fault() error
}

var (
	_ Facade = (*engine.Engine)(nil)
	_ Facade = (*Client)(nil)
)
