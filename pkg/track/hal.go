// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package track drives the rails: it turns scheduled DCC packets into
// half-period edges, opens the RailCom cutout after each packet and watches
// track current for decoder acknowledgments and short circuits.
//
// Hardware is reached through the small Output, Receiver and ADC
// interfaces. Target-specific code implements them; Layout implements all
// three in software for tests and the serve command.
package track

// Output is the H-bridge feeding the rails.
// Implementations are called from the timer context and must not block.
type Output interface {
	// SetSignal sets the rail polarity for the next half-period
	SetSignal(high bool)

	// SetPower enables or disables the bridge
	SetPower(on bool)

	// SetCutout stops driving the rails for the RailCom cutout
	SetCutout(on bool)
}

// Receiver is the RailCom detector UART.
// Implementations are called from the timer context and must not block.
type Receiver interface {
	// Arm discards buffered bytes and starts a new receive window
	Arm()

	// Collect returns the bytes received since Arm
	Collect() []byte
}

// ADC reads the track current.
type ADC interface {
	// ReadMilliamps performs a one-shot current measurement
	ReadMilliamps() (float64, error)
}
