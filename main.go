// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Trackside - DCC command station engine with RailCom feedback
//
// A CLI for driving locomotives, programming decoders and decoding DCC and
// RailCom traffic.

package main

import (
	"os"

	"github.com/Thermoquad/trackside/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
