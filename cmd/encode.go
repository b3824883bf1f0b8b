// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

var encodeTimings bool

var encodeCmd = &cobra.Command{
	Use:   "encode KIND [ARGS...]",
	Short: "Build a DCC packet and show its bytes, bits and timing",
	Long: `Build a DCC packet and display it.

Kinds:
  idle                      Idle packet
  reset                     Decoder reset (service mode preamble)
  speed ADDR SPEED          128-step speed, SPEED -127..127 (negative = reverse)
  estop ADDR                Emergency stop (ADDR 0 = broadcast)
  function ADDR FN on|off   Function group carrying FN, with only FN set or clear
  cv-write CV VALUE         Direct mode write byte
  cv-verify CV VALUE        Direct mode verify byte
  cv-bit CV BIT 0|1         Direct mode verify bit
  pom-read ADDR CV          Programming on main, verify byte (RailCom reply)
  pom-write ADDR CV VALUE   Programming on main, write byte

With --timings only the half-period durations are printed, one per line in
microseconds, which the sniff command reads back.

Examples:
  trackside encode speed 3 64
  trackside encode function 1234 2 on
  trackside encode --timings cv-write 29 6 | trackside sniff --service --show-all`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	encodeCmd.Flags().BoolVar(&encodeTimings, "timings", false, "Print half-period timings only")
}

func runEncode(cmd *cobra.Command, args []string) error {
	p, service, err := buildPacket(args[0], args[1:])
	if err != nil {
		return err
	}
	if encodeTimings {
		writeTimings(os.Stdout, p)
		return nil
	}
	printPacket(os.Stdout, p, service)
	return nil
}

// buildPacket parses a kind and its arguments into a packet. The bool
// reports whether the packet belongs to a service mode sequence.
func buildPacket(kind string, args []string) (dcc.Packet, bool, error) {
	want := map[string]int{
		"idle": 0, "reset": 0, "speed": 2, "estop": 1, "function": 3,
		"cv-write": 2, "cv-verify": 2, "cv-bit": 3, "pom-read": 2, "pom-write": 3,
	}
	n, ok := want[kind]
	if !ok {
		return dcc.Packet{}, false, fmt.Errorf("unknown packet kind %q", kind)
	}
	if len(args) != n {
		return dcc.Packet{}, false, fmt.Errorf("%s takes %d arguments, got %d", kind, n, len(args))
	}

	// function takes on|off as its last argument
	numeric := args
	on := false
	if kind == "function" {
		switch strings.ToLower(args[2]) {
		case "on", "1":
			on = true
		case "off", "0":
		default:
			return dcc.Packet{}, false, fmt.Errorf("function state must be on or off, got %q", args[2])
		}
		numeric = args[:2]
	}

	v := make([]int, len(numeric))
	for i, a := range numeric {
		x, err := strconv.Atoi(a)
		if err != nil {
			return dcc.Packet{}, false, fmt.Errorf("invalid number %q", a)
		}
		v[i] = x
	}

	var p dcc.Packet
	var err error
	switch kind {
	case "idle":
		return dcc.NewIdlePacket(), false, nil
	case "reset":
		return dcc.NewResetPacket(), true, nil
	case "speed":
		p, err = dcc.NewSpeedPacket(dcc.Address(v[0]), v[1])
	case "estop":
		p, err = dcc.NewEmergencyStopPacket(dcc.Address(v[0]))
	case "function":
		var g dcc.FunctionGroup
		if g, err = dcc.FunctionGroupOf(v[1]); err != nil {
			return dcc.Packet{}, false, err
		}
		var fns uint32
		if on {
			fns = 1 << v[1]
		}
		p, err = dcc.NewFunctionPacket(dcc.Address(v[0]), g, fns)
	case "cv-write":
		p, err = dcc.NewDirectWritePacket(v[0], v[1])
		return p, true, err
	case "cv-verify":
		p, err = dcc.NewDirectVerifyPacket(v[0], v[1])
		return p, true, err
	case "cv-bit":
		p, err = dcc.NewDirectBitVerifyPacket(v[0], v[1], v[2] != 0)
		return p, true, err
	case "pom-read":
		p, err = dcc.NewPOMReadPacket(dcc.Address(v[0]), v[1])
	case "pom-write":
		p, err = dcc.NewPOMWritePacket(dcc.Address(v[0]), v[1], v[2])
	}
	return p, false, err
}

// printPacket writes the decoded form, wire bits and duration of p
func printPacket(w io.Writer, p dcc.Packet, service bool) {
	fmt.Fprint(w, dcc.FormatPacket(p, service))
	fmt.Fprintf(w, "Bits:     %s\n", dcc.FormatBits(p))
	fmt.Fprintf(w, "Length:   %d bits, %v\n", dcc.BitLength(p), dcc.Duration(p))
}

// writeTimings writes the half-periods of p in microseconds
func writeTimings(w io.Writer, p dcc.Packet) {
	for _, bit := range dcc.EncodeBits(p) {
		us := dcc.HalfPeriod(bit).Microseconds()
		fmt.Fprintf(w, "%d\n%d\n", us, us)
	}
}
