// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/Thermoquad/trackside/pkg/railcom"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display RailCom detector output in human-readable format",
	Long: `Continuously decode and display RailCom datagrams read from a detector UART.

Each burst read from the port is decoded as one channel 2 window, so the
output shows POM, DYN, address and control frames as the decoders send them.
Requires --port.

Examples:
  trackside raw_log --port /dev/ttyUSB0
  trackside raw_log --port /dev/ttyUSB0 --hex`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print the raw bytes of each burst")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	if portName == "" {
		return fmt.Errorf("--port must be specified")
	}

	mode := &serial.Mode{
		BaudRate: railcom.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	defer port.Close()

	fmt.Printf("Trackside - RailCom Log\n")
	fmt.Printf("Connection: Serial: %s @ %d baud\n", portName, railcom.Baud)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return logRailCom(port, railcom.NewDecoder())
}

// logRailCom decodes bursts from r until EOF
func logRailCom(r io.Reader, decoder *railcom.Decoder) error {
	buf := make([]byte, 64)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			printBurst(buf[:n], decoder)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("Connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
	}
}

func printBurst(data []byte, decoder *railcom.Decoder) {
	ts := time.Now().Format("15:04:05.000")
	if rawLogHex {
		fmt.Printf("[%s] % X\n", ts, data)
	}

	before := decoder.Stats()
	for _, f := range decoder.DecodeChannel(data, 2, 0) {
		fmt.Printf("[%s] %s\n", ts, railcom.FormatFrame(f))
	}
	after := decoder.Stats()

	if after.InvalidSymbols > before.InvalidSymbols {
		fmt.Printf("[%s] [ERROR] invalid 4-of-8 symbol in % X\n", ts, data)
	}
	if after.UnknownDatagrams > before.UnknownDatagrams {
		fmt.Printf("[%s] [ERROR] unknown datagram ID in % X\n", ts, data)
	}
}
