// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackside/pkg/dcc"
)

var (
	showAll       bool
	statsInterval int
	sniffService  bool
)

var sniffCmd = &cobra.Command{
	Use:   "sniff [FILE]",
	Short: "Decode captured track timings and detect malformed packets",
	Long: `Decode a capture of rail edge timings and validate every packet.

Input is a stream of half-period durations in microseconds, whitespace or
newline separated, read from FILE or standard input (for example from a logic
analyser export, or from 'trackside encode --timings').

This command validates each packet and detects:
  - Decode failures (bad half-periods, short preambles, overlong packets)
  - Checksum errors
  - Anomalies (reserved addresses, unknown instructions, short preambles)
  - Statistics (packet mix, error rate)

By default, only errors are displayed. Use --show-all to display valid packets too.
Statistics are printed at the configured interval and at end of input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	sniffCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, 0 to disable)")
	sniffCmd.Flags().BoolVar(&sniffService, "service", false, "Interpret packets as service mode")
}

// sniffer decodes half-periods and reports packets and errors
type sniffer struct {
	out     io.Writer
	decoder *dcc.Decoder
	stats   *dcc.Statistics
	service bool
	showAll bool

	// Decode errors are ignored until the first valid packet
	synchronized bool
	skipped      int
}

func newSniffer(out io.Writer, service, showAll bool) *sniffer {
	return &sniffer{
		out:     out,
		decoder: dcc.NewDecoder(),
		stats:   dcc.NewStatistics(),
		service: service,
		showAll: showAll,
	}
}

// feed decodes one half-period
func (s *sniffer) feed(d time.Duration) {
	packet, decodeErr := s.decoder.DecodeHalfPeriod(d)
	if decodeErr != nil {
		if s.synchronized {
			s.stats.Update(nil, decodeErr, nil)
			s.printDecodeError(decodeErr)
		} else {
			s.skipped++
		}
		return
	}
	if packet == nil {
		return
	}

	if !s.synchronized {
		s.synchronized = true
		if s.skipped > 0 {
			fmt.Fprintf(s.out, "[SYNC] Synchronized after skipping %d invalid half-periods\n\n", s.skipped)
		} else {
			fmt.Fprintf(s.out, "[SYNC] Synchronized\n\n")
		}
	}

	anomalies := dcc.ValidatePacket(*packet, s.service)
	s.stats.Update(packet, nil, anomalies)

	if len(anomalies) > 0 {
		s.printValidationErrors(*packet, anomalies)
	} else if s.showAll {
		fmt.Fprint(s.out, dcc.FormatPacket(*packet, s.service))
	}
}

// printDecodeError prints a decode error in highlighted format
func (s *sniffer) printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(s.out, "[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Fprintf(s.out, "  >>> DECODE FAILED <<<\n\n")
}

// printValidationErrors prints the anomalies of a packet
func (s *sniffer) printValidationErrors(p dcc.Packet, anomalies []dcc.ValidationError) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(s.out, "[%s] \033[1;33mVALIDATION ERROR:\033[0m [% X]\n", timestamp, p.Bytes())

	for i, a := range anomalies {
		switch a.Type {
		case dcc.AnomalyChecksum, dcc.AnomalyLength:
			fmt.Fprintf(s.out, "  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
		case dcc.AnomalyPreamble:
			fmt.Fprintf(s.out, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
			if bits, ok := a.Details["preamble"].(int); ok {
				fmt.Fprintf(s.out, "    Preamble=%d bits\n", bits)
			}
		default:
			fmt.Fprintf(s.out, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
		}
	}

	fmt.Fprintf(s.out, "  >>> PACKET REJECTED <<<\n\n")
}

// parseTimings splits a line into half-period durations
func parseTimings(line string) ([]time.Duration, error) {
	var out []time.Duration
	for _, field := range strings.Fields(line) {
		us, err := strconv.Atoi(field)
		if err != nil || us <= 0 {
			return nil, fmt.Errorf("invalid half-period %q", field)
		}
		out = append(out, time.Duration(us)*time.Microsecond)
	}
	return out, nil
}

func runSniff(cmd *cobra.Command, args []string) error {
	in := os.Stdin
	source := "stdin"
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
		source = args[0]
	}

	fmt.Printf("Trackside - Track Sniffer\n")
	fmt.Printf("Source: %s\n", source)
	if sniffService {
		fmt.Printf("Decoding: service mode\n")
	} else {
		fmt.Printf("Decoding: operations mode\n")
	}
	if showAll {
		fmt.Printf("Mode: All packets\n\n")
	} else {
		fmt.Printf("Mode: Errors only\n\n")
	}

	s := newSniffer(os.Stdout, sniffService, showAll)

	// Lines are read in the background so statistics keep printing while
	// the input is idle
	lines := make(chan string, 64)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
		readErr <- scanner.Err()
	}()

	var tick <-chan time.Time
	if statsInterval > 0 {
		ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}

	lineNo := 0
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				fmt.Print(s.stats.String())
				return <-readErr
			}
			lineNo++
			timings, err := parseTimings(line)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			for _, d := range timings {
				s.feed(d)
			}

		case <-tick:
			fmt.Println()
			fmt.Print(s.stats.String())
			fmt.Println()
		}
	}
}
