// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackside/pkg/engine"
)

var (
	// Engine flags
	configPath string
	logLevel   string

	// RailCom detector flags
	portName string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "trackside",
	Short: "DCC command station and RailCom feedback tools",
	Long: `Trackside - A DCC command station engine with RailCom feedback.

Runs locomotive throttles against a command station, either in-process on a
simulated layout or remotely over WebSocket, and provides tools for encoding
DCC packets and decoding track and RailCom captures.

Connection modes:
  Local:     no --url; a simulated layout is started in-process
  WebSocket: --url ws://host/ws [--username user]
  RailCom:   --port /dev/ttyUSB0 (detector UART, 250 kbaud)

For WebSocket authentication, the password is read from the TRACKSIDE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Engine configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "RailCom detector serial port")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newLogger creates the logger for a command from --log-level
func newLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return logger, nil
}

// loadConfig returns the engine configuration from --config or the defaults
func loadConfig() (engine.Config, error) {
	if configPath == "" {
		return engine.DefaultConfig(), nil
	}
	return engine.LoadConfig(configPath)
}
