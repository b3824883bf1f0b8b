// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/Thermoquad/trackside/pkg/wire"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("TRACKSIDE_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenClient connects to the trackside server named by --url. A zero
// timeout selects wire.DefaultCallTimeout.
func OpenClient(timeout time.Duration, log logrus.FieldLogger) (*wire.Client, string, error) {
	if wsURL == "" {
		return nil, "", fmt.Errorf("--url must be specified")
	}

	opts := wire.DialOptions{
		Username:      wsUsername,
		SkipSSLVerify: wsNoSSLVerify,
		CallTimeout:   timeout,
	}
	if wsUsername != "" {
		password, err := GetPassword()
		if err != nil {
			return nil, "", err
		}
		opts.Password = password
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := wire.Dial(ctx, wsURL, opts, log)
	if err != nil {
		return nil, "", err
	}
	return client, fmt.Sprintf("WebSocket: %s", wsURL), nil
}

// OpenFacade returns a remote client when --url is set and a local
// simulated layout otherwise. The returned stop function releases it.
func OpenFacade(log logrus.FieldLogger) (wire.Facade, string, func(), error) {
	if wsURL != "" {
		client, info, err := OpenClient(0, log)
		if err != nil {
			return nil, "", nil, err
		}
		return client, info, func() { client.Close() }, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}
	sim, err := StartSimulation(context.Background(), cfg, defaultSimLocos, log)
	if err != nil {
		return nil, "", nil, err
	}
	return sim.Engine, "Local: simulated layout", sim.Stop, nil
}
