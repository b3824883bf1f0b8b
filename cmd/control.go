// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackside/pkg/wire"
)

var controlAddress int

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive throttle and programmer",
	Long: `Drive a locomotive and program CVs from an interactive terminal UI.

Without --url a simulated layout is started in-process; with --url the
throttle talks to a trackside server over WebSocket.

Features:
  - Speed and direction control (128 speed steps)
  - Function presets (F0 lights, F1 bell, F2 horn, F8 engine sound)
  - RailCom speed feedback
  - CV read/write in service mode or on the main
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the throttle and the programmer. The programmer cannot
be left while an operation is in progress.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().IntVarP(&controlAddress, "address", "a", 3, "Locomotive address")
}

// facadeManager owns the facade and replaces a remote one whose
// connection was lost
type facadeManager struct {
	mu       sync.RWMutex
	facade   wire.Facade
	connInfo string
	stop     func()

	p            *tea.Program
	log          logrus.FieldLogger
	done         chan struct{}
	reconnecting atomic.Bool
}

func (fm *facadeManager) get() wire.Facade {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.facade
}

func (fm *facadeManager) set(f wire.Facade, connInfo string, stop func()) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.facade = f
	fm.connInfo = connInfo
	fm.stop = stop
}

// lost returns the transport error of a remote facade
func (fm *facadeManager) lost() error {
	if c, ok := fm.get().(*wire.Client); ok {
		return c.Err()
	}
	return nil
}

// startReconnect begins reconnecting unless already in progress
func (fm *facadeManager) startReconnect() {
	if fm.p == nil || !fm.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go fm.reconnect()
}

// reconnect attempts to reconnect with exponential backoff
func (fm *facadeManager) reconnect() {
	defer fm.reconnecting.Store(false)

	fm.mu.Lock()
	if fm.stop != nil {
		fm.stop()
		fm.stop = nil
	}
	fm.mu.Unlock()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-fm.done:
			return
		case <-time.After(backoff):
		}

		client, connInfo, err := OpenClient(0, fm.log)
		if err == nil {
			fm.set(client, connInfo, func() { client.Close() })
			fm.p.Send(reconnectedMsg{connInfo: connInfo})
			return
		}
		fm.log.WithError(err).Debug("Reconnect failed")

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (fm *facadeManager) close() {
	close(fm.done)
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.stop != nil {
		fm.stop()
		fm.stop = nil
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	// The TUI owns the terminal
	log.SetOutput(io.Discard)

	facade, connInfo, stop, err := OpenFacade(log)
	if err != nil {
		return err
	}

	fm := &facadeManager{log: log, done: make(chan struct{})}
	fm.set(facade, connInfo, stop)
	defer fm.close()

	m := initialControlModel(fm, controlAddress)

	// Create TUI program with alt screen
	p := tea.NewProgram(m, tea.WithAltScreen())
	fm.p = p

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
