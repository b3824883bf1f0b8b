// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package track

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/Thermoquad/trackside/pkg/railcom"
)

// maxWindowBytes bounds a receive window; a cutout carries at most eight bytes
const maxWindowBytes = 16

// SerialReceiver is a RailCom Receiver reading a detector UART.
// A background goroutine reads the port; Arm and Collect only touch the
// shared window buffer.
type SerialReceiver struct {
	port io.ReadCloser
	log  logrus.FieldLogger

	mu       sync.Mutex
	window   []byte
	armed    bool
	overflow uint64
	closed   bool

	done chan struct{}
}

// OpenSerialReceiver opens portName at the RailCom bit rate (250 kbaud 8N1)
func OpenSerialReceiver(portName string, log logrus.FieldLogger) (*SerialReceiver, error) {
	mode := &serial.Mode{
		BaudRate: railcom.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return NewSerialReceiver(port, log), nil
}

// NewSerialReceiver starts reading from an already open port
func NewSerialReceiver(port io.ReadCloser, log logrus.FieldLogger) *SerialReceiver {
	r := &SerialReceiver{
		port:   port,
		log:    log,
		window: make([]byte, 0, maxWindowBytes),
		done:   make(chan struct{}),
	}
	go r.readLoop()
	return r
}

func (r *SerialReceiver) readLoop() {
	defer close(r.done)
	buf := make([]byte, 64)
	for {
		n, err := r.port.Read(buf)
		if n > 0 {
			r.mu.Lock()
			if r.armed {
				room := maxWindowBytes - len(r.window)
				if n > room {
					r.overflow++
					n = room
				}
				r.window = append(r.window, buf[:n]...)
			}
			r.mu.Unlock()
		}
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed && !errors.Is(err, io.EOF) {
				r.log.WithError(err).Error("RailCom receiver read failed")
			}
			return
		}
	}
}

// Arm discards buffered bytes and opens a new window
func (r *SerialReceiver) Arm() {
	r.mu.Lock()
	r.window = r.window[:0]
	r.armed = true
	r.mu.Unlock()
}

// Collect returns the window contents and closes the window
func (r *SerialReceiver) Collect() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = false
	if len(r.window) == 0 {
		return nil
	}
	out := make([]byte, len(r.window))
	copy(out, r.window)
	r.window = r.window[:0]
	return out
}

// Overflows returns how many reads did not fit a window
func (r *SerialReceiver) Overflows() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overflow
}

// Close closes the port and waits for the reader to exit
func (r *SerialReceiver) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	err := r.port.Close()
	<-r.done
	return err
}
