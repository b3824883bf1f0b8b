// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package track

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/trackside/pkg/dcc"
	"github.com/Thermoquad/trackside/pkg/railcom"
)

// PacketSource supplies the next packet at each packet boundary.
// NextPacket is called from the timer context and must not block; it
// returns false when nothing is ready and the driver repeats the previous
// packet.
type PacketSource interface {
	NextPacket(now time.Duration) (dcc.Packet, bool)
}

// Cutout timing as driven by this station, within the RCN-217 windows
const (
	CutoutLead = 29 * time.Microsecond
	cutoutEnd  = 470 * time.Microsecond
)

// DefaultCaptureBuffer is the number of RailCom captures held for the
// control loop before new ones are dropped
const DefaultCaptureBuffer = 32

// Driver phases
const (
	phaseBits = iota
	phaseCutoutOpen
	phaseChannel1
	phaseChannel2
)

// Driver emits the track signal one half-period at a time.
//
// Step is called from the timer context at every output edge. Enable,
// Disable and Reset may be called from any goroutine; while one of them
// holds the driver, Step returns a nominal one half-period without touching
// the output.
type Driver struct {
	out     Output
	rx      Receiver
	sensor  *Sensor
	source  PacketSource
	onFault func()

	captures chan railcom.Capture
	dropped  atomic.Uint64
	faults   atomic.Uint64
	packets  atomic.Uint64
	elapsedN atomic.Int64

	mu       sync.Mutex
	enabled  bool
	phase    int
	current  dcc.Packet
	bits     []bool
	pos      int
	half     int
	polarity bool
	elapsed  time.Duration
	channel1 []byte
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithReceiver sets the RailCom receiver. Without one no cutout is opened.
func WithReceiver(rx Receiver) DriverOption {
	return func(d *Driver) { d.rx = rx }
}

// WithSensor sets the current sensor consulted for overcurrent
func WithSensor(s *Sensor) DriverOption {
	return func(d *Driver) { d.sensor = s }
}

// WithFaultHandler sets the function called from the timer context after
// power is cut. It must not call back into the Driver.
func WithFaultHandler(fn func()) DriverOption {
	return func(d *Driver) { d.onFault = fn }
}

// WithCaptureBuffer sets the capture buffer size
func WithCaptureBuffer(n int) DriverOption {
	return func(d *Driver) { d.captures = make(chan railcom.Capture, n) }
}

// NewDriver creates a disabled driver
func NewDriver(out Output, source PacketSource, opts ...DriverOption) *Driver {
	d := &Driver{
		out:    out,
		source: source,
		bits:   make([]bool, 0, 128),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.captures == nil {
		d.captures = make(chan railcom.Capture, DefaultCaptureBuffer)
	}
	return d
}

// Step emits the next half-period and returns its duration
func (d *Driver) Step() time.Duration {
	if !d.mu.TryLock() {
		return dcc.OneHalfPeriod
	}
	defer d.mu.Unlock()

	// An unpowered track cannot short
	if d.enabled && d.sensor != nil && d.sensor.Overcurrent() {
		d.fault()
	}

	var dur time.Duration
	if !d.enabled {
		dur = dcc.OneHalfPeriod
	} else {
		dur = d.step()
	}
	d.elapsed += dur
	d.elapsedN.Store(int64(d.elapsed))
	return dur
}

func (d *Driver) step() time.Duration {
	switch d.phase {
	case phaseCutoutOpen:
		d.out.SetCutout(true)
		d.rx.Arm()
		d.phase = phaseChannel1
		return railcom.Channel2Start - CutoutLead

	case phaseChannel1:
		d.channel1 = append(d.channel1[:0], d.rx.Collect()...)
		d.rx.Arm()
		d.phase = phaseChannel2
		return cutoutEnd - railcom.Channel2Start

	case phaseChannel2:
		ch2 := d.rx.Collect()
		d.out.SetCutout(false)
		d.postCapture(ch2)
		d.phase = phaseBits
		d.load()
	}

	if d.pos >= len(d.bits) {
		if d.rx != nil && d.current.Cutout() && len(d.bits) > 0 {
			// Lead-in: one more edge, then the rails go quiet
			d.bits = d.bits[:0]
			d.phase = phaseCutoutOpen
			d.toggle()
			return CutoutLead
		}
		d.load()
	}

	bit := d.bits[d.pos]
	d.toggle()
	d.half++
	if d.half == 2 {
		d.half = 0
		d.pos++
	}
	return dcc.HalfPeriod(bit)
}

func (d *Driver) toggle() {
	d.polarity = !d.polarity
	d.out.SetSignal(d.polarity)
}

// load fetches the next packet, repeating the current one if none is ready
func (d *Driver) load() {
	if p, ok := d.source.NextPacket(d.elapsed); ok {
		d.current = p
	}
	if d.current.IsZero() {
		d.current = dcc.NewIdlePacket()
	}
	d.bits = dcc.AppendBits(d.bits[:0], d.current)
	d.pos = 0
	d.half = 0
	d.packets.Add(1)
}

func (d *Driver) postCapture(ch2 []byte) {
	if len(d.channel1) == 0 && len(ch2) == 0 {
		return
	}
	addr, _ := d.current.Address()
	c := railcom.Capture{
		Address:  addr,
		Channel1: append([]byte(nil), d.channel1...),
		Channel2: ch2,
		At:       d.elapsed,
	}
	select {
	case d.captures <- c:
	default:
		d.dropped.Add(1)
	}
}

// fault cuts power; called with d.mu held
func (d *Driver) fault() {
	d.out.SetPower(false)
	if d.phase != phaseBits {
		d.out.SetCutout(false)
	}
	d.enabled = false
	d.resetLocked()
	d.faults.Add(1)
	if d.onFault != nil {
		d.onFault()
	}
}

// Enable powers the track and starts emitting packets
func (d *Driver) Enable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = true
	d.out.SetPower(true)
}

// Disable powers the track off
func (d *Driver) Disable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != phaseBits {
		d.out.SetCutout(false)
	}
	d.enabled = false
	d.out.SetPower(false)
	d.resetLocked()
}

// Reset abandons the packet in flight; the next step starts a new packet
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != phaseBits {
		d.out.SetCutout(false)
	}
	d.resetLocked()
}

func (d *Driver) resetLocked() {
	d.phase = phaseBits
	d.current = dcc.Packet{}
	d.bits = d.bits[:0]
	d.pos = 0
	d.half = 0
	d.channel1 = d.channel1[:0]
}

// Enabled returns true while the track is powered
func (d *Driver) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Captures returns the channel of RailCom captures
func (d *Driver) Captures() <-chan railcom.Capture {
	return d.captures
}

// Elapsed returns the signal time emitted so far
func (d *Driver) Elapsed() time.Duration {
	return time.Duration(d.elapsedN.Load())
}

// DriverStats holds driver counters
type DriverStats struct {
	Packets         uint64
	Faults          uint64
	DroppedCaptures uint64
}

// Stats returns a snapshot of the driver counters
func (d *Driver) Stats() DriverStats {
	return DriverStats{
		Packets:         d.packets.Load(),
		Faults:          d.faults.Load(),
		DroppedCaptures: d.dropped.Load(),
	}
}
