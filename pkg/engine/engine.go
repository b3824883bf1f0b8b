// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine is the DCC command station core: locomotive state, the
// packet scheduler, programming operations and the mode state machine.
//
// The Engine facade never blocks. Step runs on the timer goroutine at every
// track edge; Tick runs on the control loop and drains RailCom feedback;
// every other method is a synchronous validation followed by asynchronous
// completion polled with OpsDone.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/trackside/pkg/dcc"
	"github.com/Thermoquad/trackside/pkg/railcom"
	"github.com/Thermoquad/trackside/pkg/track"
)

// Mode is the track state
type Mode int32

// Modes
const (
	ModeIdle Mode = iota
	ModeService
	ModeOps
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeService:
		return "service"
	case ModeOps:
		return "ops"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// Handle identifies a registered locomotive
type Handle int

type faultRecord struct {
	err    error
	at     time.Duration
	logged atomic.Bool
}

// Engine owns the scheduler, driver and sensor and exposes the throttle
// facade.
type Engine struct {
	cfg    Config
	log    logrus.FieldLogger
	sensor *track.Sensor
	driver *track.Driver
	sched  *Scheduler
	rc     *railcom.Decoder

	mode    atomic.Int32
	fault   atomic.Pointer[faultRecord]
	active  atomic.Pointer[ProgOp]
	rcStats atomic.Pointer[railcom.Stats]

	// Registry and op submission
	mu     sync.Mutex
	locos  []*Locomotive
	byAddr map[dcc.Address]Handle

	modeMu sync.Mutex
}

// New creates an engine in idle mode. rx may be nil when no RailCom
// detector is fitted.
func New(cfg Config, out track.Output, rx track.Receiver, log logrus.FieldLogger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		log:    log,
		sensor: track.NewSensor(cfg.SensorConfig()),
		rc:     railcom.NewDecoder(),
		byAddr: make(map[dcc.Address]Handle),
	}
	e.sched = NewScheduler(cfg, e.sensor)

	opts := []track.DriverOption{
		track.WithSensor(e.sensor),
		track.WithFaultHandler(e.onFault),
		track.WithCaptureBuffer(cfg.CaptureBuffer),
	}
	if rx != nil && cfg.RailCom {
		opts = append(opts, track.WithReceiver(rx))
	}
	e.driver = track.NewDriver(out, e.sched, opts...)
	e.mode.Store(int32(ModeIdle))
	return e, nil
}

// Sensor returns the current sensor to be fed by an ADC sampler
func (e *Engine) Sensor() *track.Sensor {
	return e.sensor
}

// Driver returns the track driver
func (e *Engine) Driver() *track.Driver {
	return e.driver
}

// Step emits the next half-period; call from the timer context
func (e *Engine) Step() time.Duration {
	return e.driver.Step()
}

// Run drives the track in real time until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	return e.driver.Run(ctx)
}

// ============================================================
// Throttles
// ============================================================

// CreateThrottle registers a locomotive and returns its handle
func (e *Engine) CreateThrottle(addr int) (Handle, error) {
	a := dcc.Address(addr)
	if err := a.Validate(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byAddr[a]; ok {
		return 0, &dcc.ValidationError{
			Type:    dcc.AnomalyOutOfRange,
			Field:   "address",
			Message: fmt.Sprintf("address %d already registered", addr),
			Details: map[string]interface{}{"address": addr},
		}
	}

	l := newLocomotive(a)
	h := Handle(len(e.locos))
	e.locos = append(e.locos, l)
	e.byAddr[a] = h
	e.sched.AddLocomotive(l)

	e.log.WithField("address", addr).Info("Throttle created")
	return h, nil
}

func (e *Engine) loco(h Handle) (*Locomotive, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h < 0 || int(h) >= len(e.locos) {
		return nil, ErrUnknownHandle
	}
	return e.locos[h], nil
}

func (e *Engine) locoByAddress(a dcc.Address) *Locomotive {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.byAddr[a]
	if !ok {
		return nil
	}
	return e.locos[h]
}

// SetSpeed sets the signed speed (-127..127) of a locomotive. Magnitude m
// is sent as 128-step code m, except that 1 shares code 2 with magnitude 2
// because code 1 is emergency stop.
func (e *Engine) SetSpeed(h Handle, speed int) error {
	l, err := e.loco(h)
	if err != nil {
		return err
	}
	if err := dcc.CheckRange("speed", speed, -dcc.MaxSpeed, dcc.MaxSpeed); err != nil {
		return err
	}
	l.SetSpeed(speed)
	return nil
}

// SetFunction switches function index (0..28) of a locomotive
func (e *Engine) SetFunction(h Handle, index int, on bool) error {
	l, err := e.loco(h)
	if err != nil {
		return err
	}
	g, err := dcc.FunctionGroupOf(index)
	if err != nil {
		return err
	}
	l.SetFunction(index, g, on)
	return nil
}

// RCSpeed returns the last RailCom reported speed or SpeedUnknown
func (e *Engine) RCSpeed(h Handle) (int, error) {
	l, err := e.loco(h)
	if err != nil {
		return SpeedUnknown, err
	}
	return l.RCSpeed(), nil
}

// State returns the commanded state of a locomotive
func (e *Engine) State(h Handle) (LocoState, error) {
	l, err := e.loco(h)
	if err != nil {
		return LocoState{}, err
	}
	return l.State(), nil
}

// ============================================================
// Programming
// ============================================================

// ReadCV starts reading cv. On the programming track the value is
// recovered through acks; on the main line through RailCom.
func (e *Engine) ReadCV(h Handle, cv int) error {
	return e.submit(h, OpRead, cv, 0)
}

// WriteCV starts writing value to cv
func (e *Engine) WriteCV(h Handle, cv int, value int) error {
	if err := dcc.CheckRange("value", value, 0, dcc.MaxCVValue); err != nil {
		return err
	}
	return e.submit(h, OpWrite, cv, uint8(value))
}

func (e *Engine) submit(h Handle, kind OpKind, cv int, value uint8) error {
	l, err := e.loco(h)
	if err != nil {
		return err
	}
	if err := dcc.CheckRange("cv", cv, dcc.MinCV, dcc.MaxCV); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mode := e.Mode()
	if mode == ModeIdle {
		return ErrTrackOff
	}
	if cur := e.active.Load(); cur != nil && cur.inProgress() {
		return ErrBusy
	}

	op := newProgOp(kind, l, cv, value, mode == ModeService)
	l.op.Store(op)
	e.active.Store(op)
	e.sched.Submit(op)

	e.log.WithFields(logrus.Fields{
		"address": l.Address(),
		"cv":      cv,
		"op":      kind.String(),
		"mode":    mode.String(),
		"id":      op.ID.String(),
	}).Debug("Programming operation started")
	return nil
}

// OpsDone polls the operation of h. It returns done=true exactly once
// per operation, after which the handle is idle again.
func (e *Engine) OpsDone(h Handle) (result bool, value uint8, done bool) {
	l, err := e.loco(h)
	if err != nil {
		return false, 0, false
	}
	op := l.op.Load()
	if op == nil || op.inProgress() {
		return false, 0, false
	}
	if !l.op.CompareAndSwap(op, nil) {
		return false, 0, false
	}
	success, v, _ := op.Result()
	return success, v, true
}

// AwaitOp blocks until the operation of h resolves or ctx ends, and
// consumes it like OpsDone. For callers that are not a polling loop.
func (e *Engine) AwaitOp(ctx context.Context, h Handle) (bool, uint8, error) {
	l, err := e.loco(h)
	if err != nil {
		return false, 0, err
	}
	op := l.op.Load()
	if op == nil {
		return false, 0, ErrNoOperation
	}

	select {
	case <-op.Done():
	case <-ctx.Done():
		return false, 0, ctx.Err()
	}

	l.op.CompareAndSwap(op, nil)
	return op.Result()
}

// ============================================================
// Modes
// ============================================================

// Mode returns the current mode
func (e *Engine) Mode() Mode {
	return Mode(e.mode.Load())
}

// SetModeOps powers the main line with periodic locomotive traffic
func (e *Engine) SetModeOps() {
	e.setMode(ModeOps)
}

// SetModeService powers the programming track
func (e *Engine) SetModeService() {
	e.setMode(ModeService)
}

// SetModeIdle turns the track off
func (e *Engine) SetModeIdle() {
	e.setMode(ModeIdle)
}

func (e *Engine) setMode(m Mode) {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()

	if op := e.active.Load(); op != nil && op.resolve(false, 0, ErrCancelled) {
		e.log.WithFields(logrus.Fields{
			"address": op.Address,
			"cv":      op.CV,
			"op":      op.Kind.String(),
		}).Info("Programming operation cancelled by mode change")
	}

	e.sensor.Reset()
	e.fault.Store(nil)
	e.driver.Disable()
	e.discardCaptures()
	e.sched.SetMode(m)
	if e.fault.Load() != nil {
		// A short raised before power went off wins over the request
		m = ModeIdle
		e.sched.SetMode(m)
	}
	e.mode.Store(int32(m))
	if m != ModeIdle {
		e.driver.Enable()
	}

	e.log.WithField("mode", m.String()).Info("Mode changed")
}

// discardCaptures drops feedback that belongs to the previous mode
func (e *Engine) discardCaptures() {
	for {
		select {
		case <-e.driver.Captures():
		default:
			return
		}
	}
}

// Fault returns the last fault since the most recent mode call, or nil
func (e *Engine) Fault() error {
	if f := e.fault.Load(); f != nil {
		return f.err
	}
	return nil
}

// onFault runs in the timer context right after the driver cut power
func (e *Engine) onFault() {
	e.mode.Store(int32(ModeIdle))
	if op := e.active.Load(); op != nil {
		op.resolve(false, 0, ErrOvercurrent)
	}
	e.fault.Store(&faultRecord{err: ErrOvercurrent, at: e.driver.Elapsed()})
}

// ============================================================
// Feedback
// ============================================================

// Tick drains RailCom captures and routes the frames. Call it regularly
// from the control loop.
func (e *Engine) Tick() {
drain:
	for {
		select {
		case c := <-e.driver.Captures():
			e.routeCapture(e.rc.Decode(c))
		default:
			break drain
		}
	}
	if stats, prev := e.rc.Stats(), e.rcStats.Load(); prev == nil || *prev != stats {
		e.rcStats.Store(&stats)
	}

	if f := e.fault.Load(); f != nil && f.logged.CompareAndSwap(false, true) {
		e.log.WithError(f.err).WithField("at", f.at).Error("Track power cut")
	}
	if op := e.active.Load(); op != nil && !op.inProgress() && e.active.CompareAndSwap(op, nil) {
		success, value, err := op.Result()
		entry := e.log.WithFields(logrus.Fields{
			"address": op.Address,
			"cv":      op.CV,
			"op":      op.Kind.String(),
			"success": success,
			"value":   value,
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Debug("Programming operation finished")
	}
}

// routeCapture routes the frames of one cutout. An ACK completes a POM
// write only when the same cutout carried no CV value.
func (e *Engine) routeCapture(frames []railcom.Frame) {
	var ack *railcom.Frame
	for i, f := range frames {
		if f.Kind == railcom.KindAck && !f.Broadcast {
			ack = &frames[i]
		}
		e.route(f)
	}
	if ack == nil {
		return
	}
	op := e.pomFor(ack.Address)
	if op != nil && op.Kind == OpWrite && op.resolve(true, op.Value, nil) {
		e.log.WithFields(logrus.Fields{
			"address": op.Address,
			"cv":      op.CV,
		}).Debug("POM write acknowledged")
	}
}

// pomFor returns the in-flight ops mode operation for addr, or nil
func (e *Engine) pomFor(addr dcc.Address) *ProgOp {
	op := e.active.Load()
	if op == nil || op.Service || op.Address != addr {
		return nil
	}
	return op
}

func (e *Engine) route(f railcom.Frame) {
	if f.Broadcast {
		return
	}

	switch f.Kind {
	case railcom.KindSpeed:
		if l := e.locoByAddress(f.Address); l != nil {
			l.setRCSpeed(f.Value)
		}

	case railcom.KindCVValue:
		op := e.pomFor(f.Address)
		if op == nil {
			return
		}
		value := uint8(f.Value)
		if op.Kind == OpWrite && value != op.Value {
			op.resolve(false, value, fmt.Errorf("%w: wrote %d, read back %d", ErrVerify, op.Value, value))
			return
		}
		op.resolve(true, value, nil)

	case railcom.KindNack:
		if op := e.pomFor(f.Address); op != nil {
			op.resolve(false, 0, ErrNack)
		}

	case railcom.KindAck:
		// Completion is decided per cutout in routeCapture

	default:
		e.log.WithFields(logrus.Fields{
			"address": f.Address,
			"frame":   railcom.FormatFrame(f),
		}).Debug("RailCom frame ignored")
	}
}

// RailComStats returns the RailCom decoder counters as of the last Tick
func (e *Engine) RailComStats() railcom.Stats {
	if s := e.rcStats.Load(); s != nil {
		return *s
	}
	return railcom.Stats{}
}
