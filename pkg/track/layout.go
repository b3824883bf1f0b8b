// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package track

import (
	"sync"
	"time"

	"github.com/Thermoquad/trackside/pkg/dcc"
	"github.com/Thermoquad/trackside/pkg/railcom"
)

// LayoutConfig describes the simulated electrical behaviour
type LayoutConfig struct {
	BaseMilliamps  float64       // quiescent draw of the installed decoders
	AckMilliamps   float64       // extra draw during an ack pulse
	AckPulse       time.Duration // ack pulse length
	ShortMilliamps float64       // draw while shorted
	SampleInterval time.Duration // sensor feed period
}

// DefaultLayoutConfig returns a layout that acks with a 6 ms, 80 mA pulse
func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{
		BaseMilliamps:  20,
		AckMilliamps:   80,
		AckPulse:       dcc.AckPulse,
		ShortMilliamps: 5000,
		SampleInterval: DefaultSampleInterval,
	}
}

// SimDecoder is the state of a simulated multi-function decoder
type SimDecoder struct {
	Address   dcc.Address
	RailCom   bool
	SpeedCode byte
	Forward   bool
	Functions uint32
	CVs       map[int]byte
}

// Speed returns the signed speed step last commanded
func (s SimDecoder) Speed() int {
	ins := dcc.Instruction{SpeedCode: s.SpeedCode, Forward: s.Forward}
	return ins.Speed()
}

func newSimDecoder(addr dcc.Address, railCom bool) *SimDecoder {
	d := &SimDecoder{
		Address: addr,
		RailCom: railCom,
		Forward: true,
		CVs:     map[int]byte{1: 3, 7: 1, 8: 13, 29: 0},
	}
	if !addr.IsLong() {
		d.CVs[1] = byte(addr)
	} else {
		d.CVs[17] = 0xC0 | byte(addr>>8)
		d.CVs[18] = byte(addr)
		d.CVs[29] = 0x20
	}
	if railCom {
		d.CVs[29] |= 0x08
	}
	return d
}

func (s *SimDecoder) snapshot() SimDecoder {
	cp := *s
	cp.CVs = make(map[int]byte, len(s.CVs))
	for k, v := range s.CVs {
		cp.CVs[k] = v
	}
	return cp
}

// maxPacketLog bounds the decoded packet history
const maxPacketLog = 256

// Layout is a simulated railway: a rail decoder that reads the driver's
// edges, a programming-track decoder that acks through current pulses and
// main line decoders that answer through RailCom. It implements Output,
// Receiver and ADC.
//
// Time only moves through Advance, so a test harness steps the driver and
// advances the layout by the returned duration.
type Layout struct {
	cfg LayoutConfig

	mu       sync.Mutex
	sensor   *Sensor
	decoder  *dcc.Decoder
	stats    *dcc.Statistics
	now      time.Duration
	lastEdge time.Duration
	haveEdge bool
	powered  bool
	cutout   bool
	shorted  bool

	prog        *SimDecoder
	locos       map[dcc.Address]*SimDecoder
	inService   bool
	lastProbe   dcc.Packet
	ackStart    time.Duration
	ackUntil    time.Duration
	acks        int
	nextSample  time.Duration
	packets     []dcc.Packet
	lastAddr    dcc.Address
	reply       []byte
	window      int
	windowBytes []byte
	adrHigh     bool
}

// NewLayout creates an empty layout
func NewLayout(cfg LayoutConfig) *Layout {
	return &Layout{
		cfg:     cfg,
		decoder: dcc.NewDecoder(),
		stats:   dcc.NewStatistics(),
		locos:   make(map[dcc.Address]*SimDecoder),
	}
}

// AttachSensor makes Advance feed current samples to s
func (l *Layout) AttachSensor(s *Sensor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sensor = s
}

// AddLocomotive places a decoder on the main line
func (l *Layout) AddLocomotive(addr dcc.Address, railCom bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locos[addr] = newSimDecoder(addr, railCom)
}

// SetProgrammingDecoder places a decoder on the programming track
func (l *Layout) SetProgrammingDecoder(addr dcc.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prog = newSimDecoder(addr, false)
}

// SetProgrammingCV presets a CV of the programming-track decoder
func (l *Layout) SetProgrammingCV(cv int, value byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.prog != nil {
		l.prog.CVs[cv] = value
	}
}

// ProgrammingCV reads a CV of the programming-track decoder
func (l *Layout) ProgrammingCV(cv int) (byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.prog == nil {
		return 0, false
	}
	v, ok := l.prog.CVs[cv]
	return v, ok
}

// Locomotive returns a snapshot of a main line decoder
func (l *Layout) Locomotive(addr dcc.Address) (SimDecoder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.locos[addr]
	if !ok {
		return SimDecoder{}, false
	}
	return d.snapshot(), true
}

// SetShort shorts or clears the rails
func (l *Layout) SetShort(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shorted = on
}

// Packets returns the most recently decoded packets, oldest first
func (l *Layout) Packets() []dcc.Packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]dcc.Packet(nil), l.packets...)
}

// Acks returns the number of ack pulses generated
func (l *Layout) Acks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acks
}

// Statistics returns a summary of what the rail decoder saw
func (l *Layout) Statistics() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.String()
}

// Powered returns true while the bridge is on
func (l *Layout) Powered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.powered
}

// Now returns the simulated time
func (l *Layout) Now() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Advance moves simulated time forward, feeding the attached sensor
func (l *Layout) Advance(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now += d
	if l.sensor == nil {
		return
	}
	for l.nextSample <= l.now {
		l.sensor.Sample(l.currentAt(l.nextSample), l.nextSample)
		l.nextSample += l.cfg.SampleInterval
	}
}

// ============================================================
// Output
// ============================================================

// SetSignal records an edge and decodes the half-period it closes
func (l *Layout) SetSignal(high bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.powered || l.cutout {
		return
	}
	if l.haveEdge {
		p, err := l.decoder.DecodeHalfPeriod(l.now - l.lastEdge)
		if err != nil {
			l.stats.Update(nil, err, nil)
		} else if p != nil {
			l.handlePacket(*p)
		}
	}
	l.lastEdge = l.now
	l.haveEdge = true
}

// SetPower switches the bridge
func (l *Layout) SetPower(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.powered == on {
		return
	}
	l.powered = on
	l.haveEdge = false
	l.decoder.Reset()
	if !on {
		l.ackUntil = 0
		l.inService = false
	}
}

// SetCutout opens or closes the RailCom cutout
func (l *Layout) SetCutout(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cutout = on
	l.haveEdge = false
	l.decoder.Reset()
	l.window = 0
	if !on {
		l.reply = nil
	}
}

// ============================================================
// Receiver
// ============================================================

// Arm opens the next cutout channel window
func (l *Layout) Arm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cutout {
		l.windowBytes = nil
		return
	}
	l.window++
	l.windowBytes = nil

	loco, ok := l.locos[l.lastAddr]
	if !ok || !loco.RailCom {
		return
	}
	switch l.window {
	case 1:
		l.windowBytes = railcom.EncodeAddress(loco.Address, l.adrHigh)
		l.adrHigh = !l.adrHigh
	case 2:
		l.windowBytes = l.reply
		if l.windowBytes == nil {
			l.windowBytes = railcom.EncodeSpeed(loco.SpeedCode)
		}
		l.reply = nil
	}
}

// Collect returns the bytes sent in the current window
func (l *Layout) Collect() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.windowBytes
	l.windowBytes = nil
	return out
}

// ============================================================
// ADC
// ============================================================

// ReadMilliamps returns the track current at the current simulated time
func (l *Layout) ReadMilliamps() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentAt(l.now), nil
}

func (l *Layout) currentAt(t time.Duration) float64 {
	switch {
	case !l.powered:
		return 0
	case l.shorted:
		return l.cfg.ShortMilliamps
	case t >= l.ackStart && t < l.ackUntil:
		return l.cfg.BaseMilliamps + l.cfg.AckMilliamps
	}
	return l.cfg.BaseMilliamps
}

// ============================================================
// Simulated decoders
// ============================================================

func (l *Layout) handlePacket(p dcc.Packet) {
	if len(l.packets) == maxPacketLog {
		l.packets = append(l.packets[:0], l.packets[1:]...)
	}
	l.packets = append(l.packets, p)

	service := l.inService && p.IsDirectMode()
	l.stats.Update(&p, nil, dcc.ValidatePacket(p, service))

	switch {
	case p.IsReset():
		l.inService = true
		l.lastProbe = dcc.Packet{}
		for _, loco := range l.locos {
			loco.SpeedCode = 0
		}
		return
	case service:
		l.handleService(p)
		return
	}

	l.inService = false
	ins, err := dcc.ParsePacket(p, false)
	if err != nil {
		return
	}
	l.lastAddr = ins.Address
	if ins.Kind == dcc.KindEmergencyStop && ins.Address == dcc.AddressBroadcast {
		for _, loco := range l.locos {
			loco.SpeedCode = 0
		}
		return
	}
	loco, ok := l.locos[ins.Address]
	if !ok {
		return
	}

	switch ins.Kind {
	case dcc.KindSpeed128:
		loco.SpeedCode = ins.SpeedCode
		loco.Forward = ins.Forward
	case dcc.KindEmergencyStop:
		loco.SpeedCode = 0
	case dcc.KindFunction:
		mask := ins.Group.Mask()
		loco.Functions = loco.Functions&^mask | ins.Functions
	case dcc.KindOpsCV:
		if ins.Op == dcc.CVOpWrite {
			loco.CVs[ins.CV] = ins.Value
		}
		if loco.RailCom {
			l.reply = railcom.EncodePOM(loco.CVs[ins.CV])
		}
	}
}

// handleService executes a direct mode instruction and acks at most once
// per run of identical packets
func (l *Layout) handleService(p dcc.Packet) {
	if l.prog == nil {
		return
	}
	if p.Equal(l.lastProbe) {
		return
	}
	ins, err := dcc.ParsePacket(p, true)
	if err != nil {
		return
	}

	cv := l.prog.CVs[ins.CV]
	ack := false
	switch ins.Op {
	case dcc.CVOpWrite:
		l.prog.CVs[ins.CV] = ins.Value
		ack = true
	case dcc.CVOpVerify:
		ack = cv == ins.Value
	case dcc.CVOpBit:
		mask := byte(1) << ins.Bit
		if ins.BitWrite {
			if ins.BitValue {
				l.prog.CVs[ins.CV] = cv | mask
			} else {
				l.prog.CVs[ins.CV] = cv &^ mask
			}
			ack = true
		} else {
			ack = (cv&mask != 0) == ins.BitValue
		}
	}
	if ack {
		l.lastProbe = p
		l.ackStart = l.now
		l.ackUntil = l.now + l.cfg.AckPulse
		l.acks++
	}
}
