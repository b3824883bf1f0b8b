// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/trackside/pkg/dcc"
	"github.com/Thermoquad/trackside/pkg/engine"
	"github.com/Thermoquad/trackside/pkg/track"
)

// tickInterval is how often the background loop drains feedback
const tickInterval = 10 * time.Millisecond

// defaultSimLocos are placed on the simulated main line
var defaultSimLocos = []SimLoco{
	{Address: 3, RailCom: true},
	{Address: 4, RailCom: true},
	{Address: 1234, RailCom: false},
}

// SimLoco describes a decoder installed on the simulated main line
type SimLoco struct {
	Address dcc.Address
	RailCom bool
}

// SimOptions selects how the simulated hardware is wired
type SimOptions struct {
	Locos []SimLoco

	// Receiver replaces the simulated RailCom detector when set
	Receiver track.Receiver

	// UseSampler polls the layout current through the ADC sampler instead
	// of feeding the sensor in simulated time
	UseSampler bool
}

// Simulation is an engine running against a simulated layout in real time
type Simulation struct {
	Engine  *engine.Engine
	Layout  *track.Layout
	Sampler *track.Sampler

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    logrus.FieldLogger
}

// StartSimulation starts an engine on a simulated layout with a decoder
// on the programming track, in ops mode
func StartSimulation(ctx context.Context, cfg engine.Config, locos []SimLoco, log logrus.FieldLogger) (*Simulation, error) {
	return StartSimulationWith(ctx, cfg, SimOptions{Locos: locos}, log)
}

// StartSimulationWith starts a simulation with explicit hardware options
func StartSimulationWith(ctx context.Context, cfg engine.Config, opts SimOptions, log logrus.FieldLogger) (*Simulation, error) {
	layout := track.NewLayout(track.DefaultLayoutConfig())
	for _, l := range opts.Locos {
		layout.AddLocomotive(l.Address, l.RailCom)
	}
	layout.SetProgrammingDecoder(3)

	var rx track.Receiver = layout
	if opts.Receiver != nil {
		rx = opts.Receiver
	}

	e, err := engine.New(cfg, layout, rx, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sim := &Simulation{
		Engine: e,
		Layout: layout,
		cancel: cancel,
		log:    log,
	}

	if opts.UseSampler {
		sim.Sampler = track.NewSampler(layout, e.Sensor(), 0, log.WithField("component", "sampler"))
		sim.spawn(func() error { return sim.Sampler.Run(ctx) })
	} else {
		layout.AttachSensor(e.Sensor())
	}

	sim.spawn(func() error {
		return track.RunRealtime(ctx, func() time.Duration {
			d := e.Step()
			layout.Advance(d)
			return d
		})
	})
	sim.spawn(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				e.Tick()
			}
		}
	})

	e.SetModeOps()
	log.WithField("locomotives", len(opts.Locos)).Info("Simulated layout started")
	return sim, nil
}

func (s *Simulation) spawn(fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("Simulation loop stopped")
		}
	}()
}

// Stop cuts track power and waits for the background loops to exit
func (s *Simulation) Stop() {
	s.Engine.SetModeIdle()
	s.cancel()
	s.wg.Wait()
}
