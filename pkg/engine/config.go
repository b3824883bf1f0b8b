// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/trackside/pkg/dcc"
	"github.com/Thermoquad/trackside/pkg/track"
)

// Config holds the engine tunables. Durations are Go duration strings in
// YAML ("250ms").
type Config struct {
	// Scheduler
	MaxRefresh     time.Duration `yaml:"max_refresh"`
	SameAddressGap time.Duration `yaml:"same_address_gap"`

	// Programming
	PomRepeat       int           `yaml:"pom_repeat"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ServiceResets   int           `yaml:"service_resets"`
	ServiceProbes   int           `yaml:"service_probes"`
	ServiceRecovery int           `yaml:"service_recovery"`

	// RailCom
	RailCom       bool `yaml:"railcom"`
	CaptureBuffer int  `yaml:"capture_buffer"`

	// Current sensing
	AckThreshold      float64       `yaml:"ack_threshold_ma"`
	AckMinPulse       time.Duration `yaml:"ack_min_pulse"`
	OvercurrentLimit  float64       `yaml:"overcurrent_limit_ma"`
	OvercurrentWindow time.Duration `yaml:"overcurrent_window"`
}

// DefaultConfig returns NMRA-derived defaults
func DefaultConfig() Config {
	sensor := track.DefaultSensorConfig()
	return Config{
		MaxRefresh:        250 * time.Millisecond,
		SameAddressGap:    dcc.SameAddressGap,
		PomRepeat:         4,
		ResponseTimeout:   250 * time.Millisecond,
		ServiceResets:     dcc.ServiceResetPackets,
		ServiceProbes:     dcc.ServiceProbePackets,
		ServiceRecovery:   dcc.ServiceRecoveryPackets,
		RailCom:           true,
		CaptureBuffer:     track.DefaultCaptureBuffer,
		AckThreshold:      sensor.AckThreshold,
		AckMinPulse:       sensor.AckMinPulse,
		OvercurrentLimit:  sensor.OvercurrentLimit,
		OvercurrentWindow: sensor.OvercurrentWindow,
	}
}

// LoadConfig reads a YAML file over the defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the values can drive a track
func (c Config) Validate() error {
	if c.MaxRefresh < c.SameAddressGap+dcc.MaxPacketDuration {
		return fmt.Errorf("max_refresh %v shorter than one gap plus one packet", c.MaxRefresh)
	}
	if c.SameAddressGap < 0 {
		return fmt.Errorf("same_address_gap must not be negative")
	}
	if c.PomRepeat < 1 {
		return fmt.Errorf("pom_repeat must be at least 1")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("response_timeout must be positive")
	}
	if c.ServiceResets < 1 || c.ServiceProbes < 1 || c.ServiceRecovery < 1 {
		return fmt.Errorf("service packet counts must be at least 1")
	}
	if c.CaptureBuffer < 1 {
		return fmt.Errorf("capture_buffer must be at least 1")
	}
	if c.AckThreshold <= 0 || c.OvercurrentLimit <= c.AckThreshold {
		return fmt.Errorf("need 0 < ack_threshold_ma < overcurrent_limit_ma")
	}
	if c.AckMinPulse <= 0 || c.OvercurrentWindow <= 0 {
		return fmt.Errorf("ack_min_pulse and overcurrent_window must be positive")
	}
	return nil
}

// SensorConfig returns the current sensing part of the config
func (c Config) SensorConfig() track.SensorConfig {
	return track.SensorConfig{
		AckThreshold:      c.AckThreshold,
		AckMinPulse:       c.AckMinPulse,
		OvercurrentLimit:  c.OvercurrentLimit,
		OvercurrentWindow: c.OvercurrentWindow,
	}
}
