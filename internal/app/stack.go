// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/relabs-tech/balance_screen/internal/classifier"
	"github.com/relabs-tech/balance_screen/internal/config"
	"github.com/relabs-tech/balance_screen/internal/sensors"
	"github.com/relabs-tech/balance_screen/internal/session"
	"github.com/relabs-tech/balance_screen/internal/sink"
)

// Stack is a wired session controller with its sensors and sinks.
type Stack struct {
	Config     *config.Config
	Sensors    *sensors.Adapter
	Controller *session.Controller
	Sinks      *sink.Multi
}

// NewStack wires config -> sensor source -> classifier -> sinks -> controller.
func NewStack(ctx context.Context, cfg *config.Config) (*Stack, error) {
	adapter, err := sensors.NewAdapterFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("sensors: %w", err)
	}
	log.Printf("app: sensor source %s", adapter.SourceName())

	sinks := sink.FromConfig(ctx, cfg)

	ctrl, err := newController(cfg, adapter, sinks)
	if err != nil {
		_ = sinks.Close()
		return nil, err
	}
	return &Stack{Config: cfg, Sensors: adapter, Controller: ctrl, Sinks: sinks}, nil
}

func newController(cfg *config.Config, adapter session.SensorAdapter, sinks *sink.Multi) (*session.Controller, error) {
	var remote classifier.Remote
	if cfg.RemoteInferenceURL != "" {
		remote = classifier.NewRemoteClient(cfg.RemoteInferenceURL, cfg.RemoteTimeout(), cfg.BreakerConfig())
		log.Printf("app: remote inference at %s", cfg.RemoteInferenceURL)
	}
	strategy := classifier.New(cfg.Thresholds, cfg.MinReadings, remote)

	opts := session.OptionsFromConfig(cfg)
	if sinks != nil && sinks.Len() > 0 {
		opts.Sink = sinks
	}
	return session.New(opts, adapter, strategy)
}

// Close stops the controller, then the sinks.
func (s *Stack) Close() {
	s.Controller.Close()
	if err := s.Sinks.Close(); err != nil {
		log.Printf("app: closing sinks: %v", err)
	}
}
