// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sink hands completed session records to outside systems. Every
// sink implements session.Sink; Multi fans a record out to several.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/relabs-tech/balance_screen/internal/config"
	"github.com/relabs-tech/balance_screen/internal/metrics"
	"github.com/relabs-tech/balance_screen/internal/session"
)

// Named is a session.Sink that can be released.
type Named interface {
	session.Sink
	Name() string
	Close() error
}

// Multi delivers to every sink. One failure does not stop the others.
type Multi struct {
	sinks []Named
}

// NewMulti wraps sinks.
func NewMulti(sinks ...Named) *Multi {
	return &Multi{sinks: sinks}
}

// Len is the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Deliver sends rec to all sinks and joins their errors.
func (m *Multi) Deliver(ctx context.Context, rec session.Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, rec); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			log.Printf("sink: %s: %v", s.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FromConfig opens every sink whose address is configured. A sink that
// cannot be opened is logged and skipped so results still reach the rest.
func FromConfig(ctx context.Context, cfg *config.Config) *Multi {
	var sinks []Named

	if cfg.MQTTBroker != "" && cfg.TopicResult != "" {
		if s, err := NewMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-results", cfg.TopicResult); err != nil {
			log.Printf("sink: mqtt disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.RedisAddr != "" {
		if s, err := NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResultTTL()); err != nil {
			log.Printf("sink: redis disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.PostgresDSN != "" {
		if s, err := NewPostgres(ctx, cfg.PostgresDSN); err != nil {
			log.Printf("sink: postgres disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		if s, err := NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic); err != nil {
			log.Printf("sink: kafka disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}

	for _, s := range sinks {
		log.Printf("sink: %s enabled", s.Name())
	}
	return NewMulti(sinks...)
}

// encode is the wire form shared by the message sinks.
func encode(rec session.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return b, nil
}
