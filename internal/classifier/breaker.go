// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package classifier

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// BreakerState of a circuit breaker.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned without calling the operation while the
// breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open; fast-fail")

// BreakerConfig holds the breaker tunables.
type BreakerConfig struct {
	MaxFailures  int           // consecutive failures before opening
	ResetTimeout time.Duration // wait before letting a trial call through
}

// Breaker stops calling a failing dependency for ResetTimeout after
// MaxFailures consecutive failures. After the timeout one trial call runs
// in HalfOpen; its outcome closes or re-opens the breaker.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
}

// NewBreaker returns a closed breaker. A zero MaxFailures disables it.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Execute runs op unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if b.cfg.MaxFailures <= 0 {
		return op(ctx)
	}

	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = HalfOpen
		b.trial = true
		log.Printf("breaker %s: half-open, trying one call", b.name)
	case HalfOpen:
		if b.trial {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.trial = true
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
	if err == nil {
		if b.state != Closed {
			log.Printf("breaker %s: closed after %s", b.name, b.state)
		}
		b.state = Closed
		b.failures = 0
		return nil
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.MaxFailures {
		if b.state != Open {
			log.Printf("breaker %s: opened after %d failures: %v", b.name, b.failures, err)
		}
		b.state = Open
		b.openedAt = b.now()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
