// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors turns a platform motion source into a uniform stream of
// acceleration, orientation and rotation-rate events.
//
// Sources may fail to start, deliver nothing, or panic. None of that crosses
// the Adapter boundary as anything other than "unavailable".
package sensors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrSensorUnavailable is returned when a source cannot be subscribed.
var ErrSensorUnavailable = errors.New("sensors unavailable")

// DefaultProbeWindow bounds how long Probe waits for first events.
const DefaultProbeWindow = 1500 * time.Millisecond

// Type names a motion sensor.
type Type string

const (
	Accelerometer Type = "accelerometer"
	Orientation   Type = "orientation"
	Gyroscope     Type = "gyroscope"
)

// AccelerationEvent is linear acceleration in m/s², gravity excluded.
type AccelerationEvent struct {
	TimestampMillis int64
	X, Y, Z         float64
}

// OrientationEvent carries device orientation in degrees. Any angle may be
// nil when the platform does not report it.
type OrientationEvent struct {
	TimestampMillis    int64
	Alpha, Beta, Gamma *float64
}

// RotationRateEvent is a true gyroscope sample in °/s, with X about the
// beta axis, Y about gamma and Z about alpha.
type RotationRateEvent struct {
	TimestampMillis int64
	X, Y, Z         float64
}

// Handlers receive events. Nil handlers are skipped.
type Handlers struct {
	OnAcceleration func(AccelerationEvent)
	OnOrientation  func(OrientationEvent)
	OnRotationRate func(RotationRateEvent)
}

func (h Handlers) acceleration(e AccelerationEvent) {
	if h.OnAcceleration != nil {
		h.OnAcceleration(e)
	}
}

func (h Handlers) orientation(e OrientationEvent) {
	if h.OnOrientation != nil {
		h.OnOrientation(e)
	}
}

func (h Handlers) rotationRate(e RotationRateEvent) {
	if h.OnRotationRate != nil {
		h.OnRotationRate(e)
	}
}

// Source is a platform motion sensor. Start begins delivery; after the
// returned stop func returns, no handler is called again.
type Source interface {
	Name() string
	Types() []Type
	Start(h Handlers) (stop func(), err error)
}

// ProbeResult reports which sensor types delivered within the probe window.
type ProbeResult struct {
	Available   bool   `json:"available"`
	SensorTypes []Type `json:"sensor_types"`
	Warning     string `json:"warning,omitempty"`
}

// Adapter wraps a Source with probing and guarded subscription.
type Adapter struct {
	source Source
	window time.Duration
}

// NewAdapter creates an adapter. A non-positive window uses DefaultProbeWindow.
func NewAdapter(src Source, window time.Duration) *Adapter {
	if window <= 0 {
		window = DefaultProbeWindow
	}
	return &Adapter{source: src, window: window}
}

// SourceName returns the underlying source name.
func (a *Adapter) SourceName() string {
	return a.source.Name()
}

// Probe subscribes briefly and records which types deliver at least one
// event. It never returns an error: failures and timeouts come back as
// Available=false with a Warning. Acceleration is required for a test, so
// Available is true only when the accelerometer reported.
func (a *Adapter) Probe(ctx context.Context) ProbeResult {
	want := a.source.Types()

	var mu sync.Mutex
	seen := make(map[Type]bool, len(want))
	all := make(chan struct{})
	var allOnce sync.Once
	mark := func(t Type) {
		mu.Lock()
		defer mu.Unlock()
		if seen[t] {
			return
		}
		seen[t] = true
		for _, w := range want {
			if !seen[w] {
				return
			}
		}
		allOnce.Do(func() { close(all) })
	}

	stop, err := a.start(Handlers{
		OnAcceleration: func(AccelerationEvent) { mark(Accelerometer) },
		OnOrientation:  func(OrientationEvent) { mark(Orientation) },
		OnRotationRate: func(RotationRateEvent) { mark(Gyroscope) },
	})
	if err != nil {
		log.Printf("sensors: probe %s failed: %v", a.source.Name(), err)
		return ProbeResult{Warning: fmt.Sprintf("sensors not available: %v", err)}
	}

	timer := time.NewTimer(a.window)
	select {
	case <-all:
	case <-timer.C:
	case <-ctx.Done():
	}
	timer.Stop()
	a.safeStop(stop)

	mu.Lock()
	defer mu.Unlock()
	res := ProbeResult{}
	var missing []string
	for _, t := range want {
		if seen[t] {
			res.SensorTypes = append(res.SensorTypes, t)
		} else {
			missing = append(missing, string(t))
		}
	}
	sort.Slice(res.SensorTypes, func(i, j int) bool { return res.SensorTypes[i] < res.SensorTypes[j] })
	res.Available = seen[Accelerometer]

	switch {
	case len(res.SensorTypes) == 0:
		res.Warning = fmt.Sprintf("no sensor events from %s within %s", a.source.Name(), a.window)
	case !res.Available:
		res.Warning = "accelerometer not reporting"
	case len(missing) > 0:
		res.Warning = "not reporting: " + strings.Join(missing, ", ")
	}
	if res.Warning != "" {
		log.Printf("sensors: probe %s: %s", a.source.Name(), res.Warning)
	}
	return res
}

// Subscribe starts continuous delivery to h.
func (a *Adapter) Subscribe(h Handlers) (*Subscription, error) {
	stop, err := a.start(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSensorUnavailable, a.source.Name(), err)
	}
	log.Printf("sensors: subscribed to %s", a.source.Name())
	return &Subscription{name: a.source.Name(), stop: func() { a.safeStop(stop) }}, nil
}

// start calls Source.Start, turning a panic into an error.
func (a *Adapter) start(h Handlers) (stop func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			stop, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	stop, err = a.source.Start(h)
	if err == nil && stop == nil {
		stop = func() {}
	}
	return stop, err
}

func (a *Adapter) safeStop(stop func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sensors: %s stop panicked: %v", a.source.Name(), r)
		}
	}()
	stop()
}

// Subscription is an active source subscription.
type Subscription struct {
	name string
	once sync.Once
	stop func()
}

// Unsubscribe stops delivery. It is safe to call more than once and on a
// nil Subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.stop()
		log.Printf("sensors: unsubscribed from %s", s.name)
	})
}
