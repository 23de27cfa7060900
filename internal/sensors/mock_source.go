// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"sync"
	"time"
)

// MockOptions shape the generated motion.
type MockOptions struct {
	Interval  time.Duration // default 20ms
	Amplitude float64       // m/s², default 0.05
	// SpikeEvery injects a SpikeMagnitude acceleration every N samples. 0 disables.
	SpikeEvery     int
	SpikeMagnitude float64
	// OmitAlpha reports orientation without a compass heading.
	OmitAlpha bool
}

type mockSource struct {
	opts MockOptions
}

// NewMockSource creates a mock source that generates smooth changing
// values, for running without hardware.
func NewMockSource(opts MockOptions) Source {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Millisecond
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 0.05
	}
	return &mockSource{opts: opts}
}

func (m *mockSource) Name() string { return "mock" }

func (m *mockSource) Types() []Type { return []Type{Accelerometer, Orientation} }

func (m *mockSource) Start(h Handlers) (func(), error) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		start := time.Now()
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()

		n := 0
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				n++
				m.emit(h, now, now.Sub(start).Seconds(), n)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}, nil
}

func (m *mockSource) emit(h Handlers, now time.Time, elapsed float64, n int) {
	ts := now.UnixMilli()
	amp := m.opts.Amplitude

	ax := amp * math.Sin(elapsed*2)
	ay := amp * math.Cos(elapsed*1.3) * 0.5
	if m.opts.SpikeEvery > 0 && n%m.opts.SpikeEvery == 0 {
		ax = m.opts.SpikeMagnitude
		ay = 0
	}
	h.acceleration(AccelerationEvent{TimestampMillis: ts, X: ax, Y: ay, Z: 0})

	beta := 2 * math.Sin(elapsed)
	gamma := 1.5 * math.Cos(elapsed*0.7)
	ev := OrientationEvent{TimestampMillis: ts, Beta: &beta, Gamma: &gamma}
	if !m.opts.OmitAlpha {
		alpha := math.Mod(180+5*math.Sin(elapsed*0.3), 360)
		ev.Alpha = &alpha
	}
	h.orientation(ev)
}
