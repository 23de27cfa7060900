// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package buffer accumulates the readings of one balance test and keeps the
// weighted abnormal-sample counters.
//
// A Buffer has a single writer. The session controller serializes sensor
// callbacks before they reach Append, so the buffer does no locking itself.
package buffer

import (
	"github.com/relabs-tech/balance_screen/internal/motion"
)

// Thresholds decide when a single reading counts as abnormal.
type Thresholds struct {
	AccelMagnitude    float64 // m/s²
	RotationMagnitude float64 // °/s (or degrees per sample when derived)
	MagneticScale     float64 // projection radius for the magnetometer proxy
}

// Live is the latest value of each channel, for display.
type Live struct {
	Acceleration motion.Vec3        `json:"acceleration"`
	Orientation  motion.Orientation `json:"orientation"`
	Gyroscope    motion.Vec3        `json:"gyroscope"`
	Magnetometer motion.Vec3        `json:"magnetometer"`
}

// Buffer holds the readings of one session.
type Buffer struct {
	th       Thresholds
	readings []motion.SensorReading
	total    int
	abnormal int

	prevOrientation motion.Orientation
	havePrev        bool
	live            Live
}

// New returns an empty buffer.
func New(th Thresholds) *Buffer {
	if th.MagneticScale == 0 {
		th.MagneticScale = motion.DefaultMagneticScale
	}
	return &Buffer{th: th}
}

// Reset clears readings, counters and live values.
func (b *Buffer) Reset() {
	b.readings = nil
	b.total = 0
	b.abnormal = 0
	b.prevOrientation = motion.Orientation{}
	b.havePrev = false
	b.live = Live{}
}

// Append stores r, filling in the derived gyroscope and magnetometer proxy
// when the reading does not carry them, and returns the stored reading with
// the severity weight it added to the abnormal counter.
func (b *Buffer) Append(r motion.SensorReading) (motion.SensorReading, int) {
	if r.Gyroscope == nil && r.Orientation.HasAny() {
		if b.havePrev {
			g := motion.DeriveGyroscope(b.prevOrientation, r.Orientation)
			r.Gyroscope = &g
			r.GyroscopeDerived = true
		}
	}
	if r.Orientation.HasAny() {
		b.prevOrientation = r.Orientation
		b.havePrev = true
	}
	if r.Magnetometer == nil {
		if m, ok := motion.DeriveMagnetometer(r.Orientation, b.th.MagneticScale); ok {
			r.Magnetometer = &m
		}
	}

	weight := Severity(r.Acceleration.Magnitude, b.th.AccelMagnitude)
	if w := Severity(r.RotationMagnitude(), b.th.RotationMagnitude); w > weight {
		weight = w
	}

	b.readings = append(b.readings, r)
	b.total++
	b.abnormal += weight

	b.live.Acceleration = r.Acceleration
	b.live.Orientation = r.Orientation
	if r.Gyroscope != nil {
		b.live.Gyroscope = *r.Gyroscope
	}
	if r.Magnetometer != nil {
		b.live.Magnetometer = *r.Magnetometer
	}
	return r, weight
}

// Current returns the most recent values; zero-valued before the first
// reading.
func (b *Buffer) Current() Live {
	return b.live
}

// All returns a copy of the readings in arrival order.
func (b *Buffer) All() []motion.SensorReading {
	out := make([]motion.SensorReading, len(b.readings))
	copy(out, b.readings)
	return out
}

// TotalCount is the number of readings appended since the last Reset.
func (b *Buffer) TotalCount() int { return b.total }

// AbnormalCount is the severity-weighted count of abnormal readings.
func (b *Buffer) AbnormalCount() int { return b.abnormal }

// Severity grades a magnitude against its threshold:
// 0 below, 1 up to 1.5×, 2 below 2×, 3 at or above 2×.
// A non-positive threshold disables the check.
func Severity(magnitude, threshold float64) int {
	switch {
	case threshold <= 0 || magnitude < threshold:
		return 0
	case magnitude >= 2*threshold:
		return 3
	case magnitude > 1.5*threshold:
		return 2
	default:
		return 1
	}
}
