// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import "math"

// Vec3 is a three-axis sample with its Euclidean norm.
type Vec3 struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Magnitude float64 `json:"magnitude"`
}

// NewVec3 builds a Vec3 and fills in the magnitude.
func NewVec3(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z, Magnitude: math.Sqrt(x*x + y*y + z*z)}
}

// Orientation is a device-orientation sample in degrees.
// Alpha is the compass heading, Beta the front-back tilt and Gamma the
// left-right tilt. A nil angle means the platform did not report it.
type Orientation struct {
	Alpha     *float64 `json:"alpha"`
	Beta      *float64 `json:"beta"`
	Gamma     *float64 `json:"gamma"`
	Magnitude float64  `json:"magnitude"`
}

// NewOrientation builds an Orientation. Absent angles stay nil in the
// record and count as 0 for the magnitude.
func NewOrientation(alpha, beta, gamma *float64) Orientation {
	a, b, g := valueOr0(alpha), valueOr0(beta), valueOr0(gamma)
	return Orientation{
		Alpha:     copyAngle(alpha),
		Beta:      copyAngle(beta),
		Gamma:     copyAngle(gamma),
		Magnitude: math.Sqrt(a*a + b*b + g*g),
	}
}

// Angle is a convenience for building orientations from literals.
func Angle(v float64) *float64 { return &v }

// HasAny reports whether at least one angle is present.
func (o Orientation) HasAny() bool {
	return o.Alpha != nil || o.Beta != nil || o.Gamma != nil
}

// SensorReading is one fused sample: the acceleration event plus the most
// recent orientation at that moment.
type SensorReading struct {
	TimestampMillis int64       `json:"timestamp_ms"`
	Acceleration    Vec3        `json:"acceleration"`
	Orientation     Orientation `json:"orientation"`

	// Gyroscope is either a true rotation-rate sample (°/s) or, when
	// GyroscopeDerived is set, the frame-to-frame orientation delta.
	Gyroscope        *Vec3 `json:"gyroscope,omitempty"`
	GyroscopeDerived bool  `json:"gyroscope_derived,omitempty"`

	// Magnetometer is a synthetic proxy projected from the compass heading,
	// not a measured magnetic field. See DeriveMagnetometer.
	Magnetometer *Vec3 `json:"magnetometer,omitempty"`
}

// RotationMagnitude is the gyroscope magnitude, or 0 when no gyroscope
// sample is attached.
func (r SensorReading) RotationMagnitude() float64 {
	if r.Gyroscope == nil {
		return 0
	}
	return r.Gyroscope.Magnitude
}

func valueOr0(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func copyAngle(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
