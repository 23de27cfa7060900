// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import "math"

// DefaultMagneticScale is the projection radius used for the magnetometer
// proxy. It has no physical calibration behind it.
const DefaultMagneticScale = 100.0

// StandardGravity in m/s².
const StandardGravity = 9.80665

// DeriveGyroscope approximates a rotation rate from two consecutive
// orientation samples when no gyroscope is fitted:
//
//	x = |Δbeta|, y = |Δgamma|, z = |Δalpha|
//
// An axis whose angle is missing from either sample contributes 0.
func DeriveGyroscope(prev, cur Orientation) Vec3 {
	return NewVec3(
		angleDelta(prev.Beta, cur.Beta),
		angleDelta(prev.Gamma, cur.Gamma),
		angleDelta(prev.Alpha, cur.Alpha),
	)
}

// DeriveMagnetometer projects the compass heading onto a circle of radius
// scale, with z taken from half the beta tilt. This is a geometric proxy
// for heading stability, not a magnetic-field reading, and values are not
// comparable across devices. ok is false when alpha is absent.
func DeriveMagnetometer(o Orientation, scale float64) (v Vec3, ok bool) {
	if o.Alpha == nil {
		return Vec3{}, false
	}
	rad := *o.Alpha * math.Pi / 180.0
	return NewVec3(
		math.Cos(rad)*scale,
		math.Sin(rad)*scale,
		valueOr0(o.Beta)*0.5,
	), true
}

// TiltFromAccel computes beta (pitch) and gamma (roll) in degrees from an
// accelerometer vector in any unit. Heading cannot be recovered from the
// accelerometer, so alpha is left absent.
//
//	gamma = atan2(ay, az)
//	beta  = atan2(-ax, sqrt(ay² + az²))
func TiltFromAccel(ax, ay, az float64) Orientation {
	gammaRad := math.Atan2(ay, az)
	betaRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	beta := betaRad * 180.0 / math.Pi
	gamma := gammaRad * 180.0 / math.Pi
	return NewOrientation(nil, &beta, &gamma)
}

func angleDelta(prev, cur *float64) float64 {
	if prev == nil || cur == nil {
		return 0
	}
	return math.Abs(*cur - *prev)
}
