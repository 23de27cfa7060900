// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package features

import (
	"math"

	"github.com/relabs-tech/balance_screen/internal/motion"
)

// Features are the scalar inputs of the local classifier.
type Features struct {
	AbnormalPercentage      float64 `json:"abnormal_percentage"`
	AccelerationVariability float64 `json:"acceleration_variability"`
	RotationVariability     float64 `json:"rotation_variability"`
	MagneticVariability     float64 `json:"magnetic_variability"`

	TotalCount    int `json:"total_count"`
	AbnormalCount int `json:"abnormal_count"`
}

// Extract computes features from a completed reading sequence.
//
// Rotation variability pools orientation magnitudes with gyroscope
// magnitudes. Readings without any orientation angle stay out of the pool. Magnetic variability only covers readings that carry the
// magnetometer proxy. abnormalPercentage is left at 0 when total is 0;
// callers treat that case as inconclusive before getting here.
// The percentage can exceed 100 because abnormal samples are weighted.
func Extract(readings []motion.SensorReading, total, abnormal int) Features {
	accel := make([]float64, 0, len(readings))
	rotation := make([]float64, 0, 2*len(readings))
	gyro := make([]float64, 0, len(readings))
	magnetic := make([]float64, 0, len(readings))

	for _, r := range readings {
		accel = append(accel, r.Acceleration.Magnitude)
		if r.Orientation.HasAny() {
			rotation = append(rotation, r.Orientation.Magnitude)
		}
		if r.Gyroscope != nil {
			gyro = append(gyro, r.Gyroscope.Magnitude)
		}
		if r.Magnetometer != nil {
			magnetic = append(magnetic, r.Magnetometer.Magnitude)
		}
	}
	rotation = append(rotation, gyro...)

	f := Features{
		AccelerationVariability: StandardDeviation(accel),
		RotationVariability:     StandardDeviation(rotation),
		MagneticVariability:     StandardDeviation(magnetic),
		TotalCount:              total,
		AbnormalCount:           abnormal,
	}
	if total > 0 {
		f.AbnormalPercentage = 100 * float64(abnormal) / float64(total)
	}
	return f
}

// StandardDeviation is the population standard deviation; 0 for no values.
func StandardDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	// Constant input is exactly 0; the mean below can pick up rounding.
	constant := true
	for _, v := range values[1:] {
		if v != values[0] {
			constant = false
			break
		}
	}
	if constant {
		return 0
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}
