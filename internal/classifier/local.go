// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package classifier

import (
	"fmt"

	"github.com/relabs-tech/balance_screen/internal/features"
)

// Thresholds for the local rules. Any single rule firing makes the outcome
// Abnormal.
type Thresholds struct {
	AbnormalPercentage  float64 `yaml:"abnormal_percentage"`  // %
	AccelVariability    float64 `yaml:"accel_variability"`    // m/s²
	RotationVariability float64 `yaml:"rotation_variability"` // °/s
	MagneticVariability float64 `yaml:"magnetic_variability"` // proxy units
	ForceAbnormalCount  int     `yaml:"force_abnormal_count"` // weighted samples
}

// DefaultThresholds returns the stock sensitivity.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AbnormalPercentage:  2,
		AccelVariability:    0.3,
		RotationVariability: 3,
		MagneticVariability: 10,
		ForceAbnormalCount:  3,
	}
}

// Local applies the threshold rules to extracted features.
type Local struct {
	Thresholds Thresholds
}

// Classify lists every rule that fired, in a fixed order, with the measured
// value. The abnormal-count rule stands on its own so a short burst of
// extreme motion is not averaged away by otherwise calm variability.
func (l Local) Classify(f features.Features) Result {
	th := l.Thresholds
	var fired []string

	if f.AbnormalPercentage > th.AbnormalPercentage {
		fired = append(fired, fmt.Sprintf("abnormal readings %.2f%% exceed %.2f%%", f.AbnormalPercentage, th.AbnormalPercentage))
	}
	if f.AccelerationVariability > th.AccelVariability {
		fired = append(fired, fmt.Sprintf("acceleration variability %.3f m/s² exceeds %.3f m/s²", f.AccelerationVariability, th.AccelVariability))
	}
	if f.RotationVariability > th.RotationVariability {
		fired = append(fired, fmt.Sprintf("rotation variability %.3f °/s exceeds %.3f °/s", f.RotationVariability, th.RotationVariability))
	}
	if f.MagneticVariability > th.MagneticVariability {
		fired = append(fired, fmt.Sprintf("heading proxy variability %.3f exceeds %.3f", f.MagneticVariability, th.MagneticVariability))
	}
	if f.AbnormalCount > th.ForceAbnormalCount {
		fired = append(fired, fmt.Sprintf("weighted abnormal sample count %d exceeds %d", f.AbnormalCount, th.ForceAbnormalCount))
	}

	res := Result{
		Outcome:     Normal,
		Explanation: []string{"all measures within normal limits"},
		Metrics:     metricsFrom(f),
		Source:      SourceLocalFallback,
	}
	if len(fired) > 0 {
		res.Outcome = Abnormal
		res.Explanation = fired
	}
	return res
}
