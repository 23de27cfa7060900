// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/balance_screen/internal/classifier"
)

// Profile is a named sensitivity preset loaded from YAML, e.g.
//
//	name: elderly
//	thresholds:
//	  abnormal_percentage: 3
//	  rotation_variability: 4
//	reading:
//	  accel_magnitude: 0.2
//
// Keys left out keep their current value.
type Profile struct {
	Name       string                `yaml:"name"`
	Thresholds classifier.Thresholds `yaml:"thresholds"`
	Reading    struct {
		AccelMagnitude    float64 `yaml:"accel_magnitude"`
		RotationMagnitude float64 `yaml:"rotation_magnitude"`
		MagneticScale     float64 `yaml:"magnetic_scale"`
	} `yaml:"reading"`
}

// LoadProfile reads a profile, seeding it from base so absent keys are kept.
func LoadProfile(path string, base *Config) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read threshold profile: %w", err)
	}
	p := &Profile{Thresholds: base.Thresholds}
	p.Reading.AccelMagnitude = base.AccelMagnitudeThreshold
	p.Reading.RotationMagnitude = base.RotationMagnitudeThreshold
	p.Reading.MagneticScale = base.MagneticProxyScale
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse threshold profile: %w", err)
	}
	return p, nil
}

func (c *Config) applyProfile(path string) error {
	p, err := LoadProfile(path, c)
	if err != nil {
		return err
	}
	c.Thresholds = p.Thresholds
	c.AccelMagnitudeThreshold = p.Reading.AccelMagnitude
	c.RotationMagnitudeThreshold = p.Reading.RotationMagnitude
	c.MagneticProxyScale = p.Reading.MagneticScale
	return nil
}
