// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"github.com/relabs-tech/balance_screen/internal/config"
)

// FromConfig builds the source named by SENSOR_SOURCE. Hardware is not
// touched until the source is started.
func FromConfig(cfg *config.Config) (Source, error) {
	switch cfg.SensorSource {
	case "mock":
		return NewMockSource(MockOptions{}), nil
	case "mqtt":
		return NewMQTTSource(cfg.MQTTBroker, cfg.MQTTClientID+"-sensors", MQTTTopics{
			Acceleration: cfg.TopicAcceleration,
			Orientation:  cfg.TopicOrientation,
			RotationRate: cfg.TopicRotationRate,
		}), nil
	case "nmea":
		return NewNMEASerialSource(cfg.NMEASerialPort, cfg.NMEABaudRate), nil
	case "imu":
		return NewIMUSource(cfg.IMUSPIDevice, cfg.IMUCSPin, 0), nil
	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}
}

// NewAdapterFromConfig is FromConfig wrapped in an Adapter with the
// configured probe window.
func NewAdapterFromConfig(cfg *config.Config) (*Adapter, error) {
	src, err := FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapter(src, cfg.ProbeWindow()), nil
}
