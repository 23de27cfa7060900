// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/relabs-tech/balance_screen/internal/buffer"
	"github.com/relabs-tech/balance_screen/internal/classifier"
)

// ErrInvalidConfiguration is returned for values outside a sane range.
// The application must refuse to start a test when it sees it.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Config holds all application configuration values.
type Config struct {
	// Test timing
	TestDurationSeconds int
	CountdownSeconds    int
	MinReadings         int

	// Classifier thresholds
	Thresholds classifier.Thresholds

	// Per-reading abnormal thresholds
	AccelMagnitudeThreshold    float64
	RotationMagnitudeThreshold float64
	MagneticProxyScale         float64

	// Sensors
	SensorSource          string // mock, mqtt, nmea, imu
	ProbeWindowMS         int
	LiveUpdateIntervalMS  int
	NMEASerialPort        string
	NMEABaudRate          int
	IMUSPIDevice          string
	IMUCSPin              string

	// Remote inference
	RemoteInferenceURL        string
	RemoteTimeoutMS           int
	RemoteBreakerMaxFailures  int
	RemoteBreakerResetSeconds int

	// MQTT
	MQTTBroker        string
	MQTTClientID      string
	TopicAcceleration string
	TopicOrientation  string
	TopicRotationRate string
	TopicResult       string

	// Result sinks
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ResultTTLHours int
	PostgresDSN    string
	KafkaBrokers   []string
	KafkaTopic     string

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds

	// ThresholdProfile is an optional YAML file overriding Thresholds.
	ThresholdProfile string
}

// keys lists every key setValue understands, for environment overrides.
var keys = []string{
	"TEST_DURATION_SECONDS", "COUNTDOWN_SECONDS", "MIN_READINGS",
	"ABNORMAL_PERCENTAGE_THRESHOLD", "ACCEL_VARIABILITY_THRESHOLD", "ROTATION_VARIABILITY_THRESHOLD",
	"MAGNETIC_VARIABILITY_THRESHOLD", "FORCE_ABNORMAL_COUNT",
	"ACCEL_MAGNITUDE_THRESHOLD", "ROTATION_MAGNITUDE_THRESHOLD", "MAGNETIC_PROXY_SCALE",
	"SENSOR_SOURCE", "PROBE_WINDOW_MS", "LIVE_UPDATE_INTERVAL_MS",
	"NMEA_SERIAL_PORT", "NMEA_BAUD_RATE", "IMU_SPI_DEVICE", "IMU_CS_PIN",
	"REMOTE_INFERENCE_URL", "REMOTE_TIMEOUT_MS", "REMOTE_BREAKER_MAX_FAILURES", "REMOTE_BREAKER_RESET_SECONDS",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "TOPIC_ACCELERATION", "TOPIC_ORIENTATION", "TOPIC_ROTATION_RATE", "TOPIC_RESULT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "RESULT_TTL_HOURS", "POSTGRES_DSN", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"WEB_SERVER_PORT", "DISPLAY_I2C_ADDR", "DISPLAY_UPDATE_INTERVAL", "THRESHOLD_PROFILE",
}

// Package-level singleton: InitGlobal sets it once, Get reads it.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		TestDurationSeconds: 15,
		CountdownSeconds:    3,
		MinReadings:         classifier.DefaultMinReadings,

		Thresholds: classifier.DefaultThresholds(),

		AccelMagnitudeThreshold:    0.15,
		RotationMagnitudeThreshold: 10,
		MagneticProxyScale:         100,

		SensorSource:         "mock",
		ProbeWindowMS:        1500,
		LiveUpdateIntervalMS: 100,
		NMEABaudRate:         115200,
		IMUSPIDevice:         "/dev/spidev0.0",
		IMUCSPin:             "8",

		RemoteTimeoutMS:           5000,
		RemoteBreakerMaxFailures:  3,
		RemoteBreakerResetSeconds: 30,

		MQTTClientID:      "balance-screen",
		TopicAcceleration: "balance/sensors/acceleration",
		TopicOrientation:  "balance/sensors/orientation",
		TopicRotationRate: "balance/sensors/rotation_rate",
		TopicResult:       "balance/results",

		ResultTTLHours: 24,
		KafkaTopic:     "balance-results",

		WebServerPort:         8080,
		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 250,
	}
}

// Load builds a Config from defaults, an optional KEY=VALUE file, the
// process environment and an optional threshold profile, in that order.
// configPath may be empty.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		values, err := godotenv.Read(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Sorted for stable error messages.
		names := make([]string, 0, len(values))
		for k := range values {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if err := cfg.setValue(k, values[k]); err != nil {
				return nil, fmt.Errorf("config file %s: %w", configPath, err)
			}
		}
	}

	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			if err := cfg.setValue(k, v); err != nil {
				return nil, fmt.Errorf("environment: %w", err)
			}
		}
	}

	if cfg.ThresholdProfile != "" {
		if err := cfg.applyProfile(cfg.ThresholdProfile); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	value = strings.TrimSpace(value)
	var err error

	switch key {
	// Test timing
	case "TEST_DURATION_SECONDS":
		c.TestDurationSeconds, err = parseInt(key, value)
	case "COUNTDOWN_SECONDS":
		c.CountdownSeconds, err = parseInt(key, value)
	case "MIN_READINGS":
		c.MinReadings, err = parseInt(key, value)

	// Classifier thresholds
	case "ABNORMAL_PERCENTAGE_THRESHOLD":
		c.Thresholds.AbnormalPercentage, err = parseFloat(key, value)
	case "ACCEL_VARIABILITY_THRESHOLD":
		c.Thresholds.AccelVariability, err = parseFloat(key, value)
	case "ROTATION_VARIABILITY_THRESHOLD":
		c.Thresholds.RotationVariability, err = parseFloat(key, value)
	case "MAGNETIC_VARIABILITY_THRESHOLD":
		c.Thresholds.MagneticVariability, err = parseFloat(key, value)
	case "FORCE_ABNORMAL_COUNT":
		c.Thresholds.ForceAbnormalCount, err = parseInt(key, value)

	// Per-reading thresholds
	case "ACCEL_MAGNITUDE_THRESHOLD":
		c.AccelMagnitudeThreshold, err = parseFloat(key, value)
	case "ROTATION_MAGNITUDE_THRESHOLD":
		c.RotationMagnitudeThreshold, err = parseFloat(key, value)
	case "MAGNETIC_PROXY_SCALE":
		c.MagneticProxyScale, err = parseFloat(key, value)

	// Sensors
	case "SENSOR_SOURCE":
		c.SensorSource = strings.ToLower(value)
	case "PROBE_WINDOW_MS":
		c.ProbeWindowMS, err = parseInt(key, value)
	case "LIVE_UPDATE_INTERVAL_MS":
		c.LiveUpdateIntervalMS, err = parseInt(key, value)
	case "NMEA_SERIAL_PORT":
		c.NMEASerialPort = value
	case "NMEA_BAUD_RATE":
		c.NMEABaudRate, err = parseInt(key, value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// Remote inference
	case "REMOTE_INFERENCE_URL":
		c.RemoteInferenceURL = value
	case "REMOTE_TIMEOUT_MS":
		c.RemoteTimeoutMS, err = parseInt(key, value)
	case "REMOTE_BREAKER_MAX_FAILURES":
		c.RemoteBreakerMaxFailures, err = parseInt(key, value)
	case "REMOTE_BREAKER_RESET_SECONDS":
		c.RemoteBreakerResetSeconds, err = parseInt(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_ACCELERATION":
		c.TopicAcceleration = value
	case "TOPIC_ORIENTATION":
		c.TopicOrientation = value
	case "TOPIC_ROTATION_RATE":
		c.TopicRotationRate = value
	case "TOPIC_RESULT":
		c.TopicResult = value

	// Result sinks
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_PASSWORD":
		c.RedisPassword = value
	case "REDIS_DB":
		c.RedisDB, err = parseInt(key, value)
	case "RESULT_TTL_HOURS":
		c.ResultTTLHours, err = parseInt(key, value)
	case "POSTGRES_DSN":
		c.PostgresDSN = value
	case "KAFKA_BROKERS":
		c.KafkaBrokers = nil
		for _, b := range strings.Split(value, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	case "KAFKA_TOPIC":
		c.KafkaTopic = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, perr)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	case "THRESHOLD_PROFILE":
		c.ThresholdProfile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks ranges. Every failure wraps ErrInvalidConfiguration.
func (c *Config) validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.TestDurationSeconds >= 1 && c.TestDurationSeconds <= 600, "TEST_DURATION_SECONDS must be 1-600, got %d", c.TestDurationSeconds)
	check(c.CountdownSeconds >= 0 && c.CountdownSeconds <= 60, "COUNTDOWN_SECONDS must be 0-60, got %d", c.CountdownSeconds)
	check(c.MinReadings >= 1, "MIN_READINGS must be >= 1, got %d", c.MinReadings)

	check(c.Thresholds.AbnormalPercentage >= 0, "ABNORMAL_PERCENTAGE_THRESHOLD must be >= 0, got %g", c.Thresholds.AbnormalPercentage)
	check(c.Thresholds.AccelVariability > 0, "ACCEL_VARIABILITY_THRESHOLD must be > 0, got %g", c.Thresholds.AccelVariability)
	check(c.Thresholds.RotationVariability > 0, "ROTATION_VARIABILITY_THRESHOLD must be > 0, got %g", c.Thresholds.RotationVariability)
	check(c.Thresholds.MagneticVariability > 0, "MAGNETIC_VARIABILITY_THRESHOLD must be > 0, got %g", c.Thresholds.MagneticVariability)
	check(c.Thresholds.ForceAbnormalCount >= 0, "FORCE_ABNORMAL_COUNT must be >= 0, got %d", c.Thresholds.ForceAbnormalCount)

	check(c.AccelMagnitudeThreshold > 0, "ACCEL_MAGNITUDE_THRESHOLD must be > 0, got %g", c.AccelMagnitudeThreshold)
	check(c.RotationMagnitudeThreshold > 0, "ROTATION_MAGNITUDE_THRESHOLD must be > 0, got %g", c.RotationMagnitudeThreshold)
	check(c.MagneticProxyScale > 0, "MAGNETIC_PROXY_SCALE must be > 0, got %g", c.MagneticProxyScale)

	check(c.ProbeWindowMS > 0, "PROBE_WINDOW_MS must be > 0, got %d", c.ProbeWindowMS)
	check(c.LiveUpdateIntervalMS >= 0, "LIVE_UPDATE_INTERVAL_MS must be >= 0, got %d", c.LiveUpdateIntervalMS)

	switch c.SensorSource {
	case "mock":
	case "mqtt":
		check(c.MQTTBroker != "", "MQTT_BROKER is required for SENSOR_SOURCE=mqtt")
	case "nmea":
		check(c.NMEASerialPort != "", "NMEA_SERIAL_PORT is required for SENSOR_SOURCE=nmea")
		check(c.NMEABaudRate > 0, "NMEA_BAUD_RATE must be > 0, got %d", c.NMEABaudRate)
	case "imu":
		check(c.IMUSPIDevice != "", "IMU_SPI_DEVICE is required for SENSOR_SOURCE=imu")
	default:
		check(false, "SENSOR_SOURCE must be mock, mqtt, nmea or imu, got %q", c.SensorSource)
	}

	if c.RemoteInferenceURL != "" {
		check(c.RemoteTimeoutMS > 0, "REMOTE_TIMEOUT_MS must be > 0 when REMOTE_INFERENCE_URL is set, got %d", c.RemoteTimeoutMS)
	}
	check(c.RemoteBreakerMaxFailures >= 0, "REMOTE_BREAKER_MAX_FAILURES must be >= 0, got %d", c.RemoteBreakerMaxFailures)
	check(c.RemoteBreakerResetSeconds >= 0, "REMOTE_BREAKER_RESET_SECONDS must be >= 0, got %d", c.RemoteBreakerResetSeconds)
	check(c.ResultTTLHours >= 0, "RESULT_TTL_HOURS must be >= 0, got %d", c.ResultTTLHours)
	check(c.WebServerPort > 0 && c.WebServerPort <= 65535, "WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// TestDuration as a time.Duration.
func (c *Config) TestDuration() time.Duration {
	return time.Duration(c.TestDurationSeconds) * time.Second
}

// ProbeWindow as a time.Duration.
func (c *Config) ProbeWindow() time.Duration {
	return time.Duration(c.ProbeWindowMS) * time.Millisecond
}

// LiveUpdateInterval as a time.Duration.
func (c *Config) LiveUpdateInterval() time.Duration {
	return time.Duration(c.LiveUpdateIntervalMS) * time.Millisecond
}

// RemoteTimeout as a time.Duration.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutMS) * time.Millisecond
}

// ResultTTL as a time.Duration.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLHours) * time.Hour
}

// BreakerConfig for the remote inference client.
func (c *Config) BreakerConfig() classifier.BreakerConfig {
	return classifier.BreakerConfig{
		MaxFailures:  c.RemoteBreakerMaxFailures,
		ResetTimeout: time.Duration(c.RemoteBreakerResetSeconds) * time.Second,
	}
}

// BufferThresholds for the per-reading abnormal check.
func (c *Config) BufferThresholds() buffer.Thresholds {
	return buffer.Thresholds{
		AccelMagnitude:    c.AccelMagnitudeThreshold,
		RotationMagnitude: c.RotationMagnitudeThreshold,
		MagneticScale:     c.MagneticProxyScale,
	}
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// DefaultFile is read when BALANCE_CONFIG is unset and the file exists.
const DefaultFile = "balance_config.env"

// Path returns the config file to load: $BALANCE_CONFIG if set, else
// DefaultFile if present, else "" (defaults and environment only).
func Path() string {
	if p := os.Getenv("BALANCE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	return ""
}

// InitGlobal initializes the global configuration. Only the first call
// loads; later calls return the first call's error.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
