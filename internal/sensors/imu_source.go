// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/balance_screen/internal/motion"
)

// Scale factors for the power-on ranges (±2g, ±250°/s).
const (
	accelLSBPerG   = 16384.0
	gyroLSBPerDegS = 131.0
)

// rawReader is the part of *mpu9250.MPU9250 the sampler uses.
type rawReader interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
	GetRotationX() (int16, error)
	GetRotationY() (int16, error)
	GetRotationZ() (int16, error)
}

// IMUSource samples an MPU9250 over SPI. It reports linear acceleration
// (gravity removed by a first-order high-pass), the true gyroscope, and
// tilt from the low-passed gravity vector. There is no compass heading.
type IMUSource struct {
	spiDev   string
	csPin    string
	interval time.Duration
	open     func() (rawReader, error)
}

// NewIMUSource creates a source for the MPU9250 on spiDev with chip select csPin.
func NewIMUSource(spiDev, csPin string, interval time.Duration) *IMUSource {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	s := &IMUSource{spiDev: spiDev, csPin: csPin, interval: interval}
	s.open = s.openDevice
	return s
}

func (s *IMUSource) Name() string { return "mpu9250 " + s.spiDev }

func (s *IMUSource) Types() []Type { return []Type{Accelerometer, Orientation, Gyroscope} }

func (s *IMUSource) openDevice() (rawReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(s.csPin)
	if cs == nil {
		return nil, fmt.Errorf("CS pin %q not found", s.csPin)
	}

	tr, err := mpu9250.NewSpiTransport(s.spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("SPI transport (%s): %w", s.spiDev, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("device creation: %w", err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("initialization: %w", err)
	}

	// Calibration
	if err := imu.Calibrate(); err != nil {
		log.Printf("sensors: WARNING: IMU calibration failed: %v", err)
	} else {
		log.Printf("sensors: IMU calibration complete")
	}
	return imu, nil
}

func (s *IMUSource) Start(h Handlers) (func(), error) {
	dev, err := s.open()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		f := newGravityFilter(s.interval)
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				raw, err := readRaw(dev)
				if err != nil {
					log.Printf("sensors: IMU read error: %v", err)
					continue
				}
				emitIMU(h, f, raw, now.UnixMilli())
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

type imuRaw struct {
	ax, ay, az int16
	gx, gy, gz int16
}

func readRaw(r rawReader) (imuRaw, error) {
	var out imuRaw
	reads := []struct {
		name string
		fn   func() (int16, error)
		dst  *int16
	}{
		{"accel X", r.GetAccelerationX, &out.ax},
		{"accel Y", r.GetAccelerationY, &out.ay},
		{"accel Z", r.GetAccelerationZ, &out.az},
		{"gyro X", r.GetRotationX, &out.gx},
		{"gyro Y", r.GetRotationY, &out.gy},
		{"gyro Z", r.GetRotationZ, &out.gz},
	}
	for _, rd := range reads {
		v, err := rd.fn()
		if err != nil {
			return imuRaw{}, fmt.Errorf("IMU %s: %w", rd.name, err)
		}
		*rd.dst = v
	}
	return out, nil
}

// gravityFilter tracks gravity with a low-pass so it can be subtracted.
type gravityFilter struct {
	alpha   float64
	g       [3]float64
	started bool
}

// newGravityFilter uses a 0.5s time constant.
func newGravityFilter(dt time.Duration) *gravityFilter {
	tau := 0.5
	d := dt.Seconds()
	return &gravityFilter{alpha: tau / (tau + d)}
}

func (f *gravityFilter) update(a [3]float64) (linear, gravity [3]float64) {
	if !f.started {
		f.g = a
		f.started = true
	}
	for i := range a {
		f.g[i] = f.alpha*f.g[i] + (1-f.alpha)*a[i]
		linear[i] = a[i] - f.g[i]
	}
	return linear, f.g
}

func emitIMU(h Handlers, f *gravityFilter, raw imuRaw, ts int64) {
	a := [3]float64{
		float64(raw.ax) / accelLSBPerG * motion.StandardGravity,
		float64(raw.ay) / accelLSBPerG * motion.StandardGravity,
		float64(raw.az) / accelLSBPerG * motion.StandardGravity,
	}
	linear, gravity := f.update(a)

	h.acceleration(AccelerationEvent{TimestampMillis: ts, X: linear[0], Y: linear[1], Z: linear[2]})
	h.rotationRate(RotationRateEvent{
		TimestampMillis: ts,
		X:               float64(raw.gx) / gyroLSBPerDegS,
		Y:               float64(raw.gy) / gyroLSBPerDegS,
		Z:               float64(raw.gz) / gyroLSBPerDegS,
	})

	tilt := motion.TiltFromAccel(gravity[0], gravity[1], gravity[2])
	h.orientation(OrientationEvent{TimestampMillis: ts, Beta: tilt.Beta, Gamma: tilt.Gamma})
}
