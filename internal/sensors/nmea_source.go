// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/balance_screen/internal/motion"
)

// NMEASource reads a wearable IMU that speaks NMEA 0183 over serial:
//
//	$IIXDR,A,1.2,D,PITCH,A,-0.4,D,ROLL*hh           tilt in degrees
//	$IIXDR,G,0.01,G,ACCX,G,0.00,G,ACCY,G,0.02,G,ACCZ*hh  acceleration
//	$IIHDT,182.5,T*hh                               heading
//
// Acceleration in unit "G" is converted from g to m/s²; any other unit is
// taken as m/s². Heading, pitch and roll are merged into one orientation
// and emitted whenever any of them changes.
type NMEASource struct {
	name string
	open func() (io.ReadCloser, error)
}

// NewNMEASerialSource opens portName at baud when started.
func NewNMEASerialSource(portName string, baud int) *NMEASource {
	return &NMEASource{
		name: "nmea " + portName,
		open: func() (io.ReadCloser, error) {
			return serial.Open(serial.OpenOptions{
				PortName:              portName,
				BaudRate:              uint(baud),
				DataBits:              8,
				StopBits:              1,
				MinimumReadSize:       1,
				ParityMode:            serial.PARITY_NONE,
				InterCharacterTimeout: 0,
			})
		},
	}
}

// NewNMEAReaderSource reads sentences from whatever open returns.
func NewNMEAReaderSource(name string, open func() (io.ReadCloser, error)) *NMEASource {
	return &NMEASource{name: name, open: open}
}

func (s *NMEASource) Name() string { return s.name }

func (s *NMEASource) Types() []Type { return []Type{Accelerometer, Orientation} }

func (s *NMEASource) Start(h Handlers) (func(), error) {
	port, err := s.open()
	if err != nil {
		return nil, err
	}
	log.Printf("sensors: %s opened", s.name)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(port, h, done)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			port.Close() // unblocks the pending read
			wg.Wait()
		})
	}, nil
}

func (s *NMEASource) readLoop(r io.Reader, h Handlers, done <-chan struct{}) {
	var st nmeaState
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		select {
		case <-done:
			return
		default:
		}
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "$") {
			st.handle(line, time.Now().UnixMilli(), h)
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("sensors: %s read error: %v", s.name, err)
			}
			return
		}
	}
}

// nmeaState accumulates orientation parts across sentences.
type nmeaState struct {
	alpha, beta, gamma *float64
}

func (st *nmeaState) handle(line string, ts int64, h Handlers) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		// partial sentences are common right after the port opens
		return
	}

	switch sentence.DataType() {
	case nmea.TypeXDR:
		m := sentence.(nmea.XDR)
		var acc [3]float64
		var haveAcc [3]bool
		orientationChanged := false
		for _, x := range m.Measurements {
			v := x.Value
			name := strings.ToUpper(x.TransducerName)
			switch name {
			case "PITCH":
				st.beta = &v
				orientationChanged = true
			case "ROLL":
				st.gamma = &v
				orientationChanged = true
			case "ACCX", "ACCY", "ACCZ":
				if x.Unit == "G" {
					v *= motion.StandardGravity
				}
				i := int(name[3] - 'X')
				acc[i], haveAcc[i] = v, true
			}
		}
		if haveAcc[0] || haveAcc[1] || haveAcc[2] {
			h.acceleration(AccelerationEvent{TimestampMillis: ts, X: acc[0], Y: acc[1], Z: acc[2]})
		}
		if orientationChanged {
			st.emit(ts, h)
		}

	case nmea.TypeHDT:
		m := sentence.(nmea.HDT)
		heading := m.Heading
		st.alpha = &heading
		st.emit(ts, h)

	default:
		// other talkers on the same line (GPS and so on) are ignored
	}
}

func (st *nmeaState) emit(ts int64, h Handlers) {
	h.orientation(OrientationEvent{
		TimestampMillis: ts,
		Alpha:           copyFloat(st.alpha),
		Beta:            copyFloat(st.beta),
		Gamma:           copyFloat(st.gamma),
	})
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
