// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTTopics are the topics a phone bridge publishes motion events on.
type MQTTTopics struct {
	Acceleration string
	Orientation  string
	RotationRate string // optional
}

// MQTTSource subscribes to JSON motion events published by a phone bridge:
//
//	acceleration:  {"t": 1700000000000, "x": 0.01, "y": -0.02, "z": 0.00}
//	orientation:   {"t": 1700000000000, "alpha": 182.5, "beta": 1.2, "gamma": null}
//	rotation rate: {"t": 1700000000000, "alpha": 0.4, "beta": 2.1, "gamma": -0.3}
//
// A missing "t" is stamped with the receive time.
type MQTTSource struct {
	broker   string
	clientID string
	topics   MQTTTopics
}

// NewMQTTSource creates an MQTT-backed source.
func NewMQTTSource(broker, clientID string, topics MQTTTopics) *MQTTSource {
	return &MQTTSource{broker: broker, clientID: clientID, topics: topics}
}

func (s *MQTTSource) Name() string { return "mqtt " + s.broker }

func (s *MQTTSource) Types() []Type {
	types := []Type{Accelerometer, Orientation}
	if s.topics.RotationRate != "" {
		types = append(types, Gyroscope)
	}
	return types
}

type accelerationPayload struct {
	T int64   `json:"t"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type orientationPayload struct {
	T     int64    `json:"t"`
	Alpha *float64 `json:"alpha"`
	Beta  *float64 `json:"beta"`
	Gamma *float64 `json:"gamma"`
}

type rotationRatePayload struct {
	T     int64   `json:"t"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

func stamp(t int64) int64 {
	if t == 0 {
		return time.Now().UnixMilli()
	}
	return t
}

func decodeAcceleration(b []byte) (AccelerationEvent, error) {
	var p accelerationPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return AccelerationEvent{}, err
	}
	return AccelerationEvent{TimestampMillis: stamp(p.T), X: p.X, Y: p.Y, Z: p.Z}, nil
}

func decodeOrientation(b []byte) (OrientationEvent, error) {
	var p orientationPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return OrientationEvent{}, err
	}
	return OrientationEvent{TimestampMillis: stamp(p.T), Alpha: p.Alpha, Beta: p.Beta, Gamma: p.Gamma}, nil
}

// decodeRotationRate maps the phone's alpha/beta/gamma rates onto the
// gyroscope axes used for derived samples.
func decodeRotationRate(b []byte) (RotationRateEvent, error) {
	var p rotationRatePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return RotationRateEvent{}, err
	}
	return RotationRateEvent{TimestampMillis: stamp(p.T), X: p.Beta, Y: p.Gamma, Z: p.Alpha}, nil
}

// dispatch routes one message to the handlers. Bad payloads are logged and
// dropped.
func (s *MQTTSource) dispatch(h Handlers, topic string, payload []byte) {
	var err error
	switch topic {
	case s.topics.Acceleration:
		var e AccelerationEvent
		if e, err = decodeAcceleration(payload); err == nil {
			h.acceleration(e)
		}
	case s.topics.Orientation:
		var e OrientationEvent
		if e, err = decodeOrientation(payload); err == nil {
			h.orientation(e)
		}
	case s.topics.RotationRate:
		var e RotationRateEvent
		if e, err = decodeRotationRate(payload); err == nil {
			h.rotationRate(e)
		}
	default:
		return
	}
	if err != nil {
		log.Printf("sensors: %s unmarshal error: %v", topic, err)
	}
}

func (s *MQTTSource) Start(h Handlers) (func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(s.clientID).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", s.broker, token.Error())
	}
	log.Printf("sensors: connected to MQTT broker at %s", s.broker)

	var stopped atomic.Bool
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if stopped.Load() {
			return
		}
		s.dispatch(h, msg.Topic(), msg.Payload())
	}

	var subscribed []string
	for _, topic := range []string{s.topics.Acceleration, s.topics.Orientation, s.topics.RotationRate} {
		if topic == "" {
			continue
		}
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			client.Disconnect(250)
			return nil, fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		subscribed = append(subscribed, topic)
		log.Printf("sensors: subscribed to %s", topic)
	}

	return func() {
		if stopped.Swap(true) {
			return
		}
		if token := client.Unsubscribe(subscribed...); token.Wait() && token.Error() != nil {
			log.Printf("sensors: unsubscribe error: %v", token.Error())
		}
		client.Disconnect(250)
	}, nil
}
