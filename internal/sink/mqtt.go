// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/balance_screen/internal/session"
)

// MQTT publishes each record as retained JSON on one topic.
type MQTT struct {
	client mqtt.Client
	topic  string
}

// NewMQTT connects to broker.
func NewMQTT(broker, clientID, topic string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, token.Error())
	}
	log.Printf("sink: connected to MQTT broker at %s", broker)
	return &MQTT{client: client, topic: topic}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Deliver(ctx context.Context, rec session.Record) error {
	payload, err := encode(rec)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, 1, true, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
