// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/balance_screen/internal/session"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka appends each record to a topic keyed by user, so one user's
// results stay ordered on a partition.
type Kafka struct {
	writer kafkaMessageWriter
}

// NewKafka creates a writer. No connection is made until the first record.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	if topic == "" {
		return nil, errors.New("no kafka topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Kafka{writer: w}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Deliver(ctx context.Context, rec session.Record) error {
	msg, err := kafkaMessage(rec)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func kafkaMessage(rec session.Record) (kafka.Message, error) {
	value, err := encode(rec)
	if err != nil {
		return kafka.Message{}, err
	}
	key := rec.UserID
	if key == "" {
		key = rec.SessionID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  rec.CompletedAt,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(rec.Result.Outcome)},
			{Key: "source", Value: []byte(rec.Result.Source)},
		},
	}, nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
