// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"time"

	"github.com/relabs-tech/balance_screen/internal/buffer"
	"github.com/relabs-tech/balance_screen/internal/classifier"
	"github.com/relabs-tech/balance_screen/internal/motion"
)

// State of a test session.
type State string

const (
	Idle         State = "idle"
	Instructions State = "instructions"
	Countdown    State = "countdown"
	Running      State = "running"
	Processing   State = "processing"
	Completed    State = "completed"
)

// Record is the outcome of one completed session, handed outward by value.
type Record struct {
	SessionID        string                 `json:"session_id"`
	UserID           string                 `json:"user_id,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	CompletedAt      time.Time              `json:"completed_at"`
	DurationSeconds  int                    `json:"duration_seconds"`
	TotalReadings    int                    `json:"total_readings"`
	AbnormalReadings int                    `json:"abnormal_readings"`
	Result           classifier.Result      `json:"result"`
	Readings         []motion.SensorReading `json:"readings"`
}

// Sink receives completed records.
type Sink interface {
	Deliver(ctx context.Context, rec Record) error
}

// EventType names a notification kind.
type EventType string

const (
	EventState              EventType = "state"
	EventTick               EventType = "tick"
	EventLive               EventType = "live"
	EventCompleted          EventType = "completed"
	EventSensorsUnavailable EventType = "sensors_unavailable"
)

// Event is a notification for the UI layer.
type Event struct {
	Type             EventType    `json:"type"`
	SessionID        string       `json:"session_id,omitempty"`
	State            State        `json:"state"`
	RemainingSeconds int          `json:"remaining_seconds"`
	Live             *buffer.Live `json:"live,omitempty"`
	Record           *Record      `json:"record,omitempty"`
	Warning          string       `json:"warning,omitempty"`
}

// Listener is called for every event, in order. It must not call back into
// the Controller synchronously.
type Listener func(Event)

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	SessionID        string             `json:"session_id,omitempty"`
	State            State              `json:"state"`
	Acknowledged     bool               `json:"instructions_acknowledged"`
	DurationSeconds  int                `json:"duration_seconds"`
	RemainingSeconds int                `json:"remaining_seconds"`
	TotalReadings    int                `json:"total_readings"`
	AbnormalReadings int                `json:"abnormal_readings"`
	Live             buffer.Live        `json:"live"`
	Warning          string             `json:"warning,omitempty"`
	Result           *classifier.Result `json:"result,omitempty"`
}
