// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts sessions that entered the countdown.
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_sessions_started_total",
			Help: "Total number of balance test sessions started",
		},
	)

	// SessionsAborted counts sessions that could not reach running or were reset mid-test.
	SessionsAborted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_sessions_aborted_total",
			Help: "Total number of balance test sessions aborted",
		},
		[]string{"reason"},
	)

	// Outcomes counts completed classifications.
	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_outcomes_total",
			Help: "Completed classifications by outcome and source",
		},
		[]string{"outcome", "source"},
	)

	// RemoteFailures counts remote inference calls that fell back to local rules.
	RemoteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_remote_inference_failures_total",
			Help: "Remote inference failures by kind",
		},
		[]string{"kind"},
	)

	// ClassificationLatency covers remote attempt plus local fallback.
	ClassificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "balance_classification_latency_seconds",
			Help:    "Classification latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// ReadingsIngested counts readings appended to session buffers.
	ReadingsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "balance_readings_ingested_total",
			Help: "Total number of fused sensor readings buffered",
		},
	)

	// SinkErrors counts failed result hand-offs per sink.
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_sink_errors_total",
			Help: "Result record delivery failures by sink",
		},
		[]string{"sink"},
	)

	// WebSocketClients is the number of connected live-feed clients.
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "balance_websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)
)
