// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package classifier turns a completed balance test into a tri-state
// outcome. A remote model is tried first when the user is known; any
// failure falls back to local threshold rules.
package classifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/balance_screen/internal/features"
	"github.com/relabs-tech/balance_screen/internal/metrics"
	"github.com/relabs-tech/balance_screen/internal/motion"
)

// Outcome of a balance test.
type Outcome string

const (
	Normal       Outcome = "normal"
	Abnormal     Outcome = "abnormal"
	Inconclusive Outcome = "inconclusive"
)

// Valid reports whether o is one of the three known outcomes.
func (o Outcome) Valid() bool {
	return o == Normal || o == Abnormal || o == Inconclusive
}

// Source tells which path produced a result.
type Source string

const (
	SourceRemote        Source = "remote"
	SourceLocalFallback Source = "local_fallback"
)

// ReasonInsufficientData marks an inconclusive result caused by too few
// readings, as opposed to a clinical finding.
const ReasonInsufficientData = "insufficient_data"

// Metrics are the features reported alongside an outcome.
type Metrics struct {
	AbnormalPercentage      float64 `json:"abnormal_percentage"`
	AccelerationVariability float64 `json:"acceleration_variability"`
	RotationVariability     float64 `json:"rotation_variability"`
	MagneticVariability     float64 `json:"magnetic_variability"`
}

// Result is the classification of one session.
type Result struct {
	Outcome     Outcome  `json:"outcome"`
	Explanation []string `json:"explanation"`
	Metrics     Metrics  `json:"metrics"`
	Source      Source   `json:"source"`
	Reason      string   `json:"reason,omitempty"`
}

// Input is read-only session data handed to a Strategy.
type Input struct {
	UserID        string
	Readings      []motion.SensorReading
	TotalCount    int
	AbnormalCount int
}

// Strategy classifies a session. Implementations must always return a
// well-formed Result.
type Strategy interface {
	Classify(ctx context.Context, in Input) Result
}

// Remote is a remote inference service.
type Remote interface {
	Infer(ctx context.Context, req Request) (Response, error)
}

// Classifier is the default Strategy: sufficiency check, remote attempt,
// local rules.
type Classifier struct {
	local       Local
	minReadings int
	remote      Remote
}

// DefaultMinReadings is the minimum number of readings for a conclusive result.
const DefaultMinReadings = 5

// New builds a Classifier. remote may be nil to disable the remote path.
func New(th Thresholds, minReadings int, remote Remote) *Classifier {
	if minReadings <= 0 {
		minReadings = DefaultMinReadings
	}
	return &Classifier{local: Local{Thresholds: th}, minReadings: minReadings, remote: remote}
}

// Classify never fails: insufficient data yields Inconclusive, remote
// errors fall back to the local rules.
func (c *Classifier) Classify(ctx context.Context, in Input) Result {
	start := time.Now()
	res := c.classify(ctx, in)
	metrics.ClassificationLatency.Observe(time.Since(start).Seconds())
	metrics.Outcomes.WithLabelValues(string(res.Outcome), string(res.Source)).Inc()
	return res
}

func (c *Classifier) classify(ctx context.Context, in Input) Result {
	if in.TotalCount < c.minReadings {
		return Result{
			Outcome: Inconclusive,
			Explanation: []string{
				fmt.Sprintf("insufficient data collected: %d readings, at least %d required", in.TotalCount, c.minReadings),
			},
			Source: SourceLocalFallback,
			Reason: ReasonInsufficientData,
		}
	}

	f := features.Extract(in.Readings, in.TotalCount, in.AbnormalCount)

	if c.remote != nil && in.UserID != "" && len(in.Readings) > 0 {
		res, err := c.tryRemote(ctx, in)
		if err == nil {
			res.Metrics = metricsFrom(f)
			return res
		}
		log.Printf("classifier: remote inference failed, using local rules: %v", err)
	}

	return c.local.Classify(f)
}

// tryRemote recovers from panics in the remote path so nothing escapes to
// the session controller.
func (c *Classifier) tryRemote(ctx context.Context, in Input) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RemoteFailures.WithLabelValues("panic").Inc()
			err = fmt.Errorf("%w: panic: %v", ErrRemoteUnavailable, r)
		}
	}()

	resp, err := c.remote.Infer(ctx, NewRequest(in.UserID, in.Readings))
	if err != nil {
		return Result{}, err
	}

	explanation := []string{fmt.Sprintf("remote model outcome: %s", resp.Outcome)}
	if resp.Details != "" {
		explanation = append(explanation, resp.Details)
	}
	return Result{
		Outcome:     resp.Outcome,
		Explanation: explanation,
		Source:      SourceRemote,
	}, nil
}

func metricsFrom(f features.Features) Metrics {
	return Metrics{
		AbnormalPercentage:      f.AbnormalPercentage,
		AccelerationVariability: f.AccelerationVariability,
		RotationVariability:     f.RotationVariability,
		MagneticVariability:     f.MagneticVariability,
	}
}
