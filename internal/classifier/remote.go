// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relabs-tech/balance_screen/internal/metrics"
	"github.com/relabs-tech/balance_screen/internal/motion"
)

// ErrRemoteUnavailable wraps every remote inference failure: transport,
// timeout, non-2xx status, undecodable or schema-invalid body, open breaker.
var ErrRemoteUnavailable = errors.New("remote inference unavailable")

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Request is the body posted to the inference service.
type Request struct {
	UserID             string       `json:"userId"`
	AccelerationSeries [][3]float64 `json:"accelerationSeries"`
	GyroscopeSeries    [][3]float64 `json:"gyroscopeSeries"`
}

// Response is the success body of the inference service.
type Response struct {
	Outcome Outcome `json:"outcome"`
	Details string  `json:"details,omitempty"`
}

// NewRequest builds the raw per-axis series from buffered readings.
// Readings without a gyroscope sample are skipped in the gyroscope series.
func NewRequest(userID string, readings []motion.SensorReading) Request {
	req := Request{
		UserID:             userID,
		AccelerationSeries: make([][3]float64, 0, len(readings)),
		GyroscopeSeries:    make([][3]float64, 0, len(readings)),
	}
	for _, r := range readings {
		a := r.Acceleration
		req.AccelerationSeries = append(req.AccelerationSeries, [3]float64{a.X, a.Y, a.Z})
		if g := r.Gyroscope; g != nil {
			req.GyroscopeSeries = append(req.GyroscopeSeries, [3]float64{g.X, g.Y, g.Z})
		}
	}
	return req
}

// RemoteClient posts sessions to the inference endpoint over HTTP.
type RemoteClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
	breaker *Breaker
}

// NewRemoteClient creates a client with a per-call timeout and a breaker.
func NewRemoteClient(url string, timeout time.Duration, cfg BreakerConfig) *RemoteClient {
	return &RemoteClient{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
		breaker: NewBreaker("remote-inference", cfg),
	}
}

// Infer submits req and validates the response. Every failure wraps
// ErrRemoteUnavailable.
func (c *RemoteClient) Infer(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.post(ctx, req)
		return err
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrBreakerOpen) {
		metrics.RemoteFailures.WithLabelValues("breaker_open").Inc()
		return Response{}, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return Response{}, err
}

func (c *RemoteClient) post(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, c.fail("encode", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, c.fail("request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, c.fail("timeout", err)
		}
		return Response{}, c.fail("transport", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 512))
		return Response{}, c.fail("status", fmt.Errorf("status %d", httpResp.StatusCode))
	}

	var out Response
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes)).Decode(&out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, c.fail("timeout", err)
		}
		return Response{}, c.fail("decode", err)
	}
	if !out.Outcome.Valid() {
		return Response{}, c.fail("schema", fmt.Errorf("unknown outcome %q", out.Outcome))
	}
	return out, nil
}

func (c *RemoteClient) fail(kind string, err error) error {
	metrics.RemoteFailures.WithLabelValues(kind).Inc()
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, kind, err)
}
