// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/relabs-tech/balance_screen/internal/session"
)

// ConsoleOptions controls RunConsole.
type ConsoleOptions struct {
	UserID string
	Live   bool // print throttled live values while running
	Out    io.Writer
}

// RunConsole runs one full session on ctrl and prints its progress. It
// returns the completed record, or an error if the session could not start
// or ctx ended first (the session is then reset).
func RunConsole(ctx context.Context, ctrl *session.Controller, opts ConsoleOptions) (session.Record, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	events := make(chan session.Event, 256)
	done := make(chan session.Record, 1)
	ctrl.AddListener(func(e session.Event) {
		if e.Type == session.EventCompleted && e.Record != nil {
			select {
			case done <- *e.Record:
			default:
			}
			return
		}
		select {
		case events <- e:
		default:
		}
	})

	if err := ctrl.AcknowledgeInstructions(); err != nil {
		return session.Record{}, err
	}
	if err := ctrl.Start(ctx, opts.UserID); err != nil {
		return session.Record{}, err
	}

	for {
		select {
		case <-ctx.Done():
			ctrl.Reset()
			return session.Record{}, ctx.Err()
		case e := <-events:
			printEvent(out, e, opts.Live)
		case rec := <-done:
			for drained := false; !drained; {
				select {
				case e := <-events:
					printEvent(out, e, opts.Live)
				default:
					drained = true
				}
			}
			PrintRecord(out, rec)
			return rec, nil
		}
	}
}

func printEvent(out io.Writer, e session.Event, live bool) {
	switch e.Type {
	case session.EventState:
		fmt.Fprintf(out, "[STATE] %s\n", e.State)
	case session.EventTick:
		fmt.Fprintf(out, "[%s] %ds\n", strings.ToUpper(string(e.State)), e.RemainingSeconds)
	case session.EventLive:
		if live && e.Live != nil {
			a, g := e.Live.Acceleration, e.Live.Gyroscope
			fmt.Fprintf(out, "[LIVE] |a|=%6.3f  |g|=%7.2f  ax=%6.3f ay=%6.3f az=%6.3f\n",
				a.Magnitude, g.Magnitude, a.X, a.Y, a.Z)
		}
	case session.EventSensorsUnavailable:
		fmt.Fprintf(out, "[WARN] %s\n", e.Warning)
	}
}

// PrintRecord writes a human summary of rec.
func PrintRecord(out io.Writer, rec session.Record) {
	r := rec.Result
	fmt.Fprintf(out, "session   %s\n", rec.SessionID)
	if rec.UserID != "" {
		fmt.Fprintf(out, "user      %s\n", rec.UserID)
	}
	fmt.Fprintf(out, "outcome   %s (%s)\n", r.Outcome, r.Source)
	fmt.Fprintf(out, "readings  %d total, %d abnormal (%.1f%%)\n",
		rec.TotalReadings, rec.AbnormalReadings, r.Metrics.AbnormalPercentage)
	fmt.Fprintf(out, "variab.   accel=%.4f rot=%.4f mag=%.4f\n",
		r.Metrics.AccelerationVariability, r.Metrics.RotationVariability, r.Metrics.MagneticVariability)
	for _, line := range r.Explanation {
		fmt.Fprintf(out, "  - %s\n", line)
	}
}

// PrintProbe runs a sensor probe and prints what was seen.
func PrintProbe(ctx context.Context, p Prober, out io.Writer) bool {
	res := p.Probe(ctx)
	fmt.Fprintf(out, "available %v\n", res.Available)
	types := make([]string, 0, len(res.SensorTypes))
	for _, t := range res.SensorTypes {
		types = append(types, string(t))
	}
	fmt.Fprintf(out, "sensors   %s\n", strings.Join(types, ", "))
	if res.Warning != "" {
		fmt.Fprintf(out, "warning   %s\n", res.Warning)
	}
	return res.Available
}
