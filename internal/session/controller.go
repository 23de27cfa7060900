// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session runs the timed balance test:
//
//	idle -> instructions -> countdown -> running -> processing -> completed
//
// and back to idle on reset. At most one phase ticker and one sensor
// subscription exist at a time, and both are released on every way out of
// the phase that owns them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/balance_screen/internal/buffer"
	"github.com/relabs-tech/balance_screen/internal/classifier"
	"github.com/relabs-tech/balance_screen/internal/config"
	"github.com/relabs-tech/balance_screen/internal/metrics"
	"github.com/relabs-tech/balance_screen/internal/motion"
	"github.com/relabs-tech/balance_screen/internal/sensors"
)

var (
	// ErrInstructionsNotAcknowledged is returned by Start before AcknowledgeInstructions.
	ErrInstructionsNotAcknowledged = errors.New("instructions not acknowledged")
	// ErrInvalidState is returned when an action does not apply to the current state.
	ErrInvalidState = errors.New("invalid state for this action")
)

// SensorAdapter is the part of *sensors.Adapter the controller needs.
type SensorAdapter interface {
	Probe(ctx context.Context) sensors.ProbeResult
	Subscribe(h sensors.Handlers) (*sensors.Subscription, error)
}

// Ticker is a stoppable source of ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// Options configure a Controller.
type Options struct {
	DurationSeconds  int
	CountdownSeconds int
	LiveInterval     time.Duration
	Thresholds       buffer.Thresholds

	Sink        Sink          // optional
	SinkTimeout time.Duration // default 10s

	TickInterval time.Duration // default 1s; one tick is one second of test time
	NewTicker    TickerFactory
	Now          func() time.Time
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DurationSeconds:  cfg.TestDurationSeconds,
		CountdownSeconds: cfg.CountdownSeconds,
		LiveInterval:     cfg.LiveUpdateInterval(),
		Thresholds:       cfg.BufferThresholds(),
	}
}

// Controller owns one test session at a time.
type Controller struct {
	opts     Options
	sensors  SensorAdapter
	strategy classifier.Strategy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	emitMu    sync.Mutex
	listeners []Listener

	mu      sync.Mutex
	pending []Event

	state        State
	acknowledged bool
	closed       bool
	starting     bool
	remaining    int
	warning      string

	gen        uint64 // bumped on reset; stale callbacks compare against it
	tickerID   uint64
	ticker     Ticker
	tickerStop chan struct{}
	sub        *sensors.Subscription

	buf               *buffer.Buffer
	latestOrientation motion.Orientation
	latestGyro        *motion.Vec3
	lastLive          time.Time

	sessionID string
	userID    string
	startedAt time.Time
	last      *Record
}

// New creates a Controller in Idle. Out-of-range timing is rejected with
// config.ErrInvalidConfiguration.
func New(opts Options, adapter SensorAdapter, strategy classifier.Strategy) (*Controller, error) {
	if opts.DurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: test duration must be positive, got %d", config.ErrInvalidConfiguration, opts.DurationSeconds)
	}
	if opts.CountdownSeconds < 0 {
		return nil, fmt.Errorf("%w: countdown must not be negative, got %d", config.ErrInvalidConfiguration, opts.CountdownSeconds)
	}
	if adapter == nil || strategy == nil {
		return nil, errors.New("session: sensor adapter and strategy are required")
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 10 * time.Second
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.NewTicker == nil {
		opts.NewTicker = newRealTicker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:     opts,
		sensors:  adapter,
		strategy: strategy,
		ctx:      ctx,
		cancel:   cancel,
		state:    Idle,
		buf:      buffer.New(opts.Thresholds),
	}, nil
}

// AddListener registers l for all future events.
func (c *Controller) AddListener(l Listener) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// AcknowledgeInstructions moves Idle to Instructions and unlocks Start.
func (c *Controller) AcknowledgeInstructions() error {
	c.mu.Lock()
	if c.closed || (c.state != Idle && c.state != Instructions) {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: acknowledge in %s", ErrInvalidState, state)
	}
	c.acknowledged = true
	c.warning = ""
	c.setState(Instructions)
	c.mu.Unlock()
	c.flush()
	return nil
}

// Start probes the sensors and enters the countdown. With a zero countdown
// it goes straight to Running. If the sensors are unavailable the session
// stays in Instructions and the error wraps sensors.ErrSensorUnavailable.
func (c *Controller) Start(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.closed || c.starting || c.state != Instructions {
		state, closed := c.state, c.closed
		c.mu.Unlock()
		if state == Idle && !closed {
			return ErrInstructionsNotAcknowledged
		}
		return fmt.Errorf("%w: start in %s", ErrInvalidState, state)
	}
	if !c.acknowledged {
		c.mu.Unlock()
		return ErrInstructionsNotAcknowledged
	}
	c.starting = true
	gen := c.gen
	c.mu.Unlock()

	probe := c.sensors.Probe(ctx)

	c.mu.Lock()
	c.starting = false
	if c.gen != gen || c.state != Instructions {
		c.mu.Unlock()
		return fmt.Errorf("%w: session reset during start", ErrInvalidState)
	}
	if !probe.Available {
		c.warning = probe.Warning
		c.queue(Event{Type: EventSensorsUnavailable, Warning: probe.Warning})
		c.mu.Unlock()
		c.flush()
		metrics.SessionsAborted.WithLabelValues("sensors_unavailable").Inc()
		log.Printf("session: cannot start, %s", probe.Warning)
		return fmt.Errorf("%w: %s", sensors.ErrSensorUnavailable, probe.Warning)
	}

	c.sessionID = uuid.NewString()
	c.userID = userID
	c.startedAt = c.opts.Now()
	c.last = nil
	c.warning = probe.Warning
	metrics.SessionsStarted.Inc()
	log.Printf("session: %s started (sensors: %v)", c.sessionID, probe.SensorTypes)

	if c.opts.CountdownSeconds == 0 {
		gen := c.prepareRunning()
		c.mu.Unlock()
		c.flush()
		return c.subscribe(gen)
	}

	c.remaining = c.opts.CountdownSeconds
	c.setState(Countdown)
	c.startTicker()
	c.mu.Unlock()
	c.flush()
	return nil
}

// Tick advances the current timed phase by one second. The phase ticker
// calls it; it is exported for manual stepping.
func (c *Controller) Tick() {
	c.mu.Lock()
	c.tickLocked()
}

func (c *Controller) tickFrom(id uint64) {
	c.mu.Lock()
	if id != c.tickerID {
		c.mu.Unlock()
		return
	}
	c.tickLocked()
}

// tickLocked is entered with c.mu held and releases it.
func (c *Controller) tickLocked() {
	switch c.state {
	case Countdown:
		c.remaining--
		c.queue(Event{Type: EventTick})
		if c.remaining > 0 {
			c.mu.Unlock()
			c.flush()
			return
		}
		gen := c.prepareRunning()
		c.mu.Unlock()
		c.flush()
		if err := c.subscribe(gen); err != nil {
			log.Printf("session: %v", err)
		}

	case Running:
		c.remaining--
		c.queue(Event{Type: EventTick})
		if c.remaining > 0 {
			c.mu.Unlock()
			c.flush()
			return
		}
		sub, in, gen := c.prepareProcessing()
		c.mu.Unlock()
		sub.Unsubscribe()
		c.flush()
		c.complete(gen, in)

	default:
		c.mu.Unlock()
	}
}

// prepareRunning switches to Running with a clean buffer. Caller holds c.mu.
func (c *Controller) prepareRunning() uint64 {
	c.stopTicker()
	c.buf.Reset()
	c.latestOrientation = motion.Orientation{}
	c.latestGyro = nil
	c.lastLive = time.Time{}
	c.remaining = c.opts.DurationSeconds
	c.setState(Running)
	return c.gen
}

// subscribe attaches the sensors for generation gen, outside c.mu so a
// source may deliver from inside Start.
func (c *Controller) subscribe(gen uint64) error {
	sub, err := c.sensors.Subscribe(c.handlers(gen))

	c.mu.Lock()
	if c.gen != gen || c.state != Running {
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	if err != nil {
		c.remaining = 0
		c.buf.Reset()
		c.warning = err.Error()
		c.setState(Instructions)
		c.queue(Event{Type: EventSensorsUnavailable, Warning: c.warning})
		c.mu.Unlock()
		c.flush()
		metrics.SessionsAborted.WithLabelValues("sensors_unavailable").Inc()
		return err
	}
	c.sub = sub
	c.startTicker()
	c.mu.Unlock()
	return nil
}

// prepareProcessing detaches the subscription and snapshots the classifier
// input. Caller holds c.mu and must release sub after unlocking.
func (c *Controller) prepareProcessing() (*sensors.Subscription, classifier.Input, uint64) {
	c.stopTicker()
	sub := c.sub
	c.sub = nil
	c.remaining = 0
	c.setState(Processing)
	in := classifier.Input{
		UserID:        c.userID,
		Readings:      c.buf.All(),
		TotalCount:    c.buf.TotalCount(),
		AbnormalCount: c.buf.AbnormalCount(),
	}
	return sub, in, c.gen
}

// complete classifies off the lock and publishes the record unless the
// session was reset meanwhile.
func (c *Controller) complete(gen uint64, in classifier.Input) {
	res := c.classify(in)

	c.mu.Lock()
	if c.gen != gen || c.state != Processing {
		c.mu.Unlock()
		log.Printf("session: discarding result of a session that was reset")
		return
	}
	rec := Record{
		SessionID:        c.sessionID,
		UserID:           c.userID,
		StartedAt:        c.startedAt,
		CompletedAt:      c.opts.Now(),
		DurationSeconds:  c.opts.DurationSeconds,
		TotalReadings:    in.TotalCount,
		AbnormalReadings: in.AbnormalCount,
		Result:           res,
		Readings:         in.Readings,
	}
	c.last = &rec
	c.setState(Completed)
	out := rec
	c.queue(Event{Type: EventCompleted, Record: &out})
	sink := c.opts.Sink
	if sink != nil {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	c.flush()

	log.Printf("session: %s completed: %s (%s, %d readings, %d weighted abnormal)",
		rec.SessionID, res.Outcome, res.Source, rec.TotalReadings, rec.AbnormalReadings)

	if sink != nil {
		go func() {
			defer c.wg.Done()
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.SinkTimeout)
			defer cancel()
			if err := sink.Deliver(ctx, rec); err != nil {
				log.Printf("session: result delivery failed: %v", err)
			}
		}()
	}
}

// classify shields the controller from a misbehaving Strategy.
func (c *Controller) classify(in classifier.Input) (res classifier.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session: classifier panicked: %v", r)
			res = classifier.Result{
				Outcome:     classifier.Inconclusive,
				Explanation: []string{"classification failed"},
				Source:      classifier.SourceLocalFallback,
			}
		}
	}()
	return c.strategy.Classify(c.ctx, in)
}

// Reset returns to Idle from any state, releasing the ticker and the
// sensor subscription and clearing the buffer. Calling it repeatedly is safe.
func (c *Controller) Reset() {
	c.mu.Lock()
	sub := c.resetLocked("reset")
	c.mu.Unlock()
	sub.Unsubscribe()
	c.flush()
}

// Close resets and refuses further sessions. Pending result deliveries are
// cancelled and waited for.
func (c *Controller) Close() {
	c.mu.Lock()
	sub := c.resetLocked("closed")
	c.closed = true
	c.mu.Unlock()
	sub.Unsubscribe()
	c.flush()
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) resetLocked(reason string) *sensors.Subscription {
	switch c.state {
	case Countdown, Running, Processing:
		metrics.SessionsAborted.WithLabelValues(reason).Inc()
		log.Printf("session: %s aborted in %s (%s)", c.sessionID, c.state, reason)
	}
	c.gen++
	c.stopTicker()
	sub := c.sub
	c.sub = nil
	c.buf.Reset()
	c.latestOrientation = motion.Orientation{}
	c.latestGyro = nil
	c.acknowledged = false
	c.remaining = 0
	c.warning = ""
	c.sessionID = ""
	c.userID = ""
	c.last = nil
	c.setState(Idle)
	return sub
}

// Snapshot returns the current view, including live values and the last
// result when Completed.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		SessionID:        c.sessionID,
		State:            c.state,
		Acknowledged:     c.acknowledged,
		DurationSeconds:  c.opts.DurationSeconds,
		RemainingSeconds: c.remaining,
		TotalReadings:    c.buf.TotalCount(),
		AbnormalReadings: c.buf.AbnormalCount(),
		Live:             c.buf.Current(),
		Warning:          c.warning,
	}
	if c.last != nil {
		res := c.last.Result
		s.Result = &res
	}
	return s
}

// Result returns the record of the last completed session.
func (c *Controller) Result() (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Record{}, false
	}
	return *c.last, true
}

func (c *Controller) handlers(gen uint64) sensors.Handlers {
	return sensors.Handlers{
		OnAcceleration: func(e sensors.AccelerationEvent) { c.onAcceleration(gen, e) },
		OnOrientation:  func(e sensors.OrientationEvent) { c.onOrientation(gen, e) },
		OnRotationRate: func(e sensors.RotationRateEvent) { c.onRotationRate(gen, e) },
	}
}

// onAcceleration fuses the event with the latest orientation and true
// gyroscope sample into one reading.
func (c *Controller) onAcceleration(gen uint64, e sensors.AccelerationEvent) {
	c.mu.Lock()
	if c.gen != gen || c.state != Running {
		c.mu.Unlock()
		return
	}
	r := motion.SensorReading{
		TimestampMillis: e.TimestampMillis,
		Acceleration:    motion.NewVec3(e.X, e.Y, e.Z),
		Orientation:     c.latestOrientation,
	}
	if c.latestGyro != nil {
		g := *c.latestGyro
		r.Gyroscope = &g
	}
	c.buf.Append(r)
	metrics.ReadingsIngested.Inc()

	now := c.opts.Now()
	if c.lastLive.IsZero() || now.Sub(c.lastLive) >= c.opts.LiveInterval {
		c.lastLive = now
		live := c.buf.Current()
		c.queue(Event{Type: EventLive, Live: &live})
	}
	c.mu.Unlock()
	c.flush()
}

func (c *Controller) onOrientation(gen uint64, e sensors.OrientationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != Running {
		return
	}
	c.latestOrientation = motion.NewOrientation(e.Alpha, e.Beta, e.Gamma)
}

func (c *Controller) onRotationRate(gen uint64, e sensors.RotationRateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != Running {
		return
	}
	g := motion.NewVec3(e.X, e.Y, e.Z)
	c.latestGyro = &g
}

// startTicker replaces the phase ticker. Caller holds c.mu.
func (c *Controller) startTicker() {
	c.stopTicker()
	c.tickerID++
	id := c.tickerID
	t := c.opts.NewTicker(c.opts.TickInterval)
	stop := make(chan struct{})
	c.ticker, c.tickerStop = t, stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-t.C():
				c.tickFrom(id)
			}
		}
	}()
}

// stopTicker stops the phase ticker, if any. Caller holds c.mu.
func (c *Controller) stopTicker() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.tickerStop)
	c.ticker, c.tickerStop = nil, nil
	c.tickerID++
}

// setState always notifies, so a repeated reset still resyncs listeners.
func (c *Controller) setState(s State) {
	c.state = s
	c.queue(Event{Type: EventState})
}

// queue records an event for the next flush. Caller holds c.mu.
func (c *Controller) queue(e Event) {
	e.SessionID = c.sessionID
	if e.State == "" {
		e.State = c.state
	}
	e.RemainingSeconds = c.remaining
	c.pending = append(c.pending, e)
}

// flush delivers queued events in order, outside c.mu.
func (c *Controller) flush() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	events := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, e := range events {
		for _, l := range c.listeners {
			l(e)
		}
	}
}
