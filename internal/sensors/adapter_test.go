package sensors

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource emits one event per reporting type synchronously from Start.
type fakeSource struct {
	types     []Type
	reporting []Type
	startErr  error
	panicOn   bool
	stops     atomic.Int32
}

func (f *fakeSource) Name() string  { return "fake" }
func (f *fakeSource) Types() []Type { return f.types }

func (f *fakeSource) Start(h Handlers) (func(), error) {
	if f.panicOn {
		panic("platform exploded")
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	for _, t := range f.reporting {
		switch t {
		case Accelerometer:
			h.acceleration(AccelerationEvent{TimestampMillis: 1, X: 0.1})
		case Orientation:
			h.orientation(OrientationEvent{TimestampMillis: 1})
		case Gyroscope:
			h.rotationRate(RotationRateEvent{TimestampMillis: 1})
		}
	}
	return func() { f.stops.Add(1) }, nil
}

func TestProbeAllTypes(t *testing.T) {
	src := &fakeSource{
		types:     []Type{Accelerometer, Orientation, Gyroscope},
		reporting: []Type{Accelerometer, Orientation, Gyroscope},
	}
	start := time.Now()
	res := NewAdapter(src, time.Second).Probe(context.Background())
	if !res.Available || len(res.SensorTypes) != 3 || res.Warning != "" {
		t.Fatalf("unexpected probe result %+v", res)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("probe should return as soon as every type reported")
	}
	if src.stops.Load() != 1 {
		t.Fatalf("probe must release its subscription, stops=%d", src.stops.Load())
	}
}

func TestProbePartial(t *testing.T) {
	src := &fakeSource{
		types:     []Type{Accelerometer, Orientation},
		reporting: []Type{Accelerometer},
	}
	res := NewAdapter(src, 30*time.Millisecond).Probe(context.Background())
	if !res.Available {
		t.Fatalf("accelerometer alone should be enough, got %+v", res)
	}
	if !strings.Contains(res.Warning, "orientation") {
		t.Fatalf("expected warning about orientation, got %q", res.Warning)
	}
}

func TestProbeTimeoutIsUnavailable(t *testing.T) {
	src := &fakeSource{types: []Type{Accelerometer, Orientation}}
	res := NewAdapter(src, 30*time.Millisecond).Probe(context.Background())
	if res.Available || res.Warning == "" {
		t.Fatalf("silent source must be unavailable with a warning, got %+v", res)
	}
}

func TestProbeOrientationOnlyIsUnavailable(t *testing.T) {
	src := &fakeSource{types: []Type{Accelerometer, Orientation}, reporting: []Type{Orientation}}
	res := NewAdapter(src, 30*time.Millisecond).Probe(context.Background())
	if res.Available {
		t.Fatalf("no accelerometer means no test, got %+v", res)
	}
}

func TestProbeHonoursContext(t *testing.T) {
	src := &fakeSource{types: []Type{Accelerometer}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	res := NewAdapter(src, 10*time.Second).Probe(ctx)
	if res.Available || time.Since(start) > time.Second {
		t.Fatalf("cancelled probe should return quickly and unavailable, got %+v", res)
	}
}

func TestProbeStartFailureDoesNotError(t *testing.T) {
	for name, src := range map[string]*fakeSource{
		"error": {types: []Type{Accelerometer}, startErr: errors.New("permission denied")},
		"panic": {types: []Type{Accelerometer}, panicOn: true},
	} {
		t.Run(name, func(t *testing.T) {
			res := NewAdapter(src, 30*time.Millisecond).Probe(context.Background())
			if res.Available || res.Warning == "" {
				t.Fatalf("expected unavailable with warning, got %+v", res)
			}
		})
	}
}

func TestSubscribeFailureWrapsSentinel(t *testing.T) {
	for name, src := range map[string]*fakeSource{
		"error": {startErr: errors.New("no device")},
		"panic": {panicOn: true},
	} {
		t.Run(name, func(t *testing.T) {
			sub, err := NewAdapter(src, 0).Subscribe(Handlers{})
			if !errors.Is(err, ErrSensorUnavailable) {
				t.Fatalf("expected ErrSensorUnavailable, got %v", err)
			}
			sub.Unsubscribe() // nil-safe
		})
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	src := &fakeSource{reporting: []Type{Accelerometer}}
	var got int
	sub, err := NewAdapter(src, 0).Subscribe(Handlers{OnAcceleration: func(AccelerationEvent) { got++ }})
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("expected one event, got %d", got)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()
	if src.stops.Load() != 1 {
		t.Fatalf("stop must run exactly once, ran %d", src.stops.Load())
	}
}

func TestMockSourceStopsDelivery(t *testing.T) {
	src := NewMockSource(MockOptions{Interval: 2 * time.Millisecond})
	var mu sync.Mutex
	var accel, orient int
	var stopped bool
	var late bool

	sub, err := NewAdapter(src, 0).Subscribe(Handlers{
		OnAcceleration: func(AccelerationEvent) {
			mu.Lock()
			defer mu.Unlock()
			if stopped {
				late = true
			}
			accel++
		},
		OnOrientation: func(e OrientationEvent) {
			mu.Lock()
			defer mu.Unlock()
			if e.Alpha == nil || e.Beta == nil || e.Gamma == nil {
				t.Error("mock orientation should carry all angles by default")
			}
			orient++
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := accel
		mu.Unlock()
		if n >= 5 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sub.Unsubscribe()
	mu.Lock()
	stopped = true
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if accel < 5 || orient < 5 {
		t.Fatalf("expected events, got accel=%d orient=%d", accel, orient)
	}
	if late {
		t.Fatal("event delivered after Unsubscribe returned")
	}
}

func TestMockSourceSpikes(t *testing.T) {
	src := NewMockSource(MockOptions{SpikeEvery: 2, SpikeMagnitude: 3, OmitAlpha: true}).(*mockSource)
	var got []AccelerationEvent
	var alphaSeen bool
	h := Handlers{
		OnAcceleration: func(e AccelerationEvent) { got = append(got, e) },
		OnOrientation: func(e OrientationEvent) {
			if e.Alpha != nil {
				alphaSeen = true
			}
		},
	}
	now := time.Now()
	for n := 1; n <= 4; n++ {
		src.emit(h, now, float64(n)*0.02, n)
	}
	if got[1].X != 3 || got[3].X != 3 {
		t.Fatalf("expected spikes on every second sample, got %+v", got)
	}
	if alphaSeen {
		t.Fatal("OmitAlpha should leave alpha absent")
	}
}
