package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/balance_screen/internal/config"
	"github.com/relabs-tech/balance_screen/internal/sensors"
	"github.com/relabs-tech/balance_screen/internal/session"
)

func TestRunConsoleCompletes(t *testing.T) {
	ctrl, _ := newTestController(t, mockSource(), 3, 1)

	var out bytes.Buffer
	rec, err := RunConsole(context.Background(), ctrl, ConsoleOptions{UserID: "cli", Out: &out})
	if err != nil {
		t.Fatalf("RunConsole: %v", err)
	}
	if rec.UserID != "cli" || rec.SessionID == "" {
		t.Fatalf("record: %+v", rec)
	}
	for _, want := range []string{"[STATE] countdown", "[STATE] running", "outcome", rec.SessionID} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunConsoleCancelled(t *testing.T) {
	ctrl, _ := newTestController(t, mockSource(), 600, 0)

	ctx, cancel := context.WithCancel(context.Background())
	ctrl.AddListener(func(e session.Event) {
		if e.Type == session.EventState && e.State == session.Running {
			cancel()
		}
	})

	_, err := RunConsole(ctx, ctrl, ConsoleOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s := ctrl.Snapshot(); s.State != session.Idle {
		t.Fatalf("state after cancel = %s, want idle", s.State)
	}
}

func TestRunConsoleSensorsUnavailable(t *testing.T) {
	ctrl, _ := newTestController(t, silentSource{}, 3, 1)
	_, err := RunConsole(context.Background(), ctrl, ConsoleOptions{})
	if !errors.Is(err, sensors.ErrSensorUnavailable) {
		t.Fatalf("err = %v, want ErrSensorUnavailable", err)
	}
}

func TestPrintProbe(t *testing.T) {
	var out bytes.Buffer
	ok := PrintProbe(context.Background(), sensors.NewAdapter(silentSource{}, 50*time.Millisecond), &out)
	if ok {
		t.Fatal("silent source reported available")
	}
	if !strings.Contains(out.String(), "warning") {
		t.Errorf("no warning printed:\n%s", out.String())
	}
}

func TestNewStackDefaults(t *testing.T) {
	stack, err := NewStack(context.Background(), config.Default())
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	defer stack.Close()

	if stack.Sinks.Len() != 0 {
		t.Errorf("default config enabled %d sinks", stack.Sinks.Len())
	}
	if stack.Sensors.SourceName() != "mock" {
		t.Errorf("source = %s", stack.Sensors.SourceName())
	}
	if s := stack.Controller.Snapshot(); s.State != session.Idle || s.DurationSeconds != 15 {
		t.Errorf("snapshot: %+v", s)
	}
}

func TestNewStackUnknownSource(t *testing.T) {
	cfg := config.Default()
	cfg.SensorSource = "carrier-pigeon"
	if _, err := NewStack(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown source")
	}
}
