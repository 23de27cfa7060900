package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/balance_screen/internal/classifier"
	"github.com/relabs-tech/balance_screen/internal/config"
	"github.com/relabs-tech/balance_screen/internal/sensors"
	"github.com/relabs-tech/balance_screen/internal/session"
)

// silentSource starts fine but never reports.
type silentSource struct{}

func (silentSource) Name() string { return "silent" }

func (silentSource) Types() []sensors.Type {
	return []sensors.Type{sensors.Accelerometer, sensors.Orientation}
}

func (silentSource) Start(sensors.Handlers) (func(), error) { return func() {}, nil }

func newTestController(t *testing.T, src sensors.Source, duration, countdown int) (*session.Controller, *sensors.Adapter) {
	t.Helper()
	cfg := config.Default()
	adapter := sensors.NewAdapter(src, 200*time.Millisecond)
	opts := session.OptionsFromConfig(cfg)
	opts.DurationSeconds = duration
	opts.CountdownSeconds = countdown
	opts.TickInterval = 20 * time.Millisecond
	ctrl, err := session.New(opts, adapter, classifier.New(cfg.Thresholds, cfg.MinReadings, nil))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return ctrl, adapter
}

func mockSource() sensors.Source {
	return sensors.NewMockSource(sensors.MockOptions{Interval: 2 * time.Millisecond})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAPIFullSession(t *testing.T) {
	ctrl, adapter := newTestController(t, mockSource(), 2, 1)
	h := NewRouter(ctrl, adapter, nil)

	rec := do(t, h, http.MethodGet, "/api/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/session: %d", rec.Code)
	}
	if s := decode[session.Snapshot](t, rec); s.State != session.Idle {
		t.Fatalf("state = %s, want idle", s.State)
	}

	if rec := do(t, h, http.MethodGet, "/api/session/result", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("result before completion: %d", rec.Code)
	}

	if rec := do(t, h, http.MethodPost, "/api/session/start", `{}`); rec.Code != http.StatusConflict {
		t.Fatalf("start without acknowledge: %d, want 409", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/session/acknowledge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge: %d", rec.Code)
	}
	if s := decode[session.Snapshot](t, rec); s.State != session.Instructions || !s.Acknowledged {
		t.Fatalf("after acknowledge: %+v", s)
	}

	rec = do(t, h, http.MethodPost, "/api/session/start", `{"user_id":"u-42"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}

	waitFor(t, "completed", func() bool { return ctrl.Snapshot().State == session.Completed })

	rec = do(t, h, http.MethodGet, "/api/session/result", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result: %d", rec.Code)
	}
	got := decode[session.Record](t, rec)
	if got.UserID != "u-42" || got.TotalReadings == 0 || !got.Result.Outcome.Valid() {
		t.Fatalf("unexpected record: user=%q total=%d outcome=%q", got.UserID, got.TotalReadings, got.Result.Outcome)
	}

	rec = do(t, h, http.MethodPost, "/api/session/reset", "")
	if s := decode[session.Snapshot](t, rec); s.State != session.Idle {
		t.Fatalf("after reset: %s", s.State)
	}
}

func TestAPIStartRejectsBadJSON(t *testing.T) {
	ctrl, adapter := newTestController(t, mockSource(), 2, 1)
	h := NewRouter(ctrl, adapter, nil)
	do(t, h, http.MethodPost, "/api/session/acknowledge", "")

	if rec := do(t, h, http.MethodPost, "/api/session/start", `{"user_id":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: %d, want 400", rec.Code)
	}
	if s := ctrl.Snapshot(); s.State != session.Instructions {
		t.Fatalf("state changed on bad request: %s", s.State)
	}
}

func TestAPISensorsUnavailable(t *testing.T) {
	ctrl, adapter := newTestController(t, silentSource{}, 2, 1)
	h := NewRouter(ctrl, adapter, nil)

	rec := do(t, h, http.MethodGet, "/api/probe", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("probe: %d, want 503", rec.Code)
	}
	if p := decode[sensors.ProbeResult](t, rec); p.Available || p.Warning == "" {
		t.Fatalf("probe result: %+v", p)
	}

	do(t, h, http.MethodPost, "/api/session/acknowledge", "")
	rec = do(t, h, http.MethodPost, "/api/session/start", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("start: %d, want 503", rec.Code)
	}
	if s := ctrl.Snapshot(); s.State != session.Instructions || s.Warning == "" {
		t.Fatalf("after failed start: %+v", s)
	}
}

func TestAPIProbeAvailable(t *testing.T) {
	ctrl, adapter := newTestController(t, mockSource(), 2, 1)
	rec := do(t, NewRouter(ctrl, adapter, nil), http.MethodGet, "/api/probe", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("probe: %d", rec.Code)
	}
	if p := decode[sensors.ProbeResult](t, rec); !p.Available {
		t.Fatalf("probe result: %+v", p)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ctrl, adapter := newTestController(t, mockSource(), 2, 1)
	h := NewRouter(ctrl, adapter, nil)

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "balance_sessions_started_total") {
		t.Error("metrics output is missing the session counter")
	}
}

func TestWrongMethod(t *testing.T) {
	ctrl, adapter := newTestController(t, mockSource(), 2, 1)
	if rec := do(t, NewRouter(ctrl, adapter, nil), http.MethodGet, "/api/session/reset", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET reset: %d, want 405", rec.Code)
	}
}

func TestWebSocketFeed(t *testing.T) {
	ctrl, adapter := newTestController(t, mockSource(), 2, 1)
	hub := NewHub(ctrl)
	ctrl.AddListener(hub.Broadcast)
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(NewRouter(ctrl, adapter, hub))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first wsReply
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "snapshot" || first.Snapshot == nil || first.Snapshot.State != session.Idle {
		t.Fatalf("first message: %+v", first)
	}
	waitFor(t, "client registered", func() bool { return hub.Clients() == 1 })

	if err := conn.WriteJSON(wsCommand{Action: "bogus"}); err != nil {
		t.Fatal(err)
	}
	var errMsg wsReply
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if errMsg.Type != "error" || !strings.Contains(errMsg.Message, "bogus") {
		t.Fatalf("error reply: %+v", errMsg)
	}

	if err := conn.WriteJSON(wsCommand{Action: "acknowledge"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(wsCommand{Action: "start", UserID: "ws-user"}); err != nil {
		t.Fatal(err)
	}

	for {
		var e session.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if e.Type == session.EventCompleted {
			if e.Record == nil || e.Record.UserID != "ws-user" {
				t.Fatalf("completed event without the record: %+v", e)
			}
			return
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrInstructionsNotAcknowledged, http.StatusConflict},
		{session.ErrInvalidState, http.StatusConflict},
		{sensors.ErrSensorUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAPIProbeRefusedDuringSession(t *testing.T) {
	ctrl, adapter := newTestController(t, mockSource(), 600, 0)
	h := NewRouter(ctrl, adapter, nil)

	do(t, h, http.MethodPost, "/api/session/acknowledge", "")
	if rec := do(t, h, http.MethodPost, "/api/session/start", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "running", func() bool { return ctrl.Snapshot().State == session.Running })

	if rec := do(t, h, http.MethodGet, "/api/probe", ""); rec.Code != http.StatusConflict {
		t.Fatalf("probe while running: %d, want 409", rec.Code)
	}

	do(t, h, http.MethodPost, "/api/session/reset", "")
	if rec := do(t, h, http.MethodGet, "/api/probe", ""); rec.Code != http.StatusOK {
		t.Fatalf("probe after reset: %d, want 200", rec.Code)
	}
}
