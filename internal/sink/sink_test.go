package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/balance_screen/internal/classifier"
	"github.com/relabs-tech/balance_screen/internal/motion"
	"github.com/relabs-tech/balance_screen/internal/session"
)

type fakeSink struct {
	name      string
	err       error
	delivered []session.Record
	closed    bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(_ context.Context, rec session.Record) error {
	f.delivered = append(f.delivered, rec)
	return f.err
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testRecord(userID string) session.Record {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return session.Record{
		SessionID:        "s-1",
		UserID:           userID,
		StartedAt:        start,
		CompletedAt:      start.Add(15 * time.Second),
		DurationSeconds:  15,
		TotalReadings:    2,
		AbnormalReadings: 1,
		Result: classifier.Result{
			Outcome:     classifier.Abnormal,
			Explanation: []string{"abnormal movement"},
			Metrics:     classifier.Metrics{AbnormalPercentage: 50},
			Source:      classifier.SourceLocalFallback,
		},
		Readings: []motion.SensorReading{{}, {}},
	}
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: errors.New("boom")}
	after := &fakeSink{name: "after"}
	m := NewMulti(ok, bad, after)

	err := m.Deliver(context.Background(), testRecord("u1"))
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("expected joined error naming the failing sink, got %v", err)
	}
	for _, s := range []*fakeSink{ok, bad, after} {
		if len(s.delivered) != 1 {
			t.Errorf("%s: delivered %d records, want 1", s.name, len(s.delivered))
		}
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ok.closed || !bad.closed || !after.closed {
		t.Error("expected every sink to be closed")
	}
}

func TestMultiEmpty(t *testing.T) {
	m := NewMulti()
	if m.Len() != 0 {
		t.Fatalf("len = %d", m.Len())
	}
	if err := m.Deliver(context.Background(), testRecord("")); err != nil {
		t.Fatalf("empty multi should not fail: %v", err)
	}
}

func TestKafkaKeysByUser(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w}

	if err := k.Deliver(context.Background(), testRecord("u1")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := k.Deliver(context.Background(), testRecord("")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("got %d messages", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "u1" {
		t.Errorf("key = %q, want user id", w.msgs[0].Key)
	}
	if string(w.msgs[1].Key) != "s-1" {
		t.Errorf("key = %q, want session id for anonymous runs", w.msgs[1].Key)
	}

	var got session.Record
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("value is not a record: %v", err)
	}
	if got.Result.Outcome != classifier.Abnormal || got.TotalReadings != 2 {
		t.Errorf("unexpected record %+v", got)
	}
	if string(w.msgs[0].Headers[0].Value) != "abnormal" {
		t.Errorf("outcome header = %q", w.msgs[0].Headers[0].Value)
	}

	if err := k.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v closed=%v", err, w.closed)
	}
}

func TestKafkaWriteError(t *testing.T) {
	k := &Kafka{writer: &fakeWriter{err: errors.New("leader not available")}}
	if err := k.Deliver(context.Background(), testRecord("u1")); err == nil {
		t.Fatal("expected write error")
	}
}

func TestNewKafkaValidates(t *testing.T) {
	if _, err := NewKafka([]string{" ", ""}, "t"); err == nil {
		t.Error("expected error for empty broker list")
	}
	if _, err := NewKafka([]string{"localhost:9092"}, ""); err == nil {
		t.Error("expected error for empty topic")
	}
	k, err := NewKafka([]string{"localhost:9092"}, "balance-results")
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	_ = k.Close()
}

func TestInsertArgs(t *testing.T) {
	args, err := insertArgs(testRecord(""))
	if err != nil {
		t.Fatalf("insertArgs: %v", err)
	}
	if len(args) != strings.Count(insertResult, "$") {
		t.Fatalf("%d args for %d placeholders", len(args), strings.Count(insertResult, "$"))
	}
	if args[7] != "abnormal" || args[8] != "local_fallback" {
		t.Errorf("outcome/source = %v/%v", args[7], args[8])
	}
	if args[10] != 50.0 {
		t.Errorf("abnormal pct = %v", args[10])
	}
	var readings []motion.SensorReading
	if err := json.Unmarshal([]byte(args[12].(string)), &readings); err != nil || len(readings) != 2 {
		t.Errorf("readings column = %v (%v)", args[12], err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}
	b, err := fs.ReadFile(migrations, files[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "-- +goose Up") || !strings.Contains(string(b), "balance_results") {
		t.Errorf("unexpected migration content:\n%s", b)
	}
}

func TestRedisKeys(t *testing.T) {
	if got := resultKey("abc"); got != "balance:result:abc" {
		t.Errorf("resultKey = %q", got)
	}
	if got := userKey("u1"); got != "balance:user:u1:results" {
		t.Errorf("userKey = %q", got)
	}
}
