package classifier

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker("test", BreakerConfig{MaxFailures: 2, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	failing := func(context.Context) error { return errors.New("nope") }
	ok := func(context.Context) error { return nil }

	_ = b.Execute(context.Background(), failing)
	if b.State() != Closed {
		t.Fatalf("expected closed after one failure, got %s", b.State())
	}
	_ = b.Execute(context.Background(), failing)
	if b.State() != Open {
		t.Fatalf("expected open after two failures, got %s", b.State())
	}

	called := false
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) || called {
		t.Fatalf("expected fast-fail while open, err=%v called=%v", err, called)
	}

	now = now.Add(11 * time.Second)
	_ = b.Execute(context.Background(), failing)
	if b.State() != Open {
		t.Fatalf("failed trial must re-open, got %s", b.State())
	}

	now = now.Add(11 * time.Second)
	if err := b.Execute(context.Background(), ok); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after successful trial, got %s", b.State())
	}
}

func TestBreakerDisabled(t *testing.T) {
	b := NewBreaker("off", BreakerConfig{})
	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	}
	if b.State() != Closed {
		t.Fatalf("disabled breaker must stay closed, got %s", b.State())
	}
}
