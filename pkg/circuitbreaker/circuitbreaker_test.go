package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestBreakerOpensAfterFailureRatio(t *testing.T) {
	var transitions []gobreaker.State
	b := NewWithSettings("payos", Settings{
		MinRequests:  2,
		FailureRatio: 0.5,
		Timeout:      time.Minute,
	}, Options{
		OnStateChange: func(_ string, to gobreaker.State) { transitions = append(transitions, to) },
	})

	boom := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("expected call error, got %v", err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected open state, got %s", b.State())
	}

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("open breaker must not run the call")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	business := errors.New("order not found")
	b := NewWithSettings("vnpay", Settings{MinRequests: 1, FailureRatio: 0.1}, Options{
		IsFailure: func(err error) bool { return !errors.Is(err, business) },
	})

	for i := 0; i < 5; i++ {
		if err := b.Execute(context.Background(), func(context.Context) error { return business }); !errors.Is(err, business) {
			t.Fatalf("expected business error to pass through, got %v", err)
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Fatalf("business errors must not trip the breaker")
	}
}

func TestBreakerAppliesCallTimeout(t *testing.T) {
	b := NewWithSettings("card", Settings{CallTimeout: 10 * time.Millisecond}, Options{})
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if b.Name() != "card" {
		t.Fatalf("unexpected name %q", b.Name())
	}
}
