package resilience

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	err := exec.Execute(context.Background(), "smtp_send", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.Errorf(domain.ErrTemporary, "smtp", "421 try again")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	errPermanent := errors.New("550 mailbox unavailable")
	err := exec.Execute(context.Background(), "smtp_send", func(context.Context) error {
		attempts++
		return errPermanent
	}, nil)
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	exec := NewExecutor(fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before the call, got %v (called=%v)", err, called)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = 50 * time.Millisecond
	cfg.BreakerHalfOpenMaxCalls = 1

	var transitions []string
	exec := NewExecutor(cfg).WithStateObserver(func(op, state string) {
		transitions = append(transitions, op+":"+state)
	})

	errDown := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "nats_publish", func(context.Context) error {
			return errDown
		}, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("expected downstream error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "nats_publish", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !IsCircuitOpen(err) || !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected open state mapped to temporary, got %v", err)
	}
	if exec.State("nats_publish") != "open" {
		t.Fatalf("expected open breaker, got %s", exec.State("nats_publish"))
	}
	if len(transitions) != 1 || transitions[0] != "nats_publish:open" {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestDomainRejectionsDoNotTripBreaker(t *testing.T) {
	cfg := fastConfig()
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 1
	exec := NewExecutor(cfg)

	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "op", func(context.Context) error {
			return domain.Errorf(domain.ErrValidation, "op", "bad input")
		}, nil)
	}
	if exec.State("op") != "closed" {
		t.Fatalf("expected breaker to stay closed, got %s", exec.State("op"))
	}
}

func TestClassifyTransient(t *testing.T) {
	timeout := &net.DNSError{Err: "timeout", IsTimeout: true}
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"temporary", domain.Errorf(domain.ErrTemporary, "op", "busy"), ErrorClassification{Retryable: true, RecordFailure: true}},
		{"deadline", context.DeadlineExceeded, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"net timeout", timeout, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"conflict", domain.Errorf(domain.ErrConflict, "op", "taken"), ErrorClassification{}},
		{"canceled", context.Canceled, ErrorClassification{}},
		{"unknown", errors.New("boom"), ErrorClassification{RecordFailure: true}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ClassifyTransient(c.err); got != c.want {
				t.Fatalf("expected %+v, got %+v", c.want, got)
			}
		})
	}
}
