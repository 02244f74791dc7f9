package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

func TestConsumer_ProcessWithRetry_SucceedsOnFirstAttempt(t *testing.T) {
	c := &Consumer{subject: "test.subject"}
	calls := 0
	err := c.processWithRetry(context.Background(), Envelope{EventID: "e1"}, func(ctx context.Context, env Envelope) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one handler call, got %d", calls)
	}
}

func TestConsumer_ProcessWithRetry_SucceedsAfterOneRetry(t *testing.T) {
	c := &Consumer{subject: "test.subject"}
	calls := 0
	err := c.processWithRetry(context.Background(), Envelope{EventID: "e2"}, func(ctx context.Context, env Envelope) error {
		calls++
		if calls == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error after the retry succeeds, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly two handler calls, got %d", calls)
	}
}

func TestConsumer_ProcessWithRetry_StopsEarlyWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Consumer{subject: "test.subject"}
	calls := 0
	err := c.processWithRetry(ctx, Envelope{EventID: "e3"}, func(ctx context.Context, env Envelope) error {
		calls++
		return errors.New("always fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled once the context is already done, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the handler to run once before bailing out on the cancelled context, got %d", calls)
	}
}

func TestConsumer_ProcessWithRetry_ExhaustsRetriesAndWrapsLastError(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises the full exponential backoff schedule, slow by design")
	}
	c := &Consumer{subject: "test.subject"}
	calls := 0
	sentinel := errors.New("permanent failure")
	start := time.Now()
	err := c.processWithRetry(context.Background(), Envelope{EventID: "e4"}, func(ctx context.Context, env Envelope) error {
		calls++
		return sentinel
	})
	if calls != maxRetries {
		t.Errorf("expected %d handler calls, got %d", maxRetries, calls)
	}
	if apperr.KindOf(err) != apperr.KindBusUnavailable {
		t.Fatalf("expected KindBusUnavailable once retries are exhausted, got %v (%v)", apperr.KindOf(err), err)
	}
	if !errors.Is(err, sentinel) {
		t.Error("expected the wrapped error to unwrap to the handler's last error")
	}
	if time.Since(start) < backoffBase {
		t.Error("expected processWithRetry to have actually backed off between attempts")
	}
}
