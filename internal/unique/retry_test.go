package unique

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func(number int) error {
		calls++
		if number == 0 {
			return gorm.ErrDuplicatedKey
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryReturnsNonViolationImmediately(t *testing.T) {
	sentinel := errors.New("disk on fire")
	calls := 0
	err := Retry(context.Background(), 5, func(int) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryExhaustsOnRepeatedViolations(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 0, func(int) error {
		calls++
		return errors.New("UNIQUE constraint failed: element_versions.element_id, element_versions.version")
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if calls != DefaultAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultAttempts, calls)
	}
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, func(int) error {
		t.Fatal("attempt must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestIsViolationRecognisesPostgresMessage(t *testing.T) {
	err := errors.New(`ERROR: duplicate key value violates unique constraint "idx_notification_log_dedupe" (SQLSTATE 23505)`)
	if !IsViolation(err) {
		t.Fatalf("expected postgres duplicate key error to be recognised")
	}
	if IsViolation(nil) {
		t.Fatalf("nil must not be a violation")
	}
}
