package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func testPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      100 * time.Millisecond,
	}
}

func TestRetrierRetriesConflicts(t *testing.T) {
	for _, code := range []string{pgErrDeadlock, pgErrSerializationFailure, pgErrLockNotAvailable} {
		t.Run(code, func(t *testing.T) {
			r := NewRetrierWithPolicy(testPolicy(2))

			attempts := 0
			err := r.Retry(context.Background(), "persist exchange", func() error {
				attempts++
				if attempts < 2 {
					return &pgconn.PgError{Code: code}
				}
				return nil
			})

			if err != nil {
				t.Fatalf("expected success after retry, got %v", err)
			}
			if attempts != 2 {
				t.Fatalf("expected 2 attempts, got %d", attempts)
			}
		})
	}
}

func TestRetrierGivesUpAfterMaxRetries(t *testing.T) {
	r := NewRetrierWithPolicy(testPolicy(2))

	attempts := 0
	err := r.Retry(context.Background(), "persist escrow", func() error {
		attempts++
		return &pgconn.PgError{Code: pgErrDeadlock}
	})

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgErrDeadlock {
		t.Fatalf("expected the last deadlock to surface, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", attempts)
	}
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	r := NewRetrier()
	attempts := 0
	uniqueViolation := &pgconn.PgError{Code: "23505"}

	err := r.Retry(context.Background(), "persist exchange", func() error {
		attempts++
		return uniqueViolation
	})

	if !errors.Is(err, uniqueViolation) {
		t.Fatalf("expected constraint error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetrierHonoursCanceledContext(t *testing.T) {
	r := NewRetrierWithPolicy(RetryPolicy{MaxRetries: 10, InitialInterval: time.Hour, MaxInterval: time.Hour, MaxElapsed: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := r.Retry(ctx, "persist exchange", func() error {
		attempts++
		cancel()
		return &pgconn.PgError{Code: pgErrSerializationFailure}
	})

	if err == nil {
		t.Fatal("expected an error once the context is canceled")
	}
	if attempts != 1 {
		t.Fatalf("expected no retry after cancellation, got %d attempts", attempts)
	}
}

func TestIsRetryableError(t *testing.T) {
	if !isRetryableError(&pgconn.PgError{Code: pgErrDeadlock}) {
		t.Fatalf("expected deadlock error to be retryable")
	}
	if isRetryableError(&pgconn.PgError{Code: "22003"}) {
		t.Fatalf("expected numeric overflow to be permanent")
	}
	if isRetryableError(errors.New("other")) {
		t.Fatalf("expected generic error to be non-retryable")
	}
}
