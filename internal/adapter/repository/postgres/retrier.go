package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SQLSTATE codes a change set write is retried on.
const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlock             = "40P01"
	pgErrLockNotAvailable     = "55P03"
)

// RetryPolicy bounds how a failed change set write is retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed caps the total time spent, commit attempts included.
	MaxElapsed time.Duration
}

// DefaultRetryPolicy keeps a store's writer blocked for at most a few
// seconds; the ledger fails the operation closed afterwards.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
	MaxElapsed:      5 * time.Second,
}

// Retrier retries transient write failures with exponential backoff.
type Retrier struct {
	policy RetryPolicy
	logger zerolog.Logger
}

// NewRetrier creates a retrier using DefaultRetryPolicy.
func NewRetrier() *Retrier {
	return NewRetrierWithPolicy(DefaultRetryPolicy)
}

// NewRetrierWithPolicy creates a retrier using p.
func NewRetrierWithPolicy(p RetryPolicy) *Retrier {
	return &Retrier{policy: p, logger: log.Logger}
}

// WithLogger sets the logger used to report retries.
func (r *Retrier) WithLogger(logger zerolog.Logger) *Retrier {
	r.logger = logger
	return r
}

// Retry runs operation until it succeeds, fails permanently, or the policy
// is exhausted. op labels the retry log lines.
func (r *Retrier) Retry(ctx context.Context, op string, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = r.policy.MaxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := operation()
		if err == nil {
			return nil
		}
		if !isRetryableError(err) || attempt > r.policy.MaxRetries {
			return backoff.Permanent(err)
		}

		r.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient database error, retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxRetries)), ctx))
}

// isRetryableError reports whether err is a conflict between concurrent
// transactions, or a connection failure that happened before the statement
// reached the server.
func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrDeadlock, pgErrSerializationFailure, pgErrLockNotAvailable:
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}
