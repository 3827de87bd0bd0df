package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingResponse is stored when a key is claimed without a value.
const PendingResponse = "processing"

const (
	defaultKeyPrefix = "custody:idempotency:"
	claimAttempts    = 3
)

// IdempotencyStore keeps HTTP idempotency keys in Redis with a TTL. It
// implements usecase.IdempotencyStore.
type IdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewIdempotencyStore creates a store writing keys under
// "custody:idempotency:".
func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client, prefix: defaultKeyPrefix}
}

// CheckAndSet claims key with value. When the key is already held, the held
// value is returned with exists set. A key that expires between the SETNX
// and the GET is claimed again, a bounded number of times.
func (s *IdempotencyStore) CheckAndSet(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, []byte, error) {
	var claim any = PendingResponse
	if value != nil {
		claim = value
	}

	full := s.prefix + key
	for range claimAttempts {
		claimed, err := s.client.SetNX(ctx, full, claim, ttl).Result()
		if err != nil {
			return false, nil, fmt.Errorf("claim idempotency key: %w", err)
		}
		if claimed {
			return false, nil, nil
		}

		held, err := s.client.Get(ctx, full).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			return false, nil, fmt.Errorf("read idempotency key: %w", err)
		}
		return true, held, nil
	}
	return false, nil, fmt.Errorf("claim idempotency key %s: expired %d times while reading", key, claimAttempts)
}

// Update replaces the value held under key and restarts its TTL.
func (s *IdempotencyStore) Update(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

// Release drops a claimed key so the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
