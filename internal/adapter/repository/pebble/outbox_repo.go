package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/iho/custody/internal/domain"
)

// OutboxRepository implements usecase.OutboxRepository on the events
// written by LedgerRepository. Unpublished and published events live under
// separate prefixes; ULID ids keep each prefix in creation order.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// GetUnpublished retrieves up to limit unpublished events, oldest first.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent
	err := r.db.scan([]byte(outboxPending), func(key, val []byte) error {
		if len(events) >= limit {
			return errStop
		}
		ev, err := decodeEvent(key, val)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return events, nil
}

// MarkPublished moves an event under the published prefix.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	var ev domain.OutboxEvent
	found, err := r.db.getJSON(pendingKey(id), &ev)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	ev.Published = true
	ev.PublishedAt = &publishedAt

	b := r.db.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, publishedKey(id), &ev); err != nil {
		return err
	}
	if err := b.Delete(pendingKey(id), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// GetByAggregate retrieves events for a specific aggregate, published or not.
func (r *OutboxRepository) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	var matched []*domain.OutboxEvent
	collect := func(key, val []byte) error {
		ev, err := decodeEvent(key, val)
		if err != nil {
			return err
		}
		if ev.AggregateType == aggregateType && ev.AggregateID == aggregateID {
			matched = append(matched, ev)
		}
		return nil
	}
	if err := r.db.scan([]byte(outboxPublished), collect); err != nil {
		return nil, err
	}
	if err := r.db.scan([]byte(outboxPending), collect); err != nil {
		return nil, err
	}

	slices.SortStableFunc(matched, func(a, b *domain.OutboxEvent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if offset >= len(matched) {
		return []*domain.OutboxEvent{}, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// DeletePublished deletes published events older than the given time.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	b := r.db.db.NewBatch()
	defer b.Close()

	err := r.db.scan([]byte(outboxPublished), func(key, val []byte) error {
		ev, err := decodeEvent(key, val)
		if err != nil {
			return err
		}
		if ev.PublishedAt != nil && ev.PublishedAt.Before(before) {
			return b.Delete(key, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	return b.Commit(pebble.Sync)
}

var errStop = errors.New("stop scan")

func decodeEvent(key, val []byte) (*domain.OutboxEvent, error) {
	var ev domain.OutboxEvent
	if err := json.Unmarshal(val, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &ev, nil
}
