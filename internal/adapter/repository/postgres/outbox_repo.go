package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/custody/internal/domain"
)

const outboxColumns = `id, store, aggregate_id, aggregate_type, event_type, payload, created_at, published_at, published`

// OutboxRepository implements usecase.OutboxRepository. Events are written
// by LedgerRepository in the same transaction as the change set they
// describe.
type OutboxRepository struct {
	pool pgxPool
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return newOutboxRepositoryWithPool(pool)
}

func newOutboxRepositoryWithPool(pool pgxPool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// GetUnpublished retrieves unpublished events, oldest first.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events WHERE NOT published
		ORDER BY created_at, id LIMIT $1`, int32(limit))
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanOutboxEvent)
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET published = TRUE, published_at = $2 WHERE id = $1`,
		id, timeToPgTimestamptz(publishedAt))
	return err
}

// GetByAggregate retrieves events for a specific aggregate.
func (r *OutboxRepository) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at, id LIMIT $3 OFFSET $4`,
		aggregateType, aggregateID, int32(limit), int32(offset))
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanOutboxEvent)
}

// DeletePublished deletes published events older than the given time.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events WHERE published AND published_at < $1`,
		timeToPgTimestamptz(before))
	return err
}

func scanOutboxEvent(row pgx.CollectableRow) (*domain.OutboxEvent, error) {
	var (
		ev      domain.OutboxEvent
		payload []byte
	)
	if err := row.Scan(&ev.ID, &ev.Store, &ev.AggregateID, &ev.AggregateType, &ev.EventType,
		&payload, &ev.CreatedAt, &ev.PublishedAt, &ev.Published); err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of event %s: %w", ev.ID, err)
		}
	}

	return &ev, nil
}
