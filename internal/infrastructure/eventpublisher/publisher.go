// Package eventpublisher relays outbox events written alongside ledger
// change sets to an external sink.
package eventpublisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/usecase"
)

// Publisher hands one event to an external sink.
type Publisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// Observer is told about every publish attempt.
type Observer interface {
	ObservePublish(eventType string, err error)
	ObserveBacklog(n int)
}

type nopObserver struct{}

func (nopObserver) ObservePublish(string, error) {}
func (nopObserver) ObserveBacklog(int)           {}

// Config for EventPublisher. Zero BatchSize and Interval select 100 events
// and 5s.
type Config struct {
	OutboxRepo usecase.OutboxRepository
	Publisher  Publisher
	Observer   Observer
	Logger     zerolog.Logger
	BatchSize  int
	Interval   time.Duration
	// Retention is how long published events are kept. Zero keeps them.
	Retention time.Duration
}

// EventPublisher polls the outbox and relays unpublished events in
// creation order. Events of an aggregate whose earlier event failed are
// held back until the next poll, so consumers see each aggregate in order.
type EventPublisher struct {
	outbox    usecase.OutboxRepository
	sink      Publisher
	observer  Observer
	logger    zerolog.Logger
	batchSize int
	interval  time.Duration
	retention time.Duration
	clock     func() time.Time
}

// NewEventPublisher creates a relay from cfg.
func NewEventPublisher(cfg Config) *EventPublisher {
	ep := &EventPublisher{
		outbox:    cfg.OutboxRepo,
		sink:      cfg.Publisher,
		observer:  cfg.Observer,
		logger:    cfg.Logger.With().Str("component", "outbox_relay").Logger(),
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		clock:     time.Now,
	}
	if ep.batchSize <= 0 {
		ep.batchSize = 100
	}
	if ep.interval <= 0 {
		ep.interval = 5 * time.Second
	}
	if ep.observer == nil {
		ep.observer = nopObserver{}
	}
	return ep
}

// Run polls until ctx is done and returns ctx.Err().
func (ep *EventPublisher) Run(ctx context.Context) error {
	ep.logger.Info().
		Int("batch_size", ep.batchSize).
		Dur("interval", ep.interval).
		Dur("retention", ep.retention).
		Msg("outbox relay started")

	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	for {
		ep.poll(ctx)

		select {
		case <-ctx.Done():
			ep.logger.Info().Msg("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll drains the backlog: it keeps fetching while batches come back full
// and at least one event of the last batch went out.
func (ep *EventPublisher) poll(ctx context.Context) {
	for ctx.Err() == nil {
		fetched, published, err := ep.relayBatch(ctx)
		if err != nil {
			ep.logger.Error().Err(err).Msg("failed to read outbox")
			break
		}
		if fetched < ep.batchSize || published == 0 {
			break
		}
	}

	if ep.retention > 0 {
		if err := ep.outbox.DeletePublished(ctx, ep.clock().Add(-ep.retention)); err != nil {
			ep.logger.Error().Err(err).Msg("failed to prune published events")
		}
	}
}

// relayBatch publishes one batch and reports how many events it fetched
// and how many it marked published.
func (ep *EventPublisher) relayBatch(ctx context.Context) (fetched, published int, err error) {
	events, err := ep.outbox.GetUnpublished(ctx, ep.batchSize)
	if err != nil {
		return 0, 0, err
	}
	ep.observer.ObserveBacklog(len(events))

	held := make(map[string]bool)
	for _, event := range events {
		aggregate := event.AggregateType + "/" + event.AggregateID
		if held[aggregate] {
			continue
		}

		l := ep.logger.With().
			Str("event_id", event.ID).
			Str("event_type", event.EventType).
			Str("store", event.Store).
			Logger()

		err := ep.sink.Publish(ctx, event)
		ep.observer.ObservePublish(event.EventType, err)
		if err != nil {
			l.Error().Err(err).Msg("failed to publish event")
			held[aggregate] = true
			continue
		}
		if err := ep.outbox.MarkPublished(ctx, event.ID, ep.clock()); err != nil {
			l.Error().Err(err).Msg("failed to mark event published")
			held[aggregate] = true
			continue
		}

		published++
		l.Debug().Msg("event published")
	}
	return len(events), published, nil
}
