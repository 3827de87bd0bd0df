package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

const (
	owner = domain.Address("0x1000000000000000000000000000000000000002")
	asset = domain.Address("0x2000000000000000000000000000000000000001")
)

func TestRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()

	snap, err := repo.Load(ctx, "escrow")
	require.NoError(t, err)
	assert.Nil(t, snap)

	s, err := ledger.Open(ctx, repo, ledger.Options{
		Name:    "escrow",
		Pointer: ledger.NewPointer("escrow/v1", "upgrader"),
		Sink:    repo,
	})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, "escrow/v1", func(_ context.Context, tx *ledger.Tx) error {
		if err := tx.Credit(owner, asset, 10); err != nil {
			return err
		}
		return tx.Emit(domain.AggregateTypeBalance, "b", domain.EventTypeDepositCredited, map[string]any{"amount": "10"})
	}))

	restored, err := ledger.Open(ctx, repo, ledger.Options{
		Name:    "escrow",
		Pointer: ledger.NewPointer("escrow/v1", "upgrader"),
	})
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), restored.Snapshot())
}

func TestRepository_Outbox(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	now := time.Now()

	require.NoError(t, repo.Persist(ctx, &ledger.ChangeSet{Store: "exchange", Events: []*domain.OutboxEvent{
		{ID: "1", AggregateType: "order", AggregateID: "1", CreatedAt: now},
		{ID: "2", AggregateType: "order", AggregateID: "2", CreatedAt: now},
	}}))

	events, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NoError(t, repo.MarkPublished(ctx, "1", now))
	events, err = repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2", events[0].ID)

	byAggregate, err := repo.GetByAggregate(ctx, "order", "1", 10, 0)
	require.NoError(t, err)
	require.Len(t, byAggregate, 1)
	assert.True(t, byAggregate[0].Published)

	require.NoError(t, repo.DeletePublished(ctx, now.Add(time.Second)))
	byAggregate, err = repo.GetByAggregate(ctx, "order", "1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, byAggregate)
}
