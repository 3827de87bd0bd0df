package usecase

import (
	"context"
	"time"

	"github.com/iho/custody/internal/domain"
)

// AssetGateway is the capability surface of the asset token collaborator.
// The engines never own its data; they only ask and signal.
type AssetGateway interface {
	// IsTradable reports the asset's status flag.
	IsTradable(ctx context.Context, asset domain.Address) (bool, error)
	// RequiresTransferApproval reports whether transfers of asset need
	// issuer sign-off.
	RequiresTransferApproval(ctx context.Context, asset domain.Address) (bool, error)
	// IsApprover reports whether caller may approve transfers of asset.
	IsApprover(ctx context.Context, asset, caller domain.Address) (bool, error)
	// TransferOut moves amount of asset out of custody to the holder.
	TransferOut(ctx context.Context, asset, to domain.Address, amount domain.Amount) error
	// ApplyForTransfer signals a new transfer application for an escrow.
	ApplyForTransfer(ctx context.Context, asset domain.Address, escrowID uint64, applicationData string) error
	// CancelTransferApplication signals that an escrow's application was withdrawn.
	CancelTransferApplication(ctx context.Context, asset domain.Address, escrowID uint64) error
}

// AgentRegistry is the payment-gateway registry of recognized agents.
type AgentRegistry interface {
	IsAgent(ctx context.Context, agent domain.Address) (bool, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error)
	DeletePublished(ctx context.Context, before time.Time) error
}

// Recorder observes engine operations.
type Recorder interface {
	ObserveOperation(engine, op, result string, duration time.Duration)
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a claimed key after a failed request.
	Release(ctx context.Context, key string) error
}
