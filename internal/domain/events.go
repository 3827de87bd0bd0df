package domain

import "time"

// Event types
const (
	EventTypeDepositCredited     = "deposit.credited"
	EventTypeWithdrawalCompleted = "withdrawal.completed"
	EventTypeWithdrawalReverted  = "withdrawal.reverted"
	EventTypeOrderCreated        = "order.created"
	EventTypeOrderCanceled       = "order.canceled"
	EventTypeAgreementCreated    = "agreement.created"
	EventTypeAgreementConfirmed  = "agreement.confirmed"
	EventTypeAgreementCanceled   = "agreement.canceled"
	EventTypeEscrowCreated       = "escrow.created"
	EventTypeEscrowCanceled      = "escrow.canceled"
	EventTypeEscrowFinished      = "escrow.finished"
	EventTypeEscrowRestored      = "escrow.restored"
	EventTypeTransferApproved    = "transfer.approved"
	EventTypeWriterUpgraded      = "writer.upgraded"
)

// Aggregate types
const (
	AggregateTypeBalance   = "balance"
	AggregateTypeOrder     = "order"
	AggregateTypeAgreement = "agreement"
	AggregateTypeEscrow    = "escrow"
	AggregateTypeStore     = "store"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string         `json:"id"`
	Store         string         `json:"store"`
	AggregateID   string         `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
	Published     bool           `json:"published"`
}
