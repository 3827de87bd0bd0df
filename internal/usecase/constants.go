package usecase

import "time"

const (
	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// Engine kinds, used as metric and log labels.
	EngineExchange = "exchange"
	EngineEscrow   = "escrow"
	EngineUpgrade  = "upgrade"

	// Operation results
	ResultApplied = "applied"
	ResultNoOp    = "noop"
	ResultError   = "error"
)
