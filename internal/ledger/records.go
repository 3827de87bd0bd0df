package ledger

import (
	"context"

	"github.com/iho/custody/internal/domain"
)

// Key addresses a balance/commitment pair.
type Key struct {
	Owner domain.Address
	Asset domain.Address
}

// BalanceRow is the persisted form of one owner/asset position.
type BalanceRow struct {
	Owner     domain.Address `json:"owner"`
	Asset     domain.Address `json:"asset"`
	Available domain.Amount  `json:"available"`
	Committed domain.Amount  `json:"committed"`
}

// CustodyRow is the net amount of an asset held by the store
// (deposits minus withdrawals).
type CustodyRow struct {
	Asset  domain.Address `json:"asset"`
	Amount domain.Amount  `json:"amount"`
}

// PriceRow is the last traded price of an asset.
type PriceRow struct {
	Asset domain.Address `json:"asset"`
	Price domain.Amount  `json:"price"`
}

// Counters holds the global id sequences of a store.
type Counters struct {
	LatestOrderID  uint64 `json:"latest_order_id"`
	LatestEscrowID uint64 `json:"latest_escrow_id"`
}

// Records is a set of rows, either the full contents of a store or the rows
// touched by one operation.
type Records struct {
	Balances     []BalanceRow                 `json:"balances,omitempty"`
	Custody      []CustodyRow                 `json:"custody,omitempty"`
	Prices       []PriceRow                   `json:"prices,omitempty"`
	Orders       []domain.Order               `json:"orders,omitempty"`
	Agreements   []domain.Agreement           `json:"agreements,omitempty"`
	Escrows      []domain.Escrow              `json:"escrows,omitempty"`
	Applications []domain.TransferApplication `json:"applications,omitempty"`
	Counters     *Counters                    `json:"counters,omitempty"`
}

// Empty reports whether r carries no rows.
func (r Records) Empty() bool {
	return len(r.Balances) == 0 &&
		len(r.Custody) == 0 &&
		len(r.Prices) == 0 &&
		len(r.Orders) == 0 &&
		len(r.Agreements) == 0 &&
		len(r.Escrows) == 0 &&
		len(r.Applications) == 0 &&
		r.Counters == nil
}

// ChangeSet is everything one committed operation wrote. Rows carry their
// full new values, so persisting a change set is a set of upserts.
type ChangeSet struct {
	Store string `json:"store"`
	// Writer is set only when the authorized writer was repointed.
	Writer domain.WriterID `json:"writer,omitempty"`
	Records
	Events []*domain.OutboxEvent `json:"events,omitempty"`
}

// Empty reports whether persisting cs would be a no-op.
func (cs *ChangeSet) Empty() bool {
	return cs.Writer == "" && cs.Records.Empty() && len(cs.Events) == 0
}

// Snapshot is the full persisted contents of a store.
type Snapshot struct {
	Store  string          `json:"store"`
	Writer domain.WriterID `json:"writer"`
	Records
}

// Sink persists change sets. A store applies a change set in memory only
// after Persist returns nil.
type Sink interface {
	Persist(ctx context.Context, cs *ChangeSet) error
}

// Loader reads a previously persisted store. It returns (nil, nil) when the
// store has never been persisted.
type Loader interface {
	Load(ctx context.Context, store string) (*Snapshot, error)
}
