// Package ledger holds the persistent bookkeeping of one custodial store:
// per-owner available balances and commitments, order/agreement/escrow
// records and the id counters. Every mutation is gated on the store's
// version pointer and applied atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iho/custody/internal/domain"
)

// Options configures a Store.
type Options struct {
	Name    string
	Pointer VersionPointer
	// Sink persists every change set before it is applied. Nil keeps the
	// store memory-only.
	Sink Sink
	// Snapshot restores previously persisted contents.
	Snapshot *Snapshot
	// NewID generates outbox event ids. Defaults to ULIDs.
	NewID func() string
	Clock func() time.Time
}

// Store is a ledger store. Reads may run concurrently with a writer; they
// observe either the state before or after an operation, never a mix.
type Store struct {
	name    string
	pointer VersionPointer
	sink    Sink
	newID   func() string
	clock   func() time.Time

	writeMu sync.Mutex
	mu      sync.RWMutex
	st      *state
}

// New creates a store.
func New(opts Options) (*Store, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: store name is required", domain.ErrMalformedInput)
	}
	if opts.Pointer == nil {
		return nil, fmt.Errorf("%w: version pointer is required", domain.ErrMalformedInput)
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return ulid.Make().String() }
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Store{
		name:    opts.Name,
		pointer: opts.Pointer,
		sink:    opts.Sink,
		newID:   opts.NewID,
		clock:   opts.Clock,
		st:      newState(),
	}
	if opts.Snapshot != nil {
		if opts.Snapshot.Store != "" && opts.Snapshot.Store != opts.Name {
			return nil, fmt.Errorf("snapshot of store %q cannot restore %q", opts.Snapshot.Store, opts.Name)
		}
		s.st.load(opts.Snapshot.Records)
		if opts.Snapshot.Writer != "" && opts.Snapshot.Writer != opts.Pointer.Current() {
			opts.Pointer.Set(opts.Snapshot.Writer)
		}
	}
	return s, nil
}

// Open loads the persisted contents of a store with loader and creates it.
func Open(ctx context.Context, loader Loader, opts Options) (*Store, error) {
	snap, err := loader.Load(ctx, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("load store %s: %w", opts.Name, err)
	}
	opts.Snapshot = snap
	return New(opts)
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Writer returns the identity currently authorized to mutate the store.
func (s *Store) Writer() domain.WriterID {
	return s.pointer.Current()
}

type activeKey struct{ s *Store }

func (s *Store) active(ctx context.Context) bool {
	v, _ := ctx.Value(activeKey{s}).(bool)
	return v
}

// Update runs fn as a single atomic operation on behalf of writer.
//
// fn stages changes on tx. The changes are persisted and become visible only
// if fn returns nil. If fn returns ErrRollback the changes are discarded and
// Update returns nil; any other error is returned as is. fn must not call
// out to collaborators: calls with side effects are registered with
// Tx.AfterCommit and run once the changes are applied and the store is
// unlocked. Calling back into the same store from fn with the ctx given to
// it fails with ErrReentrant.
//
// Persisting ignores cancellation of ctx, so an operation whose callback
// completed is never lost halfway through a write.
func (s *Store) Update(ctx context.Context, writer domain.WriterID, fn func(ctx context.Context, tx *Tx) error) error {
	if s.active(ctx) {
		return ErrReentrant
	}

	hooks, err := s.update(ctx, writer, fn)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) update(ctx context.Context, writer domain.WriterID, fn func(ctx context.Context, tx *Tx) error) ([]func(context.Context) error, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.authorize(writer); err != nil {
		return nil, err
	}

	tx := newTx(s, writer)
	err := fn(context.WithValue(ctx, activeKey{s}, true), tx)
	tx.closed = true
	if errors.Is(err, ErrRollback) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cs := tx.changeSet()
	if cs.Empty() {
		return tx.after, nil
	}
	if s.sink != nil {
		if err := s.sink.Persist(context.WithoutCancel(ctx), cs); err != nil {
			return nil, fmt.Errorf("persist %s: %w", s.name, err)
		}
	}
	s.apply(tx)
	return tx.after, nil
}

func (s *Store) authorize(writer domain.WriterID) error {
	if current := s.pointer.Current(); writer != current {
		return fmt.Errorf("%w: %q is not the authorized writer of %s", domain.ErrWriteAuthority, writer, s.name)
	}
	return nil
}

// SetAuthorizedWriter repoints the store to next. Only the pointer's
// upgrader may do so. Writer identities are opaque; any well-formed id is
// accepted, including the current one.
func (s *Store) SetAuthorizedWriter(ctx context.Context, by, next domain.WriterID) error {
	if s.active(ctx) {
		return ErrReentrant
	}
	if err := next.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if by != s.pointer.Upgrader() {
		return fmt.Errorf("%w: %q may not repoint %s", domain.ErrUnauthorized, by, s.name)
	}

	previous := s.pointer.Current()
	cs := &ChangeSet{
		Store:  s.name,
		Writer: next,
		Events: []*domain.OutboxEvent{s.event(domain.AggregateTypeStore, s.name, domain.EventTypeWriterUpgraded, map[string]any{
			"previous": string(previous),
			"current":  string(next),
		})},
	}
	if s.sink != nil {
		if err := s.sink.Persist(context.WithoutCancel(ctx), cs); err != nil {
			return fmt.Errorf("persist %s: %w", s.name, err)
		}
	}
	s.pointer.Set(next)
	return nil
}

func (s *Store) event(aggregateType, aggregateID, eventType string, payload map[string]any) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            s.newID(),
		Store:         s.name,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     s.clock().UTC(),
	}
}

func (s *Store) apply(tx *Tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	for k, v := range tx.balances {
		st.balances[k] = v
	}
	for k, v := range tx.commitments {
		st.commitments[k] = v
	}
	for k, v := range tx.custody {
		st.custody[k] = v
	}
	for k, v := range tx.prices {
		st.prices[k] = v
	}
	for k, v := range tx.orders {
		st.orders[k] = v
	}
	for k, v := range tx.agreements {
		st.agreements[k] = v
	}
	for k, v := range tx.latestAgreement {
		st.latestAgreement[k] = v
	}
	for k, v := range tx.escrows {
		st.escrows[k] = v
	}
	for k, v := range tx.applications {
		st.applications[k] = v
	}
	st.latestOrderID = tx.latestOrderID
	st.latestEscrowID = tx.latestEscrowID
}

// BalanceOf returns the available balance of owner in asset.
func (s *Store) BalanceOf(owner, asset domain.Address) domain.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.balances[Key{Owner: owner, Asset: asset}]
}

// CommitmentOf returns the committed balance of owner in asset.
func (s *Store) CommitmentOf(owner, asset domain.Address) domain.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.commitments[Key{Owner: owner, Asset: asset}]
}

// Custody returns the net amount of asset held by the store.
func (s *Store) Custody(asset domain.Address) domain.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.custody[asset]
}

// LastPrice returns the price of the last confirmed agreement in asset.
func (s *Store) LastPrice(asset domain.Address) domain.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.prices[asset]
}

// Order returns the order with id, or the zero record.
func (s *Store) Order(id uint64) domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.orders[id]
}

// Agreement returns an agreement, or the zero record.
func (s *Store) Agreement(orderID, id uint64) domain.Agreement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.agreements[domain.AgreementKey{OrderID: orderID, AgreementID: id}]
}

// Escrow returns the escrow with id, or the zero record.
func (s *Store) Escrow(id uint64) domain.Escrow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.escrows[id]
}

// Application returns the transfer application of an escrow, or the zero record.
func (s *Store) Application(escrowID uint64) domain.TransferApplication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.applications[escrowID]
}

// LatestOrderID returns the highest order id issued.
func (s *Store) LatestOrderID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.latestOrderID
}

// LatestAgreementID returns the highest agreement id issued for an order.
func (s *Store) LatestAgreementID(orderID uint64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.latestAgreement[orderID]
}

// LatestEscrowID returns the highest escrow id issued.
func (s *Store) LatestEscrowID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.latestEscrowID
}

// Orders lists orders by ascending id.
func (s *Store) Orders(limit, offset int) []domain.Order {
	s.mu.RLock()
	all := sortedOrders(s.st.orders)
	s.mu.RUnlock()
	return page(all, limit, offset)
}

// Agreements lists the agreements of an order by ascending id.
func (s *Store) Agreements(orderID uint64) []domain.Agreement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.st.latestAgreement[orderID]
	out := make([]domain.Agreement, 0, latest)
	for id := uint64(1); id <= latest; id++ {
		if a, ok := s.st.agreements[domain.AgreementKey{OrderID: orderID, AgreementID: id}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Escrows lists escrows by ascending id.
func (s *Store) Escrows(limit, offset int) []domain.Escrow {
	s.mu.RLock()
	all := sortedEscrows(s.st.escrows)
	s.mu.RUnlock()
	return page(all, limit, offset)
}

// Balances lists every position held by owner.
func (s *Store) Balances(owner domain.Address) []BalanceRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []BalanceRow
	for _, row := range s.st.records().Balances {
		if row.Owner == owner {
			out = append(out, row)
		}
	}
	return out
}

// Snapshot returns the full contents of the store.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{Store: s.name, Writer: s.pointer.Current(), Records: s.st.records()}
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
