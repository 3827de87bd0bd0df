// Package memory keeps ledger change sets and outbox events in process.
// It backs STORAGE_DRIVER=memory and tests; contents are lost on restart.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

type storeRows struct {
	writer       domain.WriterID
	counters     ledger.Counters
	balances     map[ledger.Key]ledger.BalanceRow
	custody      map[domain.Address]ledger.CustodyRow
	prices       map[domain.Address]ledger.PriceRow
	orders       map[uint64]domain.Order
	agreements   map[domain.AgreementKey]domain.Agreement
	escrows      map[uint64]domain.Escrow
	applications map[uint64]domain.TransferApplication
}

func newStoreRows() *storeRows {
	return &storeRows{
		balances:     make(map[ledger.Key]ledger.BalanceRow),
		custody:      make(map[domain.Address]ledger.CustodyRow),
		prices:       make(map[domain.Address]ledger.PriceRow),
		orders:       make(map[uint64]domain.Order),
		agreements:   make(map[domain.AgreementKey]domain.Agreement),
		escrows:      make(map[uint64]domain.Escrow),
		applications: make(map[uint64]domain.TransferApplication),
	}
}

// Repository implements ledger.Sink, ledger.Loader and
// usecase.OutboxRepository.
type Repository struct {
	mu     sync.RWMutex
	stores map[string]*storeRows
	events []*domain.OutboxEvent
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{stores: make(map[string]*storeRows)}
}

// Persist merges cs into the stored rows and queues its events.
func (r *Repository) Persist(ctx context.Context, cs *ledger.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cs == nil || cs.Empty() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, ok := r.stores[cs.Store]
	if !ok {
		rows = newStoreRows()
		r.stores[cs.Store] = rows
	}
	if cs.Writer != "" {
		rows.writer = cs.Writer
	}
	if cs.Counters != nil {
		rows.counters = *cs.Counters
	}
	for _, b := range cs.Balances {
		rows.balances[ledger.Key{Owner: b.Owner, Asset: b.Asset}] = b
	}
	for _, c := range cs.Custody {
		rows.custody[c.Asset] = c
	}
	for _, p := range cs.Prices {
		rows.prices[p.Asset] = p
	}
	for _, o := range cs.Orders {
		rows.orders[o.ID] = o
	}
	for _, a := range cs.Agreements {
		rows.agreements[domain.AgreementKey{OrderID: a.OrderID, AgreementID: a.ID}] = a
	}
	for _, e := range cs.Escrows {
		rows.escrows[e.ID] = e
	}
	for _, a := range cs.Applications {
		rows.applications[a.EscrowID] = a
	}
	for _, ev := range cs.Events {
		cp := *ev
		r.events = append(r.events, &cp)
	}
	return nil
}

// Load returns the merged rows of store, or (nil, nil) if none.
func (r *Repository) Load(ctx context.Context, store string) (*ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, ok := r.stores[store]
	if !ok {
		return nil, nil
	}

	counters := rows.counters
	snap := &ledger.Snapshot{
		Store:  store,
		Writer: rows.writer,
		Records: ledger.Records{
			Balances:     sortedValues(rows.balances, func(a, b ledger.BalanceRow) int { return compareKeys(a, b) }),
			Custody:      sortedValues(rows.custody, func(a, b ledger.CustodyRow) int { return strings.Compare(string(a.Asset), string(b.Asset)) }),
			Prices:       sortedValues(rows.prices, func(a, b ledger.PriceRow) int { return strings.Compare(string(a.Asset), string(b.Asset)) }),
			Orders:       sortedValues(rows.orders, func(a, b domain.Order) int { return cmpUint(a.ID, b.ID) }),
			Agreements:   sortedValues(rows.agreements, compareAgreements),
			Escrows:      sortedValues(rows.escrows, func(a, b domain.Escrow) int { return cmpUint(a.ID, b.ID) }),
			Applications: sortedValues(rows.applications, func(a, b domain.TransferApplication) int { return cmpUint(a.EscrowID, b.EscrowID) }),
			Counters:     &counters,
		},
	}
	return snap, nil
}

// GetUnpublished returns up to limit unpublished events in creation order.
func (r *Repository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.OutboxEvent, 0, limit)
	for _, ev := range r.events {
		if len(out) >= limit {
			break
		}
		if !ev.Published {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkPublished marks an event as published.
func (r *Repository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range r.events {
		if ev.ID == id {
			ev.Published = true
			ev.PublishedAt = &publishedAt
			return nil
		}
	}
	return nil
}

// GetByAggregate returns events for one aggregate in creation order.
func (r *Repository) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.OutboxEvent
	for _, ev := range r.events {
		if ev.AggregateType == aggregateType && ev.AggregateID == aggregateID {
			cp := *ev
			matched = append(matched, &cp)
		}
	}
	if offset >= len(matched) {
		return []*domain.OutboxEvent{}, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// DeletePublished drops published events older than before.
func (r *Repository) DeletePublished(ctx context.Context, before time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = slices.DeleteFunc(r.events, func(ev *domain.OutboxEvent) bool {
		return ev.Published && ev.PublishedAt != nil && ev.PublishedAt.Before(before)
	})
	return nil
}

func sortedValues[K comparable, V any](m map[K]V, cmp func(a, b V) int) []V {
	if len(m) == 0 {
		return nil
	}
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, cmp)
	return out
}

func compareKeys(a, b ledger.BalanceRow) int {
	if c := strings.Compare(string(a.Owner), string(b.Owner)); c != 0 {
		return c
	}
	return strings.Compare(string(a.Asset), string(b.Asset))
}

func compareAgreements(a, b domain.Agreement) int {
	if c := cmpUint(a.OrderID, b.OrderID); c != 0 {
		return c
	}
	return cmpUint(a.ID, b.ID)
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
