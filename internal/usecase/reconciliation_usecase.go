package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

// ReconciliationUseCase checks ledger stores for accounting drift, both
// internally and against their persisted copy.
type ReconciliationUseCase struct {
	stores map[string]*ledger.Store
	loader ledger.Loader
}

// NewReconciliationUseCase creates a new reconciliation use case. loader may
// be nil for memory-only stores.
func NewReconciliationUseCase(loader ledger.Loader, stores ...*ledger.Store) *ReconciliationUseCase {
	m := make(map[string]*ledger.Store, len(stores))
	for _, s := range stores {
		m[s.Name()] = s
	}
	return &ReconciliationUseCase{stores: m, loader: loader}
}

// PersistenceMismatch is a balance row whose persisted value differs from
// the live store.
type PersistenceMismatch struct {
	Owner     domain.Address     `json:"owner"`
	Asset     domain.Address     `json:"asset"`
	Live      *ledger.BalanceRow `json:"live,omitempty"`
	Persisted *ledger.BalanceRow `json:"persisted,omitempty"`
}

// StoreReconciliation is the reconciliation result of one store.
type StoreReconciliation struct {
	ledger.ConsistencyReport
	Writer             domain.WriterID       `json:"writer"`
	PersistenceChecked bool                  `json:"persistence_checked"`
	Mismatches         []PersistenceMismatch `json:"mismatches,omitempty"`
}

// Reconciled reports whether the store passed every check.
func (r *StoreReconciliation) Reconciled() bool {
	return r.Consistent && len(r.Mismatches) == 0
}

// ReconciliationReport represents a full reconciliation report
type ReconciliationReport struct {
	Stores     []*StoreReconciliation `json:"stores"`
	Reconciled bool                   `json:"reconciled"`
	CheckedAt  time.Time              `json:"checked_at"`
}

// CheckStore reconciles one store.
func (uc *ReconciliationUseCase) CheckStore(ctx context.Context, name string) (*StoreReconciliation, error) {
	store, ok := uc.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownStore, name)
	}

	result := &StoreReconciliation{
		ConsistencyReport: store.CheckConsistency(),
		Writer:            store.Writer(),
	}
	if uc.loader == nil {
		return result, nil
	}

	persisted, err := uc.loader.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	result.PersistenceChecked = true
	var rows []ledger.BalanceRow
	if persisted != nil {
		rows = persisted.Balances
	}
	result.Mismatches = compareBalances(store.Snapshot().Balances, rows)
	return result, nil
}

// GenerateReconciliationReport reconciles every store.
func (uc *ReconciliationUseCase) GenerateReconciliationReport(ctx context.Context) (*ReconciliationReport, error) {
	names := make([]string, 0, len(uc.stores))
	for name := range uc.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &ReconciliationReport{Reconciled: true, CheckedAt: time.Now().UTC()}
	for _, name := range names {
		result, err := uc.CheckStore(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile store %s: %w", name, err)
		}
		report.Stores = append(report.Stores, result)
		if !result.Reconciled() {
			report.Reconciled = false
		}
	}
	return report, nil
}

func compareBalances(live, persisted []ledger.BalanceRow) []PersistenceMismatch {
	index := make(map[ledger.Key]*ledger.BalanceRow, len(persisted))
	for i := range persisted {
		row := &persisted[i]
		index[ledger.Key{Owner: row.Owner, Asset: row.Asset}] = row
	}

	var out []PersistenceMismatch
	for i := range live {
		row := &live[i]
		k := ledger.Key{Owner: row.Owner, Asset: row.Asset}
		stored, ok := index[k]
		delete(index, k)
		if ok && *stored == *row {
			continue
		}
		out = append(out, PersistenceMismatch{Owner: row.Owner, Asset: row.Asset, Live: row, Persisted: stored})
	}
	for k, stored := range index {
		if stored.Available.IsZero() && stored.Committed.IsZero() {
			continue
		}
		out = append(out, PersistenceMismatch{Owner: k.Owner, Asset: k.Asset, Persisted: stored})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}
