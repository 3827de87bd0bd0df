package pebble

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

type storeMeta struct {
	Writer   domain.WriterID `json:"writer,omitempty"`
	Counters ledger.Counters `json:"counters"`
}

// LedgerRepository implements ledger.Sink and ledger.Loader on pebble.
// Each change set is written as one synced batch.
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Persist writes cs atomically.
func (r *LedgerRepository) Persist(ctx context.Context, cs *ledger.ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var meta storeMeta
	if _, err := r.db.getJSON(metaKey(cs.Store), &meta); err != nil {
		return fmt.Errorf("read meta of %s: %w", cs.Store, err)
	}
	if cs.Writer != "" {
		meta.Writer = cs.Writer
	}
	if cs.Counters != nil {
		meta.Counters = *cs.Counters
	}

	b := r.db.db.NewBatch()
	defer b.Close()

	if err := setJSON(b, metaKey(cs.Store), meta); err != nil {
		return err
	}
	for _, row := range cs.Balances {
		if err := setJSON(b, balanceKey(cs.Store, row.Owner, row.Asset), row); err != nil {
			return err
		}
	}
	for _, row := range cs.Custody {
		if err := setJSON(b, assetKey(cs.Store, kindCustody, row.Asset), row); err != nil {
			return err
		}
	}
	for _, row := range cs.Prices {
		if err := setJSON(b, assetKey(cs.Store, kindPrice, row.Asset), row); err != nil {
			return err
		}
	}
	for _, o := range cs.Orders {
		if err := setJSON(b, idKey(cs.Store, kindOrder, o.ID), o); err != nil {
			return err
		}
	}
	for _, a := range cs.Agreements {
		if err := setJSON(b, agreementKey(cs.Store, a.OrderID, a.ID), a); err != nil {
			return err
		}
	}
	for _, e := range cs.Escrows {
		if err := setJSON(b, idKey(cs.Store, kindEscrow, e.ID), e); err != nil {
			return err
		}
	}
	for _, a := range cs.Applications {
		if err := setJSON(b, idKey(cs.Store, kindApplication, a.EscrowID), a); err != nil {
			return err
		}
	}
	for _, ev := range cs.Events {
		if err := setJSON(b, pendingKey(ev.ID), ev); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit change set of %s: %w", cs.Store, err)
	}
	return nil
}

// Load reads the persisted contents of a store, or (nil, nil) if none.
func (r *LedgerRepository) Load(ctx context.Context, store string) (*ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var meta storeMeta
	found, err := r.db.getJSON(metaKey(store), &meta)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	counters := meta.Counters
	snap := &ledger.Snapshot{
		Store:   store,
		Writer:  meta.Writer,
		Records: ledger.Records{Counters: &counters},
	}

	if snap.Balances, err = scanAll[ledger.BalanceRow](r.db, storePrefix(store, kindBalance)); err != nil {
		return nil, err
	}
	if snap.Custody, err = scanAll[ledger.CustodyRow](r.db, storePrefix(store, kindCustody)); err != nil {
		return nil, err
	}
	if snap.Prices, err = scanAll[ledger.PriceRow](r.db, storePrefix(store, kindPrice)); err != nil {
		return nil, err
	}
	if snap.Orders, err = scanAll[domain.Order](r.db, storePrefix(store, kindOrder)); err != nil {
		return nil, err
	}
	if snap.Agreements, err = scanAll[domain.Agreement](r.db, storePrefix(store, kindAgreement)); err != nil {
		return nil, err
	}
	if snap.Escrows, err = scanAll[domain.Escrow](r.db, storePrefix(store, kindEscrow)); err != nil {
		return nil, err
	}
	if snap.Applications, err = scanAll[domain.TransferApplication](r.db, storePrefix(store, kindApplication)); err != nil {
		return nil, err
	}

	return snap, nil
}

func scanAll[T any](db *DB, prefix []byte) ([]T, error) {
	var out []T
	err := db.scan(prefix, func(key, val []byte) error {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}
