package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

// LedgerRepository persists ledger stores in PostgreSQL. It implements
// ledger.Sink and ledger.Loader.
type LedgerRepository struct {
	pool    pgxPool
	txm     *TxManager
	retrier *Retrier
	clock   func() time.Time
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(pool *pgxpool.Pool, retrier *Retrier) *LedgerRepository {
	return newLedgerRepositoryWithPool(pool, retrier)
}

func newLedgerRepositoryWithPool(pool pgxPool, retrier *Retrier) *LedgerRepository {
	if retrier == nil {
		retrier = NewRetrier()
	}
	return &LedgerRepository{
		pool:    pool,
		txm:     newTxManagerWithPool(pool),
		retrier: retrier,
		clock:   time.Now,
	}
}

// Persist writes cs in one transaction, retrying transient conflicts.
func (r *LedgerRepository) Persist(ctx context.Context, cs *ledger.ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	return r.retrier.Retry(ctx, "persist "+cs.Store, func() error {
		return r.txm.InTx(ctx, func(tx pgx.Tx) error {
			return r.persist(ctx, tx, cs)
		})
	})
}

func (r *LedgerRepository) persist(ctx context.Context, tx pgx.Tx, cs *ledger.ChangeSet) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_stores (name, writer, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET writer = COALESCE(EXCLUDED.writer, ledger_stores.writer), updated_at = EXCLUDED.updated_at`,
		cs.Store, textOrNull(string(cs.Writer)), timeToPgTimestamptz(r.clock()),
	); err != nil {
		return fmt.Errorf("upsert store %s: %w", cs.Store, err)
	}

	if c := cs.Counters; c != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE ledger_stores SET latest_order_id = $2, latest_escrow_id = $3 WHERE name = $1`,
			cs.Store, int64(c.LatestOrderID), int64(c.LatestEscrowID),
		); err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
	}

	for _, b := range cs.Balances {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_balances (store, owner, asset, available, committed)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (store, owner, asset) DO UPDATE
			SET available = EXCLUDED.available, committed = EXCLUDED.committed`,
			cs.Store, string(b.Owner), string(b.Asset), amountToNumeric(b.Available), amountToNumeric(b.Committed),
		); err != nil {
			return fmt.Errorf("upsert balance %s/%s: %w", b.Owner, b.Asset, err)
		}
	}

	for _, c := range cs.Custody {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_custody (store, asset, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (store, asset) DO UPDATE SET amount = EXCLUDED.amount`,
			cs.Store, string(c.Asset), amountToNumeric(c.Amount),
		); err != nil {
			return fmt.Errorf("upsert custody %s: %w", c.Asset, err)
		}
	}

	for _, p := range cs.Prices {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_prices (store, asset, price)
			VALUES ($1, $2, $3)
			ON CONFLICT (store, asset) DO UPDATE SET price = EXCLUDED.price`,
			cs.Store, string(p.Asset), amountToNumeric(p.Price),
		); err != nil {
			return fmt.Errorf("upsert price %s: %w", p.Asset, err)
		}
	}

	for _, o := range cs.Orders {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_orders (store, id, maker, counterpart, asset, remaining, original_amount, price, agent, side, canceled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (store, id) DO UPDATE
			SET remaining = EXCLUDED.remaining, canceled = EXCLUDED.canceled`,
			cs.Store, int64(o.ID), string(o.Maker), textOrNull(string(o.Counterpart)), string(o.Asset),
			amountToNumeric(o.Remaining), amountToNumeric(o.OriginalAmount), amountToNumeric(o.Price),
			string(o.Agent), string(o.Side), o.Canceled,
		); err != nil {
			return fmt.Errorf("upsert order %d: %w", o.ID, err)
		}
	}

	for _, a := range cs.Agreements {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_agreements (store, order_id, id, counterparty, amount, price, canceled, paid)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (store, order_id, id) DO UPDATE
			SET canceled = EXCLUDED.canceled, paid = EXCLUDED.paid`,
			cs.Store, int64(a.OrderID), int64(a.ID), string(a.Counterparty),
			amountToNumeric(a.Amount), amountToNumeric(a.Price), a.Canceled, a.Paid,
		); err != nil {
			return fmt.Errorf("upsert agreement %d/%d: %w", a.OrderID, a.ID, err)
		}
	}

	for _, e := range cs.Escrows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_escrows (store, id, asset, sender, recipient, amount, agent, valid, settled, memo)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (store, id) DO UPDATE
			SET valid = EXCLUDED.valid, settled = EXCLUDED.settled`,
			cs.Store, int64(e.ID), string(e.Asset), string(e.Sender), string(e.Recipient),
			amountToNumeric(e.Amount), string(e.Agent), e.Valid, e.Settled, e.Memo,
		); err != nil {
			return fmt.Errorf("upsert escrow %d: %w", e.ID, err)
		}
	}

	for _, a := range cs.Applications {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_transfer_applications (store, escrow_id, application_data, approval_data, pending, valid, escrow_finished)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (store, escrow_id) DO UPDATE
			SET approval_data = EXCLUDED.approval_data, pending = EXCLUDED.pending,
				valid = EXCLUDED.valid, escrow_finished = EXCLUDED.escrow_finished`,
			cs.Store, int64(a.EscrowID), a.ApplicationData, a.ApprovalData, a.Pending, a.Valid, a.EscrowFinished,
		); err != nil {
			return fmt.Errorf("upsert transfer application %d: %w", a.EscrowID, err)
		}
	}

	for _, ev := range cs.Events {
		if err := insertOutboxEvent(ctx, tx, ev); err != nil {
			return err
		}
	}

	return nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, ev *domain.OutboxEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, store, aggregate_id, aggregate_type, event_type, payload, created_at, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Store, ev.AggregateID, ev.AggregateType, ev.EventType, payload,
		timeToPgTimestamptz(ev.CreatedAt), ev.Published,
	); err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}

	return nil
}

// Load reads the full contents of a store. It returns (nil, nil) if the
// store was never persisted.
func (r *LedgerRepository) Load(ctx context.Context, store string) (*ledger.Snapshot, error) {
	var (
		writer         string
		latestOrderID  int64
		latestEscrowID int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(writer, ''), latest_order_id, latest_escrow_id
		FROM ledger_stores WHERE name = $1`, store,
	).Scan(&writer, &latestOrderID, &latestEscrowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load store %s: %w", store, err)
	}

	snap := &ledger.Snapshot{
		Store:  store,
		Writer: domain.WriterID(writer),
		Records: ledger.Records{
			Counters: &ledger.Counters{
				LatestOrderID:  uint64(latestOrderID),
				LatestEscrowID: uint64(latestEscrowID),
			},
		},
	}

	if snap.Balances, err = queryRows(ctx, r.pool, `
		SELECT owner, asset, available::text, committed::text
		FROM ledger_balances WHERE store = $1 ORDER BY owner, asset`, store, scanBalance); err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	if snap.Custody, err = queryRows(ctx, r.pool, `
		SELECT asset, amount::text FROM ledger_custody WHERE store = $1 ORDER BY asset`, store, scanCustody); err != nil {
		return nil, fmt.Errorf("load custody: %w", err)
	}
	if snap.Prices, err = queryRows(ctx, r.pool, `
		SELECT asset, price::text FROM ledger_prices WHERE store = $1 ORDER BY asset`, store, scanPrice); err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	if snap.Orders, err = queryRows(ctx, r.pool, `
		SELECT id, maker, COALESCE(counterpart, ''), asset, remaining::text, original_amount::text, price::text, agent, side, canceled
		FROM ledger_orders WHERE store = $1 ORDER BY id`, store, scanOrder); err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	if snap.Agreements, err = queryRows(ctx, r.pool, `
		SELECT order_id, id, counterparty, amount::text, price::text, canceled, paid
		FROM ledger_agreements WHERE store = $1 ORDER BY order_id, id`, store, scanAgreement); err != nil {
		return nil, fmt.Errorf("load agreements: %w", err)
	}
	if snap.Escrows, err = queryRows(ctx, r.pool, `
		SELECT id, asset, sender, recipient, amount::text, agent, valid, settled, memo
		FROM ledger_escrows WHERE store = $1 ORDER BY id`, store, scanEscrow); err != nil {
		return nil, fmt.Errorf("load escrows: %w", err)
	}
	if snap.Applications, err = queryRows(ctx, r.pool, `
		SELECT escrow_id, application_data, approval_data, pending, valid, escrow_finished
		FROM ledger_transfer_applications WHERE store = $1 ORDER BY escrow_id`, store, scanApplication); err != nil {
		return nil, fmt.Errorf("load transfer applications: %w", err)
	}

	return snap, nil
}

func queryRows[T any](ctx context.Context, pool pgxPool, sql, store string, scan func(pgx.CollectableRow) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, sql, store)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scan)
}

func parseAmounts(literals ...string) ([]domain.Amount, error) {
	out := make([]domain.Amount, len(literals))
	for i, s := range literals {
		a, err := domain.ParseAmount(s)
		if err != nil {
			return nil, fmt.Errorf("stored amount: %w", err)
		}
		out[i] = a
	}
	return out, nil
}

func scanBalance(row pgx.CollectableRow) (ledger.BalanceRow, error) {
	var owner, asset, available, committed string
	if err := row.Scan(&owner, &asset, &available, &committed); err != nil {
		return ledger.BalanceRow{}, err
	}
	amounts, err := parseAmounts(available, committed)
	if err != nil {
		return ledger.BalanceRow{}, err
	}
	return ledger.BalanceRow{
		Owner:     domain.Address(owner),
		Asset:     domain.Address(asset),
		Available: amounts[0],
		Committed: amounts[1],
	}, nil
}

func scanCustody(row pgx.CollectableRow) (ledger.CustodyRow, error) {
	var asset, amount string
	if err := row.Scan(&asset, &amount); err != nil {
		return ledger.CustodyRow{}, err
	}
	amounts, err := parseAmounts(amount)
	if err != nil {
		return ledger.CustodyRow{}, err
	}
	return ledger.CustodyRow{Asset: domain.Address(asset), Amount: amounts[0]}, nil
}

func scanPrice(row pgx.CollectableRow) (ledger.PriceRow, error) {
	var asset, price string
	if err := row.Scan(&asset, &price); err != nil {
		return ledger.PriceRow{}, err
	}
	amounts, err := parseAmounts(price)
	if err != nil {
		return ledger.PriceRow{}, err
	}
	return ledger.PriceRow{Asset: domain.Address(asset), Price: amounts[0]}, nil
}

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var (
		id                                     int64
		maker, counterpart, asset, agent, side string
		remaining, original, price             string
		canceled                               bool
	)
	if err := row.Scan(&id, &maker, &counterpart, &asset, &remaining, &original, &price, &agent, &side, &canceled); err != nil {
		return domain.Order{}, err
	}
	amounts, err := parseAmounts(remaining, original, price)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:             uint64(id),
		Maker:          domain.Address(maker),
		Counterpart:    domain.Address(counterpart),
		Asset:          domain.Address(asset),
		Remaining:      amounts[0],
		OriginalAmount: amounts[1],
		Price:          amounts[2],
		Agent:          domain.Address(agent),
		Side:           domain.Side(side),
		Canceled:       canceled,
	}, nil
}

func scanAgreement(row pgx.CollectableRow) (domain.Agreement, error) {
	var (
		orderID, id                 int64
		counterparty, amount, price string
		canceled, paid              bool
	)
	if err := row.Scan(&orderID, &id, &counterparty, &amount, &price, &canceled, &paid); err != nil {
		return domain.Agreement{}, err
	}
	amounts, err := parseAmounts(amount, price)
	if err != nil {
		return domain.Agreement{}, err
	}
	return domain.Agreement{
		OrderID:      uint64(orderID),
		ID:           uint64(id),
		Counterparty: domain.Address(counterparty),
		Amount:       amounts[0],
		Price:        amounts[1],
		Canceled:     canceled,
		Paid:         paid,
	}, nil
}

func scanEscrow(row pgx.CollectableRow) (domain.Escrow, error) {
	var (
		id                                            int64
		asset, sender, recipient, amount, agent, memo string
		valid, settled                                bool
	)
	if err := row.Scan(&id, &asset, &sender, &recipient, &amount, &agent, &valid, &settled, &memo); err != nil {
		return domain.Escrow{}, err
	}
	amounts, err := parseAmounts(amount)
	if err != nil {
		return domain.Escrow{}, err
	}
	return domain.Escrow{
		ID:        uint64(id),
		Asset:     domain.Address(asset),
		Sender:    domain.Address(sender),
		Recipient: domain.Address(recipient),
		Amount:    amounts[0],
		Agent:     domain.Address(agent),
		Valid:     valid,
		Settled:   settled,
		Memo:      memo,
	}, nil
}

func scanApplication(row pgx.CollectableRow) (domain.TransferApplication, error) {
	var (
		escrowID                  int64
		applicationData, approval string
		pending, valid, finished  bool
	)
	if err := row.Scan(&escrowID, &applicationData, &approval, &pending, &valid, &finished); err != nil {
		return domain.TransferApplication{}, err
	}
	return domain.TransferApplication{
		EscrowID:        uint64(escrowID),
		ApplicationData: applicationData,
		ApprovalData:    approval,
		Pending:         pending,
		Valid:           valid,
		EscrowFinished:  finished,
	}, nil
}
