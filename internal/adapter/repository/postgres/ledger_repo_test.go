package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

const (
	testOwner = domain.Address("0x1000000000000000000000000000000000000002")
	testAsset = domain.Address("0x2000000000000000000000000000000000000001")
	testAgent = domain.Address("0x1000000000000000000000000000000000000004")
)

func fastRetrier() *Retrier {
	return NewRetrierWithPolicy(testPolicy(3))
}

func depositChangeSet() *ledger.ChangeSet {
	return &ledger.ChangeSet{
		Store: "exchange",
		Records: ledger.Records{
			Balances: []ledger.BalanceRow{{Owner: testOwner, Asset: testAsset, Available: 100}},
			Custody:  []ledger.CustodyRow{{Asset: testAsset, Amount: 100}},
		},
		Events: []*domain.OutboxEvent{{
			ID:            "01HZZZZZZZZZZZZZZZZZZZZZZZ",
			Store:         "exchange",
			AggregateID:   string(testOwner) + "/" + string(testAsset),
			AggregateType: domain.AggregateTypeBalance,
			EventType:     domain.EventTypeDepositCredited,
			Payload:       map[string]any{"amount": "100"},
			CreatedAt:     time.Now(),
		}},
	}
}

func expectDepositWrites(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("INSERT INTO ledger_stores").
		WithArgs("exchange", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO ledger_balances").
		WithArgs("exchange", string(testOwner), string(testAsset), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO ledger_custody").
		WithArgs("exchange", string(testAsset), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs("01HZZZZZZZZZZZZZZZZZZZZZZZ", "exchange", pgxmock.AnyArg(), domain.AggregateTypeBalance,
			domain.EventTypeDepositCredited, pgxmock.AnyArg(), pgxmock.AnyArg(), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestLedgerRepositoryPersist(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	expectDepositWrites(mock)
	mock.ExpectCommit()

	repo := newLedgerRepositoryWithPool(mock, fastRetrier())
	if err := repo.Persist(context.Background(), depositChangeSet()); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	assertExpectations(t, mock)
}

func TestLedgerRepositoryPersistWriterAndCounters(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_stores").
		WithArgs("exchange", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE ledger_stores SET latest_order_id").
		WithArgs("exchange", int64(4), int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO ledger_orders").
		WithArgs("exchange", int64(4), string(testOwner), pgxmock.AnyArg(), string(testAsset),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), string(testAgent), "sell", false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	cs := &ledger.ChangeSet{
		Store:  "exchange",
		Writer: "exchange/v2",
		Records: ledger.Records{
			Orders: []domain.Order{{
				ID: 4, Maker: testOwner, Asset: testAsset, Remaining: 10, OriginalAmount: 10,
				Price: 3, Agent: testAgent, Side: domain.SideSell,
			}},
			Counters: &ledger.Counters{LatestOrderID: 4},
		},
	}

	repo := newLedgerRepositoryWithPool(mock, fastRetrier())
	if err := repo.Persist(context.Background(), cs); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	assertExpectations(t, mock)
}

func TestLedgerRepositoryPersistEmpty(t *testing.T) {
	mock := newMockPool(t)

	repo := newLedgerRepositoryWithPool(mock, fastRetrier())
	if err := repo.Persist(context.Background(), &ledger.ChangeSet{Store: "exchange"}); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	assertExpectations(t, mock)
}

func TestLedgerRepositoryPersistRollsBack(t *testing.T) {
	mock := newMockPool(t)
	writeErr := errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_stores").
		WithArgs("exchange", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(writeErr)
	mock.ExpectRollback()

	repo := newLedgerRepositoryWithPool(mock, fastRetrier())
	err := repo.Persist(context.Background(), depositChangeSet())
	if !errors.Is(err, writeErr) {
		t.Fatalf("expected write error, got %v", err)
	}

	assertExpectations(t, mock)
}

func TestLedgerRepositoryPersistRetriesDeadlock(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_stores").
		WithArgs("exchange", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrDeadlock})
	mock.ExpectRollback()
	mock.ExpectBegin()
	expectDepositWrites(mock)
	mock.ExpectCommit()

	repo := newLedgerRepositoryWithPool(mock, fastRetrier())
	if err := repo.Persist(context.Background(), depositChangeSet()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	assertExpectations(t, mock)
}

func TestLedgerRepositoryLoadMissingStore(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery("FROM ledger_stores").WithArgs("exchange").WillReturnError(pgx.ErrNoRows)

	repo := newLedgerRepositoryWithPool(mock, fastRetrier())
	snap, err := repo.Load(context.Background(), "exchange")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot, got %+v", snap)
	}

	assertExpectations(t, mock)
}

func TestLedgerRepositoryLoad(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery("FROM ledger_stores").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{"writer", "latest_order_id", "latest_escrow_id"}).
			AddRow("exchange/v2", int64(1), int64(0)))
	mock.ExpectQuery("FROM ledger_balances").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{"owner", "asset", "available", "committed"}).
			AddRow(string(testOwner), string(testAsset), "90", "10"))
	mock.ExpectQuery("FROM ledger_custody").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{"asset", "amount"}).AddRow(string(testAsset), "100"))
	mock.ExpectQuery("FROM ledger_prices").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{"asset", "price"}))
	mock.ExpectQuery("FROM ledger_orders").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "maker", "counterpart", "asset", "remaining", "original_amount", "price", "agent", "side", "canceled",
		}).AddRow(int64(1), string(testOwner), "", string(testAsset), "10", "10", "7", string(testAgent), "sell", false))
	mock.ExpectQuery("FROM ledger_agreements").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{"order_id", "id", "counterparty", "amount", "price", "canceled", "paid"}))
	mock.ExpectQuery("FROM ledger_escrows").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "asset", "sender", "recipient", "amount", "agent", "valid", "settled", "memo",
		}))
	mock.ExpectQuery("FROM ledger_transfer_applications").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{
			"escrow_id", "application_data", "approval_data", "pending", "valid", "escrow_finished",
		}))

	repo := newLedgerRepositoryWithPool(mock, fastRetrier())
	snap, err := repo.Load(context.Background(), "exchange")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if snap.Writer != "exchange/v2" {
		t.Fatalf("expected writer exchange/v2, got %q", snap.Writer)
	}
	if len(snap.Balances) != 1 || snap.Balances[0].Available != 90 || snap.Balances[0].Committed != 10 {
		t.Fatalf("unexpected balances: %+v", snap.Balances)
	}
	if len(snap.Orders) != 1 || snap.Orders[0].Price != 7 || !snap.Orders[0].Counterpart.IsZero() {
		t.Fatalf("unexpected orders: %+v", snap.Orders)
	}
	if snap.Counters == nil || snap.Counters.LatestOrderID != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}

	store, err := ledger.New(ledger.Options{
		Name:     "exchange",
		Pointer:  ledger.NewPointer("exchange/v1", "upgrader"),
		Snapshot: snap,
	})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if store.Writer() != "exchange/v2" {
		t.Fatalf("expected restored writer exchange/v2, got %q", store.Writer())
	}
	if !store.CheckConsistency().Consistent {
		t.Fatalf("expected restored store to be consistent")
	}

	assertExpectations(t, mock)
}

func TestLedgerRepositoryLoadRejectsCorruptAmount(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery("FROM ledger_stores").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{"writer", "latest_order_id", "latest_escrow_id"}).
			AddRow("", int64(0), int64(0)))
	mock.ExpectQuery("FROM ledger_balances").WithArgs("exchange").
		WillReturnRows(pgxmock.NewRows([]string{"owner", "asset", "available", "committed"}).
			AddRow(string(testOwner), string(testAsset), "-5", "0"))

	repo := newLedgerRepositoryWithPool(mock, fastRetrier())
	if _, err := repo.Load(context.Background(), "exchange"); err == nil {
		t.Fatalf("expected error for negative stored amount")
	}
}
