package handler

import (
	"context"
	"testing"

	"github.com/iho/custody/internal/adapter/repository/memory"
	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
	"github.com/iho/custody/internal/usecase"
	"github.com/iho/custody/internal/usecase/mocks"
)

const (
	exchangeV1 domain.WriterID = "exchange/v1"
	exchangeV2 domain.WriterID = "exchange/v2"
	escrowV1   domain.WriterID = "escrow/v1"
	upgrader   domain.WriterID = "upgrader"
)

type env struct {
	repo        *memory.Repository
	assets      *mocks.FakeAssetGateway
	exchange    *ledger.Store
	escrow      *ledger.Store
	exchanges   *usecase.Versions[*usecase.ExchangeEngine]
	escrows     *usecase.Versions[*usecase.EscrowEngine]
	coordinator *usecase.UpgradeCoordinator
	recon       *usecase.ReconciliationUseCase
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := memory.NewRepository()
	assets := mocks.NewFakeAssetGateway(asset)
	agents := mocks.NewFakeAgentRegistry(agent)

	exchange, err := ledger.New(ledger.Options{Name: "exchange", Pointer: ledger.NewPointer(exchangeV1, upgrader), Sink: repo})
	if err != nil {
		t.Fatalf("exchange store: %v", err)
	}
	escrow, err := ledger.New(ledger.Options{Name: "escrow", Pointer: ledger.NewPointer(escrowV1, upgrader), Sink: repo})
	if err != nil {
		t.Fatalf("escrow store: %v", err)
	}

	exchanges := usecase.NewVersions[*usecase.ExchangeEngine](exchange)
	exchanges.Add(exchangeV1, usecase.NewExchangeEngine(exchangeV1, exchange, assets, agents))
	exchanges.Add(exchangeV2, usecase.NewExchangeEngine(exchangeV2, exchange, assets, agents, usecase.WithTwoSidedBook()))

	escrows := usecase.NewVersions[*usecase.EscrowEngine](escrow)
	escrows.Add(escrowV1, usecase.NewEscrowEngine(escrowV1, escrow, assets))

	coordinator := usecase.NewUpgradeCoordinator(upgrader, []domain.Address{admin})
	coordinator.Register(exchange, exchanges.Writers)
	coordinator.Register(escrow, escrows.Writers)

	return &env{
		repo:        repo,
		assets:      assets,
		exchange:    exchange,
		escrow:      escrow,
		exchanges:   exchanges,
		escrows:     escrows,
		coordinator: coordinator,
		recon:       usecase.NewReconciliationUseCase(repo, exchange, escrow),
	}
}

func (e *env) depositExchange(t *testing.T, owner domain.Address, amount domain.Amount) {
	t.Helper()
	engine, err := e.exchanges.Current()
	if err != nil {
		t.Fatalf("current engine: %v", err)
	}
	out, err := engine.OnDeposit(context.Background(), asset, owner, amount)
	if err != nil || !out.Applied {
		t.Fatalf("deposit failed: %+v %v", out, err)
	}
}

func (e *env) depositEscrow(t *testing.T, owner domain.Address, amount domain.Amount) {
	t.Helper()
	engine, err := e.escrows.Current()
	if err != nil {
		t.Fatalf("current engine: %v", err)
	}
	out, err := engine.OnDeposit(context.Background(), asset, owner, amount)
	if err != nil || !out.Applied {
		t.Fatalf("deposit failed: %+v %v", out, err)
	}
}

func assetCaller() domain.Principal {
	return domain.Principal{Address: asset, Role: domain.RoleAsset}
}

