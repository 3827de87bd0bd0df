package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
	"github.com/iho/custody/internal/usecase"
	"github.com/iho/custody/internal/usecase/mocks"
)

const (
	exchangeV1 domain.WriterID = "exchange/v1"
	exchangeV2 domain.WriterID = "exchange/v2"
	escrowV1   domain.WriterID = "escrow/v1"
	upgraderID domain.WriterID = "upgrader"
)

var (
	issuer    = domain.Address("0x1000000000000000000000000000000000000001")
	maker     = domain.Address("0x1000000000000000000000000000000000000002")
	taker     = domain.Address("0x1000000000000000000000000000000000000003")
	agent     = domain.Address("0x1000000000000000000000000000000000000004")
	recipient = domain.Address("0x1000000000000000000000000000000000000005")
	approver  = domain.Address("0x1000000000000000000000000000000000000006")
	admin     = domain.Address("0x1000000000000000000000000000000000000007")
	stranger  = domain.Address("0x1000000000000000000000000000000000000008")
	asset     = domain.Address("0x2000000000000000000000000000000000000001")
	frozen    = domain.Address("0x2000000000000000000000000000000000000002")
)

var errSinkDown = errors.New("db down")

// captureSink records every persisted change set.
type captureSink struct {
	mu   sync.Mutex
	sets []*ledger.ChangeSet
	fail int
}

func (s *captureSink) Persist(_ context.Context, cs *ledger.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errSinkDown
	}
	s.sets = append(s.sets, cs)
	return nil
}

// failNext makes the next n persists fail.
func (s *captureSink) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = n
}

func (s *captureSink) events() []*domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.OutboxEvent
	for _, cs := range s.sets {
		out = append(out, cs.Events...)
	}
	return out
}

func (s *captureSink) eventTypes() []string {
	var out []string
	for _, e := range s.events() {
		out = append(out, e.EventType)
	}
	return out
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets)
}

type exchangeFixture struct {
	store  *ledger.Store
	engine *usecase.ExchangeEngine
	assets *mocks.FakeAssetGateway
	sink   *captureSink
}

func newExchangeFixture(t *testing.T, twoSided bool) *exchangeFixture {
	t.Helper()
	writer := exchangeV1
	var opts []usecase.Option
	if twoSided {
		writer = exchangeV2
		opts = append(opts, usecase.WithTwoSidedBook())
	}

	sink := &captureSink{}
	store, err := ledger.New(ledger.Options{
		Name:    "exchange",
		Pointer: ledger.NewPointer(writer, upgraderID),
		Sink:    sink,
	})
	require.NoError(t, err)

	assets := mocks.NewFakeAssetGateway(asset)
	engine := usecase.NewExchangeEngine(writer, store, assets, mocks.NewFakeAgentRegistry(agent), opts...)
	return &exchangeFixture{store: store, engine: engine, assets: assets, sink: sink}
}

func (f *exchangeFixture) deposit(t *testing.T, owner domain.Address, amount domain.Amount) {
	t.Helper()
	out, err := f.engine.OnDeposit(context.Background(), asset, owner, amount)
	require.NoError(t, err)
	require.True(t, out.Applied)
}

type escrowFixture struct {
	store  *ledger.Store
	engine *usecase.EscrowEngine
	assets *mocks.FakeAssetGateway
	sink   *captureSink
}

func newEscrowFixture(t *testing.T) *escrowFixture {
	t.Helper()
	sink := &captureSink{}
	store, err := ledger.New(ledger.Options{
		Name:    "escrow",
		Pointer: ledger.NewPointer(escrowV1, upgraderID),
		Sink:    sink,
	})
	require.NoError(t, err)

	assets := mocks.NewFakeAssetGateway(asset)
	engine := usecase.NewEscrowEngine(escrowV1, store, assets)
	return &escrowFixture{store: store, engine: engine, assets: assets, sink: sink}
}

func (f *escrowFixture) deposit(t *testing.T, owner domain.Address, amount domain.Amount) {
	t.Helper()
	out, err := f.engine.OnDeposit(context.Background(), asset, owner, amount)
	require.NoError(t, err)
	require.True(t, out.Applied)
}

// withinDeadline fails the test if fn does not return promptly.
func withinDeadline(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not return; the store is deadlocked")
	}
}
