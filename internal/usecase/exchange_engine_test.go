package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
	"github.com/iho/custody/internal/usecase"
	"github.com/iho/custody/internal/usecase/mocks"
)

func sellOrder(amount, price domain.Amount) usecase.CreateOrderInput {
	return usecase.CreateOrderInput{Maker: maker, Asset: asset, Agent: agent, Amount: amount, Price: price}
}

func TestExchangeEngine_CreateAndCancelOrder(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, false)
	f.deposit(t, issuer, 150)

	in := sellOrder(100, 123)
	in.Maker = issuer
	out, err := f.engine.CreateOrder(ctx, in)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, uint64(1), out.ID)

	assert.Equal(t, domain.Amount(100), f.store.CommitmentOf(issuer, asset))
	assert.Equal(t, domain.Amount(50), f.store.BalanceOf(issuer, asset))
	assert.Equal(t, uint64(1), f.store.LatestOrderID())

	out, err = f.engine.CancelOrder(ctx, 1, issuer)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, domain.Amount(150), f.store.BalanceOf(issuer, asset))
	assert.Zero(t, f.store.CommitmentOf(issuer, asset))
	assert.Equal(t, domain.OrderStatusCanceled, f.store.Order(1).Status())

	events := len(f.sink.events())
	out, err = f.engine.CancelOrder(ctx, 1, issuer)
	require.NoError(t, err, "canceling twice is not an error")
	assert.Equal(t, domain.NoOp(domain.ReasonAlreadyTerminal), out)
	assert.Equal(t, domain.Amount(150), f.store.BalanceOf(issuer, asset))
	assert.Len(t, f.sink.events(), events, "no-ops emit nothing")
}

func TestExchangeEngine_CreateOrderNoOps(t *testing.T) {
	tests := []struct {
		name   string
		input  usecase.CreateOrderInput
		reason domain.Reason
	}{
		{name: "zero amount", input: sellOrder(0, 1), reason: domain.ReasonZeroAmount},
		{name: "insufficient balance", input: sellOrder(101, 1), reason: domain.ReasonInsufficientBalance},
		{
			name:   "unknown agent",
			input:  usecase.CreateOrderInput{Maker: maker, Asset: asset, Agent: stranger, Amount: 10},
			reason: domain.ReasonUnknownAgent,
		},
		{
			name:   "buy side on one-sided book",
			input:  usecase.CreateOrderInput{Maker: maker, Asset: asset, Agent: agent, Amount: 10, Side: domain.SideBuy},
			reason: domain.ReasonInvalidSide,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExchangeFixture(t, false)
			f.deposit(t, maker, 100)
			persisted := f.sink.count()

			out, err := f.engine.CreateOrder(context.Background(), tt.input)
			require.NoError(t, err)
			assert.False(t, out.Applied)
			assert.Equal(t, tt.reason, out.Reason)

			assert.Zero(t, f.store.LatestOrderID(), "no order id is consumed")
			assert.Equal(t, domain.Amount(100), f.store.BalanceOf(maker, asset))
			assert.Zero(t, f.store.CommitmentOf(maker, asset))
			assert.Equal(t, persisted, f.sink.count())
		})
	}
}

func TestExchangeEngine_UntradableAsset(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, false)

	out, err := f.engine.OnDeposit(ctx, frozen, maker, 10)
	require.NoError(t, err)
	require.True(t, out.Applied)

	out, err = f.engine.CreateOrder(ctx, usecase.CreateOrderInput{Maker: maker, Asset: frozen, Agent: agent, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonUntradableAsset, out.Reason)

	out, err = f.engine.WithdrawAll(ctx, frozen, maker)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonUntradableAsset, out.Reason)
	assert.Equal(t, domain.Amount(10), f.store.BalanceOf(maker, frozen))
}

func TestExchangeEngine_MalformedInput(t *testing.T) {
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 100)

	in := sellOrder(10, 1)
	in.Agent = "0xnot-an-address"
	_, err := f.engine.CreateOrder(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrMalformedInput)

	in = sellOrder(10, 1)
	in.Side = "sideways"
	_, err = f.engine.CreateOrder(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = f.engine.ExecuteOrder(context.Background(), usecase.ExecuteOrderInput{OrderID: 1, Taker: "bob"})
	require.ErrorIs(t, err, domain.ErrMalformedInput)

	assert.Zero(t, f.store.LatestOrderID())
	assert.Equal(t, domain.Amount(100), f.store.BalanceOf(maker, asset))
}

func TestExchangeEngine_ExecuteAndConfirm(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 100)

	_, err := f.engine.CreateOrder(ctx, sellOrder(100, 123))
	require.NoError(t, err)

	out, err := f.engine.ExecuteOrder(ctx, usecase.ExecuteOrderInput{OrderID: 1, Taker: taker})
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, uint64(1), out.ID)

	order := f.store.Order(1)
	assert.Zero(t, order.Remaining)
	assert.Equal(t, domain.OrderStatusExhausted, order.Status())

	agreement := f.store.Agreement(1, 1)
	assert.Equal(t, domain.Agreement{OrderID: 1, ID: 1, Counterparty: taker, Amount: 100, Price: 123}, agreement)
	assert.Zero(t, f.store.BalanceOf(taker, asset), "no settlement before confirmation")

	out, err = f.engine.ConfirmAgreement(ctx, 1, 1, maker)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNotAuthorized, out.Reason, "only the agent confirms")

	out, err = f.engine.ConfirmAgreement(ctx, 1, 1, agent)
	require.NoError(t, err)
	require.True(t, out.Applied)

	assert.Equal(t, domain.Amount(100), f.store.BalanceOf(taker, asset))
	assert.Zero(t, f.store.CommitmentOf(maker, asset))
	assert.Equal(t, domain.Amount(123), f.store.LastPrice(asset))
	assert.True(t, f.store.Agreement(1, 1).Paid)

	for _, op := range []func(context.Context, uint64, uint64, domain.Address) (domain.Outcome, error){
		f.engine.ConfirmAgreement,
		f.engine.CancelAgreement,
	} {
		out, err = op(ctx, 1, 1, agent)
		require.NoError(t, err)
		assert.Equal(t, domain.NoOp(domain.ReasonAlreadyTerminal), out)
	}
	assert.Equal(t, domain.Amount(100), f.store.BalanceOf(taker, asset))

	report := f.store.CheckConsistency()
	assert.True(t, report.Consistent, "%+v", report)
}

func TestExchangeEngine_ExecuteIdempotentOnceExhausted(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 100)
	_, err := f.engine.CreateOrder(ctx, sellOrder(100, 1))
	require.NoError(t, err)

	first, err := f.engine.ExecuteOrder(ctx, usecase.ExecuteOrderInput{OrderID: 1, Taker: taker})
	require.NoError(t, err)
	require.True(t, first.Applied)

	for i := 0; i < 2; i++ {
		again, err := f.engine.ExecuteOrder(ctx, usecase.ExecuteOrderInput{OrderID: 1, Taker: taker})
		require.NoError(t, err)
		assert.False(t, again.Applied)
		assert.Equal(t, domain.ReasonExhausted, again.Reason)
		assert.Equal(t, first.ID, again.ID)
	}
	assert.Equal(t, uint64(1), f.store.LatestAgreementID(1))
}

func TestExchangeEngine_ExecuteNoOps(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 100)
	_, err := f.engine.CreateOrder(ctx, sellOrder(50, 1))
	require.NoError(t, err)
	fixed := sellOrder(50, 1)
	fixed.Counterpart = recipient
	_, err = f.engine.CreateOrder(ctx, fixed)
	require.NoError(t, err)

	tests := []struct {
		name   string
		input  usecase.ExecuteOrderInput
		reason domain.Reason
	}{
		{name: "unknown order", input: usecase.ExecuteOrderInput{OrderID: 9, Taker: taker}, reason: domain.ReasonUnknownOrder},
		{name: "maker cannot take", input: usecase.ExecuteOrderInput{OrderID: 1, Taker: maker}, reason: domain.ReasonNotAuthorized},
		{name: "fixed counterpart", input: usecase.ExecuteOrderInput{OrderID: 2, Taker: taker}, reason: domain.ReasonNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.engine.ExecuteOrder(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, out.Reason)
		})
	}

	_, err = f.engine.CancelOrder(ctx, 1, maker)
	require.NoError(t, err)
	out, err := f.engine.ExecuteOrder(ctx, usecase.ExecuteOrderInput{OrderID: 1, Taker: taker})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonAlreadyTerminal, out.Reason)
	assert.Zero(t, f.store.LatestAgreementID(1), "canceled orders consume no agreement id")

	out, err = f.engine.ExecuteOrder(ctx, usecase.ExecuteOrderInput{OrderID: 2, Taker: recipient})
	require.NoError(t, err)
	assert.True(t, out.Applied)
}

func TestExchangeEngine_CancelAgreementReleases(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 100)
	_, err := f.engine.CreateOrder(ctx, sellOrder(100, 7))
	require.NoError(t, err)
	_, err = f.engine.ExecuteOrder(ctx, usecase.ExecuteOrderInput{OrderID: 1, Taker: taker})
	require.NoError(t, err)

	out, err := f.engine.CancelAgreement(ctx, 1, 2, agent)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonUnknownAgreement, out.Reason)

	out, err = f.engine.CancelAgreement(ctx, 1, 1, agent)
	require.NoError(t, err)
	require.True(t, out.Applied)

	assert.Equal(t, domain.Amount(100), f.store.BalanceOf(maker, asset))
	assert.Zero(t, f.store.CommitmentOf(maker, asset))
	assert.Zero(t, f.store.BalanceOf(taker, asset))
	assert.Zero(t, f.store.LastPrice(asset))
	assert.Equal(t, domain.AgreementStatusCanceled, f.store.Agreement(1, 1).Status())
}

func TestExchangeEngine_CancelOrderKeepsPendingAgreements(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, true)
	f.deposit(t, maker, 100)
	_, err := f.engine.CreateOrder(ctx, sellOrder(100, 2))
	require.NoError(t, err)
	_, err = f.engine.ExecuteOrder(ctx, usecase.ExecuteOrderInput{OrderID: 1, Taker: taker, Amount: 30})
	require.NoError(t, err)

	out, err := f.engine.CancelOrder(ctx, 1, maker)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, domain.Amount(70), f.store.BalanceOf(maker, asset))
	assert.Equal(t, domain.Amount(30), f.store.CommitmentOf(maker, asset))

	out, err = f.engine.ConfirmAgreement(ctx, 1, 1, agent)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, domain.Amount(30), f.store.BalanceOf(taker, asset))
	assert.Zero(t, f.store.CommitmentOf(maker, asset))
	assert.True(t, f.store.CheckConsistency().Consistent)
}

func TestExchangeEngine_TwoSidedBook(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, true)
	f.deposit(t, taker, 10)

	buy := usecase.CreateOrderInput{Maker: maker, Asset: asset, Agent: agent, Amount: 8, Price: 5, Side: domain.SideBuy}
	out, err := f.engine.CreateOrder(ctx, buy)
	require.NoError(t, err)
	require.True(t, out.Applied, "buy orders need no balance")
	assert.Zero(t, f.store.CommitmentOf(maker, asset))

	tests := []struct {
		name   string
		input  usecase.ExecuteOrderInput
		reason domain.Reason
	}{
		{name: "same side", input: usecase.ExecuteOrderInput{OrderID: 1, Taker: taker, Amount: 1, Side: domain.SideBuy}, reason: domain.ReasonInvalidSide},
		{name: "zero amount", input: usecase.ExecuteOrderInput{OrderID: 1, Taker: taker, Side: domain.SideSell}, reason: domain.ReasonZeroAmount},
		{name: "exceeds remaining", input: usecase.ExecuteOrderInput{OrderID: 1, Taker: taker, Amount: 9, Side: domain.SideSell}, reason: domain.ReasonAmountExceedsRemaining},
		{name: "taker balance", input: usecase.ExecuteOrderInput{OrderID: 1, Taker: stranger, Amount: 1, Side: domain.SideSell}, reason: domain.ReasonInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.engine.ExecuteOrder(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, out.Reason)
		})
	}
	assert.Zero(t, f.store.LatestAgreementID(1))

	out, err = f.engine.ExecuteOrder(ctx, usecase.ExecuteOrderInput{OrderID: 1, Taker: taker, Amount: 6, Side: domain.SideSell})
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, domain.Amount(4), f.store.BalanceOf(taker, asset))
	assert.Equal(t, domain.Amount(6), f.store.CommitmentOf(taker, asset))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, f.store.Order(1).Status())
	assert.True(t, f.store.CheckConsistency().Consistent)

	out, err = f.engine.ConfirmAgreement(ctx, 1, 1, agent)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, domain.Amount(6), f.store.BalanceOf(maker, asset))
	assert.Zero(t, f.store.CommitmentOf(taker, asset))
	assert.Equal(t, domain.Amount(5), f.store.LastPrice(asset))
}

func TestExchangeEngine_DepositWithdrawRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 250)

	out, err := f.engine.WithdrawAll(ctx, asset, maker)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, domain.Amount(250), out.Amount)

	assert.Zero(t, f.store.BalanceOf(maker, asset))
	assert.Zero(t, f.store.Custody(asset))
	assert.Equal(t, []mocks.TransferOut{{Asset: asset, To: maker, Amount: 250}}, f.assets.TransfersOut())

	out, err = f.engine.WithdrawAll(ctx, asset, maker)
	require.NoError(t, err)
	assert.Equal(t, domain.NoOp(domain.ReasonNothingToWithdraw), out)

	out, err = f.engine.OnDeposit(ctx, asset, maker, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonZeroAmount, out.Reason)
}

func TestExchangeEngine_CollaboratorFailureAborts(t *testing.T) {
	ctx := context.Background()
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 40)

	f.assets.TransferOutFunc = func(context.Context, domain.Address, domain.Address, domain.Amount) error {
		return errors.New("token contract reverted")
	}
	_, err := f.engine.WithdrawAll(ctx, asset, maker)
	require.ErrorContains(t, err, "token contract reverted")
	assert.Equal(t, domain.Amount(40), f.store.BalanceOf(maker, asset))
	assert.Equal(t, domain.Amount(40), f.store.Custody(asset))
	assert.Empty(t, f.assets.TransfersOut())
	assert.Equal(t, []string{
		domain.EventTypeDepositCredited,
		domain.EventTypeWithdrawalCompleted,
		domain.EventTypeWithdrawalReverted,
	}, f.sink.eventTypes())
	assert.True(t, f.store.CheckConsistency().Consistent)
}

func TestExchangeEngine_PersistFailureSkipsTransferOut(t *testing.T) {
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 100)

	f.sink.failNext(1)
	_, err := f.engine.WithdrawAll(context.Background(), asset, maker)
	require.ErrorIs(t, err, errSinkDown)
	assert.Empty(t, f.assets.TransfersOut(), "nothing leaves custody before the debit is persisted")
	assert.Equal(t, domain.Amount(100), f.store.BalanceOf(maker, asset))

	out, err := f.engine.WithdrawAll(context.Background(), asset, maker)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, []mocks.TransferOut{{Asset: asset, To: maker, Amount: 100}}, f.assets.TransfersOut())
	assert.Zero(t, f.store.Custody(asset))
}

func TestExchangeEngine_WithdrawSurvivesCanceledRequest(t *testing.T) {
	f := newExchangeFixture(t, false)
	f.deposit(t, maker, 30)

	ctx, cancel := context.WithCancel(context.Background())
	f.assets.TransferOutFunc = func(ctx context.Context, _, _ domain.Address, _ domain.Amount) error {
		cancel()
		return ctx.Err()
	}
	_, err := f.engine.WithdrawAll(ctx, asset, maker)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.Amount(30), f.store.BalanceOf(maker, asset), "the refund is written despite the canceled request")
	assert.Equal(t, domain.Amount(30), f.store.Custody(asset))
}

func TestExchangeEngine_CollaboratorCallbacks(t *testing.T) {
	t.Run("transfer out deposits back", func(t *testing.T) {
		f := newExchangeFixture(t, false)
		f.deposit(t, maker, 40)

		var inner error
		f.assets.TransferOutFunc = func(_ context.Context, asset, to domain.Address, _ domain.Amount) error {
			assert.Zero(t, f.store.BalanceOf(to, asset), "the debit is committed before the transfer")
			_, inner = f.engine.OnDeposit(context.Background(), asset, to, 5)
			return inner
		}

		var (
			out domain.Outcome
			err error
		)
		withinDeadline(t, func() { out, err = f.engine.WithdrawAll(context.Background(), asset, maker) })
		require.NoError(t, err)
		require.NoError(t, inner)
		assert.Equal(t, domain.Amount(40), out.Amount)
		assert.Equal(t, domain.Amount(5), f.store.BalanceOf(maker, asset))
		assert.Equal(t, domain.Amount(5), f.store.Custody(asset))
	})

	t.Run("status lookup deposits", func(t *testing.T) {
		f := newExchangeFixture(t, false)
		f.deposit(t, maker, 40)

		var calls int
		f.assets.IsTradableFunc = func(_ context.Context, a domain.Address) (bool, error) {
			calls++
			if calls == 1 {
				if _, err := f.engine.OnDeposit(context.Background(), a, maker, 5); err != nil {
					return false, err
				}
			}
			return true, nil
		}

		var (
			out domain.Outcome
			err error
		)
		withinDeadline(t, func() { out, err = f.engine.WithdrawAll(context.Background(), asset, maker) })
		require.NoError(t, err)
		assert.Equal(t, domain.Amount(45), out.Amount)
		assert.Zero(t, f.store.BalanceOf(maker, asset))
	})

	t.Run("callback inside the update is refused", func(t *testing.T) {
		f := newExchangeFixture(t, false)
		f.deposit(t, maker, 40)

		err := f.store.Update(context.Background(), exchangeV1, func(ctx context.Context, _ *ledger.Tx) error {
			_, err := f.engine.OnDeposit(ctx, asset, maker, 1)
			return err
		})
		require.ErrorIs(t, err, ledger.ErrReentrant)
		assert.Equal(t, domain.Amount(40), f.store.BalanceOf(maker, asset))
	})
}

func TestExchangeEngine_WriteAuthority(t *testing.T) {
	f := newExchangeFixture(t, false)
	stale := usecase.NewExchangeEngine(exchangeV2, f.store, f.assets, mocks.NewFakeAgentRegistry(agent))

	_, err := stale.OnDeposit(context.Background(), asset, maker, 10)
	require.ErrorIs(t, err, domain.ErrWriteAuthority)

	_, err = stale.CreateOrder(context.Background(), sellOrder(10, 1))
	require.ErrorIs(t, err, domain.ErrWriteAuthority)
	assert.Zero(t, f.store.BalanceOf(maker, asset))
}

func TestExchangeEngine_GatewayErrorIsHard(t *testing.T) {
	ctrl := gomock.NewController(t)
	assets := mocks.NewMockAssetGateway(ctrl)
	agents := mocks.NewMockAgentRegistry(ctrl)
	recorder := mocks.NewMockRecorder(ctrl)

	store, err := ledger.New(ledger.Options{Name: "exchange", Pointer: ledger.NewPointer(exchangeV1, upgraderID)})
	require.NoError(t, err)
	engine := usecase.NewExchangeEngine(exchangeV1, store, assets, agents, usecase.WithRecorder(recorder))

	recorder.EXPECT().ObserveOperation(usecase.EngineExchange, "deposit", usecase.ResultApplied, gomock.Any())
	_, err = engine.OnDeposit(context.Background(), asset, maker, 10)
	require.NoError(t, err)

	assets.EXPECT().IsTradable(gomock.Any(), asset).Return(false, errors.New("rpc timeout"))
	recorder.EXPECT().ObserveOperation(usecase.EngineExchange, "create_order", usecase.ResultError, gomock.Any())

	out, err := engine.CreateOrder(context.Background(), sellOrder(10, 1))
	require.Error(t, err)
	assert.Equal(t, domain.Outcome{}, out)
	assert.Equal(t, domain.Amount(10), store.BalanceOf(maker, asset))
}
