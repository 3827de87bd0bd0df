package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

// ExchangeEngine takes orders and agreements against one ledger store.
//
// The one-sided book accepts only deposit-backed sell orders and every take
// consumes the whole remainder. The two-sided book adds buy orders, whose
// taker commits units at execution, and partial takes.
type ExchangeEngine struct {
	engine
	agents   AgentRegistry
	twoSided bool
}

// NewExchangeEngine creates an exchange engine writing to store as writer.
func NewExchangeEngine(
	writer domain.WriterID,
	store *ledger.Store,
	assets AssetGateway,
	agents AgentRegistry,
	opts ...Option,
) *ExchangeEngine {
	o := buildOptions(opts)
	return &ExchangeEngine{
		engine:   newEngine(EngineExchange, writer, store, assets, o),
		agents:   agents,
		twoSided: o.twoSided,
	}
}

// TwoSided reports whether the engine runs the two-sided book.
func (e *ExchangeEngine) TwoSided() bool {
	return e.twoSided
}

// CreateOrderInput represents input for creating an order.
type CreateOrderInput struct {
	Maker domain.Address
	// Counterpart restricts execution to one taker. Zero means anyone.
	Counterpart domain.Address
	Asset       domain.Address
	Agent       domain.Address
	Amount      domain.Amount
	Price       domain.Amount
	// Side defaults to sell.
	Side domain.Side
}

// Validate rejects malformed input.
func (in CreateOrderInput) Validate() error {
	errs := []error{in.Maker.Validate(), in.Asset.Validate(), in.Agent.Validate()}
	if !in.Counterpart.IsZero() {
		errs = append(errs, in.Counterpart.Validate())
	}
	if in.Side != "" {
		if _, err := domain.ParseSide(string(in.Side)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateOrder commits the maker's units (for sell orders) and stores a new order.
func (e *ExchangeEngine) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Outcome, error) {
	if err := in.Validate(); err != nil {
		return domain.Outcome{}, err
	}
	side := in.Side
	if side == "" {
		side = domain.SideSell
	}

	var tradable, known bool
	plan := func(ctx context.Context) (err error) {
		if in.Amount.IsZero() || (side == domain.SideBuy && !e.twoSided) {
			return nil
		}
		if tradable, err = e.tradable(ctx, in.Asset); err != nil || !tradable {
			return err
		}
		if known, err = e.agents.IsAgent(ctx, in.Agent); err != nil {
			return fmt.Errorf("agent %s lookup: %w", in.Agent, err)
		}
		return nil
	}

	return e.run(ctx, "create_order", plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		if side == domain.SideBuy && !e.twoSided {
			return domain.NoOp(domain.ReasonInvalidSide), nil
		}
		if in.Amount.IsZero() {
			return domain.NoOp(domain.ReasonZeroAmount), nil
		}
		if side == domain.SideSell && tx.BalanceOf(in.Maker, in.Asset) < in.Amount {
			return domain.NoOp(domain.ReasonInsufficientBalance), nil
		}
		if !tradable {
			return domain.NoOp(domain.ReasonUntradableAsset), nil
		}
		if !known {
			return domain.NoOp(domain.ReasonUnknownAgent), nil
		}

		order := domain.Order{
			Maker:          in.Maker,
			Counterpart:    in.Counterpart,
			Asset:          in.Asset,
			Remaining:      in.Amount,
			OriginalAmount: in.Amount,
			Price:          in.Price,
			Agent:          in.Agent,
			Side:           side,
		}
		if order.MakerCommits() {
			if err := tx.Commit(in.Maker, in.Asset, in.Amount); err != nil {
				return domain.Outcome{}, err
			}
		}
		var err error
		if order.ID, err = tx.NextOrderID(); err != nil {
			return domain.Outcome{}, err
		}
		if err := tx.PutOrder(order); err != nil {
			return domain.Outcome{}, err
		}

		err = tx.Emit(domain.AggregateTypeOrder, orderAggregateID(order.ID), domain.EventTypeOrderCreated, map[string]any{
			"order_id": order.ID,
			"maker":    order.Maker.String(),
			"asset":    order.Asset.String(),
			"amount":   order.OriginalAmount.String(),
			"price":    order.Price.String(),
			"agent":    order.Agent.String(),
			"side":     string(order.Side),
		})
		return domain.Applied(order.ID), err
	})
}

// CancelOrder cancels an order and releases its remaining commitment.
// Pending agreements are unaffected.
func (e *ExchangeEngine) CancelOrder(ctx context.Context, orderID uint64, caller domain.Address) (domain.Outcome, error) {
	if err := caller.Validate(); err != nil {
		return domain.Outcome{}, err
	}

	var (
		planned  domain.Address
		tradable bool
	)
	plan := func(ctx context.Context) (err error) {
		planned = e.store.Order(orderID).Asset
		tradable, err = e.recordTradable(ctx, planned)
		return err
	}

	return e.run(ctx, "cancel_order", plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		order := tx.Order(orderID)
		switch {
		case !order.Exists():
			return domain.NoOp(domain.ReasonUnknownOrder), nil
		case order.Asset != planned:
			return domain.Outcome{}, errReplan
		case order.Canceled:
			return domain.NoOp(domain.ReasonAlreadyTerminal), nil
		case caller != order.Maker:
			return domain.NoOp(domain.ReasonNotAuthorized), nil
		}
		if !tradable {
			return domain.NoOp(domain.ReasonUntradableAsset), nil
		}

		released := domain.Amount(0)
		if order.MakerCommits() && !order.Remaining.IsZero() {
			if err := tx.Release(order.Maker, order.Asset, order.Remaining); err != nil {
				return domain.Outcome{}, err
			}
			released = order.Remaining
		}
		order.Canceled = true
		if err := tx.PutOrder(order); err != nil {
			return domain.Outcome{}, err
		}

		err := tx.Emit(domain.AggregateTypeOrder, orderAggregateID(order.ID), domain.EventTypeOrderCanceled, map[string]any{
			"order_id": order.ID,
			"released": released.String(),
		})
		return domain.Applied(order.ID), err
	})
}

// ExecuteOrderInput represents input for taking an order.
type ExecuteOrderInput struct {
	OrderID uint64
	Taker   domain.Address
	// Amount and Side are read by the two-sided book only. An empty side
	// means the side opposite to the order.
	Amount domain.Amount
	Side   domain.Side
}

// Validate rejects malformed input.
func (in ExecuteOrderInput) Validate() error {
	if err := in.Taker.Validate(); err != nil {
		return err
	}
	if in.Side != "" {
		if _, err := domain.ParseSide(string(in.Side)); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteOrder records an agreement for a take against an order. Once the
// order is exhausted further calls return the id of its last agreement
// without creating a new one.
func (e *ExchangeEngine) ExecuteOrder(ctx context.Context, in ExecuteOrderInput) (domain.Outcome, error) {
	if err := in.Validate(); err != nil {
		return domain.Outcome{}, err
	}

	var (
		planned  domain.Address
		tradable bool
	)
	plan := func(ctx context.Context) (err error) {
		planned = e.store.Order(in.OrderID).Asset
		tradable, err = e.recordTradable(ctx, planned)
		return err
	}

	return e.run(ctx, "execute_order", plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		order := tx.Order(in.OrderID)
		switch {
		case !order.Exists():
			return domain.NoOp(domain.ReasonUnknownOrder), nil
		case order.Asset != planned:
			return domain.Outcome{}, errReplan
		case order.Canceled:
			return domain.NoOp(domain.ReasonAlreadyTerminal), nil
		case in.Taker == order.Maker:
			return domain.NoOp(domain.ReasonNotAuthorized), nil
		case !order.Counterpart.IsZero() && in.Taker != order.Counterpart:
			return domain.NoOp(domain.ReasonNotAuthorized), nil
		}
		if !tradable {
			return domain.NoOp(domain.ReasonUntradableAsset), nil
		}
		if order.Remaining.IsZero() {
			return domain.NoOp(domain.ReasonExhausted).WithID(tx.LatestAgreementID(order.ID)), nil
		}

		take := order.Remaining
		if e.twoSided {
			side := in.Side
			if side == "" {
				side = order.Side.Opposite()
			}
			switch {
			case side != order.Side.Opposite():
				return domain.NoOp(domain.ReasonInvalidSide), nil
			case in.Amount.IsZero():
				return domain.NoOp(domain.ReasonZeroAmount), nil
			case in.Amount > order.Remaining:
				return domain.NoOp(domain.ReasonAmountExceedsRemaining), nil
			}
			take = in.Amount
		} else if !order.MakerCommits() {
			return domain.NoOp(domain.ReasonInvalidSide), nil
		}

		if !order.MakerCommits() {
			// the taker supplies the units of a buy order
			if tx.BalanceOf(in.Taker, order.Asset) < take {
				return domain.NoOp(domain.ReasonInsufficientBalance), nil
			}
			if err := tx.Commit(in.Taker, order.Asset, take); err != nil {
				return domain.Outcome{}, err
			}
		}

		remaining, err := order.Remaining.Sub(take)
		if err != nil {
			return domain.Outcome{}, err
		}
		order.Remaining = remaining
		if err := tx.PutOrder(order); err != nil {
			return domain.Outcome{}, err
		}

		agreement := domain.Agreement{
			OrderID:      order.ID,
			Counterparty: in.Taker,
			Amount:       take,
			Price:        order.Price,
		}
		if agreement.ID, err = tx.NextAgreementID(order.ID); err != nil {
			return domain.Outcome{}, err
		}
		if err := tx.PutAgreement(agreement); err != nil {
			return domain.Outcome{}, err
		}

		err = tx.Emit(domain.AggregateTypeAgreement, agreementAggregateID(order.ID, agreement.ID), domain.EventTypeAgreementCreated, map[string]any{
			"order_id":     order.ID,
			"agreement_id": agreement.ID,
			"counterparty": agreement.Counterparty.String(),
			"amount":       agreement.Amount.String(),
			"price":        agreement.Price.String(),
			"remaining":    order.Remaining.String(),
		})
		return domain.Applied(agreement.ID), err
	})
}

// ConfirmAgreement settles a pending agreement once its agent confirms the
// off-ledger payment.
func (e *ExchangeEngine) ConfirmAgreement(ctx context.Context, orderID, agreementID uint64, caller domain.Address) (domain.Outcome, error) {
	return e.closeAgreement(ctx, "confirm_agreement", orderID, agreementID, caller, true)
}

// CancelAgreement releases a pending agreement's units back to whoever
// committed them.
func (e *ExchangeEngine) CancelAgreement(ctx context.Context, orderID, agreementID uint64, caller domain.Address) (domain.Outcome, error) {
	return e.closeAgreement(ctx, "cancel_agreement", orderID, agreementID, caller, false)
}

func (e *ExchangeEngine) closeAgreement(ctx context.Context, op string, orderID, agreementID uint64, caller domain.Address, paid bool) (domain.Outcome, error) {
	if err := caller.Validate(); err != nil {
		return domain.Outcome{}, err
	}

	var (
		planned  domain.Address
		tradable bool
	)
	plan := func(ctx context.Context) (err error) {
		planned = e.store.Order(orderID).Asset
		tradable, err = e.recordTradable(ctx, planned)
		return err
	}

	return e.run(ctx, op, plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		order := tx.Order(orderID)
		if !order.Exists() {
			return domain.NoOp(domain.ReasonUnknownOrder), nil
		}
		if order.Asset != planned {
			return domain.Outcome{}, errReplan
		}
		agreement := tx.Agreement(orderID, agreementID)
		switch {
		case !agreement.Exists():
			return domain.NoOp(domain.ReasonUnknownAgreement), nil
		case caller != order.Agent:
			return domain.NoOp(domain.ReasonNotAuthorized), nil
		case agreement.Terminal():
			return domain.NoOp(domain.ReasonAlreadyTerminal), nil
		}
		if !tradable {
			return domain.NoOp(domain.ReasonUntradableAsset), nil
		}

		holder, receiver := order.Maker, agreement.Counterparty
		if !order.MakerCommits() {
			holder, receiver = agreement.Counterparty, order.Maker
		}

		eventType := domain.EventTypeAgreementCanceled
		if paid {
			if err := tx.Settle(holder, receiver, order.Asset, agreement.Amount); err != nil {
				return domain.Outcome{}, err
			}
			if err := tx.SetLastPrice(order.Asset, agreement.Price); err != nil {
				return domain.Outcome{}, err
			}
			agreement.Paid = true
			eventType = domain.EventTypeAgreementConfirmed
		} else {
			if err := tx.Release(holder, order.Asset, agreement.Amount); err != nil {
				return domain.Outcome{}, err
			}
			agreement.Canceled = true
		}
		if err := tx.PutAgreement(agreement); err != nil {
			return domain.Outcome{}, err
		}

		err := tx.Emit(domain.AggregateTypeAgreement, agreementAggregateID(orderID, agreementID), eventType, map[string]any{
			"order_id":     orderID,
			"agreement_id": agreementID,
			"holder":       holder.String(),
			"receiver":     receiver.String(),
			"amount":       agreement.Amount.String(),
			"price":        agreement.Price.String(),
		})
		return domain.Applied(agreementID), err
	})
}

// OnDeposit credits units deposited into custody by the asset collaborator.
func (e *ExchangeEngine) OnDeposit(ctx context.Context, asset, from domain.Address, amount domain.Amount) (domain.Outcome, error) {
	return e.onDeposit(ctx, asset, from, amount)
}

// WithdrawAll transfers the caller's whole available balance out of custody.
func (e *ExchangeEngine) WithdrawAll(ctx context.Context, asset, caller domain.Address) (domain.Outcome, error) {
	return e.withdraw(ctx, asset, caller)
}

func orderAggregateID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func agreementAggregateID(orderID, agreementID uint64) string {
	return strconv.FormatUint(orderID, 10) + "/" + strconv.FormatUint(agreementID, 10)
}
