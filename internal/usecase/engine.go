package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

// Option configures an engine.
type Option func(*options)

type options struct {
	logger   zerolog.Logger
	recorder Recorder
	twoSided bool
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTwoSidedBook enables buy orders and partial takes on an exchange engine.
func WithTwoSidedBook() Option {
	return func(o *options) { o.twoSided = true }
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// engine holds what every engine version shares: its writer identity, the
// store it writes to and the collaborator checks common to both books.
type engine struct {
	kind     string
	writer   domain.WriterID
	store    *ledger.Store
	assets   AssetGateway
	logger   zerolog.Logger
	recorder Recorder
}

func newEngine(kind string, writer domain.WriterID, store *ledger.Store, assets AssetGateway, o options) engine {
	return engine{
		kind:   kind,
		writer: writer,
		store:  store,
		assets: assets,
		logger: o.logger.With().
			Str("engine", kind).
			Str("writer", string(writer)).
			Str("store", store.Name()).
			Logger(),
		recorder: o.recorder,
	}
}

// Writer returns the identity the engine writes as.
func (e *engine) Writer() domain.WriterID {
	return e.writer
}

// Store returns the store the engine operates on.
func (e *engine) Store() *ledger.Store {
	return e.store
}

// errReplan is returned from an update callback when the record the
// collaborator answers were gathered for has changed since.
var errReplan = errors.New("collaborator answers are stale")

// maxPlans bounds how often an operation is planned. Record assets never
// change once set, so a second plan always matches.
const maxPlans = 3

// run executes fn as one store update. A no-op outcome discards everything
// fn staged, including allocated ids.
//
// Collaborators are never called while the store is locked. plan, when
// set, runs first and gathers the answers fn needs; fn returns errReplan
// if they no longer apply, and the operation is planned again.
func (e *engine) run(
	ctx context.Context,
	op string,
	plan func(ctx context.Context) error,
	fn func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error),
) (domain.Outcome, error) {
	start := time.Now()

	var (
		out domain.Outcome
		err error
	)
	for attempt := 1; ; attempt++ {
		if plan != nil {
			if err = plan(ctx); err != nil {
				break
			}
		}
		err = e.store.Update(ctx, e.writer, func(ctx context.Context, tx *ledger.Tx) error {
			var err error
			out, err = fn(ctx, tx)
			if err != nil {
				return err
			}
			if !out.Applied {
				return ledger.ErrRollback
			}
			return nil
		})
		if !errors.Is(err, errReplan) || attempt == maxPlans {
			break
		}
	}

	result := out.Label()
	if err != nil {
		result = ResultError
		out = domain.Outcome{}
		e.logger.Warn().Err(err).Str("op", op).Msg("operation failed")
	} else if out.Applied {
		e.logger.Info().Str("op", op).Uint64("id", out.ID).Msg("operation applied")
	} else {
		e.logger.Debug().Str("op", op).Str("reason", string(out.Reason)).Msg("operation rejected")
	}

	if e.recorder != nil {
		e.recorder.ObserveOperation(e.kind, op, result, time.Since(start))
	}
	return out, err
}

// revert runs a compensating update after a collaborator call failed on an
// already committed operation. fn returns ledger.ErrRollback when the
// records have moved on and there is nothing left to undo.
func (e *engine) revert(ctx context.Context, op string, fn func(tx *ledger.Tx) error) error {
	err := e.store.Update(context.WithoutCancel(ctx), e.writer, func(_ context.Context, tx *ledger.Tx) error {
		return fn(tx)
	})
	if err != nil {
		e.logger.Error().Err(err).Str("op", op).Msg("compensating update failed")
		return fmt.Errorf("revert %s: %w", op, err)
	}
	e.logger.Warn().Str("op", op).Msg("operation reverted")
	return nil
}

func (e *engine) tradable(ctx context.Context, asset domain.Address) (bool, error) {
	ok, err := e.assets.IsTradable(ctx, asset)
	if err != nil {
		return false, fmt.Errorf("asset %s status: %w", asset, err)
	}
	return ok, nil
}

// recordTradable reports the status of the asset of a looked up record. A
// zero asset means the record was not found and nothing is asked.
func (e *engine) recordTradable(ctx context.Context, asset domain.Address) (bool, error) {
	if asset.IsZero() {
		return false, nil
	}
	return e.tradable(ctx, asset)
}

// onDeposit credits a deposit notified by the asset collaborator.
func (e *engine) onDeposit(ctx context.Context, asset, from domain.Address, amount domain.Amount) (domain.Outcome, error) {
	if err := errors.Join(asset.Validate(), from.Validate()); err != nil {
		return domain.Outcome{}, err
	}

	return e.run(ctx, "deposit", nil, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		if amount.IsZero() {
			return domain.NoOp(domain.ReasonZeroAmount), nil
		}
		if err := tx.Credit(from, asset, amount); err != nil {
			return domain.Outcome{}, err
		}
		err := tx.Emit(domain.AggregateTypeBalance, balanceAggregateID(from, asset), domain.EventTypeDepositCredited, map[string]any{
			"owner":  from.String(),
			"asset":  asset.String(),
			"amount": amount.String(),
		})
		return domain.Applied(0), err
	})
}

// withdraw debits the caller's full available balance and transfers it out
// once the debit is committed.
func (e *engine) withdraw(ctx context.Context, asset, caller domain.Address) (domain.Outcome, error) {
	if err := errors.Join(asset.Validate(), caller.Validate()); err != nil {
		return domain.Outcome{}, err
	}

	var tradable bool
	plan := func(ctx context.Context) (err error) {
		tradable, err = e.tradable(ctx, asset)
		return err
	}

	return e.run(ctx, "withdraw", plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		amount := tx.BalanceOf(caller, asset)
		if amount.IsZero() {
			return domain.NoOp(domain.ReasonNothingToWithdraw), nil
		}
		if !tradable {
			return domain.NoOp(domain.ReasonUntradableAsset), nil
		}

		if err := tx.Debit(caller, asset, amount); err != nil {
			return domain.Outcome{}, err
		}
		if err := tx.Emit(domain.AggregateTypeBalance, balanceAggregateID(caller, asset), domain.EventTypeWithdrawalCompleted, map[string]any{
			"owner":  caller.String(),
			"asset":  asset.String(),
			"amount": amount.String(),
		}); err != nil {
			return domain.Outcome{}, err
		}

		err := tx.AfterCommit(func(ctx context.Context) error {
			return e.transferOut(ctx, asset, caller, amount)
		})
		return domain.Applied(0).WithAmount(amount), err
	})
}

// transferOut pays out a committed withdrawal. If the collaborator refuses,
// the debited balance is credited back.
func (e *engine) transferOut(ctx context.Context, asset, to domain.Address, amount domain.Amount) error {
	err := e.assets.TransferOut(ctx, asset, to, amount)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("transfer out %s to %s: %w", asset, to, err)

	rerr := e.revert(ctx, "withdraw", func(tx *ledger.Tx) error {
		if err := tx.Credit(to, asset, amount); err != nil {
			return err
		}
		return tx.Emit(domain.AggregateTypeBalance, balanceAggregateID(to, asset), domain.EventTypeWithdrawalReverted, map[string]any{
			"owner":  to.String(),
			"asset":  asset.String(),
			"amount": amount.String(),
		})
	})
	return errors.Join(err, rerr)
}

func balanceAggregateID(owner, asset domain.Address) string {
	return owner.String() + "/" + asset.String()
}
