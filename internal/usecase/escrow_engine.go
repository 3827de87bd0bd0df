package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

// EscrowEngine runs peer-to-peer escrows, and the issuer approval workflow
// for assets that require it, against one ledger store.
type EscrowEngine struct {
	engine
}

// NewEscrowEngine creates an escrow engine writing to store as writer.
func NewEscrowEngine(writer domain.WriterID, store *ledger.Store, assets AssetGateway, opts ...Option) *EscrowEngine {
	return &EscrowEngine{engine: newEngine(EngineEscrow, writer, store, assets, buildOptions(opts))}
}

// CreateEscrowInput represents input for creating an escrow.
type CreateEscrowInput struct {
	Sender          domain.Address
	Asset           domain.Address
	Recipient       domain.Address
	Agent           domain.Address
	Amount          domain.Amount
	ApplicationData string
	Memo            string
}

// Validate rejects malformed input.
func (in CreateEscrowInput) Validate() error {
	return errors.Join(
		in.Sender.Validate(),
		in.Asset.Validate(),
		in.Recipient.Validate(),
		in.Agent.Validate(),
		domain.ValidateText("application_data", in.ApplicationData, domain.MaxApplicationDataLength),
		domain.ValidateText("memo", in.Memo, domain.MaxMemoLength),
	)
}

// CreateEscrow commits the sender's units for the recipient. For assets that
// require transfer approval a pending application is stored and the asset
// collaborator is signalled.
func (e *EscrowEngine) CreateEscrow(ctx context.Context, in CreateEscrowInput) (domain.Outcome, error) {
	if err := in.Validate(); err != nil {
		return domain.Outcome{}, err
	}

	var tradable, approval bool
	plan := func(ctx context.Context) (err error) {
		if in.Amount.IsZero() {
			return nil
		}
		if tradable, err = e.tradable(ctx, in.Asset); err != nil || !tradable {
			return err
		}
		if approval, err = e.assets.RequiresTransferApproval(ctx, in.Asset); err != nil {
			return fmt.Errorf("asset %s approval flag: %w", in.Asset, err)
		}
		return nil
	}

	return e.run(ctx, "create_escrow", plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		if in.Amount.IsZero() {
			return domain.NoOp(domain.ReasonZeroAmount), nil
		}
		if tx.BalanceOf(in.Sender, in.Asset) < in.Amount {
			return domain.NoOp(domain.ReasonInsufficientBalance), nil
		}
		if !tradable {
			return domain.NoOp(domain.ReasonUntradableAsset), nil
		}

		if err := tx.Commit(in.Sender, in.Asset, in.Amount); err != nil {
			return domain.Outcome{}, err
		}
		escrow := domain.Escrow{
			Asset:     in.Asset,
			Sender:    in.Sender,
			Recipient: in.Recipient,
			Amount:    in.Amount,
			Agent:     in.Agent,
			Valid:     true,
			Memo:      in.Memo,
		}
		var err error
		if escrow.ID, err = tx.NextEscrowID(); err != nil {
			return domain.Outcome{}, err
		}
		if err := tx.PutEscrow(escrow); err != nil {
			return domain.Outcome{}, err
		}
		if approval {
			err := tx.PutApplication(domain.TransferApplication{
				EscrowID:        escrow.ID,
				ApplicationData: in.ApplicationData,
				Pending:         true,
				Valid:           true,
			})
			if err != nil {
				return domain.Outcome{}, err
			}
		}

		if err := tx.Emit(domain.AggregateTypeEscrow, escrowAggregateID(escrow.ID), domain.EventTypeEscrowCreated, map[string]any{
			"escrow_id":         escrow.ID,
			"asset":             escrow.Asset.String(),
			"sender":            escrow.Sender.String(),
			"recipient":         escrow.Recipient.String(),
			"amount":            escrow.Amount.String(),
			"agent":             escrow.Agent.String(),
			"approval_required": approval,
		}); err != nil {
			return domain.Outcome{}, err
		}

		if approval {
			err = tx.AfterCommit(func(ctx context.Context) error {
				return e.applyForTransfer(ctx, escrow, in.ApplicationData)
			})
		}
		return domain.Applied(escrow.ID), err
	})
}

// CancelEscrow returns an active escrow's units to the sender. Either the
// sender or the agent may cancel.
func (e *EscrowEngine) CancelEscrow(ctx context.Context, escrowID uint64, caller domain.Address) (domain.Outcome, error) {
	if err := caller.Validate(); err != nil {
		return domain.Outcome{}, err
	}

	var (
		planned  domain.Address
		tradable bool
	)
	plan := func(ctx context.Context) (err error) {
		planned = e.store.Escrow(escrowID).Asset
		tradable, err = e.recordTradable(ctx, planned)
		return err
	}

	return e.run(ctx, "cancel_escrow", plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		escrow := tx.Escrow(escrowID)
		switch {
		case !escrow.Exists():
			return domain.NoOp(domain.ReasonUnknownEscrow), nil
		case escrow.Asset != planned:
			return domain.Outcome{}, errReplan
		case !escrow.Valid:
			return domain.NoOp(domain.ReasonAlreadyTerminal), nil
		case caller != escrow.Sender && caller != escrow.Agent:
			return domain.NoOp(domain.ReasonNotAuthorized), nil
		}
		if !tradable {
			return domain.NoOp(domain.ReasonUntradableAsset), nil
		}

		if err := tx.Release(escrow.Sender, escrow.Asset, escrow.Amount); err != nil {
			return domain.Outcome{}, err
		}
		escrow.Valid = false
		if err := tx.PutEscrow(escrow); err != nil {
			return domain.Outcome{}, err
		}

		app := tx.Application(escrowID)
		withdrawn := app.Valid && app.Pending
		if withdrawn {
			app.Pending = false
			app.Valid = false
			if err := tx.PutApplication(app); err != nil {
				return domain.Outcome{}, err
			}
		}

		if err := tx.Emit(domain.AggregateTypeEscrow, escrowAggregateID(escrowID), domain.EventTypeEscrowCanceled, map[string]any{
			"escrow_id": escrowID,
			"caller":    caller.String(),
			"released":  escrow.Amount.String(),
		}); err != nil {
			return domain.Outcome{}, err
		}

		var err error
		if withdrawn {
			err = tx.AfterCommit(func(ctx context.Context) error {
				return e.cancelApplication(ctx, escrow)
			})
		}
		return domain.Applied(escrowID), err
	})
}

// FinishEscrow is called by the agent once payment is confirmed. Without a
// pending application the units settle to the recipient immediately;
// otherwise they stay committed until ApproveTransfer.
func (e *EscrowEngine) FinishEscrow(ctx context.Context, escrowID uint64, caller domain.Address) (domain.Outcome, error) {
	if err := caller.Validate(); err != nil {
		return domain.Outcome{}, err
	}

	var (
		planned  domain.Address
		tradable bool
	)
	plan := func(ctx context.Context) (err error) {
		planned = e.store.Escrow(escrowID).Asset
		tradable, err = e.recordTradable(ctx, planned)
		return err
	}

	return e.run(ctx, "finish_escrow", plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		escrow := tx.Escrow(escrowID)
		switch {
		case !escrow.Exists():
			return domain.NoOp(domain.ReasonUnknownEscrow), nil
		case escrow.Asset != planned:
			return domain.Outcome{}, errReplan
		case !escrow.Valid:
			return domain.NoOp(domain.ReasonAlreadyTerminal), nil
		case caller != escrow.Agent:
			return domain.NoOp(domain.ReasonNotAuthorized), nil
		}
		if !tradable {
			return domain.NoOp(domain.ReasonUntradableAsset), nil
		}

		escrow.Valid = false
		app := tx.Application(escrowID)
		deferred := app.Valid && app.Pending
		if deferred {
			app.EscrowFinished = true
			if err := tx.PutApplication(app); err != nil {
				return domain.Outcome{}, err
			}
		} else {
			if err := tx.Settle(escrow.Sender, escrow.Recipient, escrow.Asset, escrow.Amount); err != nil {
				return domain.Outcome{}, err
			}
			escrow.Settled = true
		}
		if err := tx.PutEscrow(escrow); err != nil {
			return domain.Outcome{}, err
		}

		err := tx.Emit(domain.AggregateTypeEscrow, escrowAggregateID(escrowID), domain.EventTypeEscrowFinished, map[string]any{
			"escrow_id":         escrowID,
			"recipient":         escrow.Recipient.String(),
			"amount":            escrow.Amount.String(),
			"awaiting_approval": deferred,
		})
		return domain.Applied(escrowID), err
	})
}

// ApproveTransfer settles a finished escrow whose asset required approval.
// Only an approver recognized by the asset collaborator may call it.
func (e *EscrowEngine) ApproveTransfer(ctx context.Context, escrowID uint64, approvalData string, caller domain.Address) (domain.Outcome, error) {
	if err := errors.Join(
		caller.Validate(),
		domain.ValidateText("approval_data", approvalData, domain.MaxApplicationDataLength),
	); err != nil {
		return domain.Outcome{}, err
	}

	var (
		planned  domain.Address
		approved bool
	)
	plan := func(ctx context.Context) (err error) {
		if planned = e.store.Escrow(escrowID).Asset; planned.IsZero() {
			return nil
		}
		if approved, err = e.assets.IsApprover(ctx, planned, caller); err != nil {
			return fmt.Errorf("approver %s lookup: %w", caller, err)
		}
		return nil
	}

	return e.run(ctx, "approve_transfer", plan, func(ctx context.Context, tx *ledger.Tx) (domain.Outcome, error) {
		escrow := tx.Escrow(escrowID)
		if !escrow.Exists() {
			return domain.NoOp(domain.ReasonUnknownEscrow), nil
		}
		if escrow.Asset != planned {
			return domain.Outcome{}, errReplan
		}
		app := tx.Application(escrowID)
		if !app.AwaitingApproval() {
			return domain.NoOp(domain.ReasonNoApplication), nil
		}
		if !approved {
			return domain.NoOp(domain.ReasonNotAuthorized), nil
		}

		if err := tx.Settle(escrow.Sender, escrow.Recipient, escrow.Asset, escrow.Amount); err != nil {
			return domain.Outcome{}, err
		}
		escrow.Settled = true
		if err := tx.PutEscrow(escrow); err != nil {
			return domain.Outcome{}, err
		}
		app.ApprovalData = approvalData
		app.Pending = false
		app.Valid = false
		if err := tx.PutApplication(app); err != nil {
			return domain.Outcome{}, err
		}

		err := tx.Emit(domain.AggregateTypeEscrow, escrowAggregateID(escrowID), domain.EventTypeTransferApproved, map[string]any{
			"escrow_id": escrowID,
			"approver":  caller.String(),
			"recipient": escrow.Recipient.String(),
			"amount":    escrow.Amount.String(),
		})
		return domain.Applied(escrowID), err
	})
}

// OnDeposit credits units deposited into custody by the asset collaborator.
func (e *EscrowEngine) OnDeposit(ctx context.Context, asset, from domain.Address, amount domain.Amount) (domain.Outcome, error) {
	return e.onDeposit(ctx, asset, from, amount)
}

// Withdraw transfers the caller's whole available balance out of custody.
func (e *EscrowEngine) Withdraw(ctx context.Context, asset, caller domain.Address) (domain.Outcome, error) {
	return e.withdraw(ctx, asset, caller)
}

// applyForTransfer signals a committed escrow's application. If the
// collaborator refuses, the escrow is withdrawn and its units released.
func (e *EscrowEngine) applyForTransfer(ctx context.Context, escrow domain.Escrow, applicationData string) error {
	err := e.assets.ApplyForTransfer(ctx, escrow.Asset, escrow.ID, applicationData)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("apply for transfer of escrow %d: %w", escrow.ID, err)

	rerr := e.revert(ctx, "create_escrow", func(tx *ledger.Tx) error {
		current, app := tx.Escrow(escrow.ID), tx.Application(escrow.ID)
		if !current.Valid || !app.Valid || !app.Pending {
			return ledger.ErrRollback
		}
		if err := tx.Release(current.Sender, current.Asset, current.Amount); err != nil {
			return err
		}
		current.Valid = false
		app.Pending = false
		app.Valid = false
		if err := errors.Join(tx.PutEscrow(current), tx.PutApplication(app)); err != nil {
			return err
		}
		return tx.Emit(domain.AggregateTypeEscrow, escrowAggregateID(escrow.ID), domain.EventTypeEscrowCanceled, map[string]any{
			"escrow_id": escrow.ID,
			"released":  current.Amount.String(),
			"reason":    "transfer application refused",
		})
	})
	return errors.Join(err, rerr)
}

// cancelApplication signals that a canceled escrow's application was
// withdrawn. If the collaborator refuses, the escrow and its application
// are restored.
func (e *EscrowEngine) cancelApplication(ctx context.Context, escrow domain.Escrow) error {
	err := e.assets.CancelTransferApplication(ctx, escrow.Asset, escrow.ID)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("cancel transfer application of escrow %d: %w", escrow.ID, err)

	rerr := e.revert(ctx, "cancel_escrow", func(tx *ledger.Tx) error {
		current, app := tx.Escrow(escrow.ID), tx.Application(escrow.ID)
		if current.Valid || current.Settled || app.Valid {
			return ledger.ErrRollback
		}
		if tx.BalanceOf(current.Sender, current.Asset) < current.Amount {
			return fmt.Errorf("sender %s no longer holds the %s units of escrow %d", current.Sender, current.Amount, escrow.ID)
		}
		if err := tx.Commit(current.Sender, current.Asset, current.Amount); err != nil {
			return err
		}
		current.Valid = true
		app.Pending = true
		app.Valid = true
		if err := errors.Join(tx.PutEscrow(current), tx.PutApplication(app)); err != nil {
			return err
		}
		return tx.Emit(domain.AggregateTypeEscrow, escrowAggregateID(escrow.ID), domain.EventTypeEscrowRestored, map[string]any{
			"escrow_id": escrow.ID,
			"committed": current.Amount.String(),
		})
	})
	return errors.Join(err, rerr)
}

func escrowAggregateID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
