package handler

import (
	"net/http"

	"github.com/iho/custody/internal/adapter/http/dto"
	"github.com/iho/custody/internal/usecase"
)

// EscrowEngines resolves the engine currently authorized on the escrow store.
type EscrowEngines interface {
	Current() (*usecase.EscrowEngine, error)
}

// EscrowHandler handles escrow operations.
type EscrowHandler struct {
	engines EscrowEngines
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(engines EscrowEngines) *EscrowHandler {
	return &EscrowHandler{engines: engines}
}

func (h *EscrowHandler) engine(w http.ResponseWriter) (*usecase.EscrowEngine, bool) {
	e, err := h.engines.Current()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no escrow engine for current writer", err.Error())
		return nil, false
	}
	return e, true
}

// Create opens an escrow funded by the caller.
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateEscrowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(caller(r).Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.CreateEscrow(r.Context(), input)
	writeOutcome(w, "failed to create escrow", out, err, true)
}

// Cancel returns an escrow's units to its sender.
func (h *EscrowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	escrowID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.CancelEscrow(r.Context(), escrowID, caller(r).Address)
	writeOutcome(w, "failed to cancel escrow", out, err, false)
}

// Finish is called by the escrow's agent.
func (h *EscrowHandler) Finish(w http.ResponseWriter, r *http.Request) {
	escrowID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.FinishEscrow(r.Context(), escrowID, caller(r).Address)
	writeOutcome(w, "failed to finish escrow", out, err, false)
}

// Approve is called by the asset's approver for a finished escrow.
func (h *EscrowHandler) Approve(w http.ResponseWriter, r *http.Request) {
	escrowID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id", err.Error())
		return
	}

	var req dto.ApproveTransferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid approval", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.ApproveTransfer(r.Context(), escrowID, req.ApprovalData, caller(r).Address)
	writeOutcome(w, "failed to approve transfer", out, err, false)
}

// Deposit credits units the calling asset moved into custody.
func (h *EscrowHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	from, amount, err := req.Parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deposit", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.OnDeposit(r.Context(), caller(r).Address, from, amount)
	writeOutcome(w, "failed to credit deposit", out, err, false)
}

// Withdraw moves the caller's whole available balance out of custody.
func (h *EscrowHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req dto.WithdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	asset, err := req.Parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid withdrawal", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.Withdraw(r.Context(), asset, caller(r).Address)
	writeOutcome(w, "failed to withdraw", out, err, false)
}
