package handler

import (
	"net/http"

	"github.com/iho/custody/internal/adapter/http/dto"
	"github.com/iho/custody/internal/usecase"
)

// ExchangeEngines resolves the engine currently authorized on the exchange store.
type ExchangeEngines interface {
	Current() (*usecase.ExchangeEngine, error)
}

// ExchangeHandler handles exchange operations. Every request is routed to
// the engine version the store currently points at.
type ExchangeHandler struct {
	engines ExchangeEngines
}

// NewExchangeHandler creates a new ExchangeHandler.
func NewExchangeHandler(engines ExchangeEngines) *ExchangeHandler {
	return &ExchangeHandler{engines: engines}
}

func (h *ExchangeHandler) engine(w http.ResponseWriter) (*usecase.ExchangeEngine, bool) {
	e, err := h.engines.Current()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "no exchange engine for current writer", err.Error())
		return nil, false
	}
	return e, true
}

// CreateOrder creates an order on behalf of the caller.
func (h *ExchangeHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(caller(r).Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.CreateOrder(r.Context(), input)
	writeOutcome(w, "failed to create order", out, err, true)
}

// CancelOrder cancels an order and returns its remainder to the maker.
func (h *ExchangeHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.CancelOrder(r.Context(), orderID, caller(r).Address)
	writeOutcome(w, "failed to cancel order", out, err, false)
}

// ExecuteOrder records an agreement for the caller against an order.
func (h *ExchangeHandler) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	var req dto.ExecuteOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(orderID, caller(r).Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	out, err := e.ExecuteOrder(r.Context(), input)
	writeOutcome(w, "failed to execute order", out, err, true)
}

// ConfirmAgreement is called by the order's agent once payment arrived.
func (h *ExchangeHandler) ConfirmAgreement(w http.ResponseWriter, r *http.Request) {
	h.closeAgreement(w, r, true)
}

// CancelAgreement is called by the order's agent when payment failed.
func (h *ExchangeHandler) CancelAgreement(w http.ResponseWriter, r *http.Request) {
	h.closeAgreement(w, r, false)
}

func (h *ExchangeHandler) closeAgreement(w http.ResponseWriter, r *http.Request, paid bool) {
	orderID, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	agreementID, err := idParam(r, "agreementID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agreement id", err.Error())
		return
	}

	e, ok := h.engine(w)
	if !ok {
		return
	}
	if paid {
		out, err := e.ConfirmAgreement(r.Context(), orderID, agreementID, caller(r).Address)
		writeOutcome(w, "failed to confirm agreement", out, err, false)
		return
	}
	out, err := e.CancelAgreement(r.Context(), orderID, agreementID, caller(r).Address)
	writeOutcome(w, "failed to cancel agreement", out, err, false)
}

// Deposit credits units the calling asset moved into custody.
func (h *ExchangeHandler) Deposit(w http.ResponseWriter, r *http.Request) {
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
func (h *ExchangeHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
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
	out, err := e.WithdrawAll(r.Context(), asset, caller(r).Address)
	writeOutcome(w, "failed to withdraw", out, err, false)
}
