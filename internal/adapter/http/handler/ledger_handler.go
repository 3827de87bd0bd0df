package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/custody/internal/adapter/http/dto"
	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
	"github.com/iho/custody/internal/usecase"
)

// ConsistencyObserver records consistency check results.
type ConsistencyObserver interface {
	ObserveConsistency(store string, discrepancies int)
}

// LedgerHandler serves read access to ledger stores.
type LedgerHandler struct {
	stores   map[string]*ledger.Store
	recon    *usecase.ReconciliationUseCase
	outbox   usecase.OutboxRepository
	observer ConsistencyObserver
}

// NewLedgerHandler creates a new LedgerHandler. outbox and observer may be nil.
func NewLedgerHandler(recon *usecase.ReconciliationUseCase, outbox usecase.OutboxRepository, observer ConsistencyObserver, stores ...*ledger.Store) *LedgerHandler {
	m := make(map[string]*ledger.Store, len(stores))
	for _, s := range stores {
		m[s.Name()] = s
	}
	return &LedgerHandler{stores: m, recon: recon, outbox: outbox, observer: observer}
}

func (h *LedgerHandler) store(w http.ResponseWriter, r *http.Request) (*ledger.Store, bool) {
	name := chi.URLParam(r, "store")
	s, ok := h.stores[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown ledger store", name)
		return nil, false
	}
	return s, true
}

// Summary returns a store's writer and id counters.
func (h *LedgerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"store":            s.Name(),
		"writer":           s.Writer(),
		"latest_order_id":  s.LatestOrderID(),
		"latest_escrow_id": s.LatestEscrowID(),
	})
}

// Balances lists an owner's positions.
func (h *LedgerHandler) Balances(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	balances := s.Balances(owner)
	if balances == nil {
		balances = []ledger.BalanceRow{}
	}
	writeJSON(w, http.StatusOK, dto.BalancesResponse{Store: s.Name(), Owner: owner, Balances: balances})
}

// Asset returns the custody total and last traded price of an asset.
func (h *LedgerHandler) Asset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	asset, err := addressParam(r, "asset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.AssetResponse{
		Store:     s.Name(),
		Asset:     asset,
		Custody:   s.Custody(asset),
		LastPrice: s.LastPrice(asset),
	})
}

// ListOrders pages through orders by id.
func (h *LedgerHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	page := pageQuery(r)

	writeJSON(w, http.StatusOK, dto.OrdersFromDomain(s.Orders(page.Limit, page.Offset)))
}

// GetOrder returns one order.
func (h *LedgerHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o := s.Order(id)
	if !o.Exists() {
		writeError(w, http.StatusNotFound, "order not found", "")
		return
	}
	writeJSON(w, http.StatusOK, dto.OrderFromDomain(o))
}

// ListAgreements returns every agreement of an order.
func (h *LedgerHandler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	if !s.Order(id).Exists() {
		writeError(w, http.StatusNotFound, "order not found", "")
		return
	}

	writeJSON(w, http.StatusOK, dto.AgreementsFromDomain(s.Agreements(id)))
}

// GetAgreement returns one agreement.
func (h *LedgerHandler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
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

	a := s.Agreement(orderID, agreementID)
	if !a.Exists() {
		writeError(w, http.StatusNotFound, "agreement not found", "")
		return
	}
	writeJSON(w, http.StatusOK, dto.AgreementsFromDomain([]domain.Agreement{a})[0])
}

// ListEscrows pages through escrows by id.
func (h *LedgerHandler) ListEscrows(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	page := pageQuery(r)

	escrows := s.Escrows(page.Limit, page.Offset)
	resp := make([]*dto.EscrowResponse, len(escrows))
	for i, e := range escrows {
		resp[i] = dto.EscrowFromDomain(e, s.Application(e.ID))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEscrow returns one escrow with its transfer application.
func (h *LedgerHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id", err.Error())
		return
	}

	e := s.Escrow(id)
	if !e.Exists() {
		writeError(w, http.StatusNotFound, "escrow not found", "")
		return
	}
	writeJSON(w, http.StatusOK, dto.EscrowFromDomain(e, s.Application(id)))
}

// CheckConsistency verifies a store's accounting and compares it with its
// persisted copy. An inconsistent store answers 409.
func (h *LedgerHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	result, err := h.recon.CheckStore(r.Context(), chi.URLParam(r, "store"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to check consistency", err.Error())
		return
	}

	if h.observer != nil {
		h.observer.ObserveConsistency(result.Store, len(result.Discrepancies)+len(result.Unbalanced)+len(result.Mismatches))
	}

	status := http.StatusOK
	if !result.Reconciled() {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// Reconcile checks every store.
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.recon.GenerateReconciliationReport(r.Context())
	if err != nil {
		writeError(w, mapDomainError(err), "failed to reconcile", err.Error())
		return
	}

	status := http.StatusOK
	if !report.Reconciled {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

// ListEvents returns the outbox events of one aggregate, oldest first.
// Agreement ids contain a slash, so the aggregate is named in the query.
func (h *LedgerHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.outbox == nil {
		writeError(w, http.StatusNotImplemented, "event history unavailable", "")
		return
	}
	page := pageQuery(r)

	q := r.URL.Query()
	aggregateType, aggregateID := q.Get("aggregate_type"), q.Get("aggregate_id")
	if aggregateType == "" || aggregateID == "" {
		writeError(w, http.StatusBadRequest, "aggregate_type and aggregate_id are required", "")
		return
	}

	events, err := h.outbox.GetByAggregate(r.Context(), aggregateType, aggregateID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events", err.Error())
		return
	}
	if events == nil {
		events = []*domain.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
