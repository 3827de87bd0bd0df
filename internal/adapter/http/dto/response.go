package dto

import (
	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/ledger"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// OrderResponse represents an order in API responses.
type OrderResponse struct {
	domain.Order
	Status domain.OrderStatus `json:"status"`
}

// OrderFromDomain converts a domain order to a response.
func OrderFromDomain(o domain.Order) *OrderResponse {
	return &OrderResponse{Order: o, Status: o.Status()}
}

// OrdersFromDomain converts domain orders to responses.
func OrdersFromDomain(orders []domain.Order) []*OrderResponse {
	result := make([]*OrderResponse, len(orders))
	for i, o := range orders {
		result[i] = OrderFromDomain(o)
	}
	return result
}

// AgreementResponse represents an agreement in API responses.
type AgreementResponse struct {
	domain.Agreement
	Status domain.AgreementStatus `json:"status"`
}

// AgreementsFromDomain converts domain agreements to responses.
func AgreementsFromDomain(agreements []domain.Agreement) []*AgreementResponse {
	result := make([]*AgreementResponse, len(agreements))
	for i, a := range agreements {
		result[i] = &AgreementResponse{Agreement: a, Status: a.Status()}
	}
	return result
}

// EscrowResponse represents an escrow with its transfer application.
type EscrowResponse struct {
	domain.Escrow
	Status      domain.EscrowStatus         `json:"status"`
	Application *domain.TransferApplication `json:"application,omitempty"`
}

// EscrowFromDomain converts a domain escrow to a response.
func EscrowFromDomain(e domain.Escrow, app domain.TransferApplication) *EscrowResponse {
	resp := &EscrowResponse{Escrow: e, Status: e.Status(app)}
	if app.Exists() {
		resp.Application = &app
	}
	return resp
}

// BalancesResponse lists an owner's positions in a store.
type BalancesResponse struct {
	Store    string              `json:"store"`
	Owner    domain.Address      `json:"owner"`
	Balances []ledger.BalanceRow `json:"balances"`
}

// AssetResponse summarizes one asset in a store.
type AssetResponse struct {
	Store     string         `json:"store"`
	Asset     domain.Address `json:"asset"`
	Custody   domain.Amount  `json:"custody"`
	LastPrice domain.Amount  `json:"last_price"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token     string           `json:"token"`
	Principal domain.Principal `json:"principal"`
}
