package domain

import (
	"fmt"
	"strings"
)

// Side is the maker's side of an order.
type Side string

const (
	// SideSell orders are backed by the maker's deposited balance.
	SideSell Side = "sell"
	// SideBuy orders are paid off-ledger; the taker commits units at execution.
	SideBuy Side = "buy"
)

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideSell:
		return SideSell, nil
	case SideBuy:
		return SideBuy, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrMalformedInput, s)
	}
}

// Opposite returns the side a taker must supply.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is derived from an order's fields; it is never stored.
type OrderStatus string

const (
	OrderStatusUnknown         OrderStatus = "unknown"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusExhausted       OrderStatus = "exhausted"
	OrderStatusCanceled        OrderStatus = "canceled"
)

// Order is a maker's standing offer against which takers execute.
type Order struct {
	ID             uint64  `json:"id"`
	Maker          Address `json:"maker"`
	Counterpart    Address `json:"counterpart,omitempty"`
	Asset          Address `json:"asset"`
	Remaining      Amount  `json:"remaining"`
	OriginalAmount Amount  `json:"original_amount"`
	Price          Amount  `json:"price"`
	Agent          Address `json:"agent"`
	Side           Side    `json:"side"`
	Canceled       bool    `json:"canceled"`
}

// Exists reports whether o is a stored order rather than a zero record.
func (o Order) Exists() bool {
	return o.ID != 0
}

// Exhausted reports whether every unit of the order has been taken.
func (o Order) Exhausted() bool {
	return o.Exists() && !o.Canceled && o.Remaining.IsZero()
}

// MakerCommits reports whether the maker's balance backs the order.
func (o Order) MakerCommits() bool {
	return o.Side != SideBuy
}

// Status derives the lifecycle state of the order.
func (o Order) Status() OrderStatus {
	switch {
	case !o.Exists():
		return OrderStatusUnknown
	case o.Canceled:
		return OrderStatusCanceled
	case o.Remaining.IsZero():
		return OrderStatusExhausted
	case o.Remaining < o.OriginalAmount:
		return OrderStatusPartiallyFilled
	default:
		return OrderStatusOpen
	}
}

// AgreementStatus is derived from an agreement's flags.
type AgreementStatus string

const (
	AgreementStatusUnknown  AgreementStatus = "unknown"
	AgreementStatusPending  AgreementStatus = "pending"
	AgreementStatusPaid     AgreementStatus = "paid"
	AgreementStatusCanceled AgreementStatus = "canceled"
)

// Agreement records one execution against an order, awaiting the agent's
// confirmation of off-ledger payment.
type Agreement struct {
	OrderID      uint64  `json:"order_id"`
	ID           uint64  `json:"id"`
	Counterparty Address `json:"counterparty"`
	Amount       Amount  `json:"amount"`
	Price        Amount  `json:"price"`
	Canceled     bool    `json:"canceled"`
	Paid         bool    `json:"paid"`
}

// Exists reports whether a is a stored agreement rather than a zero record.
func (a Agreement) Exists() bool {
	return a.ID != 0
}

// Terminal reports whether the agreement was paid or canceled.
func (a Agreement) Terminal() bool {
	return a.Paid || a.Canceled
}

// Status derives the lifecycle state of the agreement.
func (a Agreement) Status() AgreementStatus {
	switch {
	case !a.Exists():
		return AgreementStatusUnknown
	case a.Paid:
		return AgreementStatusPaid
	case a.Canceled:
		return AgreementStatusCanceled
	default:
		return AgreementStatusPending
	}
}

// AgreementKey addresses an agreement within its order.
type AgreementKey struct {
	OrderID     uint64
	AgreementID uint64
}
