package domain

// Reason explains why an operation completed without changing state.
type Reason string

const (
	ReasonZeroAmount             Reason = "zero_amount"
	ReasonInsufficientBalance    Reason = "insufficient_balance"
	ReasonUntradableAsset        Reason = "untradable_asset"
	ReasonUnknownAgent           Reason = "unknown_agent"
	ReasonUnknownOrder           Reason = "unknown_order"
	ReasonUnknownAgreement       Reason = "unknown_agreement"
	ReasonUnknownEscrow          Reason = "unknown_escrow"
	ReasonNotAuthorized          Reason = "not_authorized"
	ReasonAlreadyTerminal        Reason = "already_terminal"
	ReasonExhausted              Reason = "exhausted"
	ReasonInvalidSide            Reason = "invalid_side"
	ReasonAmountExceedsRemaining Reason = "amount_exceeds_remaining"
	ReasonNoApplication          Reason = "no_application"
	ReasonNothingToWithdraw      Reason = "nothing_to_withdraw"
)

// Outcome is the result of an engine operation that did not fail hard.
//
// A business-rule rejection is not an error: the call succeeds, Applied is
// false and Reason says why nothing changed. ID carries the id of the record
// created (order, agreement, escrow) or, for an exhausted order, the id of its
// last agreement.
type Outcome struct {
	Applied bool   `json:"applied"`
	Reason  Reason `json:"reason,omitempty"`
	ID      uint64 `json:"id,omitempty"`

	// Amount is the quantity moved out of custody by a withdrawal.
	Amount Amount `json:"amount,omitempty"`
}

// Applied builds a successful outcome.
func Applied(id uint64) Outcome {
	return Outcome{Applied: true, ID: id}
}

// NoOp builds a rejected outcome.
func NoOp(reason Reason) Outcome {
	return Outcome{Reason: reason}
}

// WithID attaches a record id to o.
func (o Outcome) WithID(id uint64) Outcome {
	o.ID = id
	return o
}

// WithAmount attaches a moved amount to o.
func (o Outcome) WithAmount(amount Amount) Outcome {
	o.Amount = amount
	return o
}

// Label is the metrics/log label for o.
func (o Outcome) Label() string {
	if o.Applied {
		return "applied"
	}
	return "noop"
}
