package domain

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is an unsigned quantity of asset units (or a unit price).
// Arithmetic never wraps: Add and Sub return ErrOverflow / ErrUnderflow.
type Amount uint64

// MaxAmount is the largest representable amount.
const MaxAmount = Amount(^uint64(0))

var maxAmountDecimal = decimal.RequireFromString(strconv.FormatUint(uint64(MaxAmount), 10))

// ParseAmount converts a numeric literal into an Amount. Fractions, negative
// values and values above MaxAmount are malformed input.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrMalformedInput)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not numeric", ErrMalformedInput, s)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: amount %q is not an integer", ErrMalformedInput, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: amount %q is negative", ErrMalformedInput, s)
	}
	if d.GreaterThan(maxAmountDecimal) {
		return 0, fmt.Errorf("%w: amount %q exceeds %s", ErrMalformedInput, s, maxAmountDecimal)
	}

	return Amount(d.BigInt().Uint64()), nil
}

// Add returns a+b or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return Amount(sum), nil
}

// Sub returns a-b or ErrUnderflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %d - %d", ErrUnderflow, a, b)
	}
	return Amount(diff), nil
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool {
	return a == 0
}

// Decimal converts a for storage in NUMERIC columns.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.RequireFromString(a.String())
}

// AmountFromDecimal is the inverse of Amount.Decimal.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	return ParseAmount(d.String())
}

func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}
