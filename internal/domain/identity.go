package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the number of hex characters after the 0x prefix.
const AddressLength = 40

// Address identifies an account holder, an asset, an agent or an approver.
// Addresses are stored in lower case with the 0x prefix.
type Address string

// ZeroAddress is the empty identity used for "no fixed counterpart".
const ZeroAddress Address = ""

// ParseAddress normalizes s into an Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return ZeroAddress, fmt.Errorf("%w: address %q must start with 0x", ErrMalformedInput, s)
	}

	body := s[2:]
	if len(body) != AddressLength {
		return ZeroAddress, fmt.Errorf("%w: address %q must have %d hex digits", ErrMalformedInput, s, AddressLength)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return ZeroAddress, fmt.Errorf("%w: address %q is not hex", ErrMalformedInput, s)
	}

	return Address("0x" + strings.ToLower(body)), nil
}

// ParseOptionalAddress is ParseAddress, except an empty string yields ZeroAddress.
func ParseOptionalAddress(s string) (Address, error) {
	if strings.TrimSpace(s) == "" {
		return ZeroAddress, nil
	}
	return ParseAddress(s)
}

// IsZero reports whether a is the empty identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Validate checks that a was produced by ParseAddress.
func (a Address) Validate() error {
	parsed, err := ParseAddress(string(a))
	if err != nil {
		return err
	}
	if parsed != a {
		return fmt.Errorf("%w: address %q is not normalized", ErrMalformedInput, a)
	}
	return nil
}

func (a Address) String() string {
	return string(a)
}

// WriterID identifies an engine instance (for example "exchange/v2").
// A ledger store accepts mutations only from its current writer.
type WriterID string

// Validate rejects empty or whitespace-bearing writer ids.
func (w WriterID) Validate() error {
	if w == "" || strings.ContainsAny(string(w), " \t\r\n") {
		return fmt.Errorf("%w: invalid writer id %q", ErrMalformedInput, w)
	}
	return nil
}

func (w WriterID) String() string {
	return string(w)
}
