package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Limits on free-form fields carried with escrows and approvals.
const (
	MaxApplicationDataLength = 2048
	MaxMemoLength            = 1024
)

// ParseID parses a positive record id. Zero and non-numeric ids are malformed.
func ParseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q is not an unsigned integer", ErrMalformedInput, s)
	}
	if id == 0 {
		return 0, fmt.Errorf("%w: id must be positive", ErrMalformedInput)
	}
	return id, nil
}

// ValidateText checks the length and encoding of a free-form field.
func ValidateText(field, value string, limit int) error {
	if len(value) > limit {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformedInput, field, limit)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformedInput, field)
	}
	return nil
}

// Page sizes for listing records.
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// Page is a window over an ordered listing.
type Page struct {
	Limit  int
	Offset int
}

// NewPage clamps a requested window: a non-positive limit selects
// DefaultPageSize, larger limits are capped at MaxPageSize and negative
// offsets start at the beginning.
func NewPage(limit, offset int) Page {
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	return Page{Limit: limit, Offset: max(offset, 0)}
}
