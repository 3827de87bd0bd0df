package domain

import "errors"

var (
	// ErrMalformedInput is returned when a request cannot be interpreted at all
	// (bad address format, non-integer or out-of-range numeric literal, unknown side).
	// Operations fail with it before any state is read or written.
	ErrMalformedInput = errors.New("malformed input")

	// ErrWriteAuthority is returned when the calling engine is not the store's
	// current authorized writer.
	ErrWriteAuthority = errors.New("engine is not the authorized writer of this store")

	// Arithmetic errors
	ErrOverflow  = errors.New("amount overflow")
	ErrUnderflow = errors.New("amount underflow")

	// Admin errors
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUnknownStore  = errors.New("unknown ledger store")
	ErrUnknownWriter = errors.New("unknown engine version")
)
