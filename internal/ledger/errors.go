package ledger

import "errors"

var (
	// ErrReentrant is returned when an operation re-enters a store while
	// another operation on the same store is still running in that call chain.
	ErrReentrant = errors.New("reentrant ledger store call")

	// ErrRollback may be returned from an Update callback to discard every
	// staged change without reporting an error to the caller.
	ErrRollback = errors.New("rollback")

	// ErrTxClosed is returned when a Tx is used after its Update returned.
	ErrTxClosed = errors.New("ledger transaction is closed")

	// ErrInvalidRecord is returned when a record id was not allocated by the Tx.
	ErrInvalidRecord = errors.New("invalid ledger record")
)
