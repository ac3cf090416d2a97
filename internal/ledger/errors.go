package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a referenced record as absent, distinguished from a
	// transient read failure so callers can decide whether to retry.
	ErrNotFound = errors.New("ledger record not found")

	// ErrRejected marks a synchronous refusal by the ledger. Never retried
	// automatically; the caller must correct and resubmit.
	ErrRejected = errors.New("ledger rejected transaction")

	// ErrTimedOut marks a confirmation wait that exhausted its budget. The
	// transaction is not assumed dead.
	ErrTimedOut = errors.New("confirmation wait timed out")

	// ErrReverted marks a mined transaction whose execution failed.
	ErrReverted = errors.New("transaction reverted")

	// ErrWrongNetwork marks a call context whose chain id does not match the
	// connected ledger.
	ErrWrongNetwork = errors.New("wrong ledger network")
)

// RejectedError carries the ledger's synchronous refusal reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected transaction: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// RevertedError carries the revert reason of a mined transaction.
type RevertedError struct {
	TxID   string
	Reason string
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.TxID, e.Reason)
}

func (e *RevertedError) Unwrap() error { return ErrReverted }
