package pendingtx

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a ledger write.
type Kind string

const (
	KindCreate  Kind = "CREATE"
	KindEntry   Kind = "ENTRY"
	KindResolve Kind = "RESOLVE"
	KindCancel  Kind = "CANCEL"
	KindPayout  Kind = "PAYOUT"
)

// Status tracks a submitted transaction until the reconciler settles it.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusAbandoned Status = "ABANDONED"
)

// PendingTransaction joins a local ref to a ledger transaction id. Rows are
// owned exclusively by the reconciler; the mirror never mutates a ledger
// record directly, it only applies the effect of a confirmed transaction.
type PendingTransaction struct {
	ID             int64     `json:"id"`
	LocalRef       uuid.UUID `json:"localRef"`
	LedgerTxID     string    `json:"ledgerTxId"`
	Kind           Kind      `json:"kind"`
	TargetCampaign uuid.UUID `json:"targetCampaign"`
	SubmittedAt    time.Time `json:"submittedAt"`
	Status         Status    `json:"status"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"lastError,omitempty"`
}
