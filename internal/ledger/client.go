package ledger

import (
	"context"
	"time"
)

// CallContext carries the acting account and target chain explicitly on every
// call. Nothing in the core reads ambient wallet or network state; a chain
// mismatch fails fast with ErrWrongNetwork instead of switching in-band.
type CallContext struct {
	Account string
	ChainID string
}

// OpKind classifies a ledger write.
type OpKind string

const (
	OpCreate  OpKind = "CAMPAIGN_CREATE"
	OpEntry   OpKind = "ENTRY_SUBMIT"
	OpResolve OpKind = "WINNERS_SELECT"
	OpCancel  OpKind = "CAMPAIGN_CANCEL"
	OpPayout  OpKind = "PAYOUT_EXECUTE"
)

// Op is one state-changing ledger write.
type Op interface {
	Kind() OpKind
}

// CreateOp escrows Pool and opens a campaign.
type CreateOp struct {
	PayloadRef string
	Flavor     string
	Pool       int64
	Deadline   time.Time
}

func (CreateOp) Kind() OpKind { return OpCreate }

// EntryOp submits evidence against an open campaign.
type EntryOp struct {
	CampaignID  uint64
	EvidenceRef string
}

func (EntryOp) Kind() OpKind { return OpEntry }

// ResolveOp selects winners and releases the escrowed pool. An empty winner
// set refunds the pool to the creator where the board permits it.
type ResolveOp struct {
	CampaignID uint64
	Winners    []string
}

func (ResolveOp) Kind() OpKind { return OpResolve }

// CancelOp refunds the pool and closes the campaign.
type CancelOp struct {
	CampaignID uint64
}

func (CancelOp) Kind() OpKind { return OpCancel }

// PayoutOp transfers one payout leg to a single recipient.
type PayoutOp struct {
	CampaignID uint64
	Recipient  string
	Amount     int64
}

func (PayoutOp) Kind() OpKind { return OpPayout }

// SubmitReceipt acknowledges a broadcast transaction. It does not imply
// confirmation.
type SubmitReceipt struct {
	TxID        string
	SubmittedAt time.Time
}

// ReceiptStatus is the settled outcome of a transaction.
type ReceiptStatus string

const (
	ReceiptConfirmed ReceiptStatus = "CONFIRMED"
	ReceiptReverted  ReceiptStatus = "REVERTED"
)

// Receipt is the confirmed outcome of one transaction, including the events
// it emitted.
type Receipt struct {
	TxID     string
	Status   ReceiptStatus
	Reason   string
	Events   []Event
	MinedAt  time.Time
	LogStart uint64
}

// Client is the thin adapter over an authoritative ledger. It holds no
// durable state of its own; all durable projections live in the mirror.
//
//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_client.go -package=mocks . Client
type Client interface {
	// ReadRecord returns ErrNotFound for an unknown id; a record pending
	// confirmation is indistinguishable from one that never existed.
	ReadRecord(ctx context.Context, call CallContext, id uint64) (*CampaignRecord, error)

	// RecordCount enumerates campaigns known to the ledger.
	RecordCount(ctx context.Context, call CallContext) (uint64, error)

	// ReadEvents scans the event log over [from, to) and returns the next
	// cursor position. A partial failure leaves the cursor usable for resume.
	ReadEvents(ctx context.Context, call CallContext, from, to uint64) ([]Event, uint64, error)

	// ReadEntries scans entries recorded against a campaign over the log
	// range [from, to), returning the next cursor. Resumable after a partial
	// failure, like ReadEvents.
	ReadEntries(ctx context.Context, call CallContext, campaignID uint64, from, to uint64) ([]EntryRecord, uint64, error)

	// HasSubmitted reports whether the account already holds an entry on the
	// campaign.
	HasSubmitted(ctx context.Context, call CallContext, campaignID uint64, account string) (bool, error)

	// Submit broadcasts op without waiting for confirmation. A synchronous
	// refusal surfaces as ErrRejected and is never retried here.
	Submit(ctx context.Context, call CallContext, op Op) (*SubmitReceipt, error)

	// AwaitConfirmation blocks until the transaction settles or the timeout
	// elapses. ErrTimedOut does not mean the transaction is dead: finality is
	// independent of the caller's budget and the caller must re-poll or rely
	// on the event path.
	AwaitConfirmation(ctx context.Context, txID string, timeout time.Duration) (*Receipt, error)
}
