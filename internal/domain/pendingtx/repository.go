package pendingtx

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines pending transaction persistence.
type Repository interface {
	Create(ctx context.Context, tx *PendingTransaction) error
	GetByLedgerTxID(ctx context.Context, ledgerTxID string) (*PendingTransaction, error)
	ListUnsettled(ctx context.Context, limit int) ([]*PendingTransaction, error)
	HasInFlight(ctx context.Context, targetCampaign uuid.UUID, kinds []Kind) (bool, error)
	UpdateStatus(ctx context.Context, ledgerTxID string, status Status) error
	RecordAttempt(ctx context.Context, ledgerTxID string, lastError string) error
}
