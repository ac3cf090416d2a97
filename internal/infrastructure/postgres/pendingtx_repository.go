package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/pendingtx"
)

// PendingTxRepository implements pendingtx.Repository.
type PendingTxRepository struct {
	pool *pgxpool.Pool
}

func NewPendingTxRepository(pool *pgxpool.Pool) *PendingTxRepository {
	return &PendingTxRepository{pool: pool}
}

func (r *PendingTxRepository) Create(ctx context.Context, tx *pendingtx.PendingTransaction) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO pending_transactions (local_ref, ledger_tx_id, kind, target_campaign, submitted_at, status, attempts, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, tx.LocalRef, tx.LedgerTxID, tx.Kind, tx.TargetCampaign, tx.SubmittedAt, tx.Status, tx.Attempts, tx.LastError)
	return row.Scan(&tx.ID)
}

func (r *PendingTxRepository) GetByLedgerTxID(ctx context.Context, ledgerTxID string) (*pendingtx.PendingTransaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, local_ref, ledger_tx_id, kind, target_campaign, submitted_at, status, attempts, last_error
		FROM pending_transactions WHERE ledger_tx_id=$1
	`, ledgerTxID)
	return scanPendingTx(row)
}

func (r *PendingTxRepository) ListUnsettled(ctx context.Context, limit int) ([]*pendingtx.PendingTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, local_ref, ledger_tx_id, kind, target_campaign, submitted_at, status, attempts, last_error
		FROM pending_transactions WHERE status=$1 ORDER BY submitted_at ASC LIMIT $2
	`, pendingtx.StatusSubmitted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*pendingtx.PendingTransaction
	for rows.Next() {
		tx, err := scanPendingTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *PendingTxRepository) HasInFlight(ctx context.Context, targetCampaign uuid.UUID, kinds []pendingtx.Kind) (bool, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pending_transactions
			WHERE target_campaign=$1 AND status=$2 AND kind=ANY($3)
		)
	`, targetCampaign, pendingtx.StatusSubmitted, kindStrs).Scan(&exists)
	return exists, err
}

func (r *PendingTxRepository) UpdateStatus(ctx context.Context, ledgerTxID string, status pendingtx.Status) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pending_transactions SET status=$1 WHERE ledger_tx_id=$2
	`, status, ledgerTxID)
	return err
}

func (r *PendingTxRepository) RecordAttempt(ctx context.Context, ledgerTxID string, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pending_transactions SET attempts=attempts+1, last_error=$1 WHERE ledger_tx_id=$2
	`, lastError, ledgerTxID)
	return err
}

func scanPendingTx(row pgx.Row) (*pendingtx.PendingTransaction, error) {
	var tx pendingtx.PendingTransaction
	if err := row.Scan(&tx.ID, &tx.LocalRef, &tx.LedgerTxID, &tx.Kind, &tx.TargetCampaign, &tx.SubmittedAt, &tx.Status, &tx.Attempts, &tx.LastError); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}
