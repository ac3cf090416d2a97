package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/eventlog"
)

// EventLogRepository implements eventlog.Repository.
type EventLogRepository struct {
	pool *pgxpool.Pool
}

func NewEventLogRepository(pool *pgxpool.Pool) *EventLogRepository {
	return &EventLogRepository{pool: pool}
}

func (r *EventLogRepository) MarkProcessed(ctx context.Context, ev eventlog.ProcessedEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO processed_events (source, tx_id, log_index, processed_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (source, tx_id, log_index) DO NOTHING
	`, ev.Source, ev.TxID, int64(ev.LogIndex), ev.ProcessedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *EventLogRepository) Park(ctx context.Context, dl *eventlog.DeadLetter) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO dead_letters (source, tx_id, log_index, kind, payload, reason, attempts, parked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, dl.Source, dl.TxID, int64(dl.LogIndex), dl.Kind, dl.Payload, dl.Reason, dl.Attempts, dl.ParkedAt)
	return row.Scan(&dl.ID)
}

func (r *EventLogRepository) ListDeadLetters(ctx context.Context, limit int) ([]*eventlog.DeadLetter, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, source, tx_id, log_index, kind, payload, reason, attempts, parked_at
		FROM dead_letters ORDER BY parked_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*eventlog.DeadLetter
	for rows.Next() {
		var dl eventlog.DeadLetter
		var logIndex int64
		if err := rows.Scan(&dl.ID, &dl.Source, &dl.TxID, &logIndex, &dl.Kind, &dl.Payload, &dl.Reason, &dl.Attempts, &dl.ParkedAt); err != nil {
			return nil, err
		}
		dl.LogIndex = uint64(logIndex)
		out = append(out, &dl)
	}
	return out, rows.Err()
}

func (r *EventLogRepository) GetCursor(ctx context.Context, name string) (uint64, error) {
	var position int64
	err := r.pool.QueryRow(ctx, `
		SELECT position FROM event_cursors WHERE name=$1
	`, name).Scan(&position)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return uint64(position), nil
}

func (r *EventLogRepository) SetCursor(ctx context.Context, name string, position uint64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_cursors (name, position) VALUES ($1,$2)
		ON CONFLICT (name) DO UPDATE SET position=EXCLUDED.position
	`, name, int64(position))
	return err
}
