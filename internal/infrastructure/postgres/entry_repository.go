package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/entry"
)

// EntryRepository implements entry.Repository.
type EntryRepository struct {
	pool *pgxpool.Pool
}

func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{pool: pool}
}

// Upsert inserts the entry unless the same entry id was already mirrored. For
// single-entry campaigns a partial unique index on (campaign_id, submitter)
// additionally rejects a second row from the same account.
func (r *EntryRepository) Upsert(ctx context.Context, e *entry.Entry, uniqueSubmitter bool) (bool, error) {
	conflict := `ON CONFLICT (entry_id) DO NOTHING`
	if uniqueSubmitter {
		conflict = `ON CONFLICT (campaign_id, submitter) WHERE single_entry DO NOTHING`
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO entries (entry_id, campaign_id, submitter, evidence_ref, submitted_at, selected, version, single_entry)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`+conflict, e.EntryID, int64(e.CampaignID), e.Submitter, e.EvidenceRef, e.SubmittedAt, e.Selected, e.Version, uniqueSubmitter)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *EntryRepository) ListByCampaign(ctx context.Context, campaignID uint64) ([]*entry.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, entry_id, campaign_id, submitter, evidence_ref, submitted_at, selected, version
		FROM entries WHERE campaign_id=$1 ORDER BY submitted_at ASC
	`, int64(campaignID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EntryRepository) HasSubmitted(ctx context.Context, campaignID uint64, submitter string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM entries WHERE campaign_id=$1 AND submitter=$2)
	`, int64(campaignID), submitter).Scan(&exists)
	return exists, err
}

func (r *EntryRepository) CountByCampaign(ctx context.Context, campaignID uint64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM entries WHERE campaign_id=$1
	`, int64(campaignID)).Scan(&n)
	return n, err
}

func (r *EntryRepository) MarkSelected(ctx context.Context, campaignID uint64, submitters []string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE entries SET selected=TRUE WHERE campaign_id=$1 AND submitter=ANY($2)
	`, int64(campaignID), submitters)
	return err
}

func scanEntry(row pgx.Row) (*entry.Entry, error) {
	var e entry.Entry
	var campaignID int64
	if err := row.Scan(&e.ID, &e.EntryID, &campaignID, &e.Submitter, &e.EvidenceRef, &e.SubmittedAt, &e.Selected, &e.Version); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e.CampaignID = uint64(campaignID)
	return &e, nil
}
