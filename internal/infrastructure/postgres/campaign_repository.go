package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
)

// CampaignRepository implements campaign.Repository.
type CampaignRepository struct {
	pool *pgxpool.Pool
}

func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

const campaignColumns = `id, local_ref, canonical_id, creator, flavor, payload_ref, pool, deadline, state, version, entry_count, winners, failure_note, created_at, updated_at, resolved_at`

func (r *CampaignRepository) Create(ctx context.Context, c *campaign.Campaign) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (local_ref, canonical_id, creator, flavor, payload_ref, pool, deadline, state, version, entry_count, winners, failure_note, created_at, updated_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id
	`, c.LocalRef, c.CanonicalID, c.Creator, c.Flavor, c.PayloadRef, c.Pool, c.Deadline, c.State, c.Version, c.EntryCount, c.Winners, c.FailureNote, c.CreatedAt, c.UpdatedAt, c.ResolvedAt)
	return row.Scan(&c.ID)
}

// Upsert applies last-writer-wins on version: a write carrying a version
// older than the stored row changes nothing and returns false.
func (r *CampaignRepository) Upsert(ctx context.Context, c *campaign.Campaign) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO campaigns (local_ref, canonical_id, creator, flavor, payload_ref, pool, deadline, state, version, entry_count, winners, failure_note, created_at, updated_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (local_ref) DO UPDATE SET
			canonical_id=EXCLUDED.canonical_id,
			state=EXCLUDED.state,
			version=EXCLUDED.version,
			entry_count=EXCLUDED.entry_count,
			winners=EXCLUDED.winners,
			failure_note=EXCLUDED.failure_note,
			updated_at=EXCLUDED.updated_at,
			resolved_at=EXCLUDED.resolved_at
		WHERE campaigns.version <= EXCLUDED.version
	`, c.LocalRef, c.CanonicalID, c.Creator, c.Flavor, c.PayloadRef, c.Pool, c.Deadline, c.State, c.Version, c.EntryCount, c.Winners, c.FailureNote, c.CreatedAt, c.UpdatedAt, c.ResolvedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CampaignRepository) GetByLocalRef(ctx context.Context, localRef uuid.UUID) (*campaign.Campaign, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE local_ref=$1
	`, localRef)
	return scanCampaign(row)
}

func (r *CampaignRepository) GetByCanonicalID(ctx context.Context, canonicalID uint64) (*campaign.Campaign, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE canonical_id=$1
	`, int64(canonicalID))
	return scanCampaign(row)
}

func (r *CampaignRepository) List(ctx context.Context, filter campaign.Filter, limit, offset int) ([]*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []interface{}{}
	where := ""
	and := func(cond string) {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	if filter.State != nil {
		args = append(args, *filter.State)
		and("state=$" + itoa(len(args)))
	}
	if filter.Creator != nil {
		args = append(args, *filter.Creator)
		and("creator=$" + itoa(len(args)))
	}
	if filter.Flavor != nil {
		args = append(args, *filter.Flavor)
		and("flavor=$" + itoa(len(args)))
	}
	query += where + " ORDER BY created_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepository) UpdateState(ctx context.Context, localRef uuid.UUID, state campaign.State) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET state=$1, updated_at=NOW() WHERE local_ref=$2
	`, state, localRef)
	return err
}

func (r *CampaignRepository) SetFailureNote(ctx context.Context, localRef uuid.UUID, note string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET failure_note=$1, updated_at=NOW() WHERE local_ref=$2
	`, note, localRef)
	return err
}

func scanCampaign(row pgx.Row) (*campaign.Campaign, error) {
	var c campaign.Campaign
	var canonicalID int64
	if err := row.Scan(&c.ID, &c.LocalRef, &canonicalID, &c.Creator, &c.Flavor, &c.PayloadRef, &c.Pool, &c.Deadline, &c.State, &c.Version, &c.EntryCount, &c.Winners, &c.FailureNote, &c.CreatedAt, &c.UpdatedAt, &c.ResolvedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.CanonicalID = uint64(canonicalID)
	return &c, nil
}
