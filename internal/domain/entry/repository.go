package entry

import (
	"context"
)

// Repository defines entry mirror persistence. Upsert is conflict-keyed by
// entry id, and additionally by (campaign_id, submitter) when uniqueSubmitter
// is set, so replayed submission events cannot produce duplicates; it returns
// true only when a new row was written.
type Repository interface {
	Upsert(ctx context.Context, e *Entry, uniqueSubmitter bool) (bool, error)
	ListByCampaign(ctx context.Context, campaignID uint64) ([]*Entry, error)
	HasSubmitted(ctx context.Context, campaignID uint64, submitter string) (bool, error)
	CountByCampaign(ctx context.Context, campaignID uint64) (int, error)
	MarkSelected(ctx context.Context, campaignID uint64, submitters []string) error
}
