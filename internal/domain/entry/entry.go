package entry

import (
	"time"

	"github.com/google/uuid"
)

// Entry is the mirror projection of one submission or claim.
type Entry struct {
	ID          int64     `json:"id"`
	EntryID     uuid.UUID `json:"entryId"`
	CampaignID  uint64    `json:"campaignId"`
	Submitter   string    `json:"submitter"`
	EvidenceRef string    `json:"evidenceRef"`
	SubmittedAt time.Time `json:"submittedAt"`
	Selected    *bool     `json:"selected,omitempty"`
	Version     int64     `json:"version"`
}
