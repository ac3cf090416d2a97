package ledger

import (
	"encoding/json"
	"time"
)

// CampaignRecord is the ledger's view of one campaign.
// Campaign flavors recognized by the board contract. Coverage campaigns
// accept more than one entry per submitter; everything else is single-entry.
const (
	FlavorQuest    = "QUEST"
	FlavorCoverage = "COVERAGE"
)

type CampaignRecord struct {
	ID         uint64    `json:"id"`
	Creator    string    `json:"creator"`
	Flavor     string    `json:"flavor"`
	PayloadRef string    `json:"payloadRef"`
	Pool       int64     `json:"pool"`
	Remaining  int64     `json:"remaining"`
	Deadline   time.Time `json:"deadline"`
	Cancelled  bool      `json:"cancelled"`
	Finalized  bool      `json:"finalized"`
	EntryCount int       `json:"entryCount"`
	Winners    []string  `json:"winners,omitempty"`
}

// EntryRecord is the ledger's view of one submission.
type EntryRecord struct {
	CampaignID  uint64    `json:"campaignId"`
	Submitter   string    `json:"submitter"`
	EvidenceRef string    `json:"evidenceRef"`
	SubmittedAt time.Time `json:"submittedAt"`
	Selected    bool      `json:"selected"`
}

// EventKind names an emitted ledger event.
type EventKind string

const (
	EventCampaignCreated   EventKind = "CAMPAIGN_CREATED"
	EventEntrySubmitted    EventKind = "ENTRY_SUBMITTED"
	EventWinnersSelected   EventKind = "WINNERS_SELECTED"
	EventCampaignCancelled EventKind = "CAMPAIGN_CANCELLED"
	EventPayoutExecuted    EventKind = "PAYOUT_EXECUTED"
)

// Event is one entry of the append-only ledger log. (Source, TxID, LogIndex)
// uniquely identifies it across replays; LogIndex is monotonic per source and
// doubles as the mirror version for the campaign it touches.
type Event struct {
	Source     string          `json:"source"`
	TxID       string          `json:"txId"`
	LogIndex   uint64          `json:"logIndex"`
	Kind       EventKind       `json:"kind"`
	CampaignID uint64          `json:"campaignId"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	At         time.Time       `json:"at"`
}

// CampaignCreatedPayload accompanies EventCampaignCreated.
type CampaignCreatedPayload struct {
	CampaignID uint64    `json:"campaignId"`
	Creator    string    `json:"creator"`
	Flavor     string    `json:"flavor"`
	PayloadRef string    `json:"payloadRef"`
	Pool       int64     `json:"pool"`
	Deadline   time.Time `json:"deadline"`
}

// EntrySubmittedPayload accompanies EventEntrySubmitted.
type EntrySubmittedPayload struct {
	CampaignID  uint64    `json:"campaignId"`
	Submitter   string    `json:"submitter"`
	EvidenceRef string    `json:"evidenceRef"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// WinnersSelectedPayload accompanies EventWinnersSelected.
type WinnersSelectedPayload struct {
	CampaignID      uint64   `json:"campaignId"`
	Winners         []string `json:"winners"`
	PayoutPerWinner int64    `json:"payoutPerWinner"`
}

// CampaignCancelledPayload accompanies EventCampaignCancelled.
type CampaignCancelledPayload struct {
	CampaignID uint64 `json:"campaignId"`
}

// PayoutExecutedPayload accompanies EventPayoutExecuted.
type PayoutExecutedPayload struct {
	CampaignID uint64 `json:"campaignId"`
	Recipient  string `json:"recipient"`
	Amount     int64  `json:"amount"`
}

// DecodePayload unmarshals an event payload into its typed form.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	err := json.Unmarshal(raw, &out)
	return out, err
}
