package embedded

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/ledger/protocol"
)

// Revert reasons mirror the board contract's error set.
const (
	revertInvalidDeadline  = "INVALID_DEADLINE"
	revertInvalidPool      = "INVALID_POOL"
	revertAlreadySubmitted = "ALREADY_SUBMITTED"
	revertNotCreator       = "NOT_CREATOR"
	revertNotActive        = "CAMPAIGN_NOT_ACTIVE"
	revertAlreadyFinalized = "CAMPAIGN_ALREADY_FINALIZED"
	revertUnknownCampaign  = "UNKNOWN_CAMPAIGN"
	revertNotFinalized     = "CAMPAIGN_NOT_FINALIZED"
	revertNotWinner        = "NOT_A_WINNER"
	revertInsufficientPool = "INSUFFICIENT_POOL"
)

type boardCampaign struct {
	ID         uint64    `json:"id"`
	Creator    string    `json:"creator"`
	Flavor     string    `json:"flavor"`
	PayloadRef string    `json:"payloadRef"`
	Pool       int64     `json:"pool"`
	Remaining  int64     `json:"remaining"`
	Deadline   time.Time `json:"deadline"`
	Cancelled  bool      `json:"cancelled"`
	Finalized  bool      `json:"finalized"`
	Winners    []string  `json:"winners,omitempty"`
	Paid       []string  `json:"paid,omitempty"`
}

type boardEntry struct {
	CampaignID  uint64    `json:"campaignId"`
	Submitter   string    `json:"submitter"`
	EvidenceRef string    `json:"evidenceRef"`
	SubmittedAt time.Time `json:"submittedAt"`
	Selected    bool      `json:"selected"`
}

type snapshot struct {
	ChainID           string                    `json:"chainId"`
	NextCampaignID    uint64                    `json:"nextCampaignId"`
	Campaigns         map[uint64]boardCampaign  `json:"campaigns"`
	EntriesByCampaign map[uint64][]boardEntry   `json:"entriesByCampaign"`
	Submitted         map[string]bool           `json:"submitted"`
	Events            []ledger.Event            `json:"events"`
	Receipts          map[string]ledger.Receipt `json:"receipts"`
	AppliedTx         map[string]bool           `json:"appliedTx"`
}

// Machine is the deterministic escrow board state machine. Every applied
// transaction yields a receipt; guard failures are recorded as reverted
// receipts rather than surfaced as apply errors, matching mined-but-failed
// ledger semantics.
type Machine struct {
	mu sync.RWMutex
	s  snapshot
}

func NewMachine(chainID string) *Machine {
	m := &Machine{}
	m.s = emptySnapshot(chainID)
	return m
}

func emptySnapshot(chainID string) snapshot {
	return snapshot{
		ChainID:           chainID,
		NextCampaignID:    1,
		Campaigns:         map[uint64]boardCampaign{},
		EntriesByCampaign: map[uint64][]boardEntry{},
		Submitted:         map[string]bool{},
		Events:            []ledger.Event{},
		Receipts:          map[string]ledger.Receipt{},
		AppliedTx:         map[string]bool{},
	}
}

// Marshal serializes the current snapshot.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.s)
}

// Unmarshal restores machine state from a snapshot payload.
func (m *Machine) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot")
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	normalizeSnapshot(&s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

func normalizeSnapshot(s *snapshot) {
	if s.NextCampaignID == 0 {
		s.NextCampaignID = 1
	}
	if s.Campaigns == nil {
		s.Campaigns = map[uint64]boardCampaign{}
	}
	if s.EntriesByCampaign == nil {
		s.EntriesByCampaign = map[uint64][]boardEntry{}
	}
	if s.Submitted == nil {
		s.Submitted = map[string]bool{}
	}
	if s.Receipts == nil {
		s.Receipts = map[string]ledger.Receipt{}
	}
	if s.AppliedTx == nil {
		s.AppliedTx = map[string]bool{}
	}
}

func submittedKey(campaignID uint64, submitter string) string {
	return strconv.FormatUint(campaignID, 10) + "/" + strings.TrimSpace(submitter)
}

// ApplyTx applies one verified transaction. Replays are no-ops. The returned
// error covers envelope problems only; execution guard failures settle as
// reverted receipts.
func (m *Machine) ApplyTx(tx protocol.Tx) error {
	if err := tx.ValidateBasic(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.s.AppliedTx[tx.TxID] {
		return nil
	}
	if tx.ChainID != m.s.ChainID {
		return fmt.Errorf("tx chain %s does not match board chain %s", tx.ChainID, m.s.ChainID)
	}
	at := tx.Timestamp.UTC()

	var reason string
	var events []ledger.Event
	switch tx.Op {
	case ledger.OpCreate:
		reason, events = m.applyCreateLocked(tx, at)
	case ledger.OpEntry:
		reason, events = m.applyEntryLocked(tx, at)
	case ledger.OpResolve:
		reason, events = m.applyResolveLocked(tx, at)
	case ledger.OpCancel:
		reason, events = m.applyCancelLocked(tx, at)
	case ledger.OpPayout:
		reason, events = m.applyPayoutLocked(tx, at)
	default:
		return fmt.Errorf("unsupported op: %s", tx.Op)
	}

	receipt := ledger.Receipt{
		TxID:    tx.TxID,
		Status:  ledger.ReceiptConfirmed,
		MinedAt: at,
	}
	if reason != "" {
		receipt.Status = ledger.ReceiptReverted
		receipt.Reason = reason
	} else {
		receipt.LogStart = uint64(len(m.s.Events))
		for i := range events {
			events[i].Source = m.s.ChainID
			events[i].TxID = tx.TxID
			events[i].LogIndex = uint64(len(m.s.Events))
			events[i].At = at
			m.s.Events = append(m.s.Events, events[i])
		}
		receipt.Events = events
	}
	m.s.Receipts[tx.TxID] = receipt
	m.s.AppliedTx[tx.TxID] = true
	return nil
}

func (m *Machine) applyCreateLocked(tx protocol.Tx, at time.Time) (string, []ledger.Event) {
	payload, err := protocol.DecodePayload[protocol.CampaignCreatePayload](tx.Payload)
	if err != nil {
		return revertInvalidPool, nil
	}
	if payload.Pool <= 0 {
		return revertInvalidPool, nil
	}
	if !payload.Deadline.After(at) {
		return revertInvalidDeadline, nil
	}
	flavor := strings.ToUpper(strings.TrimSpace(payload.Flavor))
	if flavor == "" {
		flavor = ledger.FlavorQuest
	}
	id := m.s.NextCampaignID
	m.s.NextCampaignID++
	m.s.Campaigns[id] = boardCampaign{
		ID:         id,
		Creator:    tx.Actor,
		Flavor:     flavor,
		PayloadRef: strings.TrimSpace(payload.PayloadRef),
		Pool:       payload.Pool,
		Remaining:  payload.Pool,
		Deadline:   payload.Deadline.UTC(),
	}
	raw, _ := json.Marshal(ledger.CampaignCreatedPayload{
		CampaignID: id,
		Creator:    tx.Actor,
		Flavor:     flavor,
		PayloadRef: strings.TrimSpace(payload.PayloadRef),
		Pool:       payload.Pool,
		Deadline:   payload.Deadline.UTC(),
	})
	return "", []ledger.Event{{
		Kind:       ledger.EventCampaignCreated,
		CampaignID: id,
		Actor:      tx.Actor,
		Payload:    raw,
	}}
}

func (m *Machine) applyEntryLocked(tx protocol.Tx, at time.Time) (string, []ledger.Event) {
	payload, err := protocol.DecodePayload[protocol.EntrySubmitPayload](tx.Payload)
	if err != nil {
		return revertUnknownCampaign, nil
	}
	c, ok := m.s.Campaigns[payload.CampaignID]
	if !ok {
		return revertUnknownCampaign, nil
	}
	if c.Cancelled || c.Finalized || !c.Deadline.After(at) {
		return revertNotActive, nil
	}
	// Coverage campaigns take repeat claims from the same account; every
	// other flavor is one entry per submitter.
	key := submittedKey(c.ID, tx.Actor)
	if c.Flavor != ledger.FlavorCoverage {
		if m.s.Submitted[key] {
			return revertAlreadySubmitted, nil
		}
	}
	m.s.Submitted[key] = true
	m.s.EntriesByCampaign[c.ID] = append(m.s.EntriesByCampaign[c.ID], boardEntry{
		CampaignID:  c.ID,
		Submitter:   tx.Actor,
		EvidenceRef: strings.TrimSpace(payload.EvidenceRef),
		SubmittedAt: at,
	})
	raw, _ := json.Marshal(ledger.EntrySubmittedPayload{
		CampaignID:  c.ID,
		Submitter:   tx.Actor,
		EvidenceRef: strings.TrimSpace(payload.EvidenceRef),
		SubmittedAt: at,
	})
	return "", []ledger.Event{{
		Kind:       ledger.EventEntrySubmitted,
		CampaignID: c.ID,
		Actor:      tx.Actor,
		Payload:    raw,
	}}
}

func (m *Machine) applyResolveLocked(tx protocol.Tx, at time.Time) (string, []ledger.Event) {
	payload, err := protocol.DecodePayload[protocol.WinnersSelectPayload](tx.Payload)
	if err != nil {
		return revertUnknownCampaign, nil
	}
	c, ok := m.s.Campaigns[payload.CampaignID]
	if !ok {
		return revertUnknownCampaign, nil
	}
	if c.Finalized || c.Cancelled {
		return revertAlreadyFinalized, nil
	}
	if tx.Actor != c.Creator {
		return revertNotCreator, nil
	}
	winners := uniqueNonEmpty(payload.Winners)
	for _, w := range winners {
		if !m.s.Submitted[submittedKey(c.ID, w)] {
			return revertNotWinner, nil
		}
	}

	// Selection computes the per-winner share but the pool stays escrowed
	// until payout legs draw it down. An empty winner set refunds the whole
	// pool to the creator.
	var perWinner int64
	if len(winners) > 0 {
		perWinner = c.Pool / int64(len(winners))
	} else {
		c.Remaining = 0
	}
	c.Finalized = true
	c.Winners = winners
	m.s.Campaigns[c.ID] = c

	selected := map[string]bool{}
	for _, w := range winners {
		selected[w] = true
	}
	entries := m.s.EntriesByCampaign[c.ID]
	for i := range entries {
		entries[i].Selected = selected[entries[i].Submitter]
	}
	m.s.EntriesByCampaign[c.ID] = entries

	raw, _ := json.Marshal(ledger.WinnersSelectedPayload{
		CampaignID:      c.ID,
		Winners:         winners,
		PayoutPerWinner: perWinner,
	})
	return "", []ledger.Event{{
		Kind:       ledger.EventWinnersSelected,
		CampaignID: c.ID,
		Actor:      tx.Actor,
		Payload:    raw,
	}}
}

func (m *Machine) applyCancelLocked(tx protocol.Tx, at time.Time) (string, []ledger.Event) {
	payload, err := protocol.DecodePayload[protocol.CampaignCancelPayload](tx.Payload)
	if err != nil {
		return revertUnknownCampaign, nil
	}
	c, ok := m.s.Campaigns[payload.CampaignID]
	if !ok {
		return revertUnknownCampaign, nil
	}
	if c.Finalized || c.Cancelled {
		return revertAlreadyFinalized, nil
	}
	if tx.Actor != c.Creator {
		return revertNotCreator, nil
	}
	c.Cancelled = true
	c.Remaining = 0
	m.s.Campaigns[c.ID] = c
	raw, _ := json.Marshal(ledger.CampaignCancelledPayload{CampaignID: c.ID})
	return "", []ledger.Event{{
		Kind:       ledger.EventCampaignCancelled,
		CampaignID: c.ID,
		Actor:      tx.Actor,
		Payload:    raw,
	}}
}

func (m *Machine) applyPayoutLocked(tx protocol.Tx, at time.Time) (string, []ledger.Event) {
	payload, err := protocol.DecodePayload[protocol.PayoutExecutePayload](tx.Payload)
	if err != nil {
		return revertUnknownCampaign, nil
	}
	c, ok := m.s.Campaigns[payload.CampaignID]
	if !ok {
		return revertUnknownCampaign, nil
	}
	if !c.Finalized {
		return revertNotFinalized, nil
	}
	recipient := strings.TrimSpace(payload.Recipient)
	isWinner := false
	for _, w := range c.Winners {
		if w == recipient {
			isWinner = true
			break
		}
	}
	if !isWinner {
		return revertNotWinner, nil
	}
	if payload.Amount <= 0 || payload.Amount > c.Remaining {
		return revertInsufficientPool, nil
	}
	c.Remaining -= payload.Amount
	c.Paid = append(c.Paid, recipient)
	m.s.Campaigns[c.ID] = c
	raw, _ := json.Marshal(ledger.PayoutExecutedPayload{
		CampaignID: c.ID,
		Recipient:  recipient,
		Amount:     payload.Amount,
	})
	return "", []ledger.Event{{
		Kind:       ledger.EventPayoutExecuted,
		CampaignID: c.ID,
		Actor:      tx.Actor,
		Payload:    raw,
	}}
}

// ChainID returns the board's chain identifier.
func (m *Machine) ChainID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ChainID
}

// GetCampaign returns one campaign record by canonical id.
func (m *Machine) GetCampaign(id uint64) (ledger.CampaignRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.s.Campaigns[id]
	if !ok {
		return ledger.CampaignRecord{}, false
	}
	return ledger.CampaignRecord{
		ID:         c.ID,
		Creator:    c.Creator,
		Flavor:     c.Flavor,
		PayloadRef: c.PayloadRef,
		Pool:       c.Pool,
		Remaining:  c.Remaining,
		Deadline:   c.Deadline,
		Cancelled:  c.Cancelled,
		Finalized:  c.Finalized,
		EntryCount: len(m.s.EntriesByCampaign[c.ID]),
		Winners:    append([]string(nil), c.Winners...),
	}, true
}

// CampaignCount returns the number of campaigns ever created.
func (m *Machine) CampaignCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.NextCampaignID - 1
}

// HasSubmitted reports whether the account holds an entry on the campaign.
func (m *Machine) HasSubmitted(campaignID uint64, account string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Submitted[submittedKey(campaignID, account)]
}

// ListEntries returns the entries of one campaign in submission order.
func (m *Machine) ListEntries(campaignID uint64) []ledger.EntryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.s.EntriesByCampaign[campaignID]
	out := make([]ledger.EntryRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledger.EntryRecord{
			CampaignID:  e.CampaignID,
			Submitter:   e.Submitter,
			EvidenceRef: e.EvidenceRef,
			SubmittedAt: e.SubmittedAt,
			Selected:    e.Selected,
		})
	}
	return out
}

// EventsRange returns events with log index in [from, to) plus the next
// cursor. A zero `to` means the current log head.
func (m *Machine) EventsRange(from, to uint64) ([]ledger.Event, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	head := uint64(len(m.s.Events))
	if to == 0 || to > head {
		to = head
	}
	if from >= to {
		return nil, from
	}
	out := make([]ledger.Event, to-from)
	copy(out, m.s.Events[from:to])
	return out, to
}

// EntriesRange returns entries recorded against campaignID whose submission
// event landed at a log index in [from, to), plus the next cursor. A zero
// `to` means the current log head; a partial read resumes from the returned
// cursor.
func (m *Machine) EntriesRange(campaignID, from, to uint64) ([]ledger.EntryRecord, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	head := uint64(len(m.s.Events))
	if to == 0 || to > head {
		to = head
	}
	if from >= to {
		return nil, from
	}
	var out []ledger.EntryRecord
	for _, ev := range m.s.Events[from:to] {
		if ev.Kind != ledger.EventEntrySubmitted || ev.CampaignID != campaignID {
			continue
		}
		for _, e := range m.s.EntriesByCampaign[campaignID] {
			if e.Submitter == ev.Actor && e.SubmittedAt.Equal(ev.At) {
				out = append(out, ledger.EntryRecord{
					CampaignID:  e.CampaignID,
					Submitter:   e.Submitter,
					EvidenceRef: e.EvidenceRef,
					SubmittedAt: e.SubmittedAt,
					Selected:    e.Selected,
				})
				break
			}
		}
	}
	return out, to
}

// LogHead returns the index one past the last event.
func (m *Machine) LogHead() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.s.Events))
}

// Receipt returns the settled receipt for a transaction, if any.
func (m *Machine) Receipt(txID string) (ledger.Receipt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.s.Receipts[txID]
	return r, ok
}

func uniqueNonEmpty(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
