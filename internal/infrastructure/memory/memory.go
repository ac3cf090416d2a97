// Package memory holds in-memory repository implementations backing
// single-node development mode and API tests, mirroring the postgres
// layouts including the version-guarded campaign upsert.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
	"github.com/escrow-hub/escrow-hub/internal/domain/entry"
	"github.com/escrow-hub/escrow-hub/internal/domain/eventlog"
	"github.com/escrow-hub/escrow-hub/internal/domain/pendingtx"
)

// CampaignRepository implements campaign.Repository in memory.
type CampaignRepository struct {
	mu     sync.RWMutex
	nextID int64
	byRef  map[uuid.UUID]*campaign.Campaign
}

func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{byRef: map[uuid.UUID]*campaign.Campaign{}}
}

func (r *CampaignRepository) Create(_ context.Context, c *campaign.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRef[c.LocalRef]; ok {
		return errors.New("duplicate local ref")
	}
	r.nextID++
	c.ID = r.nextID
	cp := *c
	r.byRef[c.LocalRef] = &cp
	return nil
}

func (r *CampaignRepository) Upsert(_ context.Context, c *campaign.Campaign) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byRef[c.LocalRef]
	if ok && prev.Version > c.Version {
		return false, nil
	}
	if !ok {
		r.nextID++
		c.ID = r.nextID
	} else {
		c.ID = prev.ID
	}
	cp := *c
	r.byRef[c.LocalRef] = &cp
	return true, nil
}

func (r *CampaignRepository) GetByLocalRef(_ context.Context, localRef uuid.UUID) (*campaign.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byRef[localRef]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepository) GetByCanonicalID(_ context.Context, canonicalID uint64) (*campaign.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byRef {
		if c.CanonicalID == canonicalID && canonicalID > 0 {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *CampaignRepository) List(_ context.Context, filter campaign.Filter, limit, offset int) ([]*campaign.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*campaign.Campaign
	for _, c := range r.byRef {
		if filter.State != nil && c.State != *filter.State {
			continue
		}
		if filter.Creator != nil && c.Creator != *filter.Creator {
			continue
		}
		if filter.Flavor != nil && c.Flavor != *filter.Flavor {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CampaignRepository) UpdateState(_ context.Context, localRef uuid.UUID, state campaign.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byRef[localRef]
	if !ok {
		return errors.New("campaign not found")
	}
	c.State = state
	return nil
}

func (r *CampaignRepository) SetFailureNote(_ context.Context, localRef uuid.UUID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byRef[localRef]
	if !ok {
		return errors.New("campaign not found")
	}
	c.FailureNote = &note
	return nil
}

// EntryRepository implements entry.Repository in memory.
type EntryRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[string]*entry.Entry
}

func NewEntryRepository() *EntryRepository {
	return &EntryRepository{rows: map[string]*entry.Entry{}}
}

func (r *EntryRepository) Upsert(_ context.Context, e *entry.Entry, uniqueSubmitter bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := e.EntryID.String()
	if _, ok := r.rows[k]; ok {
		return false, nil
	}
	if uniqueSubmitter {
		for _, row := range r.rows {
			if row.CampaignID == e.CampaignID && row.Submitter == e.Submitter {
				return false, nil
			}
		}
	}
	r.nextID++
	e.ID = r.nextID
	cp := *e
	r.rows[k] = &cp
	return true, nil
}

func (r *EntryRepository) ListByCampaign(_ context.Context, campaignID uint64) ([]*entry.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entry.Entry
	for _, e := range r.rows {
		if e.CampaignID == campaignID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (r *EntryRepository) HasSubmitted(_ context.Context, campaignID uint64, submitter string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.rows {
		if e.CampaignID == campaignID && e.Submitter == submitter {
			return true, nil
		}
	}
	return false, nil
}

func (r *EntryRepository) CountByCampaign(_ context.Context, campaignID uint64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.rows {
		if e.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (r *EntryRepository) MarkSelected(_ context.Context, campaignID uint64, submitters []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sel := true
	for _, s := range submitters {
		for _, e := range r.rows {
			if e.CampaignID == campaignID && e.Submitter == s {
				e.Selected = &sel
			}
		}
	}
	return nil
}

// PendingTxRepository implements pendingtx.Repository in memory.
type PendingTxRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[string]*pendingtx.PendingTransaction
}

func NewPendingTxRepository() *PendingTxRepository {
	return &PendingTxRepository{rows: map[string]*pendingtx.PendingTransaction{}}
}

func (r *PendingTxRepository) Create(_ context.Context, tx *pendingtx.PendingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[tx.LedgerTxID]; ok {
		return errors.New("duplicate ledger tx id")
	}
	r.nextID++
	tx.ID = r.nextID
	cp := *tx
	r.rows[tx.LedgerTxID] = &cp
	return nil
}

func (r *PendingTxRepository) GetByLedgerTxID(_ context.Context, ledgerTxID string) (*pendingtx.PendingTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[ledgerTxID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *PendingTxRepository) ListUnsettled(_ context.Context, limit int) ([]*pendingtx.PendingTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*pendingtx.PendingTransaction
	for _, row := range r.rows {
		if row.Status == pendingtx.StatusSubmitted {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PendingTxRepository) HasInFlight(_ context.Context, targetCampaign uuid.UUID, kinds []pendingtx.Kind) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		if row.TargetCampaign != targetCampaign || row.Status != pendingtx.StatusSubmitted {
			continue
		}
		for _, k := range kinds {
			if row.Kind == k {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *PendingTxRepository) UpdateStatus(_ context.Context, ledgerTxID string, status pendingtx.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[ledgerTxID]; ok {
		row.Status = status
	}
	return nil
}

func (r *PendingTxRepository) RecordAttempt(_ context.Context, ledgerTxID string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[ledgerTxID]; ok {
		row.Attempts++
		row.LastError = &lastError
	}
	return nil
}

// EventLogRepository implements eventlog.Repository in memory.
type EventLogRepository struct {
	mu        sync.RWMutex
	nextID    int64
	processed map[string]bool
	parked    []*eventlog.DeadLetter
	cursors   map[string]uint64
}

func NewEventLogRepository() *EventLogRepository {
	return &EventLogRepository{processed: map[string]bool{}, cursors: map[string]uint64{}}
}

func (r *EventLogRepository) MarkProcessed(_ context.Context, ev eventlog.ProcessedEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := fmt.Sprintf("%s/%s/%d", ev.Source, ev.TxID, ev.LogIndex)
	if r.processed[k] {
		return false, nil
	}
	r.processed[k] = true
	return true, nil
}

func (r *EventLogRepository) Park(_ context.Context, dl *eventlog.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	dl.ID = r.nextID
	cp := *dl
	r.parked = append(r.parked, &cp)
	return nil
}

func (r *EventLogRepository) ListDeadLetters(_ context.Context, limit int) ([]*eventlog.DeadLetter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*eventlog.DeadLetter, 0, len(r.parked))
	for _, dl := range r.parked {
		cp := *dl
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *EventLogRepository) GetCursor(_ context.Context, name string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursors[name], nil
}

func (r *EventLogRepository) SetCursor(_ context.Context, name string, position uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[name] = position
	return nil
}
