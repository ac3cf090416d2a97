package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/escrow-hub/escrow-hub/internal/application/approval"
	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
	"github.com/escrow-hub/escrow-hub/internal/domain/entry"
	"github.com/escrow-hub/escrow-hub/internal/domain/pendingtx"
	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/ledger/mocks"
)

type fakeCampaignRepo struct {
	mu    sync.Mutex
	byRef map[uuid.UUID]*campaign.Campaign
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{byRef: map[uuid.UUID]*campaign.Campaign{}}
}

func (r *fakeCampaignRepo) Create(_ context.Context, c *campaign.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byRef[c.LocalRef] = &cp
	return nil
}

func (r *fakeCampaignRepo) Upsert(_ context.Context, c *campaign.Campaign) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byRef[c.LocalRef] = &cp
	return true, nil
}

func (r *fakeCampaignRepo) GetByLocalRef(_ context.Context, ref uuid.UUID) (*campaign.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byRef[ref]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) GetByCanonicalID(_ context.Context, id uint64) (*campaign.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byRef {
		if c.CanonicalID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeCampaignRepo) List(_ context.Context, _ campaign.Filter, _, _ int) ([]*campaign.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*campaign.Campaign
	for _, c := range r.byRef {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeCampaignRepo) UpdateState(_ context.Context, ref uuid.UUID, state campaign.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byRef[ref]
	if !ok {
		return errors.New("not found")
	}
	c.State = state
	return nil
}

func (r *fakeCampaignRepo) SetFailureNote(_ context.Context, ref uuid.UUID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byRef[ref]
	if !ok {
		return errors.New("not found")
	}
	c.FailureNote = &note
	return nil
}

type fakeEntryRepo struct {
	mu        sync.Mutex
	submitted map[string]bool
}

func newFakeEntryRepo() *fakeEntryRepo { return &fakeEntryRepo{submitted: map[string]bool{}} }

func key(campaignID uint64, submitter string) string {
	return fmt.Sprintf("%d/%s", campaignID, submitter)
}

func (r *fakeEntryRepo) Upsert(_ context.Context, e *entry.Entry, uniqueSubmitter bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(e.CampaignID, e.Submitter)
	if uniqueSubmitter && r.submitted[k] {
		return false, nil
	}
	r.submitted[k] = true
	return true, nil
}

func (r *fakeEntryRepo) ListByCampaign(_ context.Context, _ uint64) ([]*entry.Entry, error) {
	return nil, nil
}

func (r *fakeEntryRepo) HasSubmitted(_ context.Context, campaignID uint64, submitter string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitted[key(campaignID, submitter)], nil
}

func (r *fakeEntryRepo) CountByCampaign(_ context.Context, _ uint64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submitted), nil
}

func (r *fakeEntryRepo) MarkSelected(_ context.Context, _ uint64, _ []string) error { return nil }

type fakePendingRepo struct {
	mu   sync.Mutex
	rows []*pendingtx.PendingTransaction
}

func (r *fakePendingRepo) Create(_ context.Context, tx *pendingtx.PendingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tx
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *fakePendingRepo) GetByLedgerTxID(_ context.Context, txID string) (*pendingtx.PendingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.LedgerTxID == txID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakePendingRepo) ListUnsettled(_ context.Context, _ int) ([]*pendingtx.PendingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*pendingtx.PendingTransaction
	for _, row := range r.rows {
		if row.Status == pendingtx.StatusSubmitted {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePendingRepo) HasInFlight(_ context.Context, target uuid.UUID, kinds []pendingtx.Kind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.TargetCampaign != target || row.Status != pendingtx.StatusSubmitted {
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

func (r *fakePendingRepo) UpdateStatus(_ context.Context, txID string, status pendingtx.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.LedgerTxID == txID {
			row.Status = status
		}
	}
	return nil
}

func (r *fakePendingRepo) RecordAttempt(_ context.Context, txID string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.LedgerTxID == txID {
			row.Attempts++
			row.LastError = &lastError
		}
	}
	return nil
}

type fakePinner struct{ refs atomic.Int64 }

func (p *fakePinner) Pin(_ context.Context, _ json.RawMessage) (string, error) {
	p.refs.Add(1)
	return "bafy-fake-ref", nil
}

type fixture struct {
	svc       *Service
	campaigns *fakeCampaignRepo
	entries   *fakeEntryRepo
	pending   *fakePendingRepo
	client    *mocks.MockClient
	clock     *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	campaigns := newFakeCampaignRepo()
	entries := newFakeEntryRepo()
	pending := &fakePendingRepo{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(Config{
		CampaignRepo: campaigns,
		EntryRepo:    entries,
		PendingRepo:  pending,
		Client:       client,
		Pinner:       &fakePinner{},
		ChainID:      "board-test",
		ConfirmWait:  time.Second,
		Clock:        clock,
		Logger:       zerolog.Nop(),
	})
	return &fixture{svc: svc, campaigns: campaigns, entries: entries, pending: pending, client: client, clock: clock}
}

func (f *fixture) seedActive(creator string, flavor campaign.Flavor, canonicalID uint64) uuid.UUID {
	ref := uuid.New()
	f.campaigns.byRef[ref] = &campaign.Campaign{
		LocalRef:    ref,
		CanonicalID: canonicalID,
		Creator:     creator,
		Flavor:      flavor,
		Pool:        100,
		Deadline:    f.clock.Now().Add(time.Hour).UTC(),
		State:       campaign.StateActive,
	}
	return ref
}

func TestCreateCampaignSubmitsAndGoesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := f.clock.Now().Add(2 * time.Hour)

	f.client.EXPECT().
		Submit(gomock.Any(), ledger.CallContext{Account: "0xcafe", ChainID: "board-test"}, gomock.AssignableToTypeOf(ledger.CreateOp{})).
		Return(&ledger.SubmitReceipt{TxID: "0xabc", SubmittedAt: f.clock.Now()}, nil)
	f.client.EXPECT().
		AwaitConfirmation(gomock.Any(), "0xabc", time.Second).
		Return(&ledger.Receipt{TxID: "0xabc", Status: ledger.ReceiptConfirmed}, nil)

	c, err := f.svc.CreateCampaign(ctx, "0xcafe", campaign.FlavorQuest, json.RawMessage(`{"title":"t"}`), 100, deadline)
	require.NoError(t, err)
	require.Equal(t, campaign.StatePendingCreate, c.State)
	require.Equal(t, "bafy-fake-ref", c.PayloadRef)

	stored, err := f.campaigns.GetByLocalRef(ctx, c.LocalRef)
	require.NoError(t, err)
	require.Equal(t, campaign.StatePendingCreate, stored.State)

	require.Len(t, f.pending.rows, 1)
	require.Equal(t, pendingtx.KindCreate, f.pending.rows[0].Kind)
	require.Equal(t, "0xabc", f.pending.rows[0].LedgerTxID)
}

func TestCreateCampaignRejectionLeavesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.EXPECT().
		Submit(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, &ledger.RejectedError{Reason: "insufficient funds"})

	_, err := f.svc.CreateCampaign(ctx, "0xcafe", campaign.FlavorQuest, nil, 100, f.clock.Now().Add(time.Hour))
	require.ErrorIs(t, err, ledger.ErrRejected)

	list, err := f.campaigns.List(ctx, campaign.Filter{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, campaign.StateDraft, list[0].State)
	require.NotNil(t, list[0].FailureNote)
	require.Empty(t, f.pending.rows)
}

func TestCreateCampaignValidatesDraftBeforePin(t *testing.T) {
	f := newFixture(t)

	var verr *campaign.ValidationError
	_, err := f.svc.CreateCampaign(context.Background(), "0xcafe", campaign.FlavorQuest, nil, 0, f.clock.Now().Add(time.Hour))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "pool", verr.Field)

	_, err = f.svc.CreateCampaign(context.Background(), "0xcafe", campaign.FlavorQuest, nil, 100, f.clock.Now().Add(10*time.Second))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "deadline", verr.Field)
}

func TestSubmitEntryDuplicateRejectedBeforeLedgerWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)

	_, err := f.entries.Upsert(ctx, &entry.Entry{CampaignID: 7, Submitter: "0xbee"}, true)
	require.NoError(t, err)

	// No Submit expectation: any ledger write fails the test.
	var verr *campaign.ValidationError
	_, err = f.svc.SubmitEntry(ctx, "0xbee", ref, json.RawMessage(`{"proof":"x"}`))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "submitter", verr.Field)
}

func TestSubmitEntryChecksLedgerWhenMirrorIsBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)

	f.client.EXPECT().
		HasSubmitted(gomock.Any(), gomock.Any(), uint64(7), "0xbee").
		Return(true, nil)

	var verr *campaign.ValidationError
	_, err := f.svc.SubmitEntry(ctx, "0xbee", ref, nil)
	require.ErrorAs(t, err, &verr)
}

func TestSubmitEntryAfterDeadlineRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)

	f.clock.Advance(2 * time.Hour)

	_, err := f.svc.SubmitEntry(ctx, "0xbee", ref, nil)
	require.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

func TestSubmitEntryHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorCoverage, 9)

	f.client.EXPECT().
		Submit(gomock.Any(), gomock.Any(), ledger.EntryOp{CampaignID: 9, EvidenceRef: "bafy-fake-ref"}).
		Return(&ledger.SubmitReceipt{TxID: "0xe1", SubmittedAt: f.clock.Now()}, nil)
	f.client.EXPECT().
		AwaitConfirmation(gomock.Any(), "0xe1", gomock.Any()).
		Return(&ledger.Receipt{TxID: "0xe1", Status: ledger.ReceiptConfirmed}, nil)

	pt, err := f.svc.SubmitEntry(ctx, "0xbee", ref, json.RawMessage(`{"mm":12}`))
	require.NoError(t, err)
	require.Equal(t, pendingtx.KindEntry, pt.Kind)
	require.Equal(t, pendingtx.StatusSubmitted, pt.Status)
}

func TestSubmitEntryTimeoutCountsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorCoverage, 9)

	f.client.EXPECT().
		Submit(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&ledger.SubmitReceipt{TxID: "0xe1", SubmittedAt: f.clock.Now()}, nil)
	f.client.EXPECT().
		AwaitConfirmation(gomock.Any(), "0xe1", gomock.Any()).
		Return(nil, ledger.ErrTimedOut)

	pt, err := f.svc.SubmitEntry(ctx, "0xbee", ref, nil)
	require.NoError(t, err)
	require.Equal(t, pendingtx.StatusSubmitted, pt.Status)

	// The row stays unsettled for the reconciler, with the wait on record.
	stored, err := f.pending.GetByLedgerTxID(ctx, "0xe1")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
}

func TestSubmitEntryRejectedByApprovalPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorCoverage, 7)

	svc := NewService(Config{
		CampaignRepo: f.campaigns,
		EntryRepo:    f.entries,
		PendingRepo:  f.pending,
		Client:       f.client,
		Pinner:       &fakePinner{},
		Approvals:    approval.ExpressionPolicy{Expression: "rainfall < 40"},
		ChainID:      "board-test",
		ConfirmWait:  time.Second,
		Clock:        f.clock,
		Logger:       zerolog.Nop(),
	})

	// The trigger fails, so nothing is pinned and nothing reaches the ledger.
	_, err := svc.SubmitEntry(ctx, "0xfarm", ref, json.RawMessage(`{"rainfall": 62}`))
	var verr *campaign.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "evidence", verr.Field)
}

func TestResolveByNonCreatorRefused(t *testing.T) {
	f := newFixture(t)
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)

	_, err := f.svc.Resolve(context.Background(), "0xmallory", ref, []string{"0xbee"})
	require.ErrorIs(t, err, campaign.ErrNotCreator)
}

func TestResolveBeforeDeadlineRefused(t *testing.T) {
	f := newFixture(t)
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)

	_, err := f.svc.Resolve(context.Background(), "0xcafe", ref, []string{"0xbee"})
	require.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

func TestResolveZeroWinnersByFlavor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	coverageRef := f.seedActive("0xcafe", campaign.FlavorCoverage, 3)
	f.clock.Advance(2 * time.Hour)

	var verr *campaign.ValidationError
	_, err := f.svc.Resolve(ctx, "0xcafe", coverageRef, nil)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "winners", verr.Field)
}

func TestResolveHappyPathMarksResolving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)
	f.clock.Advance(2 * time.Hour)

	f.client.EXPECT().
		Submit(gomock.Any(), gomock.Any(), ledger.ResolveOp{CampaignID: 7, Winners: []string{"0xbee"}}).
		Return(&ledger.SubmitReceipt{TxID: "0xr1", SubmittedAt: f.clock.Now()}, nil)
	f.client.EXPECT().
		AwaitConfirmation(gomock.Any(), "0xr1", gomock.Any()).
		Return(&ledger.Receipt{TxID: "0xr1", Status: ledger.ReceiptConfirmed}, nil)

	_, err := f.svc.Resolve(ctx, "0xcafe", ref, []string{"0xbee"})
	require.NoError(t, err)

	stored, err := f.campaigns.GetByLocalRef(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, campaign.StateResolving, stored.State)
}

func TestResolveCancelRaceOneSideWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)
	f.clock.Advance(2 * time.Hour)

	// A cancel is already broadcast but not yet settled.
	require.NoError(t, f.pending.Create(ctx, &pendingtx.PendingTransaction{
		LocalRef:       uuid.New(),
		LedgerTxID:     "0xc1",
		Kind:           pendingtx.KindCancel,
		TargetCampaign: ref,
		Status:         pendingtx.StatusSubmitted,
	}))

	_, err := f.svc.Resolve(ctx, "0xcafe", ref, []string{"0xbee"})
	require.ErrorIs(t, err, ErrConflictInFlight)
}

func TestResolveCancelConcurrentOneBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)
	f.clock.Advance(2 * time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})

	// Exactly one broadcast may reach the ledger. The cancel blocks inside
	// Submit while the resolve arrives, so without per-campaign exclusion
	// both would pass the in-flight guard.
	f.client.EXPECT().
		Submit(gomock.Any(), gomock.Any(), ledger.CancelOp{CampaignID: 7}).
		DoAndReturn(func(context.Context, ledger.CallContext, ledger.Op) (*ledger.SubmitReceipt, error) {
			close(started)
			<-release
			return &ledger.SubmitReceipt{TxID: "0xc1", SubmittedAt: f.clock.Now()}, nil
		})
	f.client.EXPECT().
		AwaitConfirmation(gomock.Any(), "0xc1", gomock.Any()).
		Return(&ledger.Receipt{TxID: "0xc1", Status: ledger.ReceiptConfirmed}, nil)

	done := make(chan error, 1)
	go func() { done <- f.svc.Cancel(ctx, "0xcafe", ref) }()
	<-started
	close(release)

	_, err := f.svc.Resolve(ctx, "0xcafe", ref, []string{"0xbee"})
	require.ErrorIs(t, err, ErrConflictInFlight)
	require.NoError(t, <-done)
}

func TestSubmitEntryDoesNotSerializeBehindConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorCoverage, 9)

	waiting := make(chan struct{})
	release := make(chan struct{})

	f.client.EXPECT().
		Submit(gomock.Any(), ledger.CallContext{Account: "0xbee", ChainID: "board-test"}, gomock.Any()).
		Return(&ledger.SubmitReceipt{TxID: "0xe1", SubmittedAt: f.clock.Now()}, nil)
	f.client.EXPECT().
		AwaitConfirmation(gomock.Any(), "0xe1", gomock.Any()).
		DoAndReturn(func(context.Context, string, time.Duration) (*ledger.Receipt, error) {
			close(waiting)
			<-release
			return &ledger.Receipt{TxID: "0xe1", Status: ledger.ReceiptConfirmed}, nil
		})
	f.client.EXPECT().
		Submit(gomock.Any(), ledger.CallContext{Account: "0xant", ChainID: "board-test"}, gomock.Any()).
		Return(&ledger.SubmitReceipt{TxID: "0xe2", SubmittedAt: f.clock.Now()}, nil)
	f.client.EXPECT().
		AwaitConfirmation(gomock.Any(), "0xe2", gomock.Any()).
		Return(&ledger.Receipt{TxID: "0xe2", Status: ledger.ReceiptConfirmed}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.SubmitEntry(ctx, "0xbee", ref, nil)
		done <- err
	}()
	<-waiting

	// The first submitter is parked on its confirmation; the second must
	// complete without queueing behind it.
	_, err := f.svc.SubmitEntry(ctx, "0xant", ref, nil)
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestCancelRefusedOnceResolving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)
	f.campaigns.byRef[ref].State = campaign.StateResolving

	err := f.svc.Cancel(ctx, "0xcafe", ref)
	require.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

func TestCancelDraftStaysLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := uuid.New()
	f.campaigns.byRef[ref] = &campaign.Campaign{
		LocalRef: ref,
		Creator:  "0xcafe",
		Flavor:   campaign.FlavorQuest,
		State:    campaign.StateDraft,
	}

	// No ledger expectations: a draft cancel must not touch the ledger.
	require.NoError(t, f.svc.Cancel(ctx, "0xcafe", ref))

	stored, err := f.campaigns.GetByLocalRef(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, campaign.StateCancelled, stored.State)
}

func TestGetCampaignDerivesEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.seedActive("0xcafe", campaign.FlavorQuest, 7)
	f.clock.Advance(2 * time.Hour)

	c, err := f.svc.GetCampaign(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, campaign.StateEnded, c.State)

	stored, err := f.campaigns.GetByLocalRef(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, campaign.StateActive, stored.State)
}
