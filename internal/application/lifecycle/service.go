package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/application/approval"
	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
	"github.com/escrow-hub/escrow-hub/internal/domain/entry"
	"github.com/escrow-hub/escrow-hub/internal/domain/pendingtx"
	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/metrics"
)

var (
	// ErrCampaignNotFound marks a local ref with no mirror row.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrConflictInFlight refuses a resolve or cancel while a competing
	// transaction is still unsettled, so a resolve/cancel race cannot reach
	// the ledger from both sides.
	ErrConflictInFlight = errors.New("conflicting transaction in flight")
)

// Pinner persists a metadata document and returns a content reference.
type Pinner interface {
	Pin(ctx context.Context, doc json.RawMessage) (string, error)
}

// Service drives campaign lifecycle operations. It validates against the
// mirror, submits signed transactions to the ledger, and records a
// PendingTransaction per submission; confirmed effects reach the mirror only
// through the reconciler.
type Service struct {
	campaignRepo campaign.Repository
	entryRepo    entry.Repository
	pendingRepo  pendingtx.Repository
	client       ledger.Client
	pinner       Pinner
	approvals    approval.Policy
	chainID      string
	confirmWait  time.Duration
	clock        clockwork.Clock
	submitLocks  *keyedLocks
	logger       zerolog.Logger
}

// Config wires a lifecycle service.
type Config struct {
	CampaignRepo campaign.Repository
	EntryRepo    entry.Repository
	PendingRepo  pendingtx.Repository
	Client       ledger.Client
	Pinner       Pinner
	Approvals    approval.Policy
	ChainID      string
	ConfirmWait  time.Duration
	Clock        clockwork.Clock
	Logger       zerolog.Logger
}

// NewService creates a lifecycle service.
func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ConfirmWait <= 0 {
		cfg.ConfirmWait = 15 * time.Second
	}
	if cfg.Approvals == nil {
		cfg.Approvals = approval.ManualPolicy{}
	}
	return &Service{
		campaignRepo: cfg.CampaignRepo,
		entryRepo:    cfg.EntryRepo,
		pendingRepo:  cfg.PendingRepo,
		client:       cfg.Client,
		pinner:       cfg.Pinner,
		approvals:    cfg.Approvals,
		chainID:      cfg.ChainID,
		confirmWait:  cfg.ConfirmWait,
		clock:        cfg.Clock,
		submitLocks:  newKeyedLocks(),
		logger:       cfg.Logger.With().Str("service", "lifecycle").Logger(),
	}
}

func (s *Service) call(account string) ledger.CallContext {
	return ledger.CallContext{Account: account, ChainID: s.chainID}
}

func policyFor(flavor campaign.Flavor) campaign.Policy {
	if flavor == campaign.FlavorCoverage {
		return campaign.CoveragePolicy()
	}
	return campaign.QuestPolicy()
}

// CreateCampaign pins the metadata document, escrows the pool on the ledger,
// and returns the mirror row in PendingCreate. Activation happens when the
// reconciler observes the CampaignCreated event. A synchronous rejection
// leaves the row in Draft with a failure note.
func (s *Service) CreateCampaign(ctx context.Context, creator string, flavor campaign.Flavor, doc json.RawMessage, pool int64, deadline time.Time) (*campaign.Campaign, error) {
	if creator == "" {
		return nil, &campaign.ValidationError{Field: "creator", Reason: "is required"}
	}
	now := s.clock.Now().UTC()
	pol := policyFor(flavor)
	if err := pol.ValidateDraft(pool, deadline, now); err != nil {
		return nil, err
	}

	payloadRef, err := s.pinner.Pin(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("pin metadata: %w", err)
	}

	c := &campaign.Campaign{
		LocalRef:   uuid.New(),
		Creator:    creator,
		Flavor:     pol.Flavor,
		PayloadRef: payloadRef,
		Pool:       pool,
		Deadline:   deadline.UTC(),
		State:      campaign.StateDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.campaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	receipt, err := s.client.Submit(ctx, s.call(creator), ledger.CreateOp{
		PayloadRef: payloadRef,
		Flavor:     string(pol.Flavor),
		Pool:       pool,
		Deadline:   c.Deadline,
	})
	if err != nil {
		metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpCreate), "rejected").Inc()
		note := err.Error()
		if nerr := s.campaignRepo.SetFailureNote(ctx, c.LocalRef, note); nerr != nil {
			s.logger.Error().Err(nerr).Str("localRef", c.LocalRef.String()).Msg("failed to record failure note")
		}
		return nil, err
	}
	metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpCreate), "submitted").Inc()

	if err := c.BeginCreate(); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.clock.Now().UTC()
	if err := s.campaignRepo.UpdateState(ctx, c.LocalRef, c.State); err != nil {
		return nil, err
	}
	if err := s.recordPending(ctx, receipt, pendingtx.KindCreate, c.LocalRef); err != nil {
		return nil, err
	}

	s.awaitAndLog(ctx, receipt.TxID, c.LocalRef, ledger.OpCreate)
	return c, nil
}

// SubmitEntry takes in an entry against an active campaign. The duplicate
// check for single-entry campaigns runs against the mirror and the ledger
// before any ledger write; the per-campaign lock closes the window between
// check and submit.
func (s *Service) SubmitEntry(ctx context.Context, account string, localRef uuid.UUID, evidence json.RawMessage) (*pendingtx.PendingTransaction, error) {
	if account == "" {
		return nil, &campaign.ValidationError{Field: "account", Reason: "is required"}
	}
	c, err := s.campaignRepo.GetByLocalRef(ctx, localRef)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}

	unlock := s.submitLocks.lock(localRef)
	defer unlock()

	now := s.clock.Now().UTC()
	if !c.AcceptsEntries(now) {
		return nil, fmt.Errorf("campaign is %s: %w", c.EffectiveState(now), campaign.ErrInvalidTransition)
	}

	pol := policyFor(c.Flavor)
	if pol.SingleEntryPerSubmitter {
		dup, err := s.entryRepo.HasSubmitted(ctx, c.CanonicalID, account)
		if err != nil {
			return nil, err
		}
		if !dup {
			dup, err = s.client.HasSubmitted(ctx, s.call(account), c.CanonicalID, account)
			if err != nil {
				return nil, err
			}
		}
		if dup {
			return nil, &campaign.ValidationError{Field: "submitter", Reason: "already submitted to this campaign"}
		}
	}

	decision, err := s.approvals.Evaluate(c.Flavor, evidence)
	if err != nil {
		s.logger.Warn().Err(err).Str("campaign", localRef.String()).Msg("approval policy errored, deferring to manual review")
	}
	if decision == approval.DecisionReject {
		return nil, &campaign.ValidationError{Field: "evidence", Reason: "does not satisfy the campaign trigger"}
	}

	evidenceRef, err := s.pinner.Pin(ctx, evidence)
	if err != nil {
		return nil, fmt.Errorf("pin evidence: %w", err)
	}

	receipt, err := s.client.Submit(ctx, s.call(account), ledger.EntryOp{
		CampaignID:  c.CanonicalID,
		EvidenceRef: evidenceRef,
	})
	if err != nil {
		metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpEntry), "rejected").Inc()
		return nil, err
	}
	metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpEntry), "submitted").Inc()

	pt := &pendingtx.PendingTransaction{
		LocalRef:       uuid.New(),
		LedgerTxID:     receipt.TxID,
		Kind:           pendingtx.KindEntry,
		TargetCampaign: localRef,
		SubmittedAt:    receipt.SubmittedAt,
		Status:         pendingtx.StatusSubmitted,
	}
	if err := s.pendingRepo.Create(ctx, pt); err != nil {
		return nil, err
	}

	// Other submitters may proceed while this one waits for confirmation.
	unlock()
	s.awaitAndLog(ctx, receipt.TxID, localRef, ledger.OpEntry)
	return pt, nil
}

// Resolve submits the winner selection. Only the creator may resolve, only
// once the deadline has passed, and an empty winner set is accepted only
// where the flavor treats it as a refund.
func (s *Service) Resolve(ctx context.Context, account string, localRef uuid.UUID, winners []string) (*pendingtx.PendingTransaction, error) {
	c, err := s.campaignRepo.GetByLocalRef(ctx, localRef)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	if account != c.Creator {
		return nil, campaign.ErrNotCreator
	}

	// The lock closes the window between the in-flight check and the
	// submit: without it two concurrent resolve calls, or a resolve and a
	// cancel, could both pass the guard and double-spend the pool.
	unlock := s.submitLocks.lock(localRef)
	defer unlock()

	now := s.clock.Now().UTC()
	pol := policyFor(c.Flavor)
	if len(winners) == 0 && !pol.AllowZeroWinners {
		return nil, &campaign.ValidationError{Field: "winners", Reason: "at least one recipient is required"}
	}
	if c.EffectiveState(now) != campaign.StateEnded {
		return nil, campaign.ErrInvalidTransition
	}

	inFlight, err := s.pendingRepo.HasInFlight(ctx, localRef, []pendingtx.Kind{pendingtx.KindResolve, pendingtx.KindCancel})
	if err != nil {
		return nil, err
	}
	if inFlight {
		return nil, ErrConflictInFlight
	}

	receipt, err := s.client.Submit(ctx, s.call(account), ledger.ResolveOp{
		CampaignID: c.CanonicalID,
		Winners:    winners,
	})
	if err != nil {
		metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpResolve), "rejected").Inc()
		return nil, err
	}
	metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpResolve), "submitted").Inc()

	if err := c.BeginResolve(now); err != nil {
		return nil, err
	}
	if err := s.campaignRepo.UpdateState(ctx, localRef, c.State); err != nil {
		return nil, err
	}
	pt := &pendingtx.PendingTransaction{
		LocalRef:       uuid.New(),
		LedgerTxID:     receipt.TxID,
		Kind:           pendingtx.KindResolve,
		TargetCampaign: localRef,
		SubmittedAt:    receipt.SubmittedAt,
		Status:         pendingtx.StatusSubmitted,
	}
	if err := s.pendingRepo.Create(ctx, pt); err != nil {
		return nil, err
	}

	unlock()
	s.awaitAndLog(ctx, receipt.TxID, localRef, ledger.OpResolve)
	return pt, nil
}

// Cancel refunds and closes the campaign. A draft or unconfirmed campaign is
// cancelled locally; an active one goes through the ledger. Refused once
// resolution has started.
func (s *Service) Cancel(ctx context.Context, account string, localRef uuid.UUID) error {
	c, err := s.campaignRepo.GetByLocalRef(ctx, localRef)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrCampaignNotFound
	}
	if account != c.Creator {
		return campaign.ErrNotCreator
	}

	unlock := s.submitLocks.lock(localRef)
	defer unlock()

	if !c.CanTransitionTo(campaign.StateCancelled) {
		return campaign.ErrInvalidTransition
	}

	inFlight, err := s.pendingRepo.HasInFlight(ctx, localRef, []pendingtx.Kind{pendingtx.KindResolve, pendingtx.KindCancel})
	if err != nil {
		return err
	}
	if inFlight {
		return ErrConflictInFlight
	}

	// No escrow exists before the ledger confirms creation, so pre-active
	// states cancel in the mirror alone.
	if c.State == campaign.StateDraft || c.State == campaign.StatePendingCreate {
		if err := c.Cancel(); err != nil {
			return err
		}
		return s.campaignRepo.UpdateState(ctx, localRef, c.State)
	}

	receipt, err := s.client.Submit(ctx, s.call(account), ledger.CancelOp{CampaignID: c.CanonicalID})
	if err != nil {
		metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpCancel), "rejected").Inc()
		return err
	}
	metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpCancel), "submitted").Inc()

	if err := s.recordPending(ctx, receipt, pendingtx.KindCancel, localRef); err != nil {
		return err
	}
	unlock()
	s.awaitAndLog(ctx, receipt.TxID, localRef, ledger.OpCancel)
	return nil
}

// GetCampaign returns the mirror row with its state as observed now.
func (s *Service) GetCampaign(ctx context.Context, localRef uuid.UUID) (*campaign.Campaign, error) {
	c, err := s.campaignRepo.GetByLocalRef(ctx, localRef)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	c.State = c.EffectiveState(s.clock.Now().UTC())
	return c, nil
}

// ListCampaigns lists mirror rows, with derived Ended applied per row.
func (s *Service) ListCampaigns(ctx context.Context, filter campaign.Filter, limit, offset int) ([]*campaign.Campaign, error) {
	list, err := s.campaignRepo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	for _, c := range list {
		c.State = c.EffectiveState(now)
	}
	return list, nil
}

// ListEntries lists the mirror entries of a campaign.
func (s *Service) ListEntries(ctx context.Context, localRef uuid.UUID) ([]*entry.Entry, error) {
	c, err := s.campaignRepo.GetByLocalRef(ctx, localRef)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	return s.entryRepo.ListByCampaign(ctx, c.CanonicalID)
}

func (s *Service) recordPending(ctx context.Context, receipt *ledger.SubmitReceipt, kind pendingtx.Kind, target uuid.UUID) error {
	return s.pendingRepo.Create(ctx, &pendingtx.PendingTransaction{
		LocalRef:       uuid.New(),
		LedgerTxID:     receipt.TxID,
		Kind:           kind,
		TargetCampaign: target,
		SubmittedAt:    receipt.SubmittedAt,
		Status:         pendingtx.StatusSubmitted,
	})
}

// awaitAndLog waits for confirmation within the service budget. A timeout is
// logged and left to the reconciler; a revert records the reason against the
// campaign. The pending transaction row is settled by the reconciler either
// way so that event replay and direct confirmation cannot disagree.
func (s *Service) awaitAndLog(ctx context.Context, txID string, localRef uuid.UUID, op ledger.OpKind) {
	receipt, err := s.client.AwaitConfirmation(ctx, txID, s.confirmWait)
	switch {
	case err == nil:
		s.logger.Info().Str("txId", txID).Str("op", string(op)).Msg("transaction confirmed")
	case errors.Is(err, ledger.ErrTimedOut):
		s.logger.Warn().Str("txId", txID).Str("op", string(op)).Msg("confirmation wait timed out, reconciler will settle")
		if rerr := s.pendingRepo.RecordAttempt(ctx, txID, "confirmation wait timed out"); rerr != nil {
			s.logger.Error().Err(rerr).Str("txId", txID).Msg("failed to record confirmation attempt")
		}
	case errors.Is(err, ledger.ErrReverted):
		reason := ""
		if receipt != nil {
			reason = receipt.Reason
		}
		s.logger.Warn().Str("txId", txID).Str("op", string(op)).Str("reason", reason).Msg("transaction reverted")
		if nerr := s.campaignRepo.SetFailureNote(ctx, localRef, fmt.Sprintf("%s reverted: %s", op, reason)); nerr != nil {
			s.logger.Error().Err(nerr).Str("localRef", localRef.String()).Msg("failed to record failure note")
		}
	default:
		s.logger.Error().Err(err).Str("txId", txID).Str("op", string(op)).Msg("confirmation wait failed")
	}
}
