package recon

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/escrow-hub/escrow-hub/internal/application/payout"
	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
	"github.com/escrow-hub/escrow-hub/internal/domain/entry"
	"github.com/escrow-hub/escrow-hub/internal/domain/eventlog"
	"github.com/escrow-hub/escrow-hub/internal/domain/pendingtx"
	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/metrics"
)

var (
	// ErrMissingSignature marks a webhook delivery with no signature header.
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrAuthenticationFailed marks a webhook delivery whose signature did
	// not verify against the per-source secret.
	ErrAuthenticationFailed = errors.New("webhook authentication failed")
)

// SecretSource resolves the shared HMAC secret for a webhook source.
type SecretSource interface {
	GetKeyForSource(ctx context.Context, sourceID string) (keyID string, key []byte, err error)
}

// PaymentNotice is the payment provider's webhook body.
type PaymentNotice struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	MetaData      PaymentMetaData `json:"metaData"`
	FailureReason *string         `json:"failureReason,omitempty"`
}

// PaymentMetaData ties a payment back to a campaign. Kind distinguishes pool
// funding from payout disbursement.
type PaymentMetaData struct {
	CampaignRef uuid.UUID `json:"campaignRef"`
	Kind        string    `json:"kind"`
}

const (
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"

	PaymentKindFunding = "pool_funding"
	PaymentKindPayout  = "payout"
)

// Processor applies confirmed ledger events and payment notices to the
// mirror. It is the only writer that settles PendingTransaction rows, so a
// directly-awaited confirmation and a replayed event can never disagree.
type Processor struct {
	campaignRepo campaign.Repository
	entryRepo    entry.Repository
	pendingRepo  pendingtx.Repository
	eventRepo    eventlog.Repository
	secrets      SecretSource
	payouts      *payout.Service
	chainID      string
	operator     string
	clock        clockwork.Clock
	maxAttempts  uint64
	logger       zerolog.Logger
}

// ProcessorConfig wires a reconciliation processor.
type ProcessorConfig struct {
	CampaignRepo campaign.Repository
	EntryRepo    entry.Repository
	PendingRepo  pendingtx.Repository
	EventRepo    eventlog.Repository
	Secrets      SecretSource
	// Payouts, when set, issues one escrow release leg per winner once a
	// selection event lands. Nil disables automatic distribution. Operator
	// is the account the legs are broadcast under.
	Payouts     *payout.Service
	ChainID     string
	Operator    string
	Clock       clockwork.Clock
	MaxAttempts uint64
	Logger      zerolog.Logger
}

// NewProcessor creates a reconciliation processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Operator == "" {
		cfg.Operator = "escrow-hub"
	}
	return &Processor{
		campaignRepo: cfg.CampaignRepo,
		entryRepo:    cfg.EntryRepo,
		pendingRepo:  cfg.PendingRepo,
		eventRepo:    cfg.EventRepo,
		secrets:      cfg.Secrets,
		payouts:      cfg.Payouts,
		chainID:      cfg.ChainID,
		operator:     cfg.Operator,
		clock:        cfg.Clock,
		maxAttempts:  cfg.MaxAttempts,
		logger:       cfg.Logger.With().Str("service", "recon").Logger(),
	}
}

// OnLedgerEvent applies one confirmed event to the mirror. Replays are
// no-ops keyed by (source, txId, logIndex). The mirror write is retried with
// backoff; an event that keeps failing is parked as a dead letter and never
// blocks later events.
func (p *Processor) OnLedgerEvent(ctx context.Context, ev ledger.Event) error {
	fresh, err := p.eventRepo.MarkProcessed(ctx, eventlog.ProcessedEvent{
		Source:      ev.Source,
		TxID:        ev.TxID,
		LogIndex:    ev.LogIndex,
		ProcessedAt: p.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !fresh {
		metrics.EventsProcessedTotal.WithLabelValues(string(ev.Kind), "duplicate").Inc()
		return nil
	}

	return p.applyWithRecovery(ctx, eventlog.DeadLetter{
		Source:   ev.Source,
		TxID:     ev.TxID,
		LogIndex: ev.LogIndex,
		Kind:     string(ev.Kind),
		Payload:  ev.Payload,
	}, func(ctx context.Context) error {
		return p.apply(ctx, ev)
	})
}

// applyWithRecovery retries the mirror write with backoff and parks the
// payload as a dead letter once retries are exhausted. Parking settles the
// delivery: the source is acknowledged and the dead letter is replayed out
// of band instead of being redelivered into the replay-dedupe wall.
func (p *Processor) applyWithRecovery(ctx context.Context, dl eventlog.DeadLetter, apply func(context.Context) error) error {
	start := p.clock.Now()
	backoff := retry.WithMaxRetries(p.maxAttempts-1, retry.NewFibonacci(50*time.Millisecond))
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if aerr := apply(ctx); aerr != nil {
			return retry.RetryableError(aerr)
		}
		return nil
	})
	metrics.EventApplyDuration.Observe(p.clock.Since(start).Seconds())

	if err != nil {
		metrics.EventsProcessedTotal.WithLabelValues(dl.Kind, "dead_letter").Inc()
		metrics.DeadLettersTotal.Inc()
		p.logger.Error().Err(err).
			Str("source", dl.Source).
			Str("txId", dl.TxID).
			Uint64("logIndex", dl.LogIndex).
			Msg("mirror write exhausted retries, parking")
		dl.Reason = err.Error()
		dl.Attempts = attempts
		dl.ParkedAt = p.clock.Now().UTC()
		return p.eventRepo.Park(ctx, &dl)
	}

	metrics.EventsProcessedTotal.WithLabelValues(dl.Kind, "applied").Inc()
	return nil
}

func (p *Processor) apply(ctx context.Context, ev ledger.Event) error {
	switch ev.Kind {
	case ledger.EventCampaignCreated:
		return p.applyCreated(ctx, ev)
	case ledger.EventEntrySubmitted:
		return p.applyEntry(ctx, ev)
	case ledger.EventWinnersSelected:
		return p.applyWinners(ctx, ev)
	case ledger.EventCampaignCancelled:
		return p.applyCancelled(ctx, ev)
	case ledger.EventPayoutExecuted:
		return p.applyPayout(ctx, ev)
	default:
		p.logger.Warn().Str("kind", string(ev.Kind)).Msg("ignoring unknown event kind")
		return nil
	}
}

// applyCreated joins the local ref to the canonical id through the pending
// transaction and promotes the campaign to Active. An event with no pending
// row came from another writer; the mirror adopts it under a fresh local ref.
func (p *Processor) applyCreated(ctx context.Context, ev ledger.Event) error {
	payload, err := ledger.DecodePayload[ledger.CampaignCreatedPayload](ev.Payload)
	if err != nil {
		return fmt.Errorf("decode created payload: %w", err)
	}

	pt, err := p.pendingRepo.GetByLedgerTxID(ctx, ev.TxID)
	if err != nil {
		return err
	}

	var c *campaign.Campaign
	if pt != nil {
		c, err = p.campaignRepo.GetByLocalRef(ctx, pt.TargetCampaign)
		if err != nil {
			return err
		}
	}
	if c == nil {
		now := p.clock.Now().UTC()
		flavor := campaign.FlavorQuest
		if payload.Flavor == ledger.FlavorCoverage {
			flavor = campaign.FlavorCoverage
		}
		c = &campaign.Campaign{
			LocalRef:   uuid.New(),
			Creator:    payload.Creator,
			Flavor:     flavor,
			PayloadRef: payload.PayloadRef,
			Pool:       payload.Pool,
			Deadline:   payload.Deadline,
			State:      campaign.StatePendingCreate,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if c.State == campaign.StatePendingCreate {
		if err := c.Activate(payload.CampaignID, payload.Creator); err != nil {
			return err
		}
	} else {
		c.CanonicalID = payload.CampaignID
	}
	c.Version = int64(ev.LogIndex)
	c.UpdatedAt = p.clock.Now().UTC()

	applied, err := p.campaignRepo.Upsert(ctx, c)
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Debug().Uint64("canonicalId", payload.CampaignID).Int64("version", c.Version).Msg("stale create event, mirror already newer")
	}
	return p.settle(ctx, pt, pendingtx.StatusConfirmed)
}

func (p *Processor) applyEntry(ctx context.Context, ev ledger.Event) error {
	payload, err := ledger.DecodePayload[ledger.EntrySubmittedPayload](ev.Payload)
	if err != nil {
		return fmt.Errorf("decode entry payload: %w", err)
	}

	c, err := p.campaignRepo.GetByCanonicalID(ctx, payload.CampaignID)
	if err != nil {
		return err
	}

	// The id is derived from the submission tx so a replayed event lands on
	// the same row. Coverage campaigns conflict on that id alone, everything
	// else also dedups on (campaign, submitter).
	uniqueSubmitter := c == nil || c.Flavor != campaign.FlavorCoverage
	inserted, err := p.entryRepo.Upsert(ctx, &entry.Entry{
		EntryID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte(ev.TxID)),
		CampaignID:  payload.CampaignID,
		Submitter:   payload.Submitter,
		EvidenceRef: payload.EvidenceRef,
		SubmittedAt: payload.SubmittedAt,
		Version:     int64(ev.LogIndex),
	}, uniqueSubmitter)
	if err != nil {
		return err
	}

	if inserted && c != nil {
		count, err := p.entryRepo.CountByCampaign(ctx, payload.CampaignID)
		if err != nil {
			return err
		}
		c.EntryCount = count
		if int64(ev.LogIndex) > c.Version {
			c.Version = int64(ev.LogIndex)
		}
		c.UpdatedAt = p.clock.Now().UTC()
		if _, err := p.campaignRepo.Upsert(ctx, c); err != nil {
			return err
		}
	}

	pt, err := p.pendingRepo.GetByLedgerTxID(ctx, ev.TxID)
	if err != nil {
		return err
	}
	return p.settle(ctx, pt, pendingtx.StatusConfirmed)
}

func (p *Processor) applyWinners(ctx context.Context, ev ledger.Event) error {
	payload, err := ledger.DecodePayload[ledger.WinnersSelectedPayload](ev.Payload)
	if err != nil {
		return fmt.Errorf("decode winners payload: %w", err)
	}

	c, err := p.campaignRepo.GetByCanonicalID(ctx, payload.CampaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("winners for unknown campaign %d", payload.CampaignID)
	}
	if int64(ev.LogIndex) <= c.Version && c.State == campaign.StateFinalized {
		return p.settleByTx(ctx, ev.TxID)
	}

	now := p.clock.Now().UTC()
	// The selection was accepted on the ledger, so the mirror follows even
	// when the resolve was broadcast by another writer and this node never
	// stored Resolving.
	c.State = campaign.StateFinalized
	c.Winners = payload.Winners
	c.ResolvedAt = &now
	c.Version = int64(ev.LogIndex)
	c.UpdatedAt = now
	if _, err := p.campaignRepo.Upsert(ctx, c); err != nil {
		return err
	}
	if len(payload.Winners) > 0 {
		if err := p.entryRepo.MarkSelected(ctx, payload.CampaignID, payload.Winners); err != nil {
			return err
		}
		p.issuePayoutLegs(ctx, c, payload.Winners)
	}
	return p.settleByTx(ctx, ev.TxID)
}

// issuePayoutLegs releases the escrowed pool to the selected winners. Leg
// failures are logged per recipient inside the payout service; a failure to
// record the pending row is logged rather than raised so a retried event
// cannot double-issue legs that already landed.
func (p *Processor) issuePayoutLegs(ctx context.Context, c *campaign.Campaign, winners []string) {
	if p.payouts == nil {
		return
	}
	split := payout.ComputeSplit(c.Pool, winners)
	call := ledger.CallContext{Account: p.operator, ChainID: p.chainID}
	now := p.clock.Now().UTC()
	for _, leg := range p.payouts.IssuePayout(ctx, call, c.CanonicalID, split) {
		if leg.Err != nil {
			continue
		}
		err := p.pendingRepo.Create(ctx, &pendingtx.PendingTransaction{
			LocalRef:       uuid.New(),
			LedgerTxID:     leg.TxID,
			Kind:           pendingtx.KindPayout,
			TargetCampaign: c.LocalRef,
			SubmittedAt:    now,
			Status:         pendingtx.StatusSubmitted,
		})
		if err != nil {
			p.logger.Error().Err(err).Str("txId", leg.TxID).Msg("failed to record payout leg")
		}
	}
}

func (p *Processor) applyCancelled(ctx context.Context, ev ledger.Event) error {
	payload, err := ledger.DecodePayload[ledger.CampaignCancelledPayload](ev.Payload)
	if err != nil {
		return fmt.Errorf("decode cancelled payload: %w", err)
	}

	c, err := p.campaignRepo.GetByCanonicalID(ctx, payload.CampaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("cancel for unknown campaign %d", payload.CampaignID)
	}
	if c.State != campaign.StateCancelled {
		c.State = campaign.StateCancelled
		c.Version = int64(ev.LogIndex)
		c.UpdatedAt = p.clock.Now().UTC()
		if _, err := p.campaignRepo.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return p.settleByTx(ctx, ev.TxID)
}

func (p *Processor) applyPayout(ctx context.Context, ev ledger.Event) error {
	payload, err := ledger.DecodePayload[ledger.PayoutExecutedPayload](ev.Payload)
	if err != nil {
		return fmt.Errorf("decode payout payload: %w", err)
	}
	p.logger.Info().
		Uint64("campaignId", payload.CampaignID).
		Str("recipient", payload.Recipient).
		Int64("amount", payload.Amount).
		Msg("payout leg executed")
	return p.settleByTx(ctx, ev.TxID)
}

func (p *Processor) settleByTx(ctx context.Context, txID string) error {
	pt, err := p.pendingRepo.GetByLedgerTxID(ctx, txID)
	if err != nil {
		return err
	}
	return p.settle(ctx, pt, pendingtx.StatusConfirmed)
}

func (p *Processor) settle(ctx context.Context, pt *pendingtx.PendingTransaction, status pendingtx.Status) error {
	if pt == nil || pt.Status != pendingtx.StatusSubmitted {
		return nil
	}
	return p.pendingRepo.UpdateStatus(ctx, pt.LedgerTxID, status)
}

// DeadLetters lists parked events and notices for operator inspection and
// out-of-band replay.
func (p *Processor) DeadLetters(ctx context.Context, limit int) ([]*eventlog.DeadLetter, error) {
	return p.eventRepo.ListDeadLetters(ctx, limit)
}

// OnPaymentWebhook verifies and applies one payment notice. The signature is
// HMAC-SHA256 over the raw body, hex encoded, against the per-source secret.
// Replayed notices are accepted and do nothing.
func (p *Processor) OnPaymentWebhook(ctx context.Context, sourceID string, raw []byte, signature string) error {
	if signature == "" {
		metrics.WebhookRequestsTotal.WithLabelValues("missing_signature").Inc()
		return ErrMissingSignature
	}
	_, secret, err := p.secrets.GetKeyForSource(ctx, sourceID)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("no_secret").Inc()
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if !verifySignature(raw, signature, secret) {
		metrics.WebhookRequestsTotal.WithLabelValues("invalid_signature").Inc()
		return ErrAuthenticationFailed
	}

	var notice PaymentNotice
	if err := json.Unmarshal(raw, &notice); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("bad_body").Inc()
		return &campaign.ValidationError{Field: "body", Reason: "not a valid payment notice"}
	}
	if notice.ID == "" {
		metrics.WebhookRequestsTotal.WithLabelValues("bad_body").Inc()
		return &campaign.ValidationError{Field: "id", Reason: "is required"}
	}

	fresh, err := p.eventRepo.MarkProcessed(ctx, eventlog.ProcessedEvent{
		Source:      "webhook:" + sourceID,
		TxID:        notice.ID,
		ProcessedAt: p.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !fresh {
		metrics.WebhookRequestsTotal.WithLabelValues("replay").Inc()
		return nil
	}

	metrics.WebhookRequestsTotal.WithLabelValues("accepted").Inc()
	var handler func(context.Context) error
	switch notice.Status {
	case PaymentStatusCompleted:
		handler = func(ctx context.Context) error { return p.completePayment(ctx, notice) }
	case PaymentStatusFailed:
		handler = func(ctx context.Context) error { return p.failPayment(ctx, notice) }
	default:
		p.logger.Warn().Str("status", notice.Status).Str("paymentId", notice.ID).Msg("ignoring unknown payment status")
		return nil
	}

	// The notice is already marked processed, so a delivery that keeps
	// failing must be parked rather than surfaced: the provider's redelivery
	// would be swallowed as a replay and the effect lost for good.
	return p.applyWithRecovery(ctx, eventlog.DeadLetter{
		Source:  "webhook:" + sourceID,
		TxID:    notice.ID,
		Kind:    "payment:" + notice.Status,
		Payload: json.RawMessage(raw),
	}, handler)
}

func (p *Processor) completePayment(ctx context.Context, notice PaymentNotice) error {
	c, err := p.campaignRepo.GetByLocalRef(ctx, notice.MetaData.CampaignRef)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("payment %s references unknown campaign %s", notice.ID, notice.MetaData.CampaignRef)
	}

	switch notice.MetaData.Kind {
	case PaymentKindPayout:
		// The off-ledger disbursement completed; resolution is done.
		if c.State == campaign.StateFinalized {
			return nil
		}
		if !c.CanTransitionTo(campaign.StateFinalized) {
			return fmt.Errorf("payment %s completion in state %s: %w", notice.ID, c.State, campaign.ErrInvalidTransition)
		}
		now := p.clock.Now().UTC()
		c.State = campaign.StateFinalized
		c.ResolvedAt = &now
		c.UpdatedAt = now
		c.Version++
		_, err := p.campaignRepo.Upsert(ctx, c)
		return err
	case PaymentKindFunding:
		p.logger.Info().Str("paymentId", notice.ID).Str("campaignRef", c.LocalRef.String()).Msg("pool funding confirmed")
		return nil
	default:
		p.logger.Warn().Str("kind", notice.MetaData.Kind).Str("paymentId", notice.ID).Msg("ignoring unknown payment kind")
		return nil
	}
}

// failPayment records the failure and leaves the campaign in its current
// state so the payment can be retried out of band.
func (p *Processor) failPayment(ctx context.Context, notice PaymentNotice) error {
	reason := "payment failed"
	if notice.FailureReason != nil {
		reason = *notice.FailureReason
	}
	p.logger.Warn().
		Str("paymentId", notice.ID).
		Str("campaignRef", notice.MetaData.CampaignRef.String()).
		Str("reason", reason).
		Msg("payment failed")
	return p.campaignRepo.SetFailureNote(ctx, notice.MetaData.CampaignRef, fmt.Sprintf("payment %s failed: %s", notice.ID, reason))
}

func verifySignature(raw []byte, signature string, secret []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignBody computes the signature a trusted source would attach. Exposed for
// tests and the outbound notifier.
func SignBody(raw []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}
