package recon

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/domain/eventlog"
	"github.com/escrow-hub/escrow-hub/internal/domain/pendingtx"
	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/metrics"
)

const cursorName = "ledger-events"

// Poller scans the ledger event log from a persisted cursor and feeds each
// event to the processor. Polling is a liveness mechanism, not the source of
// truth: a missed tick costs latency, never correctness, because the cursor
// only advances past events that were handed off.
type Poller struct {
	client       ledger.Client
	processor    *Processor
	eventRepo    eventlog.Repository
	pendingRepo  pendingtx.Repository
	chainID      string
	interval     time.Duration
	batchSize    uint64
	abandonAfter time.Duration
	clock        clockwork.Clock
	logger       zerolog.Logger
}

// PollerConfig wires an event poller.
type PollerConfig struct {
	Client       ledger.Client
	Processor    *Processor
	EventRepo    eventlog.Repository
	PendingRepo  pendingtx.Repository
	ChainID      string
	Interval     time.Duration
	BatchSize    uint64
	AbandonAfter time.Duration
	Clock        clockwork.Clock
	Logger       zerolog.Logger
}

// NewPoller creates an event poller.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 256
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = 30 * time.Minute
	}
	return &Poller{
		client:       cfg.Client,
		processor:    cfg.Processor,
		eventRepo:    cfg.EventRepo,
		pendingRepo:  cfg.PendingRepo,
		chainID:      cfg.ChainID,
		interval:     cfg.Interval,
		batchSize:    cfg.BatchSize,
		abandonAfter: cfg.AbandonAfter,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With().Str("service", "poller").Logger(),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := p.Tick(ctx); err != nil {
				p.logger.Error().Err(err).Msg("poll tick failed")
			}
		}
	}
}

// Tick runs one scan pass. A failure mid-batch leaves the cursor at the last
// handed-off event so the next pass resumes without gaps.
func (p *Poller) Tick(ctx context.Context) error {
	cursor, err := p.eventRepo.GetCursor(ctx, cursorName)
	if err != nil {
		return err
	}

	call := ledger.CallContext{ChainID: p.chainID}
	events, next, err := p.client.ReadEvents(ctx, call, cursor, cursor+p.batchSize)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := p.processor.OnLedgerEvent(ctx, ev); err != nil {
			// Persist progress up to the failing event, then surface.
			if serr := p.eventRepo.SetCursor(ctx, cursorName, ev.LogIndex); serr != nil {
				p.logger.Error().Err(serr).Msg("failed to persist cursor")
			}
			return err
		}
	}

	if next != cursor {
		if err := p.eventRepo.SetCursor(ctx, cursorName, next); err != nil {
			return err
		}
		metrics.PollerCursor.Set(float64(next))
	}

	return p.sweepStale(ctx)
}

// sweepStale abandons pending transactions that stayed unsettled past the
// abandonment window. An abandoned row is bookkeeping state only: if the
// transaction later confirms, the event path still applies its effect.
func (p *Poller) sweepStale(ctx context.Context) error {
	rows, err := p.pendingRepo.ListUnsettled(ctx, int(p.batchSize))
	if err != nil {
		return err
	}
	now := p.clock.Now()
	for _, row := range rows {
		if now.Sub(row.SubmittedAt) < p.abandonAfter {
			// Each sweep that still sees the row unsettled counts as one
			// re-poll attempt.
			if err := p.pendingRepo.RecordAttempt(ctx, row.LedgerTxID, "unconfirmed at sweep"); err != nil {
				return err
			}
			continue
		}
		p.logger.Warn().
			Str("txId", row.LedgerTxID).
			Str("kind", string(row.Kind)).
			Msg("abandoning stale pending transaction")
		if err := p.pendingRepo.UpdateStatus(ctx, row.LedgerTxID, pendingtx.StatusAbandoned); err != nil {
			return err
		}
	}
	return nil
}
