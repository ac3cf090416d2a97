package payout

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/metrics"
)

// LegResult reports one recipient's payout leg. Failure of one leg never
// rolls back legs that already succeeded; callers get the full list, not an
// aggregate boolean.
type LegResult struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	TxID      string `json:"txId,omitempty"`
	Err       error  `json:"-"`
}

// Service issues payout legs through the ledger client.
type Service struct {
	client ledger.Client
	logger zerolog.Logger
}

func NewService(client ledger.Client, logger zerolog.Logger) *Service {
	return &Service{
		client: client,
		logger: logger.With().Str("service", "payout").Logger(),
	}
}

// IssuePayout submits one transfer per recipient in deterministic order and
// collects per-leg outcomes.
func (s *Service) IssuePayout(ctx context.Context, call ledger.CallContext, campaignID uint64, split map[string]int64) []LegResult {
	recipients := make([]string, 0, len(split))
	for r := range split {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	results := make([]LegResult, 0, len(recipients))
	for _, recipient := range recipients {
		amount := split[recipient]
		leg := LegResult{Recipient: recipient, Amount: amount}
		submitted, err := s.client.Submit(ctx, call, ledger.PayoutOp{
			CampaignID: campaignID,
			Recipient:  recipient,
			Amount:     amount,
		})
		if err != nil {
			leg.Err = err
			metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpPayout), "rejected").Inc()
			s.logger.Error().Err(err).
				Uint64("campaign_id", campaignID).
				Str("recipient", recipient).
				Int64("amount", amount).
				Msg("payout leg submission failed")
		} else {
			leg.TxID = submitted.TxID
			metrics.LedgerSubmitTotal.WithLabelValues(string(ledger.OpPayout), "submitted").Inc()
		}
		results = append(results, leg)
	}
	return results
}
