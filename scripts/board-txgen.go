package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/ledger/protocol"
)

type options struct {
	op         string
	chainID    string
	actor      string
	nonce      string
	timestamp  string
	privateKey string

	payloadRef string
	flavor     string
	pool       int64
	deadline   string

	campaignID  uint64
	evidenceRef string
	winners     string
	recipient   string
	amount      int64
}

func main() {
	var opt options

	flag.StringVar(&opt.op, "op", "", "operation: campaign-create|entry-submit|winners-select|campaign-cancel|payout-execute")
	flag.StringVar(&opt.chainID, "chain-id", "escrow-hub-dev", "chain identifier")
	flag.StringVar(&opt.actor, "actor", "smoke", "actor account")
	flag.StringVar(&opt.nonce, "nonce", "", "nonce; auto-generated when empty")
	flag.StringVar(&opt.timestamp, "timestamp", "", "RFC3339 timestamp; default now UTC")
	flag.StringVar(&opt.privateKey, "private-key", "", "base64 private key (32-byte seed or 64-byte private key); default random")

	flag.StringVar(&opt.payloadRef, "payload-ref", "", "metadata ref for campaign-create")
	flag.StringVar(&opt.flavor, "flavor", "QUEST", "campaign flavor for campaign-create: QUEST|COVERAGE")
	flag.Int64Var(&opt.pool, "pool", 100, "escrow pool for campaign-create")
	flag.StringVar(&opt.deadline, "deadline", "", "campaign deadline RFC3339; default now+1h")

	flag.Uint64Var(&opt.campaignID, "campaign-id", 0, "canonical campaign identifier")
	flag.StringVar(&opt.evidenceRef, "evidence-ref", "", "evidence ref for entry-submit")
	flag.StringVar(&opt.winners, "winners", "", "comma-separated winner accounts for winners-select")
	flag.StringVar(&opt.recipient, "recipient", "", "recipient account for payout-execute")
	flag.Int64Var(&opt.amount, "amount", 0, "amount for payout-execute")
	flag.Parse()

	op, err := parseOperation(opt.op)
	if err != nil {
		log.Fatal(err)
	}
	opt.actor = strings.TrimSpace(opt.actor)
	if opt.actor == "" {
		log.Fatal("actor is required")
	}

	ts, err := parseTimestamp(opt.timestamp)
	if err != nil {
		log.Fatal(err)
	}
	payload, err := buildPayload(op, opt, ts)
	if err != nil {
		log.Fatal(err)
	}
	privateKey, err := loadPrivateKey(opt.privateKey)
	if err != nil {
		log.Fatal(err)
	}

	nonce := strings.TrimSpace(opt.nonce)
	if nonce == "" {
		nonce = fmt.Sprintf("n-%d", ts.UnixNano())
	}
	tx := protocol.Tx{
		TxID:      protocol.HashID(opt.chainID, nonce, opt.actor, op, payload),
		ChainID:   opt.chainID,
		Nonce:     nonce,
		Timestamp: ts,
		Actor:     opt.actor,
		Op:        op,
		Payload:   payload,
	}
	if err := tx.Sign(privateKey); err != nil {
		log.Fatal(err)
	}

	out, err := json.Marshal(tx)
	if err != nil {
		log.Fatal(err)
	}
	_, _ = os.Stdout.Write(out)
}

func parseOperation(raw string) (ledger.OpKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "campaign-create", "campaign_create":
		return ledger.OpCreate, nil
	case "entry-submit", "entry_submit":
		return ledger.OpEntry, nil
	case "winners-select", "winners_select":
		return ledger.OpResolve, nil
	case "campaign-cancel", "campaign_cancel":
		return ledger.OpCancel, nil
	case "payout-execute", "payout_execute":
		return ledger.OpPayout, nil
	default:
		return "", fmt.Errorf("unsupported op: %q", raw)
	}
}

func buildPayload(op ledger.OpKind, opt options, ts time.Time) (json.RawMessage, error) {
	switch op {
	case ledger.OpCreate:
		if opt.pool <= 0 {
			return nil, errors.New("pool must be positive for campaign-create")
		}
		deadline := ts.Add(time.Hour)
		if strings.TrimSpace(opt.deadline) != "" {
			parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(opt.deadline))
			if err != nil {
				return nil, fmt.Errorf("invalid deadline: %w", err)
			}
			deadline = parsed.UTC()
		}
		payloadRef := strings.TrimSpace(opt.payloadRef)
		if payloadRef == "" {
			payloadRef = fmt.Sprintf("local://smoke-%d", ts.UnixNano())
		}
		return json.Marshal(protocol.CampaignCreatePayload{
			PayloadRef: payloadRef,
			Flavor:     strings.ToUpper(strings.TrimSpace(opt.flavor)),
			Pool:       opt.pool,
			Deadline:   deadline,
		})

	case ledger.OpEntry:
		if opt.campaignID == 0 {
			return nil, errors.New("campaign-id is required for entry-submit")
		}
		return json.Marshal(protocol.EntrySubmitPayload{
			CampaignID:  opt.campaignID,
			EvidenceRef: strings.TrimSpace(opt.evidenceRef),
		})

	case ledger.OpResolve:
		if opt.campaignID == 0 {
			return nil, errors.New("campaign-id is required for winners-select")
		}
		return json.Marshal(protocol.WinnersSelectPayload{
			CampaignID: opt.campaignID,
			Winners:    splitCSV(opt.winners),
		})

	case ledger.OpCancel:
		if opt.campaignID == 0 {
			return nil, errors.New("campaign-id is required for campaign-cancel")
		}
		return json.Marshal(protocol.CampaignCancelPayload{CampaignID: opt.campaignID})

	case ledger.OpPayout:
		if opt.campaignID == 0 || strings.TrimSpace(opt.recipient) == "" {
			return nil, errors.New("campaign-id and recipient are required for payout-execute")
		}
		if opt.amount <= 0 {
			return nil, errors.New("amount must be positive for payout-execute")
		}
		return json.Marshal(protocol.PayoutExecutePayload{
			CampaignID: opt.campaignID,
			Recipient:  strings.TrimSpace(opt.recipient),
			Amount:     opt.amount,
		})
	}
	return nil, fmt.Errorf("unsupported op: %s", op)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, item := range parts {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return parsed.UTC(), nil
}

func loadPrivateKey(raw string) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private-key base64: %w", err)
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	default:
		return nil, fmt.Errorf("invalid private-key length: %d (expected 32 or 64 bytes)", len(decoded))
	}
}
