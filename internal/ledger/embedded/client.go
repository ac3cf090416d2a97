package embedded

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/ledger/protocol"
)

// Applier accepts signed transactions for the board machine. *Node satisfies
// it for replicated deployments; LocalApplier runs the machine in-process.
type Applier interface {
	ApplyTx(ctx context.Context, tx protocol.Tx) error
	Machine() *Machine
}

// LocalApplier drives a bare in-process machine. Used by tests and
// single-node dev runs where raft replication is not needed.
type LocalApplier struct {
	machine *Machine
}

func NewLocalApplier(machine *Machine) *LocalApplier {
	return &LocalApplier{machine: machine}
}

func (a *LocalApplier) ApplyTx(_ context.Context, tx protocol.Tx) error {
	if err := tx.Verify(); err != nil {
		return err
	}
	return a.machine.ApplyTx(tx)
}

func (a *LocalApplier) Machine() *Machine { return a.machine }

// ClientConfig wires one embedded ledger client.
type ClientConfig struct {
	Applier      Applier
	ChainID      string
	Signer       ed25519.PrivateKey
	Clock        clockwork.Clock
	PollInterval time.Duration
}

func (cfg *ClientConfig) validate() error {
	if cfg.Applier == nil {
		return errors.New("applier is required")
	}
	if cfg.ChainID == "" {
		return errors.New("chain id is required")
	}
	if len(cfg.Signer) != ed25519.PrivateKeySize {
		return errors.New("signer key is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return nil
}

// Client implements ledger.Client against the embedded board.
type Client struct {
	applier      Applier
	chainID      string
	signer       ed25519.PrivateKey
	clock        clockwork.Clock
	pollInterval time.Duration
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		applier:      cfg.Applier,
		chainID:      cfg.ChainID,
		signer:       cfg.Signer,
		clock:        cfg.Clock,
		pollInterval: cfg.PollInterval,
	}, nil
}

func (c *Client) checkNetwork(call ledger.CallContext) error {
	if call.ChainID != c.chainID {
		return ledger.ErrWrongNetwork
	}
	return nil
}

func (c *Client) ReadRecord(_ context.Context, call ledger.CallContext, id uint64) (*ledger.CampaignRecord, error) {
	if err := c.checkNetwork(call); err != nil {
		return nil, err
	}
	record, ok := c.applier.Machine().GetCampaign(id)
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &record, nil
}

func (c *Client) RecordCount(_ context.Context, call ledger.CallContext) (uint64, error) {
	if err := c.checkNetwork(call); err != nil {
		return 0, err
	}
	return c.applier.Machine().CampaignCount(), nil
}

func (c *Client) ReadEvents(_ context.Context, call ledger.CallContext, from, to uint64) ([]ledger.Event, uint64, error) {
	if err := c.checkNetwork(call); err != nil {
		return nil, from, err
	}
	events, next := c.applier.Machine().EventsRange(from, to)
	return events, next, nil
}

func (c *Client) ReadEntries(_ context.Context, call ledger.CallContext, campaignID uint64, from, to uint64) ([]ledger.EntryRecord, uint64, error) {
	if err := c.checkNetwork(call); err != nil {
		return nil, from, err
	}
	entries, next := c.applier.Machine().EntriesRange(campaignID, from, to)
	return entries, next, nil
}

func (c *Client) HasSubmitted(_ context.Context, call ledger.CallContext, campaignID uint64, account string) (bool, error) {
	if err := c.checkNetwork(call); err != nil {
		return false, err
	}
	return c.applier.Machine().HasSubmitted(campaignID, account), nil
}

// Submit signs and broadcasts op. The embedded board mines synchronously, so
// an envelope-level refusal surfaces here as ErrRejected; execution guard
// failures settle as reverted receipts observed via AwaitConfirmation or the
// event path, exactly as with a remote chain.
func (c *Client) Submit(ctx context.Context, call ledger.CallContext, op ledger.Op) (*ledger.SubmitReceipt, error) {
	if err := c.checkNetwork(call); err != nil {
		return nil, err
	}
	if call.Account == "" {
		return nil, &ledger.RejectedError{Reason: "missing account"}
	}
	payload, err := encodeOp(op)
	if err != nil {
		return nil, &ledger.RejectedError{Reason: err.Error()}
	}
	nonce := uuid.NewString()
	now := c.clock.Now().UTC()
	tx := protocol.Tx{
		TxID:      protocol.HashID(c.chainID, nonce, call.Account, op.Kind(), payload),
		ChainID:   c.chainID,
		Nonce:     nonce,
		Timestamp: now,
		Actor:     call.Account,
		Op:        op.Kind(),
		Payload:   payload,
	}
	if err := tx.Sign(c.signer); err != nil {
		return nil, &ledger.RejectedError{Reason: err.Error()}
	}
	if err := c.applier.ApplyTx(ctx, tx); err != nil {
		return nil, &ledger.RejectedError{Reason: err.Error()}
	}
	return &ledger.SubmitReceipt{TxID: tx.TxID, SubmittedAt: now}, nil
}

// AwaitConfirmation polls for the receipt until the budget elapses. A timeout
// releases the caller only; the transaction keeps its own fate.
func (c *Client) AwaitConfirmation(ctx context.Context, txID string, timeout time.Duration) (*ledger.Receipt, error) {
	deadline := c.clock.Now().Add(timeout)
	for {
		if receipt, ok := c.applier.Machine().Receipt(txID); ok {
			if receipt.Status == ledger.ReceiptReverted {
				return &receipt, &ledger.RevertedError{TxID: txID, Reason: receipt.Reason}
			}
			return &receipt, nil
		}
		if !c.clock.Now().Before(deadline) {
			return nil, ledger.ErrTimedOut
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(c.pollInterval):
		}
	}
}

func encodeOp(op ledger.Op) (json.RawMessage, error) {
	switch v := op.(type) {
	case ledger.CreateOp:
		return json.Marshal(protocol.CampaignCreatePayload{
			PayloadRef: v.PayloadRef,
			Flavor:     v.Flavor,
			Pool:       v.Pool,
			Deadline:   v.Deadline.UTC(),
		})
	case ledger.EntryOp:
		return json.Marshal(protocol.EntrySubmitPayload{
			CampaignID:  v.CampaignID,
			EvidenceRef: v.EvidenceRef,
		})
	case ledger.ResolveOp:
		return json.Marshal(protocol.WinnersSelectPayload{
			CampaignID: v.CampaignID,
			Winners:    v.Winners,
		})
	case ledger.CancelOp:
		return json.Marshal(protocol.CampaignCancelPayload{CampaignID: v.CampaignID})
	case ledger.PayoutOp:
		return json.Marshal(protocol.PayoutExecutePayload{
			CampaignID: v.CampaignID,
			Recipient:  v.Recipient,
			Amount:     v.Amount,
		})
	default:
		return nil, errors.New("unknown op")
	}
}
