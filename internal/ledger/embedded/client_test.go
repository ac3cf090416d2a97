package embedded

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/escrow-hub/escrow-hub/internal/ledger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Applier: NewLocalApplier(NewMachine(testChain)),
		ChainID: testChain,
		Signer:  testKey(t),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientWrongNetwork(t *testing.T) {
	client := newTestClient(t)
	badCall := ledger.CallContext{Account: "acct:alice", ChainID: "mainnet"}

	if _, err := client.ReadRecord(context.Background(), badCall, 1); !errors.Is(err, ledger.ErrWrongNetwork) {
		t.Fatalf("expected ErrWrongNetwork on read, got %v", err)
	}
	if _, err := client.Submit(context.Background(), badCall, ledger.CancelOp{CampaignID: 1}); !errors.Is(err, ledger.ErrWrongNetwork) {
		t.Fatalf("expected ErrWrongNetwork on submit, got %v", err)
	}
}

func TestClientCreateScenario(t *testing.T) {
	client := newTestClient(t)
	call := ledger.CallContext{Account: "acct:alice", ChainID: testChain}
	ctx := context.Background()

	// Before any confirmation the record reads as absent, not as an error.
	if _, err := client.ReadRecord(ctx, call, 1); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before create, got %v", err)
	}

	submitted, err := client.Submit(ctx, call, ledger.CreateOp{
		PayloadRef: "ref:quest",
		Pool:       100,
		Deadline:   time.Now().Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	receipt, err := client.AwaitConfirmation(ctx, submitted.TxID, time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if receipt.Status != ledger.ReceiptConfirmed {
		t.Fatalf("expected confirmed, got %s", receipt.Status)
	}

	record, err := client.ReadRecord(ctx, call, 1)
	if err != nil {
		t.Fatalf("read after confirm: %v", err)
	}
	if record.Pool != 100 || record.Creator != "acct:alice" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestClientReadEntriesResumableScan(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	creator := ledger.CallContext{Account: "acct:alice", ChainID: testChain}
	if _, err := client.Submit(ctx, creator, ledger.CreateOp{
		PayloadRef: "ref:quest",
		Pool:       100,
		Deadline:   time.Now().Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, account := range []string{"acct:bob", "acct:carol"} {
		call := ledger.CallContext{Account: account, ChainID: testChain}
		if _, err := client.Submit(ctx, call, ledger.EntryOp{CampaignID: 1, EvidenceRef: "ref:" + account}); err != nil {
			t.Fatalf("entry for %s: %v", account, err)
		}
	}

	// Full scan: zero `to` means the log head.
	all, next, err := client.ReadEntries(ctx, creator, 1, 0, 0)
	if err != nil {
		t.Fatalf("read entries: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}

	// Partial scan stops mid-log and resumes from the returned cursor.
	first, cursor, err := client.ReadEntries(ctx, creator, 1, 0, 2)
	if err != nil {
		t.Fatalf("partial read: %v", err)
	}
	if len(first) != 1 || first[0].Submitter != "acct:bob" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	rest, final, err := client.ReadEntries(ctx, creator, 1, cursor, 0)
	if err != nil {
		t.Fatalf("resumed read: %v", err)
	}
	if len(rest) != 1 || rest[0].Submitter != "acct:carol" {
		t.Fatalf("unexpected resumed page: %+v", rest)
	}
	if final != next {
		t.Fatalf("resume cursor mismatch: %d != %d", final, next)
	}
}

func TestClientRevertedSurfacesThroughAwait(t *testing.T) {
	client := newTestClient(t)
	call := ledger.CallContext{Account: "acct:alice", ChainID: testChain}
	ctx := context.Background()

	submitted, err := client.Submit(ctx, call, ledger.CancelOp{CampaignID: 99})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	receipt, err := client.AwaitConfirmation(ctx, submitted.TxID, time.Second)
	if !errors.Is(err, ledger.ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	if receipt == nil || receipt.Reason == "" {
		t.Fatalf("revert reason missing: %+v", receipt)
	}
}

func TestClientAwaitTimeout(t *testing.T) {
	client := newTestClient(t)
	if _, err := client.AwaitConfirmation(context.Background(), "0xunknown", 0); !errors.Is(err, ledger.ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestClientMissingAccountRejected(t *testing.T) {
	client := newTestClient(t)
	call := ledger.CallContext{ChainID: testChain}
	if _, err := client.Submit(context.Background(), call, ledger.CancelOp{CampaignID: 1}); !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}
