package embedded

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/escrow-hub/escrow-hub/internal/ledger"
	"github.com/escrow-hub/escrow-hub/internal/ledger/protocol"
)

const testChain = "board-test"

func signedTx(t *testing.T, priv ed25519.PrivateKey, actor, nonce string, op ledger.OpKind, payload any, at time.Time) protocol.Tx {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	tx := protocol.Tx{
		TxID:      protocol.HashID(testChain, nonce, actor, op, raw),
		ChainID:   testChain,
		Nonce:     nonce,
		Timestamp: at,
		Actor:     actor,
		Op:        op,
		Payload:   raw,
	}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func mustApply(t *testing.T, m *Machine, tx protocol.Tx) ledger.Receipt {
	t.Helper()
	if err := m.ApplyTx(tx); err != nil {
		t.Fatalf("apply %s: %v", tx.Op, err)
	}
	receipt, ok := m.Receipt(tx.TxID)
	if !ok {
		t.Fatalf("no receipt for %s", tx.TxID)
	}
	return receipt
}

func TestCreateAssignsCanonicalID(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	receipt := mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:quest",
		Pool:       100,
		Deadline:   now.Add(2 * time.Hour),
	}, now))

	if receipt.Status != ledger.ReceiptConfirmed {
		t.Fatalf("expected confirmed receipt, got %s (%s)", receipt.Status, receipt.Reason)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Kind != ledger.EventCampaignCreated {
		t.Fatalf("unexpected events: %+v", receipt.Events)
	}
	record, ok := m.GetCampaign(1)
	if !ok {
		t.Fatalf("campaign 1 missing")
	}
	if record.Creator != "acct:alice" || record.Pool != 100 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if m.CampaignCount() != 1 {
		t.Fatalf("expected count 1, got %d", m.CampaignCount())
	}
}

func TestCreateGuards(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	r := mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 0, Deadline: now.Add(time.Hour),
	}, now))
	if r.Status != ledger.ReceiptReverted || r.Reason != "INVALID_POOL" {
		t.Fatalf("expected INVALID_POOL revert, got %+v", r)
	}

	r = mustApply(t, m, signedTx(t, priv, "acct:alice", "n2", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 10, Deadline: now.Add(-time.Hour),
	}, now))
	if r.Status != ledger.ReceiptReverted || r.Reason != "INVALID_DEADLINE" {
		t.Fatalf("expected INVALID_DEADLINE revert, got %+v", r)
	}
}

func TestReplayedTxIsNoOp(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 100, Deadline: now.Add(time.Hour),
	}, now))
	tx := signedTx(t, priv, "acct:bob", "n2", ledger.OpEntry, protocol.EntrySubmitPayload{
		CampaignID: 1, EvidenceRef: "ref:e1",
	}, now)
	mustApply(t, m, tx)
	mustApply(t, m, tx)

	record, _ := m.GetCampaign(1)
	if record.EntryCount != 1 {
		t.Fatalf("replay double-counted entries: %d", record.EntryCount)
	}
	if head := m.LogHead(); head != 2 {
		t.Fatalf("replay appended events: head=%d", head)
	}
}

func TestDuplicateSubmitterReverts(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 100, Deadline: now.Add(time.Hour),
	}, now))
	mustApply(t, m, signedTx(t, priv, "acct:bob", "n2", ledger.OpEntry, protocol.EntrySubmitPayload{
		CampaignID: 1, EvidenceRef: "ref:e1",
	}, now))
	r := mustApply(t, m, signedTx(t, priv, "acct:bob", "n3", ledger.OpEntry, protocol.EntrySubmitPayload{
		CampaignID: 1, EvidenceRef: "ref:e2",
	}, now))
	if r.Status != ledger.ReceiptReverted || r.Reason != "ALREADY_SUBMITTED" {
		t.Fatalf("expected ALREADY_SUBMITTED revert, got %+v", r)
	}
	if !m.HasSubmitted(1, "acct:bob") {
		t.Fatalf("first submission lost")
	}
}

func TestCoverageAcceptsRepeatSubmitter(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:coverage", Flavor: ledger.FlavorCoverage, Pool: 100, Deadline: now.Add(time.Hour),
	}, now))
	record, _ := m.GetCampaign(1)
	if record.Flavor != ledger.FlavorCoverage {
		t.Fatalf("flavor not recorded: %+v", record)
	}

	mustApply(t, m, signedTx(t, priv, "acct:bob", "n2", ledger.OpEntry, protocol.EntrySubmitPayload{
		CampaignID: 1, EvidenceRef: "ref:e1",
	}, now))
	r := mustApply(t, m, signedTx(t, priv, "acct:bob", "n3", ledger.OpEntry, protocol.EntrySubmitPayload{
		CampaignID: 1, EvidenceRef: "ref:e2",
	}, now.Add(time.Minute)))
	if r.Status != ledger.ReceiptConfirmed {
		t.Fatalf("expected second claim confirmed, got %+v", r)
	}

	record, _ = m.GetCampaign(1)
	if record.EntryCount != 2 {
		t.Fatalf("expected both claims counted, got %d", record.EntryCount)
	}
}

func TestEntryAfterDeadlineReverts(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 100, Deadline: now.Add(time.Hour),
	}, now))
	r := mustApply(t, m, signedTx(t, priv, "acct:bob", "n2", ledger.OpEntry, protocol.EntrySubmitPayload{
		CampaignID: 1, EvidenceRef: "ref:e1",
	}, now.Add(2*time.Hour)))
	if r.Status != ledger.ReceiptReverted || r.Reason != "CAMPAIGN_NOT_ACTIVE" {
		t.Fatalf("expected CAMPAIGN_NOT_ACTIVE revert, got %+v", r)
	}
}

func TestSelectWinnersFloorDivision(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 10, Deadline: now.Add(time.Hour),
	}, now))
	for i, acct := range []string{"acct:w1", "acct:w2", "acct:w3"} {
		mustApply(t, m, signedTx(t, priv, acct, fmt.Sprintf("e%d", i), ledger.OpEntry, protocol.EntrySubmitPayload{
			CampaignID: 1, EvidenceRef: "ref:e",
		}, now))
	}

	r := mustApply(t, m, signedTx(t, priv, "acct:alice", "n2", ledger.OpResolve, protocol.WinnersSelectPayload{
		CampaignID: 1, Winners: []string{"acct:w1", "acct:w2", "acct:w3"},
	}, now.Add(2*time.Hour)))
	if r.Status != ledger.ReceiptConfirmed {
		t.Fatalf("resolve reverted: %s", r.Reason)
	}
	payload, err := ledger.DecodePayload[ledger.WinnersSelectedPayload](r.Events[0].Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PayoutPerWinner != 3 {
		t.Fatalf("expected 3 per winner, got %d", payload.PayoutPerWinner)
	}

	record, _ := m.GetCampaign(1)
	if !record.Finalized || len(record.Winners) != 3 {
		t.Fatalf("unexpected record after resolve: %+v", record)
	}
	for _, e := range m.ListEntries(1) {
		if !e.Selected {
			t.Fatalf("entry not marked selected: %+v", e)
		}
	}
}

func TestSelectWinnersGuards(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 100, Deadline: now.Add(time.Hour),
	}, now))

	r := mustApply(t, m, signedTx(t, priv, "acct:mallory", "n2", ledger.OpResolve, protocol.WinnersSelectPayload{
		CampaignID: 1,
	}, now))
	if r.Reason != "NOT_CREATOR" {
		t.Fatalf("expected NOT_CREATOR, got %+v", r)
	}

	r = mustApply(t, m, signedTx(t, priv, "acct:alice", "n3", ledger.OpResolve, protocol.WinnersSelectPayload{
		CampaignID: 1, Winners: []string{"acct:ghost"},
	}, now))
	if r.Reason != "NOT_A_WINNER" {
		t.Fatalf("expected NOT_A_WINNER for non-submitter, got %+v", r)
	}

	// Zero winners refunds the creator and finalizes.
	r = mustApply(t, m, signedTx(t, priv, "acct:alice", "n4", ledger.OpResolve, protocol.WinnersSelectPayload{
		CampaignID: 1,
	}, now))
	if r.Status != ledger.ReceiptConfirmed {
		t.Fatalf("zero-winner resolve reverted: %s", r.Reason)
	}

	r = mustApply(t, m, signedTx(t, priv, "acct:alice", "n5", ledger.OpResolve, protocol.WinnersSelectPayload{
		CampaignID: 1,
	}, now))
	if r.Reason != "CAMPAIGN_ALREADY_FINALIZED" {
		t.Fatalf("expected CAMPAIGN_ALREADY_FINALIZED, got %+v", r)
	}
}

func TestCancelGuards(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 100, Deadline: now.Add(time.Hour),
	}, now))

	r := mustApply(t, m, signedTx(t, priv, "acct:mallory", "n2", ledger.OpCancel, protocol.CampaignCancelPayload{CampaignID: 1}, now))
	if r.Reason != "NOT_CREATOR" {
		t.Fatalf("expected NOT_CREATOR, got %+v", r)
	}

	r = mustApply(t, m, signedTx(t, priv, "acct:alice", "n3", ledger.OpCancel, protocol.CampaignCancelPayload{CampaignID: 1}, now))
	if r.Status != ledger.ReceiptConfirmed {
		t.Fatalf("cancel reverted: %s", r.Reason)
	}
	record, _ := m.GetCampaign(1)
	if !record.Cancelled {
		t.Fatalf("record not cancelled: %+v", record)
	}

	r = mustApply(t, m, signedTx(t, priv, "acct:alice", "n4", ledger.OpCancel, protocol.CampaignCancelPayload{CampaignID: 1}, now))
	if r.Reason != "CAMPAIGN_ALREADY_FINALIZED" {
		t.Fatalf("expected already-final revert on double cancel, got %+v", r)
	}
}

func TestPayoutLegs(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 10, Deadline: now.Add(time.Hour),
	}, now))
	mustApply(t, m, signedTx(t, priv, "acct:w1", "n2", ledger.OpEntry, protocol.EntrySubmitPayload{CampaignID: 1, EvidenceRef: "ref:e"}, now))

	r := mustApply(t, m, signedTx(t, priv, "acct:alice", "n3", ledger.OpPayout, protocol.PayoutExecutePayload{
		CampaignID: 1, Recipient: "acct:w1", Amount: 5,
	}, now))
	if r.Reason != "CAMPAIGN_NOT_FINALIZED" {
		t.Fatalf("expected CAMPAIGN_NOT_FINALIZED, got %+v", r)
	}

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n4", ledger.OpResolve, protocol.WinnersSelectPayload{
		CampaignID: 1, Winners: []string{"acct:w1"},
	}, now))

	r = mustApply(t, m, signedTx(t, priv, "acct:alice", "n5", ledger.OpPayout, protocol.PayoutExecutePayload{
		CampaignID: 1, Recipient: "acct:w1", Amount: 11,
	}, now))
	if r.Reason != "INSUFFICIENT_POOL" {
		t.Fatalf("expected INSUFFICIENT_POOL, got %+v", r)
	}

	r = mustApply(t, m, signedTx(t, priv, "acct:alice", "n6", ledger.OpPayout, protocol.PayoutExecutePayload{
		CampaignID: 1, Recipient: "acct:w1", Amount: 10,
	}, now))
	if r.Status != ledger.ReceiptConfirmed {
		t.Fatalf("payout leg reverted: %s", r.Reason)
	}
	record, _ := m.GetCampaign(1)
	if record.Remaining != 0 {
		t.Fatalf("expected drained escrow, got remaining %d", record.Remaining)
	}
}

func TestEventsRangeCursor(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 100, Deadline: now.Add(time.Hour),
	}, now))
	mustApply(t, m, signedTx(t, priv, "acct:b1", "n2", ledger.OpEntry, protocol.EntrySubmitPayload{CampaignID: 1, EvidenceRef: "ref:e"}, now))
	mustApply(t, m, signedTx(t, priv, "acct:b2", "n3", ledger.OpEntry, protocol.EntrySubmitPayload{CampaignID: 1, EvidenceRef: "ref:e"}, now))

	events, next := m.EventsRange(0, 0)
	if len(events) != 3 || next != 3 {
		t.Fatalf("expected full scan of 3, got %d next=%d", len(events), next)
	}
	for i, ev := range events {
		if ev.LogIndex != uint64(i) {
			t.Fatalf("log index not monotonic: %+v", ev)
		}
	}

	// Resume from a partial position.
	events, next = m.EventsRange(next-1, 0)
	if len(events) != 1 || events[0].Kind != ledger.EventEntrySubmitted || next != 3 {
		t.Fatalf("resume scan wrong: %d events, next=%d", len(events), next)
	}

	events, next = m.EventsRange(3, 0)
	if len(events) != 0 || next != 3 {
		t.Fatalf("empty scan past head wrong: %d events, next=%d", len(events), next)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	priv := testKey(t)
	m := NewMachine(testChain)
	now := time.Now().UTC()

	mustApply(t, m, signedTx(t, priv, "acct:alice", "n1", ledger.OpCreate, protocol.CampaignCreatePayload{
		PayloadRef: "ref:x", Pool: 100, Deadline: now.Add(time.Hour),
	}, now))
	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := NewMachine(testChain)
	if err := restored.Unmarshal(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	record, ok := restored.GetCampaign(1)
	if !ok || record.Pool != 100 {
		t.Fatalf("restored record wrong: %+v ok=%t", record, ok)
	}
	if restored.LogHead() != m.LogHead() {
		t.Fatalf("log head mismatch after restore")
	}
}
