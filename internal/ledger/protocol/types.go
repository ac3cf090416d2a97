package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/escrow-hub/escrow-hub/internal/ledger"
)

// Tx is the signed board command envelope replicated through the ledger.
type Tx struct {
	TxID      string          `json:"tx_id"`
	ChainID   string          `json:"chain_id"`
	Nonce     string          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Op        ledger.OpKind   `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	PublicKey string          `json:"public_key"` // base64 raw ed25519 public key
	Signature string          `json:"signature"`  // base64 raw signature
}

var validOps = map[ledger.OpKind]struct{}{
	ledger.OpCreate:  {},
	ledger.OpEntry:   {},
	ledger.OpResolve: {},
	ledger.OpCancel:  {},
	ledger.OpPayout:  {},
}

type txSignable struct {
	TxID      string          `json:"tx_id"`
	ChainID   string          `json:"chain_id"`
	Nonce     string          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Op        ledger.OpKind   `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	PublicKey string          `json:"public_key"`
}

// CanonicalBytes returns the deterministic signing payload.
func (t Tx) CanonicalBytes() ([]byte, error) {
	signable := txSignable{
		TxID:      strings.TrimSpace(t.TxID),
		ChainID:   strings.TrimSpace(t.ChainID),
		Nonce:     strings.TrimSpace(t.Nonce),
		Timestamp: t.Timestamp.UTC(),
		Actor:     strings.TrimSpace(t.Actor),
		Op:        t.Op,
		Payload:   t.Payload,
		PublicKey: strings.TrimSpace(t.PublicKey),
	}
	return json.Marshal(signable)
}

// HashID derives the transaction id from chain, nonce, actor, op and payload.
func HashID(chainID, nonce, actor string, op ledger.OpKind, payload json.RawMessage) string {
	h := sha3.New256()
	h.Write([]byte(chainID))
	h.Write([]byte{0})
	h.Write([]byte(nonce))
	h.Write([]byte{0})
	h.Write([]byte(actor))
	h.Write([]byte{0})
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write(payload)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// ValidateBasic checks required immutable tx fields.
func (t Tx) ValidateBasic() error {
	if strings.TrimSpace(t.TxID) == "" {
		return errors.New("tx_id is required")
	}
	if strings.TrimSpace(t.ChainID) == "" {
		return errors.New("chain_id is required")
	}
	if strings.TrimSpace(t.Nonce) == "" {
		return errors.New("nonce is required")
	}
	if strings.TrimSpace(t.Actor) == "" {
		return errors.New("actor is required")
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, ok := validOps[t.Op]; !ok {
		return fmt.Errorf("unsupported op: %s", t.Op)
	}
	if len(t.Payload) == 0 {
		return errors.New("payload is required")
	}
	if strings.TrimSpace(t.PublicKey) == "" {
		return errors.New("public_key is required")
	}
	if strings.TrimSpace(t.Signature) == "" {
		return errors.New("signature is required")
	}
	return nil
}

// Sign sets tx public key/signature for the given private key.
func (t *Tx) Sign(privateKey ed25519.PrivateKey) error {
	if len(privateKey) != ed25519.PrivateKeySize {
		return errors.New("invalid private key")
	}
	t.PublicKey = base64.StdEncoding.EncodeToString(privateKey.Public().(ed25519.PublicKey))
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	sig := ed25519.Sign(privateKey, payload)
	t.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verify validates tx signature using the included public key.
func (t Tx) Verify() error {
	if err := t.ValidateBasic(); err != nil {
		return err
	}
	pubRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.PublicKey))
	if err != nil {
		return fmt.Errorf("invalid public_key: %w", err)
	}
	if len(pubRaw) != ed25519.PublicKeySize {
		return errors.New("invalid public_key size")
	}
	sigRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.Signature))
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if len(sigRaw) != ed25519.SignatureSize {
		return errors.New("invalid signature size")
	}
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pubRaw), payload, sigRaw) {
		return errors.New("signature verification failed")
	}
	return nil
}

// DecodePayload decodes operation payloads.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// CampaignCreatePayload opens a campaign, escrowing Pool.
type CampaignCreatePayload struct {
	PayloadRef string    `json:"payload_ref"`
	Flavor     string    `json:"flavor,omitempty"`
	Pool       int64     `json:"pool"`
	Deadline   time.Time `json:"deadline"`
}

// EntrySubmitPayload records one submission against a campaign.
type EntrySubmitPayload struct {
	CampaignID  uint64 `json:"campaign_id"`
	EvidenceRef string `json:"evidence_ref"`
}

// WinnersSelectPayload finalizes a campaign, splitting the pool across
// winners. Empty winners refunds the creator.
type WinnersSelectPayload struct {
	CampaignID uint64   `json:"campaign_id"`
	Winners    []string `json:"winners"`
}

// CampaignCancelPayload closes a campaign and refunds the pool.
type CampaignCancelPayload struct {
	CampaignID uint64 `json:"campaign_id"`
}

// PayoutExecutePayload transfers one payout leg of a finalized campaign.
type PayoutExecutePayload struct {
	CampaignID uint64 `json:"campaign_id"`
	Recipient  string `json:"recipient"`
	Amount     int64  `json:"amount"`
}
