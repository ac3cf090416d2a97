package eventlog

import (
	"encoding/json"
	"time"
)

// ProcessedEvent is the idempotence marker for one applied ledger event.
type ProcessedEvent struct {
	Source      string    `json:"source"`
	TxID        string    `json:"txId"`
	LogIndex    uint64    `json:"logIndex"`
	ProcessedAt time.Time `json:"processedAt"`
}

// DeadLetter holds an event whose mirror write kept failing. Parked events
// are kept for inspection and manual replay, never dropped.
type DeadLetter struct {
	ID       int64           `json:"id"`
	Source   string          `json:"source"`
	TxID     string          `json:"txId"`
	LogIndex uint64          `json:"logIndex"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Reason   string          `json:"reason"`
	Attempts int             `json:"attempts"`
	ParkedAt time.Time       `json:"parkedAt"`
}
