package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL string
	InMemory    bool
	ServerAddr  string

	ChainID       string
	SignerKeyHex  string
	ConfirmWait   time.Duration
	PollInterval  time.Duration
	PollBatchSize uint64
	AbandonAfter  time.Duration
	Operator      string
	ApprovalExpr  string

	RaftEnabled   bool
	RaftNodeID    string
	RaftAddr      string
	RaftDataDir   string
	RaftBootstrap bool

	PinServiceURL string
	PinToken      string
	Gateways      []string
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	inMemory := parseBool(getenv("IN_MEMORY_STORE", "false"), false)
	if dsn == "" && !inMemory {
		user := getenv("POSTGRES_USER", "escrow_hub")
		pass := getenv("POSTGRES_PASSWORD", "escrow_hub_pass")
		db := getenv("POSTGRES_DB", "escrow_hub")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}
	addr := getenv("SERVER_ADDR", "0.0.0.0:8080")

	signerKey := os.Getenv("LEDGER_SIGNER_KEY")
	if signerKey != "" {
		if _, err := hex.DecodeString(signerKey); err != nil {
			return nil, fmt.Errorf("LEDGER_SIGNER_KEY is not valid hex: %w", err)
		}
	}

	var gateways []string
	for _, g := range strings.Split(getenv("IPFS_GATEWAYS", "https://ipfs.io/ipfs/"), ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			gateways = append(gateways, g)
		}
	}

	return &Config{
		DatabaseURL:   dsn,
		InMemory:      inMemory,
		ServerAddr:    addr,
		ChainID:       getenv("LEDGER_CHAIN_ID", "escrow-hub-dev"),
		SignerKeyHex:  signerKey,
		ConfirmWait:   parseDuration(getenv("LEDGER_CONFIRM_WAIT", "15s"), 15*time.Second),
		PollInterval:  parseDuration(getenv("LEDGER_POLL_INTERVAL", "5s"), 5*time.Second),
		PollBatchSize: parseUint(getenv("LEDGER_POLL_BATCH", "256"), 256),
		AbandonAfter:  parseDuration(getenv("PENDING_ABANDON_AFTER", "30m"), 30*time.Minute),
		Operator:      getenv("LEDGER_OPERATOR_ACCOUNT", "escrow-hub"),
		ApprovalExpr:  strings.TrimSpace(os.Getenv("ENTRY_APPROVAL_EXPRESSION")),
		RaftEnabled:   parseBool(getenv("LEDGER_RAFT_ENABLED", "false"), false),
		RaftNodeID:    getenv("LEDGER_NODE_ID", "node-1"),
		RaftAddr:      getenv("LEDGER_RAFT_ADDR", "127.0.0.1:17000"),
		RaftDataDir:   getenv("LEDGER_DATA_DIR", "tmp/ledger"),
		RaftBootstrap: parseBool(getenv("LEDGER_BOOTSTRAP", "true"), true),
		PinServiceURL: os.Getenv("PIN_SERVICE_URL"),
		PinToken:      os.Getenv("PIN_SERVICE_TOKEN"),
		Gateways:      gateways,
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseUint(val string, def uint64) uint64 {
	if val == "" {
		return def
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return def
	}
	return u
}
