package keystore

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	envSecrets      = "WEBHOOK_SECRETS"
	envDefaultKey   = "WEBHOOK_DEFAULT_KEY_ID"
	envSourcePrefix = "WEBHOOK_SECRET_FOR_SOURCE_"
)

// StaticKeyStore holds webhook HMAC secrets in memory. Lookups never block,
// so it is safe to call from request handlers.
type StaticKeyStore struct {
	keys          map[string][]byte
	defaultKeyID  string
	perSourceKeys map[string]string
}

// NewFromEnv builds a keystore from environment variables.
// WEBHOOK_SECRETS carries "keyId:hex" pairs separated by commas,
// WEBHOOK_DEFAULT_KEY_ID names the fallback key, and
// WEBHOOK_SECRET_FOR_SOURCE_<sourceId> pins a payment source to a key id.
func NewFromEnv() (*StaticKeyStore, error) {
	keys, err := parseSecretList(os.Getenv(envSecrets))
	if err != nil {
		return nil, err
	}

	perSource := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envSourcePrefix) {
			continue
		}
		if src := strings.TrimPrefix(name, envSourcePrefix); src != "" {
			perSource[src] = value
		}
	}

	return &StaticKeyStore{
		keys:          keys,
		defaultKeyID:  os.Getenv(envDefaultKey),
		perSourceKeys: perSource,
	}, nil
}

// NewStatic builds a keystore from an explicit key map, for tests and
// single-node dev.
func NewStatic(defaultKeyID string, keys map[string][]byte) *StaticKeyStore {
	return &StaticKeyStore{
		keys:          keys,
		defaultKeyID:  defaultKeyID,
		perSourceKeys: map[string]string{},
	}
}

func parseSecretList(raw string) (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		keyID, encoded, ok := strings.Cut(pair, ":")
		if !ok || keyID == "" {
			return nil, fmt.Errorf("invalid %s entry: %q", envSecrets, pair)
		}
		secret, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode secret for key %q: %w", keyID, err)
		}
		keys[keyID] = secret
	}
	return keys, nil
}

func (s *StaticKeyStore) GetKey(ctx context.Context, keyID string) ([]byte, error) {
	_ = ctx
	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q not found", keyID)
	}
	return key, nil
}

// GetKeyForSource resolves the signing secret for a payment source, falling
// back to the default key when no per-source mapping exists.
func (s *StaticKeyStore) GetKeyForSource(ctx context.Context, sourceID string) (string, []byte, error) {
	keyID := s.defaultKeyID
	if mapped, ok := s.perSourceKeys[sourceID]; ok && mapped != "" {
		keyID = mapped
	}
	if keyID == "" {
		return "", nil, fmt.Errorf("no key configured for source %q", sourceID)
	}
	key, err := s.GetKey(ctx, keyID)
	return keyID, key, err
}
