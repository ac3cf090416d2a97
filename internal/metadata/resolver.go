package metadata

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"
)

// Resolver pins metadata documents to a content-addressed store and fetches
// them back through gateways. Documents are pinned before any ledger write
// that embeds the reference, so a confirmed transaction never points at
// content that does not exist yet.
type Resolver struct {
	pinURL   string
	pinToken string
	gateways []string
	client   *http.Client
	logger   zerolog.Logger
}

// ResolverConfig wires a metadata resolver. An empty PinURL switches Pin to
// the offline content-hash fallback, which keeps single-node dev and tests
// independent of any pinning provider.
type ResolverConfig struct {
	PinURL   string
	PinToken string
	Gateways []string
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// NewResolver creates a metadata resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Resolver{
		pinURL:   cfg.PinURL,
		pinToken: cfg.PinToken,
		gateways: cfg.Gateways,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger.With().Str("service", "metadata").Logger(),
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Pin persists the document and returns its content reference.
func (r *Resolver) Pin(ctx context.Context, doc json.RawMessage) (string, error) {
	if len(doc) == 0 {
		doc = json.RawMessage(`{}`)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, doc); err != nil {
		return "", fmt.Errorf("metadata is not valid JSON: %w", err)
	}

	if r.pinURL == "" {
		return offlineRef(compact.Bytes()), nil
	}

	body, err := json.Marshal(map[string]json.RawMessage{"pinataContent": compact.Bytes()})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.pinURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.pinToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.pinToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pin service returned %d: %s", resp.StatusCode, payload)
	}

	var pinned pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pinned); err != nil {
		return "", fmt.Errorf("decode pin response: %w", err)
	}
	if pinned.IpfsHash == "" {
		return "", errors.New("pin service returned no hash")
	}
	return "ipfs://" + pinned.IpfsHash, nil
}

// Fetch retrieves a pinned document, trying each gateway in order. The first
// success wins; when every gateway fails the errors are joined into one.
func (r *Resolver) Fetch(ctx context.Context, ref string) (json.RawMessage, error) {
	if len(r.gateways) == 0 {
		return nil, errors.New("no metadata gateways configured")
	}

	var failures []error
	for _, gw := range r.gateways {
		doc, err := r.fetchOne(ctx, gw, ref)
		if err == nil {
			return doc, nil
		}
		r.logger.Debug().Err(err).Str("gateway", gw).Str("ref", ref).Msg("gateway fetch failed")
		failures = append(failures, fmt.Errorf("%s: %w", gw, err))
	}
	return nil, errors.Join(failures...)
}

func (r *Resolver) fetchOne(ctx context.Context, gateway, ref string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayURL(gateway, ref), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	doc, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if !json.Valid(doc) {
		return nil, errors.New("gateway returned invalid JSON")
	}
	return doc, nil
}

func gatewayURL(gateway, ref string) string {
	cid := ref
	if len(ref) > 7 && ref[:7] == "ipfs://" {
		cid = ref[7:]
	}
	return gateway + "/" + cid
}

// offlineRef derives a stable reference from the sha3-256 of the compact
// document.
func offlineRef(compact []byte) string {
	h := sha3.New256()
	h.Write(compact)
	return "local://" + hex.EncodeToString(h.Sum(nil))
}
