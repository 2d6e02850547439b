// Package nft builds the read-only display projection of a non-fungible
// asset from its on-chain metadata pointer and the JSON document it names.
package nft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/petledger/service/metrics"
	"github.com/brojonat/petledger/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// maxDocumentSize bounds the metadata document read from the network.
const maxDocumentSize = 1 << 20

// Attribute is one (trait, value) pair of an asset. Order follows the document.
type Attribute struct {
	Trait string `json:"trait_type"`
	Value string `json:"value"`
}

// Asset is the display projection of a mint. It is recomputed on every read.
// Partial is set when the off-chain document could not be used; Reason says why.
type Asset struct {
	MintAddress string      `json:"mint_address"`
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol,omitempty"`
	Description string      `json:"description,omitempty"`
	ImageURI    string      `json:"image_uri,omitempty"`
	MetadataURI string      `json:"metadata_uri,omitempty"`
	Attributes  []Attribute `json:"attributes"`
	Partial     bool        `json:"partial,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// AccountReader reads raw account data. *solana.Client satisfies it.
type AccountReader interface {
	AccountData(ctx context.Context, address solanago.PublicKey) ([]byte, error)
}

// document is the off-chain JSON the metadata uri points at.
type document struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Attributes  []struct {
		TraitType string          `json:"trait_type"`
		Value     json.RawMessage `json:"value"`
	} `json:"attributes"`
}

// Resolver builds Asset projections.
type Resolver struct {
	accounts   AccountReader
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewResolver creates a resolver. A nil httpClient uses a client with a 10s timeout.
func NewResolver(accounts AccountReader, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		accounts:   accounts,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// Asset resolves the display projection of mint. Only a failure to read the
// chain is returned as an error; a missing or undecodable metadata account and
// any problem with the off-chain document yield a Partial asset instead.
func (r *Resolver) Asset(ctx context.Context, mint solanago.PublicKey) (*Asset, error) {
	asset := &Asset{MintAddress: mint.String(), Attributes: []Attribute{}}

	addr, err := MetadataAddress(mint)
	if err != nil {
		return nil, &solana.InvalidAddressError{Field: "mint", Address: mint.String(), Err: err}
	}

	data, err := r.accounts.AccountData(ctx, addr)
	if err != nil {
		if errors.Is(err, solana.ErrNotFound) {
			return degrade(asset, "metadata account not found"), nil
		}
		return nil, err
	}

	onChain, err := DecodeMetadata(data)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to decode metadata account",
			"mint", mint.String(),
			"address", addr.String(),
			"error", err,
		)
		return degrade(asset, "metadata account is malformed"), nil
	}
	asset.Name = onChain.Name
	asset.Symbol = onChain.Symbol
	asset.MetadataURI = strings.TrimSpace(onChain.URI)

	if asset.MetadataURI == "" {
		return degrade(asset, "metadata uri is empty"), nil
	}

	doc, err := r.fetch(ctx, asset.MetadataURI)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to fetch metadata document",
			"mint", mint.String(),
			"uri", asset.MetadataURI,
			"error", err,
		)
		return degrade(asset, err.Error()), nil
	}

	if doc.Name != "" {
		asset.Name = doc.Name
	}
	if doc.Symbol != "" {
		asset.Symbol = doc.Symbol
	}
	asset.Description = doc.Description
	asset.ImageURI = doc.Image
	for _, a := range doc.Attributes {
		asset.Attributes = append(asset.Attributes, Attribute{
			Trait: a.TraitType,
			Value: attributeValue(a.Value),
		})
	}
	return asset, nil
}

func (r *Resolver) fetch(ctx context.Context, uri string) (*document, error) {
	start := time.Now()
	status := "success"
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordMetadataFetch(status, time.Since(start).Seconds())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		status = "invalid_uri"
		return nil, fmt.Errorf("invalid metadata uri: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status = "http_" + fmt.Sprint(resp.StatusCode)
		return nil, fmt.Errorf("metadata request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("failed to read metadata document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		status = "decode_error"
		return nil, fmt.Errorf("metadata document is not valid JSON: %w", err)
	}
	return &doc, nil
}

// attributeValue renders a JSON attribute value as text. Strings are
// unquoted; numbers and booleans keep their literal form.
func attributeValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func degrade(asset *Asset, reason string) *Asset {
	asset.Partial = true
	asset.Reason = reason
	return asset
}
