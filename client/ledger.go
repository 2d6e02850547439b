package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Confirmation reports what the server observed while confirming a submission.
type Confirmation struct {
	Signature string `json:"signature"`
	Status    string `json:"status"` // confirmed, pending_confirmation, failed, skipped
	Level     string `json:"level"`
	Slot      uint64 `json:"slot,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Polls     int    `json:"polls"`
}

// Submission is the result of a write.
type Submission struct {
	Kind            string       `json:"kind"`
	Signature       string       `json:"signature"`
	Signer          string       `json:"signer"`
	Mint            string       `json:"mint"`
	Destination     *string      `json:"destination,omitempty"`
	Amount          uint64       `json:"amount"`
	Decimals        uint8        `json:"decimals"`
	CreatedAccounts []string     `json:"created_accounts,omitempty"`
	Confirmation    Confirmation `json:"confirmation"`
}

// Balance is an owner's native or token balance.
type Balance struct {
	Owner    string  `json:"owner"`
	Mint     *string `json:"mint,omitempty"`
	Account  *string `json:"account,omitempty"`
	Amount   uint64  `json:"amount"`
	Decimals uint8   `json:"decimals"`
	UIAmount string  `json:"ui_amount"`
}

// ActivityStatus is the on-chain outcome of a transaction.
type ActivityStatus struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// ActivityRecord is one decoded transaction from an address's history.
type ActivityRecord struct {
	Signature   string         `json:"signature"`
	Slot        uint64         `json:"slot"`
	Kind        string         `json:"kind"`
	From        *string        `json:"from,omitempty"`
	To          *string        `json:"to,omitempty"`
	AssetOrMint *string        `json:"asset_or_mint,omitempty"`
	Amount      *uint64        `json:"amount,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      ActivityStatus `json:"status"`
}

// Attribute is one trait of an asset.
type Attribute struct {
	Trait string `json:"trait_type"`
	Value string `json:"value"`
}

// Asset is the display projection of a non-fungible asset.
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

// TransferItem names one asset to move in a batch transfer.
type TransferItem struct {
	Mint string `json:"mint"`
	To   string `json:"to"`
}

// BatchItem is the outcome of one batch item. Exactly one of Submission and
// Error is set.
type BatchItem struct {
	Index      int         `json:"index"`
	Submission *Submission `json:"submission,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
}

// BatchResult is the response of a batch endpoint.
type BatchResult struct {
	Results   []BatchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// JournalEntry is a submission as recorded in the server's journal.
type JournalEntry struct {
	Signature   string     `json:"signature"`
	Kind        string     `json:"kind"`
	Signer      string     `json:"signer"`
	Mint        *string    `json:"mint,omitempty"`
	Destination *string    `json:"destination,omitempty"`
	Amount      uint64     `json:"amount"`
	Decimals    int16      `json:"decimals"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	WorkflowID  *string    `json:"workflow_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// ListSubmissionsOptions filters a journal listing. Zero values are omitted.
type ListSubmissionsOptions struct {
	Signer string
	Mint   string
	Limit  int
	Offset int
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed (%d %s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the petledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// writes may wait for confirmation server-side
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateToken creates a new fungible token mint with the given decimals.
func (c *Client) CreateToken(ctx context.Context, decimals uint8) (*Submission, error) {
	var sub Submission
	body := map[string]int{"decimals": int(decimals)}
	if err := c.do(ctx, http.MethodPost, "/api/v1/tokens", body, http.StatusCreated, &sub); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "token created", "mint", sub.Mint, "signature", sub.Signature)
	return &sub, nil
}

// MintToken mints amount, a decimal string in UI units, to the wallet to.
func (c *Client) MintToken(ctx context.Context, mint, to, amount string) (*Submission, error) {
	return c.submit(ctx, "/api/v1/tokens/"+url.PathEscape(mint)+"/mint", map[string]string{"to": to, "amount": amount})
}

// TransferToken transfers amount of mint from the service's signer to to.
func (c *Client) TransferToken(ctx context.Context, mint, to, amount string) (*Submission, error) {
	return c.submit(ctx, "/api/v1/tokens/"+url.PathEscape(mint)+"/transfer", map[string]string{"to": to, "amount": amount})
}

// BurnToken burns amount of mint held by the service's signer.
func (c *Client) BurnToken(ctx context.Context, mint, amount string) (*Submission, error) {
	return c.submit(ctx, "/api/v1/tokens/"+url.PathEscape(mint)+"/burn", map[string]string{"amount": amount})
}

// TransferAsset moves a non-fungible asset to to.
func (c *Client) TransferAsset(ctx context.Context, mint, to string) (*Submission, error) {
	return c.submit(ctx, "/api/v1/assets/"+url.PathEscape(mint)+"/transfer", map[string]string{"to": to})
}

// BurnAsset burns a non-fungible asset.
func (c *Client) BurnAsset(ctx context.Context, mint string) (*Submission, error) {
	return c.submit(ctx, "/api/v1/assets/"+url.PathEscape(mint)+"/burn", nil)
}

// BatchTransferAssets transfers many assets, one transaction each. A returned
// error means the whole request failed; per-item failures are in the result.
func (c *Client) BatchTransferAssets(ctx context.Context, items []TransferItem) (*BatchResult, error) {
	var res BatchResult
	body := map[string][]TransferItem{"items": items}
	if err := c.do(ctx, http.MethodPost, "/api/v1/assets/batch/transfer", body, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BatchBurnAssets burns many assets, one transaction each.
func (c *Client) BatchBurnAssets(ctx context.Context, mints []string) (*BatchResult, error) {
	var res BatchResult
	body := map[string][]string{"mints": mints}
	if err := c.do(ctx, http.MethodPost, "/api/v1/assets/batch/burn", body, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetAsset retrieves the display projection of an asset.
func (c *Client) GetAsset(ctx context.Context, mint string) (*Asset, error) {
	var asset Asset
	if err := c.do(ctx, http.MethodGet, "/api/v1/assets/"+url.PathEscape(mint), nil, http.StatusOK, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetBalance retrieves owner's balance of mint. An empty mint asks for the
// native balance.
func (c *Client) GetBalance(ctx context.Context, owner, mint string) (*Balance, error) {
	path := "/api/v1/balances/" + url.PathEscape(owner)
	if mint != "" {
		path += "?mint=" + url.QueryEscape(mint)
	}

	var balance Balance
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetHistory retrieves the newest decoded activity of address. A limit of
// zero uses the server default.
func (c *Client) GetHistory(ctx context.Context, address string, limit int) ([]ActivityRecord, error) {
	path := "/api/v1/history/" + url.PathEscape(address)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var response struct {
		Records []ActivityRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "history retrieved", "address", address, "count", len(response.Records))
	return response.Records, nil
}

// GetSubmission looks a signature up in the server's journal.
func (c *Client) GetSubmission(ctx context.Context, signature string) (*JournalEntry, error) {
	var entry JournalEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/submissions/"+url.PathEscape(signature), nil, http.StatusOK, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListSubmissions lists journaled submissions, newest first.
func (c *Client) ListSubmissions(ctx context.Context, opts ListSubmissionsOptions) ([]*JournalEntry, error) {
	params := url.Values{}
	if opts.Signer != "" {
		params.Set("signer", opts.Signer)
	}
	if opts.Mint != "" {
		params.Set("mint", opts.Mint)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/submissions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var response struct {
		Submissions []*JournalEntry `json:"submissions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Submissions, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

func (c *Client) submit(ctx context.Context, path string, body interface{}) (*Submission, error) {
	var sub Submission
	if err := c.do(ctx, http.MethodPost, path, body, http.StatusOK, &sub); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "submission accepted",
		"kind", sub.Kind,
		"signature", sub.Signature,
		"status", sub.Confirmation.Status,
	)
	return &sub, nil
}

// do sends a request with an optional JSON body and decodes the response
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return &APIError{StatusCode: resp.StatusCode, Kind: errResp.Kind, Message: errResp.Error}
}
