package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/petledger/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jellydator/ttlcache/v3"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)

	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)

	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)

	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)

	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)

	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)

	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)

	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// ClientConfig tunes the ledger client.
type ClientConfig struct {
	// Endpoint labels metrics (e.g. "devnet" or the RPC host).
	Endpoint string
	// Commitment is used for reads, preflight and the default confirmation level.
	Commitment rpc.CommitmentType
	// ConfirmPolls bounds how many status polls Confirm makes before giving up.
	ConfirmPolls int
	// ConfirmInterval is the delay between status polls.
	ConfirmInterval time.Duration
	// MintCacheTTL is how long decoded mint accounts are cached.
	MintCacheTTL time.Duration
	// MaxRetries is the number of attempts made by GetTransaction on rate limiting.
	MaxRetries int
}

func (c *ClientConfig) setDefaults() {
	if c.Commitment == "" {
		c.Commitment = rpc.CommitmentConfirmed
	}
	if c.ConfirmPolls <= 0 {
		c.ConfirmPolls = 30
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = time.Second
	}
	if c.MintCacheTTL <= 0 {
		c.MintCacheTTL = 10 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Client is the ledger client. It wraps the RPC connection with domain operations,
// maps RPC failures into the error taxonomy and records metrics.
// One Client is shared by every component of a process; it is safe for concurrent use.
type Client struct {
	rpc     RPCClient
	cfg     ClientConfig
	mints   *ttlcache.Cache[solana.PublicKey, *Mint]
	logger  *slog.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new ledger client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc: rpcClient,
		cfg: cfg,
		mints: ttlcache.New[solana.PublicKey, *Mint](
			ttlcache.WithTTL[solana.PublicKey, *Mint](cfg.MintCacheTTL),
			ttlcache.WithDisableTouchOnHit[solana.PublicKey, *Mint](),
		),
		logger:  logger,
		metrics: m,
		sleep:   sleepContext,
	}
}

// Commitment returns the client's default commitment level.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.cfg.Commitment
}

func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.cfg.Endpoint, time.Since(start).Seconds())
}

// LatestBlockReference fetches a recent blockhash. It must be called at
// submission time: the reference is only valid for a short window.
func (c *Client) LatestBlockReference(ctx context.Context) (BlockReference, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, c.cfg.Commitment)
	c.observe("GetLatestBlockhash", start, err)
	if err != nil {
		return BlockReference{}, classifyRPCError("get latest blockhash", "", err)
	}
	if out == nil || out.Value == nil {
		return BlockReference{}, &NetworkError{Op: "get latest blockhash", Err: fmt.Errorf("empty response")}
	}
	return BlockReference{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (c *Client) account(ctx context.Context, address solana.PublicKey) (*rpc.Account, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.cfg.Commitment,
	})
	c.observe("GetAccountInfo", start, err)
	if err != nil {
		return nil, classifyRPCError("get account "+address.String(), "", err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("get account %s: %w", address, ErrNotFound)
	}
	return out.Value, nil
}

// AccountExists reports whether an account is present at address.
func (c *Client) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	_, err := c.account(ctx, address)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// AccountData returns the raw data of the account at address.
// A missing account yields an error matching ErrNotFound.
func (c *Client) AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	acct, err := c.account(ctx, address)
	if err != nil {
		return nil, err
	}
	if acct.Data == nil {
		return nil, nil
	}
	return acct.Data.GetBinary(), nil
}

// GetMint reads and decodes an SPL mint account. Decoded mints are cached:
// decimals and authorities are fixed once the mint is initialized.
func (c *Client) GetMint(ctx context.Context, address solana.PublicKey) (*Mint, error) {
	if item := c.mints.Get(address); item != nil && !item.IsExpired() {
		if c.metrics != nil {
			c.metrics.RecordMintCache("hit")
		}
		return item.Value(), nil
	}
	if c.metrics != nil {
		c.metrics.RecordMintCache("miss")
	}

	acct, err := c.account(ctx, address)
	if err != nil {
		if isNotFound(err) {
			return nil, validationf("mint", "mint %s does not exist", address)
		}
		return nil, err
	}
	if !acct.Owner.Equals(solana.TokenProgramID) || acct.Data == nil {
		return nil, validationf("mint", "%s is not owned by the token program", address)
	}

	var raw token.Mint
	if err := raw.UnmarshalWithDecoder(bin.NewBinDecoder(acct.Data.GetBinary())); err != nil {
		return nil, validationf("mint", "failed to decode mint %s: %v", address, err)
	}
	if !raw.IsInitialized {
		return nil, validationf("mint", "mint %s is not initialized", address)
	}

	mint := &Mint{
		Address:         address,
		Decimals:        raw.Decimals,
		Supply:          raw.Supply,
		MintAuthority:   raw.MintAuthority,
		FreezeAuthority: raw.FreezeAuthority,
	}
	c.mints.Set(address, mint, ttlcache.DefaultTTL)
	return mint, nil
}

// ForgetMint drops a cached mint. Supply changes after mint and burn.
func (c *Client) ForgetMint(address solana.PublicKey) {
	c.mints.Delete(address)
}

// MinimumBalanceForRentExemption returns the lamports an account of size bytes needs.
func (c *Client) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	start := time.Now()
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.cfg.Commitment)
	c.observe("GetMinimumBalanceForRentExemption", start, err)
	if err != nil {
		return 0, classifyRPCError("get rent exemption", "", err)
	}
	return lamports, nil
}

// Send submits a signed transaction. Preflight runs at the client's commitment.
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.cfg.Commitment,
	})
	c.observe("SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, classifyRPCError("send transaction", tx.Message.RecentBlockhash.String(), err)
	}
	return sig, nil
}

// Confirm polls the signature status until level is reached, the transaction
// fails, or the poll budget runs out. Running out of polls is not an error: it
// returns ConfirmationPending and the caller decides whether to keep waiting.
// Cancelling ctx abandons the poll; it has no effect on the transaction itself.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature, level rpc.CommitmentType) (ConfirmationResult, error) {
	if level == "" {
		level = c.cfg.Commitment
	}
	result := ConfirmationResult{
		Signature: sig.String(),
		Status:    ConfirmationPending,
		Level:     string(level),
	}

	for poll := 1; poll <= c.cfg.ConfirmPolls; poll++ {
		result.Polls = poll

		start := time.Now()
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		c.observe("GetSignatureStatuses", start, err)

		switch {
		case err != nil:
			c.logger.WarnContext(ctx, "signature status poll failed",
				"signature", sig.String(),
				"poll", poll,
				"error", err,
			)
			result.Reason = err.Error()
		case out != nil && len(out.Value) > 0 && out.Value[0] != nil:
			status := out.Value[0]
			result.Slot = status.Slot
			if status.Err != nil {
				result.Status = ConfirmationFailed
				result.Reason = fmt.Sprintf("%v", status.Err)
				c.recordConfirmation(result)
				return result, nil
			}
			if commitmentReached(status.ConfirmationStatus, level) {
				result.Status = ConfirmationConfirmed
				result.Reason = ""
				c.recordConfirmation(result)
				return result, nil
			}
		}

		if poll == c.cfg.ConfirmPolls {
			break
		}
		if err := c.sleep(ctx, c.cfg.ConfirmInterval); err != nil {
			c.recordConfirmation(result)
			return result, err
		}
	}

	c.logger.InfoContext(ctx, "confirmation still pending after poll budget",
		"signature", sig.String(),
		"polls", result.Polls,
		"level", level,
	)
	c.recordConfirmation(result)
	return result, nil
}

// SignatureStatus checks sig once. Unlike Confirm, a failed status query is
// returned as an error so that the caller can retry on its own schedule.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature, level rpc.CommitmentType) (ConfirmationResult, error) {
	if level == "" {
		level = c.cfg.Commitment
	}
	result := ConfirmationResult{
		Signature: sig.String(),
		Status:    ConfirmationPending,
		Level:     string(level),
		Polls:     1,
	}

	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.observe("GetSignatureStatuses", start, err)
	if err != nil {
		return result, classifyRPCError("get signature status", "", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return result, nil
	}

	status := out.Value[0]
	result.Slot = status.Slot
	switch {
	case status.Err != nil:
		result.Status = ConfirmationFailed
		result.Reason = fmt.Sprintf("%v", status.Err)
	case commitmentReached(status.ConfirmationStatus, level):
		result.Status = ConfirmationConfirmed
	}
	return result, nil
}

func (c *Client) recordConfirmation(result ConfirmationResult) {
	if c.metrics != nil {
		c.metrics.RecordConfirmation(string(result.Status), result.Polls)
	}
}

// SignaturesForAddress lists up to limit signatures for address, newest first.
// If before is non-nil, listing starts just before that signature.
func (c *Client) SignaturesForAddress(ctx context.Context, address solana.PublicKey, limit int, before *solana.Signature) ([]*rpc.TransactionSignature, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: c.cfg.Commitment,
	}
	if before != nil {
		opts.Before = *before
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"address", address.String(),
		"limit", limit,
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, address, opts)
	c.observe("GetSignaturesForAddress", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", address.String(),
			"error", err,
		)
		return nil, classifyRPCError("get signatures for address", "", err)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.cfg.Endpoint, float64(len(signatures)))
	}
	return signatures, nil
}

// Transaction fetches a full transaction record, accepting both legacy and v0
// messages. Rate-limited responses are retried with exponential backoff.
// A pruned or unknown transaction yields an error matching ErrNotFound.
func (c *Client) Transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.cfg.Commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var (
		result *rpc.GetTransactionResult
		err    error
	)
	for attempt := range c.cfg.MaxRetries {
		start := time.Now()
		result, err = c.rpc.GetTransaction(ctx, sig, opts)
		c.observe("GetTransaction", start, err)
		if err == nil || !isRateLimited(err) {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"signature", sig.String(),
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.cfg.Endpoint)
			c.metrics.RecordRPCRetry("GetTransaction", "rate_limit")
		}
		if serr := c.sleep(ctx, backoff); serr != nil {
			return nil, serr
		}
	}

	if err != nil {
		return nil, classifyRPCError("get transaction "+sig.String(), "", err)
	}
	if result == nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, ErrNotFound)
	}
	return result, nil
}

// NativeBalance returns the lamport balance of owner.
func (c *Client) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, owner, c.cfg.Commitment)
	c.observe("GetBalance", start, err)
	if err != nil {
		return 0, classifyRPCError("get balance", "", err)
	}
	if out == nil {
		return 0, fmt.Errorf("get balance %s: %w", owner, ErrNotFound)
	}
	return out.Value, nil
}

// TokenAccountBalance returns the raw amount and decimals held by a token account.
func (c *Client) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.UiTokenAmount, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, account, c.cfg.Commitment)
	c.observe("GetTokenAccountBalance", start, err)
	if err != nil {
		return nil, classifyRPCError("get token account balance", "", err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("get token account balance %s: %w", account, ErrNotFound)
	}
	return out.Value, nil
}

// commitmentReached reports whether an observed confirmation status satisfies level.
func commitmentReached(observed rpc.ConfirmationStatusType, level rpc.CommitmentType) bool {
	rank := map[string]int{
		string(rpc.ConfirmationStatusProcessed): 1,
		string(rpc.ConfirmationStatusConfirmed): 2,
		string(rpc.ConfirmationStatusFinalized): 3,
	}
	have, ok := rank[string(observed)]
	if !ok {
		return false
	}
	want, ok := rank[string(level)]
	if !ok {
		want = rank[string(rpc.ConfirmationStatusConfirmed)]
	}
	return have >= want
}

func isRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests")
}

func isNotFound(err error) bool {
	return err != nil && (errors.Is(err, ErrNotFound) || errors.Is(err, rpc.ErrNotFound))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
