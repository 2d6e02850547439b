package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brojonat/petledger/service/metrics"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"golang.org/x/sync/singleflight"
)

// ParseAddress decodes a base58 public key, reporting field on failure.
func ParseAddress(field, s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, &InvalidAddressError{Field: field, Address: s, Err: fmt.Errorf("empty")}
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, &InvalidAddressError{Field: field, Address: s, Err: err}
	}
	return pk, nil
}

// DeriveAssociatedAddress returns the associated token account address for
// (owner, mint). It is a pure function of the pair and the token program.
func DeriveAssociatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	if owner.IsZero() {
		return solana.PublicKey{}, &InvalidAddressError{Field: "owner", Address: owner.String(), Err: fmt.Errorf("zero key")}
	}
	if mint.IsZero() {
		return solana.PublicKey{}, &InvalidAddressError{Field: "mint", Address: mint.String(), Err: fmt.Errorf("zero key")}
	}
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated account for %s/%s: %w", owner, mint, err)
	}
	return addr, nil
}

// AccountResolver checks and creates associated token accounts.
type AccountResolver struct {
	client  *Client
	flights singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAccountResolver creates a resolver on top of client.
// If metrics is nil, no metrics will be recorded.
func NewAccountResolver(client *Client, m *metrics.Metrics, logger *slog.Logger) *AccountResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountResolver{
		client:  client,
		logger:  logger,
		metrics: m,
	}
}

// EnsureInstruction returns the creation instruction for the (owner, mint)
// account when it does not exist yet, or nil when it does. The caller
// places the instruction ahead of anything that references the account.
func (r *AccountResolver) EnsureInstruction(ctx context.Context, payer, owner, mint solana.PublicKey) (solana.Instruction, AssociatedAccount, error) {
	addr, err := DeriveAssociatedAddress(owner, mint)
	if err != nil {
		return nil, AssociatedAccount{}, err
	}
	account := AssociatedAccount{Address: addr, Owner: owner, Mint: mint}

	exists, err := r.client.AccountExists(ctx, addr)
	if err != nil {
		return nil, account, err
	}
	if exists {
		return nil, account, nil
	}

	account.Created = true
	return associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build(), account, nil
}

// EnsureAssociatedAccount makes sure the (owner, mint) account exists,
// creating it in its own transaction paid for by payer when missing.
// Concurrent calls for the same pair share one creation; losing a creation
// race to another writer counts as success.
func (r *AccountResolver) EnsureAssociatedAccount(ctx context.Context, payer Signer, owner, mint solana.PublicKey) (*AssociatedAccount, error) {
	addr, err := DeriveAssociatedAddress(owner, mint)
	if err != nil {
		return nil, err
	}

	exists, err := r.client.AccountExists(ctx, addr)
	if err != nil {
		return nil, err
	}
	if exists {
		return &AssociatedAccount{Address: addr, Owner: owner, Mint: mint}, nil
	}

	// The flight outlives whichever caller started it; each caller only
	// stops waiting when its own ctx is done.
	flight := r.flights.DoChan(addr.String(), func() (interface{}, error) {
		return r.create(context.WithoutCancel(ctx), payer, owner, mint, addr)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		account := *(res.Val.(*AssociatedAccount))
		return &account, nil
	}
}

func (r *AccountResolver) create(ctx context.Context, payer Signer, owner, mint, addr solana.PublicKey) (*AssociatedAccount, error) {
	account := &AssociatedAccount{Address: addr, Owner: owner, Mint: mint}

	// Another flight may have finished between the caller's check and ours.
	exists, err := r.client.AccountExists(ctx, addr)
	if err != nil {
		return nil, err
	}
	if exists {
		return account, nil
	}

	if payer == nil || !payer.Connected() {
		return nil, &SigningError{Reason: "signer is not connected"}
	}

	ix := associatedtokenaccount.NewCreateInstruction(payer.PublicKey(), owner, mint).Build()
	pending, err := r.client.SignAndSend(ctx, payer, []solana.Instruction{ix})
	if err != nil {
		if isAlreadyExists(err) {
			r.logger.InfoContext(ctx, "associated account created concurrently",
				"account", addr.String(),
				"owner", owner.String(),
				"mint", mint.String(),
			)
			r.recordEnsure("already_exists")
			return account, nil
		}
		r.recordEnsure("error")
		return nil, err
	}

	result, err := r.client.Confirm(ctx, pending.Signature, "")
	if err != nil {
		r.recordEnsure("error")
		return nil, err
	}
	switch result.Status {
	case ConfirmationFailed:
		if strings.Contains(strings.ToLower(result.Reason), "already in use") {
			r.recordEnsure("already_exists")
			return account, nil
		}
		r.recordEnsure("error")
		return nil, fmt.Errorf("create associated account %s failed: %s", addr, result.Reason)
	case ConfirmationPending:
		r.logger.WarnContext(ctx, "associated account creation not yet confirmed",
			"account", addr.String(),
			"signature", pending.Signature.String(),
		)
	}

	r.logger.InfoContext(ctx, "created associated account",
		"account", addr.String(),
		"owner", owner.String(),
		"mint", mint.String(),
		"signature", pending.Signature.String(),
	)
	r.recordEnsure("created")
	account.Created = true
	return account, nil
}

func (r *AccountResolver) recordEnsure(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordAccountEnsure(outcome)
	}
}
