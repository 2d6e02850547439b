package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/petledger/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// BuilderConfig controls what happens after a transaction is submitted.
type BuilderConfig struct {
	// Confirm makes every operation wait for ConfirmLevel before returning.
	Confirm bool
	// ConfirmLevel defaults to the client's commitment.
	ConfirmLevel rpc.CommitmentType
}

// Builder assembles, signs, and submits token and asset transactions.
type Builder struct {
	client   *Client
	accounts *AccountResolver
	cfg      BuilderConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBuilder creates a transaction builder.
// If metrics is nil, no metrics will be recorded.
func NewBuilder(client *Client, accounts *AccountResolver, cfg BuilderConfig, m *metrics.Metrics, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfirmLevel == "" {
		cfg.ConfirmLevel = client.Commitment()
	}
	return &Builder{
		client:   client,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// draft is a transaction that has not been submitted yet. ensure holds the
// account creation instructions that must run ahead of body.
type draft struct {
	kind        ActivityKind
	mint        solana.PublicKey
	destination *solana.PublicKey
	amount      uint64
	decimals    uint8
	ensure      []solana.Instruction
	created     []solana.PublicKey
	body        []solana.Instruction
	extra       []solana.PrivateKey
}

func (d *draft) instructions() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(d.ensure)+len(d.body))
	out = append(out, d.ensure...)
	return append(out, d.body...)
}

// CreateMint creates a new mint with signer as mint and freeze authority.
func (b *Builder) CreateMint(ctx context.Context, signer Signer, decimals uint8) (*Submission, error) {
	if decimals > 9 {
		return nil, validationf("decimals", "must be between 0 and 9, got %d", decimals)
	}
	if signer == nil || !signer.Connected() {
		return nil, &SigningError{Reason: "signer is not connected"}
	}

	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate mint keypair: %w", err)
	}
	mint := mintKey.PublicKey()
	authority := signer.PublicKey()

	rent, err := b.client.MinimumBalanceForRentExemption(ctx, token.MINT_SIZE)
	if err != nil {
		return nil, err
	}

	d := &draft{
		kind:     KindCreateMint,
		mint:     mint,
		decimals: decimals,
		body: []solana.Instruction{
			system.NewCreateAccountInstruction(rent, token.MINT_SIZE, token.ProgramID, authority, mint).Build(),
			token.NewInitializeMint2Instruction(decimals, authority, authority, mint).Build(),
		},
		extra: []solana.PrivateKey{mintKey},
	}
	return b.submit(ctx, signer, d)
}

// MintTo mints amount (human scale) of mint to destOwner's associated account,
// creating that account in the same transaction when needed.
func (b *Builder) MintTo(ctx context.Context, signer Signer, mint, destOwner solana.PublicKey, amount decimal.Decimal) (*Submission, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	if signer == nil || !signer.Connected() {
		return nil, &SigningError{Reason: "signer is not connected"}
	}
	info, err := b.client.GetMint(ctx, mint)
	if err != nil {
		return nil, err
	}
	if info.MintAuthority == nil || !info.MintAuthority.Equals(signer.PublicKey()) {
		return nil, validationf("mint", "signer %s is not the mint authority of %s", signer.PublicKey(), mint)
	}
	raw, err := ScaleAmount(amount, info.Decimals)
	if err != nil {
		return nil, err
	}

	d := &draft{kind: KindMintToken, mint: mint, destination: destOwner.ToPointer(), amount: raw, decimals: info.Decimals}
	dest, err := b.ensure(ctx, d, signer.PublicKey(), destOwner, mint)
	if err != nil {
		return nil, err
	}
	d.body = []solana.Instruction{
		token.NewMintToInstruction(raw, mint, dest, signer.PublicKey(), nil).Build(),
	}

	sub, err := b.submit(ctx, signer, d)
	b.client.ForgetMint(mint)
	return sub, err
}

// Transfer moves amount (human scale) of mint from signer to toOwner.
func (b *Builder) Transfer(ctx context.Context, signer Signer, mint, toOwner solana.PublicKey, amount decimal.Decimal) (*Submission, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	if signer == nil || !signer.Connected() {
		return nil, &SigningError{Reason: "signer is not connected"}
	}
	info, err := b.client.GetMint(ctx, mint)
	if err != nil {
		return nil, err
	}
	raw, err := ScaleAmount(amount, info.Decimals)
	if err != nil {
		return nil, err
	}

	source, err := b.sourceAccount(ctx, signer.PublicKey(), mint)
	if err != nil {
		return nil, err
	}

	d := &draft{kind: KindTransferToken, mint: mint, destination: toOwner.ToPointer(), amount: raw, decimals: info.Decimals}
	dest, err := b.ensure(ctx, d, signer.PublicKey(), toOwner, mint)
	if err != nil {
		return nil, err
	}
	d.body = []solana.Instruction{
		token.NewTransferInstruction(raw, source, dest, signer.PublicKey(), nil).Build(),
	}
	return b.submit(ctx, signer, d)
}

// Burn destroys amount (human scale) of mint held by signer.
func (b *Builder) Burn(ctx context.Context, signer Signer, mint solana.PublicKey, amount decimal.Decimal) (*Submission, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	if signer == nil || !signer.Connected() {
		return nil, &SigningError{Reason: "signer is not connected"}
	}
	info, err := b.client.GetMint(ctx, mint)
	if err != nil {
		return nil, err
	}
	raw, err := ScaleAmount(amount, info.Decimals)
	if err != nil {
		return nil, err
	}

	source, err := b.sourceAccount(ctx, signer.PublicKey(), mint)
	if err != nil {
		return nil, err
	}

	d := &draft{
		kind:     KindBurnToken,
		mint:     mint,
		amount:   raw,
		decimals: info.Decimals,
		body: []solana.Instruction{
			token.NewBurnInstruction(raw, source, mint, signer.PublicKey(), nil).Build(),
		},
	}
	sub, err := b.submit(ctx, signer, d)
	b.client.ForgetMint(mint)
	return sub, err
}

// TransferAsset moves the single unit of a non-fungible asset to toOwner.
func (b *Builder) TransferAsset(ctx context.Context, signer Signer, mint, toOwner solana.PublicKey) (*Submission, error) {
	if signer == nil || !signer.Connected() {
		return nil, &SigningError{Reason: "signer is not connected"}
	}
	if err := b.requireAsset(ctx, mint); err != nil {
		return nil, err
	}

	source, err := b.sourceAccount(ctx, signer.PublicKey(), mint)
	if err != nil {
		return nil, err
	}

	d := &draft{kind: KindTransferAsset, mint: mint, destination: toOwner.ToPointer(), amount: 1}
	dest, err := b.ensure(ctx, d, signer.PublicKey(), toOwner, mint)
	if err != nil {
		return nil, err
	}
	d.body = []solana.Instruction{
		token.NewTransferCheckedInstruction(1, 0, source, mint, dest, signer.PublicKey(), nil).Build(),
	}
	return b.submit(ctx, signer, d)
}

// BurnAsset destroys the signer's unit of a non-fungible asset.
func (b *Builder) BurnAsset(ctx context.Context, signer Signer, mint solana.PublicKey) (*Submission, error) {
	if signer == nil || !signer.Connected() {
		return nil, &SigningError{Reason: "signer is not connected"}
	}
	if err := b.requireAsset(ctx, mint); err != nil {
		return nil, err
	}

	source, err := b.sourceAccount(ctx, signer.PublicKey(), mint)
	if err != nil {
		return nil, err
	}

	d := &draft{
		kind:   KindBurnAsset,
		mint:   mint,
		amount: 1,
		body: []solana.Instruction{
			token.NewBurnCheckedInstruction(1, 0, source, mint, signer.PublicKey(), nil).Build(),
		},
	}
	sub, err := b.submit(ctx, signer, d)
	b.client.ForgetMint(mint)
	return sub, err
}

func (b *Builder) requireAsset(ctx context.Context, mint solana.PublicKey) error {
	info, err := b.client.GetMint(ctx, mint)
	if err != nil {
		return err
	}
	if !info.IsNonFungible() {
		return validationf("mint", "%s has %d decimals and supply %d and is not a non-fungible asset", mint, info.Decimals, info.Supply)
	}
	return nil
}

// sourceAccount returns the owner's existing associated account for mint.
func (b *Builder) sourceAccount(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, err := DeriveAssociatedAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	exists, err := b.client.AccountExists(ctx, addr)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if !exists {
		return solana.PublicKey{}, validationf("source", "%s holds no %s account", owner, mint)
	}
	return addr, nil
}

// ensure resolves owner's associated account for mint and, when it is missing,
// queues its creation ahead of the draft's body.
func (b *Builder) ensure(ctx context.Context, d *draft, payer, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ix, account, err := b.accounts.EnsureInstruction(ctx, payer, owner, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if ix != nil {
		d.ensure = append(d.ensure, ix)
		d.created = append(d.created, account.Address)
	}
	return account.Address, nil
}

// submit signs and sends the draft with a block reference fetched now. If an
// injected account creation lost a race to another writer, the draft is
// rebuilt once without it.
func (b *Builder) submit(ctx context.Context, signer Signer, d *draft) (*Submission, error) {
	start := time.Now()

	pending, err := b.client.SignAndSend(ctx, signer, d.instructions(), d.extra...)
	if err != nil && len(d.ensure) > 0 && isAlreadyExists(err) {
		b.logger.InfoContext(ctx, "associated account created concurrently, resubmitting without create",
			"kind", d.kind,
			"mint", d.mint.String(),
		)
		d.ensure = nil
		d.created = nil
		pending, err = b.client.SignAndSend(ctx, signer, d.instructions(), d.extra...)
	}
	if err != nil {
		b.recordSubmission(d.kind, "error", start)
		b.logger.ErrorContext(ctx, "submission failed",
			"kind", d.kind,
			"mint", d.mint.String(),
			"error", err,
		)
		return nil, err
	}

	sub := &Submission{
		Kind:            d.kind,
		Signature:       pending.Signature,
		Signer:          pending.FeePayer,
		Mint:            d.mint,
		Destination:     d.destination,
		Amount:          d.amount,
		Decimals:        d.decimals,
		CreatedAccounts: d.created,
		Confirmation: ConfirmationResult{
			Signature: pending.Signature.String(),
			Status:    ConfirmationSkipped,
		},
	}

	if b.cfg.Confirm {
		result, err := b.client.Confirm(ctx, pending.Signature, b.cfg.ConfirmLevel)
		if err != nil {
			// The poll was abandoned; the transaction may still land.
			result.Reason = err.Error()
		}
		sub.Confirmation = result
	}

	b.recordSubmission(d.kind, string(sub.Confirmation.Status), start)
	return sub, nil
}

func (b *Builder) recordSubmission(kind ActivityKind, status string, start time.Time) {
	if b.metrics != nil {
		b.metrics.RecordSubmission(string(kind), status, time.Since(start).Seconds())
	}
}
