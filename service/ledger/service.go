// Package ledger exposes the ledger operations the HTTP API and CLI call:
// token and asset submissions, batches, balances, history, and the NFT
// display projection. Submissions are journaled, announced, and handed to
// durable confirmation when those collaborators are configured.
package ledger

import (
	"context"
	"log/slog"

	"github.com/brojonat/petledger/service/db"
	natspkg "github.com/brojonat/petledger/service/nats"
	"github.com/brojonat/petledger/service/nft"
	"github.com/brojonat/petledger/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// TokenBuilder builds and submits single transactions. *solana.Builder satisfies it.
type TokenBuilder interface {
	CreateMint(ctx context.Context, signer solana.Signer, decimals uint8) (*solana.Submission, error)
	MintTo(ctx context.Context, signer solana.Signer, mint, destOwner solanago.PublicKey, amount decimal.Decimal) (*solana.Submission, error)
	Transfer(ctx context.Context, signer solana.Signer, mint, toOwner solanago.PublicKey, amount decimal.Decimal) (*solana.Submission, error)
	Burn(ctx context.Context, signer solana.Signer, mint solanago.PublicKey, amount decimal.Decimal) (*solana.Submission, error)
	TransferAsset(ctx context.Context, signer solana.Signer, mint, toOwner solanago.PublicKey) (*solana.Submission, error)
	BurnAsset(ctx context.Context, signer solana.Signer, mint solanago.PublicKey) (*solana.Submission, error)
}

// BatchRunner runs independent submissions concurrently. *solana.Orchestrator satisfies it.
type BatchRunner interface {
	BatchTransfer(ctx context.Context, signer solana.Signer, items []solana.TransferItem) []solana.BatchResult
	BatchBurn(ctx context.Context, signer solana.Signer, mints []string) []solana.BatchResult
}

// HistoryReader decodes an address's activity. *solana.HistoryDecoder satisfies it.
type HistoryReader interface {
	DecodeHistory(ctx context.Context, address solanago.PublicKey, limit int) ([]solana.ActivityRecord, error)
}

// BalanceReader reads holdings. *solana.Client satisfies it.
type BalanceReader interface {
	Balance(ctx context.Context, owner solanago.PublicKey, mint *solanago.PublicKey) (*solana.Balance, error)
}

// AssetResolver builds NFT display projections. *nft.Resolver satisfies it.
type AssetResolver interface {
	Asset(ctx context.Context, mint solanago.PublicKey) (*nft.Asset, error)
}

// Journal records submissions. *db.Store satisfies it.
type Journal interface {
	CreateSubmission(ctx context.Context, params db.CreateSubmissionParams) (*db.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, params db.UpdateSubmissionStatusParams) (*db.Submission, error)
}

// Publisher announces submissions. natspkg.Publisher implementations satisfy it.
type Publisher interface {
	PublishSubmission(ctx context.Context, event *natspkg.SubmissionEvent) error
}

// ConfirmationScheduler starts durable confirmation of a submission that was
// not confirmed inline and returns the workflow id.
type ConfirmationScheduler interface {
	StartConfirmation(ctx context.Context, signature, kind string) (string, error)
}

// Options holds the optional collaborators. Any of them may be nil.
type Options struct {
	Journal   Journal
	Publisher Publisher
	Scheduler ConfirmationScheduler
}

// Service is the ledger facade.
type Service struct {
	builder  TokenBuilder
	batch    BatchRunner
	history  HistoryReader
	balances BalanceReader
	assets   AssetResolver

	journal   Journal
	publisher Publisher
	scheduler ConfirmationScheduler
	logger    *slog.Logger
}

// New creates the facade.
func New(
	builder TokenBuilder,
	batch BatchRunner,
	history HistoryReader,
	balances BalanceReader,
	assets AssetResolver,
	opts Options,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		builder:   builder,
		batch:     batch,
		history:   history,
		balances:  balances,
		assets:    assets,
		journal:   opts.Journal,
		publisher: opts.Publisher,
		scheduler: opts.Scheduler,
		logger:    logger,
	}
}

// CreateToken creates a mint with the signer as mint and freeze authority.
func (s *Service) CreateToken(ctx context.Context, signer solana.Signer, decimals uint8) (*solana.Submission, error) {
	return s.track(ctx)(s.builder.CreateMint(ctx, signer, decimals))
}

// MintToken mints amount (in whole-token units) of mint to the owner to.
func (s *Service) MintToken(ctx context.Context, signer solana.Signer, mint, to, amount string) (*solana.Submission, error) {
	mintKey, err := solana.ParseAddress("mint", mint)
	if err != nil {
		return nil, err
	}
	toKey, err := solana.ParseAddress("to", to)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	return s.track(ctx)(s.builder.MintTo(ctx, signer, mintKey, toKey, value))
}

// parseAmount parses a request amount and rejects what no mint could accept
// before any network call is made.
func parseAmount(s string) (decimal.Decimal, error) {
	value, err := solana.ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if err := solana.ValidateAmount(value); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// TransferToken moves amount of mint from the signer to the owner to.
func (s *Service) TransferToken(ctx context.Context, signer solana.Signer, mint, to, amount string) (*solana.Submission, error) {
	mintKey, err := solana.ParseAddress("mint", mint)
	if err != nil {
		return nil, err
	}
	toKey, err := solana.ParseAddress("to", to)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	return s.track(ctx)(s.builder.Transfer(ctx, signer, mintKey, toKey, value))
}

// BurnToken burns amount of mint from the signer's account.
func (s *Service) BurnToken(ctx context.Context, signer solana.Signer, mint, amount string) (*solana.Submission, error) {
	mintKey, err := solana.ParseAddress("mint", mint)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	return s.track(ctx)(s.builder.Burn(ctx, signer, mintKey, value))
}

// TransferAsset moves the single unit of a non-fungible mint to the owner to.
func (s *Service) TransferAsset(ctx context.Context, signer solana.Signer, mint, to string) (*solana.Submission, error) {
	mintKey, err := solana.ParseAddress("mint", mint)
	if err != nil {
		return nil, err
	}
	toKey, err := solana.ParseAddress("to", to)
	if err != nil {
		return nil, err
	}
	return s.track(ctx)(s.builder.TransferAsset(ctx, signer, mintKey, toKey))
}

// BurnAsset burns the single unit of a non-fungible mint.
func (s *Service) BurnAsset(ctx context.Context, signer solana.Signer, mint string) (*solana.Submission, error) {
	mintKey, err := solana.ParseAddress("mint", mint)
	if err != nil {
		return nil, err
	}
	return s.track(ctx)(s.builder.BurnAsset(ctx, signer, mintKey))
}

// BatchTransferAssets transfers each asset in its own transaction. Results
// line up with items; successes are not rolled back when others fail.
func (s *Service) BatchTransferAssets(ctx context.Context, signer solana.Signer, items []solana.TransferItem) []solana.BatchResult {
	results := s.batch.BatchTransfer(ctx, signer, items)
	s.trackBatch(ctx, results)
	return results
}

// BatchBurnAssets burns each asset in its own transaction.
func (s *Service) BatchBurnAssets(ctx context.Context, signer solana.Signer, mints []string) []solana.BatchResult {
	results := s.batch.BatchBurn(ctx, signer, mints)
	s.trackBatch(ctx, results)
	return results
}

// GetBalance returns owner's holding of mint, or its native balance when
// mint is empty.
func (s *Service) GetBalance(ctx context.Context, owner, mint string) (*solana.Balance, error) {
	ownerKey, err := solana.ParseAddress("owner", owner)
	if err != nil {
		return nil, err
	}
	var mintKey *solanago.PublicKey
	if mint != "" {
		key, err := solana.ParseAddress("mint", mint)
		if err != nil {
			return nil, err
		}
		mintKey = &key
	}
	return s.balances.Balance(ctx, ownerKey, mintKey)
}

// GetHistory returns up to limit decoded activity records for address.
func (s *Service) GetHistory(ctx context.Context, address string, limit int) ([]solana.ActivityRecord, error) {
	key, err := solana.ParseAddress("address", address)
	if err != nil {
		return nil, err
	}
	return s.history.DecodeHistory(ctx, key, limit)
}

// GetAsset returns the display projection of an asset.
func (s *Service) GetAsset(ctx context.Context, mint string) (*nft.Asset, error) {
	key, err := solana.ParseAddress("mint", mint)
	if err != nil {
		return nil, err
	}
	return s.assets.Asset(ctx, key)
}
