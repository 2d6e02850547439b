package solana

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectingSigner struct {
	key solana.PublicKey
}

func (s *rejectingSigner) PublicKey() solana.PublicKey { return s.key }
func (s *rejectingSigner) Connected() bool             { return true }
func (s *rejectingSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return errors.New("user declined")
}

type builderFixture struct {
	mock    *mockRPCClient
	client  *Client
	builder *Builder
	signer  *LocalSigner
	mint    solana.PublicKey
}

func newBuilderFixture(t *testing.T, decimals uint8, supply uint64, confirm bool) *builderFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	signer := NewLocalSigner(newKey(t))
	authority := signer.PublicKey()
	mint := newKey(t).PublicKey()

	mock := newMockRPC()
	mock.accounts[mint] = mintAccount(t, decimals, supply, &authority)
	client := newTestClient(mock)
	resolver := NewAccountResolver(client, nil, logger)
	builder := NewBuilder(client, resolver, BuilderConfig{Confirm: confirm}, nil, logger)

	return &builderFixture{mock: mock, client: client, builder: builder, signer: signer, mint: mint}
}

// fund gives owner an associated account for the fixture's mint.
func (f *builderFixture) fund(t *testing.T, owner solana.PublicKey) solana.PublicKey {
	t.Helper()
	ata, err := DeriveAssociatedAddress(owner, f.mint)
	require.NoError(t, err)
	f.mock.accounts[ata] = &rpc.Account{Owner: solana.TokenProgramID}
	return ata
}

func programAt(tx *solana.Transaction, i int) solana.PublicKey {
	return tx.Message.AccountKeys[tx.Message.Instructions[i].ProgramIDIndex]
}

func dataAt(tx *solana.Transaction, i int) []byte {
	return tx.Message.Instructions[i].Data
}

func TestMintTo_InjectsDestinationAccount(t *testing.T) {
	f := newBuilderFixture(t, 2, 0, false)
	dest := newKey(t).PublicKey()

	sub, err := f.builder.MintTo(context.Background(), f.signer, f.mint, dest, decimal.RequireFromString("1.5"))

	require.NoError(t, err)
	assert.Equal(t, KindMintToken, sub.Kind)
	assert.Equal(t, uint64(150), sub.Amount)
	assert.Equal(t, ConfirmationSkipped, sub.Confirmation.Status)

	ata, _ := DeriveAssociatedAddress(dest, f.mint)
	assert.Equal(t, []solana.PublicKey{ata}, sub.CreatedAccounts)

	require.Equal(t, 1, f.mock.sentCount(), "creation and mint must be one submission")
	tx := f.mock.sent[0]
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programAt(tx, 0), "account creation comes first")
	assert.Equal(t, solana.TokenProgramID, programAt(tx, 1))
	assert.Equal(t, byte(7), dataAt(tx, 1)[0])
	assert.Equal(t, uint64(150), binary.LittleEndian.Uint64(dataAt(tx, 1)[1:9]))
	assert.Equal(t, f.mock.blockhash, tx.Message.RecentBlockhash, "block reference is fetched at submit time")
}

func TestMintTo_RequiresMintAuthority(t *testing.T) {
	f := newBuilderFixture(t, 0, 0, false)
	other := NewLocalSigner(newKey(t))

	_, err := f.builder.MintTo(context.Background(), other, f.mint, other.PublicKey(), decimal.NewFromInt(1))

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.mock.sentCount())
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("existing destination", func(t *testing.T) {
		f := newBuilderFixture(t, 6, 1_000_000_000, false)
		to := newKey(t).PublicKey()
		src := f.fund(t, f.signer.PublicKey())
		dst := f.fund(t, to)

		sub, err := f.builder.Transfer(ctx, f.signer, f.mint, to, decimal.RequireFromString("2.5"))

		require.NoError(t, err)
		assert.Equal(t, uint64(2_500_000), sub.Amount)
		assert.Empty(t, sub.CreatedAccounts)

		tx := f.mock.sent[0]
		require.Len(t, tx.Message.Instructions, 1)
		assert.Equal(t, byte(3), dataAt(tx, 0)[0])
		accounts := tx.Message.Instructions[0].Accounts
		assert.Equal(t, src, tx.Message.AccountKeys[accounts[0]])
		assert.Equal(t, dst, tx.Message.AccountKeys[accounts[1]])
	})

	t.Run("missing destination is created in the same transaction", func(t *testing.T) {
		f := newBuilderFixture(t, 6, 1_000_000_000, false)
		f.fund(t, f.signer.PublicKey())

		sub, err := f.builder.Transfer(ctx, f.signer, f.mint, newKey(t).PublicKey(), decimal.NewFromInt(1))

		require.NoError(t, err)
		assert.Len(t, sub.CreatedAccounts, 1)
		require.Equal(t, 1, f.mock.sentCount())
		tx := f.mock.sent[0]
		require.Len(t, tx.Message.Instructions, 2)
		assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programAt(tx, 0))
		assert.Equal(t, byte(3), dataAt(tx, 1)[0])
	})

	t.Run("lost creation race resubmits without create", func(t *testing.T) {
		f := newBuilderFixture(t, 6, 1_000_000_000, false)
		f.fund(t, f.signer.PublicKey())
		f.mock.sendErrs = []error{alreadyInUseError()}

		sub, err := f.builder.Transfer(ctx, f.signer, f.mint, newKey(t).PublicKey(), decimal.NewFromInt(1))

		require.NoError(t, err)
		assert.Empty(t, sub.CreatedAccounts)
		require.Equal(t, 1, f.mock.sentCount())
		assert.Len(t, f.mock.sent[0].Message.Instructions, 1)
	})

	t.Run("sender without account", func(t *testing.T) {
		f := newBuilderFixture(t, 6, 0, false)

		_, err := f.builder.Transfer(ctx, f.signer, f.mint, newKey(t).PublicKey(), decimal.NewFromInt(1))

		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("excess precision is rejected", func(t *testing.T) {
		f := newBuilderFixture(t, 2, 0, false)
		f.fund(t, f.signer.PublicKey())

		_, err := f.builder.Transfer(ctx, f.signer, f.mint, newKey(t).PublicKey(), decimal.RequireFromString("0.001"))

		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, f.mock.sentCount())
	})

	t.Run("rejecting signer", func(t *testing.T) {
		f := newBuilderFixture(t, 0, 0, false)
		signer := &rejectingSigner{key: newKey(t).PublicKey()}
		ata, _ := DeriveAssociatedAddress(signer.key, f.mint)
		f.mock.accounts[ata] = &rpc.Account{Owner: solana.TokenProgramID}

		_, err := f.builder.Transfer(ctx, signer, f.mint, newKey(t).PublicKey(), decimal.NewFromInt(1))

		var signErr *SigningError
		require.ErrorAs(t, err, &signErr)
		assert.Contains(t, err.Error(), "user declined")
		assert.Equal(t, 0, f.mock.sentCount())
	})

	t.Run("stale block reference", func(t *testing.T) {
		f := newBuilderFixture(t, 0, 0, false)
		f.fund(t, f.signer.PublicKey())
		f.mock.sendErrs = []error{errors.New("Blockhash not found")}

		_, err := f.builder.Transfer(ctx, f.signer, f.mint, newKey(t).PublicKey(), decimal.NewFromInt(1))

		assert.ErrorIs(t, err, ErrStaleReference)
	})
}

func TestBurn(t *testing.T) {
	f := newBuilderFixture(t, 3, 5000, false)
	f.fund(t, f.signer.PublicKey())

	sub, err := f.builder.Burn(context.Background(), f.signer, f.mint, decimal.RequireFromString("1.25"))

	require.NoError(t, err)
	assert.Equal(t, KindBurnToken, sub.Kind)
	assert.Equal(t, uint64(1250), sub.Amount)
	tx := f.mock.sent[0]
	require.Len(t, tx.Message.Instructions, 1)
	assert.Equal(t, byte(8), dataAt(tx, 0)[0])
}

func TestCreateMint(t *testing.T) {
	f := newBuilderFixture(t, 0, 0, false)

	sub, err := f.builder.CreateMint(context.Background(), f.signer, 6)

	require.NoError(t, err)
	assert.Equal(t, KindCreateMint, sub.Kind)
	assert.Equal(t, uint8(6), sub.Decimals)

	tx := f.mock.sent[0]
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, solana.SystemProgramID, programAt(tx, 0))
	assert.Equal(t, solana.TokenProgramID, programAt(tx, 1))
	assert.Equal(t, byte(20), dataAt(tx, 1)[0])
	require.Len(t, tx.Signatures, 2, "payer and mint account both sign")
	assert.Equal(t, sub.Mint, tx.Message.AccountKeys[1])

	_, err = f.builder.CreateMint(context.Background(), f.signer, 12)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransferAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("uses a checked single-unit transfer", func(t *testing.T) {
		f := newBuilderFixture(t, 0, 1, false)
		f.fund(t, f.signer.PublicKey())

		sub, err := f.builder.TransferAsset(ctx, f.signer, f.mint, newKey(t).PublicKey())

		require.NoError(t, err)
		assert.Equal(t, KindTransferAsset, sub.Kind)
		assert.Equal(t, uint64(1), sub.Amount)
		tx := f.mock.sent[0]
		last := len(tx.Message.Instructions) - 1
		data := dataAt(tx, last)
		assert.Equal(t, byte(12), data[0])
		assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(data[1:9]))
		assert.Equal(t, byte(0), data[9])
	})

	t.Run("fungible mint is rejected", func(t *testing.T) {
		f := newBuilderFixture(t, 2, 100, false)
		f.fund(t, f.signer.PublicKey())

		_, err := f.builder.TransferAsset(ctx, f.signer, f.mint, newKey(t).PublicKey())

		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("zero-decimal mint with supply above one is rejected", func(t *testing.T) {
		f := newBuilderFixture(t, 0, 500, false)
		f.fund(t, f.signer.PublicKey())

		_, err := f.builder.TransferAsset(ctx, f.signer, f.mint, newKey(t).PublicKey())

		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, f.mock.sentCount())
	})
}

func TestAmountValidatedBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	amounts := []struct {
		name   string
		amount decimal.Decimal
	}{
		{"zero", decimal.Zero},
		{"negative", decimal.NewFromInt(-5)},
		{"huge exponent", decimal.RequireFromString("1e100000000")},
	}

	ops := map[string]func(f *builderFixture, amount decimal.Decimal) error{
		"mint": func(f *builderFixture, amount decimal.Decimal) error {
			_, err := f.builder.MintTo(ctx, f.signer, f.mint, newKey(t).PublicKey(), amount)
			return err
		},
		"transfer": func(f *builderFixture, amount decimal.Decimal) error {
			_, err := f.builder.Transfer(ctx, f.signer, f.mint, newKey(t).PublicKey(), amount)
			return err
		},
		"burn": func(f *builderFixture, amount decimal.Decimal) error {
			_, err := f.builder.Burn(ctx, f.signer, f.mint, amount)
			return err
		},
	}

	for name, op := range ops {
		for _, tt := range amounts {
			t.Run(name+" "+tt.name, func(t *testing.T) {
				f := newBuilderFixture(t, 6, 1000, false)
				f.mock.accountErr = errors.New("connection refused")

				err := op(f, tt.amount)

				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				assert.False(t, IsRetryable(err))
				assert.Equal(t, 0, f.mock.accountCalls, "no account may be read for an invalid amount")
			})
		}
	}
}

func TestBurnAsset(t *testing.T) {
	f := newBuilderFixture(t, 0, 1, false)
	f.fund(t, f.signer.PublicKey())

	sub, err := f.builder.BurnAsset(context.Background(), f.signer, f.mint)

	require.NoError(t, err)
	assert.Equal(t, KindBurnAsset, sub.Kind)
	assert.Equal(t, byte(15), dataAt(f.mock.sent[0], 0)[0])
}

func TestSubmit_WithConfirmation(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed", func(t *testing.T) {
		f := newBuilderFixture(t, 0, 1, true)
		f.fund(t, f.signer.PublicKey())
		f.mock.statuses = []*rpc.SignatureStatusesResult{{Slot: 5, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}}

		sub, err := f.builder.BurnAsset(ctx, f.signer, f.mint)

		require.NoError(t, err)
		assert.Equal(t, ConfirmationConfirmed, sub.Confirmation.Status)
	})

	t.Run("pending is reported, not failed", func(t *testing.T) {
		f := newBuilderFixture(t, 0, 1, true)
		f.fund(t, f.signer.PublicKey())

		sub, err := f.builder.BurnAsset(ctx, f.signer, f.mint)

		require.NoError(t, err)
		assert.Equal(t, ConfirmationPending, sub.Confirmation.Status)
		assert.Equal(t, sub.Signature.String(), sub.Confirmation.Signature)
	})
}

func TestLocalSigner(t *testing.T) {
	key := newKey(t)
	signer := NewLocalSigner(key)
	assert.True(t, signer.Connected())
	assert.Equal(t, key.PublicKey(), signer.PublicKey())
	assert.False(t, (&LocalSigner{}).Connected())

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, key.PublicKey(), solana.SystemProgramID).Build()},
		solana.Hash{1},
		solana.TransactionPayer(key.PublicKey()),
	)
	require.NoError(t, err)
	require.NoError(t, signer.SignTransaction(context.Background(), tx))
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())
}
