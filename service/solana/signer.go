package solana

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Signer is the wallet capability transactions are signed with. It may be
// disconnected, and it may decline to sign.
type Signer interface {
	PublicKey() solana.PublicKey
	Connected() bool
	// SignTransaction adds the signer's signature to tx in place.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// LocalSigner signs with an in-process keypair. Signing requests are
// serialized so that each transaction embeds the block reference it was
// built with.
type LocalSigner struct {
	mu  sync.Mutex
	key solana.PrivateKey
}

// NewLocalSigner wraps a keypair.
func NewLocalSigner(key solana.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

// LoadLocalSigner reads a solana-keygen JSON keypair file.
func LoadLocalSigner(path string) (*LocalSigner, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *LocalSigner) Connected() bool {
	return len(s.key) == 64
}

func (s *LocalSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pub := s.key.PublicKey()
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &s.key
		}
		return nil
	})
	return err
}

// SignAndSend assembles instructions into a transaction paid for by signer,
// attaches a block reference fetched now, signs, and submits it. extra keys
// co-sign before the signer does (e.g. a freshly generated mint account).
func (c *Client) SignAndSend(ctx context.Context, signer Signer, instructions []solana.Instruction, extra ...solana.PrivateKey) (*PendingTransaction, error) {
	if signer == nil || !signer.Connected() {
		return nil, &SigningError{Reason: "signer is not connected"}
	}
	payer := signer.PublicKey()

	ref, err := c.LatestBlockReference(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(instructions, ref.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}

	if len(extra) > 0 {
		_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			for i := range extra {
				if extra[i].PublicKey().Equals(key) {
					return &extra[i]
				}
			}
			return nil
		})
		if err != nil {
			return nil, &SigningError{Reason: "co-signing failed", Err: err}
		}
	}

	if err := signer.SignTransaction(ctx, tx); err != nil {
		var signErr *SigningError
		if errors.As(err, &signErr) {
			return nil, err
		}
		return nil, &SigningError{Reason: "signer rejected the transaction", Err: err}
	}
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return nil, &SigningError{Reason: "transaction is not signed"}
	}
	for i, sig := range tx.Signatures {
		if sig.IsZero() {
			return nil, &SigningError{Reason: fmt.Sprintf("missing signature %d of %d", i+1, len(tx.Signatures))}
		}
	}

	sig, err := c.Send(ctx, tx)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "transaction submitted",
		"signature", sig.String(),
		"fee_payer", payer.String(),
		"instructions", len(instructions),
		"last_valid_block_height", ref.LastValidBlockHeight,
	)

	return &PendingTransaction{
		Signature:            sig,
		Instructions:         instructions,
		FeePayer:             payer,
		RecentBlockReference: ref,
	}, nil
}
