package solana

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// ActivityKind is the closed taxonomy a decoded transaction is reduced to.
type ActivityKind string

const (
	KindMintToken      ActivityKind = "mint_token"
	KindTransferToken  ActivityKind = "transfer_token"
	KindBurnToken      ActivityKind = "burn_token"
	KindTransferAsset  ActivityKind = "transfer_asset"
	KindBurnAsset      ActivityKind = "burn_asset"
	KindSystemTransfer ActivityKind = "system_transfer"
	KindUnknown        ActivityKind = "unknown"

	// KindCreateMint is only used for submissions; history reports mint
	// initialization as KindMintToken.
	KindCreateMint ActivityKind = "create_mint"
)

// Status is Success or Failure(reason).
type Status struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func StatusSuccess() Status { return Status{Success: true} }

func StatusFailure(reason string) Status { return Status{Reason: reason} }

// ActivityRecord is a typed, read-only view of one finalized transaction.
type ActivityRecord struct {
	Signature   string            `json:"signature"`
	Slot        uint64            `json:"slot"`
	Kind        ActivityKind      `json:"kind"`
	From        *solana.PublicKey `json:"from,omitempty"`
	To          *solana.PublicKey `json:"to,omitempty"`
	AssetOrMint *solana.PublicKey `json:"asset_or_mint,omitempty"`
	Amount      *uint64           `json:"amount,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Status      Status            `json:"status"`
}

// Mint is an SPL mint account. Non-fungible assets have Decimals 0 and Supply 1.
type Mint struct {
	Address         solana.PublicKey  `json:"address"`
	Decimals        uint8             `json:"decimals"`
	Supply          uint64            `json:"supply"`
	MintAuthority   *solana.PublicKey `json:"mint_authority,omitempty"`
	FreezeAuthority *solana.PublicKey `json:"freeze_authority,omitempty"`
}

// IsNonFungible reports whether the mint follows the single-unit asset convention.
func (m *Mint) IsNonFungible() bool {
	return m.Decimals == 0 && m.Supply == 1
}

// AssociatedAccount binds one (owner, mint) pair to a balance.
// Address is always derived from the pair, never stored independently.
type AssociatedAccount struct {
	Address solana.PublicKey `json:"address"`
	Owner   solana.PublicKey `json:"owner"`
	Mint    solana.PublicKey `json:"mint"`
	// Created is true when this call submitted the creation.
	Created bool `json:"created"`
}

// BlockReference is a recent blockhash plus the height after which it expires.
type BlockReference struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// PendingTransaction is a transaction assembled at submission time.
type PendingTransaction struct {
	Signature            solana.Signature
	Instructions         []solana.Instruction
	FeePayer             solana.PublicKey
	RecentBlockReference BlockReference
}

// ConfirmationStatus is the outcome of a bounded confirmation poll.
type ConfirmationStatus string

const (
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationPending   ConfirmationStatus = "pending_confirmation"
	ConfirmationFailed    ConfirmationStatus = "failed"
	ConfirmationSkipped   ConfirmationStatus = "skipped"
)

// ConfirmationResult describes what Confirm observed.
type ConfirmationResult struct {
	Signature string             `json:"signature"`
	Status    ConfirmationStatus `json:"status"`
	Level     string             `json:"level"`
	Slot      uint64             `json:"slot,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Polls     int                `json:"polls"`
}

// Submission is the result of one submitted transaction.
type Submission struct {
	Kind            ActivityKind       `json:"kind"`
	Signature       solana.Signature   `json:"signature"`
	Signer          solana.PublicKey   `json:"signer"`
	Mint            solana.PublicKey   `json:"mint"`
	Destination     *solana.PublicKey  `json:"destination,omitempty"`
	Amount          uint64             `json:"amount"`
	Decimals        uint8              `json:"decimals"`
	CreatedAccounts []solana.PublicKey `json:"created_accounts,omitempty"`
	Confirmation    ConfirmationResult `json:"confirmation"`
}

// Balance is an owner's holding of either native SOL (Mint nil) or a token.
type Balance struct {
	Owner    solana.PublicKey  `json:"owner"`
	Mint     *solana.PublicKey `json:"mint,omitempty"`
	Account  *solana.PublicKey `json:"account,omitempty"`
	Amount   uint64            `json:"amount"`
	Decimals uint8             `json:"decimals"`
	UIAmount string            `json:"ui_amount"`
}
