package solana

import (
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// System program instruction types
const (
	systemTransferInstruction = uint32(2)
)

// activity is the classification of a single instruction.
type activity struct {
	kind       ActivityKind
	recognized bool
	from       *solana.PublicKey
	to         *solana.PublicKey
	mint       *solana.PublicKey
	amount     *uint64
}

// Decoder classifies finalized transactions into activity records.
type Decoder struct {
	opcodes OpcodeTable
}

// NewDecoder creates a decoder using the given token opcode table.
func NewDecoder(opcodes OpcodeTable) *Decoder {
	return &Decoder{opcodes: opcodes}
}

// Decode turns one fetched transaction into an ActivityRecord. Malformed or
// unresolvable instructions make the record Unknown; decoding never fails.
func (d *Decoder) Decode(signature string, result *rpc.GetTransactionResult) ActivityRecord {
	record := ActivityRecord{
		Signature: signature,
		Kind:      KindUnknown,
		Status:    StatusSuccess(),
	}
	if result == nil {
		record.Status = StatusFailure("not found")
		return record
	}

	record.Slot = result.Slot
	if result.BlockTime != nil {
		record.Timestamp = result.BlockTime.Time().UTC()
	}
	if result.Meta != nil && result.Meta.Err != nil {
		record.Status = StatusFailure(fmt.Sprintf("%v", result.Meta.Err))
	}

	if result.Transaction == nil {
		return record
	}
	tx, err := result.Transaction.GetTransaction()
	if err != nil || tx == nil {
		return record
	}

	balances := newTokenBalanceIndex(tx, result.Meta)
	views := Normalize(MessageFromTransaction(tx, result.Meta))
	activities := make([]activity, 0, len(views))
	for _, view := range views {
		activities = append(activities, d.classify(view, balances))
	}

	last := reduceActivity(activities)
	record.Kind = last.kind
	record.From = last.from
	record.To = last.to
	record.AssetOrMint = last.mint
	record.Amount = last.amount
	return record
}

// reduceActivity collapses a transaction's instructions into one activity:
// the last recognized instruction wins. Transactions with no recognized
// instruction are Unknown.
func reduceActivity(activities []activity) activity {
	out := activity{kind: KindUnknown}
	for _, a := range activities {
		if a.recognized {
			out = a
		}
	}
	return out
}

func (d *Decoder) classify(view InstructionView, balances tokenBalanceIndex) activity {
	unknown := activity{kind: KindUnknown}
	if !view.Resolved {
		return unknown
	}

	switch {
	case view.ProgramID.Equals(solana.SystemProgramID):
		return classifySystem(view)
	case view.ProgramID.Equals(solana.TokenProgramID) || view.ProgramID.Equals(Token2022ProgramID):
		return d.classifyToken(view, balances)
	default:
		return unknown
	}
}

// classifySystem reports every system instruction as SystemTransfer; only
// the transfer variant carries addresses and lamports.
func classifySystem(view InstructionView) activity {
	a := activity{kind: KindSystemTransfer, recognized: true}

	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, 2 for Transfer)
	// [4..12] = lamports (u64)
	dec := bin.NewBinDecoder(view.Data)
	typ, err := dec.ReadUint32(bin.LE)
	if err != nil || typ != systemTransferInstruction {
		return a
	}
	lamports, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return a
	}
	a.amount = &lamports
	if len(view.Accounts) >= 2 {
		a.from = view.Accounts[0].ToPointer()
		a.to = view.Accounts[1].ToPointer()
	}
	return a
}

func (d *Decoder) classifyToken(view InstructionView, balances tokenBalanceIndex) activity {
	unknown := activity{kind: KindUnknown}
	if len(view.Data) == 0 {
		return unknown
	}

	op := d.opcodes.Lookup(view.Data[0])
	dec := bin.NewBinDecoder(view.Data[1:])
	accounts := view.Accounts

	switch op {
	case TokenOpInitializeMint:
		// accounts: [mint, ...]
		if len(accounts) < 1 {
			return unknown
		}
		a := activity{kind: KindMintToken, recognized: true, mint: accounts[0].ToPointer()}
		// data: [decimals, mint_authority(32), ...]
		if _, err := dec.ReadUint8(); err == nil {
			if auth, err := dec.ReadNBytes(32); err == nil {
				a.to = solana.PublicKeyFromBytes(auth).ToPointer()
			}
		}
		return a

	case TokenOpMintTo, TokenOpMintToChecked:
		// accounts: [mint, destination, authority]
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil || len(accounts) < 3 {
			return unknown
		}
		return activity{
			kind:       KindMintToken,
			recognized: true,
			from:       accounts[2].ToPointer(),
			to:         balances.ownerOf(accounts[1]),
			mint:       accounts[0].ToPointer(),
			amount:     &amount,
		}

	case TokenOpTransfer:
		// accounts: [source, destination, owner]
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil || len(accounts) < 3 {
			return unknown
		}
		mint := balances.mintOf(accounts[0], accounts[1])
		kind := KindTransferToken
		if decimals, ok := balances.decimalsOf(accounts[0], accounts[1]); ok && isAssetMovement(amount, decimals) {
			kind = KindTransferAsset
		}
		return activity{
			kind:       kind,
			recognized: true,
			from:       accounts[2].ToPointer(),
			to:         balances.ownerOf(accounts[1]),
			mint:       mint,
			amount:     &amount,
		}

	case TokenOpTransferChecked:
		// accounts: [source, mint, destination, owner]
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil || len(accounts) < 4 {
			return unknown
		}
		decimals, err := dec.ReadUint8()
		if err != nil {
			return unknown
		}
		kind := KindTransferToken
		if isAssetMovement(amount, decimals) {
			kind = KindTransferAsset
		}
		return activity{
			kind:       kind,
			recognized: true,
			from:       accounts[3].ToPointer(),
			to:         balances.ownerOf(accounts[2]),
			mint:       accounts[1].ToPointer(),
			amount:     &amount,
		}

	case TokenOpBurn:
		// accounts: [source, mint, owner]
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil || len(accounts) < 3 {
			return unknown
		}
		kind := KindBurnToken
		if decimals, ok := balances.decimalsOf(accounts[0]); ok && isAssetMovement(amount, decimals) {
			kind = KindBurnAsset
		}
		return activity{
			kind:       kind,
			recognized: true,
			from:       accounts[2].ToPointer(),
			mint:       accounts[1].ToPointer(),
			amount:     &amount,
		}

	case TokenOpBurnChecked:
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil || len(accounts) < 3 {
			return unknown
		}
		decimals, err := dec.ReadUint8()
		if err != nil {
			return unknown
		}
		kind := KindBurnToken
		if isAssetMovement(amount, decimals) {
			kind = KindBurnAsset
		}
		return activity{
			kind:       kind,
			recognized: true,
			from:       accounts[2].ToPointer(),
			mint:       accounts[1].ToPointer(),
			amount:     &amount,
		}

	default:
		return unknown
	}
}

// isAssetMovement matches the non-fungible convention: one unit at zero decimals.
func isAssetMovement(amount uint64, decimals uint8) bool {
	return amount == 1 && decimals == 0
}

type tokenBalanceEntry struct {
	owner    *solana.PublicKey
	mint     solana.PublicKey
	decimals uint8
}

// tokenBalanceIndex maps token account addresses to the owner and mint the
// node reported in the transaction's pre/post token balances.
type tokenBalanceIndex map[solana.PublicKey]tokenBalanceEntry

func newTokenBalanceIndex(tx *solana.Transaction, meta *rpc.TransactionMeta) tokenBalanceIndex {
	idx := tokenBalanceIndex{}
	if meta == nil {
		return idx
	}

	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, meta.LoadedAddresses.Writable...)
	keys = append(keys, meta.LoadedAddresses.ReadOnly...)

	add := func(balances []rpc.TokenBalance) {
		for _, b := range balances {
			if int(b.AccountIndex) >= len(keys) {
				continue
			}
			entry := tokenBalanceEntry{owner: b.Owner, mint: b.Mint}
			if b.UiTokenAmount != nil {
				entry.decimals = b.UiTokenAmount.Decimals
			}
			idx[keys[b.AccountIndex]] = entry
		}
	}
	add(meta.PreTokenBalances)
	add(meta.PostTokenBalances)
	return idx
}

// ownerOf returns the wallet owning a token account, falling back to the
// token account itself when the owner is not reported.
func (idx tokenBalanceIndex) ownerOf(account solana.PublicKey) *solana.PublicKey {
	if e, ok := idx[account]; ok && e.owner != nil {
		return e.owner
	}
	return account.ToPointer()
}

func (idx tokenBalanceIndex) mintOf(accounts ...solana.PublicKey) *solana.PublicKey {
	for _, a := range accounts {
		if e, ok := idx[a]; ok {
			return e.mint.ToPointer()
		}
	}
	return nil
}

func (idx tokenBalanceIndex) decimalsOf(accounts ...solana.PublicKey) (uint8, bool) {
	for _, a := range accounts {
		if e, ok := idx[a]; ok {
			return e.decimals, true
		}
	}
	return 0, false
}

func blockTime(sig *rpc.TransactionSignature) time.Time {
	if sig.BlockTime == nil {
		return time.Time{}
	}
	return sig.BlockTime.Time().UTC()
}
