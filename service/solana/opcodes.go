package solana

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Token2022ProgramID is the Token Extensions program. Its base instruction
// set shares opcodes with the original token program.
var Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// TokenOp is a token program operation recognized by an opcode table.
type TokenOp int

const (
	TokenOpUnrecognized TokenOp = iota
	TokenOpInitializeMint
	TokenOpMintTo
	TokenOpMintToChecked
	TokenOpTransfer
	TokenOpTransferChecked
	TokenOpBurn
	TokenOpBurnChecked
)

func (op TokenOp) String() string {
	switch op {
	case TokenOpInitializeMint:
		return "initialize_mint"
	case TokenOpMintTo:
		return "mint_to"
	case TokenOpMintToChecked:
		return "mint_to_checked"
	case TokenOpTransfer:
		return "transfer"
	case TokenOpTransferChecked:
		return "transfer_checked"
	case TokenOpBurn:
		return "burn"
	case TokenOpBurnChecked:
		return "burn_checked"
	default:
		return "unrecognized"
	}
}

// OpcodeTable maps the first instruction data byte to a TokenOp. Tables are
// versioned because opcode values belong to a deployed program version.
type OpcodeTable struct {
	Version string
	ops     map[byte]TokenOp
}

// Lookup returns TokenOpUnrecognized for any byte not in the table.
func (t OpcodeTable) Lookup(opcode byte) TokenOp {
	op, ok := t.ops[opcode]
	if !ok {
		return TokenOpUnrecognized
	}
	return op
}

// TokenOpcodesV1 is the minimal table: 0 mint, 3 transfer, 8 burn.
var TokenOpcodesV1 = OpcodeTable{
	Version: "v1",
	ops: map[byte]TokenOp{
		token.Instruction_InitializeMint: TokenOpInitializeMint,
		token.Instruction_Transfer:       TokenOpTransfer,
		token.Instruction_Burn:           TokenOpBurn,
	},
}

// TokenOpcodesV2 extends V1 with the supply and checked variants.
var TokenOpcodesV2 = OpcodeTable{
	Version: "v2",
	ops: map[byte]TokenOp{
		token.Instruction_InitializeMint:  TokenOpInitializeMint,
		token.Instruction_Transfer:        TokenOpTransfer,
		token.Instruction_MintTo:          TokenOpMintTo,
		token.Instruction_Burn:            TokenOpBurn,
		token.Instruction_TransferChecked: TokenOpTransferChecked,
		token.Instruction_MintToChecked:   TokenOpMintToChecked,
		token.Instruction_BurnChecked:     TokenOpBurnChecked,
		token.Instruction_InitializeMint2: TokenOpInitializeMint,
	},
}

// OpcodeTableByVersion returns the table for version ("v1" or "v2").
func OpcodeTableByVersion(version string) (OpcodeTable, bool) {
	switch version {
	case TokenOpcodesV1.Version:
		return TokenOpcodesV1, true
	case TokenOpcodesV2.Version:
		return TokenOpcodesV2, true
	default:
		return OpcodeTable{}, false
	}
}
