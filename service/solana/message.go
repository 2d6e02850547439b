package solana

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Message is one of the two wire encodings a transaction message can take:
// LegacyMessage or V0Message. Use Normalize to get a uniform instruction view.
type Message interface {
	isMessage()
}

// LegacyMessage carries every account key inline.
type LegacyMessage struct {
	AccountKeys  []solana.PublicKey
	Instructions []solana.CompiledInstruction
}

// V0Message references a static key table plus addresses loaded from
// lookup tables. Loaded addresses come from the transaction meta, writable
// first.
type V0Message struct {
	StaticKeys     []solana.PublicKey
	LoadedWritable []solana.PublicKey
	LoadedReadonly []solana.PublicKey
	Instructions   []solana.CompiledInstruction
}

func (LegacyMessage) isMessage() {}
func (V0Message) isMessage()     {}

// InstructionView is an instruction with every index resolved to an address.
// Resolved is false when any index points outside the key table; such an
// instruction keeps whatever it could resolve and is never classified.
type InstructionView struct {
	ProgramID solana.PublicKey
	Data      []byte
	Accounts  []solana.PublicKey
	Resolved  bool
}

// MessageFromTransaction wraps a decoded transaction in the matching variant.
func MessageFromTransaction(tx *solana.Transaction, meta *rpc.TransactionMeta) Message {
	if !tx.Message.IsVersioned() {
		return LegacyMessage{
			AccountKeys:  tx.Message.AccountKeys,
			Instructions: tx.Message.Instructions,
		}
	}
	msg := V0Message{
		StaticKeys:   tx.Message.AccountKeys,
		Instructions: tx.Message.Instructions,
	}
	if meta != nil {
		msg.LoadedWritable = meta.LoadedAddresses.Writable
		msg.LoadedReadonly = meta.LoadedAddresses.ReadOnly
	}
	return msg
}

// Normalize flattens either encoding into program/data/accounts triples.
func Normalize(m Message) []InstructionView {
	var (
		keys         []solana.PublicKey
		instructions []solana.CompiledInstruction
	)
	switch msg := m.(type) {
	case LegacyMessage:
		keys = msg.AccountKeys
		instructions = msg.Instructions
	case V0Message:
		keys = make([]solana.PublicKey, 0, len(msg.StaticKeys)+len(msg.LoadedWritable)+len(msg.LoadedReadonly))
		keys = append(keys, msg.StaticKeys...)
		keys = append(keys, msg.LoadedWritable...)
		keys = append(keys, msg.LoadedReadonly...)
		instructions = msg.Instructions
	default:
		return nil
	}

	views := make([]InstructionView, 0, len(instructions))
	for _, ix := range instructions {
		views = append(views, resolveInstruction(ix, keys))
	}
	return views
}

func resolveInstruction(ix solana.CompiledInstruction, keys []solana.PublicKey) InstructionView {
	view := InstructionView{
		Data:     ix.Data,
		Accounts: make([]solana.PublicKey, 0, len(ix.Accounts)),
		Resolved: true,
	}
	if int(ix.ProgramIDIndex) >= len(keys) {
		view.Resolved = false
		return view
	}
	view.ProgramID = keys[ix.ProgramIDIndex]
	for _, idx := range ix.Accounts {
		if int(idx) >= len(keys) {
			view.Resolved = false
			return view
		}
		view.Accounts = append(view.Accounts, keys[idx])
	}
	return view
}
