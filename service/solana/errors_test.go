package solana

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{name: "not found", err: rpc.ErrNotFound, target: ErrNotFound},
		{name: "blockhash not found", err: errors.New("Blockhash not found"), target: ErrStaleReference},
		{name: "block height exceeded", err: errors.New("transaction signature has expired: block height exceeded"), target: ErrStaleReference},
		{name: "transport", err: errors.New("connection reset by peer"), target: ErrNetwork},
		{
			name: "stale in simulation data",
			err: &jsonrpc.RPCError{
				Code:    -32002,
				Message: "Transaction simulation failed",
				Data:    map[string]interface{}{"err": "BlockhashNotFound", "logs": []interface{}{"blockhash not found"}},
			},
			target: ErrStaleReference,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyRPCError("op", "hash", tt.err)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	assert.NoError(t, classifyRPCError("op", "", nil))
}

func TestErrorKindsAreDistinct(t *testing.T) {
	errs := map[error]error{
		ErrValidation:     &ValidationError{Field: "amount", Reason: "bad"},
		ErrInvalidAddress: &InvalidAddressError{Field: "to", Address: "x", Err: errors.New("bad base58")},
		ErrSigning:        &SigningError{Reason: "declined"},
		ErrNetwork:        &NetworkError{Op: "send", Err: errors.New("timeout")},
		ErrStaleReference: &StaleReferenceError{Blockhash: "abc", Err: errors.New("expired")},
	}
	for sentinel, err := range errs {
		wrapped := fmt.Errorf("outer: %w", err)
		for other := range errs {
			assert.Equal(t, sentinel == other, errors.Is(wrapped, other), "%v vs %v", err, other)
		}
	}
}

func TestIsAlreadyExists(t *testing.T) {
	raced := &NetworkError{Op: "send transaction", Err: &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x0",
		Data: map[string]interface{}{
			"logs": []interface{}{"Allocate: account Address { address: 9xQ, base: None } already in use"},
		},
	}}

	assert.True(t, isAlreadyExists(raced))
	assert.False(t, isAlreadyExists(errors.New("insufficient funds")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&NetworkError{Op: "x", Err: errors.New("y")}))
	assert.True(t, IsRetryable(&StaleReferenceError{Err: errors.New("y")}))
	assert.False(t, IsRetryable(&ValidationError{Reason: "y"}))
	assert.False(t, IsRetryable(&SigningError{Reason: "y"}))
}
