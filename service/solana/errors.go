package solana

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Sentinel kinds. Every typed error below matches exactly one of these via errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrInvalidAddress = errors.New("invalid address")
	ErrSigning        = errors.New("signing error")
	ErrNetwork        = errors.New("network error")
	ErrStaleReference = errors.New("stale block reference")
	ErrNotFound       = errors.New("not found")
)

// ValidationError reports bad input shape or amount. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidAddressError reports an address that is not a well-formed base58 public key.
type InvalidAddressError struct {
	Field   string
	Address string
	Err     error
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address for %s %q: %v", e.Field, e.Address, e.Err)
}

func (e *InvalidAddressError) Unwrap() error { return e.Err }

func (e *InvalidAddressError) Is(target error) bool { return target == ErrInvalidAddress }

// SigningError is returned when the signer is disconnected or declines to sign.
type SigningError struct {
	Reason string
	Err    error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signing failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("signing failed: %s", e.Reason)
}

func (e *SigningError) Unwrap() error { return e.Err }

func (e *SigningError) Is(target error) bool { return target == ErrSigning }

// NetworkError wraps a transient RPC failure. The whole operation may be retried.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// StaleReferenceError means the embedded blockhash expired before the network
// accepted the transaction. The caller must rebuild with a fresh reference.
type StaleReferenceError struct {
	Blockhash string
	Err       error
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stale block reference %s: %v", e.Blockhash, e.Err)
}

func (e *StaleReferenceError) Unwrap() error { return e.Err }

func (e *StaleReferenceError) Is(target error) bool { return target == ErrStaleReference }

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrStaleReference)
}

func validationf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// classifyRPCError maps a raw RPC failure into the error taxonomy.
// rpc.ErrNotFound is passed through so callers can test for it with errors.Is.
func classifyRPCError(op string, blockhash string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rpc.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isStaleReference(err) {
		return &StaleReferenceError{Blockhash: blockhash, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}

func isStaleReference(err error) bool {
	msg := strings.ToLower(errorMessage(err))
	return strings.Contains(msg, "blockhash not found") ||
		strings.Contains(msg, "block height exceeded") ||
		strings.Contains(msg, "transaction expired")
}

// isAlreadyExists matches the program errors produced when an account that is
// being created was created by someone else first.
func isAlreadyExists(err error) bool {
	msg := strings.ToLower(errorMessage(err))
	return strings.Contains(msg, "already in use") ||
		strings.Contains(msg, "already exists")
}

// errorMessage includes the simulation logs carried by a JSON-RPC error, since
// program failures only show up there.
func errorMessage(err error) string {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Data != nil {
		return fmt.Sprintf("%s %v", rpcErr.Message, rpcErr.Data)
	}
	return err.Error()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
