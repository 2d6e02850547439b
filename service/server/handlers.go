package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/petledger/service/db"
	"github.com/brojonat/petledger/service/solana"
)

const (
	maxRequestBodySize  = 1 << 20 // 1MB
	maxAddressLength    = 100     // Solana addresses are 44 chars, give buffer
	maxSignatureLength  = 100     // Signatures are up to 88 chars
	maxBatchItems       = 100
	defaultHistoryLimit = 25
	defaultListLimit    = 100
	maxListLimit        = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleCreateToken returns a handler that creates a new token mint.
// POST /api/v1/tokens
func handleCreateToken(ledger Ledger, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Decimals *int `json:"decimals"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if req.Decimals == nil {
			writeError(w, "decimals is required", http.StatusBadRequest)
			return
		}
		if *req.Decimals < 0 || *req.Decimals > 255 {
			writeError(w, "decimals must be between 0 and 255", http.StatusBadRequest)
			return
		}

		sub, err := ledger.CreateToken(r.Context(), signer, uint8(*req.Decimals))
		if err != nil {
			writeServiceError(w, r, logger, "create token", err)
			return
		}
		writeJSON(w, sub, http.StatusCreated)
	})
}

// handleMintToken returns a handler that mints fungible tokens to a recipient.
// POST /api/v1/tokens/{mint}/mint
func handleMintToken(ledger Ledger, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			To     string `json:"to"`
			Amount string `json:"amount"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		sub, err := ledger.MintToken(r.Context(), signer, r.PathValue("mint"), req.To, req.Amount)
		if err != nil {
			writeServiceError(w, r, logger, "mint token", err)
			return
		}
		writeJSON(w, sub, http.StatusOK)
	})
}

// handleTransferToken returns a handler that transfers fungible tokens.
// POST /api/v1/tokens/{mint}/transfer
func handleTransferToken(ledger Ledger, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			To     string `json:"to"`
			Amount string `json:"amount"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		sub, err := ledger.TransferToken(r.Context(), signer, r.PathValue("mint"), req.To, req.Amount)
		if err != nil {
			writeServiceError(w, r, logger, "transfer token", err)
			return
		}
		writeJSON(w, sub, http.StatusOK)
	})
}

// handleBurnToken returns a handler that burns fungible tokens from the signer.
// POST /api/v1/tokens/{mint}/burn
func handleBurnToken(ledger Ledger, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount string `json:"amount"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		sub, err := ledger.BurnToken(r.Context(), signer, r.PathValue("mint"), req.Amount)
		if err != nil {
			writeServiceError(w, r, logger, "burn token", err)
			return
		}
		writeJSON(w, sub, http.StatusOK)
	})
}

// handleTransferAsset returns a handler that transfers a non-fungible asset.
// POST /api/v1/assets/{mint}/transfer
func handleTransferAsset(ledger Ledger, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			To string `json:"to"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		sub, err := ledger.TransferAsset(r.Context(), signer, r.PathValue("mint"), req.To)
		if err != nil {
			writeServiceError(w, r, logger, "transfer asset", err)
			return
		}
		writeJSON(w, sub, http.StatusOK)
	})
}

// handleBurnAsset returns a handler that burns a non-fungible asset. No body.
// POST /api/v1/assets/{mint}/burn
func handleBurnAsset(ledger Ledger, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := ledger.BurnAsset(r.Context(), signer, r.PathValue("mint"))
		if err != nil {
			writeServiceError(w, r, logger, "burn asset", err)
			return
		}
		writeJSON(w, sub, http.StatusOK)
	})
}

// handleBatchTransferAssets returns a handler that transfers many assets, one
// transaction each. It always answers 200 with per-item results.
// POST /api/v1/assets/batch/transfer
func handleBatchTransferAssets(ledger Ledger, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []solana.TransferItem `json:"items"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if len(req.Items) > maxBatchItems {
			writeError(w, fmt.Sprintf("too many items: maximum is %d", maxBatchItems), http.StatusBadRequest)
			return
		}

		results := ledger.BatchTransferAssets(r.Context(), signer, req.Items)
		writeJSON(w, batchToResponse(results), http.StatusOK)
	})
}

// handleBatchBurnAssets returns a handler that burns many assets, one
// transaction each. It always answers 200 with per-item results.
// POST /api/v1/assets/batch/burn
func handleBatchBurnAssets(ledger Ledger, signer solana.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mints []string `json:"mints"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if len(req.Mints) > maxBatchItems {
			writeError(w, fmt.Sprintf("too many mints: maximum is %d", maxBatchItems), http.StatusBadRequest)
			return
		}

		results := ledger.BatchBurnAssets(r.Context(), signer, req.Mints)
		writeJSON(w, batchToResponse(results), http.StatusOK)
	})
}

// handleGetAsset returns a handler that projects an asset's metadata.
// GET /api/v1/assets/{mint}
func handleGetAsset(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		asset, err := ledger.GetAsset(r.Context(), r.PathValue("mint"))
		if err != nil {
			writeServiceError(w, r, logger, "get asset", err)
			return
		}
		writeJSON(w, asset, http.StatusOK)
	})
}

// handleGetBalance returns a handler for an owner's balance. Without a mint
// query parameter it reports the native balance.
// GET /api/v1/balances/{owner}?mint=MINT
func handleGetBalance(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		balance, err := ledger.GetBalance(r.Context(), r.PathValue("owner"), r.URL.Query().Get("mint"))
		if err != nil {
			writeServiceError(w, r, logger, "get balance", err)
			return
		}
		writeJSON(w, balance, http.StatusOK)
	})
}

// handleGetHistory returns a handler for an address's decoded activity.
// GET /api/v1/history/{address}?limit=N
func handleGetHistory(ledger Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseIntParam(r, "limit", defaultHistoryLimit, 1, solana.MaxHistoryLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		address := r.PathValue("address")
		records, err := ledger.GetHistory(r.Context(), address, limit)
		if err != nil {
			writeServiceError(w, r, logger, "get history", err)
			return
		}

		logger.DebugContext(r.Context(), "history decoded", "address", address, "count", len(records))
		writeJSON(w, map[string]interface{}{
			"address": address,
			"records": records,
			"count":   len(records),
		}, http.StatusOK)
	})
}

// handleGetSubmission returns a handler that looks a submission up in the journal.
// GET /api/v1/submissions/{signature}
func handleGetSubmission(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := store.GetSubmission(r.Context(), signature)
		if err != nil {
			writeServiceError(w, r, logger, "get submission", err)
			return
		}
		writeJSON(w, submissionToResponse(sub), http.StatusOK)
	})
}

// handleListSubmissions returns a handler that lists journaled submissions,
// newest first.
// GET /api/v1/submissions?signer=ADDRESS&mint=ADDRESS&limit=N&offset=N
func handleListSubmissions(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		signer := query.Get("signer")
		mint := query.Get("mint")

		if signer != "" {
			if err := validateAddress(signer); err != nil {
				writeError(w, "signer: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		if mint != "" {
			if err := validateAddress(mint); err != nil {
				writeError(w, "mint: "+err.Error(), http.StatusBadRequest)
				return
			}
		}

		limit, err := parseIntParam(r, "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := parseIntParam(r, "offset", 0, 0, -1)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		subs, err := store.ListSubmissions(r.Context(), db.ListSubmissionsParams{
			Signer: signer,
			Mint:   mint,
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			writeServiceError(w, r, logger, "list submissions", err)
			return
		}

		resp := make([]submissionResponse, len(subs))
		for i, sub := range subs {
			resp[i] = submissionToResponse(sub)
		}
		writeJSON(w, map[string]interface{}{
			"submissions": resp,
			"count":       len(resp),
			"limit":       limit,
			"offset":      offset,
		}, http.StatusOK)
	})
}

// batchItemResponse is the JSON form of one batch item. Exactly one of
// Submission and Error is set.
type batchItemResponse struct {
	Index      int                `json:"index"`
	Submission *solana.Submission `json:"submission,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
}

type batchResponse struct {
	Results   []batchItemResponse `json:"results"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

func batchToResponse(results []solana.BatchResult) batchResponse {
	resp := batchResponse{Results: make([]batchItemResponse, len(results))}
	for i, res := range results {
		item := batchItemResponse{Index: res.Index, Submission: res.Submission}
		if res.Err != nil {
			item.Error = res.Err.Error()
			item.ErrorKind = errorKind(res.Err)
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Results[i] = item
	}
	return resp
}

// submissionResponse is the JSON response format for a journaled submission.
type submissionResponse struct {
	Signature   string     `json:"signature"`
	Kind        string     `json:"kind"`
	Signer      string     `json:"signer"`
	Mint        *string    `json:"mint,omitempty"`
	Destination *string    `json:"destination,omitempty"`
	Amount      uint64     `json:"amount"`
	Decimals    int16      `json:"decimals"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	WorkflowID  *string    `json:"workflow_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// submissionToResponse converts a journal row to a response format.
func submissionToResponse(s *db.Submission) submissionResponse {
	return submissionResponse{
		Signature:   s.Signature,
		Kind:        s.Kind,
		Signer:      s.Signer,
		Mint:        s.Mint,
		Destination: s.Destination,
		Amount:      s.Amount,
		Decimals:    s.Decimals,
		Status:      s.Status,
		Error:       s.Error,
		WorkflowID:  s.WorkflowID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		ConfirmedAt: s.ConfirmedAt,
	}
}

// decodeBody decodes a size-limited JSON body into dst. It writes the 400
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "path", r.URL.Path, "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// statusForError maps the ledger's error kinds to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, solana.ErrValidation), errors.Is(err, solana.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, solana.ErrSigning):
		return http.StatusForbidden
	case errors.Is(err, solana.ErrStaleReference):
		return http.StatusConflict
	case errors.Is(err, solana.ErrNotFound), errors.Is(err, db.ErrSubmissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, solana.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorKind names an error's kind for clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, solana.ErrValidation):
		return "validation"
	case errors.Is(err, solana.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, solana.ErrSigning):
		return "signing"
	case errors.Is(err, solana.ErrStaleReference):
		return "stale_reference"
	case errors.Is(err, solana.ErrNotFound), errors.Is(err, db.ErrSubmissionNotFound):
		return "not_found"
	case errors.Is(err, solana.ErrNetwork):
		return "network"
	default:
		return "internal"
	}
}

// writeServiceError logs err and writes the mapped status. Internal errors
// are not echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "op", op, "status", status, "error", err)
	} else {
		logger.DebugContext(r.Context(), "request rejected", "op", op, "status", status, "error", err)
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"kind":  errorKind(err),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"kind":  "validation",
	})
}

// parseIntParam reads an integer query parameter. A negative hi means no upper bound.
func parseIntParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid %s parameter: must be an integer", name)
	}
	if v < lo {
		return 0, errorf("%s must be at least %d", name, lo)
	}
	if hi >= 0 && v > hi {
		return 0, errorf("%s cannot exceed %d", name, hi)
	}
	return v, nil
}

// validateAddress validates an address for security and format.
func validateAddress(address string) error {
	return validateBase58("address", address, maxAddressLength)
}

// validateSignature validates a transaction signature.
func validateSignature(signature string) error {
	return validateBase58("signature", signature, maxSignatureLength)
}

func validateBase58(field, value string, maxLen int) error {
	if value == "" {
		return errorf("%s is required", field)
	}

	if len(value) > maxLen {
		return errorf("%s too long: maximum length is %d characters", field, maxLen)
	}

	// Check for null bytes and control characters
	for _, r := range value {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}

	if !validAddressRegex.MatchString(value) {
		return errorf("invalid %s format: must contain only valid base58 characters", field)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
