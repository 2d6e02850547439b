package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/brojonat/petledger/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMint  = "So11111111111111111111111111111111111111112"
	testOwner = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	runErr := newApp().Run(append([]string{"petledger"}, args...))

	w.Close()
	os.Stdout = oldStdout
	return <-done, runErr
}

func submissionHandler(t *testing.T, wantMethod, wantPath string, status int, check func(body map[string]interface{})) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantMethod, r.Method)
		assert.Equal(t, wantPath, r.URL.Path)
		if check != nil {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			check(body)
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"kind":      "mint_token",
			"signature": "sig123",
			"signer":    testOwner,
			"mint":      testMint,
			"amount":    1500,
			"decimals":  3,
			"confirmation": map[string]interface{}{
				"signature": "sig123",
				"status":    "confirmed",
				"slot":      42,
			},
		})
	}
}

func TestTokenCreateCommand(t *testing.T) {
	server := httptest.NewServer(submissionHandler(t, "POST", "/api/v1/tokens", http.StatusCreated, func(body map[string]interface{}) {
		assert.Equal(t, float64(6), body["decimals"])
	}))
	defer server.Close()

	output, err := runApp(t, "--server-url", server.URL, "token", "create", "--decimals", "6")
	require.NoError(t, err)
	assert.Contains(t, output, "sig123")
	assert.Contains(t, output, "confirmed")
}

func TestTokenCreateCommand_DecimalsOutOfRange(t *testing.T) {
	_, err := runApp(t, "--server-url", "http://127.0.0.1:0", "token", "create", "--decimals", "256")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 255")
}

func TestTokenMintCommand_JSON(t *testing.T) {
	server := httptest.NewServer(submissionHandler(t, "POST", "/api/v1/tokens/"+testMint+"/mint", http.StatusOK, func(body map[string]interface{}) {
		assert.Equal(t, testOwner, body["to"])
		assert.Equal(t, "1.5", body["amount"])
	}))
	defer server.Close()

	output, err := runApp(t, "--server-url", server.URL, "--json", "token", "mint", testMint, testOwner, "1.5")
	require.NoError(t, err)

	var sub client.Submission
	require.NoError(t, json.Unmarshal([]byte(output), &sub))
	assert.Equal(t, "sig123", sub.Signature)
	assert.Equal(t, uint64(42), sub.Confirmation.Slot)
}

func TestTokenMintCommand_MissingArgs(t *testing.T) {
	_, err := runApp(t, "token", "mint", testMint)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires MINT, TO and AMOUNT")
}

func TestTokenBurnCommand_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "amount must be positive", "kind": "validation"})
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "token", "burn", testMint, "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount must be positive")
}

func TestAssetBatchTransferCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/assets/batch/transfer", r.URL.Path)

		var body struct {
			Items []client.TransferItem `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []client.TransferItem{{Mint: testMint, To: testOwner}, {Mint: testOwner, To: testMint}}, body.Items)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 0, "submission": map[string]interface{}{"signature": "s0", "mint": testMint, "confirmation": map[string]interface{}{"status": "confirmed"}}},
				{"index": 1, "error": "mint is not an asset", "error_kind": "validation"},
			},
			"succeeded": 1,
			"failed":    1,
		})
	}))
	defer server.Close()

	output, err := runApp(t, "--server-url", server.URL, "asset", "batch-transfer", testMint+"="+testOwner, testOwner+"="+testMint)
	require.NoError(t, err)
	assert.Contains(t, output, "s0")
	assert.Contains(t, output, "mint is not an asset")
}

func TestParseTransferItems(t *testing.T) {
	items, err := parseTransferItems([]string{"a=b", "c=d"})
	require.NoError(t, err)
	assert.Equal(t, []client.TransferItem{{Mint: "a", To: "b"}, {Mint: "c", To: "d"}}, items)

	for _, bad := range []string{"ab", "=b", "a="} {
		_, err := parseTransferItems([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestBalanceCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/balances/"+testOwner, r.URL.Path)
		assert.Equal(t, testMint, r.URL.Query().Get("mint"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"owner": testOwner, "mint": testMint, "amount": 1500, "decimals": 3, "ui_amount": "1.5",
		})
	}))
	defer server.Close()

	output, err := runApp(t, "--server-url", server.URL, "balance", "--mint", testMint, testOwner)
	require.NoError(t, err)
	assert.Contains(t, output, "1.5 (1500 base units)")
}

func TestHistoryCommand_JQFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/history/"+testOwner, r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"records": []map[string]interface{}{
				{"signature": "s1", "kind": "transfer_asset", "amount": 1, "timestamp": "2024-01-01T00:00:00Z", "status": map[string]interface{}{"success": true}},
				{"signature": "s2", "kind": "transfer_asset", "amount": 1, "timestamp": "2024-01-01T00:00:00Z", "status": map[string]interface{}{"success": false, "reason": "boom"}},
				{"signature": "s3", "kind": "mint_token", "amount": 7, "timestamp": "2024-01-01T00:00:00Z", "status": map[string]interface{}{"success": true}},
			},
		})
	}))
	defer server.Close()

	output, err := runApp(t, "--server-url", server.URL, "--json",
		"history", "--limit", "10",
		"--jq", `.kind == "transfer_asset"`,
		"--jq", `.status.success`,
		testOwner,
	)
	require.NoError(t, err)

	var records []client.ActivityRecord
	require.NoError(t, json.Unmarshal([]byte(output), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].Signature)
}

func TestHistoryCommand_InvalidFilter(t *testing.T) {
	_, err := runApp(t, "history", "--jq", ".kind ==", testOwner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestFilterRecords(t *testing.T) {
	amount := uint64(3)
	records := []client.ActivityRecord{
		{Signature: "a", Kind: "burn_token", Amount: &amount},
		{Signature: "b", Kind: "unknown"},
	}

	tests := []struct {
		name   string
		exprs  []string
		expect []string
	}{
		{"no filters", nil, []string{"a", "b"}},
		{"numeric comparison", []string{".amount > 2"}, []string{"a"}},
		{"null is falsy", []string{".amount"}, []string{"a"}},
		{"filter error never matches", []string{".kind | tonumber"}, []string{}},
		{"empty result never matches", []string{"empty"}, []string{}},
		{"non-boolean truthy", []string{".signature"}, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters, err := compileFilters(tt.exprs)
			require.NoError(t, err)
			kept, err := filterRecords(records, filters)
			require.NoError(t, err)

			got := []string{}
			for _, r := range kept {
				got = append(got, r.Signature)
			}
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestSubmissionListCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/submissions", r.URL.Path)
		assert.Equal(t, testOwner, r.URL.Query().Get("signer"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"submissions": []map[string]interface{}{
				{"signature": "sig9", "kind": "burn_asset", "signer": testOwner, "status": "pending_confirmation",
					"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-01T00:00:00Z"},
			},
		})
	}))
	defer server.Close()

	output, err := runApp(t, "--server-url", server.URL, "submission", "list", "--signer", testOwner)
	require.NoError(t, err)
	assert.Contains(t, output, "sig9")
	assert.Contains(t, output, "pending_confirmation")
}
