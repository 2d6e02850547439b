package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/petledger/service/db"
	"github.com/brojonat/petledger/service/metrics"
	"github.com/brojonat/petledger/service/nft"
	"github.com/brojonat/petledger/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testMint  = "Gh9ZwEmdLJ8DscKNTkTqPbNwLNNBjuSzaG9Vp2KGtKJr"
	testOwner = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

// MockLedger is a testify mock of Ledger.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) submission(args mock.Arguments) (*solana.Submission, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*solana.Submission), args.Error(1)
}

func (m *MockLedger) CreateToken(ctx context.Context, signer solana.Signer, decimals uint8) (*solana.Submission, error) {
	return m.submission(m.Called(ctx, signer, decimals))
}

func (m *MockLedger) MintToken(ctx context.Context, signer solana.Signer, mint, to, amount string) (*solana.Submission, error) {
	return m.submission(m.Called(ctx, signer, mint, to, amount))
}

func (m *MockLedger) TransferToken(ctx context.Context, signer solana.Signer, mint, to, amount string) (*solana.Submission, error) {
	return m.submission(m.Called(ctx, signer, mint, to, amount))
}

func (m *MockLedger) BurnToken(ctx context.Context, signer solana.Signer, mint, amount string) (*solana.Submission, error) {
	return m.submission(m.Called(ctx, signer, mint, amount))
}

func (m *MockLedger) TransferAsset(ctx context.Context, signer solana.Signer, mint, to string) (*solana.Submission, error) {
	return m.submission(m.Called(ctx, signer, mint, to))
}

func (m *MockLedger) BurnAsset(ctx context.Context, signer solana.Signer, mint string) (*solana.Submission, error) {
	return m.submission(m.Called(ctx, signer, mint))
}

func (m *MockLedger) BatchTransferAssets(ctx context.Context, signer solana.Signer, items []solana.TransferItem) []solana.BatchResult {
	return m.Called(ctx, signer, items).Get(0).([]solana.BatchResult)
}

func (m *MockLedger) BatchBurnAssets(ctx context.Context, signer solana.Signer, mints []string) []solana.BatchResult {
	return m.Called(ctx, signer, mints).Get(0).([]solana.BatchResult)
}

func (m *MockLedger) GetBalance(ctx context.Context, owner, mint string) (*solana.Balance, error) {
	args := m.Called(ctx, owner, mint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*solana.Balance), args.Error(1)
}

func (m *MockLedger) GetHistory(ctx context.Context, address string, limit int) ([]solana.ActivityRecord, error) {
	args := m.Called(ctx, address, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]solana.ActivityRecord), args.Error(1)
}

func (m *MockLedger) GetAsset(ctx context.Context, mint string) (*nft.Asset, error) {
	args := m.Called(ctx, mint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*nft.Asset), args.Error(1)
}

// fakeStore is an in-memory SubmissionStore.
type fakeStore struct {
	subs    map[string]*db.Submission
	lastArg db.ListSubmissionsParams
	err     error
}

func (f *fakeStore) GetSubmission(ctx context.Context, signature string) (*db.Submission, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[signature]
	if !ok {
		return nil, db.ErrSubmissionNotFound
	}
	return sub, nil
}

func (f *fakeStore) ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*db.Submission, error) {
	f.lastArg = params
	if f.err != nil {
		return nil, f.err
	}
	var out []*db.Submission
	for _, s := range f.subs {
		out = append(out, s)
	}
	return out, nil
}

var (
	_ Ledger          = (*MockLedger)(nil)
	_ SubmissionStore = (*db.Store)(nil)
)

type fixture struct {
	ledger  *MockLedger
	store   *fakeStore
	signer  *solana.LocalSigner
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	f := &fixture{
		ledger: new(MockLedger),
		store:  &fakeStore{subs: map[string]*db.Submission{}},
		signer: solana.NewLocalSigner(key),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	srv := New(":0", f.ledger, f.signer, f.store, nil, metrics.NewMetrics(registry), logger).WithGatherer(registry)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func sampleSubmission(kind solana.ActivityKind) *solana.Submission {
	return &solana.Submission{
		Kind:      kind,
		Signature: solanago.Signature{7},
		Mint:      solanago.MustPublicKeyFromBase58(testMint),
		Amount:    1,
		Confirmation: solana.ConfirmationResult{
			Status: solana.ConfirmationConfirmed,
		},
	}
}

func TestTokenRoutes(t *testing.T) {
	t.Run("create token", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("CreateToken", mock.Anything, f.signer, uint8(6)).Return(sampleSubmission(solana.KindCreateMint), nil)

		w := f.do("POST", "/api/v1/tokens", `{"decimals":6}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "create_mint", resp["kind"])
		f.ledger.AssertExpectations(t)
	})

	t.Run("create token requires decimals", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/v1/tokens", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w)["error"], "decimals is required")
	})

	t.Run("create token rejects out of range decimals", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("POST", "/api/v1/tokens", `{"decimals":300}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("mint passes path and body", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("MintToken", mock.Anything, f.signer, testMint, testOwner, "2.5").Return(sampleSubmission(solana.KindMintToken), nil)

		w := f.do("POST", "/api/v1/tokens/"+testMint+"/mint", `{"to":"`+testOwner+`","amount":"2.5"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		f.ledger.AssertExpectations(t)
	})

	t.Run("transfer", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("TransferToken", mock.Anything, f.signer, testMint, testOwner, "10").Return(sampleSubmission(solana.KindTransferToken), nil)

		w := f.do("POST", "/api/v1/tokens/"+testMint+"/transfer", `{"to":"`+testOwner+`","amount":"10"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		f.ledger.AssertExpectations(t)
	})

	t.Run("burn", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("BurnToken", mock.Anything, f.signer, testMint, "1").Return(sampleSubmission(solana.KindBurnToken), nil)

		w := f.do("POST", "/api/v1/tokens/"+testMint+"/burn", `{"amount":"1"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		f.ledger.AssertExpectations(t)
	})
}

func TestAssetRoutes(t *testing.T) {
	t.Run("transfer asset", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("TransferAsset", mock.Anything, f.signer, testMint, testOwner).Return(sampleSubmission(solana.KindTransferAsset), nil)

		w := f.do("POST", "/api/v1/assets/"+testMint+"/transfer", `{"to":"`+testOwner+`"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		f.ledger.AssertExpectations(t)
	})

	t.Run("burn asset needs no body", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("BurnAsset", mock.Anything, f.signer, testMint).Return(sampleSubmission(solana.KindBurnAsset), nil)

		w := f.do("POST", "/api/v1/assets/"+testMint+"/burn", "")

		assert.Equal(t, http.StatusOK, w.Code)
		f.ledger.AssertExpectations(t)
	})

	t.Run("get asset", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("GetAsset", mock.Anything, testMint).Return(&nft.Asset{MintAddress: testMint, Name: "Pixel Pup"}, nil)

		w := f.do("GET", "/api/v1/assets/"+testMint, "")

		assert.Equal(t, http.StatusOK, w.Code)
		var asset nft.Asset
		require.NoError(t, json.NewDecoder(w.Body).Decode(&asset))
		assert.Equal(t, "Pixel Pup", asset.Name)
	})

	t.Run("batch transfer always answers 200", func(t *testing.T) {
		f := newFixture(t)
		items := []solana.TransferItem{{Mint: testMint, To: testOwner}, {Mint: "bad", To: testOwner}}
		f.ledger.On("BatchTransferAssets", mock.Anything, f.signer, items).Return([]solana.BatchResult{
			{Index: 0, Submission: sampleSubmission(solana.KindTransferAsset)},
			{Index: 1, Err: &solana.InvalidAddressError{Field: "mint", Address: "bad", Err: errors.New("decode")}},
		})

		w := f.do("POST", "/api/v1/assets/batch/transfer",
			`{"items":[{"mint":"`+testMint+`","to":"`+testOwner+`"},{"mint":"bad","to":"`+testOwner+`"}]}`)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp batchResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 1, resp.Succeeded)
		assert.Equal(t, 1, resp.Failed)
		require.Len(t, resp.Results, 2)
		assert.NotNil(t, resp.Results[0].Submission)
		assert.Empty(t, resp.Results[0].Error)
		assert.Equal(t, "invalid_address", resp.Results[1].ErrorKind)
		assert.Nil(t, resp.Results[1].Submission)
	})

	t.Run("batch burn", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("BatchBurnAssets", mock.Anything, f.signer, []string{testMint}).Return([]solana.BatchResult{
			{Index: 0, Err: &solana.NetworkError{Op: "send", Err: errors.New("timeout")}},
		})

		w := f.do("POST", "/api/v1/assets/batch/burn", `{"mints":["`+testMint+`"]}`)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp batchResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 0, resp.Succeeded)
		assert.Equal(t, "network", resp.Results[0].ErrorKind)
	})

	t.Run("batch size is capped", func(t *testing.T) {
		f := newFixture(t)
		mints := make([]string, maxBatchItems+1)
		for i := range mints {
			mints[i] = `"` + testMint + `"`
		}
		w := f.do("POST", "/api/v1/assets/batch/burn", `{"mints":[`+strings.Join(mints, ",")+`]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		f.ledger.AssertNotCalled(t, "BatchBurnAssets", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestReadRoutes(t *testing.T) {
	t.Run("native balance when mint omitted", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("GetBalance", mock.Anything, testOwner, "").Return(&solana.Balance{Amount: 1500000000, Decimals: 9, UIAmount: "1.5"}, nil)

		w := f.do("GET", "/api/v1/balances/"+testOwner, "")

		assert.Equal(t, http.StatusOK, w.Code)
		var bal solana.Balance
		require.NoError(t, json.NewDecoder(w.Body).Decode(&bal))
		assert.Equal(t, "1.5", bal.UIAmount)
	})

	t.Run("token balance", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("GetBalance", mock.Anything, testOwner, testMint).Return(&solana.Balance{Amount: 3}, nil)

		w := f.do("GET", "/api/v1/balances/"+testOwner+"?mint="+testMint, "")

		assert.Equal(t, http.StatusOK, w.Code)
		f.ledger.AssertExpectations(t)
	})

	t.Run("history uses default limit", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.On("GetHistory", mock.Anything, testOwner, defaultHistoryLimit).Return([]solana.ActivityRecord{
			{Signature: "s1", Kind: solana.KindTransferAsset, Status: solana.StatusSuccess()},
		}, nil)

		w := f.do("GET", "/api/v1/history/"+testOwner, "")

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Records []solana.ActivityRecord `json:"records"`
			Count   int                     `json:"count"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, solana.KindTransferAsset, resp.Records[0].Kind)
	})

	t.Run("history limit bounds", func(t *testing.T) {
		f := newFixture(t)
		for _, q := range []string{"?limit=0", "?limit=abc", "?limit=1001"} {
			w := f.do("GET", "/api/v1/history/"+testOwner+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
		f.ledger.AssertNotCalled(t, "GetHistory", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"validation", &solana.ValidationError{Field: "amount", Reason: "must be positive"}, http.StatusBadRequest, "validation"},
		{"invalid address", &solana.InvalidAddressError{Field: "to", Address: "x", Err: errors.New("bad")}, http.StatusBadRequest, "invalid_address"},
		{"signing", &solana.SigningError{Reason: "signer disconnected"}, http.StatusForbidden, "signing"},
		{"stale reference", &solana.StaleReferenceError{Err: errors.New("blockhash not found")}, http.StatusConflict, "stale_reference"},
		{"network", &solana.NetworkError{Op: "send", Err: errors.New("timeout")}, http.StatusBadGateway, "network"},
		{"not found", solana.ErrNotFound, http.StatusNotFound, "not_found"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.On("TransferAsset", mock.Anything, mock.Anything, testMint, testOwner).Return(nil, tt.err)

			w := f.do("POST", "/api/v1/assets/"+testMint+"/transfer", `{"to":"`+testOwner+`"}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantKind, resp["kind"])
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", resp["error"])
			}
		})
	}
}

func TestPathologicalBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"extremely large request body", `{"to":"` + strings.Repeat("A", 2*1024*1024) + `"}`, "request body too large"},
		{"malformed JSON", `{"to":`, "invalid request body"},
		{"wrong type", `{"to":42}`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do("POST", "/api/v1/assets/"+testMint+"/transfer", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeError(t, w)["error"], tt.want)
			f.ledger.AssertNotCalled(t, "TransferAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSubmissionRoutes(t *testing.T) {
	sig := solanago.Signature{9}.String()
	mint := testMint

	t.Run("get", func(t *testing.T) {
		f := newFixture(t)
		f.store.subs[sig] = &db.Submission{
			Signature: sig,
			Kind:      "transfer_asset",
			Signer:    testOwner,
			Mint:      &mint,
			Amount:    1,
			Status:    db.StatusConfirmed,
			CreatedAt: time.Now(),
		}

		w := f.do("GET", "/api/v1/submissions/"+sig, "")

		assert.Equal(t, http.StatusOK, w.Code)
		var resp submissionResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, db.StatusConfirmed, resp.Status)
		assert.Equal(t, testMint, *resp.Mint)
	})

	t.Run("get missing is 404", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("GET", "/api/v1/submissions/"+sig, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("get rejects malformed signature", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("GET", "/api/v1/submissions/0OIl", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list passes filters", func(t *testing.T) {
		f := newFixture(t)
		w := f.do("GET", "/api/v1/submissions?signer="+testOwner+"&mint="+testMint+"&limit=5&offset=10", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, db.ListSubmissionsParams{Signer: testOwner, Mint: testMint, Limit: 5, Offset: 10}, f.store.lastArg)
	})

	t.Run("list validates", func(t *testing.T) {
		f := newFixture(t)
		for _, q := range []string{"?signer=bad0", "?limit=0", "?offset=-1", "?limit=5000"} {
			w := f.do("GET", "/api/v1/submissions"+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})

	t.Run("store failure is 500", func(t *testing.T) {
		f := newFixture(t)
		f.store.err = errors.New("connection refused")
		w := f.do("GET", "/api/v1/submissions", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestOpsRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	f.ledger.On("GetAsset", mock.Anything, testMint).Return(&nft.Asset{MintAddress: testMint}, nil)
	f.do("GET", "/api/v1/assets/"+testMint, "")

	w = f.do("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/assets")

	w = f.do("OPTIONS", "/api/v1/tokens", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestJournalRoutesDisabledWithoutStore(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	srv := New(":0", new(MockLedger), solana.NewLocalSigner(key), nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest("GET", "/api/v1/submissions", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
