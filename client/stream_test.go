package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseServer writes the given events then holds the connection open until
// the client goes away.
func sseServer(t *testing.T, events []SubmissionEvent, check func(*http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		fmt.Fprintf(w, "event: connected\ndata: {\"filter\":\"all kinds\"}\n\n")
		fmt.Fprintf(w, ": keepalive\n\n")
		for _, e := range events {
			data, _ := json.Marshal(e)
			fmt.Fprintf(w, "event: submission\ndata: %s\n\n", data)
		}
		flusher.Flush()
		<-r.Context().Done()
	}))
}

func TestStreamSubmissions(t *testing.T) {
	events := []SubmissionEvent{
		{Signature: "a", Kind: "mint_token", Status: "pending_confirmation"},
		{Signature: "b", Kind: "mint_token", Status: "confirmed"},
		{Signature: "c", Kind: "mint_token", Status: "confirmed"},
	}
	server := sseServer(t, events, func(r *http.Request) {
		assert.Equal(t, "/api/v1/stream/submissions/mint_token", r.URL.Path)
		assert.Equal(t, testOwner, r.URL.Query().Get("signer"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	err := NewClient(server.URL, nil, nil).StreamSubmissions(ctx, "mint_token", testOwner, func(e *SubmissionEvent) bool {
		seen = append(seen, e.Signature)
		return len(seen) < 2
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestStreamSubmissions_ContextCancelled(t *testing.T) {
	server := sseServer(t, nil, nil)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := NewClient(server.URL, nil, nil).StreamSubmissions(ctx, "", "", func(*SubmissionEvent) bool { return true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamSubmissions_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid kind"})
	}))
	defer server.Close()

	err := NewClient(server.URL, nil, nil).StreamSubmissions(context.Background(), "BAD", "", func(*SubmissionEvent) bool { return true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kind")
}

func TestAwaitStatus(t *testing.T) {
	events := []SubmissionEvent{
		{Signature: "other", Kind: "burn_asset", Status: "confirmed"},
		{Signature: "target", Kind: "burn_asset", Status: "pending_confirmation"},
		{Signature: "target", Kind: "burn_asset", Status: "expired", Reason: "not confirmed after 60 checks"},
	}
	server := sseServer(t, events, nil)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, err := NewClient(server.URL, nil, nil).AwaitStatus(ctx, "target", "burn_asset")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "expired", event.Status)
	assert.True(t, event.Terminal())
}
