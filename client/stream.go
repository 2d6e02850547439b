package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SubmissionEvent is a submission or a later status change, as streamed by
// the server.
type SubmissionEvent struct {
	EventID     string  `json:"event_id"`
	Signature   string  `json:"signature"`
	Kind        string  `json:"kind"`
	Signer      string  `json:"signer"`
	Mint        string  `json:"mint,omitempty"`
	Destination *string `json:"destination,omitempty"`
	Amount      uint64  `json:"amount"`
	Decimals    uint8   `json:"decimals"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason,omitempty"`
	Slot        uint64  `json:"slot,omitempty"`
}

// Terminal reports whether no further status change will follow.
func (e *SubmissionEvent) Terminal() bool {
	switch e.Status {
	case "confirmed", "failed", "expired":
		return true
	}
	return false
}

// errStopStream ends StreamSubmissions without an error.
var errStopStream = errors.New("stop stream")

// StreamSubmissions follows the server's submission stream until ctx is done
// or fn returns false. An empty kind streams every kind; a non-empty signer
// narrows the stream to that signer.
func (c *Client) StreamSubmissions(ctx context.Context, kind, signer string, fn func(*SubmissionEvent) bool) error {
	u := c.baseURL + "/api/v1/stream/submissions"
	if kind != "" {
		u += "/" + url.PathEscape(kind)
	}
	if signer != "" {
		u += "?signer=" + url.QueryEscape(signer)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any request timeout.
	httpClient := *c.httpClient
	httpClient.Timeout = 0
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := c.dispatch(ctx, event, data, fn); err != nil {
				if errors.Is(err, errStopStream) {
					return nil
				}
				return err
			}
			event, data = "", ""
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("stream closed by server")
}

func (c *Client) dispatch(ctx context.Context, event, data string, fn func(*SubmissionEvent) bool) error {
	switch event {
	case "submission":
		var e SubmissionEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			c.logger.WarnContext(ctx, "failed to decode submission event", "error", err)
			return nil
		}
		if !fn(&e) {
			return errStopStream
		}
	case "error":
		var errInfo struct {
			Error string `json:"error"`
		}
		json.Unmarshal([]byte(data), &errInfo)
		return fmt.Errorf("server error: %s", errInfo.Error)
	case "connected":
		c.logger.DebugContext(ctx, "stream connected", "info", data)
	}
	return nil
}

// AwaitStatus blocks until the stream announces a terminal status for
// signature. Only events published after the call are seen, so callers
// should check the journal first for submissions that may already be done.
func (c *Client) AwaitStatus(ctx context.Context, signature, kind string) (*SubmissionEvent, error) {
	var found *SubmissionEvent
	err := c.StreamSubmissions(ctx, kind, "", func(e *SubmissionEvent) bool {
		if e.Signature != signature || !e.Terminal() {
			return true
		}
		found = e
		return false
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
