package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestPostMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("authorization = %q", got)
		}

		var req PostMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Channel != "C0123" {
			t.Errorf("channel = %q", req.Channel)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"channel": "C0123",
			"ts":      "1700000000.000100",
		})
	}))
	defer srv.Close()

	c := NewClient("xoxb-test", "xapp-test", srv.URL)
	resp, err := c.PostMessage(context.Background(), PostMessageRequest{
		Channel: "C0123",
		Text:    "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TS != "1700000000.000100" {
		t.Errorf("ts = %q", resp.TS)
	}
}

func TestAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer srv.Close()

	c := NewClient("xoxb-test", "xapp-test", srv.URL)
	_, err := c.PostMessage(context.Background(), PostMessageRequest{Channel: "C404"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Code != "channel_not_found" {
		t.Errorf("code = %q", apiErr.Code)
	}
}

func TestRateLimitRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1.2"})
	}))
	defer srv.Close()

	c := NewClient("xoxb-test", "xapp-test", srv.URL)
	resp, err := c.PostMessage(context.Background(), PostMessageRequest{Channel: "C1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TS != "1.2" {
		t.Errorf("ts = %q", resp.TS)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestConnectionsOpen_UsesAppToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer xapp-test" {
			t.Errorf("authorization = %q, want app token", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":  true,
			"url": "wss://example.com/link",
		})
	}))
	defer srv.Close()

	c := NewClient("xoxb-test", "xapp-test", srv.URL)
	resp, err := c.ConnectionsOpen(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.URL != "wss://example.com/link" {
		t.Errorf("url = %q", resp.URL)
	}
}
