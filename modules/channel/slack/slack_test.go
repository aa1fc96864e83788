package slack

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/approvd/approvd/internal/channel"
)

// recordingSink collects signals delivered to the registry.
type recordingSink struct {
	mu      sync.Mutex
	signals []struct {
		requestID string
		sig       channel.Signal
	}
}

func (r *recordingSink) RecordSignal(requestID string, sig channel.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, struct {
		requestID string
		sig       channel.Signal
	}{requestID, sig})
}

func (r *recordingSink) last(t *testing.T) (string, channel.Signal) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.signals) == 0 {
		t.Fatal("no signals recorded")
	}
	s := r.signals[len(r.signals)-1]
	return s.requestID, s.sig
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

// newTestSlack builds a module pointed at a fake Web API.
func newTestSlack(t *testing.T, handler http.HandlerFunc) (*Slack, *recordingSink) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := &Slack{
		config: Config{
			AppToken:  "xapp-test",
			BotToken:  "xoxb-test",
			ChannelID: "C0123",
			APIURL:    srv.URL,
		},
		logger:  slog.New(slog.DiscardHandler),
		prompts: make(map[string]channel.Prompt),
		byReq:   make(map[string]string),
	}
	s.config.defaults()
	s.client = NewClient(s.config.BotToken, s.config.AppToken, s.config.APIURL)

	sink := &recordingSink{}
	s.SetSink(sink)
	return s, sink
}

func TestPublishAndUpdate(t *testing.T) {
	t.Parallel()

	var updated UpdateMessageRequest
	s, _ := newTestSlack(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat.postMessage":
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700.1"})
		case "/chat.update":
			if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
				t.Errorf("decode update: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		default:
			t.Errorf("unexpected call: %s", r.URL.Path)
		}
	})

	ref, err := s.Publish(context.Background(), approvalPrompt())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ref != "1700.1" {
		t.Errorf("ref = %q", ref)
	}

	if err := s.Update(context.Background(), ref, channel.PromptState{
		Outcome: channel.PromptApproved,
		Actor:   "U1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.TS != "1700.1" {
		t.Errorf("update ts = %q", updated.TS)
	}
	if ids := collectActionIDs(updated.Blocks); len(ids) != 0 {
		t.Errorf("resolved message still has buttons: %v", ids)
	}
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()

	s, _ := newTestSlack(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	})

	_, err := s.Publish(context.Background(), approvalPrompt())
	if !errors.Is(err, channel.ErrPublishFailed) {
		t.Errorf("error = %v, want ErrPublishFailed", err)
	}
}

func TestUpdate_UnknownRef(t *testing.T) {
	t.Parallel()

	s, _ := newTestSlack(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	err := s.Update(context.Background(), "1999.9", channel.PromptState{Outcome: channel.PromptExpired})
	if !errors.Is(err, channel.ErrUnknownRef) {
		t.Errorf("error = %v, want ErrUnknownRef", err)
	}
}

func TestHandleEnvelope_ButtonRoutesDirectly(t *testing.T) {
	t.Parallel()

	s, sink := newTestSlack(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700.1"})
	})

	s.handleEnvelope(interactiveEnvelope(t, "U1", "deny:req-7"))

	requestID, sig := sink.last(t)
	if requestID != "req-7" {
		t.Errorf("request ID = %q", requestID)
	}
	if sig.Kind != channel.SignalDeny {
		t.Errorf("kind = %v", sig.Kind)
	}
}

func TestHandleEnvelope_ReactionRoutesThroughTS(t *testing.T) {
	t.Parallel()

	s, sink := newTestSlack(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700.1"})
	})

	if _, err := s.Publish(context.Background(), approvalPrompt()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	s.handleEnvelope(eventEnvelope(t, map[string]any{
		"type":     "reaction_added",
		"user":     "U1",
		"reaction": "+1",
		"item": map[string]any{
			"type":    "message",
			"channel": "C0123",
			"ts":      "1700.1",
		},
	}))

	requestID, sig := sink.last(t)
	if requestID != "req-1" {
		t.Errorf("request ID = %q, want req-1", requestID)
	}
	if sig.Kind != channel.SignalApprove {
		t.Errorf("kind = %v", sig.Kind)
	}
}

func TestHandleEnvelope_ReactionOnUnknownMessageIgnored(t *testing.T) {
	t.Parallel()

	s, sink := newTestSlack(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700.1"})
	})

	s.handleEnvelope(eventEnvelope(t, map[string]any{
		"type":     "reaction_added",
		"user":     "U1",
		"reaction": "+1",
		"item": map[string]any{
			"type":    "message",
			"channel": "C0123",
			"ts":      "1234.5",
		},
	}))

	if sink.count() != 0 {
		t.Error("signal recorded for unknown message")
	}
}

func TestUpdate_StopsRoutingForResolvedPrompt(t *testing.T) {
	t.Parallel()

	s, sink := newTestSlack(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1700.1"})
	})

	if _, err := s.Publish(context.Background(), approvalPrompt()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := s.Update(context.Background(), "1700.1", channel.PromptState{Outcome: channel.PromptApproved}); err != nil {
		t.Fatalf("update: %v", err)
	}

	s.handleEnvelope(eventEnvelope(t, map[string]any{
		"type":     "reaction_added",
		"user":     "U1",
		"reaction": "+1",
		"item": map[string]any{
			"type":    "message",
			"channel": "C0123",
			"ts":      "1700.1",
		},
	}))

	if sink.count() != 0 {
		t.Error("late reaction on resolved prompt still routed")
	}
}
