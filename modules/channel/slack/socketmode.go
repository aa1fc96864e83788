package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/approvd/approvd/internal/channel"
)

// Emoji vocabulary for reaction decisions. Reaction names arrive without
// the surrounding colons.
var (
	approveReactions = map[string]bool{
		"+1":               true,
		"thumbsup":         true,
		"white_check_mark": true,
		"heavy_check_mark": true,
	}
	denyReactions = map[string]bool{
		"-1":         true,
		"thumbsdown": true,
		"x":          true,
		"no_entry":   true,
	}
)

// envelope is one Socket Mode frame.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// ack is the acknowledgement Slack expects for every envelope that
// carries an envelope_id.
type ack struct {
	EnvelopeID string `json:"envelope_id"`
}

// blockActionsPayload is the interactive payload for button clicks.
type blockActionsPayload struct {
	Type string `json:"type"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
	} `json:"actions"`
}

// eventsAPIPayload wraps Events API deliveries (reactions, messages).
type eventsAPIPayload struct {
	Event struct {
		Type     string `json:"type"`
		User     string `json:"user"`
		Reaction string `json:"reaction"`
		Item     struct {
			Type    string `json:"type"`
			Channel string `json:"channel"`
			TS      string `json:"ts"`
		} `json:"item"`

		// Message fields.
		Text     string `json:"text"`
		Channel  string `json:"channel"`
		ThreadTS string `json:"thread_ts"`
		BotID    string `json:"bot_id"`
	} `json:"event"`
}

// socketMode maintains the Socket Mode connection: it requests a WebSocket
// URL, reads envelopes, acks them, and translates decisions into signals.
// On any read or dial error it reconnects with exponential backoff until
// its context is cancelled.
type socketMode struct {
	client *Client
	logger *slog.Logger
	config *Config

	// handle receives every decoded envelope.
	handle func(env envelope)

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn *websocket.Conn
}

func newSocketMode(client *Client, cfg *Config, logger *slog.Logger, handle func(envelope)) *socketMode {
	return &socketMode{
		client: client,
		config: cfg,
		logger: logger,
		handle: handle,
	}
}

// Start launches the connection loop in a goroutine.
func (s *socketMode) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop tears down the connection and waits for the loop to exit.
func (s *socketMode) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *socketMode) run(ctx context.Context) {
	defer s.wg.Done()

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("socket mode connection lost, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, s.config.ReconnectMax)
	}
}

// connectAndRead opens one Socket Mode connection and reads envelopes until
// an error or a server-initiated disconnect.
func (s *socketMode) connectAndRead(ctx context.Context) error {
	open, err := s.client.ConnectionsOpen(ctx)
	if err != nil {
		return fmt.Errorf("slack: apps.connections.open: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, open.URL, nil)
	if err != nil {
		return fmt.Errorf("slack: dial socket mode: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Prompts are small; the default read limit only hurts on busy
	// channels with large tool inputs echoed back.
	conn.SetReadLimit(1 << 20)

	s.logger.Info("socket mode connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("socket mode: bad envelope", "error", err)
			continue
		}

		if env.EnvelopeID != "" {
			ackData, _ := json.Marshal(ack{EnvelopeID: env.EnvelopeID})
			if err := conn.Write(ctx, websocket.MessageText, ackData); err != nil {
				return err
			}
		}

		switch env.Type {
		case "hello":
			// Connection established; nothing to do.
		case "disconnect":
			// Slack asks clients to reconnect (deploys, link refresh).
			s.logger.Debug("socket mode: server requested reconnect")
			return nil
		default:
			s.handle(env)
		}
	}
}

// parseEnvelope turns one envelope into a routed signal. The second result
// carries the routing key: a request ID for block actions, a message
// timestamp for reactions and thread replies.
func parseEnvelope(env envelope, cfg *Config) (sig channel.Signal, requestID, ts string, ok bool) {
	switch env.Type {
	case "interactive":
		var payload blockActionsPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return channel.Signal{}, "", "", false
		}
		if payload.Type != "block_actions" || len(payload.Actions) == 0 {
			return channel.Signal{}, "", "", false
		}
		if !cfg.userAllowed(payload.User.ID) {
			return channel.Signal{}, "", "", false
		}
		requestID, sig, ok = parseActionID(payload.Actions[0].ActionID, payload.User.ID)
		return sig, requestID, "", ok

	case "events_api":
		var payload eventsAPIPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return channel.Signal{}, "", "", false
		}
		ev := payload.Event

		switch ev.Type {
		case "reaction_added":
			if ev.Item.Type != "message" || ev.Item.Channel != cfg.ChannelID {
				return channel.Signal{}, "", "", false
			}
			if !cfg.userAllowed(ev.User) {
				return channel.Signal{}, "", "", false
			}
			switch {
			case approveReactions[ev.Reaction]:
				return channel.Signal{Kind: channel.SignalApprove, Actor: ev.User}, "", ev.Item.TS, true
			case denyReactions[ev.Reaction]:
				return channel.Signal{Kind: channel.SignalDeny, Actor: ev.User}, "", ev.Item.TS, true
			}
			return channel.Signal{}, "", "", false

		case "message":
			// Thread replies on a prompt may carry a free-text decision.
			if ev.BotID != "" || ev.ThreadTS == "" || ev.Channel != cfg.ChannelID {
				return channel.Signal{}, "", "", false
			}
			if !cfg.userAllowed(ev.User) {
				return channel.Signal{}, "", "", false
			}
			sig, ok := channel.ParseText(ev.Text, ev.User)
			return sig, "", ev.ThreadTS, ok
		}
	}
	return channel.Signal{}, "", "", false
}
