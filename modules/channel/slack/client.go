// Package slack implements the Slack decision channel. Prompts are posted
// to a channel as Block Kit messages over the Web API; decisions come back
// through Socket Mode as button clicks, emoji reactions, and thread replies.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries       = 3
	initialBackoff   = time.Second
	maxResponseBytes = 10 << 20 // cap on API response bodies
)

// Client is a thin HTTP wrapper around the Slack Web API.
type Client struct {
	botToken string
	appToken string
	baseURL  string
	http     *http.Client
}

// NewClient creates a new Slack Web API client.
func NewClient(botToken, appToken, baseURL string) *Client {
	return &Client{
		botToken: botToken,
		appToken: appToken,
		baseURL:  baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// APIError is a Slack Web API error response (ok=false).
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack: %s failed: %s", e.Method, e.Code)
}

// apiEnvelope is the common part of every Web API response. Slack inlines
// method results next to these fields rather than nesting them.
type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// do sends a JSON POST request to the given Web API method and decodes the
// response. It handles 429 rate limiting with Retry-After (max 3 retries,
// exponential backoff).
func do[T any](ctx context.Context, c *Client, token, method string, payload any) (*T, error) {
	url := c.baseURL + "/" + method

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("slack: marshal %s request: %w", method, err)
		}
	}

	backoff := initialBackoff

	for attempt := range maxRetries {
		var body io.Reader
		if data != nil {
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return nil, fmt.Errorf("slack: create %s request: %w", method, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json; charset=utf-8")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("slack: %s request failed: %w", method, err)
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("slack: read %s response: %w", method, err)
		}

		// Handle rate limiting with retry.
		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries-1 {
			if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && ra > 0 {
				backoff = time.Duration(ra) * time.Second
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			continue
		}

		var env apiEnvelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			return nil, fmt.Errorf("slack: decode %s response: %w", method, err)
		}
		if !env.OK {
			return nil, &APIError{Method: method, Code: env.Error}
		}

		// Result fields live beside ok/error in the same object.
		var result T
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("slack: decode %s result: %w", method, err)
		}
		return &result, nil
	}

	return nil, fmt.Errorf("slack: %s: max retries exceeded", method)
}

// AuthTestResponse is the result of the auth.test method.
type AuthTestResponse struct {
	URL    string `json:"url"`
	Team   string `json:"team"`
	User   string `json:"user"`
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
}

// AuthTest validates the bot token and returns the bot's identity.
func (c *Client) AuthTest(ctx context.Context) (*AuthTestResponse, error) {
	return do[AuthTestResponse](ctx, c, c.botToken, "auth.test", nil)
}

// PostMessageRequest is the request body for the chat.postMessage method.
type PostMessageRequest struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

// PostMessageResponse is the result of the chat.postMessage method.
type PostMessageResponse struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// PostMessage posts a message and returns its channel and timestamp.
func (c *Client) PostMessage(ctx context.Context, req PostMessageRequest) (*PostMessageResponse, error) {
	return do[PostMessageResponse](ctx, c, c.botToken, "chat.postMessage", req)
}

// UpdateMessageRequest is the request body for the chat.update method.
type UpdateMessageRequest struct {
	Channel string  `json:"channel"`
	TS      string  `json:"ts"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks,omitempty"`
}

// UpdateMessage replaces the content of a previously posted message.
func (c *Client) UpdateMessage(ctx context.Context, req UpdateMessageRequest) error {
	_, err := do[apiEnvelope](ctx, c, c.botToken, "chat.update", req)
	return err
}

// ConnectionsOpenResponse is the result of the apps.connections.open method.
type ConnectionsOpenResponse struct {
	URL string `json:"url"`
}

// ConnectionsOpen requests a fresh Socket Mode WebSocket URL. This is the
// one method authenticated with the app-level token.
func (c *Client) ConnectionsOpen(ctx context.Context) (*ConnectionsOpenResponse, error) {
	return do[ConnectionsOpenResponse](ctx, c, c.appToken, "apps.connections.open", nil)
}
