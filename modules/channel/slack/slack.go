package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/approvd/approvd/internal/channel"
	"github.com/approvd/approvd/internal/core"
)

func init() {
	core.RegisterModule(&Slack{})
}

// Compile-time interface guards.
var (
	_ channel.Channel   = (*Slack)(nil)
	_ core.Configurable = (*Slack)(nil)
	_ core.Provisioner  = (*Slack)(nil)
	_ core.Validator    = (*Slack)(nil)
	_ core.Starter      = (*Slack)(nil)
	_ core.Stopper      = (*Slack)(nil)
)

// Slack implements the Slack decision channel.
type Slack struct {
	config Config
	client *Client
	logger *slog.Logger
	sink   channel.SignalSink
	socket *socketMode

	// prompts maps message timestamps to published prompts so reactions
	// and thread replies route to the right request, and Update can
	// re-render the original content.
	mu      sync.Mutex
	prompts map[string]channel.Prompt
	byReq   map[string]string // request ID -> ts
}

// ModuleInfo implements core.Module.
func (s *Slack) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "channel.slack",
		New: func() core.Module { return &Slack{} },
	}
}

// Configure implements core.Configurable.
func (s *Slack) Configure(node *yaml.Node) error {
	if err := node.Decode(&s.config); err != nil {
		return fmt.Errorf("slack: decode config: %w", err)
	}
	s.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (s *Slack) Provision(ctx *core.AppContext) error {
	s.logger = ctx.Logger
	s.client = NewClient(s.config.BotToken, s.config.AppToken, s.config.APIURL)
	s.prompts = make(map[string]channel.Prompt)
	s.byReq = make(map[string]string)
	return nil
}

// Validate implements core.Validator.
func (s *Slack) Validate() error {
	return s.config.validate()
}

// Start implements core.Starter. It validates the bot token, then opens
// the Socket Mode connection.
func (s *Slack) Start() error {
	if s.sink == nil {
		return errors.New("slack: sink not set, call SetSink before Start")
	}

	auth, err := s.client.AuthTest(context.Background())
	if err != nil {
		return fmt.Errorf("slack: auth.test failed (check bot_token): %w", err)
	}
	s.logger.Info("slack bot authenticated",
		"team", auth.Team,
		"user", auth.User,
	)

	s.socket = newSocketMode(s.client, &s.config, s.logger, s.handleEnvelope)
	s.socket.Start()
	return nil
}

// Stop implements core.Stopper.
func (s *Slack) Stop(_ context.Context) error {
	s.logger.Info("slack channel stopping")
	if s.socket != nil {
		s.socket.Stop()
	}
	return nil
}

// SetSink implements channel.Channel.
func (s *Slack) SetSink(sink channel.SignalSink) {
	s.sink = sink
}

// Publish implements channel.Channel. The returned ref is the message
// timestamp Slack assigned.
func (s *Slack) Publish(ctx context.Context, prompt channel.Prompt) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("%w: %w", channel.ErrPublishFailed, channel.ErrNotConnected)
	}
	resp, err := s.client.PostMessage(ctx, PostMessageRequest{
		Channel: s.config.ChannelID,
		Text:    fallbackText(prompt),
		Blocks:  promptBlocks(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", channel.ErrPublishFailed, err)
	}

	s.mu.Lock()
	s.prompts[resp.TS] = prompt
	s.byReq[prompt.RequestID] = resp.TS
	s.mu.Unlock()

	return resp.TS, nil
}

// Update implements channel.Channel. Terminal states drop the prompt from
// the routing tables; late reactions on a resolved message go nowhere.
func (s *Slack) Update(ctx context.Context, ref string, state channel.PromptState) error {
	s.mu.Lock()
	prompt, ok := s.prompts[ref]
	if ok {
		delete(s.prompts, ref)
		delete(s.byReq, prompt.RequestID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", channel.ErrUnknownRef, ref)
	}

	if err := s.client.UpdateMessage(ctx, UpdateMessageRequest{
		Channel: s.config.ChannelID,
		TS:      ref,
		Text:    fallbackText(prompt),
		Blocks:  resolvedBlocks(prompt, state),
	}); err != nil {
		return fmt.Errorf("slack: update prompt %s: %w", prompt.RequestID, err)
	}
	return nil
}

// handleEnvelope routes one Socket Mode envelope to the registry.
func (s *Slack) handleEnvelope(env envelope) {
	sig, requestID, ts, ok := parseEnvelope(env, &s.config)
	if !ok {
		return
	}

	if requestID == "" {
		// Reaction or thread reply: resolve the timestamp.
		s.mu.Lock()
		prompt, found := s.prompts[ts]
		s.mu.Unlock()
		if !found {
			return
		}
		requestID = prompt.RequestID
	}

	s.logger.Debug("slack signal",
		"request_id", requestID,
		"actor", sig.Actor,
	)
	s.sink.RecordSignal(requestID, sig)
}
