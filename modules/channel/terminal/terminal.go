// Package terminal implements an interactive terminal decision channel,
// intended for local development where no Slack workspace is at hand.
// Prompts are answered one at a time through terminal forms.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/approvd/approvd/internal/channel"
	"github.com/approvd/approvd/internal/core"
	"github.com/approvd/approvd/pkg/protocol"
)

func init() {
	core.RegisterModule(&Terminal{})
}

// Compile-time interface guards.
var (
	_ channel.Channel   = (*Terminal)(nil)
	_ core.Configurable = (*Terminal)(nil)
	_ core.Provisioner  = (*Terminal)(nil)
	_ core.Starter      = (*Terminal)(nil)
	_ core.Stopper      = (*Terminal)(nil)
)

// Config holds the terminal channel configuration.
type Config struct {
	// Actor is the identity recorded for decisions made at the terminal.
	Actor string `yaml:"actor"`

	// QueueSize bounds the number of prompts waiting for the form. Publish
	// fails when the queue is full, which denies the request.
	QueueSize int `yaml:"queue_size"`
}

func (c *Config) defaults() {
	if c.Actor == "" {
		c.Actor = "terminal"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
}

// Terminal implements the terminal decision channel. Prompts queue up and
// are presented serially; a prompt resolved elsewhere (staleness sweep)
// before its turn is skipped.
type Terminal struct {
	config Config
	logger *slog.Logger
	sink   channel.SignalSink

	// ask presents one prompt and returns the resulting signals. Replaced
	// in tests; the default runs a huh form.
	ask func(ctx context.Context, prompt channel.Prompt) ([]channel.Signal, error)

	queue  chan channel.Prompt
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]bool // request ID -> still pending
}

// ModuleInfo implements core.Module.
func (t *Terminal) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "channel.terminal",
		New: func() core.Module { return &Terminal{} },
	}
}

// Configure implements core.Configurable.
func (t *Terminal) Configure(node *yaml.Node) error {
	if err := node.Decode(&t.config); err != nil {
		return fmt.Errorf("terminal: decode config: %w", err)
	}
	t.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (t *Terminal) Provision(ctx *core.AppContext) error {
	t.config.defaults()
	t.logger = ctx.Logger
	t.queue = make(chan channel.Prompt, t.config.QueueSize)
	t.active = make(map[string]bool)
	if t.ask == nil {
		t.ask = t.runForm
	}
	return nil
}

// SetSink implements channel.Channel.
func (t *Terminal) SetSink(sink channel.SignalSink) {
	t.sink = sink
}

// Start implements core.Starter.
func (t *Terminal) Start() error {
	if t.sink == nil {
		return errors.New("terminal: sink not set, call SetSink before Start")
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go t.loop(ctx)
	return nil
}

// Stop implements core.Stopper.
func (t *Terminal) Stop(_ context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}

// Publish implements channel.Channel. The ref is the request ID itself;
// there is no external message to point at.
func (t *Terminal) Publish(_ context.Context, prompt channel.Prompt) (string, error) {
	t.mu.Lock()
	t.active[prompt.RequestID] = true
	t.mu.Unlock()

	select {
	case t.queue <- prompt:
		return prompt.RequestID, nil
	default:
		t.mu.Lock()
		delete(t.active, prompt.RequestID)
		t.mu.Unlock()
		return "", fmt.Errorf("%w: prompt queue full", channel.ErrPublishFailed)
	}
}

// Update implements channel.Channel. Terminal prompts have no persistent
// surface to edit; the outcome is logged and the prompt is descheduled.
func (t *Terminal) Update(_ context.Context, ref string, state channel.PromptState) error {
	t.mu.Lock()
	known := t.active[ref]
	delete(t.active, ref)
	t.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", channel.ErrUnknownRef, ref)
	}

	t.logger.Info("request resolved",
		"request_id", ref,
		"outcome", string(state.Outcome),
		"reason", state.Reason,
	)
	return nil
}

// loop presents queued prompts one at a time.
func (t *Terminal) loop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case prompt := <-t.queue:
			t.mu.Lock()
			pending := t.active[prompt.RequestID]
			t.mu.Unlock()
			if !pending {
				continue
			}

			signals, err := t.ask(ctx, prompt)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Warn("prompt form failed", "request_id", prompt.RequestID, "error", err)
				continue
			}
			for _, sig := range signals {
				t.sink.RecordSignal(prompt.RequestID, sig)
			}
		}
	}
}

// runForm presents one prompt as a huh form and converts the result into
// decision signals.
func (t *Terminal) runForm(ctx context.Context, prompt channel.Prompt) ([]channel.Signal, error) {
	if prompt.Kind == protocol.KindQuestion {
		return t.runQuestionForm(ctx, prompt)
	}
	return t.runApprovalForm(ctx, prompt)
}
