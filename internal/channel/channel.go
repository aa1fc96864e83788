// Package channel defines the boundary between the approval registry and the
// external surface where a human sees prompts and makes decisions. A concrete
// channel (Slack, terminal, ...) publishes prompts, mutates their visible
// state, and feeds human signals back to the registry.
package channel

import (
	"context"

	"github.com/approvd/approvd/internal/core"
	"github.com/approvd/approvd/pkg/protocol"
)

// Prompt is everything a channel needs to render one pending decision.
type Prompt struct {
	// RequestID identifies the pending request; signals reference it.
	RequestID string

	// Kind selects between the approval and question layout.
	Kind protocol.Kind

	// SessionID is surfaced so the human can tell agents apart.
	SessionID string

	// Approval fields.
	ToolName  string
	ToolInput map[string]any

	// Question fields.
	Questions []protocol.Question
}

// Outcome values shown on a prompt after it leaves the pending state.
type PromptOutcome string

const (
	PromptApproved PromptOutcome = "approved"
	PromptDenied   PromptOutcome = "denied"
	PromptAnswered PromptOutcome = "answered"
	PromptExpired  PromptOutcome = "expired"
)

// PromptState is the terminal visible state pushed to a published prompt.
type PromptState struct {
	Outcome PromptOutcome

	// Actor is the platform identity of the human who decided, if known.
	Actor string

	// Reason is an optional human-supplied explanation (deny reason).
	Reason string
}

// SignalSink receives human decision signals from a channel. The registry
// implements it. Signals referencing unknown request IDs are ignored by the
// receiver, so channels can deliver stale clicks safely.
type SignalSink interface {
	RecordSignal(requestID string, sig Signal)
}

// Channel is implemented by decision channel modules. The registry calls
// Publish and Update; the channel calls the sink when a human decides.
//
// Publish and Update are best-effort from the registry's point of view:
// Publish failure denies the originating request (fail-closed) and Update
// failure is logged and ignored.
type Channel interface {
	core.Module

	// Publish posts a prompt and returns an opaque reference to the
	// published message, used for later Update calls and signal routing.
	Publish(ctx context.Context, prompt Prompt) (ref string, err error)

	// Update replaces the visible state of a previously published prompt.
	Update(ctx context.Context, ref string, state PromptState) error

	// SetSink gives the channel the registry's signal sink. Called during
	// wiring, before Start().
	SetSink(sink SignalSink)
}
