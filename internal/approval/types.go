// Package approval implements the pending-request registry: the in-memory
// state machine that deduplicates decision requests, remembers session-scoped
// approvals, collects human signals, and delivers each terminal outcome
// exactly once to every attached client connection.
package approval

import (
	"context"
	"time"

	"github.com/approvd/approvd/pkg/protocol"
)

// ClientConn is the registry's view of one attached client connection. The
// gateway owns the underlying socket; the registry only writes the final
// reply line and closes.
type ClientConn interface {
	// WriteLine writes one newline-terminated reply line.
	WriteLine(line []byte) error

	// Close closes the connection. Closing twice is harmless.
	Close() error
}

// PendingRequest is one outstanding decision, from creation until a terminal
// signal or staleness eviction removes it. All fields are guarded by the
// registry mutex.
type PendingRequest struct {
	ID          string
	Kind        protocol.Kind
	SessionID   string
	Fingerprint string

	ToolName  string
	ToolInput map[string]any
	Questions []protocol.Question

	// conns are the attached client connections, original first.
	conns []ClientConn

	// channelRef is the published prompt handle, empty until publish
	// returns (and forever for requests that fail to publish).
	channelRef string

	// answers tracks option selections for question requests.
	answers *answerState

	// unreachable is set when the last connection drops before resolution.
	unreachable bool

	createdAt time.Time
}

// Outcome is a terminal decision ready for delivery to attached connections.
type Outcome struct {
	Allow  bool
	Reason string
	Actor  string

	// Answers maps question text to the chosen label(s), multi-select
	// labels joined by ", ". Nil for approval requests.
	Answers map[string]string

	// Expired marks outcomes produced by staleness eviction rather than a
	// human decision.
	Expired bool
}

// Record is one terminal outcome handed to the history recorder.
type Record struct {
	RequestID   string            `json:"request_id"`
	Kind        protocol.Kind     `json:"kind"`
	SessionID   string            `json:"session_id"`
	ToolName    string            `json:"tool_name,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Allow       bool              `json:"allow"`
	Expired     bool              `json:"expired,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Actor       string            `json:"actor,omitempty"`
	Answers     map[string]string `json:"answers,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ResolvedAt  time.Time         `json:"resolved_at"`
}

// Recorder persists terminal outcomes for audit. Implementations must treat
// Record as best-effort; the registry logs and ignores failures.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}
