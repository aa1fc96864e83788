package approval

import (
	"context"

	"github.com/approvd/approvd/internal/channel"
	"github.com/approvd/approvd/internal/metrics"
	"github.com/approvd/approvd/pkg/protocol"
)

// delivery is a resolved request detached from the registry maps, ready for
// fan-out. Once detached, no signal, connection event, or sweep can reach
// the entry again, which is what makes delivery exactly-once.
type delivery struct {
	entry *PendingRequest
	conns []ClientConn
	ref   string
}

// detachLocked removes an entry from every registry structure and snapshots
// what the multiplexer needs. Must be called with the registry lock held.
// Removing an already-removed entry is a no-op by construction: the entry is
// only reachable through the maps being cleared here.
func (r *Registry) detachLocked(entry *PendingRequest) delivery {
	delete(r.pending, entry.ID)
	r.dedup.remove(entry.Fingerprint, entry.ID)
	for _, c := range entry.conns {
		delete(r.byConn, c)
	}
	if r.metrics != nil {
		r.metrics.Pending.Set(float64(len(r.pending)))
	}
	return delivery{
		entry: entry,
		conns: entry.conns,
		ref:   entry.channelRef,
	}
}

// deliver writes the outcome to every attached connection, closes them,
// updates the published prompt, and records history. Per-connection write
// errors are contained: one broken client never blocks the others.
func (r *Registry) deliver(d delivery, outcome Outcome) {
	line := encodeReply(d.entry, outcome)

	for _, conn := range d.conns {
		r.replyAndClose(conn, line)
	}

	if r.metrics != nil {
		r.metrics.DecisionsTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
	}
	r.logger.Info("decision delivered",
		"request_id", d.entry.ID,
		"allow", outcome.Allow,
		"expired", outcome.Expired,
		"clients", len(d.conns),
	)

	// Prompt update and history are best-effort and independently
	// supervised; neither can delay or fail the reply already written.
	if d.ref != "" {
		go r.updatePrompt(d.ref, promptState(d.entry, outcome))
	}
	if rec := r.currentRecorder(); rec != nil {
		go r.record(rec, d.entry, outcome)
	}
}

// replyAndClose writes one reply line and closes the connection.
func (r *Registry) replyAndClose(conn ClientConn, line []byte) {
	if err := conn.WriteLine(line); err != nil {
		r.logger.Warn("reply write failed", "error", err)
	}
	_ = conn.Close()
}

// encodeReply formats the outcome into the kind-appropriate reply contract.
func encodeReply(entry *PendingRequest, outcome Outcome) []byte {
	switch entry.Kind {
	case protocol.KindQuestion:
		original := map[string]any{"questions": entry.Questions}
		return protocol.EncodeQuestionReply(outcome.Allow, outcome.Reason, original, outcome.Answers)
	default:
		return protocol.EncodeApprovalReply(outcome.Allow, outcome.Reason)
	}
}

// promptState maps an outcome to the visible terminal state of the prompt.
func promptState(entry *PendingRequest, outcome Outcome) channel.PromptState {
	state := channel.PromptState{Actor: outcome.Actor, Reason: outcome.Reason}
	switch {
	case outcome.Expired:
		state.Outcome = channel.PromptExpired
	case !outcome.Allow:
		state.Outcome = channel.PromptDenied
	case entry.Kind == protocol.KindQuestion:
		state.Outcome = channel.PromptAnswered
	default:
		state.Outcome = channel.PromptApproved
	}
	return state
}

// updatePrompt pushes a terminal state to the published prompt. Failures are
// logged and dropped: the local reply has already been sent and the platform
// message may be deleted or the session gone.
func (r *Registry) updatePrompt(ref string, state channel.PromptState) {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	if ch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()
	if err := ch.Update(ctx, ref, state); err != nil {
		r.logger.Warn("prompt update failed", "ref", ref, "error", err)
	}
}

func (r *Registry) currentRecorder() Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorder
}

// record appends the terminal outcome to the decision history.
func (r *Registry) record(rec Recorder, entry *PendingRequest, outcome Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	err := rec.Record(ctx, Record{
		RequestID:   entry.ID,
		Kind:        entry.Kind,
		SessionID:   entry.SessionID,
		ToolName:    entry.ToolName,
		Fingerprint: entry.Fingerprint,
		Allow:       outcome.Allow,
		Expired:     outcome.Expired,
		Reason:      outcome.Reason,
		Actor:       outcome.Actor,
		Answers:     outcome.Answers,
		CreatedAt:   entry.createdAt,
		ResolvedAt:  r.clock(),
	})
	if err != nil {
		r.logger.Warn("decision history write failed",
			"request_id", entry.ID, "error", err)
	}
}

func outcomeLabel(outcome Outcome) string {
	switch {
	case outcome.Expired:
		return metrics.OutcomeExpired
	case outcome.Allow:
		return metrics.OutcomeAllow
	default:
		return metrics.OutcomeDeny
	}
}
