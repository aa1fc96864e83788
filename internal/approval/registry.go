package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/approvd/approvd/internal/channel"
	"github.com/approvd/approvd/internal/metrics"
	"github.com/approvd/approvd/internal/tracing"
	"github.com/approvd/approvd/pkg/protocol"
)

// Default policy windows. The dedup window collapses duplicate submissions;
// the stale threshold is the hard backstop for abandoned requests.
const (
	DefaultDedupWindow = 30 * time.Second
	DefaultStaleAfter  = 2 * time.Hour
)

// updateTimeout bounds best-effort prompt updates after resolution.
const updateTimeout = 10 * time.Second

// Params configures a Registry. Channel is required before the first Submit;
// everything else has a usable default.
type Params struct {
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Recorder    Recorder
	DedupWindow time.Duration
	StaleAfter  time.Duration

	// Clock and NewID exist for tests.
	Clock func() time.Time
	NewID func() string
}

// Registry is the authoritative table of outstanding decisions. It owns the
// pending map, the dedup index, and the session approval cache; every
// mutation is serialized behind one mutex. Connection handling code never
// touches those structures directly.
type Registry struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	dedupWindow time.Duration
	staleAfter  time.Duration
	clock       func() time.Time
	newID       func() string

	mu       sync.Mutex
	pending  map[string]*PendingRequest
	byConn   map[ClientConn]string
	dedup    *dedupIndex
	cache    *sessionCache
	ch       channel.Channel
	recorder Recorder
}

// New creates an empty Registry.
func New(p Params) *Registry {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.DedupWindow <= 0 {
		p.DedupWindow = DefaultDedupWindow
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = DefaultStaleAfter
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.NewID == nil {
		p.NewID = uuid.NewString
	}
	return &Registry{
		logger:      p.Logger,
		metrics:     p.Metrics,
		dedupWindow: p.DedupWindow,
		staleAfter:  p.StaleAfter,
		clock:       p.Clock,
		newID:       p.NewID,
		pending:     make(map[string]*PendingRequest),
		byConn:      make(map[ClientConn]string),
		dedup:       newDedupIndex(p.DedupWindow),
		cache:       newSessionCache(),
		recorder:    p.Recorder,
	}
}

// SetChannel wires the decision channel. Called once during app wiring,
// before the gateway starts accepting connections.
func (r *Registry) SetChannel(ch channel.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ch = ch
}

// SetRecorder wires the optional decision history recorder.
func (r *Registry) SetRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// Submit routes one decoded client request. Exactly one of four things
// happens: the connection attaches to an already-pending identical request;
// the session approval cache grants an immediate allow; a new request is
// created and its prompt published; or publishing fails and the connection
// receives a deny (fail-closed).
func (r *Registry) Submit(ctx context.Context, req protocol.Request, conn ClientConn) {
	ctx, span := tracing.StartSpan(ctx, "approval.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.kind", string(req.Kind)),
		attribute.String("request.session", req.SessionID),
	)

	fp := Fingerprint(req)
	now := r.clock()

	r.mu.Lock()
	if r.metrics != nil {
		r.metrics.RequestsTotal.WithLabelValues(string(req.Kind)).Inc()
	}

	// Duplicate of an in-flight request: attach and wait for its decision.
	if id, ok := r.dedup.lookup(fp, now); ok {
		if entry, live := r.pending[id]; live {
			entry.conns = append(entry.conns, conn)
			entry.unreachable = false
			r.byConn[conn] = id
			if r.metrics != nil {
				r.metrics.DedupHitsTotal.Inc()
			}
			r.mu.Unlock()
			r.logger.Debug("duplicate request attached",
				"request_id", id, "fingerprint", fp[:12])
			return
		}
		r.dedup.remove(fp, id)
	}

	// Session cache: a previously approved identical action skips the human.
	if req.Kind == protocol.KindApproval && r.cache.hit(req.SessionID, fp) {
		if r.metrics != nil {
			r.metrics.CacheHitsTotal.Inc()
		}
		r.mu.Unlock()
		r.logger.Info("auto-approved from session cache",
			"session", req.SessionID, "tool", req.ToolName)
		r.replyAndClose(conn, protocol.EncodeApprovalReply(true, "approved earlier in this session"))
		return
	}

	entry := &PendingRequest{
		ID:          r.newID(),
		Kind:        req.Kind,
		SessionID:   req.SessionID,
		Fingerprint: fp,
		ToolName:    req.ToolName,
		ToolInput:   req.ToolInput,
		Questions:   req.Questions,
		conns:       []ClientConn{conn},
		createdAt:   now,
	}
	if req.Kind == protocol.KindQuestion {
		entry.answers = newAnswerState(req.Questions)
	}
	r.pending[entry.ID] = entry
	r.byConn[conn] = entry.ID
	r.dedup.put(fp, entry.ID, now)
	if r.metrics != nil {
		r.metrics.Pending.Set(float64(len(r.pending)))
	}
	ch := r.ch
	r.mu.Unlock()

	span.SetAttributes(attribute.String("request.id", entry.ID))
	r.logger.Info("request pending",
		"request_id", entry.ID,
		"kind", string(entry.Kind),
		"session", entry.SessionID,
		"tool", entry.ToolName,
	)

	// Publish outside the lock: the channel does network I/O. A duplicate
	// submission may attach meanwhile, which is fine.
	if ch == nil {
		r.logger.Error("no decision channel wired, denying request", "request_id", entry.ID)
		r.failClosed(entry.ID, "no decision channel available")
		return
	}

	ref, err := ch.Publish(ctx, channel.Prompt{
		RequestID: entry.ID,
		Kind:      entry.Kind,
		SessionID: entry.SessionID,
		ToolName:  entry.ToolName,
		ToolInput: entry.ToolInput,
		Questions: entry.Questions,
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.PublishFailuresTotal.Inc()
		}
		span.RecordError(err)
		r.logger.Error("prompt publish failed, denying",
			"request_id", entry.ID, "error", err)
		r.failClosed(entry.ID, "could not reach the approval channel")
		return
	}

	r.mu.Lock()
	// The entry can be gone already if every connection dropped and the
	// sweep ran between publish and now; the ref is then only needed to
	// mark the orphaned prompt expired.
	if live, ok := r.pending[entry.ID]; ok {
		live.channelRef = ref
	} else {
		go r.updatePrompt(ref, channel.PromptState{Outcome: channel.PromptExpired})
	}
	r.mu.Unlock()
}

// RecordSignal applies one human signal to a pending request. Signals for
// unknown (already resolved or evicted) request IDs are silently ignored:
// the channel UI may deliver a stale click long after resolution. Implements
// channel.SignalSink.
func (r *Registry) RecordSignal(requestID string, sig channel.Signal) {
	r.mu.Lock()
	entry, ok := r.pending[requestID]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("signal for unknown request ignored", "request_id", requestID)
		return
	}

	outcome, terminal := r.applySignal(entry, sig)
	if !terminal {
		r.mu.Unlock()
		return
	}

	delivery := r.detachLocked(entry)
	r.mu.Unlock()

	r.deliver(delivery, outcome)
}

// applySignal advances the request's state under the registry lock and
// reports whether the signal was terminal. The first terminal signal wins;
// callers remove the entry before releasing the lock, so a second one finds
// nothing to resolve.
func (r *Registry) applySignal(entry *PendingRequest, sig channel.Signal) (Outcome, bool) {
	switch entry.Kind {
	case protocol.KindApproval:
		switch sig.Kind {
		case channel.SignalApprove:
			r.cache.approve(entry.SessionID, entry.Fingerprint)
			return Outcome{Allow: true, Actor: sig.Actor}, true
		case channel.SignalDeny:
			return Outcome{Allow: false, Reason: sig.Reason, Actor: sig.Actor}, true
		}
		return Outcome{}, false

	case protocol.KindQuestion:
		switch sig.Kind {
		case channel.SignalDeny:
			return Outcome{Allow: false, Reason: sig.Reason, Actor: sig.Actor}, true
		case channel.SignalOption:
			entry.answers.apply(sig.Question, sig.Label)
		case channel.SignalConfirm, channel.SignalApprove:
			entry.answers.confirm()
		}
		if entry.answers.complete() {
			return Outcome{
				Allow:   true,
				Actor:   sig.Actor,
				Answers: entry.answers.answers(),
			}, true
		}
		return Outcome{}, false
	}
	return Outcome{}, false
}

// OnConnectionClosed detaches a dropped connection. The request itself stays
// pending, since duplicates may still be attached and the human decision may
// still arrive for them. Once no connection remains the reply has nowhere to
// go, so the prompt is marked expired while the entry waits for the sweep.
func (r *Registry) OnConnectionClosed(conn ClientConn) {
	r.mu.Lock()
	id, ok := r.byConn[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, conn)

	entry, live := r.pending[id]
	if !live {
		r.mu.Unlock()
		return
	}
	for i, c := range entry.conns {
		if c == conn {
			entry.conns = append(entry.conns[:i], entry.conns[i+1:]...)
			break
		}
	}
	orphaned := len(entry.conns) == 0 && !entry.unreachable
	if orphaned {
		entry.unreachable = true
	}
	ref := entry.channelRef
	r.mu.Unlock()

	if orphaned {
		r.logger.Warn("request unreachable, all clients disconnected",
			"request_id", id)
		if ref != "" {
			go r.updatePrompt(ref, channel.PromptState{Outcome: channel.PromptExpired})
		}
	}
}

// Sweep evicts pending requests older than the stale threshold and expired
// dedup entries, regardless of connection state. Evicted requests deny any
// still-attached connections.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	var stale []delivery
	for _, entry := range r.pending {
		if now.Sub(entry.createdAt) > r.staleAfter {
			stale = append(stale, r.detachLocked(entry))
		}
	}
	r.dedup.evict(now)
	r.mu.Unlock()

	for _, d := range stale {
		r.logger.Warn("stale request evicted",
			"request_id", d.entry.ID, "age", now.Sub(d.entry.createdAt))
		r.deliver(d, Outcome{
			Allow:   false,
			Reason:  "request expired before a decision was made",
			Expired: true,
		})
	}
}

// failClosed denies a request whose prompt never reached the channel.
func (r *Registry) failClosed(requestID, reason string) {
	r.mu.Lock()
	entry, ok := r.pending[requestID]
	if !ok {
		r.mu.Unlock()
		return
	}
	d := r.detachLocked(entry)
	r.mu.Unlock()

	r.deliver(d, Outcome{Allow: false, Reason: reason})
}

// Stats is a point-in-time view for the admin surface.
type Stats struct {
	Pending        int `json:"pending"`
	CachedSessions int `json:"cached_sessions"`
	CachedGrants   int `json:"cached_grants"`
}

// Snapshot returns current registry statistics.
func (r *Registry) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Pending:        len(r.pending),
		CachedSessions: r.cache.sessions(),
		CachedGrants:   r.cache.size(),
	}
}
