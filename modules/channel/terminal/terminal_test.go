package terminal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/approvd/approvd/internal/channel"
	"github.com/approvd/approvd/pkg/protocol"
)

type recordingSink struct {
	mu      sync.Mutex
	signals []channel.Signal
	byReq   map[string][]channel.Signal
	notify  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		byReq:  make(map[string][]channel.Signal),
		notify: make(chan struct{}, 64),
	}
}

func (r *recordingSink) RecordSignal(requestID string, sig channel.Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, sig)
	r.byReq[requestID] = append(r.byReq[requestID], sig)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recordingSink) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		got := len(r.signals)
		r.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d signals, got %d", n, got)
		}
	}
}

func newTestTerminal(t *testing.T, ask func(context.Context, channel.Prompt) ([]channel.Signal, error)) (*Terminal, *recordingSink) {
	return newTestTerminalQueue(t, 0, ask)
}

func newTestTerminalQueue(t *testing.T, queueSize int, ask func(context.Context, channel.Prompt) ([]channel.Signal, error)) (*Terminal, *recordingSink) {
	t.Helper()
	term := &Terminal{
		logger: slog.New(slog.DiscardHandler),
		ask:    ask,
	}
	term.config.QueueSize = queueSize
	term.config.defaults()
	term.queue = make(chan channel.Prompt, term.config.QueueSize)
	term.active = make(map[string]bool)

	sink := newRecordingSink()
	term.SetSink(sink)
	if err := term.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = term.Stop(context.Background()) })
	return term, sink
}

func approvalPrompt(id string) channel.Prompt {
	return channel.Prompt{
		RequestID: id,
		Kind:      protocol.KindApproval,
		SessionID: "sess-1",
		ToolName:  "Bash",
	}
}

func TestPublishRunsFormAndRoutesSignals(t *testing.T) {
	t.Parallel()

	term, sink := newTestTerminal(t, func(_ context.Context, _ channel.Prompt) ([]channel.Signal, error) {
		return []channel.Signal{{Kind: channel.SignalApprove, Actor: "terminal"}}, nil
	})

	ref, err := term.Publish(context.Background(), approvalPrompt("req-1"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ref != "req-1" {
		t.Errorf("ref = %q", ref)
	}

	sink.wait(t, 1)
	sigs := sink.byReq["req-1"]
	if len(sigs) != 1 || sigs[0].Kind != channel.SignalApprove {
		t.Errorf("signals = %+v", sigs)
	}
}

func TestUpdateDeschedulesPendingPrompt(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	term, sink := newTestTerminal(t, func(_ context.Context, p channel.Prompt) ([]channel.Signal, error) {
		if p.RequestID == "req-slow" {
			<-gate
		}
		return []channel.Signal{{Kind: channel.SignalApprove}}, nil
	})

	// First prompt occupies the form; second queues behind it.
	if _, err := term.Publish(context.Background(), approvalPrompt("req-slow")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := term.Publish(context.Background(), approvalPrompt("req-2")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Resolve the queued prompt before its turn (as the staleness sweep
	// would), then release the form.
	if err := term.Update(context.Background(), "req-2", channel.PromptState{Outcome: channel.PromptExpired}); err != nil {
		t.Fatalf("update: %v", err)
	}
	close(gate)

	sink.wait(t, 1)
	time.Sleep(50 * time.Millisecond)
	if got := sink.byReq["req-2"]; len(got) != 0 {
		t.Errorf("descheduled prompt produced signals: %+v", got)
	}
}

func TestPublish_QueueFull(t *testing.T) {
	t.Parallel()

	blocked := make(chan struct{})
	term, _ := newTestTerminalQueue(t, 1, func(ctx context.Context, _ channel.Prompt) ([]channel.Signal, error) {
		<-blocked
		return nil, ctx.Err()
	})
	defer close(blocked)

	if _, err := term.Publish(context.Background(), approvalPrompt("req-1")); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	// Queue capacity 1: depending on scheduling the worker may have taken
	// req-1 already, so fill until full.
	var err error
	for i := 2; i <= 4; i++ {
		_, err = term.Publish(context.Background(), approvalPrompt("req-n"))
		if err != nil {
			break
		}
	}
	if !errors.Is(err, channel.ErrPublishFailed) {
		t.Errorf("error = %v, want ErrPublishFailed", err)
	}
}

func TestUpdate_UnknownRef(t *testing.T) {
	t.Parallel()

	term, _ := newTestTerminal(t, func(_ context.Context, _ channel.Prompt) ([]channel.Signal, error) {
		return nil, nil
	})

	err := term.Update(context.Background(), "req-missing", channel.PromptState{Outcome: channel.PromptExpired})
	if !errors.Is(err, channel.ErrUnknownRef) {
		t.Errorf("error = %v, want ErrUnknownRef", err)
	}
}

func TestFormErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	var calls sync.Map
	term, sink := newTestTerminal(t, func(_ context.Context, p channel.Prompt) ([]channel.Signal, error) {
		calls.Store(p.RequestID, true)
		if p.RequestID == "req-bad" {
			return nil, errors.New("tty vanished")
		}
		return []channel.Signal{{Kind: channel.SignalApprove}}, nil
	})

	if _, err := term.Publish(context.Background(), approvalPrompt("req-bad")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := term.Publish(context.Background(), approvalPrompt("req-good")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sink.wait(t, 1)
	if got := sink.byReq["req-good"]; len(got) != 1 {
		t.Errorf("signals for req-good = %+v", got)
	}
}
