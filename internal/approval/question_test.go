package approval

import (
	"testing"

	"github.com/approvd/approvd/pkg/protocol"
)

func twoOptions(text string, multi bool) protocol.Question {
	return protocol.Question{
		Question:    text,
		Options:     []protocol.Option{{Label: "a"}, {Label: "b"}},
		MultiSelect: multi,
	}
}

func TestAnswerState_SingleSelectReplaces(t *testing.T) {
	t.Parallel()

	s := newAnswerState([]protocol.Question{twoOptions("q", false)})
	s.apply(0, "a")
	s.apply(0, "b")

	if got := s.answers()["q"]; got != "b" {
		t.Errorf("answer = %q, want %q", got, "b")
	}
	if s.phase() != phaseAutoResolved {
		t.Errorf("phase = %v, want auto-resolved", s.phase())
	}
}

func TestAnswerState_MultiSelectToggles(t *testing.T) {
	t.Parallel()

	s := newAnswerState([]protocol.Question{twoOptions("q", true)})
	s.apply(0, "a")
	s.apply(0, "a")

	if s.complete() {
		t.Error("empty selection must not complete")
	}
	s.apply(0, "a")
	s.apply(0, "b")
	if s.complete() {
		t.Error("multi-select must wait for confirmation")
	}
	s.confirm()
	if s.phase() != phaseResolved {
		t.Errorf("phase = %v, want resolved", s.phase())
	}
	if got := s.answers()["q"]; got != "a, b" {
		t.Errorf("answer = %q, want %q", got, "a, b")
	}
}

func TestAnswerState_ConfirmWithUnansweredQuestionStaysCollecting(t *testing.T) {
	t.Parallel()

	s := newAnswerState([]protocol.Question{
		twoOptions("q1", true),
		twoOptions("q2", false),
	})
	s.apply(0, "a")
	s.confirm()

	if s.complete() {
		t.Error("confirmation must not complete while a question is unanswered")
	}
	s.apply(1, "b")
	if !s.complete() {
		t.Error("all answered plus confirmation should complete")
	}
}

func TestAnswerState_IgnoresInvalidSelections(t *testing.T) {
	t.Parallel()

	s := newAnswerState([]protocol.Question{twoOptions("q", false)})
	s.apply(5, "a")       // out of range
	s.apply(-1, "a")      // out of range
	s.apply(0, "missing") // unknown label

	if s.complete() {
		t.Error("invalid selections must not advance the state")
	}
}

func TestAnswerState_MixedRequiresConfirmEvenWhenAllAnswered(t *testing.T) {
	t.Parallel()

	s := newAnswerState([]protocol.Question{
		twoOptions("single", false),
		twoOptions("multi", true),
	})
	s.apply(0, "a")
	s.apply(1, "b")

	if s.complete() {
		t.Error("presence of a multi-select question requires explicit confirm")
	}
	s.confirm()
	if !s.complete() {
		t.Error("expected completion after confirm")
	}
}
