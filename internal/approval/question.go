package approval

import (
	"strings"

	"github.com/approvd/approvd/pkg/protocol"
)

// answerPhase is the explicit state of a question request's answer
// collection.
type answerPhase int

const (
	// phaseCollecting: at least one question has no selection yet, or a
	// multi-select request has not been confirmed.
	phaseCollecting answerPhase = iota

	// phaseAutoResolved: every single-select question is answered and no
	// multi-select question exists; the request resolves without an
	// explicit confirmation.
	phaseAutoResolved

	// phaseResolved: a confirmation signal arrived for a request with at
	// least one multi-select question, and every question has a selection.
	phaseResolved
)

// answerState collects option selections for one question request.
//
// Single-select questions hold exactly one label; a later selection replaces
// the earlier one. Multi-select questions toggle labels, so selecting twice
// deselects. A request containing any multi-select question resolves only on
// an explicit confirmation signal, because its answers stay mutable until
// the human says they are done.
type answerState struct {
	questions []protocol.Question
	selected  []map[string]bool
	hasMulti  bool
	confirmed bool
}

func newAnswerState(questions []protocol.Question) *answerState {
	s := &answerState{
		questions: questions,
		selected:  make([]map[string]bool, len(questions)),
	}
	for i, q := range questions {
		s.selected[i] = make(map[string]bool)
		if q.MultiSelect {
			s.hasMulti = true
		}
	}
	return s
}

// apply records one option selection. Selections referencing an unknown
// question index or a label that is not among the question's options are
// ignored: the channel UI may deliver clicks for prompts the daemon has
// since changed its mind about.
func (s *answerState) apply(question int, label string) {
	if question < 0 || question >= len(s.questions) {
		return
	}
	q := s.questions[question]
	if !hasOption(q, label) {
		return
	}

	sel := s.selected[question]
	if q.MultiSelect {
		if sel[label] {
			delete(sel, label)
		} else {
			sel[label] = true
		}
		return
	}

	// Single-select: replace.
	clear(sel)
	sel[label] = true
}

// confirm records the explicit completion signal. Meaningless (and harmless)
// for requests without a multi-select question.
func (s *answerState) confirm() {
	s.confirmed = true
}

// phase computes the current state from the selections.
func (s *answerState) phase() answerPhase {
	for _, sel := range s.selected {
		if len(sel) == 0 {
			return phaseCollecting
		}
	}
	if s.hasMulti {
		if s.confirmed {
			return phaseResolved
		}
		return phaseCollecting
	}
	return phaseAutoResolved
}

// complete reports whether the request has reached a terminal answer phase.
func (s *answerState) complete() bool {
	return s.phase() != phaseCollecting
}

// answers renders the collected selections keyed by full question text.
// Multi-select labels are joined by ", " in the question's option order.
func (s *answerState) answers() map[string]string {
	result := make(map[string]string, len(s.questions))
	for i, q := range s.questions {
		sel := s.selected[i]
		var labels []string
		for _, opt := range q.Options {
			if sel[opt.Label] {
				labels = append(labels, opt.Label)
			}
		}
		result[q.Question] = strings.Join(labels, ", ")
	}
	return result
}

func hasOption(q protocol.Question, label string) bool {
	for _, opt := range q.Options {
		if opt.Label == label {
			return true
		}
	}
	return false
}
