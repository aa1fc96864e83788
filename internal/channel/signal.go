package channel

import "strings"

// SignalKind discriminates the variant of a human signal.
type SignalKind int

const (
	// SignalApprove is a terminal approve for an approval request.
	SignalApprove SignalKind = iota
	// SignalDeny is a terminal deny for either kind.
	SignalDeny
	// SignalOption selects (or, for multi-select questions, toggles) one
	// option of one question.
	SignalOption
	// SignalConfirm finalizes a question request that contains at least one
	// multi-select question.
	SignalConfirm
)

// Signal is one human-originated event applied to a pending request.
type Signal struct {
	Kind SignalKind

	// Question and Label identify the selected option for SignalOption.
	Question int
	Label    string

	// Reason optionally explains a deny.
	Reason string

	// Actor is the platform identity of the human, for audit and prompt
	// updates.
	Actor string
}

// Word lists for free-text decisions. Matching is case-insensitive on the
// first word of the message.
var (
	approveWords = []string{"approve", "approved", "yes", "y", "ok", "allow", "lgtm"}
	denyWords    = []string{"deny", "denied", "no", "n", "reject", "rejected", "block"}
)

// ParseText maps a free-text reply to an approve or deny signal. Text after
// a deny word becomes the deny reason. Returns false for anything that
// matches neither vocabulary; such messages are ignored entirely.
func ParseText(text, actor string) (Signal, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return Signal{}, false
	}

	word := strings.ToLower(fields[0])
	for _, w := range approveWords {
		if word == w {
			return Signal{Kind: SignalApprove, Actor: actor}, true
		}
	}
	for _, w := range denyWords {
		if word == w {
			return Signal{
				Kind:   SignalDeny,
				Reason: strings.Join(fields[1:], " "),
				Actor:  actor,
			}, true
		}
	}
	return Signal{}, false
}
