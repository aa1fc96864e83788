package terminal

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/approvd/approvd/internal/channel"
)

// runApprovalForm asks for an allow/deny decision, with an optional deny
// reason.
func (t *Terminal) runApprovalForm(ctx context.Context, prompt channel.Prompt) ([]channel.Signal, error) {
	var approved bool
	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("Agent wants to run %s", prompt.ToolName)).
		Description(describeInput(prompt.ToolInput)).
		Affirmative("Approve").
		Negative("Deny").
		Value(&approved)

	if err := huh.NewForm(huh.NewGroup(confirm)).RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("terminal: approval form: %w", err)
	}

	if approved {
		return []channel.Signal{{Kind: channel.SignalApprove, Actor: t.config.Actor}}, nil
	}

	var reason string
	input := huh.NewInput().
		Title("Deny reason (optional)").
		Value(&reason)
	if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("terminal: deny reason form: %w", err)
	}

	return []channel.Signal{{
		Kind:   channel.SignalDeny,
		Reason: strings.TrimSpace(reason),
		Actor:  t.config.Actor,
	}}, nil
}

// runQuestionForm asks every question in one form, then converts the
// selections into option signals followed by a confirm.
func (t *Terminal) runQuestionForm(ctx context.Context, prompt channel.Prompt) ([]channel.Signal, error) {
	single := make([]string, len(prompt.Questions))
	multi := make([][]string, len(prompt.Questions))

	var fields []huh.Field
	for qi, q := range prompt.Questions {
		opts := make([]huh.Option[string], 0, len(q.Options))
		for _, o := range q.Options {
			label := o.Label
			if o.Description != "" {
				label = o.Label + " — " + o.Description
			}
			opts = append(opts, huh.NewOption(label, o.Label))
		}

		title := q.Question
		if q.Header != "" {
			title = q.Header + ": " + q.Question
		}

		if q.MultiSelect {
			fields = append(fields, huh.NewMultiSelect[string]().
				Title(title).
				Options(opts...).
				Value(&multi[qi]))
		} else {
			fields = append(fields, huh.NewSelect[string]().
				Title(title).
				Options(opts...).
				Value(&single[qi]))
		}
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("terminal: question form: %w", err)
	}

	var signals []channel.Signal
	for qi, q := range prompt.Questions {
		if q.MultiSelect {
			for _, label := range multi[qi] {
				signals = append(signals, channel.Signal{
					Kind:     channel.SignalOption,
					Question: qi,
					Label:    label,
					Actor:    t.config.Actor,
				})
			}
		} else if single[qi] != "" {
			signals = append(signals, channel.Signal{
				Kind:     channel.SignalOption,
				Question: qi,
				Label:    single[qi],
				Actor:    t.config.Actor,
			})
		}
	}
	signals = append(signals, channel.Signal{Kind: channel.SignalConfirm, Actor: t.config.Actor})
	return signals, nil
}

// describeInput renders tool input for the form description, truncated.
func describeInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range input {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	out := strings.TrimRight(b.String(), "\n")
	const maxChars = 800
	if len(out) > maxChars {
		out = out[:maxChars] + "…"
	}
	return out
}
