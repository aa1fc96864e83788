package slack

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/approvd/approvd/internal/channel"
	"github.com/approvd/approvd/pkg/protocol"
)

// Block Kit is rendered with a minimal struct set; only the block types the
// prompts actually use are modelled.

// Block is one Block Kit layout block.
type Block struct {
	Type     string    `json:"type"`
	Text     *TextObj  `json:"text,omitempty"`
	Elements []Element `json:"elements,omitempty"`
	BlockID  string    `json:"block_id,omitempty"`
}

// TextObj is a Block Kit text object.
type TextObj struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Element is a Block Kit element: a button in an actions block, or a text
// object in a context block. Text is a *TextObj for buttons and a plain
// string for context elements, matching the two wire shapes.
type Element struct {
	Type     string `json:"type"`
	Text     any    `json:"text,omitempty"`
	ActionID string `json:"action_id,omitempty"`
	Style    string `json:"style,omitempty"`
}

func mrkdwn(text string) *TextObj { return &TextObj{Type: "mrkdwn", Text: text} }
func plain(text string) *TextObj  { return &TextObj{Type: "plain_text", Text: text} }
func section(text string) Block   { return Block{Type: "section", Text: mrkdwn(text)} }

func contextBlk(text string) Block {
	return Block{Type: "context", Elements: []Element{{Type: "mrkdwn", Text: text}}}
}

// Action ID vocabulary. The request ID rides inside the action_id so a
// click routes without any per-message state on the Slack side.
const (
	actionApprove = "approve"
	actionDeny    = "deny"
	actionOption  = "opt"
	actionConfirm = "confirm"
)

func approveActionID(requestID string) string { return actionApprove + ":" + requestID }
func denyActionID(requestID string) string    { return actionDeny + ":" + requestID }
func confirmActionID(requestID string) string { return actionConfirm + ":" + requestID }

func optionActionID(requestID string, question int, label string) string {
	// Label goes last so it may contain colons.
	return fmt.Sprintf("%s:%s:%d:%s", actionOption, requestID, question, label)
}

// parseActionID decodes an action_id back into a signal plus the request ID
// it targets. Unknown shapes return ok=false and are ignored.
func parseActionID(actionID, actor string) (requestID string, sig channel.Signal, ok bool) {
	parts := strings.SplitN(actionID, ":", 4)
	if len(parts) < 2 {
		return "", channel.Signal{}, false
	}

	switch parts[0] {
	case actionApprove:
		return parts[1], channel.Signal{Kind: channel.SignalApprove, Actor: actor}, true
	case actionDeny:
		return parts[1], channel.Signal{Kind: channel.SignalDeny, Actor: actor}, true
	case actionConfirm:
		return parts[1], channel.Signal{Kind: channel.SignalConfirm, Actor: actor}, true
	case actionOption:
		if len(parts) != 4 {
			return "", channel.Signal{}, false
		}
		q, err := strconv.Atoi(parts[2])
		if err != nil {
			return "", channel.Signal{}, false
		}
		return parts[1], channel.Signal{
			Kind:     channel.SignalOption,
			Question: q,
			Label:    parts[3],
			Actor:    actor,
		}, true
	}
	return "", channel.Signal{}, false
}

// promptBlocks renders a pending prompt as Block Kit blocks.
func promptBlocks(p channel.Prompt) []Block {
	switch p.Kind {
	case protocol.KindQuestion:
		return questionBlocks(p)
	default:
		return approvalBlocks(p)
	}
}

func approvalBlocks(p channel.Prompt) []Block {
	blocks := []Block{
		section(fmt.Sprintf(":lock: Agent wants to run *%s*", p.ToolName)),
	}
	if input := formatToolInput(p.ToolInput); input != "" {
		blocks = append(blocks, section("```"+input+"```"))
	}
	blocks = append(blocks,
		contextBlk(fmt.Sprintf("session `%s` · request `%s`", p.SessionID, p.RequestID)),
		Block{
			Type: "actions",
			Elements: []Element{
				{
					Type:     "button",
					Text:     plain("Approve"),
					Style:    "primary",
					ActionID: approveActionID(p.RequestID),
				},
				{
					Type:     "button",
					Text:     plain("Deny"),
					Style:    "danger",
					ActionID: denyActionID(p.RequestID),
				},
			},
		},
	)
	return blocks
}

func questionBlocks(p channel.Prompt) []Block {
	blocks := []Block{
		section(":question: Agent needs input"),
	}

	hasMulti := false
	for qi, q := range p.Questions {
		if q.MultiSelect {
			hasMulti = true
		}
		title := q.Question
		if q.Header != "" {
			title = "*" + q.Header + "*\n" + title
		}
		if q.MultiSelect {
			title += "\n_select all that apply_"
		}
		blocks = append(blocks, section(title))

		var buttons []Element
		for _, opt := range q.Options {
			buttons = append(buttons, Element{
				Type:     "button",
				Text:     plain(opt.Label),
				ActionID: optionActionID(p.RequestID, qi, opt.Label),
			})
		}
		blocks = append(blocks, Block{Type: "actions", Elements: buttons})
	}

	tail := []Element{
		{
			Type:     "button",
			Text:     plain("Cancel"),
			Style:    "danger",
			ActionID: denyActionID(p.RequestID),
		},
	}
	if hasMulti {
		tail = append([]Element{{
			Type:     "button",
			Text:     plain("Done"),
			Style:    "primary",
			ActionID: confirmActionID(p.RequestID),
		}}, tail...)
	}

	blocks = append(blocks,
		contextBlk(fmt.Sprintf("session `%s` · request `%s`", p.SessionID, p.RequestID)),
		Block{Type: "actions", Elements: tail},
	)
	return blocks
}

// resolvedBlocks renders the terminal state of a prompt: the original
// context line plus the outcome, with all buttons removed.
func resolvedBlocks(p channel.Prompt, state channel.PromptState) []Block {
	var head string
	switch p.Kind {
	case protocol.KindQuestion:
		head = ":question: Agent needed input"
	default:
		head = fmt.Sprintf(":lock: Agent wanted to run *%s*", p.ToolName)
	}

	return []Block{
		section(head),
		section(outcomeLine(state)),
		contextBlk(fmt.Sprintf("session `%s` · request `%s`", p.SessionID, p.RequestID)),
	}
}

func outcomeLine(state channel.PromptState) string {
	var line string
	switch state.Outcome {
	case channel.PromptApproved:
		line = ":white_check_mark: *Approved*"
	case channel.PromptDenied:
		line = ":no_entry: *Denied*"
	case channel.PromptAnswered:
		line = ":white_check_mark: *Answered*"
	case channel.PromptExpired:
		line = ":hourglass_flowing_sand: *Expired* — no decision was made in time"
	default:
		line = string(state.Outcome)
	}
	if state.Actor != "" {
		line += " by <@" + state.Actor + ">"
	}
	if state.Reason != "" {
		line += "\n> " + state.Reason
	}
	return line
}

// fallbackText is the notification text shown where blocks don't render.
func fallbackText(p channel.Prompt) string {
	if p.Kind == protocol.KindQuestion {
		return fmt.Sprintf("Agent needs input (%d question(s))", len(p.Questions))
	}
	return "Agent wants to run " + p.ToolName
}

// formatToolInput pretty-prints the tool input for display, keys sorted,
// truncated to keep the message inside Slack's block limits.
func formatToolInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		val, err := json.Marshal(input[k])
		if err != nil {
			val = []byte(fmt.Sprintf("%v", input[k]))
		}
		fmt.Fprintf(&b, "%s: %s\n", k, val)
	}

	const maxInputChars = 2500
	out := strings.TrimRight(b.String(), "\n")
	if len(out) > maxInputChars {
		out = out[:maxInputChars] + "\n… (truncated)"
	}
	return out
}
