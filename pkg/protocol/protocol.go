// Package protocol defines the newline-delimited JSON contract between a
// client session (typically a Claude Code hook invocation) and the approvd
// daemon. One request line in, one reply line out, then the connection closes.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the request variant carried by a Request.
type Kind string

const (
	// KindApproval asks a human to allow or deny one tool invocation.
	KindApproval Kind = "approval"
	// KindQuestion asks a human to answer one or more multiple-choice questions.
	KindQuestion Kind = "question"
)

// questionType is the wire value of the "type" field that selects the
// question variant. Any other value (including absent) is an approval.
const questionType = "user_question"

// ErrEmptyLine is returned by DecodeRequest for a blank input line.
var ErrEmptyLine = errors.New("protocol: empty request line")

// Option is one selectable answer for a question.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is one question posed to the human, with its candidate answers.
type Question struct {
	Question    string   `json:"question"`
	Header      string   `json:"header,omitempty"`
	Options     []Option `json:"options"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
}

// Request is the decoded form of one client request line. Exactly one of the
// kind-specific field groups is meaningful, selected by Kind.
type Request struct {
	Kind      Kind
	SessionID string

	// Approval fields.
	ToolName  string
	ToolInput map[string]any

	// Question fields.
	Questions []Question
}

// rawRequest mirrors the union of both wire variants for decoding.
type rawRequest struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	Questions []Question     `json:"questions"`
}

// DecodeRequest parses one request line into a Request. The variant is chosen
// by the "type" field: "user_question" selects the question kind, anything
// else is treated as a tool approval.
func DecodeRequest(line []byte) (Request, error) {
	trimmed := trimSpace(line)
	if len(trimmed) == 0 {
		return Request{}, ErrEmptyLine
	}

	var raw rawRequest
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Request{}, fmt.Errorf("protocol: decode request: %w", err)
	}

	if raw.Type == questionType {
		if len(raw.Questions) == 0 {
			return Request{}, errors.New("protocol: user_question request has no questions")
		}
		for i, q := range raw.Questions {
			if q.Question == "" {
				return Request{}, fmt.Errorf("protocol: questions[%d]: question text is required", i)
			}
			if len(q.Options) == 0 {
				return Request{}, fmt.Errorf("protocol: questions[%d]: at least one option is required", i)
			}
		}
		return Request{
			Kind:      KindQuestion,
			SessionID: raw.SessionID,
			Questions: raw.Questions,
		}, nil
	}

	if raw.ToolName == "" {
		return Request{}, errors.New("protocol: tool_name is required")
	}
	return Request{
		Kind:      KindApproval,
		SessionID: raw.SessionID,
		ToolName:  raw.ToolName,
		ToolInput: raw.ToolInput,
	}, nil
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
