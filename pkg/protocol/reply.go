package protocol

import "encoding/json"

// Hook event names echoed back in reply lines. The client forwards these
// verbatim to the agent runtime, which dispatches on them.
const (
	EventPermissionRequest = "PermissionRequest"
	EventPreToolUse        = "PreToolUse"
)

// Behavior values for approval decisions.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// ApprovalDecision is the decision body of an approval reply.
type ApprovalDecision struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}

// approvalOutput is the hookSpecificOutput of an approval reply.
type approvalOutput struct {
	HookEventName string           `json:"hookEventName"`
	Decision      ApprovalDecision `json:"decision"`
}

// approvalReply is the top-level approval reply line.
type approvalReply struct {
	HookSpecificOutput approvalOutput `json:"hookSpecificOutput"`
}

// questionOutput is the hookSpecificOutput of a question reply.
type questionOutput struct {
	HookEventName            string         `json:"hookEventName"`
	PermissionDecision       string         `json:"permissionDecision"`
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             map[string]any `json:"updatedInput,omitempty"`
}

// questionReply is the top-level question reply line.
type questionReply struct {
	HookSpecificOutput questionOutput `json:"hookSpecificOutput"`
}

// EncodeApprovalReply builds the reply line for an approval decision.
func EncodeApprovalReply(allow bool, message string) []byte {
	behavior := BehaviorDeny
	if allow {
		behavior = BehaviorAllow
	}
	out, _ := json.Marshal(approvalReply{
		HookSpecificOutput: approvalOutput{
			HookEventName: EventPermissionRequest,
			Decision: ApprovalDecision{
				Behavior: behavior,
				Message:  message,
			},
		},
	})
	return out
}

// EncodeQuestionReply builds the reply line for a question decision. On allow,
// updatedInput carries the original tool input extended with an "answers"
// mapping from question text to the chosen label (multi-select labels joined
// by ", ").
func EncodeQuestionReply(allow bool, reason string, original map[string]any, answers map[string]string) []byte {
	decision := BehaviorDeny
	if allow {
		decision = BehaviorAllow
	}

	var updated map[string]any
	if allow {
		updated = make(map[string]any, len(original)+1)
		for k, v := range original {
			updated[k] = v
		}
		updated["answers"] = answers
	}

	out, _ := json.Marshal(questionReply{
		HookSpecificOutput: questionOutput{
			HookEventName:            EventPreToolUse,
			PermissionDecision:       decision,
			PermissionDecisionReason: reason,
			UpdatedInput:             updated,
		},
	})
	return out
}

// EncodeDenyFallback is the protocol-level deny written when a request line
// cannot be parsed at all. It is deliberately shapeless: the client treats any
// unrecognized reply as a denial.
func EncodeDenyFallback() []byte {
	return []byte(`{"decision":"deny"}`)
}
