package agent

import (
	"encoding/json"

	"github.com/zulandar/switchboard/internal/confirm"
)

// Thinking step types, mirrored to the client as stream events.
const (
	StepAnalyzing  = "analyzing"
	StepPlanning   = "planning"
	StepToolCall   = "tool_call"
	StepProcessing = "processing"
	StepClarifying = "clarifying"
)

// ThinkingStep is one step in the runner's reasoning trace. Timestamp is
// seconds since the request started.
type ThinkingStep struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ToolCallRecord is the audit record of one tool execution. It is
// embedded (as JSON) in the assistant message that concludes the cycle.
type ToolCallRecord struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
	Result     ToolResult      `json:"result"`
	DurationMS int64           `json:"duration_ms"`
}

// ConfirmationRequest asks the user to approve an irreversible-at-scale
// action before it executes.
type ConfirmationRequest struct {
	Action        string         `json:"action"`
	Message       string         `json:"message"`
	AffectedItems []confirm.Item `json:"affected_items"`
	TotalItems    int            `json:"total_items"`
	ConfirmToken  string         `json:"confirm_token"`
}

// Event kinds emitted by the runner while a request is in flight.
const (
	EventThinking = "thinking"
	EventToolCall = "tool_call"
)

// Event is one progress frame from the runner. Exactly one of Step and
// ToolCall is set, matching Type.
type Event struct {
	Type     string
	Step     *ThinkingStep
	ToolCall *ToolCallRecord
}

// Result is the terminal outcome of one orchestration request. Response
// always carries user-visible text, including on failure; Err classifies
// terminal failures (step budget, backend outage) and is nil for locally
// recovered conditions such as ambiguity or an invalid token.
type Result struct {
	Response     string
	ToolCalls    []ToolCallRecord
	Thinking     []ThinkingStep
	Confirmation *ConfirmationRequest
	DurationMS   int64
	Err          error
}
