// Package llm defines the reasoning-backend contract: a bounded message
// window plus a tool catalog go in, and either assistant text or
// structured tool invocations come out. The backend itself is opaque and
// swappable; Switchboard ships an OpenAI-compatible implementation.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles understood by the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in the transcript sent to the backend.
type Message struct {
	Role    string
	Content string
	// ToolCallID links a RoleTool result back to the call that produced
	// it. ToolCalls echoes an assistant turn's invocations when replaying
	// the transcript.
	ToolCallID string
	ToolCalls  []ToolCall
}

// Tool describes one callable operation in the fixed catalog. Parameters
// is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is a structured invocation request returned by the backend.
// Arguments stay raw; the tool registry validates them at the boundary.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Request is one backend invocation.
type Request struct {
	Messages []Message
	Tools    []Tool
}

// Response carries either final assistant content or tool invocations
// (or, with some providers, both).
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client is the reasoning backend boundary.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
