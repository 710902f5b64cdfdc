package llm

import (
	"context"
	"encoding/json"
)

// Conversation roles understood by OpenAI-compatible endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the history sent to the model.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a named invocation proposed by the model. Arguments is the raw
// JSON text exactly as the model produced it, possibly malformed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSchema describes one callable tool.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Proposal is the model's decision for one turn: text, tool calls, or both.
type Proposal struct {
	Text      string
	ToolCalls []ToolCall
}

// Proposer is the inference collaborator the agent loop drives.
type Proposer interface {
	Propose(ctx context.Context, history []Message, tools []ToolSchema) (Proposal, error)
}
