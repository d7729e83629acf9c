// Package llm provides the generation provider client for Herald.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// StopReason classifies why the provider ended its turn.
type StopReason string

const (
	// StopFinal means the model finished with its final text.
	StopFinal StopReason = "final"

	// StopToolUse means the model requested one or more tool calls.
	StopToolUse StopReason = "tool_requested"

	// StopOther covers stop reasons the loop does not recognize
	// (max_tokens, refusals, future values). Treated as terminal.
	StopOther StopReason = "other"
)

// Message represents one turn in the conversation transcript.
// Assistant turns may carry tool calls; tool results are role "tool"
// messages answering a prior call by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"` // Provider-assigned ID, correlates tool results
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ChatResponse is the unified response from the provider. Wire format
// conversion happens at the provider boundary (anthropic.go); the loop
// only ever sees these types.
type ChatResponse struct {
	Model      string
	Message    Message
	StopReason StopReason

	// Token usage.
	InputTokens  int
	OutputTokens int
}
