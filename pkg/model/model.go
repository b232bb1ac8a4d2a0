package model

import "context"

// Message represents a message in the conversation
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption for one call
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolSpec is the provider-facing description of one visible tool
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// DefaultMaxTokens bounds the response when a request does not carry its
// own limit. The Anthropic API rejects max_tokens below 1, so every call
// must send a real value.
const DefaultMaxTokens = 4096

// maxTokensOrDefault returns the request limit, falling back to
// DefaultMaxTokens when unset.
func maxTokensOrDefault(n int) int64 {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return int64(n)
}

// Request contains the parameters for one model call
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int

	// ToolChoice is "" or "auto" for model discretion, "required" to force
	// a tool call on this step. Ignored when Tools is empty.
	ToolChoice string
}

// Response contains the model output for one call
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Provider is the model-invocation primitive this core consumes. It must
// honor context cancellation on the underlying round trip.
type Provider interface {
	Call(ctx context.Context, request Request) (*Response, error)
	Name() string
}

// UsageRecorder is the external accounting collaborator. Implementations
// must be safe for concurrent Record calls.
type UsageRecorder interface {
	Record(tier Tier, modelID string, inputTokens, outputTokens int)
}
