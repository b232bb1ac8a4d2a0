package model

import (
	"errors"
	"fmt"
)

// StepKind tags the shape of one committed loop step
type StepKind string

const (
	StepText     StepKind = "text"
	StepToolCall StepKind = "tool_call"
	StepError    StepKind = "error"
)

// ErrorClass narrows what went wrong in an error step
type ErrorClass string

const (
	ErrUnknownTool ErrorClass = "unknown_tool"
	ErrInvalidArgs ErrorClass = "invalid_arguments"
	ErrInternal    ErrorClass = "internal"
)

// ErrUnknownStepKind is returned when a step payload carries a shape this
// core does not recognize. The boundary fails fast instead of probing
// fields defensively at every use site.
var ErrUnknownStepKind = errors.New("unknown step kind")

// Step is a tagged record of one committed event in a governed loop:
// model text, a tool call with its result, or a classified error.
type Step struct {
	Kind     StepKind               `json:"kind"`
	Text     string                 `json:"text,omitempty"`
	ToolName string                 `json:"tool_name,omitempty"`
	CallID   string                 `json:"call_id,omitempty"`
	Input    map[string]interface{} `json:"input,omitempty"`
	Result   string                 `json:"result,omitempty"`
	Class    ErrorClass             `json:"class,omitempty"`
}

// TextStep builds a step for model-produced text
func TextStep(text string) Step {
	return Step{Kind: StepText, Text: text}
}

// ToolStep builds a step for a completed tool call
func ToolStep(call ToolCall, result string) Step {
	return Step{
		Kind:     StepToolCall,
		ToolName: call.Name,
		CallID:   call.ID,
		Input:    call.Parameters,
		Result:   result,
	}
}

// ErrorStep builds a step for a classified loop-level error
func ErrorStep(class ErrorClass, toolName, text string) Step {
	return Step{Kind: StepError, Class: class, ToolName: toolName, Text: text}
}

// ParseStep validates a raw step payload at the collaborator boundary.
// Unrecognized kinds are rejected with ErrUnknownStepKind.
func ParseStep(raw map[string]interface{}) (Step, error) {
	kind, _ := raw["kind"].(string)
	switch StepKind(kind) {
	case StepText:
		text, _ := raw["text"].(string)
		return TextStep(text), nil
	case StepToolCall:
		step := Step{Kind: StepToolCall}
		step.ToolName, _ = raw["tool_name"].(string)
		step.CallID, _ = raw["call_id"].(string)
		step.Result, _ = raw["result"].(string)
		if input, ok := raw["input"].(map[string]interface{}); ok {
			step.Input = input
		}
		return step, nil
	case StepError:
		step := Step{Kind: StepError}
		step.ToolName, _ = raw["tool_name"].(string)
		step.Text, _ = raw["text"].(string)
		if class, ok := raw["class"].(string); ok {
			step.Class = ErrorClass(class)
		} else {
			step.Class = ErrInternal
		}
		return step, nil
	default:
		return Step{}, fmt.Errorf("%w: %q", ErrUnknownStepKind, kind)
	}
}
