package turn

import (
	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
)

const (
	// trimmedMarker replaces old tool-call payloads under context pressure
	trimmedMarker = "[trimmed]"
	// notedMarker replaces consumed scratchpad results; they are
	// disposable once read
	notedMarker = "[noted]"
)

// maybePrune applies the context-pressure transforms: old tool payloads
// are trimmed once the turn is long enough, and stale scratchpad results
// are collapsed unconditionally. Both transforms are idempotent. Returns
// the replacement history and whether anything changed.
func (c *Controller) maybePrune(in StepInput) ([]model.Message, bool) {
	messages := in.Messages
	changed := false

	out := make([]model.Message, len(messages))
	copy(out, messages)

	if collapseScratchpad(out) {
		changed = true
	}

	if in.Index >= c.pruneAfterStep && len(messages) > c.pruneMinMessages {
		if trimOldToolPayloads(out, c.keepLast) {
			changed = true
			if !c.state.pruneNoticed {
				c.state.pruneNoticed = true
				observability.RecordHistoryPrune()
				c.logger.Info().
					Int("messages", len(messages)).
					Int("keep_last", c.keepLast).
					Msg("Pruning conversation history")
			}
		}
	}

	if !changed {
		return nil, false
	}
	return out, true
}

// trimOldToolPayloads discards tool-call and tool-result payloads older
// than the most recent keepLast messages, which stay byte-identical.
func trimOldToolPayloads(messages []model.Message, keepLast int) bool {
	if len(messages) <= keepLast {
		return false
	}

	changed := false
	for i := range messages[:len(messages)-keepLast] {
		msg := &messages[i]
		if msg.Role == "tool" && msg.Content != trimmedMarker && msg.Content != notedMarker {
			msg.Content = trimmedMarker
			changed = true
		}
		if msg.Role == "assistant" && hasToolArguments(msg.ToolCalls) {
			// Drop the call arguments; the call ids stay so the
			// transcript remains well formed. The slice is copied
			// first so the caller's history is left untouched.
			calls := make([]model.ToolCall, len(msg.ToolCalls))
			copy(calls, msg.ToolCalls)
			for j := range calls {
				calls[j].Parameters = nil
			}
			msg.ToolCalls = calls
			changed = true
		}
	}
	return changed
}

func hasToolArguments(calls []model.ToolCall) bool {
	for _, call := range calls {
		if call.Parameters != nil {
			return true
		}
	}
	return false
}

// collapseScratchpad replaces every scratchpad result except the most
// recent with a fixed marker, bounding repeated-pattern token waste.
func collapseScratchpad(messages []model.Message) bool {
	// Map call id -> scratchpad, from assistant tool calls
	scratchpadCalls := make(map[string]bool)
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			if call.Name == tools.NameScratchpad {
				scratchpadCalls[call.ID] = true
			}
		}
	}
	if len(scratchpadCalls) == 0 {
		return false
	}

	// Find the most recent scratchpad result; everything before it is
	// disposable
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "tool" && scratchpadCalls[messages[i].ToolCallID] {
			last = i
			break
		}
	}

	changed := false
	for i := range messages {
		if i == last {
			continue
		}
		msg := &messages[i]
		if msg.Role == "tool" && scratchpadCalls[msg.ToolCallID] && msg.Content != notedMarker {
			msg.Content = notedMarker
			changed = true
		}
	}
	return changed
}
