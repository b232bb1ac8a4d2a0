package turn

import (
	"strings"

	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/pkg/model"
)

// Error markers that distinguish a failed tool outcome from informational
// text. A tool returning "file not found" as exploration data does not
// match; only outcomes explicitly produced by the error paths do.
var errorMarkers = []string{
	"Error:",
	"Tool error:",
}

// IsErrorOutcome is the explicit classification predicate for textual
// tool outcomes. Tools whose legitimate output begins with a marker can
// be exempted via the controller's marker exceptions.
func IsErrorOutcome(outcome string) bool {
	trimmed := strings.TrimSpace(outcome)
	for _, marker := range errorMarkers {
		if strings.HasPrefix(trimmed, marker) {
			return true
		}
	}
	return false
}

// detectFailures scans the previous step's outcomes for the two failure
// signal classes: classified invocation errors and explicitly marked
// error outcomes.
func (c *Controller) detectFailures(in StepInput) {
	prevIndex := in.Index - 1

	for _, step := range in.PrevSteps {
		switch step.Kind {
		case model.StepError:
			if step.Class == model.ErrUnknownTool || step.Class == model.ErrInvalidArgs {
				c.record(prevIndex, step.ToolName, step.Text)
			}
		case model.StepToolCall:
			if c.markerExceptions[step.ToolName] {
				continue
			}
			if IsErrorOutcome(step.Result) {
				c.record(prevIndex, step.ToolName, firstLine(step.Result))
			}
		}
	}
}

func (c *Controller) record(stepIndex int, toolName, errorText string) {
	c.state.Failures = append(c.state.Failures, FailureRecord{
		StepIndex: stepIndex,
		ToolName:  toolName,
		ErrorText: errorText,
	})
	observability.RecordTurnFailure()
	c.logger.Debug().
		Int("step", stepIndex).
		Str("tool", toolName).
		Int("total_failures", len(c.state.Failures)).
		Msg("Tool failure recorded")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
