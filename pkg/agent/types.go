package agent

import (
	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/turn"
)

// RunParams holds the inputs for one turn
type RunParams struct {
	// Prompt is the user message that starts the turn
	Prompt string

	// System is the base instruction text; the controller may append
	// notices to it between steps
	System string

	// Mode selects the tool-visibility strategy. Empty means static.
	Mode turn.Mode

	// RecommendedTools is the static-mode step-0 subset
	RecommendedTools []string

	// Tier is the starting model tier. Empty means low.
	Tier model.Tier

	// MaxSteps bounds the loop. Zero uses the runner default.
	MaxSteps int
}

// RunResult is the terminal record of one turn
type RunResult struct {
	Response  string
	Steps     []model.Step
	Usage     model.TokenUsage
	Tier      model.Tier
	Escalated bool
	Aborted   bool
}
