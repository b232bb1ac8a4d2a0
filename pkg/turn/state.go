package turn

import (
	"fmt"
	"strings"

	"github.com/harun/kirana/pkg/model"
)

// Mode selects the tool-visibility strategy for a turn
type Mode string

const (
	// ModeStatic restricts step 0 to a caller-recommended subset, then
	// reverts to full visibility
	ModeStatic Mode = "static"
	// ModeDiscovery starts from a minimal core set and expands it as the
	// model searches for more capabilities
	ModeDiscovery Mode = "discovery"
)

// FailureRecord is one detected tool failure within a turn
type FailureRecord struct {
	StepIndex int    `json:"step_index"`
	ToolName  string `json:"tool_name"`
	ErrorText string `json:"error_text"`
}

// State is the per-turn execution state. It is created fresh for every
// turn, mutated only by the controller between steps, and never shared
// across turns.
type State struct {
	UserMessage string
	Tier        model.Tier
	BaseSystem  string
	Mode        Mode

	// Static mode: the caller-recommended subset for step 0
	RecommendedTools []string

	Failures  []FailureRecord
	Escalated bool

	// Discovery mode: tool names extracted from search output so far
	Discovered map[string]struct{}

	pruneNoticed bool
	diagBlock    string
}

// NewState creates turn state for one agent turn
func NewState(userMessage, baseSystem string, tier model.Tier, mode Mode) *State {
	if mode == "" {
		mode = ModeStatic
	}
	return &State{
		UserMessage: userMessage,
		Tier:        tier,
		BaseSystem:  baseSystem,
		Mode:        mode,
		Discovered:  make(map[string]struct{}),
	}
}

// System composes the effective instruction text: the base text plus any
// notices the controller has appended this turn.
func (s *State) System() string {
	var b strings.Builder
	b.WriteString(s.BaseSystem)
	if s.pruneNoticed {
		b.WriteString("\n\nNote: older tool results in this conversation were trimmed to save context; re-run a tool if you need its full output again.")
	}
	if s.diagBlock != "" {
		b.WriteString("\n\n")
		b.WriteString(s.diagBlock)
	}
	return b.String()
}

// DiscoveredNames returns the discovered set as a sorted-free slice
func (s *State) DiscoveredNames() []string {
	names := make([]string, 0, len(s.Discovered))
	for name := range s.Discovered {
		names = append(names, name)
	}
	return names
}

// recentFailureBlock formats the most recent failures for the escalated
// attempt's diagnostic context
func (s *State) recentFailureBlock(limit int) string {
	if len(s.Failures) == 0 {
		return ""
	}
	start := 0
	if len(s.Failures) > limit {
		start = len(s.Failures) - limit
	}

	var b strings.Builder
	b.WriteString("Recent tool failures in this turn:\n")
	for _, f := range s.Failures[start:] {
		fmt.Fprintf(&b, "- step %d, %s: %s\n", f.StepIndex, f.ToolName, f.ErrorText)
	}
	return strings.TrimRight(b.String(), "\n")
}
