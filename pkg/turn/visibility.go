package turn

import (
	"regexp"
	"sort"

	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
)

// alwaysPresent are the bookkeeping tools visible in every restricted
// step regardless of mode.
var alwaysPresent = []string{
	tools.NameScratchpad,
	tools.NameTaskTracker,
}

// coreSet is the discovery-mode minimum: bookkeeping, the search
// capability itself, an escape hatch, fan-out, web research, and the two
// irreversible-action tools so they stay reachable without discovery.
// Names with no built-in implementation (web search, message send) are
// expected to arrive as bridged or caller-registered tools; until one is
// registered they are filtered out against the live registry.
var coreSet = []string{
	tools.NameScratchpad,
	tools.NameTaskTracker,
	tools.NameToolSearch,
	tools.NameShell,
	tools.NameDispatch,
	tools.NameWebSearch,
	tools.NameMessageSend,
	tools.NameMemoryWrite,
}

// discoveredLine matches one bulleted line of tool-search output:
// "- <tool_name>: <description>"
var discoveredLine = regexp.MustCompile(`(?m)^\s*-\s*([A-Za-z][A-Za-z0-9_.-]*):`)

// scanDiscovery extracts tool names from the previous step's search
// output and adds those that actually exist in the registry.
func (c *Controller) scanDiscovery(in StepInput) {
	if c.state.Mode != ModeDiscovery {
		return
	}

	for _, step := range in.PrevSteps {
		if step.Kind != model.StepToolCall || step.ToolName != tools.NameToolSearch {
			continue
		}
		for _, match := range discoveredLine.FindAllStringSubmatch(step.Result, -1) {
			name := match[1]
			if !c.registry.Has(name) {
				continue
			}
			if _, seen := c.state.Discovered[name]; seen {
				continue
			}
			c.state.Discovered[name] = struct{}{}
			c.logger.Debug().Str("tool", name).Msg("Tool discovered")
		}
	}
}

// visibleTools decides this step's tool visibility. A nil result means
// no restriction (full registry).
func (c *Controller) visibleTools(stepIndex int) []string {
	switch c.state.Mode {
	case ModeStatic:
		if stepIndex > 0 || len(c.state.RecommendedTools) == 0 {
			return nil
		}
		return c.present(union(c.state.RecommendedTools, alwaysPresent))

	case ModeDiscovery:
		return c.present(union(coreSet, c.state.DiscoveredNames()))
	}
	return nil
}

// present filters a name set down to tools that exist in the registry
func (c *Controller) present(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if c.registry.Has(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, set := range [][]string{a, b} {
		for _, name := range set {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}
