package tools

// Names of capabilities that must never reach a sub-agent worker: recursive
// fan-out, self-modification, and process restart. Enforced at subset
// construction time, not by trusting caller-supplied allow lists.
const (
	NameDispatch     = "dispatch_subagents"
	NameConfigUpdate = "config_update"
	NameRestart      = "process_restart"
	NameScratchpad   = "scratchpad"
	NameTaskTracker  = "task_tracker"
	NameToolSearch   = "tool_search"
	NameShell        = "shell_exec"
	NameMemoryWrite  = "memory_write"

	// No built-in implementation registers under these names; they are
	// expected to arrive as bridged or caller-registered tools.
	NameWebSearch   = "web_search"
	NameMessageSend = "message_send"
)

var blocked = map[string]bool{
	NameDispatch:     true,
	NameConfigUpdate: true,
	NameRestart:      true,
}

// Blocked returns the process-wide set of tool names excluded from every
// worker subset.
func Blocked() []string {
	names := make([]string, 0, len(blocked))
	for name := range blocked {
		names = append(names, name)
	}
	return names
}

// IsBlocked reports whether a tool name is in the blocked set
func IsBlocked(name string) bool {
	return blocked[name]
}
