package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/pkg/tools"
)

// CoreToolOptions configures local tool registration
type CoreToolOptions struct {
	// WorkspaceRoot confines filesystem tools. Required.
	WorkspaceRoot string

	// MemoryDir stores memory notes. Defaults to <workspace>/.kirana/memory.
	MemoryDir string

	// ShellTimeout bounds shell commands. Defaults to 30s.
	ShellTimeout time.Duration
}

// RegisterCoreTools registers the baseline local tools: bookkeeping
// (scratchpad, task tracker), discovery (tool search bound to the index),
// filesystem, shell, and memory.
func RegisterCoreTools(registry *tools.Registry, index *tools.Index, opts CoreToolOptions) error {
	if registry == nil {
		return errors.New("registry is required")
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return errors.New("workspace root is required")
	}
	if opts.MemoryDir == "" {
		opts.MemoryDir = filepath.Join(opts.WorkspaceRoot, ".kirana", "memory")
	}
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = 30 * time.Second
	}

	pad := &scratchpad{}
	tracker := &taskTracker{}

	handles := []*tools.Handle{
		pad.handle(),
		tracker.handle(),
		toolSearchHandle(index),
		shellHandle(opts),
		readFileHandle(opts),
		writeFileHandle(opts),
		editFileHandle(opts),
		memoryReadHandle(opts),
		memoryWriteHandle(opts),
	}

	for _, h := range handles {
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", h.Name, err)
		}
	}
	if index != nil {
		index.Rebuild(registry)
	}
	return nil
}

// scratchpad is an in-memory note store scoped to the process
type scratchpad struct {
	mu    sync.Mutex
	notes []string
}

func (s *scratchpad) handle() *tools.Handle {
	return &tools.Handle{
		Name:        tools.NameScratchpad,
		Description: "Jot down or review working notes. Action 'write' appends a note, 'read' returns all notes.",
		Category:    tools.CategoryGeneral,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "action", Type: "string", Description: "write or read", Required: true},
			{Name: "note", Type: "string", Description: "Note text for the write action"},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			action, _ := input["action"].(string)
			switch action {
			case "write":
				note, _ := input["note"].(string)
				if strings.TrimSpace(note) == "" {
					return "Error: note is required for the write action"
				}
				s.mu.Lock()
				s.notes = append(s.notes, note)
				count := len(s.notes)
				s.mu.Unlock()
				return fmt.Sprintf("Noted (%d notes total).", count)
			case "read":
				s.mu.Lock()
				defer s.mu.Unlock()
				if len(s.notes) == 0 {
					return "The scratchpad is empty."
				}
				return strings.Join(s.notes, "\n")
			default:
				return fmt.Sprintf("Error: unknown action %q; use write or read", action)
			}
		},
	}
}

// taskTracker keeps a simple checklist for the current process
type taskTracker struct {
	mu    sync.Mutex
	tasks map[string]bool
	order []string
}

func (t *taskTracker) handle() *tools.Handle {
	return &tools.Handle{
		Name:        tools.NameTaskTracker,
		Description: "Track task progress. Action 'add' registers a task, 'done' marks one complete, 'list' shows all.",
		Category:    tools.CategoryGeneral,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "action", Type: "string", Description: "add, done, or list", Required: true},
			{Name: "task", Type: "string", Description: "Task text for add and done"},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.tasks == nil {
				t.tasks = make(map[string]bool)
			}

			action, _ := input["action"].(string)
			task, _ := input["task"].(string)
			switch action {
			case "add":
				if strings.TrimSpace(task) == "" {
					return "Error: task is required for the add action"
				}
				if _, exists := t.tasks[task]; !exists {
					t.tasks[task] = false
					t.order = append(t.order, task)
				}
				return fmt.Sprintf("Task added (%d tracked).", len(t.order))
			case "done":
				if _, exists := t.tasks[task]; !exists {
					return fmt.Sprintf("Error: task not tracked: %s", task)
				}
				t.tasks[task] = true
				return "Task marked done."
			case "list":
				if len(t.order) == 0 {
					return "No tasks tracked."
				}
				var b strings.Builder
				for _, task := range t.order {
					mark := " "
					if t.tasks[task] {
						mark = "x"
					}
					fmt.Fprintf(&b, "[%s] %s\n", mark, task)
				}
				return strings.TrimRight(b.String(), "\n")
			default:
				return fmt.Sprintf("Error: unknown action %q; use add, done, or list", action)
			}
		},
	}
}

func toolSearchHandle(index *tools.Index) *tools.Handle {
	return &tools.Handle{
		Name:        tools.NameToolSearch,
		Description: "Search the full tool catalog by keyword to find capabilities beyond the currently visible set.",
		Category:    tools.CategoryGeneral,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "query", Type: "string", Description: "Keywords to match against tool names and descriptions", Required: true},
			{Name: "limit", Type: "number", Description: "Maximum results (default 10)"},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			if index == nil {
				return "Error: tool search is not available"
			}
			query, _ := input["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "Error: query is required"
			}
			limit := 10
			if raw, ok := input["limit"].(float64); ok && raw > 0 {
				limit = int(raw)
			}
			return index.Search(query, limit)
		},
	}
}

func shellHandle(opts CoreToolOptions) *tools.Handle {
	return &tools.Handle{
		Name:        tools.NameShell,
		Description: "Run a shell command inside the workspace and get its combined output.",
		Category:    tools.CategoryShell,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "command", Type: "string", Description: "Command line to run with sh -c", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory relative to the workspace"},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			command, _ := input["command"].(string)
			if strings.TrimSpace(command) == "" {
				return "Error: command is required"
			}

			cwd := opts.WorkspaceRoot
			if rel, ok := input["cwd"].(string); ok && rel != "" {
				resolved, err := resolveWorkspacePath(opts.WorkspaceRoot, rel)
				if err != nil {
					return fmt.Sprintf("Error: %v", err)
				}
				cwd = resolved
			}

			runCtx, cancel := context.WithTimeout(ctx, opts.ShellTimeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			cmd.Dir = cwd
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out

			err := cmd.Run()
			output := strings.TrimRight(out.String(), "\n")
			if runCtx.Err() == context.DeadlineExceeded {
				return fmt.Sprintf("Error: command timed out after %s\n%s", opts.ShellTimeout, output)
			}
			if err != nil {
				return fmt.Sprintf("Error: command failed: %v\n%s", err, output)
			}
			if output == "" {
				return "(no output)"
			}
			return output
		},
	}
}

func readFileHandle(opts CoreToolOptions) *tools.Handle {
	const maxBytes = 200000
	return &tools.Handle{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Category:    tools.CategoryRead,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			pathValue, _ := input["path"].(string)
			target, err := resolveWorkspacePath(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			data, truncated, err := readWithLimit(target, maxBytes)
			if err != nil {
				return fmt.Sprintf("Error: failed to read %s: %v", pathValue, err)
			}
			if truncated {
				return string(data) + "\n... (truncated)"
			}
			return string(data)
		},
	}
}

func writeFileHandle(opts CoreToolOptions) *tools.Handle {
	return &tools.Handle{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed.",
		Category:    tools.CategoryWrite,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			pathValue, _ := input["path"].(string)
			target, err := resolveWorkspacePath(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			content, _ := input["content"].(string)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Sprintf("Error: failed to create directory: %v", err)
			}
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return fmt.Sprintf("Error: failed to write %s: %v", pathValue, err)
			}
			return fmt.Sprintf("Wrote %d bytes to %s.", len(content), pathValue)
		},
	}
}

func editFileHandle(opts CoreToolOptions) *tools.Handle {
	return &tools.Handle{
		Name:        "edit_file",
		Description: "Replace text in a workspace file.",
		Category:    tools.CategoryWrite,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "search", Type: "string", Description: "Text to search for", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default false)"},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			pathValue, _ := input["path"].(string)
			target, err := resolveWorkspacePath(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			search, _ := input["search"].(string)
			replace, _ := input["replace"].(string)
			replaceAll, _ := input["replace_all"].(bool)
			if search == "" {
				return "Error: search is required"
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return fmt.Sprintf("Error: failed to read %s: %v", pathValue, err)
			}
			content := string(data)

			occurrences := 0
			var updated string
			if replaceAll {
				occurrences = strings.Count(content, search)
				updated = strings.ReplaceAll(content, search, replace)
			} else if idx := strings.Index(content, search); idx >= 0 {
				occurrences = 1
				updated = content[:idx] + replace + content[idx+len(search):]
			}
			if occurrences == 0 {
				return "Error: search text not found"
			}
			if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
				return fmt.Sprintf("Error: failed to write %s: %v", pathValue, err)
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in %s.", occurrences, pathValue)
		},
	}
}

func memoryReadHandle(opts CoreToolOptions) *tools.Handle {
	return &tools.Handle{
		Name:        "memory_read",
		Description: "Read saved memory notes. Without a key, lists all saved keys.",
		Category:    tools.CategoryMemoryRead,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "key", Type: "string", Description: "Memory key to read"},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			key, _ := input["key"].(string)
			if key == "" {
				entries, err := os.ReadDir(opts.MemoryDir)
				if err != nil {
					if os.IsNotExist(err) {
						return "No memories saved."
					}
					return fmt.Sprintf("Error: failed to list memories: %v", err)
				}
				var keys []string
				for _, e := range entries {
					keys = append(keys, strings.TrimSuffix(e.Name(), ".md"))
				}
				if len(keys) == 0 {
					return "No memories saved."
				}
				sort.Strings(keys)
				return "Saved memories:\n- " + strings.Join(keys, "\n- ")
			}

			data, err := os.ReadFile(memoryPath(opts.MemoryDir, key))
			if err != nil {
				return fmt.Sprintf("Error: no memory named %q", key)
			}
			return string(data)
		},
	}
}

func memoryWriteHandle(opts CoreToolOptions) *tools.Handle {
	return &tools.Handle{
		Name:        tools.NameMemoryWrite,
		Description: "Save a note under a key for later turns. Overwrites any existing note with the same key.",
		Category:    tools.CategoryMemoryWrite,
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "key", Type: "string", Description: "Memory key", Required: true},
			{Name: "content", Type: "string", Description: "Note content", Required: true},
		}},
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			key, _ := input["key"].(string)
			content, _ := input["content"].(string)
			if strings.TrimSpace(key) == "" || strings.TrimSpace(content) == "" {
				return "Error: key and content are required"
			}
			if err := os.MkdirAll(opts.MemoryDir, 0700); err != nil {
				return fmt.Sprintf("Error: failed to create memory directory: %v", err)
			}
			if err := os.WriteFile(memoryPath(opts.MemoryDir, key), []byte(content), 0600); err != nil {
				return fmt.Sprintf("Error: failed to save memory: %v", err)
			}
			return fmt.Sprintf("Memory %q saved.", key)
		},
	}
}

func memoryPath(dir, key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(dir, safe+".md")
}

// resolveWorkspacePath confines a user-supplied path to the workspace root
func resolveWorkspacePath(root, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		observability.RecordSecurityAudit(context.Background(), "workspace_escape", "tool", "blocked", map[string]interface{}{
			"path": pathValue,
		})
		return "", fmt.Errorf("path %q is outside the workspace", pathValue)
	}
	return candidate, nil
}

func readWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	truncated := false
	if extra := make([]byte, 1); true {
		if _, err := file.Read(extra); err == nil {
			truncated = true
		}
	}
	return buf.Bytes(), truncated, nil
}
