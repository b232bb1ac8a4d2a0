package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/kirana/pkg/tools"
)

// Handle exposes the dispatcher as a registry tool. The handle's own name
// is in the blocked set, so workers can never reach it.
func (d *Dispatcher) Handle() *tools.Handle {
	return &tools.Handle{
		Name:        tools.NameDispatch,
		Description: "Run multiple independent sub-tasks concurrently in isolated workers and get one aggregated report. Each task row needs a 'task' instruction and may set 'id', 'context', 'tier' (low/medium/high), and 'tools' (allow-list of tool names).",
		Category:    tools.CategoryGeneral,
		Schema: tools.Schema{
			Fields: []tools.Field{
				{Name: "tasks", Type: "array", Description: "Task rows to run concurrently", Required: true},
			},
		},
		Invoke: d.invokeHandle,
	}
}

func (d *Dispatcher) invokeHandle(ctx context.Context, input map[string]interface{}) string {
	rawTasks, ok := input["tasks"]
	if !ok {
		return "Error: missing required field: tasks"
	}

	tasks, err := parseTaskRows(rawTasks)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	started := time.Now()
	outcomes, err := d.Dispatch(ctx, tasks)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	return BuildReport(outcomes, time.Since(started))
}

// parseTaskRows converts the tool-call payload into typed tasks. Rows go
// through JSON round-tripping so the task shape stays the single source
// of field names.
func parseTaskRows(raw interface{}) ([]Task, error) {
	rows, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("tasks must be an array of task rows")
	}

	tasks := make([]Task, 0, len(rows))
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("task %d is not a valid row: %w", i, err)
		}
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("task %d is not a valid row: %w", i, err)
		}
		if task.Tier != "" && !task.Tier.Valid() {
			return nil, fmt.Errorf("task %d has invalid tier %q", i, task.Tier)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
