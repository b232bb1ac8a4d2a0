package dispatch

import (
	"time"

	"github.com/harun/kirana/pkg/model"
)

// Task is one unit of work to run in an isolated worker
type Task struct {
	// ID labels the task in the aggregated report. Empty ids are
	// assigned positionally.
	ID string `json:"id,omitempty"`

	// Task is the instruction text for the worker
	Task string `json:"task"`

	// Context is optional background the worker should know
	Context string `json:"context,omitempty"`

	// Tier selects the model tier; empty falls back to the dispatcher
	// default, then low
	Tier model.Tier `json:"tier,omitempty"`

	// Temperature overrides the sampling temperature when > 0
	Temperature float64 `json:"temperature,omitempty"`

	// Tools is an explicit allow-list of tool names. Nil means the full
	// registry. Blocked names are stripped either way.
	Tools []string `json:"tools,omitempty"`
}

// Outcome is the terminal record of one worker, success or failure
type Outcome struct {
	TaskID  string        `json:"task_id"`
	Success bool          `json:"success"`
	Output  string        `json:"output"`
	Steps   int           `json:"steps"`
	Elapsed time.Duration `json:"elapsed"`
	Err     string        `json:"error,omitempty"`
}
