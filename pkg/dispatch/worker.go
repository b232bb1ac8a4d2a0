package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
)

// runWorker executes one task as a bounded tool-use loop against its own
// tool subset. It always returns an Outcome, never an error or a panic.
func (d *Dispatcher) runWorker(ctx context.Context, logger zerolog.Logger, task Task) Outcome {
	started := time.Now()
	observability.AddWorkersInFlight(1)
	defer observability.AddWorkersInFlight(-1)

	handles := d.registry.Subset(task.Tools)
	tier := d.resolveTier(task)

	ref, err := d.resolver.Resolve(tier)
	if err != nil {
		return d.failed(task, started, 0, nil, fmt.Sprintf("cannot resolve model tier: %v", err))
	}

	temperature := task.Temperature
	if temperature <= 0 {
		temperature = d.defaultTemp
	}
	if temperature <= 0 {
		temperature = ref.Temperature
	}

	system := rolePrompt(task, handles)
	specs := toolSpecs(handles)
	byName := make(map[string]*tools.Handle, len(handles))
	for _, h := range handles {
		byName[h.Name] = h
	}

	messages := []model.Message{{Role: "user", Content: task.Task}}
	var steps []model.Step

	workerLog := logger.With().Str("task", task.ID).Str("tier", string(tier)).Logger()
	workerLog.Debug().Int("tools", len(handles)).Msg("Worker started")

	for step := 0; step < d.maxSteps; step++ {
		resp, err := d.callWithRetry(ctx, ref, model.Request{
			Model:       ref.ModelID,
			System:      system,
			Messages:    messages,
			Tools:       specs,
			Temperature: temperature,
		})
		if err != nil {
			outcome := d.failed(task, started, len(steps), steps, fmt.Sprintf("model call failed: %v", err))
			observability.RecordWorker(outcome.Elapsed, false)
			return outcome
		}

		if resp.Usage != nil && d.usage != nil {
			d.usage.Record(tier, ref.ModelID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}

		if resp.Content != "" {
			steps = append(steps, model.TextStep(resp.Content))
		}

		// Text-only response ends the loop
		if len(resp.ToolCalls) == 0 {
			output := resp.Content
			if output == "" {
				output = d.reconstructOutput(steps)
			}
			elapsed := time.Since(started)
			observability.RecordWorker(elapsed, true)
			workerLog.Debug().Int("steps", len(steps)).Dur("elapsed", elapsed).Msg("Worker finished")
			return Outcome{
				TaskID:  task.ID,
				Success: true,
				Output:  output,
				Steps:   len(steps),
				Elapsed: elapsed,
			}
		}

		messages = append(messages, model.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result := d.executeCall(ctx, byName, call)
			steps = append(steps, model.ToolStep(call, result))
			messages = append(messages, model.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			})
		}

		if ctx.Err() != nil {
			outcome := d.failed(task, started, len(steps), steps, fmt.Sprintf("cancelled: %v", context.Cause(ctx)))
			observability.RecordWorker(outcome.Elapsed, false)
			return outcome
		}
	}

	outcome := d.failed(task, started, len(steps), steps,
		fmt.Sprintf("step limit reached after %d steps", d.maxSteps))
	observability.RecordWorker(outcome.Elapsed, false)
	return outcome
}

// executeCall invokes one tool and reports all failures as outcome text
func (d *Dispatcher) executeCall(ctx context.Context, byName map[string]*tools.Handle, call model.ToolCall) (result string) {
	handle, ok := byName[call.Name]
	if !ok {
		return fmt.Sprintf("Error: tool %s is not available to this worker", call.Name)
	}
	// Local tool handles may not guard themselves the way bridged ones do
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("Error: tool %s failed unexpectedly: %v", call.Name, r)
		}
	}()
	return handle.Invoke(ctx, call.Parameters)
}

// callWithRetry retries transient provider errors with exponential backoff
func (d *Dispatcher) callWithRetry(ctx context.Context, ref model.Ref, req model.Request) (*model.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(model.Backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			}
		}
		resp, err := ref.Provider.Call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !model.IsRetryableError(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// failed assembles a failure outcome, salvaging whatever partial output
// the worker produced before it died.
func (d *Dispatcher) failed(task Task, started time.Time, stepCount int, steps []model.Step, errText string) Outcome {
	return Outcome{
		TaskID:  task.ID,
		Success: false,
		Output:  d.reconstructOutput(steps),
		Steps:   stepCount,
		Elapsed: time.Since(started),
		Err:     errText,
	}
}

// reconstructOutput rebuilds a usable result from text fragments and
// substantial tool results when no final answer was produced.
func (d *Dispatcher) reconstructOutput(steps []model.Step) string {
	var parts []string
	for _, step := range steps {
		switch step.Kind {
		case model.StepText:
			if strings.TrimSpace(step.Text) != "" {
				parts = append(parts, step.Text)
			}
		case model.StepToolCall:
			result := strings.TrimSpace(step.Result)
			if len(result) < 40 || turnIsError(result) {
				continue
			}
			if len(result) > d.maxOutputLen {
				result = result[:d.maxOutputLen] + "\n... (truncated)"
			}
			parts = append(parts, fmt.Sprintf("[%s output]\n%s", step.ToolName, result))
		}
	}
	return strings.Join(parts, "\n\n")
}

// turnIsError mirrors the turn-state failure markers without importing
// the controller package.
func turnIsError(outcome string) bool {
	return strings.HasPrefix(outcome, "Error:") || strings.HasPrefix(outcome, "Tool error:")
}

func (d *Dispatcher) resolveTier(task Task) model.Tier {
	if task.Tier.Valid() {
		return task.Tier
	}
	if d.defaultTier.Valid() {
		return d.defaultTier
	}
	return model.TierLow
}

func toolSpecs(handles []*tools.Handle) []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(handles))
	for _, h := range handles {
		specs = append(specs, model.ToolSpec{
			Name:        h.Name,
			Description: h.Description,
			InputSchema: h.Schema.JSONSchema(),
		})
	}
	return specs
}

// rolePrompt synthesizes the worker's instruction text from the
// capability categories it actually has, the caller-provided context, and
// the standing ground rules.
func rolePrompt(task Task, handles []*tools.Handle) string {
	var b strings.Builder
	b.WriteString("You are a focused sub-task worker. Complete the assigned task and reply with your final result as plain text.\n")

	present := make(map[tools.Category]bool)
	for _, h := range handles {
		present[h.Category] = true
	}

	var capabilities []string
	if present[tools.CategoryRead] && present[tools.CategoryWrite] {
		capabilities = append(capabilities, "read and modify files")
	} else if present[tools.CategoryRead] {
		capabilities = append(capabilities, "read files")
	}
	if present[tools.CategoryShell] {
		capabilities = append(capabilities, "run shell commands")
	}
	if present[tools.CategoryWeb] {
		capabilities = append(capabilities, "search the web")
	}
	if present[tools.CategoryMemoryWrite] {
		capabilities = append(capabilities, "read and update memory")
	} else if present[tools.CategoryMemoryRead] {
		capabilities = append(capabilities, "read memory")
	}
	if present[tools.CategoryMCP] {
		capabilities = append(capabilities, "use connected capability servers")
	}

	if len(capabilities) > 0 {
		b.WriteString("You can ")
		b.WriteString(strings.Join(capabilities, ", "))
		b.WriteString(".\n")
	}

	if task.Context != "" {
		b.WriteString("\nContext from the caller:\n")
		b.WriteString(task.Context)
		b.WriteString("\n")
	}

	b.WriteString("\nDo not attempt to dispatch further sub-tasks; that capability is not available to you.")
	return b.String()
}
