package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/internal/tracing"
	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
	"github.com/harun/kirana/pkg/turn"
)

const defaultMaxSteps = 20

// Runner orchestrates governed agent turns
type Runner struct {
	registry *tools.Registry
	resolver *model.Resolver
	usage    model.UsageRecorder
	logger   zerolog.Logger

	turnConfig turn.Config
	maxSteps   int

	// Active turns for abort capability
	activeTurns map[string]context.CancelFunc
	turnsMu     sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	Registry *tools.Registry
	Resolver *model.Resolver
	Usage    model.UsageRecorder
	Logger   zerolog.Logger

	// TurnConfig seeds each turn's controller. Registry, Resolver, and
	// Logger are filled in by the runner.
	TurnConfig turn.Config

	// MaxSteps bounds each turn's loop. Defaults to 20.
	MaxSteps int
}

// NewRunner creates an agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}

	return &Runner{
		registry:    cfg.Registry,
		resolver:    cfg.Resolver,
		usage:       cfg.Usage,
		logger:      cfg.Logger,
		turnConfig:  cfg.TurnConfig,
		maxSteps:    cfg.MaxSteps,
		activeTurns: make(map[string]context.CancelFunc),
	}, nil
}

// Run executes one agent turn with a background context
func (r *Runner) Run(params RunParams) (RunResult, error) {
	return r.RunWithContext(context.Background(), params)
}

// RunWithContext executes one agent turn
func (r *Runner) RunWithContext(ctx context.Context, params RunParams) (RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params.Prompt == "" {
		return RunResult{}, fmt.Errorf("prompt is required")
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	turnID := tracing.NewTurnID()
	ctx = tracing.WithTurnID(ctx, turnID)
	ctx, span := tracing.StartSpan(
		ctx,
		"kirana.agent",
		"agent.turn",
		attribute.String("turn_id", turnID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("turn_id", turnID).Logger()

	tier := params.Tier
	if tier == "" {
		tier = model.TierLow
	}
	if !tier.Valid() {
		err := fmt.Errorf("invalid tier: %s", tier)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}

	state := turn.NewState(params.Prompt, params.System, tier, params.Mode)
	state.RecommendedTools = params.RecommendedTools

	turnCfg := r.turnConfig
	turnCfg.Registry = r.registry
	turnCfg.Resolver = r.resolver
	turnCfg.Logger = logger
	controller, err := turn.NewController(turnCfg, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.turnsMu.Lock()
	r.activeTurns[turnID] = cancel
	r.turnsMu.Unlock()
	defer func() {
		r.turnsMu.Lock()
		delete(r.activeTurns, turnID)
		r.turnsMu.Unlock()
	}()

	result, err := r.executeTurn(execCtx, logger, controller, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}

	result.Tier = state.Tier
	result.Escalated = state.Escalated
	return result, nil
}

// Abort cancels a running turn
func (r *Runner) Abort(turnID string) error {
	r.turnsMu.Lock()
	defer r.turnsMu.Unlock()

	cancel, exists := r.activeTurns[turnID]
	if !exists {
		r.logger.Debug().Str("turn_id", turnID).Msg("No active turn to abort")
		return nil
	}

	r.logger.Info().Str("turn_id", turnID).Msg("Aborting turn")
	cancel()
	delete(r.activeTurns, turnID)
	return nil
}

// executeTurn drives the step loop: consult the controller, call the
// model, execute tool calls, repeat until a text-only response or the
// step limit.
func (r *Runner) executeTurn(ctx context.Context, logger zerolog.Logger, controller *turn.Controller, params RunParams) (RunResult, error) {
	maxSteps := params.MaxSteps
	if maxSteps <= 0 {
		maxSteps = r.maxSteps
	}

	messages := []model.Message{{Role: "user", Content: params.Prompt}}
	var allSteps []model.Step
	var prevSteps []model.Step
	var usage model.TokenUsage

	for step := 0; step < maxSteps; step++ {
		select {
		case <-ctx.Done():
			return RunResult{Aborted: true, Steps: allSteps, Usage: usage}, nil
		default:
		}

		overrides := controller.BeforeStep(turn.StepInput{
			Index:     step,
			PrevSteps: prevSteps,
			Messages:  messages,
		})
		prevSteps = nil
		if overrides.Messages != nil {
			messages = overrides.Messages
		}

		ref, err := r.resolver.Resolve(overrides.Tier)
		if err != nil {
			return RunResult{}, fmt.Errorf("failed to resolve tier %s: %w", overrides.Tier, err)
		}

		resp, err := r.callWithRetry(ctx, logger, ref, model.Request{
			Model:       ref.ModelID,
			System:      overrides.System,
			Messages:    messages,
			Tools:       r.toolSpecs(overrides.Tools),
			Temperature: ref.Temperature,
			ToolChoice:  overrides.ToolChoice,
		})
		if err != nil {
			return RunResult{}, err
		}

		if resp.Usage != nil {
			usage.InputTokens += resp.Usage.InputTokens
			usage.OutputTokens += resp.Usage.OutputTokens
			if r.usage != nil {
				r.usage.Record(overrides.Tier, ref.ModelID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
			}
		}

		if resp.Content != "" {
			textStep := model.TextStep(resp.Content)
			allSteps = append(allSteps, textStep)
			prevSteps = append(prevSteps, textStep)
		}

		if len(resp.ToolCalls) == 0 {
			return RunResult{Response: resp.Content, Steps: allSteps, Usage: usage}, nil
		}

		messages = append(messages, model.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			committed, result := r.executeCall(ctx, logger, call)
			allSteps = append(allSteps, committed)
			prevSteps = append(prevSteps, committed)
			messages = append(messages, model.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}

	return RunResult{}, fmt.Errorf("turn did not finish within %d steps", maxSteps)
}

// executeCall runs one tool call and commits it as a step. Unknown tools
// become classified error steps; the model sees the failure as text.
func (r *Runner) executeCall(ctx context.Context, logger zerolog.Logger, call model.ToolCall) (model.Step, string) {
	handle := r.registry.Get(call.Name)
	if handle == nil {
		text := fmt.Sprintf("Error: unknown tool: %s", call.Name)
		logger.Warn().Str("tool", call.Name).Msg("Model called an unknown tool")
		return model.ErrorStep(model.ErrUnknownTool, call.Name, text), text
	}

	started := time.Now()
	result := invokeGuarded(ctx, handle, call.Parameters)
	logger.Debug().
		Str("tool", call.Name).
		Dur("elapsed", time.Since(started)).
		Msg("Tool executed")

	status := "success"
	if turn.IsErrorOutcome(result) {
		status = "failure"
	}
	observability.RecordToolAudit(ctx, call.Name, tracing.GetTurnID(ctx), status, map[string]interface{}{
		"elapsed_ms": time.Since(started).Milliseconds(),
	})

	return model.ToolStep(call, result), result
}

func invokeGuarded(ctx context.Context, handle *tools.Handle, input map[string]interface{}) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("Error: tool %s failed unexpectedly: %v", handle.Name, r)
		}
	}()
	return handle.Invoke(ctx, input)
}

// callWithRetry retries transient provider errors with exponential backoff
func (r *Runner) callWithRetry(ctx context.Context, logger zerolog.Logger, ref model.Ref, req model.Request) (*model.Response, error) {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := ref.Provider.Call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !model.IsRetryableError(err) {
			return nil, err
		}
		if attempt == maxRetries-1 {
			break
		}
		delay := model.Backoff(attempt)
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying model call after transient error")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

// toolSpecs builds provider tool descriptors for the visible set. A nil
// visibility list means the full registry.
func (r *Runner) toolSpecs(visible []string) []model.ToolSpec {
	var handles []*tools.Handle
	if visible == nil {
		handles = r.registry.All()
	} else {
		for _, name := range visible {
			if h := r.registry.Get(name); h != nil {
				handles = append(handles, h)
			}
		}
	}

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
