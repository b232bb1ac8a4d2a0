package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
	"github.com/harun/kirana/pkg/turn"
)

// mockProvider implements model.Provider with an injectable call func
type mockProvider struct {
	callFunc func(ctx context.Context, req model.Request) (*model.Response, error)
	mu       sync.Mutex
	requests []model.Request
}

func (m *mockProvider) Call(ctx context.Context, req model.Request) (*model.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}
	return &model.Response{Content: "done"}, nil
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) request(i int) model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func newTestRunner(t *testing.T, provider model.Provider, reg *tools.Registry, mutate ...func(*Config)) *Runner {
	t.Helper()
	resolver, err := model.NewResolver(map[model.Tier]model.Ref{
		model.TierLow:  {Provider: provider, Tier: model.TierLow, ModelID: "small"},
		model.TierHigh: {Provider: provider, Tier: model.TierHigh, ModelID: "large"},
	})
	require.NoError(t, err)

	cfg := Config{
		Registry: reg,
		Resolver: resolver,
		Logger:   zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	return runner
}

func registerTool(t *testing.T, reg *tools.Registry, name string, invoke tools.InvokeFunc) {
	t.Helper()
	if invoke == nil {
		invoke = func(ctx context.Context, input map[string]interface{}) string { return "ok" }
	}
	require.NoError(t, reg.Register(&tools.Handle{
		Name:        name,
		Description: "test tool " + name,
		Category:    tools.CategoryGeneral,
		Invoke:      invoke,
	}))
}

// TestRunnerTextOnlyTurn verifies a turn with no tool calls returns the
// model text directly
func TestRunnerTextOnlyTurn(t *testing.T) {
	provider := &mockProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			return &model.Response{
				Content: "the answer is 4",
				Usage:   &model.TokenUsage{InputTokens: 12, OutputTokens: 6},
			}, nil
		},
	}
	runner := newTestRunner(t, provider, tools.NewRegistry())

	result, err := runner.Run(RunParams{Prompt: "what is 2+2"})
	require.NoError(t, err)
	assert.Equal(t, "the answer is 4", result.Response)
	assert.Equal(t, 12, result.Usage.InputTokens)
	assert.Equal(t, model.TierLow, result.Tier)
	assert.False(t, result.Escalated)
}

// TestRunnerToolLoop verifies tool calls are executed and their results
// fed back as tool messages
func TestRunnerToolLoop(t *testing.T) {
	reg := tools.NewRegistry()
	registerTool(t, reg, "lookup", func(ctx context.Context, input map[string]interface{}) string {
		return "42 items"
	})

	provider := &mockProvider{}
	provider.callFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		if provider.callCount() == 1 {
			return &model.Response{ToolCalls: []model.ToolCall{
				{ID: "c1", Name: "lookup", Parameters: map[string]interface{}{"q": "items"}},
			}}, nil
		}
		return &model.Response{Content: "there are 42 items"}, nil
	}
	runner := newTestRunner(t, provider, reg)

	result, err := runner.Run(RunParams{Prompt: "count the items"})
	require.NoError(t, err)
	assert.Equal(t, "there are 42 items", result.Response)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, model.StepToolCall, result.Steps[0].Kind)
	assert.Equal(t, "42 items", result.Steps[0].Result)

	// The second request carries the tool result message
	second := provider.request(1)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "42 items", last.Content)
}

// TestRunnerUnknownToolCall verifies an unknown tool becomes a classified
// error step and the turn keeps going
func TestRunnerUnknownToolCall(t *testing.T) {
	provider := &mockProvider{}
	provider.callFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		if provider.callCount() == 1 {
			return &model.Response{ToolCalls: []model.ToolCall{
				{ID: "c1", Name: "ghost", Parameters: map[string]interface{}{}},
			}}, nil
		}
		return &model.Response{Content: "recovered"}, nil
	}
	runner := newTestRunner(t, provider, tools.NewRegistry())

	result, err := runner.Run(RunParams{Prompt: "do it"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Response)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, model.StepError, result.Steps[0].Kind)
	assert.Equal(t, model.ErrUnknownTool, result.Steps[0].Class)
}

// TestRunnerEscalatesAfterFailures verifies repeated tool failures raise
// the tier for subsequent model calls within the same turn
func TestRunnerEscalatesAfterFailures(t *testing.T) {
	reg := tools.NewRegistry()
	registerTool(t, reg, "flaky", func(ctx context.Context, input map[string]interface{}) string {
		return "Error: upstream is down"
	})

	provider := &mockProvider{}
	provider.callFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		if provider.callCount() <= 3 {
			return &model.Response{ToolCalls: []model.ToolCall{
				{ID: "c", Name: "flaky", Parameters: map[string]interface{}{}},
			}}, nil
		}
		return &model.Response{Content: "giving a partial answer"}, nil
	}
	runner := newTestRunner(t, provider, reg, func(cfg *Config) {
		cfg.TurnConfig = turn.Config{FailureThreshold: 3}
	})

	result, err := runner.Run(RunParams{Prompt: "fetch the data"})
	require.NoError(t, err)
	assert.True(t, result.Escalated)
	assert.Equal(t, model.TierHigh, result.Tier)

	// The escalated call uses the high-tier model and carries the
	// failure diagnostics
	final := provider.request(provider.callCount() - 1)
	assert.Equal(t, "large", final.Model)
	assert.Contains(t, final.System, "Recent tool failures in this turn:")
}

// TestRunnerStaticModeRestrictsFirstStep verifies step 0 offers only the
// recommended subset and later steps the full registry
func TestRunnerStaticModeRestrictsFirstStep(t *testing.T) {
	reg := tools.NewRegistry()
	registerTool(t, reg, "reader", nil)
	registerTool(t, reg, "writer", nil)
	registerTool(t, reg, "deployer", nil)

	provider := &mockProvider{}
	provider.callFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		if provider.callCount() == 1 {
			return &model.Response{ToolCalls: []model.ToolCall{
				{ID: "c", Name: "reader", Parameters: map[string]interface{}{}},
			}}, nil
		}
		return &model.Response{Content: "done"}, nil
	}
	runner := newTestRunner(t, provider, reg)

	_, err := runner.Run(RunParams{
		Prompt:           "read the file",
		Mode:             turn.ModeStatic,
		RecommendedTools: []string{"reader"},
	})
	require.NoError(t, err)

	firstNames := specNames(provider.request(0).Tools)
	assert.ElementsMatch(t, []string{"reader"}, firstNames)

	secondNames := specNames(provider.request(1).Tools)
	assert.ElementsMatch(t, []string{"reader", "writer", "deployer"}, secondNames)
}

// TestRunnerAbort verifies a cancelled turn reports as aborted
func TestRunnerAbort(t *testing.T) {
	provider := &mockProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			return &model.Response{Content: "done"}, nil
		},
	}
	runner := newTestRunner(t, provider, tools.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runner.RunWithContext(ctx, RunParams{Prompt: "work"})
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, 0, provider.callCount())
}

// TestRunnerStepLimit verifies a turn that never settles returns an error
func TestRunnerStepLimit(t *testing.T) {
	reg := tools.NewRegistry()
	registerTool(t, reg, "spinner", nil)

	provider := &mockProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			return &model.Response{ToolCalls: []model.ToolCall{
				{ID: "c", Name: "spinner", Parameters: map[string]interface{}{}},
			}}, nil
		},
	}
	runner := newTestRunner(t, provider, reg, func(cfg *Config) {
		cfg.MaxSteps = 4
	})

	_, err := runner.Run(RunParams{Prompt: "spin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish")
}

// TestRunnerPanickingToolBecomesErrorText verifies a tool panic surfaces
// as an error outcome instead of crashing the turn
func TestRunnerPanickingToolBecomesErrorText(t *testing.T) {
	reg := tools.NewRegistry()
	registerTool(t, reg, "bomb", func(ctx context.Context, input map[string]interface{}) string {
		panic("deliberate test panic")
	})

	provider := &mockProvider{}
	provider.callFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		if provider.callCount() == 1 {
			return &model.Response{ToolCalls: []model.ToolCall{
				{ID: "c", Name: "bomb", Parameters: map[string]interface{}{}},
			}}, nil
		}
		return &model.Response{Content: "survived"}, nil
	}
	runner := newTestRunner(t, provider, reg)

	result, err := runner.Run(RunParams{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "survived", result.Response)
	assert.Contains(t, result.Steps[0].Result, "failed unexpectedly")
}

func specNames(specs []model.ToolSpec) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}
