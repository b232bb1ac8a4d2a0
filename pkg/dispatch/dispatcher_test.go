package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
)

// scriptedProvider implements model.Provider with an injectable call func
type scriptedProvider struct {
	callFunc func(ctx context.Context, req model.Request) (*model.Response, error)
	mu       sync.Mutex
	calls    int
}

func (p *scriptedProvider) Call(ctx context.Context, req model.Request) (*model.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.callFunc != nil {
		return p.callFunc(ctx, req)
	}
	return &model.Response{Content: "done"}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordedUsage implements model.UsageRecorder for assertions
type recordedUsage struct {
	mu      sync.Mutex
	records int
	input   int
	output  int
}

func (u *recordedUsage) Record(tier model.Tier, modelID string, in, out int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records++
	u.input += in
	u.output += out
}

func testRegistry(t *testing.T, names ...string) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, name := range names {
		err := reg.Register(&tools.Handle{
			Name:        name,
			Description: "test tool " + name,
			Category:    tools.CategoryGeneral,
			Invoke: func(ctx context.Context, input map[string]interface{}) string {
				return "tool output"
			},
		})
		require.NoError(t, err)
	}
	return reg
}

func testDispatcher(t *testing.T, provider model.Provider, reg *tools.Registry, mutate ...func(*Config)) *Dispatcher {
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
	d, err := NewDispatcher(cfg)
	require.NoError(t, err)
	return d
}

// TestDispatchBatchValidation verifies empty and oversized batches are
// rejected before any worker starts
func TestDispatchBatchValidation(t *testing.T) {
	provider := &scriptedProvider{}
	d := testDispatcher(t, provider, testRegistry(t), func(cfg *Config) {
		cfg.MaxTasks = 2
	})

	_, err := d.Dispatch(context.Background(), nil)
	assert.Error(t, err)

	_, err = d.Dispatch(context.Background(), []Task{
		{Task: "a"}, {Task: "b"}, {Task: "c"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many tasks")

	_, err = d.Dispatch(context.Background(), []Task{{Task: ""}})
	assert.Error(t, err)

	assert.Equal(t, 0, provider.callCount(), "no worker runs on a rejected batch")
}

// TestDispatchOrderedOutcomes verifies outcomes come back in task order
// regardless of completion order
func TestDispatchOrderedOutcomes(t *testing.T) {
	provider := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			// Later tasks finish first
			if strings.Contains(req.Messages[0].Content, "first") {
				time.Sleep(30 * time.Millisecond)
			}
			return &model.Response{Content: "answer to " + req.Messages[0].Content}, nil
		},
	}
	d := testDispatcher(t, provider, testRegistry(t))

	outcomes, err := d.Dispatch(context.Background(), []Task{
		{ID: "a", Task: "first question"},
		{ID: "b", Task: "second question"},
		{ID: "c", Task: "third question"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, "a", outcomes[0].TaskID)
	assert.Equal(t, "b", outcomes[1].TaskID)
	assert.Equal(t, "c", outcomes[2].TaskID)
	assert.Equal(t, "answer to first question", outcomes[0].Output)
}

// TestWorkerIsolation verifies one panicking worker cannot take down its
// batch siblings
func TestWorkerIsolation(t *testing.T) {
	provider := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			if strings.Contains(req.Messages[0].Content, "bomb") {
				panic("deliberate test panic")
			}
			return &model.Response{Content: "fine"}, nil
		},
	}
	d := testDispatcher(t, provider, testRegistry(t))

	tasks := []Task{
		{ID: "t1", Task: "normal work"},
		{ID: "t2", Task: "bomb"},
		{ID: "t3", Task: "normal work"},
		{ID: "t4", Task: "normal work"},
		{ID: "t5", Task: "normal work"},
	}
	outcomes, err := d.Dispatch(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, outcomes, 5)

	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}
	assert.Equal(t, 4, succeeded)
	assert.False(t, outcomes[1].Success)
	assert.Contains(t, outcomes[1].Err, "panicked")
}

// TestWorkerToolLoop verifies a worker executes tool calls and feeds the
// results back until the model answers with text
func TestWorkerToolLoop(t *testing.T) {
	reg := testRegistry(t, "lookup")
	provider := &scriptedProvider{}
	provider.callFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		if provider.callCount() == 1 {
			return &model.Response{ToolCalls: []model.ToolCall{
				{ID: "c1", Name: "lookup", Parameters: map[string]interface{}{"q": "x"}},
			}}, nil
		}
		// Second call sees the tool result in history
		last := req.Messages[len(req.Messages)-1]
		return &model.Response{Content: "based on: " + last.Content}, nil
	}
	d := testDispatcher(t, provider, reg)

	outcomes, err := d.Dispatch(context.Background(), []Task{{ID: "t", Task: "look it up"}})
	require.NoError(t, err)
	require.True(t, outcomes[0].Success)
	assert.Equal(t, "based on: tool output", outcomes[0].Output)
	assert.Equal(t, 2, outcomes[0].Steps)
}

// TestWorkerNeverSeesBlockedTools verifies the dispatch tool stays out of
// worker subsets even when an allow-list names it explicitly
func TestWorkerNeverSeesBlockedTools(t *testing.T) {
	reg := testRegistry(t, "lookup")
	d := testDispatcher(t, &scriptedProvider{}, reg)
	require.NoError(t, reg.Register(d.Handle()))

	var seenMu sync.Mutex
	var seen []string
	provider := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			seenMu.Lock()
			for _, spec := range req.Tools {
				seen = append(seen, spec.Name)
			}
			seenMu.Unlock()
			return &model.Response{Content: "done"}, nil
		},
	}
	d = testDispatcher(t, provider, reg)

	_, err := d.Dispatch(context.Background(), []Task{
		{ID: "t1", Task: "work", Tools: []string{"lookup", tools.NameDispatch}},
		{ID: "t2", Task: "work"},
	})
	require.NoError(t, err)
	assert.Contains(t, seen, "lookup")
	assert.NotContains(t, seen, tools.NameDispatch)
}

// TestWorkerStepLimit verifies a worker that never stops calling tools is
// cut off with its partial output preserved
func TestWorkerStepLimit(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Handle{
		Name:        "digger",
		Description: "keeps digging",
		Category:    tools.CategoryGeneral,
		Invoke: func(ctx context.Context, input map[string]interface{}) string {
			return strings.Repeat("substantial excavation findings ", 4)
		},
	}))
	provider := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			return &model.Response{ToolCalls: []model.ToolCall{
				{ID: "c", Name: "digger", Parameters: map[string]interface{}{}},
			}}, nil
		},
	}
	d := testDispatcher(t, provider, reg, func(cfg *Config) {
		cfg.MaxSteps = 3
	})

	outcomes, err := d.Dispatch(context.Background(), []Task{{ID: "t", Task: "dig"}})
	require.NoError(t, err)
	require.False(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Err, "step limit")
	assert.Equal(t, 3, outcomes[0].Steps)
	assert.Contains(t, outcomes[0].Output, "excavation", "partial output is recovered")
}

// TestBatchTimeout verifies a stuck batch is cancelled and reported as
// data rather than hanging
func TestBatchTimeout(t *testing.T) {
	provider := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			select {
			case <-time.After(5 * time.Second):
				return &model.Response{Content: "too late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	d := testDispatcher(t, provider, testRegistry(t), func(cfg *Config) {
		cfg.BatchTimeout = 50 * time.Millisecond
	})

	started := time.Now()
	outcomes, err := d.Dispatch(context.Background(), []Task{{ID: "t", Task: "slow"}})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
}

// TestBatchTimeoutKeepsFinishedSiblings verifies the batch timeout only
// fails the still-running worker; workers that already finished keep
// their real outcomes
func TestBatchTimeoutKeepsFinishedSiblings(t *testing.T) {
	provider := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			if strings.Contains(req.Messages[0].Content, "stall") {
				select {
				case <-time.After(5 * time.Second):
					return &model.Response{Content: "too late"}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &model.Response{Content: "quick answer"}, nil
		},
	}
	d := testDispatcher(t, provider, testRegistry(t), func(cfg *Config) {
		cfg.BatchTimeout = 100 * time.Millisecond
	})

	started := time.Now()
	outcomes, err := d.Dispatch(context.Background(), []Task{
		{ID: "a", Task: "look left"},
		{ID: "b", Task: "stall forever"},
		{ID: "c", Task: "look right"},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
	require.Len(t, outcomes, 3)

	assert.True(t, outcomes[0].Success)
	assert.Contains(t, outcomes[0].Output, "quick answer")
	assert.False(t, outcomes[1].Success)
	assert.Equal(t, "b", outcomes[1].TaskID)
	assert.True(t, outcomes[2].Success)
	assert.Contains(t, outcomes[2].Output, "quick answer")
}

// TestWorkerRetryOnTransientError verifies retryable provider errors are
// retried and non-retryable ones fail immediately
func TestWorkerRetryOnTransientError(t *testing.T) {
	provider := &scriptedProvider{}
	provider.callFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		if provider.callCount() < 2 {
			return nil, fmt.Errorf("rate limit exceeded (429)")
		}
		return &model.Response{Content: "recovered"}, nil
	}
	d := testDispatcher(t, provider, testRegistry(t))

	outcomes, err := d.Dispatch(context.Background(), []Task{{ID: "t", Task: "work"}})
	require.NoError(t, err)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "recovered", outcomes[0].Output)

	fatal := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			return nil, fmt.Errorf("invalid api key")
		},
	}
	d = testDispatcher(t, fatal, testRegistry(t))
	outcomes, err = d.Dispatch(context.Background(), []Task{{ID: "t", Task: "work"}})
	require.NoError(t, err)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, 1, fatal.callCount(), "non-retryable errors are not retried")
}

// TestWorkerUsageRecording verifies token usage flows through the recorder
func TestWorkerUsageRecording(t *testing.T) {
	usage := &recordedUsage{}
	provider := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			return &model.Response{
				Content: "done",
				Usage:   &model.TokenUsage{InputTokens: 100, OutputTokens: 25},
			}, nil
		},
	}
	d := testDispatcher(t, provider, testRegistry(t), func(cfg *Config) {
		cfg.Usage = usage
	})

	_, err := d.Dispatch(context.Background(), []Task{{ID: "t", Task: "work"}})
	require.NoError(t, err)
	assert.Equal(t, 1, usage.records)
	assert.Equal(t, 100, usage.input)
	assert.Equal(t, 25, usage.output)
}

// TestBuildReport verifies the aggregated report shape: ordered sections
// under a summary header, with failures carrying their partial output
func TestBuildReport(t *testing.T) {
	report := BuildReport([]Outcome{
		{TaskID: "alpha", Success: true, Output: "result A", Steps: 2, Elapsed: 120 * time.Millisecond},
		{TaskID: "beta", Success: false, Err: "step limit reached after 3 steps", Output: "partial B", Steps: 3, Elapsed: 200 * time.Millisecond},
	}, 250*time.Millisecond)

	assert.True(t, strings.HasPrefix(report, "2 tasks: 1 succeeded, 1 failed"))
	alphaAt := strings.Index(report, "## alpha - ok")
	betaAt := strings.Index(report, "## beta - failed")
	require.GreaterOrEqual(t, alphaAt, 0)
	require.GreaterOrEqual(t, betaAt, 0)
	assert.Less(t, alphaAt, betaAt, "sections follow task order")
	assert.Contains(t, report, "result A")
	assert.Contains(t, report, "Partial output before failure:\npartial B")
}

// TestHandleInvoke verifies the tool-facing entry point parses task rows
// and reports batch rejection as outcome text
func TestHandleInvoke(t *testing.T) {
	provider := &scriptedProvider{
		callFunc: func(ctx context.Context, req model.Request) (*model.Response, error) {
			return &model.Response{Content: "done"}, nil
		},
	}
	d := testDispatcher(t, provider, testRegistry(t))
	handle := d.Handle()
	assert.Equal(t, tools.NameDispatch, handle.Name)

	out := handle.Invoke(context.Background(), map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{"id": "t1", "task": "do a thing"},
		},
	})
	assert.Contains(t, out, "1 tasks: 1 succeeded, 0 failed")

	out = handle.Invoke(context.Background(), map[string]interface{}{})
	assert.True(t, strings.HasPrefix(out, "Error:"))

	out = handle.Invoke(context.Background(), map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{"task": "x", "tier": "galactic"},
		},
	})
	assert.Contains(t, out, "invalid tier")
}

// TestMergeContext verifies the merged scope cancels on whichever parent
// fires first
func TestMergeContext(t *testing.T) {
	primary, cancelPrimary := context.WithCancel(context.Background())
	secondary, cancelSecondary := context.WithCancel(context.Background())
	defer cancelPrimary()

	merged, cancel := mergeContext(primary, secondary)
	defer cancel()

	select {
	case <-merged.Done():
		t.Fatal("merged context cancelled early")
	case <-time.After(10 * time.Millisecond):
	}

	cancelSecondary()
	select {
	case <-merged.Done():
	case <-time.After(time.Second):
		t.Fatal("merged context did not observe secondary cancellation")
	}
}
