package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	name string
}

func (p *staticProvider) Call(ctx context.Context, request Request) (*Response, error) {
	return &Response{Content: "from " + p.name}, nil
}

func (p *staticProvider) Name() string { return p.name }

// TestParseStep tests the tagged step boundary
func TestParseStep(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]interface{}
		want    StepKind
		wantErr bool
	}{
		{
			name: "text step",
			raw:  map[string]interface{}{"kind": "text", "text": "hello"},
			want: StepText,
		},
		{
			name: "tool call step",
			raw: map[string]interface{}{
				"kind":      "tool_call",
				"tool_name": "file_read",
				"result":    "contents",
				"input":     map[string]interface{}{"path": "/tmp/x"},
			},
			want: StepToolCall,
		},
		{
			name: "error step",
			raw:  map[string]interface{}{"kind": "error", "class": "unknown_tool", "tool_name": "ghost"},
			want: StepError,
		},
		{
			name:    "unknown kind fails fast",
			raw:     map[string]interface{}{"kind": "thinking"},
			wantErr: true,
		},
		{
			name:    "missing kind fails fast",
			raw:     map[string]interface{}{"text": "orphan"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := ParseStep(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownStepKind))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, step.Kind)
		})
	}
}

// TestParseStep_ErrorDefaultsToInternal tests default error classification
func TestParseStep_ErrorDefaultsToInternal(t *testing.T) {
	step, err := ParseStep(map[string]interface{}{"kind": "error", "text": "boom"})
	require.NoError(t, err)
	assert.Equal(t, ErrInternal, step.Class)
}

// TestResolver_Resolve tests exact and fallback resolution
func TestResolver_Resolve(t *testing.T) {
	low := &staticProvider{name: "low"}
	high := &staticProvider{name: "high"}

	r, err := NewResolver(map[Tier]Ref{
		TierLow:  {Provider: low, Tier: TierLow, ModelID: "small-model"},
		TierHigh: {Provider: high, Tier: TierHigh, ModelID: "big-model"},
	})
	require.NoError(t, err)

	ref, err := r.Resolve(TierLow)
	require.NoError(t, err)
	assert.Equal(t, "small-model", ref.ModelID)

	// Medium is unbound; nearest bound tier below is low
	ref, err = r.Resolve(TierMedium)
	require.NoError(t, err)
	assert.Equal(t, "small-model", ref.ModelID)

	ref, err = r.Resolve(TierHigh)
	require.NoError(t, err)
	assert.Equal(t, "big-model", ref.ModelID)

	_, err = r.Resolve(Tier("ultra"))
	assert.Error(t, err)
}

// TestResolver_ResolveAboveLowest tests upward fallback when nothing is
// bound at or below the requested tier
func TestResolver_ResolveAboveLowest(t *testing.T) {
	r, err := NewResolver(map[Tier]Ref{
		TierHigh: {Provider: &staticProvider{name: "high"}, Tier: TierHigh, ModelID: "big-model"},
	})
	require.NoError(t, err)

	ref, err := r.Resolve(TierLow)
	require.NoError(t, err)
	assert.Equal(t, "big-model", ref.ModelID)
}

// TestResolver_Validation tests constructor validation
func TestResolver_Validation(t *testing.T) {
	_, err := NewResolver(nil)
	assert.Error(t, err)

	_, err = NewResolver(map[Tier]Ref{
		TierLow: {Provider: nil, ModelID: "m"},
	})
	assert.Error(t, err)

	_, err = NewResolver(map[Tier]Ref{
		TierLow: {Provider: &staticProvider{}, ModelID: "  "},
	})
	assert.Error(t, err)
}

// TestResolver_Highest tests highest bound tier discovery
func TestResolver_Highest(t *testing.T) {
	r, err := NewResolver(map[Tier]Ref{
		TierLow:    {Provider: &staticProvider{}, ModelID: "a"},
		TierMedium: {Provider: &staticProvider{}, ModelID: "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, TierMedium, r.Highest())
}

// TestTier_Below tests tier ordering
func TestTier_Below(t *testing.T) {
	assert.True(t, TierLow.Below(TierMedium))
	assert.True(t, TierMedium.Below(TierHigh))
	assert.False(t, TierHigh.Below(TierLow))
	assert.False(t, TierHigh.Below(TierHigh))
}

// TestIsRetryableError tests retry classification
func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("invalid api key")))
	assert.True(t, IsRetryableError(errors.New("429 Too Many Requests")))
	assert.True(t, IsRetryableError(errors.New("rate limit exceeded")))
	assert.True(t, IsRetryableError(fmt.Errorf("upstream: %w", errors.New("503 Service Unavailable"))))
	assert.True(t, IsRetryableError(errors.New("read tcp: connection reset by peer")))
}

// TestBackoff tests exponential growth
func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
}

// TestMaxTokensOrDefault tests the response-limit fallback
func TestMaxTokensOrDefault(t *testing.T) {
	assert.Equal(t, int64(DefaultMaxTokens), maxTokensOrDefault(0))
	assert.Equal(t, int64(DefaultMaxTokens), maxTokensOrDefault(-1))
	assert.Equal(t, int64(2048), maxTokensOrDefault(2048))
}
