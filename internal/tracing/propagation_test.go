package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPropagateToWorker(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithTurnID(ctx, "turn-1")

	workerCtx := PropagateToWorker(ctx, "batch-1", "task-3")

	assert.Equal(t, "trace-1", GetTraceID(workerCtx), "trace ID carries over")
	assert.Equal(t, "turn-1", GetTurnID(workerCtx), "turn ID carries over")
	assert.Equal(t, "batch-1", GetBatchID(workerCtx))
	assert.Equal(t, "task-3", GetWorkerID(workerCtx))
}

func TestPropagateToWorkerWithoutTraceID(t *testing.T) {
	workerCtx := PropagateToWorker(context.Background(), "batch-1", "task-1")
	assert.NotEmpty(t, GetTraceID(workerCtx), "a missing trace ID is minted")
}

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-abc")
	ctx = WithBatchID(ctx, "batch-xyz")

	ctxLogger := PropagateToLogger(ctx, logger)
	ctxLogger.Info().Msg("hello")

	line := buf.String()
	assert.True(t, strings.Contains(line, "trace-abc"))
	assert.True(t, strings.Contains(line, "batch-xyz"))
}

func TestLoggerFromContextEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	plainLogger := LoggerFromContext(context.Background(), logger)
	plainLogger.Info().Msg("plain")

	line := buf.String()
	assert.False(t, strings.Contains(line, "trace_id"))
}

func TestMergeContext(t *testing.T) {
	source := WithTraceID(context.Background(), "src-trace")
	source = WithTurnID(source, "src-turn")

	target := WithTraceID(context.Background(), "kept-trace")
	merged := MergeContext(target, source)

	assert.Equal(t, "kept-trace", GetTraceID(merged), "existing values are not overwritten")
	assert.Equal(t, "src-turn", GetTurnID(merged), "missing values are filled in")
}
