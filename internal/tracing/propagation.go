package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToWorker propagates tracing context into a dispatch worker.
// The trace ID and turn ID carry over; the worker gets its own worker ID
// so its log lines are attributable within the batch.
func PropagateToWorker(ctx context.Context, batchID, workerID string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(ctx, traceID)
	if turnID := GetTurnID(ctx); turnID != "" {
		newCtx = WithTurnID(newCtx, turnID)
	}
	newCtx = WithBatchID(newCtx, batchID)
	newCtx = WithWorkerID(newCtx, workerID)
	return newCtx
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.TurnID != "" {
		logger = logger.With().Str("turn_id", tc.TurnID).Logger()
	}
	if tc.BatchID != "" {
		logger = logger.With().Str("batch_id", tc.BatchID).Logger()
	}
	if tc.WorkerID != "" {
		logger = logger.With().Str("worker_id", tc.WorkerID).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext merges tracing information from source context into target
// context without overwriting values the target already carries.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.TurnID != "" && GetTurnID(target) == "" {
		target = WithTurnID(target, tc.TurnID)
	}
	if tc.BatchID != "" && GetBatchID(target) == "" {
		target = WithBatchID(target, tc.BatchID)
	}
	if tc.WorkerID != "" && GetWorkerID(target) == "" {
		target = WithWorkerID(target, tc.WorkerID)
	}

	return target
}
