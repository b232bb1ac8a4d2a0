package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/internal/tracing"
	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
)

const (
	defaultMaxTasks     = 8
	defaultBatchTimeout = 5 * time.Minute
	defaultWorkerSteps  = 12
	defaultMaxRetries   = 2
	defaultMaxOutputLen = 2000
)

// Config holds the configuration for a dispatcher
type Config struct {
	Registry *tools.Registry
	Resolver *model.Resolver
	Usage    model.UsageRecorder
	Logger   zerolog.Logger

	// MaxTasks bounds one batch. Defaults to 8.
	MaxTasks int

	// BatchTimeout bounds the whole batch; 0 uses the default, negative
	// disables the deadline.
	BatchTimeout time.Duration

	// WorkerTimeout bounds each worker independently of the batch; 0
	// leaves workers bounded by the batch alone.
	WorkerTimeout time.Duration

	// MaxSteps bounds each worker's inner loop. Defaults to 12.
	MaxSteps int

	// MaxRetries is the per-model-call retry budget for transient
	// provider errors. Defaults to 2.
	MaxRetries int

	// MaxOutputLen truncates each tool result fragment when the final
	// output has to be reconstructed. Defaults to 2000.
	MaxOutputLen int

	// DefaultTier is used for tasks that do not name one
	DefaultTier model.Tier

	// DefaultTemperature is used for tasks that do not set one
	DefaultTemperature float64
}

// Dispatcher fans a batch of tasks out to isolated bounded workers and
// folds their outcomes into one ordered report. Worker failures never
// cross task boundaries.
type Dispatcher struct {
	registry *tools.Registry
	resolver *model.Resolver
	usage    model.UsageRecorder
	logger   zerolog.Logger

	maxTasks      int
	batchTimeout  time.Duration
	workerTimeout time.Duration
	maxSteps      int
	maxRetries    int
	maxOutputLen  int
	defaultTier   model.Tier
	defaultTemp   float64
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}

	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = defaultMaxTasks
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultWorkerSteps
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxOutputLen <= 0 {
		cfg.MaxOutputLen = defaultMaxOutputLen
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = model.TierLow
	}

	return &Dispatcher{
		registry:      cfg.Registry,
		resolver:      cfg.Resolver,
		usage:         cfg.Usage,
		logger:        cfg.Logger.With().Str("component", "dispatch").Logger(),
		maxTasks:      cfg.MaxTasks,
		batchTimeout:  cfg.BatchTimeout,
		workerTimeout: cfg.WorkerTimeout,
		maxSteps:      cfg.MaxSteps,
		maxRetries:    cfg.MaxRetries,
		maxOutputLen:  cfg.MaxOutputLen,
		defaultTier:   cfg.DefaultTier,
		defaultTemp:   cfg.DefaultTemperature,
	}, nil
}

// Dispatch runs a batch of tasks concurrently and returns outcomes in
// task order. The error return covers batch-level rejection only; worker
// failures are reported inside their Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []Task) ([]Outcome, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks provided")
	}
	if len(tasks) > d.maxTasks {
		return nil, fmt.Errorf("too many tasks: %d exceeds the limit of %d", len(tasks), d.maxTasks)
	}
	for i := range tasks {
		if tasks[i].Task == "" {
			return nil, fmt.Errorf("task %d has no instruction text", i)
		}
		if tasks[i].ID == "" {
			tasks[i].ID = fmt.Sprintf("task-%d", i+1)
		}
	}

	batchID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate batch id: %w", err)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"kirana.dispatch",
		"dispatch.batch",
		attribute.String("batch_id", batchID),
		attribute.Int("tasks", len(tasks)),
	)
	defer span.End()

	batchCtx := ctx
	if d.batchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, d.batchTimeout)
		defer cancel()
	}

	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("batch", batchID).Logger()
	logger.Info().Int("tasks", len(tasks)).Msg("Dispatching batch")

	started := time.Now()
	outcomes := make([]Outcome, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(index int, task Task) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[index] = Outcome{
						TaskID:  task.ID,
						Success: false,
						Err:     fmt.Sprintf("worker panicked: %v", r),
						Elapsed: time.Since(started),
					}
					logger.Error().
						Str("task", task.ID).
						Interface("panic", r).
						Msg("Worker panicked")
				}
			}()

			workerCtx, cancel := workerContext(batchCtx, d.workerTimeout)
			defer cancel()
			workerCtx = tracing.PropagateToWorker(workerCtx, batchID, task.ID)

			outcomes[index] = d.runWorker(workerCtx, tracing.LoggerFromContext(workerCtx, logger), task)
		}(i, task)
	}

	wg.Wait()

	elapsed := time.Since(started)
	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}
	observability.RecordBatch(elapsed, succeeded == len(outcomes))
	logger.Info().
		Int("succeeded", succeeded).
		Int("failed", len(outcomes)-succeeded).
		Dur("elapsed", elapsed).
		Msg("Batch completed")

	return outcomes, nil
}
