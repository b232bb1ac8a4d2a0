package runtime

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/kirana/internal/config"
	"github.com/harun/kirana/internal/logger"
	"github.com/harun/kirana/internal/observability"
	"github.com/harun/kirana/internal/tracing"
	"github.com/harun/kirana/internal/usage"
	"github.com/harun/kirana/pkg/agent"
	"github.com/harun/kirana/pkg/dispatch"
	"github.com/harun/kirana/pkg/mcp"
	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/tools"
	"github.com/harun/kirana/pkg/turn"
)

// Runtime assembles the execution core: providers, tool registry,
// capability-server connector, dispatcher, and agent runner.
type Runtime struct {
	config *config.Config
	logger *logger.Logger

	registry   *tools.Registry
	index      *tools.Index
	resolver   *model.Resolver
	ledger     *usage.Ledger
	connector  *mcp.Connector
	watcher    *mcp.SpecWatcher
	dispatcher *dispatch.Dispatcher
	runner     *agent.Runner

	metricsSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a runtime instance, initializing components in dependency
// order. Nothing is connected or served until Start.
func New(cfg *config.Config, log *logger.Logger) (*Runtime, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("kirana"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	}

	r := &Runtime{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	if err := r.initialize(); err != nil {
		cancel()
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		return nil, err
	}

	return r, nil
}

func (r *Runtime) initialize() error {
	cfg := r.config
	zl := r.logger.GetZerolog()

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		auditPath := filepath.Join(cfg.DataDir, "audit.log")
		if err := observability.InitAuditLogger(auditPath); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		}
	}

	ledger, err := usage.NewLedger(usage.Config{
		DBPath: filepath.Join(cfg.DataDir, "usage.db"),
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create usage ledger: %w", err)
	}
	r.ledger = ledger
	r.logger.Info().Msg("Usage ledger initialized")

	resolver, err := buildResolver(cfg.Models)
	if err != nil {
		return fmt.Errorf("failed to build model resolver: %w", err)
	}
	r.resolver = resolver

	r.registry = tools.NewRegistry()
	r.index = tools.NewIndex()

	if err := agent.RegisterCoreTools(r.registry, r.index, agent.CoreToolOptions{
		WorkspaceRoot: cfg.WorkspacePath,
	}); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}
	r.logger.Info().Int("tools", r.registry.Len()).Msg("Core tools registered")

	connector, err := mcp.NewConnector(mcp.Config{
		Registry: r.registry,
		Index:    r.index,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	r.connector = connector

	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		Registry:      r.registry,
		Resolver:      r.resolver,
		Usage:         r.ledger,
		Logger:        zl,
		MaxTasks:      cfg.Dispatch.MaxTasks,
		BatchTimeout:  cfg.Dispatch.BatchTimeout,
		WorkerTimeout: cfg.Dispatch.WorkerTimeout,
		MaxSteps:      cfg.Dispatch.MaxSteps,
		MaxRetries:    cfg.Dispatch.MaxRetries,
		DefaultTier:   model.Tier(cfg.Dispatch.DefaultTier),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	r.dispatcher = dispatcher
	if err := r.registry.Register(dispatcher.Handle()); err != nil {
		return fmt.Errorf("failed to register dispatch tool: %w", err)
	}
	r.index.Rebuild(r.registry)
	r.logger.Info().Msg("Dispatcher initialized")

	runner, err := agent.NewRunner(agent.Config{
		Registry: r.registry,
		Resolver: r.resolver,
		Usage:    r.ledger,
		Logger:   zl,
		TurnConfig: turn.Config{
			FailureThreshold: cfg.Turn.FailureThreshold,
			PruneAfterStep:   cfg.Turn.PruneAfterStep,
			PruneMinMessages: cfg.Turn.PruneMinMessages,
			KeepLast:         cfg.Turn.KeepLast,
			MarkerExceptions: cfg.Turn.MarkerExceptions,
		},
		MaxSteps: cfg.Turn.MaxSteps,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	r.runner = runner
	r.logger.Info().Msg("Agent runner initialized")

	return nil
}

// buildResolver turns configured tier bindings into a model resolver
func buildResolver(models config.ModelsConfig) (*model.Resolver, error) {
	refs := make(map[model.Tier]model.Ref, len(models.Tiers))
	for name, binding := range models.Tiers {
		tier := model.Tier(name)
		var provider model.Provider
		switch binding.Provider {
		case "anthropic":
			provider = model.NewAnthropicProvider(binding.APIKey)
		case "openai":
			provider = model.NewOpenAIProvider(binding.APIKey)
		default:
			return nil, fmt.Errorf("tier %s: unknown provider %q", name, binding.Provider)
		}
		refs[tier] = model.Ref{
			Provider:    provider,
			Tier:        tier,
			ModelID:     binding.Model,
			Temperature: binding.Temperature,
		}
	}
	return model.NewResolver(refs)
}

// Start connects capability servers and begins serving metrics
func (r *Runtime) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runtime is already running")
	}
	r.running = true
	r.startTime = time.Now()
	r.mu.Unlock()

	log := r.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Starting kirana runtime")

	bridged := r.connector.ConnectAll(r.ctx, r.config.Servers)
	log.Info().
		Int("servers", len(r.connector.Servers())).
		Int("tools", len(bridged)).
		Msg("Capability servers connected")

	if r.config.ServersFile != "" {
		watcher, err := mcp.NewSpecWatcher(mcp.SpecWatcherConfig{
			Connector: r.connector,
			SpecPath:  r.config.ServersFile,
		})
		if err != nil {
			return fmt.Errorf("failed to create spec watcher: %w", err)
		}
		if err := watcher.Start(r.ctx); err != nil {
			return fmt.Errorf("failed to start spec watcher: %w", err)
		}
		r.watcher = watcher
		log.Info().Str("path", r.config.ServersFile).Msg("Server-spec watcher started")
	}

	if r.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		r.metricsSrv = &http.Server{
			Addr:    r.config.Metrics.Addr,
			Handler: mux,
		}
		go func() {
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("addr", r.config.Metrics.Addr).Msg("Metrics server started")
	}

	log.Info().Msg("Runtime started")
	return nil
}

// Stop tears the runtime down gracefully
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("runtime is not running")
	}
	r.running = false
	r.mu.Unlock()

	log := r.logger.GetZerolog()
	log.Info().Msg("Stopping kirana runtime")

	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop spec watcher")
		}
	}

	if r.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down metrics server")
		}
		cancel()
	}

	r.connector.DisconnectAll()
	r.cancel()

	if r.ledger != nil {
		if err := r.ledger.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close usage ledger")
		}
	}

	if r.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down tracing")
		}
		cancel()
		r.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close audit logger")
	}

	log.Info().Msg("Runtime stopped")
	return nil
}

// Wait blocks until SIGINT or SIGTERM, then stops the runtime
func (r *Runtime) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	r.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := r.Stop(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to stop runtime")
	}
}

// Running reports whether Start has been called and Stop has not
func (r *Runtime) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Uptime returns how long the runtime has been running
func (r *Runtime) Uptime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return 0
	}
	return time.Since(r.startTime)
}

// Runner returns the agent runner
func (r *Runtime) Runner() *agent.Runner {
	return r.runner
}

// Registry returns the tool registry
func (r *Runtime) Registry() *tools.Registry {
	return r.registry
}

// Connector returns the capability-server connector
func (r *Runtime) Connector() *mcp.Connector {
	return r.connector
}

// Ledger returns the usage ledger
func (r *Runtime) Ledger() *usage.Ledger {
	return r.ledger
}
