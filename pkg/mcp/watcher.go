package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/harun/kirana/internal/observability"
)

// SpecWatcher monitors the merged server-spec file and hot-applies the
// difference: newly enabled servers are connected, removed or disabled
// servers are disconnected and their tools dropped from the registry.
type SpecWatcher struct {
	connector *Connector
	specPath  string
	debounce  time.Duration

	watcher   *fsnotify.Watcher
	done      chan struct{}
	timerMu   sync.Mutex
	timer     *time.Timer
	stopOnce  sync.Once

	specsMu sync.Mutex
	specs   map[string]ServerSpec
}

// SpecWatcherConfig holds configuration for the spec watcher
type SpecWatcherConfig struct {
	Connector *Connector
	SpecPath  string
	Debounce  time.Duration
}

// NewSpecWatcher creates a watcher for a server-spec file
func NewSpecWatcher(cfg SpecWatcherConfig) (*SpecWatcher, error) {
	if cfg.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if cfg.SpecPath == "" {
		return nil, fmt.Errorf("spec path is required")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 200 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &SpecWatcher{
		connector: cfg.Connector,
		specPath:  cfg.SpecPath,
		debounce:  cfg.Debounce,
		watcher:   watcher,
		done:      make(chan struct{}),
		specs:     make(map[string]ServerSpec),
	}, nil
}

// Start applies the current spec file and begins watching for changes
func (w *SpecWatcher) Start(ctx context.Context) error {
	if err := w.apply(ctx); err != nil {
		return err
	}

	// Watch the containing directory: editors replace files on save
	if err := w.watcher.Add(filepath.Dir(w.specPath)); err != nil {
		return fmt.Errorf("failed to watch spec directory: %w", err)
	}

	go w.eventLoop(ctx)

	log.Info().Str("path", w.specPath).Msg("Server spec watcher started")
	return nil
}

// Stop stops the watcher
func (w *SpecWatcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *SpecWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.specPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleApply(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Spec watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *SpecWatcher) scheduleApply(ctx context.Context) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if err := w.apply(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to apply server spec changes")
		}
	})
}

// apply loads the spec file and reconciles the connector against it
func (w *SpecWatcher) apply(ctx context.Context) error {
	specs, err := loadSpecFile(w.specPath)
	if err != nil {
		return err
	}

	w.specsMu.Lock()
	previous := w.specs
	w.specs = specs
	w.specsMu.Unlock()

	// Disconnect servers that vanished, were disabled, or changed spec
	for name, oldSpec := range previous {
		newSpec, still := specs[name]
		if still && newSpec.IsEnabled() && reflect.DeepEqual(oldSpec, newSpec) {
			continue
		}
		if _, err := w.connector.DisconnectOne(name); err != nil {
			log.Debug().Err(err).Str("server", name).Msg("Server was not connected")
		}
	}

	// Connect servers that are new, re-enabled, or changed
	for name, spec := range specs {
		if !spec.IsEnabled() {
			continue
		}
		oldSpec, existed := previous[name]
		if existed && reflect.DeepEqual(oldSpec, spec) {
			continue
		}
		if _, err := w.connector.ConnectOne(ctx, name, spec); err != nil {
			log.Error().Err(err).Str("server", name).Msg("Failed to connect server from spec file")
		}
	}

	observability.RecordConfigAudit(ctx, "spec_reloaded", "watcher", map[string]interface{}{
		"path":    w.specPath,
		"servers": len(specs),
	})

	return nil
}

// loadSpecFile reads a merged server-spec file: a JSON object of server
// name to spec. A missing file means no servers.
func loadSpecFile(path string) (map[string]ServerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ServerSpec{}, nil
		}
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	var specs map[string]ServerSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse spec file: %w", err)
	}
	return specs, nil
}
