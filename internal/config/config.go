package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/kirana/pkg/mcp"
)

// Config is the root kirana configuration
type Config struct {
	// Servers maps capability-server names to their connection specs
	Servers map[string]mcp.ServerSpec `json:"servers" mapstructure:"servers"`

	// ServersFile optionally points at a hot-reloaded server-spec file;
	// it is watched and applied on top of Servers
	ServersFile string `json:"servers_file,omitempty" mapstructure:"servers_file"`

	// Models binds tiers to providers
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Turn controls per-turn state behavior
	Turn TurnConfig `json:"turn" mapstructure:"turn"`

	// Dispatch controls the sub-task dispatcher
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics exposure
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory (usage ledger, logs)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path the filesystem tools are confined to
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// ModelsConfig binds tiers to provider credentials and model ids
type ModelsConfig struct {
	Tiers map[string]TierBinding `json:"tiers" mapstructure:"tiers"`
}

// TierBinding is one tier's provider assignment
type TierBinding struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// TurnConfig holds turn-controller settings
type TurnConfig struct {
	Mode             string   `json:"mode" mapstructure:"mode"` // static, discovery
	FailureThreshold int      `json:"failure_threshold" mapstructure:"failure_threshold"`
	PruneAfterStep   int      `json:"prune_after_step" mapstructure:"prune_after_step"`
	PruneMinMessages int      `json:"prune_min_messages" mapstructure:"prune_min_messages"`
	KeepLast         int      `json:"keep_last" mapstructure:"keep_last"`
	MaxSteps         int      `json:"max_steps" mapstructure:"max_steps"`
	MarkerExceptions []string `json:"marker_exceptions" mapstructure:"marker_exceptions"`
}

// DispatchConfig holds sub-task dispatcher settings
type DispatchConfig struct {
	MaxTasks      int           `json:"max_tasks" mapstructure:"max_tasks"`
	BatchTimeout  time.Duration `json:"batch_timeout" mapstructure:"batch_timeout"`
	WorkerTimeout time.Duration `json:"worker_timeout" mapstructure:"worker_timeout"`
	MaxSteps      int           `json:"max_steps" mapstructure:"max_steps"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	DefaultTier   string        `json:"default_tier" mapstructure:"default_tier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Servers: map[string]mcp.ServerSpec{},
		Models: ModelsConfig{
			Tiers: map[string]TierBinding{},
		},
		Turn: TurnConfig{
			Mode:             "static",
			FailureThreshold: 3,
			PruneAfterStep:   8,
			PruneMinMessages: 12,
			KeepLast:         6,
			MaxSteps:         20,
		},
		Dispatch: DispatchConfig{
			MaxTasks:      8,
			BatchTimeout:  5 * time.Minute,
			WorkerTimeout: 2 * time.Minute,
			MaxSteps:      12,
			MaxRetries:    2,
			DefaultTier:   "low",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Models.Tiers) == 0 {
		return fmt.Errorf("no model tiers configured: at least one tier binding is required")
	}

	for tier, binding := range c.Models.Tiers {
		switch tier {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("invalid tier %q (must be: low, medium, high)", tier)
		}
		switch binding.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("tier %s: invalid provider %q (must be: anthropic, openai)", tier, binding.Provider)
		}
		if binding.Model == "" {
			return fmt.Errorf("tier %s: model is required", tier)
		}
		if binding.APIKey == "" {
			return fmt.Errorf("tier %s: api_key is required", tier)
		}
		if binding.Temperature < 0 || binding.Temperature > 1 {
			return fmt.Errorf("tier %s: temperature must be between 0 and 1", tier)
		}
	}

	if c.Turn.Mode != "" && c.Turn.Mode != "static" && c.Turn.Mode != "discovery" {
		return fmt.Errorf("invalid turn mode: %s", c.Turn.Mode)
	}
	if c.Turn.FailureThreshold < 0 {
		return fmt.Errorf("failure threshold cannot be negative")
	}

	if c.Dispatch.MaxTasks < 1 {
		return fmt.Errorf("dispatch max_tasks must be at least 1")
	}
	if c.Dispatch.DefaultTier != "" {
		switch c.Dispatch.DefaultTier {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("invalid dispatch default tier: %s", c.Dispatch.DefaultTier)
		}
	}

	for name, spec := range c.Servers {
		if name == "" {
			return fmt.Errorf("server name cannot be empty")
		}
		if spec.Command == "" && spec.URL == "" {
			return fmt.Errorf("server %s: needs either url or command", name)
		}
	}

	return nil
}
