package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harun/kirana/pkg/mcp"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateServerSpec validates a capability-server spec
func (v *Validator) ValidateServerSpec(name string, spec mcp.ServerSpec) error {
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}
	if spec.Command == "" && spec.URL == "" {
		return fmt.Errorf("server %s: needs either url or command", name)
	}
	if spec.Command != "" && spec.URL != "" {
		return fmt.Errorf("server %s: url and command are mutually exclusive", name)
	}
	if spec.URL != "" {
		u, err := url.Parse(spec.URL)
		if err != nil {
			return fmt.Errorf("server %s: invalid url: %w", name, err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("server %s: unsupported url scheme %q", name, u.Scheme)
		}
	}
	return nil
}

// ValidateConfig performs comprehensive validation, collecting all problems
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for tier, binding := range cfg.Models.Tiers {
		if binding.Provider != "" {
			if err := v.ValidateAPIKey(binding.APIKey, binding.Provider); err != nil {
				errors = append(errors, fmt.Errorf("tier %s: %w", tier, err))
			}
		}
		if binding.Temperature != 0 {
			if err := v.ValidateTemperature(binding.Temperature); err != nil {
				errors = append(errors, fmt.Errorf("tier %s: %w", tier, err))
			}
		}
	}

	for name, spec := range cfg.Servers {
		if err := v.ValidateServerSpec(name, spec); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Dispatch.MaxTasks < 1 {
		errors = append(errors, fmt.Errorf("dispatch max_tasks must be at least 1"))
	}
	if cfg.Dispatch.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("dispatch max_retries must be >= 0"))
	}
	if cfg.Turn.KeepLast < 1 {
		errors = append(errors, fmt.Errorf("turn keep_last must be at least 1"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
