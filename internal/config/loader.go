package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from files and environment
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a configuration loader. An empty configPath falls
// back to ~/.kirana/kirana.json.
func NewLoader(configPath string) *Loader {
	v := viper.New()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".kirana", "kirana.json")
		}
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix("KIRANA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{
		configPath: configPath,
		v:          v,
	}
}

// Load reads the configuration, applying defaults where the file or
// individual fields are absent.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			// No config file: defaults plus environment overrides
			l.applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", l.configPath, err)
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	l.applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills derived defaults that depend on other fields
func (l *Loader) applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".kirana")
		} else {
			cfg.DataDir = ".kirana"
		}
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "kirana.log")
	}
	if cfg.WorkspacePath == "" {
		wd, err := os.Getwd()
		if err == nil {
			cfg.WorkspacePath = wd
		}
	}
}

// Save writes the current configuration back to the config file
func (l *Loader) Save(cfg *Config) error {
	dir := filepath.Dir(l.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	l.v.Set("servers", cfg.Servers)
	l.v.Set("servers_file", cfg.ServersFile)
	l.v.Set("models", cfg.Models)
	l.v.Set("turn", cfg.Turn)
	l.v.Set("dispatch", cfg.Dispatch)
	l.v.Set("logging", cfg.Logging)
	l.v.Set("metrics", cfg.Metrics)
	l.v.Set("data_dir", cfg.DataDir)
	l.v.Set("workspace_path", cfg.WorkspacePath)

	if err := l.v.WriteConfigAs(l.configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path of the config file in use
func (l *Loader) GetConfigPath() string {
	return l.configPath
}

// Load is a convenience wrapper around NewLoader(path).Load()
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
