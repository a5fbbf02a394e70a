// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/foldworks/designd/internal/design"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig            `mapstructure:"server"`
	Auth    AuthConfig              `mapstructure:"auth"`
	Jobs    JobsConfig              `mapstructure:"jobs"`
	Store   StoreConfig             `mapstructure:"store"`
	Tools   map[string]ToolConfig   `mapstructure:"tools"`
	Logging LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// JobsConfig governs the job manager and supervisor.
type JobsConfig struct {
	DataDir            string `mapstructure:"data_dir"`
	MaxRunning         int    `mapstructure:"max_running"`
	GracePeriodSeconds int    `mapstructure:"grace_period_seconds"`
	LogTailDefault     int    `mapstructure:"log_tail_default"`
}

// StoreConfig selects and configures the job store backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ToolConfig holds the external command template for one job kind. The first
// element is the program, the rest leading arguments.
type ToolConfig struct {
	Command []string `mapstructure:"command"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DESIGND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("jobs.data_dir", "jobs")
	v.SetDefault("jobs.max_running", 2)
	v.SetDefault("jobs.grace_period_seconds", 10)
	v.SetDefault("jobs.log_tail_default", 50)
	v.SetDefault("store.driver", "fs")
	v.SetDefault("store.table", "design_jobs")
	v.SetDefault("logging.development", true)
	v.SetDefault("tools.prediction.command",
		[]string{"python3", "scripts/chai1_structure_prediction.py"})
	v.SetDefault("tools.batch-prediction.command",
		[]string{"python3", "scripts/chai1_structure_prediction.py"})
	v.SetDefault("tools.scaffolding.command",
		[]string{"python3", "scripts/enzyme_active_site_scaffolding.py"})
	v.SetDefault("tools.binder.command",
		[]string{"python3", "scripts/small_molecule_binder.py"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.DataDir == "" {
		return fmt.Errorf("jobs.data_dir must be set")
	}
	if c.Jobs.MaxRunning <= 0 {
		return fmt.Errorf("jobs.max_running must be > 0")
	}
	if c.Jobs.GracePeriodSeconds <= 0 {
		return fmt.Errorf("jobs.grace_period_seconds must be > 0")
	}
	switch c.Store.Driver {
	case "fs", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.driver is postgres")
		}
	default:
		return fmt.Errorf("store.driver must be one of fs, memory, postgres")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for _, kind := range []design.Kind{
		design.KindPrediction,
		design.KindScaffolding,
		design.KindBinder,
		design.KindBatchPrediction,
	} {
		if _, err := c.ToolFor(kind); err != nil {
			return err
		}
	}
	return nil
}

// ToolFor resolves the command template configured for a job kind.
func (c Config) ToolFor(kind design.Kind) (design.ToolCommand, error) {
	tool, ok := c.Tools[string(kind)]
	if !ok || len(tool.Command) == 0 {
		return design.ToolCommand{}, fmt.Errorf("tools.%s.command is not configured", kind)
	}
	return design.ToolCommand{
		Program: tool.Command[0],
		Args:    tool.Command[1:],
	}, nil
}

// GracePeriod converts the configured cancel grace period into a Duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.Jobs.GracePeriodSeconds) * time.Second
}
