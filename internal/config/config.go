// Package config provides configuration loading for the fedra engine and CLI:
// engine properties (key=value) and the federation members file (YAML).
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/canonica-labs/fedra/internal/errors"
)

// Config holds the engine configuration.
type Config struct {
	// SourceSelectionCacheSpec selects the cache implementation:
	// "unbounded" (default) or "lru:<n>".
	SourceSelectionCacheSpec string `mapstructure:"sourceSelectionCacheSpec"`

	// JoinWorkerThreads sizes the join scheduler pool.
	JoinWorkerThreads int `mapstructure:"joinWorkerThreads"`

	// UnionWorkerThreads sizes the union scheduler pool.
	UnionWorkerThreads int `mapstructure:"unionWorkerThreads"`

	// BoundJoinBlockSize is the number of left bindings pushed into one
	// VALUES-parameterised sub-query.
	BoundJoinBlockSize int `mapstructure:"boundJoinBlockSize"`

	// EnforceMaxQueryTime is the global query timeout in seconds;
	// zero disables the timeout.
	EnforceMaxQueryTime int `mapstructure:"enforceMaxQueryTime"`

	// EnableMonitoring switches the statistics sink on.
	EnableMonitoring bool `mapstructure:"enableMonitoring"`

	// DebugQueryPlan emits the rewritten plan before execution.
	DebugQueryPlan bool `mapstructure:"debugQueryPlan"`

	// LogLevel is the engine log level (debug, info, warn, error).
	LogLevel string `mapstructure:"logLevel"`

	// LogEncoding is the log output encoding (logfmt, json, plain).
	LogEncoding string `mapstructure:"logEncoding"`
}

// Default returns the engine configuration defaults.
func Default() *Config {
	return &Config{
		SourceSelectionCacheSpec: "unbounded",
		JoinWorkerThreads:        2 * runtime.NumCPU(),
		UnionWorkerThreads:       runtime.NumCPU(),
		BoundJoinBlockSize:       20,
		EnforceMaxQueryTime:      30,
		EnableMonitoring:         false,
		DebugQueryPlan:           false,
		LogLevel:                 "info",
		LogEncoding:              "logfmt",
	}
}

// MaxQueryTime returns the configured timeout as a duration; zero means
// no enforcement.
func (c *Config) MaxQueryTime() time.Duration {
	if c.EnforceMaxQueryTime <= 0 {
		return 0
	}
	return time.Duration(c.EnforceMaxQueryTime) * time.Second
}

// Validate checks configured values for consistency.
func (c *Config) Validate() error {
	if c.JoinWorkerThreads <= 0 {
		return errors.NewConfig("joinWorkerThreads", "must be positive")
	}
	if c.UnionWorkerThreads <= 0 {
		return errors.NewConfig("unionWorkerThreads", "must be positive")
	}
	if c.BoundJoinBlockSize <= 0 {
		return errors.NewConfig("boundJoinBlockSize", "must be positive")
	}
	if c.EnforceMaxQueryTime < 0 {
		return errors.NewConfig("enforceMaxQueryTime", "must not be negative")
	}
	return nil
}

// Load reads engine properties from the given file, falling back to
// defaults for unset keys. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	setDefaults(v, cfg)
	v.SetConfigFile(path)
	v.SetConfigType("properties")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.NewConfig("engine properties", fmt.Sprintf("reading %s: %v", path, err))
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfig("engine properties", fmt.Sprintf("parsing %s: %v", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("sourceSelectionCacheSpec", cfg.SourceSelectionCacheSpec)
	v.SetDefault("joinWorkerThreads", cfg.JoinWorkerThreads)
	v.SetDefault("unionWorkerThreads", cfg.UnionWorkerThreads)
	v.SetDefault("boundJoinBlockSize", cfg.BoundJoinBlockSize)
	v.SetDefault("enforceMaxQueryTime", cfg.EnforceMaxQueryTime)
	v.SetDefault("enableMonitoring", cfg.EnableMonitoring)
	v.SetDefault("debugQueryPlan", cfg.DebugQueryPlan)
	v.SetDefault("logLevel", cfg.LogLevel)
	v.SetDefault("logEncoding", cfg.LogEncoding)
}
