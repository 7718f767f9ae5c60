package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete engine configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Resolver    ResolverConfig    `json:"resolver" mapstructure:"resolver"`
	Tracing     TracingConfig     `json:"tracing" mapstructure:"tracing"`
	Validator   ValidatorConfig   `json:"validator" mapstructure:"validator"`
	Incremental IncrementalConfig `json:"incremental" mapstructure:"incremental"`
	Workers     WorkersConfig     `json:"workers" mapstructure:"workers"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
}

// ResolverConfig contains connection resolution configuration
type ResolverConfig struct {
	// PatternsFile is an optional PATTERNS.toml overriding the built-in
	// indirect-connection patterns
	PatternsFile string `json:"patternsFile" mapstructure:"patternsFile"`
	// AnswersFile is an optional answers.toml with pre-recorded oracle answers
	AnswersFile string `json:"answersFile" mapstructure:"answersFile"`
	// OracleBatchSize caps how many questions are presented per oracle round-trip
	OracleBatchSize int `json:"oracleBatchSize" mapstructure:"oracleBatchSize"`
}

// TracingConfig contains pathway tracing configuration
type TracingConfig struct {
	// MaxPathLength truncates traces that wander into cross-cutting
	// infrastructure
	MaxPathLength int `json:"maxPathLength" mapstructure:"maxPathLength"`
	// RulesFile is an optional rules.yaml overriding the built-in
	// classification taxonomies
	RulesFile string `json:"rulesFile" mapstructure:"rulesFile"`
	// SharedCallerThreshold is the minimum number of distinct calling files
	// for a symbol to be treated as shared infrastructure
	SharedCallerThreshold int `json:"sharedCallerThreshold" mapstructure:"sharedCallerThreshold"`
}

// ValidatorConfig contains validation configuration
type ValidatorConfig struct {
	// MaxPasses bounds resolve/trace/validate iterations before giving up on
	// convergence
	MaxPasses int `json:"maxPasses" mapstructure:"maxPasses"`
}

// IncrementalConfig contains incremental update configuration
type IncrementalConfig struct {
	// MaxChangedSymbols forces a full rebuild when the change set is unbounded
	MaxChangedSymbols int `json:"maxChangedSymbols" mapstructure:"maxChangedSymbols"`
}

// WorkersConfig contains worker pool configuration
type WorkersConfig struct {
	ResolveWorkers int `json:"resolveWorkers" mapstructure:"resolveWorkers"`
	TraceWorkers   int `json:"traceWorkers" mapstructure:"traceWorkers"`
	QueueSize      int `json:"queueSize" mapstructure:"queueSize"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		RepoRoot: ".",
		Resolver: ResolverConfig{
			OracleBatchSize: 20,
		},
		Tracing: TracingConfig{
			MaxPathLength:         30,
			SharedCallerThreshold: 2,
		},
		Validator: ValidatorConfig{
			MaxPasses: 3,
		},
		Incremental: IncrementalConfig{
			MaxChangedSymbols: 5000,
		},
		Workers: WorkersConfig{
			ResolveWorkers: 4,
			TraceWorkers:   4,
			QueueSize:      256,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .tracer/config.json
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 1)
	v.SetDefault("repoRoot", ".")
	v.SetDefault("resolver.oracleBatchSize", 20)
	v.SetDefault("tracing.maxPathLength", 30)
	v.SetDefault("tracing.sharedCallerThreshold", 2)
	v.SetDefault("validator.maxPasses", 3)
	v.SetDefault("incremental.maxChangedSymbols", 5000)
	v.SetDefault("workers.resolveWorkers", 4)
	v.SetDefault("workers.traceWorkers", 4)
	v.SetDefault("workers.queueSize", 256)
	v.SetDefault("logging.format", "human")
	v.SetDefault("logging.level", "info")

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, ".tracer"))

	if err := v.ReadInConfig(); err != nil {
		// If config doesn't exist, return default config
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to .tracer/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ".tracer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Tracing.MaxPathLength <= 0 {
		return &ConfigError{Field: "tracing.maxPathLength", Message: "must be positive"}
	}
	if c.Workers.ResolveWorkers <= 0 || c.Workers.TraceWorkers <= 0 {
		return &ConfigError{Field: "workers", Message: "worker counts must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
