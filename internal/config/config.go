// Package config provides configuration types, defaults and validation for
// dyncomp.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/dyncomp/internal/factory"
	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/session"
	"github.com/zjrosen/dyncomp/internal/orchestration/tracing"
)

// Config holds all configuration options for dyncomp.
type Config struct {
	Execution ExecutionConfig `mapstructure:"execution"`
	Factory   FactoryConfig   `mapstructure:"factory"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	API       APIConfig       `mapstructure:"api"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ExecutionConfig controls how the build orchestrator runs commands.
type ExecutionConfig struct {
	Mode          string        `mapstructure:"mode"`           // "immediate" (default) or "deferred"
	QueueCapacity int           `mapstructure:"queue_capacity"` // pending commands before Submit blocks
	AwaitTimeout  time.Duration `mapstructure:"await_timeout"`  // upper bound for Await
}

// FactoryConfig holds instance factory settings.
type FactoryConfig struct {
	// BaseNamespace qualifies short type names such as "Label".
	BaseNamespace string `mapstructure:"base_namespace"`
}

// DispatchConfig holds member resolution cache settings.
type DispatchConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheCleanup time.Duration `mapstructure:"cache_cleanup"`
}

// APIConfig holds the HTTP API settings used by `dyncomp serve`.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// JournalConfig holds build journal settings.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is the SQLite file. Default: ~/.dyncomp/journal.db
	Path string `mapstructure:"path"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.dyncomp/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// Provider converts the section into the tracing package's config, filling
// in the default trace file.
func (t TracingConfig) Provider() tracing.Config {
	cfg := tracing.Config{
		Enabled:      t.Enabled,
		Exporter:     t.Exporter,
		FilePath:     t.FilePath,
		OTLPEndpoint: t.OTLPEndpoint,
		SampleRate:   t.SampleRate,
		ServiceName:  t.ServiceName,
	}
	if cfg.FilePath == "" {
		cfg.FilePath = DefaultTracesFilePath()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = tracing.DefaultServiceName
	}
	return cfg
}

// DefaultAPIAddr is where `dyncomp serve` listens by default.
const DefaultAPIAddr = "localhost:19998"

// DefaultDir returns ~/.dyncomp or empty string if home dir unavailable.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dyncomp")
}

// DefaultTracesFilePath returns ~/.dyncomp/traces/traces.jsonl or empty
// string if home dir unavailable.
func DefaultTracesFilePath() string {
	dir := DefaultDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// DefaultJournalPath returns ~/.dyncomp/journal.db or empty string if home
// dir unavailable.
func DefaultJournalPath() string {
	dir := DefaultDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "journal.db")
}

// ValidateExecution checks the execution section.
func ValidateExecution(exec ExecutionConfig) error {
	if exec.Mode != "" {
		if _, err := session.ParseMode(exec.Mode); err != nil {
			return fmt.Errorf("execution.mode must be \"immediate\" or \"deferred\", got %q", exec.Mode)
		}
	}
	if exec.QueueCapacity < 0 {
		return fmt.Errorf("execution.queue_capacity must not be negative, got %d", exec.QueueCapacity)
	}
	if exec.AwaitTimeout < 0 {
		return fmt.Errorf("execution.await_timeout must not be negative, got %s", exec.AwaitTimeout)
	}
	return nil
}

// ValidateDispatch checks the dispatch cache durations.
func ValidateDispatch(d DispatchConfig) error {
	if d.CacheTTL < 0 || d.CacheCleanup < 0 {
		return fmt.Errorf("dispatch.cache_ttl and dispatch.cache_cleanup must not be negative")
	}
	return nil
}

// ValidateJournal checks the journal section.
func ValidateJournal(j JournalConfig) error {
	if j.Enabled && j.Path == "" && DefaultJournalPath() == "" {
		return fmt.Errorf("journal.path is required when no home directory is available")
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t TracingConfig) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	if t.Enabled && t.Exporter == "otlp" && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}
	return nil
}

// Validate runs every section validator.
func (c Config) Validate() error {
	validators := []func() error{
		func() error { return ValidateExecution(c.Execution) },
		func() error { return ValidateDispatch(c.Dispatch) },
		func() error { return ValidateJournal(c.Journal) },
		func() error { return ValidateTracing(c.Tracing) },
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Mode returns the configured execution mode, falling back to immediate.
func (c Config) Mode() session.Mode {
	mode, err := session.ParseMode(c.Execution.Mode)
	if err != nil {
		return session.ModeImmediate
	}
	return mode
}

// JournalPath returns the journal file, or the default location.
func (c Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return DefaultJournalPath()
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Execution: ExecutionConfig{
			Mode:          string(session.ModeImmediate),
			QueueCapacity: 1000,
			AwaitTimeout:  session.DefaultAwaitTimeout,
		},
		Factory: FactoryConfig{
			BaseNamespace: factory.DefaultBaseNamespace,
		},
		Dispatch: DispatchConfig{
			CacheTTL:     10 * time.Minute,
			CacheCleanup: 30 * time.Minute,
		},
		API: APIConfig{
			Addr: DefaultAPIAddr,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "", // Derived from home dir at runtime
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from home dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  tracing.DefaultServiceName,
		},
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# dyncomp configuration

# Build orchestrator
execution:
  mode: immediate        # immediate (wait for each operation) or deferred (queue builds)
  queue_capacity: 1000   # pending commands before callers block
  await_timeout: 30s     # upper bound for await on an identifier

# Short type names such as "Label" resolve to "<base_namespace>.Label"
factory:
  base_namespace: host

# Member resolution cache
dispatch:
  cache_ttl: 10m
  cache_cleanup: 30m

# HTTP API used by 'dyncomp serve'
api:
  addr: localhost:19998

# Build history
journal:
  enabled: true
  # path: ~/.dyncomp/journal.db

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.dyncomp/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#   service_name: dyncomp
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
