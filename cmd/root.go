// Package cmd implements the dyncomp command line.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/dyncomp/internal/config"
	"github.com/zjrosen/dyncomp/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config

	logCleanup = func() {}
)

// defaultConfigPath is where a default config is written when none exists.
const defaultConfigPath = ".dyncomp/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "dyncomp",
	Short: "Build component trees from schema documents",
	Long: `dyncomp compiles JSON or YAML schema documents into ordered creation
plans and builds them into live component trees through a serial executor.

Instances are registered under unique identifiers and can be invoked,
renamed and removed by name, from the command line or over HTTP.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(_ *cobra.Command, _ []string) { logCleanup() },
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .dyncomp/config.yaml or ~/.config/dyncomp/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from DYNCOMP_LOG, default debug.log)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("execution.mode", defaults.Execution.Mode)
	viper.SetDefault("execution.queue_capacity", defaults.Execution.QueueCapacity)
	viper.SetDefault("execution.await_timeout", defaults.Execution.AwaitTimeout)
	viper.SetDefault("factory.base_namespace", defaults.Factory.BaseNamespace)
	viper.SetDefault("dispatch.cache_ttl", defaults.Dispatch.CacheTTL)
	viper.SetDefault("dispatch.cache_cleanup", defaults.Dispatch.CacheCleanup)
	viper.SetDefault("api.addr", defaults.API.Addr)
	viper.SetDefault("journal.enabled", defaults.Journal.Enabled)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .dyncomp/config.yaml (current directory)
		// 2. ~/.config/dyncomp/config.yaml (user config)
		if _, err := os.Stat(defaultConfigPath); err == nil {
			viper.SetConfigFile(defaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "dyncomp"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if writeErr := config.WriteDefaultConfig(defaultConfigPath); writeErr == nil {
				viper.SetConfigFile(defaultConfigPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// setup enables logging and validates the loaded config.
func setup(_ *cobra.Command, _ []string) error {
	if os.Getenv("DYNCOMP_DEBUG") != "" || debugFlag {
		logPath := os.Getenv("DYNCOMP_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		if level := os.Getenv("DYNCOMP_LOG_LEVEL"); level != "" {
			log.SetMinLevel(log.ParseLevel(level))
		}
		log.Info(log.CatConfig, "dyncomp starting", "version", version, "config", viper.ConfigFileUsed())
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// configFilePath is the file config edits are written to.
func configFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return defaultConfigPath
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
