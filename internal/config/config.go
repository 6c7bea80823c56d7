package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/brandtone/")
	viper.AddConfigPath("$HOME/.brandtone/")

	// Environment variable overrides
	viper.SetEnvPrefix("BRANDTONE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Engine.LongSentenceMaxWords <= 0 {
		return fmt.Errorf("invalid long sentence word limit: %d", config.Engine.LongSentenceMaxWords)
	}

	if config.Upstream.Temperature < 0 || config.Upstream.Temperature > 2 {
		return fmt.Errorf("invalid upstream temperature: %f (must be between 0 and 2)", config.Upstream.Temperature)
	}

	if t := config.QA.Thresholds.ToneAccuracy; t < 0 || t > 1 {
		return fmt.Errorf("invalid tone accuracy threshold: %f (must be between 0 and 1)", t)
	}

	if t := config.QA.Thresholds.Grammar; t < 0 || t > 1 {
		return fmt.Errorf("invalid grammar threshold: %f (must be between 0 and 1)", t)
	}

	if config.Export.Format != "txt" && config.Export.Format != "json" {
		return fmt.Errorf("invalid export format: %s (must be txt or json)", config.Export.Format)
	}

	if config.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch worker count: %d", config.Batch.Workers)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
