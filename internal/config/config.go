package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	mu     sync.Mutex
	loaded *viper.Viper
)

// Load loads configuration from file and environment variables. Every key
// of GetDefaults can be overridden with LOGSENTINEL_<SECTION>_<KEY>.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// seed viper with every default key so that environment overrides apply
	// to keys absent from the config file
	defaults, err := yaml.Marshal(GetDefaults())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetEnvPrefix("LOGSENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/logsentinel/")
		v.AddConfigPath("$HOME/.logsentinel/")
	}

	if err := v.MergeInConfig(); err != nil {
		// no config file found is not an error, defaults apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	loaded = v
	mu.Unlock()
	return config, nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaults()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
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

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}
	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Model.Threshold < 0 || config.Model.Threshold >= 1 {
		return fmt.Errorf("invalid model threshold: %v (must be in [0,1))", config.Model.Threshold)
	}
	for _, st := range config.Model.SourceThresholds {
		if st.Source == "" {
			return errors.New("source threshold without source")
		}
		if st.Threshold < 0 || st.Threshold >= 1 {
			return fmt.Errorf("invalid threshold for %s: %v (must be in [0,1))", st.Source, st.Threshold)
		}
	}
	if config.Model.Context < 0 {
		return fmt.Errorf("invalid model context: %d", config.Model.Context)
	}
	if config.Index.Dimensions == 0 {
		return errors.New("index dimensions must be positive")
	}
	if config.Tokenizer.MaxTokens <= 0 {
		return fmt.Errorf("invalid tokenizer max_tokens: %d", config.Tokenizer.MaxTokens)
	}

	if config.Cache.MaxEntries <= 0 {
		return fmt.Errorf("invalid cache max_entries: %d", config.Cache.MaxEntries)
	}
	switch config.Store.Driver {
	case "none", "bolt", "redis":
	default:
		return fmt.Errorf("invalid store driver: %s (must be none, bolt, or redis)", config.Store.Driver)
	}
	if config.Reports.Driver != "sqlite" && config.Reports.Driver != "postgres" {
		return fmt.Errorf("invalid reports driver: %s (must be sqlite or postgres)", config.Reports.Driver)
	}

	if config.Workers.Workers <= 0 {
		return fmt.Errorf("invalid worker count: %d", config.Workers.Workers)
	}
	if config.Tracing.SampleRatio < 0 || config.Tracing.SampleRatio > 1 {
		return fmt.Errorf("invalid tracing sample_ratio: %v", config.Tracing.SampleRatio)
	}
	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return errors.New("rate limit requires positive requests_per_second and burst")
	}

	return nil
}

// Watch starts watching the loaded configuration file for changes. Invalid
// changes are passed to onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := loaded
	mu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return errors.New("no configuration file loaded")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		config, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("%s: %w", e.Name, err))
			}
			return
		}
		callback(config)
	})
	v.WatchConfig()
	return nil
}
