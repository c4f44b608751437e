package config

import (
	"time"

	"github.com/raaihank/log-sentinel/internal/cache"
	"github.com/raaihank/log-sentinel/internal/content"
	"github.com/raaihank/log-sentinel/internal/index"
	"github.com/raaihank/log-sentinel/internal/logger"
	"github.com/raaihank/log-sentinel/internal/model"
	"github.com/raaihank/log-sentinel/internal/reportdb"
	"github.com/raaihank/log-sentinel/internal/source"
	"github.com/raaihank/log-sentinel/internal/store"
	"github.com/raaihank/log-sentinel/internal/tokenizer"
	"github.com/raaihank/log-sentinel/internal/tracing"
	"github.com/raaihank/log-sentinel/internal/websocket"
	"github.com/raaihank/log-sentinel/internal/worker"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig        `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	Tokenizer tokenizer.Options   `yaml:"tokenizer" mapstructure:"tokenizer"`
	Index     index.Params        `yaml:"index" mapstructure:"index"`
	Model     ModelConfig         `yaml:"model" mapstructure:"model"`
	Cache     cache.Config        `yaml:"cache" mapstructure:"cache"`
	Store     store.Config        `yaml:"store" mapstructure:"store"`
	Reports   reportdb.Config     `yaml:"reports" mapstructure:"reports"`
	Content   content.Config      `yaml:"content" mapstructure:"content"`
	Workers   worker.Config       `yaml:"workers" mapstructure:"workers"`
	Metrics   MetricsConfig       `yaml:"metrics" mapstructure:"metrics"`
	Tracing   tracing.Config      `yaml:"tracing" mapstructure:"tracing"`
	WebSocket websocket.HubConfig `yaml:"websocket" mapstructure:"websocket"`
	RateLimit RateLimitConfig     `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// ModelConfig contains anomaly detection tunables
type ModelConfig struct {
	Threshold           float32           `yaml:"threshold" mapstructure:"threshold"`
	SourceThresholds    []SourceThreshold `yaml:"source_thresholds" mapstructure:"source_thresholds"`
	Context             int               `yaml:"context" mapstructure:"context"`
	ChunkSize           int               `yaml:"chunk_size" mapstructure:"chunk_size"`
	Workers             int               `yaml:"workers" mapstructure:"workers"`
	UnscoredAsAnomalous bool              `yaml:"unscored_as_anomalous" mapstructure:"unscored_as_anomalous"`
	DedupTarget         bool              `yaml:"dedup_target" mapstructure:"dedup_target"`
}

// SourceThreshold overrides the threshold of one source. Source IDs contain
// dots, so overrides are a list rather than a map.
type SourceThreshold struct {
	Source    string  `yaml:"source" mapstructure:"source"`
	Threshold float32 `yaml:"threshold" mapstructure:"threshold"`
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// RateLimitConfig contains per client API rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tokenizer: tokenizer.DefaultOptions(),
		Index:     index.DefaultParams(),
		Model: ModelConfig{
			Threshold: model.DefaultThreshold,
			Context:   model.DefaultContext,
			ChunkSize: model.DefaultChunkSize,
			Workers:   model.DefaultWorkers,
		},
		Cache: cache.Config{
			MaxEntries:   cache.DefaultMaxEntries,
			MaxAge:       24 * time.Hour,
			BuildTimeout: 10 * time.Minute,
		},
		Store: store.Config{
			Driver:         "bolt",
			Path:           "data/models.db",
			RedisURL:       "redis://localhost:6379",
			MaxConnections: 10,
			MinIdleConns:   2,
			TTL:            7 * 24 * time.Hour,
			KeyPrefix:      "logsentinel",
		},
		Reports: reportdb.Config{
			Driver: "sqlite",
			DSN:    "data/reports.db",
		},
		Content: content.DefaultConfig(),
		Workers: worker.Config{
			Workers:    worker.DefaultWorkers,
			QueueSize:  worker.DefaultQueueSize,
			ReportsDir: "data/reports",
			Timeout:    30 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: tracing.Config{
			Enabled:      false,
			ServiceName:  "logsentinel",
			OTLPEndpoint: "localhost:4317",
			SampleRatio:  0.1,
		},
		WebSocket: websocket.HubConfig{
			Enabled:              true,
			BroadcastProgress:    true,
			BroadcastStatus:      true,
			BroadcastConnections: false,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             20,
			IdleTimeout:       time.Hour,
		},
	}
	cfg.Logging.File.Path = "logs/logsentinel.log"
	cfg.Content.SkipMarkers = []string{"TASK [run-logsentinel"}
	return cfg
}

// ModelOptions converts the detection settings into engine options
func (c *Config) ModelOptions() model.Options {
	opts := model.Options{
		Threshold:           c.Model.Threshold,
		Context:             c.Model.Context,
		ChunkSize:           c.Model.ChunkSize,
		Workers:             c.Model.Workers,
		UnscoredAsAnomalous: c.Model.UnscoredAsAnomalous,
		DedupTarget:         c.Model.DedupTarget,
		Index:               c.Index,
		Tokenizer:           c.Tokenizer,
	}
	if len(c.Model.SourceThresholds) > 0 {
		opts.SourceThresholds = make(map[source.ID]float32, len(c.Model.SourceThresholds))
		for _, st := range c.Model.SourceThresholds {
			opts.SourceThresholds[source.ID(st.Source)] = st.Threshold
		}
	}
	return opts
}

// LoggerConfig converts the logging section for logger.New
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		File: &logger.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}
