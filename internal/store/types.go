package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no model is stored under a fingerprint
var ErrNotFound = errors.New("model not found")

// Config selects and configures the persistent model tier
type Config struct {
	Driver         string        `yaml:"driver" mapstructure:"driver"` // none, bolt or redis
	Path           string        `yaml:"path" mapstructure:"path"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// Entry describes one stored model
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Size        int       `json:"size"`
	SavedAt     time.Time `json:"saved_at"`
}

// Stats reports store usage
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Saves   int64   `json:"saves"`
	HitRate float64 `json:"hit_rate"`
	Entries int64   `json:"entries"`
}

func hitRate(hits, misses int64) float64 {
	if total := hits + misses; total > 0 {
		return float64(hits) / float64(total) * 100
	}
	return 0
}
