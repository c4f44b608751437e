package cache

import (
	"context"
	"time"

	"github.com/raaihank/log-sentinel/internal/model"
)

const (
	// DefaultMaxEntries bounds the number of resident models
	DefaultMaxEntries = 16
)

// ErrBuildFailed is returned to every caller attached to a failed build.
// The underlying cause is wrapped alongside it.
var ErrBuildFailed = model.ErrBuildFailed

// Builder produces the model of one fingerprint. It runs at most once at a
// time per fingerprint and is never cancelled by the callers waiting on it.
type Builder func(ctx context.Context) (*model.Model, error)

// Store is an optional second tier holding serialized models across
// processes. Load returns an error wrapping store.ErrNotFound on a miss.
type Store interface {
	Load(ctx context.Context, fp string) ([]byte, error)
	Save(ctx context.Context, fp string, blob []byte) error
}

// Config contains cache configuration
type Config struct {
	MaxEntries   int           `yaml:"max_entries" mapstructure:"max_entries"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age"`
	BuildTimeout time.Duration `yaml:"build_timeout" mapstructure:"build_timeout"`
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Shared    int64   `json:"shared"`
	Trained   int64   `json:"trained"`
	Restored  int64   `json:"restored"`
	Failures  int64   `json:"failures"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	InFlight  int     `json:"in_flight"`
	HitRate   float64 `json:"hit_rate"`
}

// call is one in-flight build. model and err are written once before done
// is closed and only read after.
type call struct {
	done    chan struct{}
	model   *model.Model
	err     error
	waiters int
}
