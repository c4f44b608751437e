package store

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ModelStore persists serialized models by fingerprint
type ModelStore interface {
	Load(ctx context.Context, fp string) ([]byte, error)
	Save(ctx context.Context, fp string, blob []byte) error
	Delete(ctx context.Context, fp string) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Open creates the store selected by config.Driver. The "none" driver
// returns a nil store.
func Open(config *Config, logger *zap.Logger) (ModelStore, error) {
	switch config.Driver {
	case "", "none":
		return nil, nil
	case "bolt":
		s, err := OpenBolt(config.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisStore(config, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", config.Driver)
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].SavedAt.Equal(entries[j].SavedAt) {
			return entries[i].SavedAt.After(entries[j].SavedAt)
		}
		return entries[i].Fingerprint < entries[j].Fingerprint
	})
}
