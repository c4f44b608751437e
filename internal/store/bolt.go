package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/segmentio/encoding/json"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bModels = []byte("models")
	bMeta   = []byte("meta")
)

// BoltStore keeps serialized models in a local bbolt file
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
	saves  atomic.Int64
}

// OpenBolt opens or creates the bbolt file at path
func OpenBolt(path string, logger *zap.Logger) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, e := tx.CreateBucketIfNotExists(bModels); e != nil {
			return e
		}
		_, e := tx.CreateBucketIfNotExists(bMeta)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize bolt store: %w", err)
	}

	logger.Info("Model store opened", zap.String("driver", "bolt"), zap.String("path", path))
	return &BoltStore{db: db, logger: logger}, nil
}

// Load returns the model blob stored under fp
func (s *BoltStore) Load(_ context.Context, fp string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bModels).Get([]byte(fp))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction
		blob = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		s.misses.Add(1)
		return nil, err
	}
	s.hits.Add(1)
	return blob, nil
}

// Save stores blob under fp, replacing any previous model
func (s *BoltStore) Save(_ context.Context, fp string, blob []byte) error {
	meta, err := json.Marshal(Entry{Fingerprint: fp, Size: len(blob), SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if e := tx.Bucket(bModels).Put([]byte(fp), blob); e != nil {
			return e
		}
		return tx.Bucket(bMeta).Put([]byte(fp), meta)
	})
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}

	s.saves.Add(1)
	s.logger.Debug("Model persisted",
		zap.String("fingerprint", fp),
		zap.String("size", humanize.Bytes(uint64(len(blob)))),
	)
	return nil
}

// Delete removes the model stored under fp
func (s *BoltStore) Delete(_ context.Context, fp string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if e := tx.Bucket(bModels).Delete([]byte(fp)); e != nil {
			return e
		}
		return tx.Bucket(bMeta).Delete([]byte(fp))
	})
}

// List returns stored entries, most recently saved first
func (s *BoltStore) List(_ context.Context, limit int) ([]Entry, error) {
	out := []Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bMeta).ForEach(func(_, v []byte) error {
			var e Entry
			if json.Unmarshal(v, &e) == nil {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortEntries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats reports usage counters
func (s *BoltStore) Stats(_ context.Context) (*Stats, error) {
	stats := &Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Saves: s.saves.Load()}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Entries = int64(tx.Bucket(bModels).Stats().KeyN)
		return nil
	})
	return stats, err
}

// Close closes the bolt file
func (s *BoltStore) Close() error {
	return s.db.Close()
}
