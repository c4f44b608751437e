package store

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// RedisStore shares serialized models between processes through Redis
type RedisStore struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
	saves  atomic.Int64
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config *Config, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	s := &RedisStore{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Model store opened",
		zap.String("driver", "redis"),
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize),
		zap.Duration("ttl", config.TTL))

	return s, nil
}

// Load returns the model blob stored under fp
func (s *RedisStore) Load(ctx context.Context, fp string) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.modelKey(fp)).Bytes()
	if err == redis.Nil {
		s.misses.Add(1)
		return nil, ErrNotFound
	} else if err != nil {
		s.misses.Add(1)
		return nil, fmt.Errorf("model lookup failed: %w", err)
	}

	s.hits.Add(1)
	return blob, nil
}

// Save stores blob and its metadata under fp with the configured TTL
func (s *RedisStore) Save(ctx context.Context, fp string, blob []byte) error {
	meta, err := json.Marshal(Entry{Fingerprint: fp, Size: len(blob), SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.modelKey(fp), blob, s.config.TTL)
	pipe.Set(ctx, s.metaKey(fp), meta, s.config.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to persist model", zap.Error(err))
		return fmt.Errorf("failed to save model: %w", err)
	}

	s.saves.Add(1)
	s.logger.Debug("Model persisted", zap.String("fingerprint", fp), zap.Int("bytes", len(blob)))
	return nil
}

// Delete removes the model stored under fp
func (s *RedisStore) Delete(ctx context.Context, fp string) error {
	return s.client.Del(ctx, s.modelKey(fp), s.metaKey(fp)).Err()
}

// List returns stored entries, most recently saved first
func (s *RedisStore) List(ctx context.Context, limit int) ([]Entry, error) {
	keys, err := s.scan(ctx, s.config.KeyPrefix+":meta:*")
	if err != nil {
		return nil, err
	}

	out := []Entry{}
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e Entry
		if json.Unmarshal([]byte(raw), &e) == nil {
			out = append(out, e)
		}
	}

	sortEntries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats reports usage counters
func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Saves: s.saves.Load()}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)

	keys, err := s.scan(ctx, s.config.KeyPrefix+":model:*")
	if err != nil {
		return nil, err
	}
	stats.Entries = int64(len(keys))
	return stats, nil
}

// Clear removes every model under the key prefix
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx, s.config.KeyPrefix+":*")
	if err != nil {
		return err
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := s.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			s.logger.Error("Failed to delete model keys", zap.Error(err))
			return fmt.Errorf("failed to delete model keys: %w", err)
		}
	}

	s.logger.Info("Model store cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan model keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) modelKey(fp string) string {
	return fmt.Sprintf("%s:model:%s", s.config.KeyPrefix, fp)
}

func (s *RedisStore) metaKey(fp string) string {
	return fmt.Sprintf("%s:meta:%s", s.config.KeyPrefix, fp)
}

// maskRedisURL masks the password of a Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.SplitN(url, "@", 2)
		userPart := parts[0]
		if strings.Count(userPart, ":") >= 2 {
			idx := strings.LastIndex(userPart, ":")
			parts[0] = userPart[:idx+1] + "***"
		}
		return strings.Join(parts, "@")
	}
	return url
}
