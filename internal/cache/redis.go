package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/luwei/stockwatch/pkg/logger"
	"github.com/luwei/stockwatch/pkg/redis"
)

// RedisStore implements the snapshot cache on Redis. The daily partition
// is folded into the key and expiry is native, so ClearExpired has
// nothing to do.
type RedisStore struct {
	client *redis.Client
	log    *logger.Logger
	now    func() time.Time
}

// NewRedisStore creates a snapshot cache backed by Redis. The client
// must be enabled.
func NewRedisStore(client *redis.Client, log *logger.Logger) *RedisStore {
	return &RedisStore{client: client, log: log, now: time.Now}
}

func (s *RedisStore) redisKey(key, partition string) string {
	if partition == "" {
		partition = Partition(s.now())
	}
	return fmt.Sprintf("snapshot:%s:%s", partition, key)
}

// Get loads an entry into dest and reports whether one existed.
func (s *RedisStore) Get(ctx context.Context, key, partition string, dest interface{}) (bool, error) {
	raw, err := s.client.Redis().Get(ctx, s.redisKey(key, partition)).Bytes()
	if errors.Is(err, goredis.Nil) {
		s.log.Debugf("cache miss: %s", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	s.log.Debugf("cache hit: %s", key)
	return true, nil
}

// Set writes the value under (key, partition) with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, partition string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := s.client.Redis().Set(ctx, s.redisKey(key, partition), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	s.log.Debugf("cache set: %s", key)
	return nil
}

// Delete removes one entry.
func (s *RedisStore) Delete(ctx context.Context, key, partition string) error {
	if err := s.client.Redis().Del(ctx, s.redisKey(key, partition)).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// ClearExpired is a no-op for Redis, expiry is handled by the server.
func (s *RedisStore) ClearExpired(_ context.Context) (int64, error) {
	return 0, nil
}
