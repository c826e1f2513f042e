package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-backend/internal/config"
)

const keyPrefix = "nl:"

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore implements Store and Locker on Redis.
type RedisStore struct {
	rdb *redis.Client
	log *zap.Logger
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func NewRedisStore(rdb *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, log: log}
}

func entryKey(key string) string { return keyPrefix + "entry:" + key }
func tagKey(tag string) string   { return keyPrefix + "tag:" + tag }
func lockKey(key string) string  { return keyPrefix + "lock:" + key }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, entryKey(key), value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagKey(tag), entryKey(key))
		if ttl > 0 {
			// The tag set outlives its newest member by at most one TTL.
			pipe.Expire(ctx, tagKey(tag), ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) InvalidateTags(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		keys, err := s.rdb.SMembers(ctx, tagKey(tag)).Result()
		if err != nil {
			return fmt.Errorf("cache tag members %s: %w", tag, err)
		}
		keys = append(keys, tagKey(tag))
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache invalidate %s: %w", tag, err)
		}
		s.log.Debug("Cache tag invalidated", zap.String("tag", tag), zap.Int("keys", len(keys)-1))
	}
	return nil
}

func (s *RedisStore) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		// Released on a fresh context so a cancelled request still frees the lock.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, s.rdb, []string{lockKey(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			s.log.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Locker = (*RedisStore)(nil)
)
