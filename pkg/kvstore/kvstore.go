// Package kvstore wraps Redis for the key-value, counter, and pub/sub needs
// shared by the rate-limit engine, the snapshot cache, and the pub/sub
// gateway.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any error surfaced while the backing Redis connection
// is down, so callers can distinguish "key not found" from "store down"
// without inspecting driver-specific error types.
var ErrUnavailable = errors.New("kvstore: unavailable")

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kvstore: not found")

// incrExpireScript atomically increments a counter and, only on its first
// write, sets its expiry — so a concurrent burst of requests never resets
// the TTL on every call.
const incrExpireScript = `
local v = redis.call('INCR', KEYS[1])
if v == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return v
`

var incrExpire = redis.NewScript(incrExpireScript)

// Store is a thin, typed wrapper over a redis.Client.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Reconnect verifies (or re-establishes) connectivity to Redis.
func (s *Store) Reconnect(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// IncrWithTTL increments key and, if this is the key's first write, sets its
// expiry to ttl. Returns the post-increment value.
func (s *Store) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	v, err := incrExpire.Run(ctx, s.rdb, []string{key}, seconds).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: incr-with-ttl %s: %w", ErrUnavailable, key, err)
	}
	return v, nil
}

// Get returns the string value at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	return v, nil
}

// Set writes value at key with an optional TTL (0 means no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes key, if present.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// TTL returns the remaining time to live for key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	v, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: ttl %s: %w", ErrUnavailable, key, err)
	}
	return v, nil
}

// Expire sets (or refreshes) key's TTL.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: expire %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// HSet sets one or more fields of a hash.
func (s *Store) HSet(ctx context.Context, key string, values map[string]any) error {
	if err := s.rdb.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// HGetAll returns every field of a hash.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %w", ErrUnavailable, key, err)
	}
	return v, nil
}

// HIncrByFloat atomically increments a hash field by delta.
func (s *Store) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	v, err := s.rdb.HIncrByFloat(ctx, key, field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: hincrbyfloat %s.%s: %w", ErrUnavailable, key, field, err)
	}
	return v, nil
}

// HIncrBy atomically increments an integer hash field by delta.
func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	v, err := s.rdb.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: hincrby %s.%s: %w", ErrUnavailable, key, field, err)
	}
	return v, nil
}

// HGet returns one field of a hash, or ErrNotFound if the field or key is
// absent.
func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: hget %s.%s: %w", ErrUnavailable, key, field, err)
	}
	return v, nil
}

// HSetNX sets a hash field only if it does not already exist, reporting
// whether the field was set.
func (s *Store) HSetNX(ctx context.Context, key, field string, value any) (bool, error) {
	v, err := s.rdb.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("%w: hsetnx %s.%s: %w", ErrUnavailable, key, field, err)
	}
	return v, nil
}

// SAdd adds members to a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...any) error {
	if err := s.rdb.SAdd(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("%w: sadd %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// SMembers returns every member of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: smembers %s: %w", ErrUnavailable, key, err)
	}
	return v, nil
}

// SIsMember reports whether member belongs to the set at key.
func (s *Store) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	v, err := s.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("%w: sismember %s: %w", ErrUnavailable, key, err)
	}
	return v, nil
}

// SRem removes members from a set.
func (s *Store) SRem(ctx context.Context, key string, members ...any) error {
	if err := s.rdb.SRem(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("%w: srem %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Publish publishes an already-encoded message on channel.
func (s *Store) Publish(ctx context.Context, channel string, message []byte) error {
	if err := s.rdb.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrUnavailable, channel, err)
	}
	return nil
}

// Subscribe subscribes to one or more channels. The caller owns the
// returned *redis.PubSub and must Close it.
func (s *Store) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, channels...)
}

// Pipeline returns a new pipeline for batching multiple commands.
func (s *Store) Pipeline() redis.Pipeliner {
	return s.rdb.Pipeline()
}
