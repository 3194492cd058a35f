// Package redisstore implements store.Store on Redis via go-redis.
//
// This is the implementation multi-process deployments should use: Redis
// gives every process the same view, native TTL expiration, atomic multi-key
// DEL, and server-side set operations for the conjunction reverse index.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/surgecache/surgecache/store"
)

// compareAndDelete deletes KEYS[1] only when it still holds ARGV[1]. Keeps
// lock release atomic so a process can never drop a lock another process
// re-acquired after its own expired.
var compareAndDelete = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// Store adapts a go-redis client to store.Store.
type Store struct {
	client redis.UniversalClient
}

// New wraps an existing go-redis client. The caller owns the client's
// lifecycle.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Get returns the value at key, or store.ErrMiss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value at key.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, normalizeTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", key, err)
	}
	return nil
}

// SetNX stores value only if key is absent.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, normalizeTTL(ttl)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: setnx %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete deletes key only if it holds value.
func (s *Store) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redisstore: compare-and-delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Del removes keys atomically.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisstore: del: %w", err)
	}
	return nil
}

// SAdd adds members to the set at key and refreshes its ttl.
func (s *Store) SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, args...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: sadd %s: %w", key, err)
	}
	return nil
}

// SRem removes members from the set at key.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redisstore: srem %s: %w", key, err)
	}
	return nil
}

// SMembers returns the members of the set at key.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: smembers %s: %w", key, err)
	}
	return members, nil
}

// SUnion returns the union of the sets at keys.
func (s *Store) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	members, err := s.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: sunion: %w", err)
	}
	return members, nil
}

// HSet stores a field in the hash at key and refreshes its ttl.
func (s *Store) HSet(ctx context.Context, key, field string, value []byte, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: hset %s: %w", key, err)
	}
	return nil
}

// HGet returns one field of the hash at key, or store.ErrMiss.
func (s *Store) HGet(ctx context.Context, key, field string) ([]byte, error) {
	data, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: hget %s %s: %w", key, field, err)
	}
	return data, nil
}

// HGetAll returns all fields of the hash at key.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(fields))
	for f, v := range fields {
		out[f] = []byte(v)
	}
	return out, nil
}

// HDel removes fields from the hash at key.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("redisstore: hdel %s: %w", key, err)
	}
	return nil
}

// HLen returns the field count of the hash at key.
func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: hlen %s: %w", key, err)
	}
	return n, nil
}

// Scan returns all keys matching pattern using cursor iteration, never the
// blocking KEYS command.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisstore: scan %s: %w", pattern, err)
	}
	return out, nil
}

// Flush removes every key in the current database.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("redisstore: flushdb: %w", err)
	}
	return nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)
