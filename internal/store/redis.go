package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// moveValueScript implements MoveValue. KEYS holds src, dst, the guard
// hashes and then the hashes to clear; ARGV holds value, the guard count,
// the guard fields and then the guard values.
var moveValueScript = redis.NewScript(`
local g = tonumber(ARGV[2])
for i = 1, g do
  local v = redis.call('HGET', KEYS[2 + i], ARGV[2 + i])
  local want = ARGV[2 + g + i]
  if want == '' then
    if v then return 0 end
  elseif v ~= want then
    return 0
  end
end
if redis.call('LREM', KEYS[1], 0, ARGV[1]) == 0 then
  return 0
end
for i = 3 + g, #KEYS do
  redis.call('HDEL', KEYS[i], ARGV[1])
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// Redis implements Store on top of a go-redis client.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis creates a Store backed by the given Redis client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// RPush appends value to the tail of key.
func (s *Redis) RPush(ctx context.Context, key, value string) (int64, error) {
	n, err := s.client.RPush(ctx, key, value).Result()
	if err != nil {
		return 0, fmt.Errorf("rpush %s: %w", key, err)
	}
	return n, nil
}

// LPop removes the head of key.
func (s *Redis) LPop(ctx context.Context, key string) (string, bool, error) {
	return optional(s.client.LPop(ctx, key).Result())
}

// RPop removes the tail of key.
func (s *Redis) RPop(ctx context.Context, key string) (string, bool, error) {
	return optional(s.client.RPop(ctx, key).Result())
}

// LRem removes occurrences of value from key.
func (s *Redis) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	n, err := s.client.LRem(ctx, key, count, value).Result()
	if err != nil {
		return 0, fmt.Errorf("lrem %s: %w", key, err)
	}
	return n, nil
}

// LLen returns the length of key.
func (s *Redis) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

// LRange returns a slice of key.
func (s *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

// Move uses LMOVE, or BLMOVE when timeout is positive. BLMOVE with a zero
// timeout would block forever, so a non-positive timeout never blocks.
func (s *Redis) Move(ctx context.Context, src, dst string, timeout time.Duration) (string, bool, error) {
	if timeout > 0 {
		return optional(s.client.BLMove(ctx, src, dst, "LEFT", "RIGHT", timeout).Result())
	}
	return optional(s.client.LMove(ctx, src, dst, "LEFT", "RIGHT").Result())
}

// MoveValue runs a Lua script so the guard checks, the removal and the
// append happen as one step on the server.
func (s *Redis) MoveValue(ctx context.Context, src, dst, value string, guards []Guard, clear []string) (bool, error) {
	keys := make([]string, 0, 2+len(guards)+len(clear))
	keys = append(keys, src, dst)
	args := make([]any, 0, 2+2*len(guards))
	args = append(args, value, len(guards))
	for _, g := range guards {
		keys = append(keys, g.Key)
		args = append(args, g.Field)
	}
	for _, g := range guards {
		args = append(args, g.Value)
	}
	keys = append(keys, clear...)

	n, err := moveValueScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("move %s from %s to %s: %w", value, src, dst, err)
	}
	return n == 1, nil
}

// HGet reads a hash field.
func (s *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	return optional(s.client.HGet(ctx, key, field).Result())
}

// HSetNX writes a hash field if it is absent.
func (s *Redis) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	ok, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx %s: %w", key, err)
	}
	return ok, nil
}

// HDel removes a hash field.
func (s *Redis) HDel(ctx context.Context, key, field string) (int64, error) {
	n, err := s.client.HDel(ctx, key, field).Result()
	if err != nil {
		return 0, fmt.Errorf("hdel %s: %w", key, err)
	}
	return n, nil
}

// Exists reports whether key is present.
func (s *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// SetEX sets key with an expiry.
func (s *Redis) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Expire refreshes the expiry of key.
func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("expire %s: %w", key, err)
	}
	return ok, nil
}

// Incr increments key.
func (s *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

// Keys walks the keyspace with SCAN rather than KEYS so large databases are
// not blocked while enumerating.
func (s *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Del removes keys.
func (s *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("del: %w", err)
	}
	return n, nil
}

// Atomic runs the queued commands inside MULTI/EXEC.
func (s *Redis) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return fn(&redisTx{ctx: ctx, pipe: pipe})
	})
	if err != nil {
		return fmt.Errorf("exec transaction: %w", err)
	}
	return nil
}

type redisTx struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (t *redisTx) RPush(key, value string) IntResult {
	return t.pipe.RPush(t.ctx, key, value)
}

func (t *redisTx) LRem(key string, count int64, value string) IntResult {
	return t.pipe.LRem(t.ctx, key, count, value)
}

func (t *redisTx) LLen(key string) IntResult {
	return t.pipe.LLen(t.ctx, key)
}

func (t *redisTx) HSetNX(key, field, value string) BoolResult {
	return t.pipe.HSetNX(t.ctx, key, field, value)
}

func (t *redisTx) HDel(key, field string) IntResult {
	return t.pipe.HDel(t.ctx, key, field)
}

// optional maps redis.Nil to a clean miss.
func optional(val string, err error) (string, bool, error) {
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
