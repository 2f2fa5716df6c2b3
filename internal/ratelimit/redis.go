package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript bumps the counter and stamps the window TTL on first use.
// PTTL can report -1 if a previous PEXPIRE was lost; re-arm it so no key
// lives forever.
const incrementScript = `
local count = redis.call("INCR", KEYS[1])
if tonumber(count) == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

const peekScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
	return false
end
local count = redis.call("GET", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
return {tonumber(count), ttl}
`

// decrementScript rolls back one request. A decrement that races the key's
// expiry is a no-op, and the count is clamped at zero.
const decrementScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
	local count = redis.call("DECR", KEYS[1])
	if tonumber(count) < 0 then
		redis.call("SET", KEYS[1], 0, "KEEPTTL")
	end
end
return 0
`

// RedisStore is a CounterStore backed by Redis, for deployments that want
// counters shared across server instances. Window state is kept in the key's
// TTL; all operations run as Lua scripts so concurrent increments for one
// key are atomic on the Redis side.
//
// Callers treat store errors as fail-open: policies admit the request and
// log when Redis is unreachable.
type RedisStore struct {
	client    *redis.Client
	increment *redis.Script
	peek      *redis.Script
	decrement *redis.Script
	now       func() time.Time
}

// NewRedisStore creates a Redis-backed counter store. The store takes
// ownership of the client and closes it on Close.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		increment: redis.NewScript(incrementScript),
		peek:      redis.NewScript(peekScript),
		decrement: redis.NewScript(decrementScript),
		now:       time.Now,
	}
}

// Increment adds one request to the key's counter, creating it with the
// window as TTL when absent or expired.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Snapshot, error) {
	res, err := s.increment.Run(ctx, s.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis increment %q: %w", key, err)
	}
	return s.parseSnapshot(res)
}

// Peek returns the live snapshot for the key without consuming a slot.
func (s *RedisStore) Peek(ctx context.Context, key string) (Snapshot, bool, error) {
	res, err := s.peek.Run(ctx, s.client, []string{key}).Result()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis peek %q: %w", key, err)
	}
	snap, err := s.parseSnapshot(res)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Decrement rolls back one counted request if the key's window is still live.
func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	if err := s.decrement.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("redis decrement %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() {
	if err := s.client.Close(); err != nil {
		slog.Error("Failed to close redis client", "error", err)
	}
}

func (s *RedisStore) parseSnapshot(res interface{}) (Snapshot, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Snapshot{}, fmt.Errorf("redis counter script: unexpected reply %v", res)
	}
	count, ok1 := arr[0].(int64)
	ttl, ok2 := arr[1].(int64)
	if !ok1 || !ok2 {
		return Snapshot{}, fmt.Errorf("redis counter script: unexpected reply %v", res)
	}
	return Snapshot{
		Count:   int(count),
		ResetAt: s.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}
