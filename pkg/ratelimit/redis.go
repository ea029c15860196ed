package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills and spends atomically.
// KEYS[1] bucket key; ARGV rate, capacity, cost, now (seconds, float).
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return allowed
`)

// RedisStore shares buckets across replicas.
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, prefix: "helm-gate:ratelimit:", now: time.Now}
}

// DialRedis builds a client for addr. The caller owns Close.
func DialRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (s *RedisStore) Allow(ctx context.Context, key string, p Policy) (bool, error) {
	rps := p.RPS
	if rps <= 0 {
		rps = 1
	}
	now := float64(s.now().UnixMicro()) / 1e6
	allowed, err := tokenBucket.Run(ctx, s.client, []string{s.prefix + key}, rps, p.Burst, 1, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return allowed == 1, nil
}
