package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegis-telemetry/aegis/ingest/internal/metrics"
)

// tokenBucketScript performs the lazy refill and conditional decrement as a
// single atomic step server-side, so multiple ingress processes can share
// one budget per key. Bucket state is a hash of {tokens, last_refill} with
// a rolling expiry; losing it on a Redis restart just refills the bucket.
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end

local elapsed = now - last
if elapsed > 0 then
	tokens = math.min(capacity, tokens + elapsed * rate)
end

local allowed = 0
if tokens >= cost then
	tokens = tokens - cost
	allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', key, 120)

return {allowed, tostring(tokens)}
`

// RedisLimiter is the storage-backed limiter variant for deployments with
// more than one ingress process sharing per-key limits.
type RedisLimiter struct {
	client *redis.Client
	rates  Rates
	script *redis.Script

	now func() time.Time
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(redisURL string, rates Rates) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return newRedisLimiter(client, rates), nil
}

func newRedisLimiter(client *redis.Client, rates Rates) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		rates:  rates,
		script: redis.NewScript(tokenBucketScript),
		now:    time.Now,
	}
}

// Allow implements Limiter through the atomic Lua script.
func (l *RedisLimiter) Allow(ctx context.Context, apiKey string, kind Kind, cost int) (Decision, error) {
	rate := l.rates.forKind(kind)
	capacity := rate
	key := "ratelimit:" + apiKey + ":" + string(kind)
	now := l.now()
	nowSecs := float64(now.UnixNano()) / float64(time.Second)

	res, err := l.script.Run(ctx, l.client, []string{key},
		rate, capacity, strconv.FormatFloat(nowSecs, 'f', -1, 64), cost,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	allowed, _ := res[0].(int64)
	tokens := 0.0
	if s, ok := res[1].(string); ok {
		tokens, _ = strconv.ParseFloat(s, 64)
	}

	d := Decision{
		Allowed:   allowed == 1,
		Limit:     int(capacity),
		Remaining: int(tokens),
		ResetAt:   resetAt(now, tokens, capacity, rate),
	}
	if !d.Allowed {
		metrics.RateLimitDenials.WithLabelValues(string(kind)).Inc()
	}
	return d, nil
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
