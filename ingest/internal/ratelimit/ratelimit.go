// Package ratelimit implements per-API-key admission control for the ingest
// service. Each (api key, kind) pair owns an independent token bucket with
// burst capacity equal to its refill rate; refill is computed lazily from
// elapsed time at check time, and a denied request consumes nothing.
package ratelimit

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/aegis-telemetry/aegis/ingest/internal/metrics"
)

// Kind selects which bucket of an API key an admission check draws from.
type Kind string

const (
	// KindSingle is the bucket for single-event ingestion requests.
	KindSingle Kind = "single"

	// KindBatch is the bucket for batch ingestion requests.
	KindBatch Kind = "batch"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// ResetAt is when the bucket would be back at full capacity with no
	// further consumption.
	ResetAt time.Time
}

// Limiter is the admission gate contract. Implementations must make the
// refill + check + decrement an atomic step per key so concurrent callers
// on the same key never over-admit.
type Limiter interface {
	Allow(ctx context.Context, apiKey string, kind Kind, cost int) (Decision, error)
	Close() error
}

// Rates holds the refill rates (tokens/second) for the two bucket kinds.
// Burst capacity equals the rate.
type Rates struct {
	Single float64
	Batch  float64
}

// DefaultRates returns the default admission rates.
func DefaultRates() Rates {
	return Rates{Single: 100, Batch: 10}
}

func (r Rates) forKind(kind Kind) float64 {
	if kind == KindBatch {
		return r.Batch
	}
	return r.Single
}

const shardCount = 64

// MemoryLimiter keeps token buckets in process memory behind per-key
// sharded locks. Suitable for a single ingress process; buckets reset on
// restart, which the admission model allows.
type MemoryLimiter struct {
	rates  Rates
	shards [shardCount]*shard

	// now is replaceable in tests.
	now func() time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewMemoryLimiter creates an in-process limiter with the given rates.
func NewMemoryLimiter(rates Rates) *MemoryLimiter {
	l := &MemoryLimiter{rates: rates, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return l
}

func (l *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Allow performs the atomic refill-check-decrement for one key and kind.
func (l *MemoryLimiter) Allow(ctx context.Context, apiKey string, kind Kind, cost int) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	rate := l.rates.forKind(kind)
	capacity := rate
	key := apiKey + ":" + string(kind)
	now := l.now()

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, lastRefill: now}
		s.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*rate)
	}
	b.lastRefill = now

	d := Decision{Limit: int(capacity)}
	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		d.Allowed = true
	} else {
		metrics.RateLimitDenials.WithLabelValues(string(kind)).Inc()
	}
	d.Remaining = int(b.tokens)
	d.ResetAt = resetAt(now, b.tokens, capacity, rate)
	return d, nil
}

// Close implements Limiter.
func (l *MemoryLimiter) Close() error {
	return nil
}

// resetAt computes when a bucket refills to capacity.
func resetAt(now time.Time, tokens, capacity, rate float64) time.Time {
	if tokens >= capacity || rate <= 0 {
		return now
	}
	wait := (capacity - tokens) / rate
	return now.Add(time.Duration(wait * float64(time.Second)))
}

// NoOpLimiter always admits. Used when rate limiting is disabled.
type NoOpLimiter struct {
	rates Rates
}

// NewNoOpLimiter returns a limiter that admits everything while still
// reporting plausible limit headers.
func NewNoOpLimiter(rates Rates) *NoOpLimiter {
	return &NoOpLimiter{rates: rates}
}

// Allow implements Limiter.
func (l *NoOpLimiter) Allow(ctx context.Context, apiKey string, kind Kind, cost int) (Decision, error) {
	limit := int(l.rates.forKind(kind))
	return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: time.Now()}, nil
}

// Close implements Limiter.
func (l *NoOpLimiter) Close() error {
	return nil
}
