package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryLimiter_ExhaustsCapacity(t *testing.T) {
	limiter := NewMemoryLimiter(Rates{Single: 3, Batch: 2})
	limiter.now = fixedClock(time.Unix(1000, 0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "key-a", KindSingle, 1)
		if err != nil {
			t.Fatalf("Allow() request %d error = %v", i+1, err)
		}
		if !d.Allowed {
			t.Errorf("Allow() request %d = false, want true", i+1)
		}
		if d.Limit != 3 {
			t.Errorf("Limit = %d, want 3", d.Limit)
		}
	}

	d, err := limiter.Allow(ctx, "key-a", KindSingle, 1)
	if err != nil {
		t.Fatalf("Allow() over capacity error = %v", err)
	}
	if d.Allowed {
		t.Error("Allow() over capacity = true, want false")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
}

func TestMemoryLimiter_RefillOverTime(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewMemoryLimiter(Rates{Single: 2, Batch: 2})
	limiter.now = fixedClock(now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); !d.Allowed {
			t.Fatalf("Allow() request %d = false, want true", i+1)
		}
	}
	if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); d.Allowed {
		t.Fatal("Allow() over capacity = true, want false")
	}

	// Half a second refills one token at 2 tokens/sec.
	limiter.now = fixedClock(now.Add(500 * time.Millisecond))
	d, err := limiter.Allow(ctx, "key-a", KindSingle, 1)
	if err != nil {
		t.Fatalf("Allow() after refill error = %v", err)
	}
	if !d.Allowed {
		t.Error("Allow() after refill = false, want true")
	}

	// That consumed the refilled token.
	if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); d.Allowed {
		t.Error("Allow() after consuming refill = true, want false")
	}
}

func TestMemoryLimiter_RefillCapsAtCapacity(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewMemoryLimiter(Rates{Single: 2, Batch: 2})
	limiter.now = fixedClock(now)
	ctx := context.Background()

	limiter.Allow(ctx, "key-a", KindSingle, 1)

	// A long idle period refills to capacity, never beyond.
	limiter.now = fixedClock(now.Add(time.Hour))
	for i := 0; i < 2; i++ {
		if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); !d.Allowed {
			t.Fatalf("Allow() request %d after idle = false, want true", i+1)
		}
	}
	if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); d.Allowed {
		t.Error("Allow() request 3 after idle = true, want false (capacity is 2)")
	}
}

func TestMemoryLimiter_DenialConsumesNothing(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewMemoryLimiter(Rates{Single: 2, Batch: 2})
	limiter.now = fixedClock(now)
	ctx := context.Background()

	limiter.Allow(ctx, "key-a", KindSingle, 1)
	limiter.Allow(ctx, "key-a", KindSingle, 1)

	// Repeated denials must not dig the bucket into debt.
	for i := 0; i < 10; i++ {
		if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); d.Allowed {
			t.Fatalf("Allow() denial %d = true, want false", i+1)
		}
	}

	limiter.now = fixedClock(now.Add(500 * time.Millisecond))
	d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1)
	if !d.Allowed {
		t.Error("Allow() after refill = false, want true (denials must not consume tokens)")
	}
}

func TestMemoryLimiter_ZeroCostPeeks(t *testing.T) {
	limiter := NewMemoryLimiter(Rates{Single: 3, Batch: 2})
	limiter.now = fixedClock(time.Unix(1000, 0))
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); !d.Allowed {
		t.Fatal("Allow() = false, want true")
	}

	// A zero-cost check reports bucket state without consuming.
	for i := 0; i < 10; i++ {
		d, err := limiter.Allow(ctx, "key-a", KindSingle, 0)
		if err != nil {
			t.Fatalf("Allow() cost 0 error = %v", err)
		}
		if !d.Allowed {
			t.Fatal("Allow() cost 0 = false, want true")
		}
		if d.Remaining != 2 {
			t.Fatalf("Remaining after peek %d = %d, want 2", i+1, d.Remaining)
		}
	}
}

func TestMemoryLimiter_KeysAndKindsIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(Rates{Single: 1, Batch: 1})
	limiter.now = fixedClock(time.Unix(1000, 0))
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); !d.Allowed {
		t.Fatal("Allow(key-a, single) = false, want true")
	}
	if d, _ := limiter.Allow(ctx, "key-a", KindSingle, 1); d.Allowed {
		t.Fatal("Allow(key-a, single) second = true, want false")
	}

	// Same key, other kind: untouched bucket.
	if d, _ := limiter.Allow(ctx, "key-a", KindBatch, 1); !d.Allowed {
		t.Error("Allow(key-a, batch) = false, want true")
	}

	// Other key, same kind: untouched bucket.
	if d, _ := limiter.Allow(ctx, "key-b", KindSingle, 1); !d.Allowed {
		t.Error("Allow(key-b, single) = false, want true")
	}
}

func TestMemoryLimiter_ConcurrentSameKey(t *testing.T) {
	limiter := NewMemoryLimiter(Rates{Single: 100, Batch: 10})
	limiter.now = fixedClock(time.Unix(1000, 0))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Allow(ctx, "key-a", KindSingle, 1)
			if err != nil {
				t.Errorf("Allow() error = %v", err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("concurrent Allow() admitted %d requests, want exactly 100", allowed)
	}
}

func TestResetAt(t *testing.T) {
	now := time.Unix(1000, 0)

	if got := resetAt(now, 5, 5, 5); !got.Equal(now) {
		t.Errorf("resetAt(full) = %v, want %v", got, now)
	}

	// 3 missing tokens at 2 tokens/sec take 1.5s to refill.
	want := now.Add(1500 * time.Millisecond)
	if got := resetAt(now, 1, 4, 2); !got.Equal(want) {
		t.Errorf("resetAt(partial) = %v, want %v", got, want)
	}
}

func TestNoOpLimiter(t *testing.T) {
	limiter := NewNoOpLimiter(DefaultRates())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := limiter.Allow(ctx, "any-key", KindSingle, 1)
		if err != nil {
			t.Errorf("Allow() error = %v, want nil", err)
		}
		if !d.Allowed {
			t.Errorf("Allow() = false, want true")
		}
		if d.Limit != 100 {
			t.Errorf("Limit = %d, want 100", d.Limit)
		}
	}

	if err := limiter.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}
