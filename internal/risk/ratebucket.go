package risk

import (
	"sync"
	"time"
)

// TokenBucket is a continuously-refilling token bucket. The Manager uses
// one instance to model the external order-rate ceiling the
// order_rate_limit gate enforces against; unlike the gate's own eviction
// list, the bucket doesn't answer "how many in the last second" — it
// answers "is there budget right now" — so the two are complementary
// rather than duplicate bookkeeping.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a bucket with the given burst capacity and
// per-second refill rate.
func NewTokenBucket(capacity, ratePerSecond float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: now,
	}
}

// Allow refills the bucket to `now` and consumes one token if available.
func (tb *TokenBucket) Allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := now.Sub(tb.lastTime).Seconds()
	if elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}
