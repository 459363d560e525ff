package rate

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	return newTokenBucket(rate, capacity, time.Now)
}

func newTokenBucket(rate, capacity int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow checks if a send can proceed and consumes a token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens = min(tb.tokens+tokensToAdd, tb.capacity)
		tb.lastRefill = now
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Limiter throttles outbound sends per target. A rate of 0 disables it.
type Limiter struct {
	mu      sync.Mutex
	targets map[string]*target
	rate    int
	burst   int
	now     func() time.Time
}

type target struct {
	bucket *TokenBucket
	used   time.Time
}

// NewLimiter creates a limiter allowing rate sends per second to each target,
// with bursts of up to burst.
func NewLimiter(rate, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate, burst int, now func() time.Time) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		targets: make(map[string]*target),
		rate:    rate,
		burst:   burst,
		now:     now,
	}
}

// Allow reports whether one send to key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	t, ok := l.targets[key]
	if !ok {
		t = &target{bucket: newTokenBucket(l.rate, l.burst, l.now)}
		l.targets[key] = t
	}
	t.used = l.now()
	l.mu.Unlock()
	return t.bucket.Allow()
}

// Wait blocks until a send to key may proceed or ctx is done. delayed reports
// whether the call had to wait.
func (l *Limiter) Wait(ctx context.Context, key string) (delayed bool, err error) {
	for !l.Allow(key) {
		delayed = true
		t := time.NewTimer(time.Second / time.Duration(l.rate))
		select {
		case <-ctx.Done():
			t.Stop()
			return delayed, ctx.Err()
		case <-t.C:
		}
	}
	return delayed, nil
}

// Forget drops targets that have not been used for idle and returns how many
// are left.
func (l *Limiter) Forget(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, t := range l.targets {
		if t.used.Before(cutoff) {
			delete(l.targets, key)
		}
	}
	return len(l.targets)
}
