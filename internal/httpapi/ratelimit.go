package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fechatter/fechatter-go/internal/apperr"
)

// TokenBucket is a per-caller token bucket: bursts up to capacity, refills
// at a steady rate.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{tokens: float64(capacity), capacity: float64(capacity), refillRate: refillRate, lastRefill: time.Now()}
}

func (tb *TokenBucket) allow() (ok bool, remaining int, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, int(tb.tokens), 0
	}
	secondsUntilNext := (1.0 - tb.tokens) / tb.refillRate
	return false, 0, time.Duration(secondsUntilNext * float64(time.Second))
}

// RateLimiter hands out one TokenBucket per caller (keyed by user id, or
// by IP for unauthenticated requests such as signup/signin), sweeping
// buckets idle for more than an hour.
type RateLimiter struct {
	mu              sync.RWMutex
	buckets         map[string]*TokenBucket
	requestsPerMin  int
	burst           int
}

func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	rl := &RateLimiter{buckets: make(map[string]*TokenBucket), requestsPerMin: requestsPerMinute, burst: burst}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) bucket(key string) *TokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	refillRate := float64(rl.requestsPerMin) / 60.0
	b = newTokenBucket(rl.burst, refillRate)
	rl.buckets[key] = b
	return b
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			stale := time.Since(b.lastRefill) > time.Hour
			b.mu.Unlock()
			if stale {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the bucket for the caller identified by claims
// (falling back to client IP pre-authentication), at the
// requests-per-minute rate and burst passed to NewRateLimiter.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if claims, ok := Authenticated(r); ok {
			key = claims.UserID.String()
		}

		allowed, remaining, retryAfter := rl.bucket(key).allow()
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, r, apperr.New(apperr.KindRateLimited, "rate limit exceeded, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
