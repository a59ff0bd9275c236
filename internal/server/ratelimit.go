package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/playground/internal/logging"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	Enabled           bool
}

// DefaultRateLimit bounds how fast one client may create sessions.
var DefaultRateLimit = RateLimitConfig{
	RequestsPerMinute: 60,
	BurstSize:         20,
	Enabled:           true,
}

// RateLimiter implements token bucket rate limiting keyed by client.
type RateLimiter struct {
	config RateLimitConfig
	logger logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig, logger logging.Logger) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultRateLimit.RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = DefaultRateLimit.BurstSize
	}
	return &RateLimiter{
		config:  config,
		logger:  logger,
		now:     time.Now,
		buckets: make(map[string]*TokenBucket),
	}
}

// Check consumes a token for key (usually the client IP).
func (rl *RateLimiter) Check(key string) RateLimitResult {
	if !rl.config.Enabled {
		return RateLimitResult{Allowed: true, Remaining: rl.config.BurstSize}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &TokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[key] = bucket
	}
	bucket.lastAccess = now

	perSecond := float64(rl.config.RequestsPerMinute) / 60
	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * perSecond
	if capacity := float64(rl.config.BurstSize); bucket.tokens > capacity {
		bucket.tokens = capacity
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return RateLimitResult{Allowed: true, Remaining: int(bucket.tokens)}
	}

	wait := time.Duration((1 - bucket.tokens) / perSecond * float64(time.Second))
	return RateLimitResult{Allowed: false, RetryAfter: wait}
}

// Cleanup removes buckets not used since before cutoff.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for key, bucket := range rl.buckets {
		if bucket.lastAccess.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Buckets returns the number of tracked clients.
func (rl *RateLimiter) Buckets() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimitMiddleware rejects requests over the limit with 429.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getClientIP(r)
			result := limiter.Check(clientIP)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				seconds := int(result.RetryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				limiter.logger.Warn(r.Context(), nil, "Rate limit exceeded",
					"client_ip", clientIP,
					"path", r.URL.Path,
					"method", r.Method)
				writeError(w, http.StatusTooManyRequests, "ERR_RATE_LIMITED", "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
