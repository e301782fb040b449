// Package ratelimit implements a keyed token-bucket limiter (per-operation,
// per-client-IP) shared across the edge service. Grounded on the teacher's
// ui/security/rate_limiter.go (bypass-header pattern, per-key Allow
// semantics, X-RateLimit-* headers), generalized from an HTTP-transport
// wrapper to a standalone limiter usable from any call site.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cogforge/coc/core"
)

// Config tunes bucket refill rate and burst capacity.
type Config struct {
	RequestsPerMinute int
	BurstSize         int
	// BypassHeader, when non-empty, lets upstream infrastructure that
	// already rate-limited the request skip local enforcement — mirrors
	// SkipIfInfraProvided's X-RateLimit-Limit bypass check.
	BypassHeader string
}

func DefaultConfig() Config {
	return Config{RequestsPerMinute: 600, BurstSize: 60, BypassHeader: "X-RateLimit-Limit"}
}

// Limiter is a keyed token-bucket limiter, safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	cfg     Config
	redis   *core.RedisClient
	logger  core.ComponentAwareLogger
}

// New builds a Limiter. redis may be nil; a non-nil client is stored but
// not consulted: Check counts only against in-process token buckets, so
// limits are not shared across processes.
func New(cfg Config, redis *core.RedisClient, logger core.ComponentAwareLogger) *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter), cfg: cfg, redis: redis, logger: logger}
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		perSecond := float64(l.cfg.RequestsPerMinute) / 60.0
		b = rate.NewLimiter(rate.Limit(perSecond), l.cfg.BurstSize)
		l.buckets[key] = b
	}
	return b
}

// Key combines an operation name and an optional client IP into the
// per-key bucket identity the spec's check(key, client_ip?, cost)
// operation addresses.
func Key(operation, clientIP string) string {
	if clientIP == "" {
		return operation
	}
	return operation + "|" + clientIP
}

// Check consults (and consumes from) the bucket for key, spending cost
// tokens. Returns whether the request is allowed and, when denied, how
// long until the next token is available.
func (l *Limiter) Check(ctx context.Context, key string, cost int) (allowed bool, retryAfter time.Duration) {
	if cost <= 0 {
		cost = 1
	}
	b := l.bucketFor(key)
	reservation := b.ReserveN(time.Now(), cost)
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		if l.logger != nil {
			l.logger.Warn("rate limit exceeded", map[string]interface{}{"key": key, "retry_after_ms": delay.Milliseconds()})
		}
		return false, delay
	}
	return true, 0
}

// Remaining estimates the number of requests still available in the
// current window for key, for the X-RateLimit-Remaining header.
func (l *Limiter) Remaining(key string) int {
	b := l.bucketFor(key)
	tokens := int(b.TokensAt(time.Now()))
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Bypassed reports whether headerValue (the BypassHeader's value from an
// inbound request) signals the request was already rate-limited upstream.
func (c Config) Bypassed(headerValue string) bool {
	return c.BypassHeader != "" && headerValue != ""
}
