package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per caller.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	limiters sync.Map // caller -> *cachedLimiter
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithTTL sets how long an idle caller's bucket is kept.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// NewRateLimiter allows rps requests per second with the given burst to each
// caller. rps 0 means unlimited.
func NewRateLimiter(rps float64, burst int, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		limit: rate.Limit(rps),
		burst: burst,
		ttl:   5 * time.Minute,
	}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst < 1 {
		rl.burst = 1
	}
	return rl
}

// Middleware rate limits requests by the caller stored by RequireAPIKey.
// It must run after RequireAPIKey.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}

			if rl.limit > 0 && !rl.limiter(caller).Allow() {
				w.Header().Set("Retry-After", "1")
				WriteProblem(w, http.StatusTooManyRequests, "Too Many Requests", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiter(caller string) *rate.Limiter {
	if v, ok := rl.limiters.Load(caller); ok {
		cached := v.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Store(caller, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(rl.ttl),
	})
	return limiter
}
