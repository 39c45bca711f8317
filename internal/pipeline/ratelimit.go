package pipeline

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-client token-bucket rate, keyed by caller
// user id (or an anonymous fingerprint supplied by the caller).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewRateLimiter constructs a limiter allowing `r` requests per second with
// the given burst, per client key.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (rl *RateLimiter) Name() string { return "rate_limiter" }

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.r, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimiter) Run(ctx context.Context, req *Request) (Decision, error) {
	key := req.Caller.UserID
	if key == "" {
		key = req.SessionID
	}
	l := rl.limiterFor(key)
	if !l.Allow() {
		return blocked("rate_limited", map[string]any{"client": key}), nil
	}
	return clear(nil), nil
}
