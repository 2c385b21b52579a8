package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter hands out one token bucket per session.
type rateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
	every  rate.Limit
	burst  int
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limits: make(map[string]*rate.Limiter),
		every:  limit,
		burst:  burst,
	}
}

func (rl *rateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limits[key]; ok {
		return l
	}
	l := rate.NewLimiter(rl.every, rl.burst)
	rl.limits[key] = l
	return l
}

// Allow reports whether the session may send another message now.
func (rl *rateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Remove drops the session's bucket.
func (rl *rateLimiter) Remove(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limits, key)
}
