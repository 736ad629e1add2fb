// Package server wraps a token bucket rate limiter for per-connection
// throttling that protects the room from command floods.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter *rate.Limiter
	cfg     RateLimitConfig
}

// newRateLimiter returns nil when limiting is disabled; a nil limiter
// allows everything.
func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.Burst <= 0 {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	every := rate.Limit(float64(cfg.Burst) / interval.Seconds())
	return &rateLimiter{
		limiter: rate.NewLimiter(every, cfg.Burst),
		cfg:     cfg,
	}
}

func (rl *rateLimiter) allow() bool {
	if rl == nil {
		return true
	}
	return rl.limiter.Allow()
}
