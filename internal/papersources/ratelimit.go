package papersources

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket limiter for controlling request rates to
// the external paper source APIs. This is upstream politeness throttling;
// caller-facing admission control lives in internal/ratelimit.
//
// It is safe for concurrent use because the underlying rate.Limiter is
// goroutine-safe for all operations.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond is the sustained rate of requests per second and burst the
// maximum number of tokens consumable at once.
//
// Example configurations:
//   - PubMed without an API key: NewRateLimiter(3, 3)
//   - OpenAlex polite pool: NewRateLimiter(10, 10)
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request is allowed without waiting, consuming one
// token when it is.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// SetRate updates the rate limit while preserving the current burst size.
// Used to back off dynamically when an API signals pressure.
func (r *RateLimiter) SetRate(ratePerSecond float64) {
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
}

// Tokens returns the current number of available tokens, for monitoring.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
