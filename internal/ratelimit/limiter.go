// Package ratelimit enforces per-client request quotas over a rolling
// window. Counters live in a pluggable store; the limiter fails open when
// the store is unavailable so a degraded database never blocks searches.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CategorySearch is the quota category for federated search requests.
const CategorySearch = "search"

// DefaultWindow is the counting window when none is configured.
const DefaultWindow = time.Minute

// Decision is the outcome of one rate limit check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the configured quota for the category.
	Limit int

	// Remaining is how many requests are left in the current window.
	Remaining int

	// ResetAt is when the current window expires.
	ResetAt time.Time
}

// RetryAfter returns the seconds until the window resets, at least 1.
func (d Decision) RetryAfter() int {
	secs := int(time.Until(d.ResetAt).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store counts requests per client and category within a window. Increment
// records one request and returns the updated count together with the start
// of the window it was counted in. When the previous window has elapsed the
// store resets the counter before counting.
type Store interface {
	Increment(ctx context.Context, clientID, category string, window time.Duration) (count int, windowStart time.Time, err error)
}

// Limiter checks per-client quotas against a Store.
type Limiter struct {
	store    Store
	fallback Store
	limits   map[string]int
	window   time.Duration
	logger   zerolog.Logger

	// onFallback is invoked when the primary store fails and the fallback
	// store answers instead.
	onFallback func()
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFallback sets a secondary store consulted when the primary fails.
func WithFallback(store Store) Option {
	return func(l *Limiter) {
		l.fallback = store
	}
}

// WithFallbackHook registers a callback fired on each primary-store failure
// that was answered by the fallback store or failed open.
func WithFallbackHook(fn func()) Option {
	return func(l *Limiter) {
		l.onFallback = fn
	}
}

// NewLimiter creates a limiter enforcing the given per-category limits over
// window.
func NewLimiter(store Store, limits map[string]int, window time.Duration, logger zerolog.Logger, opts ...Option) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		store:  store,
		limits: limits,
		window: window,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one request for clientID in category and decides whether it
// may proceed. A category with no configured limit is always allowed.
func (l *Limiter) Check(ctx context.Context, clientID, category string) Decision {
	limit, ok := l.limits[category]
	if !ok || limit <= 0 {
		return Decision{Allowed: true, Limit: 0, Remaining: 0, ResetAt: time.Now().Add(l.window)}
	}

	count, windowStart, err := l.store.Increment(ctx, clientID, category, l.window)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("client_id", clientID).
			Str("category", category).
			Msg("rate limit store failed, falling back")
		if l.onFallback != nil {
			l.onFallback()
		}

		if l.fallback == nil {
			// No fallback store: fail open rather than block traffic.
			return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: time.Now().Add(l.window)}
		}
		count, windowStart, err = l.fallback.Increment(ctx, clientID, category, l.window)
		if err != nil {
			return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: time.Now().Add(l.window)}
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(l.window),
	}
}
