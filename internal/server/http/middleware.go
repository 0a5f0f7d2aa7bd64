package httpserver

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/helixir/paper-search-service/internal/domain"
)

type contextKey string

const ctxKeyClientID contextKey = "client_id"

// correlationIDMiddleware ensures every request has a correlation ID.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = middleware.GetReqID(r.Context())
		}
		if correlationID == "" {
			buf := make([]byte, 8)
			if _, err := rand.Read(buf); err != nil {
				// Fallback to timestamp-based ID if crypto/rand fails.
				correlationID = fmt.Sprintf("%x", time.Now().UnixNano())
			} else {
				correlationID = fmt.Sprintf("%x", buf)
			}
		}

		w.Header().Set("X-Correlation-ID", correlationID)
		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// clientContextMiddleware resolves the requester identity (JWT subject or
// client IP) and stores it in the request context.
func (s *Server) clientContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.resolver == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClientID, s.resolver.ClientID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIDFromContext extracts the resolved client identity from the
// request context.
func clientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientID).(string); ok {
		return v
	}
	return ""
}

// rateLimitMiddleware enforces the per-client quota for the given category.
// Over-limit requests get a 429 with Retry-After; allowed requests carry the
// standard X-RateLimit headers.
func (s *Server) rateLimitMiddleware(category string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientID := clientIDFromContext(r.Context())
			if clientID == "" {
				clientID = r.RemoteAddr
			}

			decision := s.limiter.Check(r.Context(), clientID, category)
			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			}

			if !decision.Allowed {
				if s.metrics != nil {
					s.metrics.RecordRateLimitRejection(category)
				}
				s.logger.Warn().
					Str("client_id", clientID).
					Str("category", category).
					Msg("rate limit exceeded")
				writeDomainError(w, domain.NewRateLimitError(category, time.Duration(decision.RetryAfter())*time.Second))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
