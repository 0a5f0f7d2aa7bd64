package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/helixir/paper-search-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Compile-time interface verification.
var _ Store = (*PgStore)(nil)

// PgStore is a PostgreSQL implementation of Store. Counters survive
// restarts and are shared across service instances, so a client cannot
// reset its quota by hitting a different replica.
type PgStore struct {
	db DBTX
}

// NewPgStore creates a new PostgreSQL rate limit store.
func NewPgStore(db DBTX) *PgStore {
	return &PgStore{db: db}
}

// Increment counts one request in a single round trip. The upsert resets
// the window atomically when the previous one has elapsed, so concurrent
// requests from the same client never double-reset.
func (s *PgStore) Increment(ctx context.Context, clientID, category string, window time.Duration) (int, time.Time, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-window)

	query := `
		INSERT INTO rate_limit_windows (client_id, category, window_start, request_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (client_id, category) DO UPDATE SET
			request_count = CASE
				WHEN rate_limit_windows.window_start <= $4 THEN 1
				ELSE rate_limit_windows.request_count + 1
			END,
			window_start = CASE
				WHEN rate_limit_windows.window_start <= $4 THEN $3
				ELSE rate_limit_windows.window_start
			END
		RETURNING request_count, window_start`

	var count int
	var windowStart time.Time
	err := s.db.QueryRow(ctx, query, clientID, category, now, cutoff).Scan(&count, &windowStart)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	return count, windowStart, nil
}

// Purge deletes windows that ended before now and reports how many were
// removed.
func (s *PgStore) Purge(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-window)
	tag, err := s.db.Exec(ctx, `DELETE FROM rate_limit_windows WHERE window_start <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge rate limit windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
