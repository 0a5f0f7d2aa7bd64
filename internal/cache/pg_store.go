package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-search-service/internal/domain"
)

// Compile-time interface verification.
var _ Store = (*PgStore)(nil)

// PgStore is a PostgreSQL implementation of Store. Entries survive service
// restarts; expiry is enforced on read so a stale row is never served even
// before the purge sweep removes it.
type PgStore struct {
	db DBTX
}

// NewPgStore creates a new PostgreSQL cache store.
func NewPgStore(db DBTX) *PgStore {
	return &PgStore{db: db}
}

// Get returns the cached response for key, or found=false when the key is
// absent or expired.
func (s *PgStore) Get(ctx context.Context, key string) (*domain.SearchResponse, bool, error) {
	query := `
		SELECT response
		FROM search_cache
		WHERE cache_key = $1 AND expires_at > now()`

	var payload []byte
	err := s.db.QueryRow(ctx, query, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var response domain.SearchResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	return &response, true, nil
}

// Set stores the response under key for ttl. An existing entry for the same
// key is overwritten with the fresh snapshot.
func (s *PgStore) Set(ctx context.Context, key string, response *domain.SearchResponse, ttl time.Duration) error {
	if response == nil {
		return domain.NewValidationError("response", "response cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO search_cache (cache_key, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE SET
			response = EXCLUDED.response,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`

	if _, err := s.db.Exec(ctx, query, key, payload, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	return nil
}

// Purge deletes expired entries and reports how many were removed.
func (s *PgStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM search_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
