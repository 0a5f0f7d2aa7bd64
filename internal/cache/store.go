// Package cache provides a durable store for assembled search responses.
//
// A cached response is a snapshot of one fully deduplicated, sorted result
// page. Entries are keyed by the canonical form of the request so that
// trivially different spellings of the same search share an entry.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/helixir/paper-search-service/internal/database"
	"github.com/helixir/paper-search-service/internal/domain"
)

// DefaultTTL is how long a cached result set stays fresh.
const DefaultTTL = time.Hour

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Store persists assembled search responses.
type Store interface {
	// Get returns the cached response for key, or found=false when the key
	// is absent or expired.
	Get(ctx context.Context, key string) (*domain.SearchResponse, bool, error)

	// Set stores the response under key for ttl.
	Set(ctx context.Context, key string, response *domain.SearchResponse, ttl time.Duration) error

	// Purge deletes expired entries and reports how many were removed.
	Purge(ctx context.Context) (int64, error)
}

// Key builds the canonical cache key for a search request. Two requests
// that differ only in query whitespace or letter case share a key; any
// difference in filters, sort mode, or page yields a distinct key.
func Key(req domain.SearchRequest) string {
	var sb strings.Builder
	sb.WriteString("q=")
	sb.WriteString(strings.ToLower(strings.TrimSpace(req.Query)))
	// Filter fields are serialized in a fixed order so the key is stable.
	fmt.Fprintf(&sb, "|yearFrom=%d", req.Filters.YearFrom)
	fmt.Fprintf(&sb, "|yearTo=%d", req.Filters.YearTo)
	fmt.Fprintf(&sb, "|studyType=%s", strings.ToLower(strings.TrimSpace(req.Filters.StudyType)))
	fmt.Fprintf(&sb, "|openAccessOnly=%t", req.Filters.OpenAccessOnly)
	fmt.Fprintf(&sb, "|humanOnly=%t", req.Filters.HumanOnly)
	fmt.Fprintf(&sb, "|sort=%s", req.Sort)
	fmt.Fprintf(&sb, "|page=%d", req.Page)
	return sb.String()
}
