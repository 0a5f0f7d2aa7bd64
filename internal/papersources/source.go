// Package papersources provides interfaces and shared plumbing for academic
// paper source clients.
//
// Each bibliographic backend (PubMed, OpenAlex, Semantic Scholar) implements
// the PaperSource interface, allowing the search pipeline to fan one query
// out to every source concurrently through a unified API.
//
// Example usage:
//
//	source := openalex.New(cfg)
//	params := papersources.SearchParams{
//		Query:    "CRISPR gene editing",
//		Page:     1,
//		PageSize: 20,
//	}
//	result, err := source.Search(ctx, params)
package papersources

import (
	"context"
	"strings"
	"time"

	"github.com/helixir/paper-search-service/internal/domain"
)

// SearchParams defines the parameters for searching academic papers.
type SearchParams struct {
	// Query is the search query string (required).
	Query string

	// Filters narrows the result set. Adapters translate what their
	// backend supports natively and post-filter the rest client-side.
	Filters domain.SearchFilters

	// Page is the 1-indexed result page.
	Page int

	// PageSize is the number of records requested per source.
	// A value of 0 uses the source's default limit.
	PageSize int
}

// Offset returns the 0-indexed record offset for the requested page.
func (p SearchParams) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// SearchResult contains the results from one paper source search.
type SearchResult struct {
	// Records contains the normalized papers returned by the search.
	Records []domain.PaperRecord

	// TotalResults is the total number of papers matching the query as
	// reported by the source API; an estimate for large result sets.
	TotalResults int

	// Source identifies which paper source provided these results.
	Source domain.SourceType

	// SearchDuration is the time taken to execute the search, including
	// network latency and response parsing.
	SearchDuration time.Duration
}

// PaperSource defines the interface that all paper source clients implement.
//
// Implementations must respect context cancellation, apply their own
// upstream rate limiting, and normalize source-specific responses into
// domain.PaperRecord. Errors are returned to the aggregation boundary,
// which degrades the source rather than failing the request.
type PaperSource interface {
	// Search queries the paper source for papers matching the given
	// parameters under the adapter's bounded timeout.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// GetByID retrieves a specific paper by its source-native identifier.
	// Returns an error wrapping domain.ErrNotFound if the paper does not exist.
	GetByID(ctx context.Context, id string) (*domain.PaperRecord, error)

	// SourceType returns the type identifier for this paper source.
	SourceType() domain.SourceType

	// Name returns a human-readable name, used for logging and errors.
	Name() string

	// IsEnabled reports whether this source is available for searches.
	IsEnabled() bool
}

// NativeFilters declares which SearchFilters fields an adapter pushes down
// to its backend. Everything not supported natively is applied by
// ApplyPostFilters on the normalized records.
type NativeFilters struct {
	YearRange  bool
	StudyType  bool
	OpenAccess bool
	HumanOnly  bool
}

// ApplyPostFilters applies the filters the backend could not evaluate
// natively to a normalized record slice. The input slice is filtered in
// place and the shortened slice returned.
func ApplyPostFilters(records []domain.PaperRecord, f domain.SearchFilters, native NativeFilters) []domain.PaperRecord {
	if f.IsZero() {
		return records
	}

	kept := records[:0]
	for _, r := range records {
		if !native.YearRange {
			if f.YearFrom > 0 && (r.Year == 0 || r.Year < f.YearFrom) {
				continue
			}
			if f.YearTo > 0 && r.Year > f.YearTo {
				continue
			}
		}
		if !native.OpenAccess && f.OpenAccessOnly && !r.OpenAccess {
			continue
		}
		if !native.StudyType && f.StudyType != "" && !matchesStudyType(r.PublicationType, f.StudyType) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// matchesStudyType compares publication types case-insensitively,
// treating an unknown record type as a non-match.
func matchesStudyType(publicationType, studyType string) bool {
	if publicationType == "" {
		return false
	}
	return strings.EqualFold(publicationType, studyType)
}
