// Package domain defines the canonical data model shared by the search pipeline.
package domain

import (
	"strings"
)

// SourceType identifies a bibliographic backend.
type SourceType string

// Supported paper sources.
const (
	SourceTypePubMed          SourceType = "pubmed"
	SourceTypeOpenAlex        SourceType = "openalex"
	SourceTypeSemanticScholar SourceType = "semanticscholar"
)

// AllSourceTypes lists every source the service federates over, in the
// order they appear in response status maps.
var AllSourceTypes = []SourceType{
	SourceTypePubMed,
	SourceTypeOpenAlex,
	SourceTypeSemanticScholar,
}

// PaperRecord is the canonical, source-agnostic representation of one
// academic paper. Records are created fresh per request by the source
// adapters and discarded after response assembly; they are never persisted
// by this service.
//
// Zero values mean "absent": Year 0, empty DOI/PMID/URL/Journal/Abstract.
type PaperRecord struct {
	// ID is the source-native external identifier (PMID, OpenAlex work ID,
	// Semantic Scholar paper ID).
	ID string `json:"id"`

	// Source is the backend that originally produced this record.
	Source SourceType `json:"source"`

	// Sources is the set of backends that contributed to this record.
	// It only grows via merge, never shrinks.
	Sources []SourceType `json:"sources"`

	// Title is the paper title. Non-empty for any record that reaches
	// the caller.
	Title string `json:"title"`

	// Authors is the ordered author name list.
	Authors []string `json:"authors"`

	Journal         string `json:"journal,omitempty"`
	Year            int    `json:"year,omitempty"`
	Abstract        string `json:"abstract,omitempty"`
	DOI             string `json:"doi,omitempty"`
	PMID            string `json:"pmid,omitempty"`
	URL             string `json:"url,omitempty"`
	OpenAccess      bool   `json:"openAccess"`
	CitationCount   int    `json:"citationCount"`
	PublicationType string `json:"publicationType,omitempty"`
}

// HasSource reports whether s already contributed to the record.
func (p *PaperRecord) HasSource(s SourceType) bool {
	for _, existing := range p.Sources {
		if existing == s {
			return true
		}
	}
	return false
}

// AddSource adds s to the contributing source set if not already present.
func (p *PaperRecord) AddSource(s SourceType) {
	if !p.HasSource(s) {
		p.Sources = append(p.Sources, s)
	}
}

// SearchFilters narrows a federated search. Filters are immutable for the
// lifetime of one request. Zero values mean "no filter".
type SearchFilters struct {
	YearFrom       int    `json:"yearFrom,omitempty"`
	YearTo         int    `json:"yearTo,omitempty"`
	StudyType      string `json:"studyType,omitempty"`
	OpenAccessOnly bool   `json:"openAccessOnly,omitempty"`
	HumanOnly      bool   `json:"humanOnly,omitempty"`
}

// IsZero reports whether no filter is set.
func (f SearchFilters) IsZero() bool {
	return f == SearchFilters{}
}

// SortMode selects the ordering of the deduplicated result set.
type SortMode string

// Supported sort modes.
const (
	// SortRelevance preserves aggregator order; sources already rank
	// by relevance.
	SortRelevance SortMode = "relevance"
	// SortNewest orders by publication year descending; missing year sorts last.
	SortNewest SortMode = "newest"
	// SortCitations orders by citation count descending.
	SortCitations SortMode = "citations"
)

// ValidSortMode reports whether m is a recognized sort mode.
func ValidSortMode(m SortMode) bool {
	switch m {
	case SortRelevance, SortNewest, SortCitations:
		return true
	}
	return false
}

// SourceStatus reports the per-source outcome of one federated search.
type SourceStatus struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
}

// SearchRequest is the validated input to the search pipeline.
type SearchRequest struct {
	Query   string
	Filters SearchFilters
	Sort    SortMode
	Page    int

	// ClientID identifies the requester for rate limiting and analytics.
	// It never participates in cache keying.
	ClientID string
}

// SearchResponse is the assembled output of the search pipeline.
type SearchResponse struct {
	Results      []PaperRecord               `json:"results"`
	TotalResults int                         `json:"totalResults"`
	Page         int                         `json:"page"`
	TotalPages   int                         `json:"totalPages"`
	Sources      map[SourceType]SourceStatus `json:"sources"`
	Cached       bool                        `json:"cached"`
}

// doiPrefixes are the URL and scheme prefixes stripped during DOI
// normalization, longest first.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI strips protocol/host prefixes from a DOI and case-folds it
// to lowercase. Returns "" for empty input.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}
	lower := strings.ToLower(doi)
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(lower, prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	return strings.ToLower(strings.TrimSpace(doi))
}

// ExtractYear returns the first 4-digit run found in a free-text date
// string ("2020 Jan-Feb", "Spring 2021", "2019-2020"). Returns 0 when no
// 4-digit run exists.
func ExtractYear(date string) int {
	for i := 0; i+4 <= len(date); i++ {
		year := 0
		ok := true
		for j := i; j < i+4; j++ {
			c := date[j]
			if c < '0' || c > '9' {
				ok = false
				break
			}
			year = year*10 + int(c-'0')
		}
		if ok {
			return year
		}
	}
	return 0
}
