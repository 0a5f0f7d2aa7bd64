// Package search orchestrates the federated search pipeline: cache lookup,
// concurrent source fan-out, deduplication, sorting, and response assembly.
package search

import (
	"sort"

	"github.com/helixir/paper-search-service/internal/domain"
)

// Sort reorders records in place according to the requested mode. Sorting is
// pure reordering; it never merges or drops records.
//
// Relevance preserves the aggregator order, since every source already ranks
// its own results by relevance. Newest sorts by year descending with missing
// years last. Citations sorts by citation count descending. Both comparative
// modes are stable so equal records keep their relevance order.
func Sort(records []domain.PaperRecord, mode domain.SortMode) {
	switch mode {
	case domain.SortNewest:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Year > records[j].Year
		})
	case domain.SortCitations:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].CitationCount > records[j].CitationCount
		})
	}
}
