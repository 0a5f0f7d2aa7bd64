package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/paper-search-service/internal/domain"
)

func sortFixture() []domain.PaperRecord {
	return []domain.PaperRecord{
		{ID: "a", Title: "Paper A", Year: 2020, CitationCount: 50},
		{ID: "b", Title: "Paper B", Year: 2023, CitationCount: 10},
		{ID: "c", Title: "Paper C", Year: 0, CitationCount: 200},
		{ID: "d", Title: "Paper D", Year: 2023, CitationCount: 10},
	}
}

func ids(records []domain.PaperRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestSort_RelevancePreservesOrder(t *testing.T) {
	records := sortFixture()
	Sort(records, domain.SortRelevance)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(records))
}

func TestSort_NewestMissingYearLast(t *testing.T) {
	records := sortFixture()
	Sort(records, domain.SortNewest)
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(records))
}

func TestSort_CitationsDescending(t *testing.T) {
	records := sortFixture()
	Sort(records, domain.SortCitations)
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids(records))
}

func TestSort_TiesKeepInputOrder(t *testing.T) {
	records := []domain.PaperRecord{
		{ID: "x", Year: 2021, CitationCount: 5},
		{ID: "y", Year: 2021, CitationCount: 5},
		{ID: "z", Year: 2021, CitationCount: 5},
	}
	Sort(records, domain.SortNewest)
	assert.Equal(t, []string{"x", "y", "z"}, ids(records))

	Sort(records, domain.SortCitations)
	assert.Equal(t, []string{"x", "y", "z"}, ids(records))
}

func TestSort_NeverChangesLength(t *testing.T) {
	for _, mode := range []domain.SortMode{domain.SortRelevance, domain.SortNewest, domain.SortCitations} {
		records := sortFixture()
		Sort(records, mode)
		assert.Len(t, records, 4)
	}
}
