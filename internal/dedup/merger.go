package dedup

import (
	"github.com/helixir/paper-search-service/internal/domain"
)

// bibliographicAuthority is the source whose structured metadata (title,
// authors, journal, publication type) wins during a merge.
const bibliographicAuthority = domain.SourceTypePubMed

// citationAuthority is the source trusted for citation-graph accuracy.
// Because merged counts carry a monotonic floor, its preference reduces to
// taking the maximum observed count.
const citationAuthority = domain.SourceTypeSemanticScholar

// MergeStats reports what happened during one deduplication pass.
type MergeStats struct {
	// Input is the number of records fed in.
	Input int

	// Merged is the number of records folded into an existing entry.
	Merged int
}

// Merger folds records describing the same paper into single entries.
// A Merger accumulates state for one request and is not safe for
// concurrent use; create a fresh one per deduplication pass.
type Merger struct {
	entries []domain.PaperRecord
	byDOI   map[string]int
	byPMID  map[string]int
	stats   MergeStats
}

// NewMerger creates an empty merger.
func NewMerger() *Merger {
	return &Merger{
		byDOI:  make(map[string]int),
		byPMID: make(map[string]int),
	}
}

// Merge deduplicates the concatenated multi-source record list, preserving
// the order in which distinct papers were first seen.
func Merge(records []domain.PaperRecord) ([]domain.PaperRecord, MergeStats) {
	m := NewMerger()
	for _, record := range records {
		m.Add(record)
	}
	return m.Entries(), m.Stats()
}

// Add resolves the record against the accumulated entries and either merges
// it into an existing entry or appends it as a new one.
func (m *Merger) Add(record domain.PaperRecord) {
	m.stats.Input++

	if idx, ok := m.resolve(record); ok {
		m.mergeInto(idx, record)
		m.stats.Merged++
		return
	}

	m.entries = append(m.entries, record)
	m.index(len(m.entries) - 1)
}

// Entries returns the accumulated deduplicated records.
func (m *Merger) Entries() []domain.PaperRecord {
	return m.entries
}

// Stats returns the counters for this pass.
func (m *Merger) Stats() MergeStats {
	return m.stats
}

// resolve finds the accumulator entry the record belongs to, trying the
// three identity tiers in fixed order: DOI, PMID, title similarity.
func (m *Merger) resolve(record domain.PaperRecord) (int, bool) {
	if doi := domain.NormalizeDOI(record.DOI); doi != "" {
		if idx, ok := m.byDOI[doi]; ok {
			return idx, true
		}
	}

	if record.PMID != "" {
		if idx, ok := m.byPMID[record.PMID]; ok {
			return idx, true
		}
	}

	for idx := range m.entries {
		if TitlesMatch(m.entries[idx].Title, record.Title) {
			return idx, true
		}
	}

	return 0, false
}

// index registers the entry's identifiers for exact-match lookups.
func (m *Merger) index(idx int) {
	if doi := domain.NormalizeDOI(m.entries[idx].DOI); doi != "" {
		m.byDOI[doi] = idx
	}
	if pmid := m.entries[idx].PMID; pmid != "" {
		m.byPMID[pmid] = idx
	}
}

// mergeInto merges the incoming record into the entry at idx and re-indexes
// any identifier the entry gained.
func (m *Merger) mergeInto(idx int, incoming domain.PaperRecord) {
	entry := &m.entries[idx]

	for _, s := range incoming.Sources {
		entry.AddSource(s)
	}
	entry.AddSource(incoming.Source)

	fromBibliographic := incoming.Source == bibliographicAuthority

	entry.Title = pickAuthoritative(entry.Title, incoming.Title, fromBibliographic)
	entry.Journal = pickAuthoritative(entry.Journal, incoming.Journal, fromBibliographic)
	entry.PublicationType = pickAuthoritative(entry.PublicationType, incoming.PublicationType, fromBibliographic)
	if len(incoming.Authors) > 0 && (fromBibliographic || len(entry.Authors) == 0) {
		entry.Authors = incoming.Authors
	}

	if entry.Year == 0 {
		entry.Year = incoming.Year
	}

	if len(incoming.Abstract) > len(entry.Abstract) {
		entry.Abstract = incoming.Abstract
	}

	// Identifier back-fill: first non-empty wins.
	if entry.DOI == "" {
		entry.DOI = incoming.DOI
	}
	if entry.PMID == "" {
		entry.PMID = incoming.PMID
	}
	if entry.URL == "" {
		entry.URL = incoming.URL
	}

	entry.OpenAccess = entry.OpenAccess || incoming.OpenAccess

	// Citation counts prefer the graph authority when it contributed, but
	// never decrease below what another source already reported. With the
	// monotonic floor in place the preference collapses to a max.
	if incoming.CitationCount > entry.CitationCount {
		entry.CitationCount = incoming.CitationCount
	}

	m.index(idx)
}

// pickAuthoritative chooses a bibliographic field value: a non-empty value
// from the authoritative source replaces the existing one, otherwise the
// longer value stands.
func pickAuthoritative(existing, incoming string, fromAuthority bool) string {
	if incoming == "" {
		return existing
	}
	if fromAuthority {
		return incoming
	}
	if len(incoming) > len(existing) {
		return incoming
	}
	return existing
}
