package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-search-service/internal/dedup"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/papersources"
)

// stubSource is a canned PaperSource for pipeline tests.
type stubSource struct {
	sourceType domain.SourceType
	records    []domain.PaperRecord
	total      int
	err        error
	enabled    bool
}

func (s *stubSource) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &papersources.SearchResult{
		Records:      s.records,
		TotalResults: s.total,
		Source:       s.sourceType,
	}, nil
}

func (s *stubSource) GetByID(ctx context.Context, id string) (*domain.PaperRecord, error) {
	return nil, domain.NewNotFoundError("paper", id)
}

func (s *stubSource) SourceType() domain.SourceType { return s.sourceType }
func (s *stubSource) Name() string                  { return string(s.sourceType) }
func (s *stubSource) IsEnabled() bool               { return s.enabled }

// memoryCache is a map-backed cache.Store. set closes written once on the
// first successful write so tests can wait for the async write.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*domain.SearchResponse
	written chan struct{}
	once    sync.Once
	getErr  error
	panics  bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries: make(map[string]*domain.SearchResponse),
		written: make(chan struct{}),
	}
}

func (c *memoryCache) Get(ctx context.Context, key string) (*domain.SearchResponse, bool, error) {
	if c.panics {
		panic("cache store corrupted")
	}
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		snapshot := *entry
		return &snapshot, true, nil
	}
	return nil, false, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, response *domain.SearchResponse, ttl time.Duration) error {
	c.mu.Lock()
	snapshot := *response
	c.entries[key] = &snapshot
	c.mu.Unlock()
	c.once.Do(func() { close(c.written) })
	return nil
}

func (c *memoryCache) Purge(ctx context.Context) (int64, error) { return 0, nil }

// capturingEmitter records emitted events and signals each one.
type capturingEmitter struct {
	mu      sync.Mutex
	events  []events.SearchEvent
	emitted chan struct{}
}

func newCapturingEmitter() *capturingEmitter {
	return &capturingEmitter{emitted: make(chan struct{}, 16)}
}

func (e *capturingEmitter) EmitSearchCompleted(ctx context.Context, event events.SearchEvent) error {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
	e.emitted <- struct{}{}
	return nil
}

func pubmedSource() *stubSource {
	return &stubSource{
		sourceType: domain.SourceTypePubMed,
		enabled:    true,
		total:      100,
		records: []domain.PaperRecord{
			{
				ID:     "12345678",
				Source: domain.SourceTypePubMed,
				Title:  "Deep Learning for Protein Structure Prediction",
				Year:   2023,
				DOI:    "10.1234/example.2023.001",
				PMID:   "12345678",
			},
			{
				ID:     "87654321",
				Source: domain.SourceTypePubMed,
				Title:  "Gene therapy delivery systems in clinical trials",
				Year:   2020,
				PMID:   "87654321",
			},
		},
	}
}

func openalexSource() *stubSource {
	return &stubSource{
		sourceType: domain.SourceTypeOpenAlex,
		enabled:    true,
		total:      100,
		records: []domain.PaperRecord{
			{
				ID:            "W2741809807",
				Source:        domain.SourceTypeOpenAlex,
				Title:         "Deep learning for protein structure prediction",
				Year:          2023,
				DOI:           "https://doi.org/10.1234/example.2023.001",
				CitationCount: 120,
			},
			{
				ID:            "W999",
				Source:        domain.SourceTypeOpenAlex,
				Title:         "Quantum computing with superconducting qubits",
				Year:          2024,
				CitationCount: 40,
			},
		},
	}
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = papersources.NewRegistry(time.Second)
	}
	cfg.Logger = zerolog.Nop()
	return NewService(cfg)
}

func validRequest() domain.SearchRequest {
	return domain.SearchRequest{
		Query:    "protein structure",
		Sort:     domain.SortRelevance,
		Page:     1,
		ClientID: "ip:203.0.113.7",
	}
}

func TestSearch_Validation(t *testing.T) {
	svc := newTestService(t, Config{})

	t.Run("rejects short query", func(t *testing.T) {
		_, err := svc.Search(context.Background(), domain.SearchRequest{Query: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects whitespace-only query", func(t *testing.T) {
		_, err := svc.Search(context.Background(), domain.SearchRequest{Query: "  a  "})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("rejects unknown sort mode", func(t *testing.T) {
		req := validRequest()
		req.Sort = "alphabetical"
		_, err := svc.Search(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestSearch_MergesAcrossSources(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())
	registry.Register(openalexSource())

	svc := newTestService(t, Config{Registry: registry})
	resp, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err)

	// 4 raw records, one cross-source duplicate pair.
	assert.Len(t, resp.Results, 3)
	assert.False(t, resp.Cached)
	assert.Equal(t, 1, resp.Page)

	assert.True(t, resp.Sources[domain.SourceTypePubMed].Success)
	assert.Equal(t, 2, resp.Sources[domain.SourceTypePubMed].Count)
	assert.True(t, resp.Sources[domain.SourceTypeOpenAlex].Success)

	// The unqueried third source still gets a status entry.
	s2, ok := resp.Sources[domain.SourceTypeSemanticScholar]
	require.True(t, ok)
	assert.False(t, s2.Success)
}

func TestSearch_EstimatedTotal(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())
	registry.Register(openalexSource())

	svc := newTestService(t, Config{Registry: registry, PageSize: 20})
	resp, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err)

	// Combined totals 200, dedup ratio 3/4.
	assert.Equal(t, 150, resp.TotalResults)
	assert.Equal(t, 8, resp.TotalPages)
}

func TestSearch_PartialSourceFailure(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())
	registry.Register(&stubSource{
		sourceType: domain.SourceTypeSemanticScholar,
		enabled:    true,
		err:        domain.NewExternalAPIError("semanticscholar", 503, "service unavailable", nil),
	})

	svc := newTestService(t, Config{Registry: registry})
	resp, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err, "source failure must not fail the request")

	assert.Len(t, resp.Results, 2)
	assert.True(t, resp.Sources[domain.SourceTypePubMed].Success)

	failed := resp.Sources[domain.SourceTypeSemanticScholar]
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Error, "service unavailable")
}

func TestSearch_AllSourcesFailing(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	for _, st := range domain.AllSourceTypes {
		registry.Register(&stubSource{
			sourceType: st,
			enabled:    true,
			err:        errors.New("timeout"),
		})
	}

	svc := newTestService(t, Config{Registry: registry})
	resp, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.TotalResults)
	for _, st := range domain.AllSourceTypes {
		assert.False(t, resp.Sources[st].Success)
	}
}

func TestSearch_DropsUntitledRecords(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(&stubSource{
		sourceType: domain.SourceTypeOpenAlex,
		enabled:    true,
		total:      3,
		records: []domain.PaperRecord{
			{ID: "W1", Source: domain.SourceTypeOpenAlex, Title: ""},
			{ID: "W2", Source: domain.SourceTypeOpenAlex, Title: "   "},
			{ID: "W3", Source: domain.SourceTypeOpenAlex, Title: "Named entity recognition in clinical notes"},
		},
	})

	svc := newTestService(t, Config{Registry: registry})
	resp, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "W3", resp.Results[0].ID)
	for _, r := range resp.Results {
		assert.NotEmpty(t, strings.TrimSpace(r.Title))
	}
}

func TestSearch_SortApplied(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())
	registry.Register(openalexSource())

	svc := newTestService(t, Config{Registry: registry})

	req := validRequest()
	req.Sort = domain.SortNewest
	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, 2024, resp.Results[0].Year)
	assert.Equal(t, 2023, resp.Results[1].Year)
	assert.Equal(t, 2020, resp.Results[2].Year)
}

func TestSearch_CacheRoundTrip(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())

	store := newMemoryCache()
	svc := newTestService(t, Config{Registry: registry, Cache: store})

	first, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, first.Cached)

	select {
	case <-store.written:
	case <-time.After(time.Second):
		t.Fatal("async cache write never happened")
	}

	second, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, first.TotalResults, second.TotalResults)
}

func TestSearch_CacheKeyNormalization(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())

	store := newMemoryCache()
	svc := newTestService(t, Config{Registry: registry, Cache: store})

	_, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err)
	<-store.written

	// Same query with different case and padding hits the same entry.
	req := validRequest()
	req.Query = "  PROTEIN Structure "
	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Cached)
}

func TestSearch_CacheReadFailureDegrades(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())

	store := newMemoryCache()
	store.getErr = errors.New("connection refused")
	svc := newTestService(t, Config{Registry: registry, Cache: store})

	resp, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err, "cache failure must be invisible to the caller")
	assert.False(t, resp.Cached)
	assert.Len(t, resp.Results, 2)
}

func TestSearch_InternalFaultBecomesError(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())

	store := newMemoryCache()
	store.panics = true
	svc := newTestService(t, Config{Registry: registry, Cache: store})

	resp, err := svc.Search(context.Background(), validRequest())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, domain.ErrInternalError))
	assert.NotContains(t, err.Error(), "protein structure", "internal errors must not echo user input")
}

func TestSearch_EmitsAnalyticsEvent(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())

	emitter := newCapturingEmitter()
	svc := newTestService(t, Config{Registry: registry, Emitter: emitter})

	_, err := svc.Search(context.Background(), validRequest())
	require.NoError(t, err)

	select {
	case <-emitter.emitted:
	case <-time.After(time.Second):
		t.Fatal("search event never emitted")
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.events, 1)
	event := emitter.events[0]
	assert.Equal(t, "ip:203.0.113.7", event.ClientID)
	assert.Equal(t, "protein structure", event.Query)
	assert.False(t, event.Cached)
}

// pagedSource returns a distinct, stable window of records per page.
type pagedSource struct {
	sourceType domain.SourceType
	pages      map[int][]domain.PaperRecord
}

func (s *pagedSource) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	return &papersources.SearchResult{
		Records:      s.pages[params.Page],
		TotalResults: 40,
		Source:       s.sourceType,
	}, nil
}

func (s *pagedSource) GetByID(ctx context.Context, id string) (*domain.PaperRecord, error) {
	return nil, domain.NewNotFoundError("paper", id)
}

func (s *pagedSource) SourceType() domain.SourceType { return s.sourceType }
func (s *pagedSource) Name() string                  { return string(s.sourceType) }
func (s *pagedSource) IsEnabled() bool               { return true }

func TestSearch_PaginationStability(t *testing.T) {
	pages := make(map[int][]domain.PaperRecord)
	for page := 1; page <= 2; page++ {
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("p%d-%d", page, i)
			pages[page] = append(pages[page], domain.PaperRecord{
				ID:     id,
				Source: domain.SourceTypePubMed,
				Title:  "Stable result " + id,
				PMID:   id,
			})
		}
	}

	registry := papersources.NewRegistry(time.Second)
	registry.Register(&pagedSource{sourceType: domain.SourceTypePubMed, pages: pages})
	svc := newTestService(t, Config{Registry: registry})

	seen := make(map[string]bool)
	req := validRequest()
	req.Page = 1
	first, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, first.Results)
	for _, r := range first.Results {
		seen[r.ID] = true
	}

	req.Page = 2
	second, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, second.Results)
	for _, r := range second.Results {
		assert.False(t, seen[r.ID], "record %s appears on both pages", r.ID)
	}
}

func TestSearch_PageDefaultsToOne(t *testing.T) {
	registry := papersources.NewRegistry(time.Second)
	registry.Register(pubmedSource())

	svc := newTestService(t, Config{Registry: registry})

	req := validRequest()
	req.Page = 0
	resp, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Page)
}

func TestEstimateTotal(t *testing.T) {
	tests := []struct {
		name     string
		combined int
		input    int
		merged   int
		expected int
	}{
		{"no records", 0, 0, 0, 0},
		{"no duplicates", 100, 4, 0, 100},
		{"quarter merged", 200, 4, 1, 150},
		{"all duplicates of one", 90, 3, 2, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateTotal(tt.combined, dedup.MergeStats{Input: tt.input, Merged: tt.merged})
			assert.Equal(t, tt.expected, got)
		})
	}
}
