package papersources

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-search-service/internal/domain"
)

// mockPaperSource is a mock implementation of PaperSource for testing.
type mockPaperSource struct {
	sourceType domain.SourceType
	name       string
	enabled    bool

	// searchFunc allows customizing search behavior in tests
	searchFunc func(ctx context.Context, params SearchParams) (*SearchResult, error)

	// Track calls for verification
	searchCalls atomic.Int32
}

func newMockPaperSource(sourceType domain.SourceType, name string, enabled bool) *mockPaperSource {
	return &mockPaperSource{
		sourceType: sourceType,
		name:       name,
		enabled:    enabled,
	}
}

func (m *mockPaperSource) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	m.searchCalls.Add(1)
	if m.searchFunc != nil {
		return m.searchFunc(ctx, params)
	}
	return &SearchResult{
		Records:      []domain.PaperRecord{},
		TotalResults: 0,
		Source:       m.sourceType,
	}, nil
}

func (m *mockPaperSource) GetByID(ctx context.Context, id string) (*domain.PaperRecord, error) {
	return nil, domain.ErrNotFound
}

func (m *mockPaperSource) SourceType() domain.SourceType {
	return m.sourceType
}

func (m *mockPaperSource) Name() string {
	return m.name
}

func (m *mockPaperSource) IsEnabled() bool {
	return m.enabled
}

func (m *mockPaperSource) SearchCallCount() int {
	return int(m.searchCalls.Load())
}

func TestNewRegistry(t *testing.T) {
	t.Run("creates empty registry", func(t *testing.T) {
		registry := NewRegistry(0)

		require.NotNil(t, registry)
		assert.Equal(t, DefaultCallTimeout, registry.callTimeout)
		assert.Nil(t, registry.Get(domain.SourceTypePubMed))
		assert.Empty(t, registry.EnabledSources())
	})
}

func TestRegistry_Register(t *testing.T) {
	t.Run("registers single source", func(t *testing.T) {
		registry := NewRegistry(0)
		source := newMockPaperSource(domain.SourceTypeSemanticScholar, "Semantic Scholar", true)

		registry.Register(source)

		retrieved := registry.Get(domain.SourceTypeSemanticScholar)
		require.NotNil(t, retrieved)
		assert.Equal(t, source, retrieved)
	})

	t.Run("replaces source with same type", func(t *testing.T) {
		registry := NewRegistry(0)
		first := newMockPaperSource(domain.SourceTypePubMed, "PubMed", true)
		second := newMockPaperSource(domain.SourceTypePubMed, "PubMed v2", true)

		registry.Register(first)
		registry.Register(second)

		assert.Equal(t, second, registry.Get(domain.SourceTypePubMed))
	})
}

func TestRegistry_EnabledSources(t *testing.T) {
	registry := NewRegistry(0)
	registry.Register(newMockPaperSource(domain.SourceTypePubMed, "PubMed", true))
	registry.Register(newMockPaperSource(domain.SourceTypeOpenAlex, "OpenAlex", false))
	registry.Register(newMockPaperSource(domain.SourceTypeSemanticScholar, "Semantic Scholar", true))

	enabled := registry.EnabledSources()
	assert.Len(t, enabled, 2)
	for _, s := range enabled {
		assert.True(t, s.IsEnabled())
	}
}

func TestRegistry_SearchAll(t *testing.T) {
	t.Run("fans out to every enabled source", func(t *testing.T) {
		registry := NewRegistry(0)
		pubmed := newMockPaperSource(domain.SourceTypePubMed, "PubMed", true)
		openalex := newMockPaperSource(domain.SourceTypeOpenAlex, "OpenAlex", true)
		disabled := newMockPaperSource(domain.SourceTypeSemanticScholar, "Semantic Scholar", false)

		registry.Register(pubmed)
		registry.Register(openalex)
		registry.Register(disabled)

		outcomes := registry.SearchAll(context.Background(), SearchParams{Query: "test"})

		assert.Len(t, outcomes, 2)
		assert.Equal(t, 1, pubmed.SearchCallCount())
		assert.Equal(t, 1, openalex.SearchCallCount())
		assert.Equal(t, 0, disabled.SearchCallCount())
	})

	t.Run("one failing source does not abort the others", func(t *testing.T) {
		registry := NewRegistry(0)

		failing := newMockPaperSource(domain.SourceTypePubMed, "PubMed", true)
		failing.searchFunc = func(ctx context.Context, params SearchParams) (*SearchResult, error) {
			return nil, errors.New("upstream down")
		}
		healthy := newMockPaperSource(domain.SourceTypeOpenAlex, "OpenAlex", true)
		healthy.searchFunc = func(ctx context.Context, params SearchParams) (*SearchResult, error) {
			return &SearchResult{
				Records: []domain.PaperRecord{
					{ID: "W1", Source: domain.SourceTypeOpenAlex, Title: "Result"},
				},
				TotalResults: 1,
				Source:       domain.SourceTypeOpenAlex,
			}, nil
		}

		registry.Register(failing)
		registry.Register(healthy)

		outcomes := registry.SearchAll(context.Background(), SearchParams{Query: "test"})
		require.Len(t, outcomes, 2)

		bySource := make(map[domain.SourceType]Outcome, len(outcomes))
		for _, o := range outcomes {
			bySource[o.Source] = o
		}

		require.Error(t, bySource[domain.SourceTypePubMed].Err)
		require.NoError(t, bySource[domain.SourceTypeOpenAlex].Err)
		assert.Len(t, bySource[domain.SourceTypeOpenAlex].Result.Records, 1)
	})

	t.Run("slow source times out instead of hanging the search", func(t *testing.T) {
		registry := NewRegistry(20 * time.Millisecond)

		slow := newMockPaperSource(domain.SourceTypePubMed, "PubMed", true)
		slow.searchFunc = func(ctx context.Context, params SearchParams) (*SearchResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return &SearchResult{Source: domain.SourceTypePubMed}, nil
			}
		}
		registry.Register(slow)

		start := time.Now()
		outcomes := registry.SearchAll(context.Background(), SearchParams{Query: "test"})
		elapsed := time.Since(start)

		require.Len(t, outcomes, 1)
		require.Error(t, outcomes[0].Err)
		assert.True(t, errors.Is(outcomes[0].Err, context.DeadlineExceeded))
		assert.Less(t, elapsed, 500*time.Millisecond)
	})

	t.Run("returns nil when no sources are enabled", func(t *testing.T) {
		registry := NewRegistry(0)
		registry.Register(newMockPaperSource(domain.SourceTypePubMed, "PubMed", false))

		outcomes := registry.SearchAll(context.Background(), SearchParams{Query: "test"})
		assert.Nil(t, outcomes)
	})
}

func TestOutcome_Status(t *testing.T) {
	t.Run("success with count", func(t *testing.T) {
		o := Outcome{
			Source: domain.SourceTypeOpenAlex,
			Result: &SearchResult{
				Records: []domain.PaperRecord{{ID: "W1"}, {ID: "W2"}},
			},
		}

		status := o.Status()
		assert.True(t, status.Success)
		assert.Equal(t, 2, status.Count)
		assert.Empty(t, status.Error)
	})

	t.Run("failure carries the error message", func(t *testing.T) {
		o := Outcome{
			Source: domain.SourceTypePubMed,
			Err:    errors.New("esearch failed"),
		}

		status := o.Status()
		assert.False(t, status.Success)
		assert.Zero(t, status.Count)
		assert.Equal(t, "esearch failed", status.Error)
	})
}

func TestSearchParams_Offset(t *testing.T) {
	assert.Equal(t, 0, SearchParams{Page: 0, PageSize: 20}.Offset())
	assert.Equal(t, 0, SearchParams{Page: 1, PageSize: 20}.Offset())
	assert.Equal(t, 20, SearchParams{Page: 2, PageSize: 20}.Offset())
	assert.Equal(t, 100, SearchParams{Page: 5, PageSize: 25}.Offset())
}

func TestApplyPostFilters(t *testing.T) {
	records := func() []domain.PaperRecord {
		return []domain.PaperRecord{
			{ID: "1", Year: 2018, OpenAccess: true, PublicationType: "Review"},
			{ID: "2", Year: 2021, OpenAccess: false, PublicationType: "Clinical Trial"},
			{ID: "3", Year: 2023, OpenAccess: true, PublicationType: ""},
			{ID: "4", Year: 0, OpenAccess: false, PublicationType: "Review"},
		}
	}

	t.Run("no filters keeps everything", func(t *testing.T) {
		out := ApplyPostFilters(records(), domain.SearchFilters{}, NativeFilters{})
		assert.Len(t, out, 4)
	})

	t.Run("year range drops records outside bounds and without year", func(t *testing.T) {
		out := ApplyPostFilters(records(), domain.SearchFilters{YearFrom: 2020, YearTo: 2022}, NativeFilters{})
		require.Len(t, out, 1)
		assert.Equal(t, "2", out[0].ID)
	})

	t.Run("open access only", func(t *testing.T) {
		out := ApplyPostFilters(records(), domain.SearchFilters{OpenAccessOnly: true}, NativeFilters{})
		require.Len(t, out, 2)
		assert.Equal(t, "1", out[0].ID)
		assert.Equal(t, "3", out[1].ID)
	})

	t.Run("study type matches case-insensitively", func(t *testing.T) {
		out := ApplyPostFilters(records(), domain.SearchFilters{StudyType: "review"}, NativeFilters{})
		require.Len(t, out, 2)
		assert.Equal(t, "1", out[0].ID)
		assert.Equal(t, "4", out[1].ID)
	})

	t.Run("natively applied filters are skipped", func(t *testing.T) {
		out := ApplyPostFilters(records(), domain.SearchFilters{YearFrom: 2020, OpenAccessOnly: true}, NativeFilters{
			YearRange:  true,
			OpenAccess: true,
		})
		assert.Len(t, out, 4)
	})
}
