package papersources

import (
	"context"
	"sync"
	"time"

	"github.com/helixir/paper-search-service/internal/domain"
)

// DefaultCallTimeout bounds one adapter call, covering every round trip the
// adapter makes (PubMed needs two).
const DefaultCallTimeout = 10 * time.Second

// Outcome holds the settled result of a search from one source. Exactly one
// of Result and Err is non-nil.
type Outcome struct {
	// Source identifies which paper source produced the outcome.
	Source domain.SourceType

	// Result contains the search results if the search succeeded.
	Result *SearchResult

	// Err contains the failure if the search did not succeed.
	Err error
}

// Status converts the outcome into the per-source status reported to callers.
// Failures degrade to success=false with an empty result; they never abort
// the request.
func (o Outcome) Status() domain.SourceStatus {
	if o.Err != nil {
		return domain.SourceStatus{Success: false, Error: o.Err.Error()}
	}
	return domain.SourceStatus{Success: true, Count: len(o.Result.Records)}
}

// Registry manages paper sources and coordinates concurrent searches.
// It provides thread-safe registration and retrieval of paper sources.
type Registry struct {
	mu          sync.RWMutex
	sources     map[domain.SourceType]PaperSource
	callTimeout time.Duration
}

// NewRegistry creates a new source registry with an empty source map.
func NewRegistry(callTimeout time.Duration) *Registry {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Registry{
		sources:     make(map[domain.SourceType]PaperSource),
		callTimeout: callTimeout,
	}
}

// Register adds a source to the registry, replacing any source with the
// same type. This method is thread-safe.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceType()] = source
}

// Get returns a source by type, or nil if not found.
func (r *Registry) Get(sourceType domain.SourceType) PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// EnabledSources returns a snapshot of the sources whose IsEnabled()
// reports true.
func (r *Registry) EnabledSources() []PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]PaperSource, 0, len(r.sources))
	for _, source := range r.sources {
		if source.IsEnabled() {
			sources = append(sources, source)
		}
	}
	return sources
}

// SearchAll fans the same query out to every enabled source concurrently
// and waits for every outcome to settle. A timeout or error from one
// adapter degrades that source to a failed Outcome rather than aborting
// the search; the method itself never returns an error.
//
// Each adapter call runs under its own bounded timeout and is cancelled on
// expiry. The collect loop below is the pipeline's sole join point.
func (r *Registry) SearchAll(ctx context.Context, params SearchParams) []Outcome {
	sources := r.EnabledSources()
	if len(sources) == 0 {
		return nil
	}

	outcomes := make(chan Outcome, len(sources))
	var wg sync.WaitGroup

	for _, source := range sources {
		wg.Add(1)
		go func(s PaperSource) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()

			result, err := s.Search(callCtx, params)
			outcomes <- Outcome{
				Source: s.SourceType(),
				Result: result,
				Err:    err,
			}
		}(source)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	collected := make([]Outcome, 0, len(sources))
	for outcome := range outcomes {
		collected = append(collected, outcome)
	}

	return collected
}
