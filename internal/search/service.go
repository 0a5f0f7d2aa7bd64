package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/dedup"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/papersources"
)

// Pipeline defaults.
const (
	// MinQueryLength is the minimum number of characters in a search query.
	MinQueryLength = 2

	// DefaultPageSize is the per-page result count when none is configured.
	DefaultPageSize = 20

	// DefaultCacheWriteTimeout bounds the asynchronous cache write.
	DefaultCacheWriteTimeout = 5 * time.Second
)

// Config assembles a Service from its collaborators. Cache, Emitter, and
// Metrics are optional; a nil value disables that concern.
type Config struct {
	Registry *papersources.Registry
	Cache    cache.Store
	Emitter  events.Emitter
	Metrics  *observability.Metrics
	Logger   zerolog.Logger

	// PageSize is the number of records requested per source and reported
	// per response page.
	PageSize int

	// CacheTTL is how long written cache entries stay fresh.
	CacheTTL time.Duration

	// CacheWriteTimeout bounds the asynchronous cache write.
	CacheWriteTimeout time.Duration
}

// Service runs the federated search pipeline.
type Service struct {
	registry          *papersources.Registry
	cache             cache.Store
	emitter           events.Emitter
	metrics           *observability.Metrics
	logger            zerolog.Logger
	pageSize          int
	cacheTTL          time.Duration
	cacheWriteTimeout time.Duration
}

// NewService creates a search service.
func NewService(cfg Config) *Service {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	writeTimeout := cfg.CacheWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultCacheWriteTimeout
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	return &Service{
		registry:          cfg.Registry,
		cache:             cfg.Cache,
		emitter:           emitter,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		pageSize:          pageSize,
		cacheTTL:          cfg.CacheTTL,
		cacheWriteTimeout: writeTimeout,
	}
}

// Search runs one federated search: cache lookup, concurrent fan-out,
// deduplication, sorting, and response assembly. Upstream source failures
// degrade to per-source status entries; only validation errors and internal
// assembly faults surface as errors.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (response *domain.SearchResponse, err error) {
	started := time.Now()

	if err := normalizeRequest(&req); err != nil {
		return nil, err
	}

	// A fault anywhere in merge/sort/assembly must never leak a stack
	// trace or raw user text past the request boundary.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Msg("search pipeline panicked")
			if s.metrics != nil {
				s.metrics.RecordSearchFailed(time.Since(started).Seconds())
			}
			response = nil
			err = fmt.Errorf("search pipeline failure: %w", domain.ErrInternalError)
		}
	}()

	key := cache.Key(req)
	if cached := s.readCache(ctx, key); cached != nil {
		if s.metrics != nil {
			s.metrics.RecordCacheHit()
		}
		s.emitAsync(req, cached, time.Since(started))
		return cached, nil
	}
	if s.cache != nil && s.metrics != nil {
		s.metrics.RecordCacheMiss()
	}

	params := papersources.SearchParams{
		Query:    req.Query,
		Filters:  req.Filters,
		Page:     req.Page,
		PageSize: s.pageSize,
	}
	outcomes := s.registry.SearchAll(ctx, params)
	s.recordOutcomes(outcomes)

	response = s.assemble(req, outcomes)

	if s.metrics != nil {
		s.metrics.RecordSearch(len(response.Results), time.Since(started).Seconds())
	}

	s.writeCacheAsync(key, response)
	s.emitAsync(req, response, time.Since(started))

	return response, nil
}

// normalizeRequest validates the request and fills defaulted fields in place.
func normalizeRequest(req *domain.SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if len(req.Query) < MinQueryLength {
		return domain.NewValidationError("query", fmt.Sprintf("query must be at least %d characters", MinQueryLength))
	}

	if req.Sort == "" {
		req.Sort = domain.SortRelevance
	}
	if !domain.ValidSortMode(req.Sort) {
		return domain.NewValidationError("sort", fmt.Sprintf("unknown sort mode %q", req.Sort))
	}

	if req.Page < 1 {
		req.Page = 1
	}

	return nil
}

// assemble merges, sorts, and packages the fan-out outcomes into the final
// response shape.
func (s *Service) assemble(req domain.SearchRequest, outcomes []papersources.Outcome) *domain.SearchResponse {
	var concatenated []domain.PaperRecord
	combinedTotal := 0

	statuses := make(map[domain.SourceType]domain.SourceStatus, len(domain.AllSourceTypes))
	for _, outcome := range outcomes {
		statuses[outcome.Source] = outcome.Status()
		if outcome.Err != nil {
			continue
		}
		for _, record := range outcome.Result.Records {
			// Untitled records never reach the caller and cannot
			// participate in title dedup.
			if strings.TrimSpace(record.Title) == "" {
				continue
			}
			concatenated = append(concatenated, record)
		}
		combinedTotal += outcome.Result.TotalResults
	}
	// Every federated source gets a status entry, queried or not.
	for _, sourceType := range domain.AllSourceTypes {
		if _, ok := statuses[sourceType]; !ok {
			statuses[sourceType] = domain.SourceStatus{Success: false, Error: "source disabled"}
		}
	}

	merged, stats := dedup.Merge(concatenated)
	if s.metrics != nil {
		s.metrics.RecordPapersMerged(stats.Merged)
	}

	Sort(merged, req.Sort)

	totalResults := estimateTotal(combinedTotal, stats)
	if totalResults < len(merged) {
		totalResults = len(merged)
	}

	totalPages := 0
	if totalResults > 0 {
		totalPages = int(math.Ceil(float64(totalResults) / float64(s.pageSize)))
	}

	return &domain.SearchResponse{
		Results:      merged,
		TotalResults: totalResults,
		Page:         req.Page,
		TotalPages:   totalPages,
		Sources:      statuses,
		Cached:       false,
	}
}

// estimateTotal scales the combined per-source totals by the current page's
// dedup ratio. The ratio from one page is taken as representative of the
// whole result set, which keeps the estimate cheap but approximate.
func estimateTotal(combinedTotal int, stats dedup.MergeStats) int {
	if stats.Input == 0 {
		return 0
	}
	ratio := float64(stats.Input-stats.Merged) / float64(stats.Input)
	return int(math.Round(float64(combinedTotal) * ratio))
}

// recordOutcomes feeds per-source metrics from the settled fan-out.
func (s *Service) recordOutcomes(outcomes []papersources.Outcome) {
	if s.metrics == nil {
		return
	}
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			s.metrics.RecordSourceSearchFailed(string(outcome.Source), 0)
			continue
		}
		s.metrics.RecordSourceSearch(
			string(outcome.Source),
			len(outcome.Result.Records),
			outcome.Result.SearchDuration.Seconds(),
		)
	}
}

// readCache returns the cached response for key, or nil on miss, disabled
// cache, or store failure. Store failures are logged and swallowed.
func (s *Service) readCache(ctx context.Context, key string) *domain.SearchResponse {
	if s.cache == nil {
		return nil
	}

	cached, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache read failed")
		return nil
	}
	if !found {
		return nil
	}

	cached.Cached = true
	return cached
}

// writeCacheAsync stores the response in the background. The write never
// blocks or fails the request; failures are logged and counted.
func (s *Service) writeCacheAsync(key string, response *domain.SearchResponse) {
	if s.cache == nil {
		return
	}

	snapshot := *response
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cacheWriteTimeout)
		defer cancel()

		if err := s.cache.Set(ctx, key, &snapshot, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("cache write failed")
			if s.metrics != nil {
				s.metrics.RecordCacheWriteFailure()
			}
		}
	}()
}

// emitAsync publishes the search analytics event in the background.
func (s *Service) emitAsync(req domain.SearchRequest, response *domain.SearchResponse, elapsed time.Duration) {
	event := events.SearchEvent{
		ClientID:     req.ClientID,
		Query:        req.Query,
		Filters:      req.Filters,
		Sort:         req.Sort,
		Page:         req.Page,
		TotalResults: response.TotalResults,
		Cached:       response.Cached,
		Sources:      response.Sources,
		DurationMS:   elapsed.Milliseconds(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cacheWriteTimeout)
		defer cancel()

		if err := s.emitter.EmitSearchCompleted(ctx, event); err != nil {
			s.logger.Warn().Err(err).Msg("search event publish failed")
		}
	}()
}
