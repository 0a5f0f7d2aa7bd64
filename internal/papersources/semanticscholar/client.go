package semanticscholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the default rate limit for unauthenticated requests.
	// With an API key, this can be increased.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultPageSize is the default number of results per search request.
	DefaultPageSize = 20

	// MaxPageSize is the limit cap imposed by the search endpoint.
	MaxPageSize = 100

	// apiKeyHeader is the header name for the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	// paperFields is the list of fields to request from the API.
	paperFields = "paperId,externalIds,url,title,abstract,year,publicationDate,venue,journal,authors,citationCount,isOpenAccess,openAccessPdf,publicationTypes"

	// sourceName is the human-readable name for this source.
	sourceName = "Semantic Scholar"
)

// nativeFilters declares which filters Semantic Scholar evaluates
// server-side. Year ranges and open access translate directly; study type
// and human-subjects have no API equivalent and are applied client-side.
var nativeFilters = papersources.NativeFilters{
	YearRange:  true,
	OpenAccess: true,
}

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL is the base URL for the API.
	BaseURL string

	// APIKey is the optional API key for authenticated requests.
	// Authenticated requests have higher rate limits.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// PageSize is the default number of results per search.
	PageSize int

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// Client implements the papersources.PaperSource interface for Semantic Scholar.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

// Compile-time check that Client implements papersources.PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a new Semantic Scholar client with the given configuration.
// If httpClient is nil, a new one will be created with the configuration settings.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Search queries Semantic Scholar for papers matching the given parameters.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("semantic scholar source is disabled")
	}

	start := time.Now()

	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	// Limit body to 10MB to prevent resource exhaustion.
	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.PaperRecord, 0, len(searchResp.Data))
	for _, result := range searchResp.Data {
		records = append(records, resultToRecord(result))
	}
	records = papersources.ApplyPostFilters(records, params.Filters, nativeFilters)

	return &papersources.SearchResult{
		Records:        records,
		TotalResults:   searchResp.Total,
		Source:         domain.SourceTypeSemanticScholar,
		SearchDuration: time.Since(start),
	}, nil
}

// GetByID retrieves a specific paper by its Semantic Scholar ID or other identifier.
func (c *Client) GetByID(ctx context.Context, id string) (*domain.PaperRecord, error) {
	if !c.config.Enabled {
		return nil, errors.New("semantic scholar source is disabled")
	}

	paperURL := fmt.Sprintf("%s/paper/%s?fields=%s", c.config.BaseURL, url.PathEscape(id), paperFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, paperURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewNotFoundError("paper", id)
	}

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	var paperResult PaperResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&paperResult); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	record := resultToRecord(paperResult)
	return &record, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeSemanticScholar
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL constructs the search API URL with query parameters.
func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	searchURL := baseURL.JoinPath("paper", "search")

	q := searchURL.Query()
	q.Set("query", params.Query)
	q.Set("fields", paperFields)

	limit := params.PageSize
	if limit <= 0 {
		limit = c.config.PageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	q.Set("limit", strconv.Itoa(limit))

	if offset := params.Offset(); offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	// An empty openAccessPdf parameter restricts results to papers with a
	// public PDF.
	if params.Filters.OpenAccessOnly {
		q.Set("openAccessPdf", "")
	}

	if yearRange := formatYearRange(params.Filters.YearFrom, params.Filters.YearTo); yearRange != "" {
		q.Set("year", yearRange)
	}

	searchURL.RawQuery = q.Encode()
	return searchURL.String(), nil
}

// formatYearRange renders the year filter in the API's range syntax:
// "2020-2023", "2020-", "-2023", or "" when no bound is set.
func formatYearRange(from, to int) string {
	switch {
	case from > 0 && to > 0:
		if from == to {
			return strconv.Itoa(from)
		}
		return fmt.Sprintf("%d-%d", from, to)
	case from > 0:
		return fmt.Sprintf("%d-", from)
	case to > 0:
		return fmt.Sprintf("-%d", to)
	}
	return ""
}

// handleErrorResponse checks for API errors and returns appropriate error types.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		message := errResp.Error
		if message == "" {
			message = errResp.Message
		}
		if message == "" {
			message = string(body)
		}
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
	}

	return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
}

// resultToRecord converts a single API paper result to a canonical PaperRecord.
func resultToRecord(result PaperResult) domain.PaperRecord {
	record := domain.PaperRecord{
		ID:            result.PaperID,
		Source:        domain.SourceTypeSemanticScholar,
		Sources:       []domain.SourceType{domain.SourceTypeSemanticScholar},
		Title:         strings.TrimSpace(result.Title),
		Authors:       convertAuthors(result.Authors),
		Journal:       result.Venue,
		Year:          result.Year,
		Abstract:      result.Abstract,
		URL:           result.URL,
		OpenAccess:    result.IsOpenAccess,
		CitationCount: result.CitationCount,
	}

	if result.Journal != nil && result.Journal.Name != "" {
		record.Journal = result.Journal.Name
	}

	if result.ExternalIDs != nil {
		record.DOI = domain.NormalizeDOI(result.ExternalIDs.DOI)
		record.PMID = strings.TrimSpace(result.ExternalIDs.PubMed)
	}

	if len(result.PublicationTypes) > 0 {
		record.PublicationType = result.PublicationTypes[0]
	}

	if record.URL == "" && result.OpenAccessPDF != nil {
		record.URL = result.OpenAccessPDF.URL
	}

	return record
}

// convertAuthors converts API authors to an ordered name list.
func convertAuthors(apiAuthors []Author) []string {
	authors := make([]string, 0, len(apiAuthors))
	for _, a := range apiAuthors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}
	return authors
}
