package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	// OpenAlex polite pool (with email) allows higher rates.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultPageSize is the default results per search request.
	DefaultPageSize = 25

	// MaxPageSize is the per_page cap imposed by the OpenAlex API.
	MaxPageSize = 200

	// sourceName is the human-readable name for this source.
	sourceName = "OpenAlex"

	// doiPrefix is the URL prefix that OpenAlex uses for DOIs.
	doiPrefix = "https://doi.org/"

	// openAlexIDPrefix is the URL prefix for OpenAlex IDs.
	openAlexIDPrefix = "https://openalex.org/"

	// pmidPrefix is the URL prefix OpenAlex uses for PubMed IDs.
	pmidPrefix = "https://pubmed.ncbi.nlm.nih.gov/"
)

// nativeFilters declares which filters OpenAlex evaluates server-side.
// Year range and open access translate directly to API filters; study
// type and human-subjects have no OpenAlex equivalent and are applied
// client-side.
var nativeFilters = papersources.NativeFilters{
	YearRange:  true,
	OpenAccess: true,
}

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	// Defaults to https://api.openalex.org
	BaseURL string

	// Email is the contact email for the polite pool.
	// Providing an email grants access to higher rate limits.
	// See: https://docs.openalex.org/how-to-use-the-api/rate-limits-and-authentication
	Email string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// PageSize is the default results per search request.
	PageSize int

	// Enabled indicates whether this source is enabled for searches.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
}

// Client implements the papersources.PaperSource interface for OpenAlex.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Ensure Client implements PaperSource interface.
var _ papersources.PaperSource = (*Client)(nil)

// New creates a new OpenAlex client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: "Helixir-PaperSearch/1.0 (mailto:" + cfg.Email + ")",
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new OpenAlex client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries OpenAlex for papers matching the given parameters.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("openalex source is disabled")
	}

	startTime := time.Now()

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

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	// Limit body to 10MB to prevent resource exhaustion.
	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.PaperRecord, 0, len(searchResp.Results))
	for i := range searchResp.Results {
		records = append(records, workToRecord(&searchResp.Results[i]))
	}
	records = papersources.ApplyPostFilters(records, params.Filters, nativeFilters)

	return &papersources.SearchResult{
		Records:        records,
		TotalResults:   searchResp.Meta.Count,
		Source:         domain.SourceTypeOpenAlex,
		SearchDuration: time.Since(startTime),
	}, nil
}

// GetByID retrieves a specific paper by its OpenAlex ID or DOI.
func (c *Client) GetByID(ctx context.Context, id string) (*domain.PaperRecord, error) {
	if !c.config.Enabled {
		return nil, errors.New("openalex source is disabled")
	}

	fetchURL, err := c.buildGetByIDURL(id)
	if err != nil {
		return nil, fmt.Errorf("building fetch URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
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

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	var work Work
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&work); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	record := workToRecord(&work)
	return &record, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeOpenAlex
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// buildSearchURL constructs the search API URL with query parameters.
func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	baseURL.Path = "/works"

	query := url.Values{}

	if params.Query != "" {
		query.Set("search", params.Query)
	}

	filters := buildFilters(params.Filters)
	if len(filters) > 0 {
		query.Set("filter", strings.Join(filters, ","))
	}

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = c.config.PageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	query.Set("per_page", strconv.Itoa(pageSize))

	// OpenAlex uses page-based pagination (1-indexed).
	if params.Page > 1 {
		query.Set("page", strconv.Itoa(params.Page))
	}

	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// buildFilters constructs the filter query string components from the
// natively supported filter fields.
func buildFilters(f domain.SearchFilters) []string {
	var filters []string

	if f.YearFrom > 0 {
		filters = append(filters, fmt.Sprintf("from_publication_date:%d-01-01", f.YearFrom))
	}
	if f.YearTo > 0 {
		filters = append(filters, fmt.Sprintf("to_publication_date:%d-12-31", f.YearTo))
	}
	if f.OpenAccessOnly {
		filters = append(filters, "is_oa:true")
	}

	return filters
}

// buildGetByIDURL constructs the URL for fetching a work by ID.
func (c *Client) buildGetByIDURL(id string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	// OpenAlex accepts OpenAlex IDs, DOIs, MAG IDs, PubMed IDs, and PMC IDs.
	var workID string
	switch {
	case strings.HasPrefix(id, openAlexIDPrefix):
		workID = strings.TrimPrefix(id, openAlexIDPrefix)
	case strings.HasPrefix(id, doiPrefix):
		workID = id
	case strings.HasPrefix(id, "10."):
		workID = doiPrefix + id
	case strings.HasPrefix(id, "doi:"):
		workID = doiPrefix + strings.TrimPrefix(id, "doi:")
	default:
		workID = id
	}

	// OpenAlex expects the DOI as-is in the path and handles URL decoding
	// on their side.
	baseURL.Path = "/works/" + workID

	if c.config.Email != "" {
		query := url.Values{}
		query.Set("mailto", c.config.Email)
		baseURL.RawQuery = query.Encode()
	}

	return baseURL.String(), nil
}

// workToRecord converts an OpenAlex Work to a canonical PaperRecord.
func workToRecord(work *Work) domain.PaperRecord {
	doi := domain.NormalizeDOI(work.DOI)
	if doi == "" {
		doi = domain.NormalizeDOI(work.IDs.DOI)
	}

	openAlexID := normalizeOpenAlexID(work.ID)
	if openAlexID == "" {
		openAlexID = normalizeOpenAlexID(work.IDs.OpenAlex)
	}

	// display_name is usually cleaner than title.
	title := work.DisplayName
	if title == "" {
		title = work.Title
	}

	authors := make([]string, 0, len(work.Authorships))
	for _, authorship := range work.Authorships {
		if name := strings.TrimSpace(authorship.Author.DisplayName); name != "" {
			authors = append(authors, name)
		}
	}

	var journal string
	if work.PrimaryLocation != nil && work.PrimaryLocation.Source != nil {
		journal = work.PrimaryLocation.Source.DisplayName
	}

	isOpenAccess := work.IsOpenAccess
	if work.OpenAccess != nil {
		isOpenAccess = work.OpenAccess.IsOA
	}

	recordURL := ""
	switch {
	case work.OpenAccess != nil && work.OpenAccess.OAURL != "":
		recordURL = work.OpenAccess.OAURL
	case work.PrimaryLocation != nil && work.PrimaryLocation.LandingPage != "":
		recordURL = work.PrimaryLocation.LandingPage
	case doi != "":
		recordURL = doiPrefix + doi
	}

	return domain.PaperRecord{
		ID:              openAlexID,
		Source:          domain.SourceTypeOpenAlex,
		Sources:         []domain.SourceType{domain.SourceTypeOpenAlex},
		Title:           strings.TrimSpace(title),
		Authors:         authors,
		Journal:         journal,
		Year:            work.PublicationYear,
		Abstract:        reconstructAbstract(work.AbstractInvertedIndex),
		DOI:             doi,
		PMID:            normalizePMID(work.IDs.PMID),
		URL:             recordURL,
		OpenAccess:      isOpenAccess,
		CitationCount:   work.CitedByCount,
		PublicationType: work.Type,
	}
}

// normalizeOpenAlexID extracts the short ID from full OpenAlex URLs.
func normalizeOpenAlexID(id string) string {
	if id == "" {
		return ""
	}
	id = strings.TrimPrefix(id, openAlexIDPrefix)
	return strings.TrimSpace(id)
}

// normalizePMID strips any URL prefixes from PubMed IDs.
func normalizePMID(pmid string) string {
	if pmid == "" {
		return ""
	}
	pmid = strings.TrimPrefix(pmid, pmidPrefix)
	return strings.TrimSuffix(strings.TrimSpace(pmid), "/")
}

// reconstructAbstract reconstructs the abstract text from OpenAlex's inverted
// index format, which maps words to their positions in the original text.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	const maxAbstractWords = 100_000
	totalPairs := 0
	for _, positions := range invertedIndex {
		totalPairs += len(positions)
	}
	// Guard against malicious payloads with excessive position entries.
	if totalPairs > maxAbstractWords {
		return ""
	}
	pairs := make([]posWord, 0, totalPairs)

	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	// Pre-size the builder assuming an average word length of 6 characters
	// plus a space separator.
	var builder strings.Builder
	builder.Grow(totalPairs * 7)
	for i, pair := range pairs {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(pair.word)
	}

	return builder.String()
}
