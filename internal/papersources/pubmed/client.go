package pubmed

import (
	"context"
	"encoding/xml"
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
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultPageSize is the default maximum results per search.
	DefaultPageSize = 20

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"

	// pubmedURLPrefix builds the public article URL from a PMID.
	pubmedURLPrefix = "https://pubmed.ncbi.nlm.nih.gov/"
)

// nativeFilters declares which filters PubMed evaluates server-side.
// Open-access has no E-utilities filter and is applied client-side.
var nativeFilters = papersources.NativeFilters{
	YearRange: true,
	StudyType: true,
	HumanOnly: true,
}

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits. Optional.
	APIKey string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// PageSize is the default maximum results per search.
	PageSize int

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// applyDefaults applies default values to the config.
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

// Client implements the papersources.PaperSource interface for PubMed.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Compile-time check that Client implements PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// New creates a new PubMed client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpCfg := papersources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: "Helixir-PaperSearch/1.0 (mailto:support@helixir.io)",
	}

	return &Client{
		config:     cfg,
		httpClient: papersources.NewHTTPClient(httpCfg),
	}
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries PubMed for papers matching the given parameters.
// It performs a two-step search:
//  1. esearch.fcgi - retrieves PMIDs matching the query
//  2. efetch.fcgi - retrieves full article metadata for the PMIDs
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("pubmed source is disabled")
	}

	startTime := time.Now()

	searchResult, err := c.esearch(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	// Phrases not found are empty results, not errors.
	if searchResult.ErrorList != nil && len(searchResult.ErrorList.PhraseNotFound) > 0 {
		return &papersources.SearchResult{
			Records:        []domain.PaperRecord{},
			TotalResults:   0,
			Source:         domain.SourceTypePubMed,
			SearchDuration: time.Since(startTime),
		}, nil
	}

	if len(searchResult.IDList.IDs) == 0 {
		return &papersources.SearchResult{
			Records:        []domain.PaperRecord{},
			TotalResults:   searchResult.Count,
			Source:         domain.SourceTypePubMed,
			SearchDuration: time.Since(startTime),
		}, nil
	}

	articles, err := c.efetch(ctx, searchResult.IDList.IDs)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	records := make([]domain.PaperRecord, 0, len(articles.Articles))
	for _, article := range articles.Articles {
		records = append(records, articleToRecord(article))
	}
	records = papersources.ApplyPostFilters(records, params.Filters, nativeFilters)

	return &papersources.SearchResult{
		Records:        records,
		TotalResults:   searchResult.Count,
		Source:         domain.SourceTypePubMed,
		SearchDuration: time.Since(startTime),
	}, nil
}

// GetByID retrieves a specific paper by its PubMed ID (PMID).
func (c *Client) GetByID(ctx context.Context, id string) (*domain.PaperRecord, error) {
	if !c.config.Enabled {
		return nil, errors.New("pubmed source is disabled")
	}

	articles, err := c.efetch(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	if len(articles.Articles) == 0 {
		return nil, domain.NewNotFoundError("paper", id)
	}

	record := articleToRecord(articles.Articles[0])
	return &record, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypePubMed
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, params papersources.SearchParams) (*ESearchResult, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", buildTerm(params))
	q.Set("retmode", "xml")
	q.Set("usehistory", "n")

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = c.config.PageSize
	}
	if pageSize > MaxResultsLimit {
		pageSize = MaxResultsLimit
	}
	q.Set("retmax", strconv.Itoa(pageSize))

	if offset := params.Offset(); offset > 0 {
		q.Set("retstart", strconv.Itoa(offset))
	}

	// Year filters translate natively to a publication-date range.
	if params.Filters.YearFrom > 0 || params.Filters.YearTo > 0 {
		q.Set("datetype", "pdat")
		if params.Filters.YearFrom > 0 {
			q.Set("mindate", strconv.Itoa(params.Filters.YearFrom))
		}
		if params.Filters.YearTo > 0 {
			q.Set("maxdate", strconv.Itoa(params.Filters.YearTo))
		}
	}

	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ESearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	return &result, nil
}

// buildTerm augments the query with filters PubMed evaluates natively:
// study type as a publication-type term and humanOnly as a MeSH term.
func buildTerm(params papersources.SearchParams) string {
	term := params.Query
	if st := strings.TrimSpace(params.Filters.StudyType); st != "" {
		term = fmt.Sprintf("(%s) AND %s[pt]", term, st)
	}
	if params.Filters.HumanOnly {
		term = fmt.Sprintf("(%s) AND humans[mh]", term)
	}
	return term
}

// efetch retrieves full article metadata for the given PMIDs.
func (c *Client) efetch(ctx context.Context, pmids []string) (*PubmedArticleSet, error) {
	if len(pmids) == 0 {
		return &PubmedArticleSet{}, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")

	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result PubmedArticleSet
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	return &result, nil
}

// articleToRecord converts a PubmedArticle to a canonical PaperRecord.
func articleToRecord(article PubmedArticle) domain.PaperRecord {
	citation := article.MedlineCitation
	pmid := citation.PMID.Value

	record := domain.PaperRecord{
		ID:              pmid,
		Source:          domain.SourceTypePubMed,
		Sources:         []domain.SourceType{domain.SourceTypePubMed},
		Title:           strings.TrimSpace(citation.Article.ArticleTitle),
		Authors:         extractAuthors(citation.Article.AuthorList),
		Journal:         extractJournal(citation.Article.Journal),
		Year:            extractYear(citation.Article),
		Abstract:        extractAbstract(citation.Article.Abstract),
		DOI:             domain.NormalizeDOI(extractDOI(citation.Article, article.PubmedData)),
		PMID:            pmid,
		PublicationType: extractPublicationType(citation.Article.PublicationTypeList),
	}
	if pmid != "" {
		record.URL = pubmedURLPrefix + pmid + "/"
	}
	return record
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return eloc.Value
		}
	}

	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "doi" {
			return aid.Value
		}
	}

	return ""
}

// extractYear extracts the publication year. ArticleDate is preferred;
// PubDate falls back to the first 4-digit run in whichever date text the
// record carries (structured Year or free-text MedlineDate).
func extractYear(article Article) int {
	for _, ad := range article.ArticleDate {
		if year := domain.ExtractYear(ad.Year); year > 0 {
			return year
		}
	}

	pubDate := article.Journal.JournalIssue.PubDate
	if year := domain.ExtractYear(pubDate.Year); year > 0 {
		return year
	}
	return domain.ExtractYear(pubDate.MedlineDate)
}

// extractAbstract concatenates multiple abstract sections into one string.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	// A single unlabeled section is returned directly.
	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Value)
	}

	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// extractAuthors converts PubMed authors to an ordered name list.
func extractAuthors(authorList *AuthorList) []string {
	if authorList == nil || len(authorList.Authors) == 0 {
		return nil
	}

	authors := make([]string, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}

		var name string
		if a.CollectiveName != "" {
			name = a.CollectiveName
		} else {
			nameParts := make([]string, 0, 2)
			if a.ForeName != "" {
				nameParts = append(nameParts, a.ForeName)
			}
			if a.LastName != "" {
				nameParts = append(nameParts, a.LastName)
			}
			name = strings.Join(nameParts, " ")
		}

		if name == "" {
			continue
		}
		authors = append(authors, name)
	}

	return authors
}

// extractJournal prefers the full journal title over the ISO abbreviation.
func extractJournal(journal Journal) string {
	if journal.Title != "" {
		return journal.Title
	}
	return journal.ISOAbbreviation
}

// extractPublicationType returns the first publication type, skipping the
// generic "Journal Article" when a more specific type follows it.
func extractPublicationType(list *PublicationTypeList) string {
	if list == nil || len(list.PublicationTypes) == 0 {
		return ""
	}

	first := ""
	for _, pt := range list.PublicationTypes {
		value := strings.TrimSpace(pt.Value)
		if value == "" {
			continue
		}
		if first == "" {
			first = value
		}
		if !strings.EqualFold(value, "Journal Article") {
			return value
		}
	}
	return first
}
