// Package config provides configuration management for the paper search service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the paper search service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains Kafka publisher settings for search analytics events.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// RateLimit contains client-facing rate limiting settings.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// Cache contains search result cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// PaperSources contains paper source API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// Search contains pipeline-level search settings.
	Search SearchConfig `mapstructure:"search"`
	// Auth contains request identity settings.
	Auth AuthConfig `mapstructure:"auth"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the Prometheus metrics listener port (default: 9090).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 25).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// KafkaConfig holds Kafka publisher settings for search analytics events.
type KafkaConfig struct {
	// Enabled controls whether event publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic search events are published to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// WriteTimeout bounds a single publish attempt.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RateLimitConfig holds client-facing rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is enforced.
	Enabled bool `mapstructure:"enabled"`
	// Backend selects the counter store ("postgres" or "memory").
	Backend string `mapstructure:"backend"`
	// SearchLimit is the number of search requests allowed per window.
	SearchLimit int `mapstructure:"search_limit"`
	// Window is the sliding window duration.
	Window time.Duration `mapstructure:"window"`
}

// CacheConfig holds search result cache settings.
type CacheConfig struct {
	// Enabled controls whether the result cache is consulted.
	Enabled bool `mapstructure:"enabled"`
	// TTL is how long a cached result set stays fresh.
	TTL time.Duration `mapstructure:"ttl"`
	// WriteTimeout bounds the asynchronous cache write after a search.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PaperSourcesConfig holds configuration for all paper source APIs.
type PaperSourcesConfig struct {
	// PubMed contains PubMed E-utilities settings.
	PubMed PaperSourceConfig `mapstructure:"pubmed"`
	// OpenAlex contains OpenAlex API settings.
	OpenAlex PaperSourceConfig `mapstructure:"openalex"`
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
}

// PaperSourceConfig holds configuration for a single paper source API.
type PaperSourceConfig struct {
	// Enabled controls whether this source participates in federated searches.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g.
	// PAPERSEARCH_PAPER_SOURCES_PUBMED_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Email is the contact address sent to sources with polite pools (OpenAlex).
	Email string `mapstructure:"email"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second to this source.
	RateLimit float64 `mapstructure:"rate_limit"`
	// PageSize is the number of results requested per source call.
	PageSize int `mapstructure:"page_size"`
}

// SearchConfig holds pipeline-level search settings.
type SearchConfig struct {
	// SourceTimeout bounds each per-source call during fan-out.
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
	// PageSize is the number of deduplicated results per response page.
	PageSize int `mapstructure:"page_size"`
}

// AuthConfig holds request identity settings.
type AuthConfig struct {
	// JWTSecret verifies bearer token signatures when set
	// (loaded from PAPERSEARCH_AUTH_JWT_SECRET). Empty disables
	// signature verification and falls back to unverified claims.
	JWTSecret string `mapstructure:"-"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics listener address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAPERSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-search-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets use mapstructure:"-" and load exclusively from the environment.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.PaperSources.PubMed.APIKey = os.Getenv("PAPERSEARCH_PAPER_SOURCES_PUBMED_API_KEY")
	cfg.PaperSources.OpenAlex.APIKey = os.Getenv("PAPERSEARCH_PAPER_SOURCES_OPENALEX_API_KEY")
	cfg.PaperSources.SemanticScholar.APIKey = os.Getenv("PAPERSEARCH_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
	cfg.Auth.JWTSecret = os.Getenv("PAPERSEARCH_AUTH_JWT_SECRET")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "papersearch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "paper_search_service")
	// Default to "require" for production security. Use PAPERSEARCH_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.search.paper_search_service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "5s")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.backend", "postgres")
	v.SetDefault("rate_limit.search_limit", 30)
	v.SetDefault("rate_limit.window", "1m")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.write_timeout", "5s")

	// Paper sources defaults - PubMed
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("paper_sources.pubmed.enabled", true)
	v.SetDefault("paper_sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("paper_sources.pubmed.timeout", "10s")
	v.SetDefault("paper_sources.pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("paper_sources.pubmed.page_size", 20)

	// Paper sources defaults - OpenAlex
	v.SetDefault("paper_sources.openalex.enabled", true)
	v.SetDefault("paper_sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("paper_sources.openalex.email", "")
	v.SetDefault("paper_sources.openalex.timeout", "10s")
	v.SetDefault("paper_sources.openalex.rate_limit", 10.0)
	v.SetDefault("paper_sources.openalex.page_size", 25)

	// Paper sources defaults - Semantic Scholar
	v.SetDefault("paper_sources.semantic_scholar.enabled", true)
	v.SetDefault("paper_sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("paper_sources.semantic_scholar.timeout", "10s")
	v.SetDefault("paper_sources.semantic_scholar.rate_limit", 1.0) // unauthenticated shared pool limit
	v.SetDefault("paper_sources.semantic_scholar.page_size", 20)

	// Search pipeline defaults
	v.SetDefault("search.source_timeout", "10s")
	v.SetDefault("search.page_size", 20)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Metrics.Enabled && (c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "postgres", "memory":
		default:
			return fmt.Errorf("invalid rate limit backend: %s", c.RateLimit.Backend)
		}
		if c.RateLimit.SearchLimit <= 0 {
			return fmt.Errorf("rate limit search_limit must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	if c.Search.SourceTimeout <= 0 {
		return fmt.Errorf("search source_timeout must be positive")
	}
	if c.Search.PageSize <= 0 {
		return fmt.Errorf("search page_size must be positive")
	}

	return nil
}
