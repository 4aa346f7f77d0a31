// Package config loads and validates the kbsearch runtime configuration.
//
// Configuration is environment-driven. An optional YAML file provides a
// base layer; KBSEARCH_* environment variables take priority. Validation
// runs at startup and rejects default secrets and memory-only rate
// limiting in production.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kberrors "github.com/assistsupport/kbsearch/internal/errors"
)

// Default values shared with validation.
const (
	DefaultAPIKey       = "dev-key-change-in-production"
	DefaultAPIPort      = 3000
	DefaultRateLimitURI = "memory://"
	DefaultRatePerMin   = 100
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Config is the complete kbsearch configuration.
type Config struct {
	Environment string          `yaml:"environment"`
	API         APIConfig       `yaml:"api"`
	Store       StoreConfig     `yaml:"store"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
	Reranker    RerankerConfig  `yaml:"reranker"`
	Intent      IntentConfig    `yaml:"intent"`
	Search      SearchConfig    `yaml:"search"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Key string `yaml:"key"`
	// Port the HTTP server listens on (1-65535).
	Port int `yaml:"port"`
	// RateLimitURI selects the rate-limit backend: "memory://" or "redis://host:port/db".
	RateLimitURI string `yaml:"rate_limit_uri"`
	// RatePerMinute is the per-client request budget (default: 100).
	RatePerMinute int `yaml:"rate_per_minute"`
}

// StoreConfig configures the Postgres article store.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	// EfSearch is the HNSW query-time search width, set once per session (default: 100).
	EfSearch int `yaml:"ef_search"`
	// MaxOpenConns bounds the connection pool (default: 10).
	MaxOpenConns int `yaml:"max_open_conns"`
}

// EmbeddingConfig configures the embedding model client.
type EmbeddingConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	// Static switches to the deterministic offline embedder (dev/test only).
	Static bool `yaml:"static"`
}

// RerankerConfig configures the cross-encoder client.
type RerankerConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	Enabled  bool          `yaml:"enabled"`
}

// IntentConfig configures the intent classifier.
type IntentConfig struct {
	// ModelPath is the JSON artifact exported by the offline trainer.
	// Empty means keyword fallback only.
	ModelPath string `yaml:"model_path"`
	CacheSize int    `yaml:"cache_size"`
}

// SearchConfig configures retrieval defaults.
type SearchConfig struct {
	DefaultTopK     int           `yaml:"default_top_k"`
	MaxTopK         int           `yaml:"max_top_k"`
	DefaultStrategy string        `yaml:"default_strategy"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Environment: EnvDevelopment,
		API: APIConfig{
			Key:           DefaultAPIKey,
			Port:          DefaultAPIPort,
			RateLimitURI:  DefaultRateLimitURI,
			RatePerMinute: DefaultRatePerMin,
		},
		Store: StoreConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "assistsupport_dev",
			Database:     "assistsupport_dev",
			SSLMode:      "disable",
			EfSearch:     100,
			MaxOpenConns: 10,
		},
		Embedding: EmbeddingConfig{
			Endpoint:   "http://localhost:8089",
			Model:      "all-MiniLM-L6-v2",
			Dimensions: 384,
			Timeout:    10 * time.Second,
		},
		Reranker: RerankerConfig{
			Endpoint: "http://localhost:8089",
			Model:    "ms-marco-MiniLM-L-6-v2",
			Timeout:  30 * time.Second,
			Enabled:  true,
		},
		Intent: IntentConfig{
			CacheSize: 10000,
		},
		Search: SearchConfig{
			DefaultTopK:     10,
			MaxTopK:         50,
			DefaultStrategy: "adaptive",
			RequestTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path, then environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, kberrors.New(kberrors.ErrCodeConfigInvalid,
				fmt.Sprintf("read config file %s: %v", path, err), err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, kberrors.New(kberrors.ErrCodeConfigInvalid,
				fmt.Sprintf("parse config file %s: %v", path, err), err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	setStr := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var parseErr error
	setInt := func(key string, dst *int) {
		v := getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErr = kberrors.New(kberrors.ErrCodeConfigInvalid,
				key+" must be an integer", err)
			return
		}
		*dst = n
	}

	setStr("ENVIRONMENT", &c.Environment)
	setStr("KBSEARCH_API_KEY", &c.API.Key)
	setInt("KBSEARCH_API_PORT", &c.API.Port)
	setStr("KBSEARCH_RATE_LIMIT_STORAGE_URI", &c.API.RateLimitURI)
	setInt("KBSEARCH_RATE_PER_MINUTE", &c.API.RatePerMinute)

	setStr("KBSEARCH_DB_HOST", &c.Store.Host)
	setInt("KBSEARCH_DB_PORT", &c.Store.Port)
	setStr("KBSEARCH_DB_USER", &c.Store.User)
	setStr("KBSEARCH_DB_PASSWORD", &c.Store.Password)
	setStr("KBSEARCH_DB_NAME", &c.Store.Database)
	setStr("KBSEARCH_DB_SSLMODE", &c.Store.SSLMode)
	setInt("KBSEARCH_EF_SEARCH", &c.Store.EfSearch)

	setStr("KBSEARCH_EMBEDDING_ENDPOINT", &c.Embedding.Endpoint)
	setStr("KBSEARCH_EMBEDDING_MODEL", &c.Embedding.Model)
	setInt("KBSEARCH_EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)
	setStr("KBSEARCH_RERANKER_ENDPOINT", &c.Reranker.Endpoint)
	setStr("KBSEARCH_INTENT_MODEL_PATH", &c.Intent.ModelPath)
	setStr("KBSEARCH_LOG_LEVEL", &c.Logging.Level)

	return parseErr
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// Validate checks the configuration and returns all problems found.
func (c *Config) Validate() []string {
	var errs []string

	switch strings.ToLower(c.Environment) {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		errs = append(errs, "ENVIRONMENT must be one of development, test, or production")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "KBSEARCH_API_PORT must be between 1 and 65535")
	}
	if c.Store.Port < 1 || c.Store.Port > 65535 {
		errs = append(errs, "KBSEARCH_DB_PORT must be between 1 and 65535")
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "KBSEARCH_EMBEDDING_DIMENSIONS must be positive")
	}

	if c.IsProduction() {
		if c.API.Key == DefaultAPIKey {
			errs = append(errs, "KBSEARCH_API_KEY must be set to a non-default value in production")
		}
		if c.API.RateLimitURI == DefaultRateLimitURI {
			errs = append(errs, "KBSEARCH_RATE_LIMIT_STORAGE_URI must not use memory:// in production")
		}
	}

	return errs
}

// EnsureValid validates and returns a config error listing every problem.
func (c *Config) EnsureValid() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}
	return kberrors.New(kberrors.ErrCodeConfigInvalid, strings.Join(errs, "; "), nil)
}

// DSN assembles the Postgres connection string.
func (c *StoreConfig) DSN() string {
	parts := []string{
		"host=" + c.Host,
		fmt.Sprintf("port=%d", c.Port),
		"user=" + c.User,
		"dbname=" + c.Database,
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts = append(parts, "sslmode="+sslMode)
	return strings.Join(parts, " ")
}
