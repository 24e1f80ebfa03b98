package config

import (
	_ "embed"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Blob      BlobConfig      `yaml:"blob"`
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	PublicBaseURL  string        `yaml:"public_base_url"` // prefix for image_url/download_url, request host when empty
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      int           `yaml:"rate_limit"` // requests per minute per IP on /upload and /search, 0 disables
}

type DatabaseConfig struct {
	URL          string        `yaml:"-"`              // PostgreSQL connection URL
	MaxOpenConns int           `yaml:"max_open_conns"` // Maximum open connections
	MaxIdleConns int           `yaml:"max_idle_conns"` // Maximum idle connections
	QueryTimeout time.Duration `yaml:"query_timeout"`  // Per-call timeout for metadata store calls
}

type BlobConfig struct {
	Path     string `yaml:"path"`      // badger directory for image bytes
	InMemory bool   `yaml:"in_memory"` // keep blobs in memory only (tests, demos)
}

type CacheConfig struct {
	Backend    string        `yaml:"backend"` // memory or badger
	Path       string        `yaml:"path"`    // badger directory when backend is badger
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"` // memory backend capacity
	Timeout    time.Duration `yaml:"timeout"`
}

type EmbeddingConfig struct {
	URL     string        `yaml:"url"` // face embedding service, defaults to http://localhost:8000
	Timeout time.Duration `yaml:"timeout"`
}

type SearchConfig struct {
	Threshold   float64 `yaml:"threshold"`
	Dedupe      bool    `yaml:"dedupe"` // one best-scoring entry per image
	TopK        int     `yaml:"top_k"`  // 0 means unlimited
	Concurrency int     `yaml:"concurrency"`
}

type RetentionConfig struct {
	MaxRecords int `yaml:"max_records"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegInt is envInt that also accepts zero.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float in the closed range [-1, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= -1 && f <= 1 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Defaults returns the configuration embedded in defaults.yaml without env overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Server: ServerConfig{
			Host:           envString("WEB_HOST", d.Server.Host),
			Port:           envInt("WEB_PORT", d.Server.Port),
			PublicBaseURL:  strings.TrimSuffix(os.Getenv("PUBLIC_BASE_URL"), "/"),
			RequestTimeout: envDuration("WEB_REQUEST_TIMEOUT", d.Server.RequestTimeout),
			RateLimit:      envNonNegInt("WEB_RATE_LIMIT", d.Server.RateLimit),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
			QueryTimeout: envDuration("DATABASE_QUERY_TIMEOUT", d.Database.QueryTimeout),
		},
		Blob: BlobConfig{
			Path:     envString("BLOB_PATH", d.Blob.Path),
			InMemory: envBool("BLOB_IN_MEMORY", d.Blob.InMemory),
		},
		Cache: CacheConfig{
			Backend:    strings.ToLower(envString("CACHE_BACKEND", d.Cache.Backend)),
			Path:       envString("CACHE_PATH", d.Cache.Path),
			TTL:        envDuration("CACHE_TTL", d.Cache.TTL),
			MaxEntries: envInt("CACHE_MAX_ENTRIES", d.Cache.MaxEntries),
			Timeout:    envDuration("CACHE_TIMEOUT", d.Cache.Timeout),
		},
		Embedding: EmbeddingConfig{
			URL:     envString("EMBEDDING_URL", d.Embedding.URL),
			Timeout: envDuration("EMBEDDING_TIMEOUT", d.Embedding.Timeout),
		},
		Search: SearchConfig{
			Threshold:   envFloat("SEARCH_THRESHOLD", d.Search.Threshold),
			Dedupe:      envBool("SEARCH_DEDUPE", d.Search.Dedupe),
			TopK:        envNonNegInt("SEARCH_TOP_K", d.Search.TopK),
			Concurrency: envInt("SEARCH_CONCURRENCY", d.Search.Concurrency),
		},
		Retention: RetentionConfig{
			MaxRecords: envInt("MAX_RECORDS", d.Retention.MaxRecords),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", d.Log.Level),
			Format: envString("LOG_FORMAT", d.Log.Format),
		},
	}
}

// Validate reports configuration that the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}
	if !c.Blob.InMemory && c.Blob.Path == "" {
		errs = append(errs, errors.New("BLOB_PATH is required unless BLOB_IN_MEMORY is set"))
	}
	switch c.Cache.Backend {
	case "memory":
	case "badger":
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("CACHE_PATH is required for the badger cache backend"))
		}
	default:
		errs = append(errs, errors.New("CACHE_BACKEND must be memory or badger"))
	}
	if c.Retention.MaxRecords < 1 {
		errs = append(errs, errors.New("MAX_RECORDS must be at least 1"))
	}
	return errors.Join(errs...)
}
