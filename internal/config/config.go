// Package config loads newscluster settings from a YAML file, environment
// variables and built-in defaults, in increasing order of precedence:
// defaults < file < environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/newscluster/internal/embedder"
	"github.com/dshills/newscluster/internal/logging"
	"github.com/dshills/newscluster/internal/splitter"
)

// DateFormat is the layout of dated data directories.
const DateFormat = "2006-01-02"

// Environment variables that override file settings.
const (
	EnvDataDir        = "NEWSCLUSTER_DATA_DIR"
	EnvDate           = "NEWSCLUSTER_DATE"
	EnvCategories     = "NEWSCLUSTER_CATEGORIES"
	EnvWorkers        = "NEWSCLUSTER_WORKERS"
	EnvMaxLeafSize    = "NEWSCLUSTER_MAX_LEAF_SIZE"
	EnvBranching      = "NEWSCLUSTER_BRANCHING_FACTOR"
	EnvCatalogPath    = "NEWSCLUSTER_CATALOG_PATH"
	EnvLogLevel       = "NEWSCLUSTER_LOG_LEVEL"
	EnvEmbeddingModel = "NEWSCLUSTER_EMBEDDING_MODEL"
)

var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	DataDir    string          `yaml:"data_dir"`
	DateLayout bool            `yaml:"date_layout"`
	Date       string          `yaml:"date"`
	Categories []string        `yaml:"categories"`
	Workers    int             `yaml:"workers"`
	Splitter   SplitterConfig  `yaml:"splitter"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
	Catalog    CatalogConfig   `yaml:"catalog"`
	Logging    LoggingConfig   `yaml:"logging"`
}

type SplitterConfig struct {
	MaxLeafSize     int `yaml:"max_leaf_size"`
	BranchingFactor int `yaml:"branching_factor"`
	StallLimit      int `yaml:"stall_limit"`
	MaxRounds       int `yaml:"max_rounds"`
}

type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Endpoint          string        `yaml:"endpoint"`
	BatchSize         int           `yaml:"batch_size"`
	CacheSize         int           `yaml:"cache_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxInputTokens    int           `yaml:"max_input_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
}

type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	JSON    bool   `yaml:"json"`
	NoColor bool   `yaml:"no_color"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:    "data",
		DateLayout: true,
		Categories: []string{"business", "pakistan"},
		Workers:    runtime.NumCPU(),
		Splitter: SplitterConfig{
			MaxLeafSize:     splitter.DefaultMaxLeafSize,
			BranchingFactor: splitter.DefaultBranchingFactor,
			StallLimit:      splitter.DefaultStallLimit,
			MaxRounds:       splitter.DefaultMaxRounds,
		},
		Embedding: EmbeddingConfig{
			BatchSize: embedder.DefaultBatchSize,
			CacheSize: embedder.DefaultCacheSize,
			Timeout:   30 * time.Second,
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    filepath.Join("data", "newscluster.db"),
		},
		Logging: LoggingConfig{
			Level:   "info",
			NoColor: true,
		},
	}
}

// Load reads configuration from path, if given, on top of the defaults,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvDate); v != "" {
		c.Date = v
	}
	if v := os.Getenv(EnvCategories); v != "" {
		c.Categories = splitList(v)
	}
	if v := os.Getenv(EnvCatalogPath); v != "" {
		c.Catalog.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(embedder.EnvProvider); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		c.Embedding.Model = v
	}

	ints := []struct {
		env string
		dst *int
	}{
		{EnvWorkers, &c.Workers},
		{EnvMaxLeafSize, &c.Splitter.MaxLeafSize},
		{EnvBranching, &c.Splitter.BranchingFactor},
	}
	for _, it := range ints {
		v := os.Getenv(it.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, it.env, v)
		}
		*it.dst = n
	}

	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case embedder.ProviderJina:
			c.Embedding.APIKey = os.Getenv(embedder.EnvJinaAPIKey)
		case embedder.ProviderOpenAI:
			c.Embedding.APIKey = os.Getenv(embedder.EnvOpenAIAPIKey)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: at least one category is required", ErrInvalid)
	}
	for _, cat := range c.Categories {
		if err := ValidateCategory(cat); err != nil {
			return err
		}
	}
	if c.Date != "" {
		if _, err := time.Parse(DateFormat, c.Date); err != nil {
			return fmt.Errorf("%w: date %q must look like %s", ErrInvalid, c.Date, DateFormat)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalid)
	}
	if c.Splitter.BranchingFactor < 2 {
		return fmt.Errorf("%w: splitter.branching_factor must be at least 2", ErrInvalid)
	}
	if err := c.SplitterConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch c.Embedding.Provider {
	case "", embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderLocal:
	default:
		return fmt.Errorf("%w: embedding.provider must be jina, openai or local", ErrInvalid)
	}
	if c.Embedding.BatchSize < 0 || c.Embedding.BatchSize > embedder.MaxBatchSize {
		return fmt.Errorf("%w: embedding.batch_size must be between 0 and %d", ErrInvalid, embedder.MaxBatchSize)
	}
	if c.Catalog.Enabled && c.Catalog.Path == "" {
		return fmt.Errorf("%w: catalog.path is required when the catalog is enabled", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// ValidateCategory rejects names that would escape the data directory.
func ValidateCategory(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: bad category name %q", ErrInvalid, name)
	}
	return nil
}

// SplitterConfig converts the splitter section.
func (c *Config) SplitterConfig() splitter.Config {
	return splitter.Config{
		MaxLeafSize:     c.Splitter.MaxLeafSize,
		BranchingFactor: c.Splitter.BranchingFactor,
		StallLimit:      c.Splitter.StallLimit,
		MaxRounds:       c.Splitter.MaxRounds,
	}
}

// EmbedderConfig converts the embedding section.
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:          c.Embedding.Provider,
		APIKey:            c.Embedding.APIKey,
		Model:             c.Embedding.Model,
		Endpoint:          c.Embedding.Endpoint,
		CacheSize:         c.Embedding.CacheSize,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		MaxInputTokens:    c.Embedding.MaxInputTokens,
		Timeout:           c.Embedding.Timeout,
	}
}

// LoggingOptions converts the logging section.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:   c.Logging.Level,
		JSON:    c.Logging.JSON,
		NoColor: c.Logging.NoColor,
	}
}

// BaseDir returns the directory holding category folders: DataDir/<date>
// with the date layout, DataDir otherwise. An explicit Date wins over now.
func (c *Config) BaseDir(now time.Time) string {
	if !c.DateLayout {
		return c.DataDir
	}
	date := c.Date
	if date == "" {
		date = now.Format(DateFormat)
	}
	return filepath.Join(c.DataDir, date)
}
