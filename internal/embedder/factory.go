package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	Endpoint          string
	CacheSize         int
	RequestsPerSecond float64
	MaxInputTokens    int
	Timeout           time.Duration
}

func (c Config) httpOptions() HTTPOptions {
	return HTTPOptions{
		Endpoint:          c.Endpoint,
		Model:             c.Model,
		RequestsPerSecond: c.RequestsPerSecond,
		MaxInputTokens:    c.MaxInputTokens,
		Timeout:           c.Timeout,
	}
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. NEWSCLUSTER_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{
		Provider:  DetectProvider(),
		CacheSize: DefaultCacheSize,
	})
}

// New creates an embedder with explicit configuration. An empty provider is
// resolved with DetectProvider.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cache, cfg.httpOptions())
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cache, cfg.httpOptions())
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
