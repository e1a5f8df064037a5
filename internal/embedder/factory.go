package embedder

import (
	"fmt"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider   string // openai, jina, local, or any name when BaseURL is set
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	CacheSize  int
}

// New creates an embedder with explicit configuration. Unset fields fall
// back to the provider's defaults; an unknown provider name is accepted
// only when BaseURL points at an OpenAI-compatible endpoint.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider(cfg)
	}

	switch provider {
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimensions, cache)
	case ProviderOpenAI:
		return NewHTTPProvider(HTTPConfig{
			Name:           ProviderOpenAI,
			BaseURL:        orDefault(cfg.BaseURL, DefaultOpenAIBaseURL),
			APIKey:         cfg.APIKey,
			Model:          orDefault(cfg.Model, DefaultOpenAIModel),
			Dimensions:     orDefaultInt(cfg.Dimensions, OpenAIDimension),
			SendDimensions: cfg.Dimensions > 0 && cfg.Dimensions != OpenAIDimension,
			Timeout:        cfg.Timeout,
			Cache:          cache,
		})
	case ProviderJina:
		return NewHTTPProvider(HTTPConfig{
			Name:       ProviderJina,
			BaseURL:    orDefault(cfg.BaseURL, DefaultJinaBaseURL),
			APIKey:     cfg.APIKey,
			Model:      orDefault(cfg.Model, DefaultJinaModel),
			Dimensions: orDefaultInt(cfg.Dimensions, JinaDimension),
			Timeout:    cfg.Timeout,
			Cache:      cache,
		})
	default:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: unknown provider %s", ErrUnknownProvider, cfg.Provider)
		}
		if cfg.Model == "" || cfg.Dimensions <= 0 {
			return nil, fmt.Errorf("%w: provider %s needs model and dimensions", ErrInvalidInput, cfg.Provider)
		}
		return NewHTTPProvider(HTTPConfig{
			Name:           provider,
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			Dimensions:     cfg.Dimensions,
			SendDimensions: true,
			Timeout:        cfg.Timeout,
			Cache:          cache,
		})
	}
}

// DetectProvider returns the provider that would be used for cfg when no
// provider name is given
func DetectProvider(cfg Config) string {
	if cfg.APIKey == "" {
		return ProviderLocal
	}
	if strings.Contains(cfg.BaseURL, "jina.ai") {
		return ProviderJina
	}
	return ProviderOpenAI
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
