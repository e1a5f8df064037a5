// Package config loads debugctx settings from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// EnvPrefix is prepended to every derived environment variable name, so
// qdrant.host is read from DEBUGCTX_QDRANT_HOST.
const EnvPrefix = "DEBUGCTX"

// Vector store backends
const (
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Chunker    ChunkerConfig    `mapstructure:"chunker"`
	Batcher    BatcherConfig    `mapstructure:"batcher"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Search     SearchConfig     `mapstructure:"search"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
}

// Addr is the SSE listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CacheSize  int           `mapstructure:"cache_size"`
}

// QdrantConfig selects and addresses the vector store. Port is the gRPC
// port, not the REST one.
type QdrantConfig struct {
	Backend    string        `mapstructure:"backend"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	APIKey     string        `mapstructure:"api_key"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Collection string        `mapstructure:"collection"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type GitHubConfig struct {
	Token             string        `mapstructure:"token"`
	BaseURL           string        `mapstructure:"base_url"`
	LocalDir          string        `mapstructure:"local_dir"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxFileBytes      int64         `mapstructure:"max_file_bytes"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type ChunkerConfig struct {
	Target  int `mapstructure:"target"`
	Max     int `mapstructure:"max"`
	Overlap int `mapstructure:"overlap"`
	Window  int `mapstructure:"window"`
}

type BatcherConfig struct {
	MaxItems          int     `mapstructure:"max_items"`
	MaxChars          int     `mapstructure:"max_chars"`
	Concurrency       int     `mapstructure:"concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	UpsertBatch       int     `mapstructure:"upsert_batch"`
}

// ClassifierConfig selects which files are ingested. Empty lists keep the
// built-in classification.
type ClassifierConfig struct {
	IndexTypes   []string `mapstructure:"index_types"`
	TestDirs     []string `mapstructure:"test_dirs"`
	TestSuffixes []string `mapstructure:"test_suffixes"`
	DocExts      []string `mapstructure:"doc_exts"`
	SrcExts      []string `mapstructure:"src_exts"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type SearchConfig struct {
	QueryCacheSize int `mapstructure:"query_cache_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// legacyEnv maps keys to the unprefixed variable names existing
// deployments already export. The prefixed name wins when both are set.
var legacyEnv = map[string][]string{
	"server.transport":     {"TRANSPORT"},
	"server.host":          {"HOST"},
	"server.port":          {"PORT"},
	"embedding.api_key":    {"LLM_API_KEY", "OPENAI_API_KEY"},
	"embedding.base_url":   {"LLM_BASE_URL"},
	"embedding.model":      {"EMBEDDING_MODEL_CHOICE"},
	"embedding.dimensions": {"EMBEDDING_DIMENSIONS"},
	"qdrant.host":          {"QDRANT_HOST"},
	"qdrant.port":          {"QDRANT_PORT"},
	"qdrant.api_key":       {"QDRANT_API_KEY"},
	"qdrant.collection":    {"QDRANT_COLLECTION_NAME"},
	"github.token":         {"GITHUB_TOKEN"},
	"github.local_dir":     {"GITHUB_DIR"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.cache_size", 0)

	v.SetDefault("qdrant.backend", BackendQdrant)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.use_tls", false)
	v.SetDefault("qdrant.collection", "debugctx")
	v.SetDefault("qdrant.retry_delay", time.Second)

	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.local_dir", "")
	v.SetDefault("github.requests_per_second", 5.0)
	v.SetDefault("github.max_file_bytes", int64(1<<20))
	v.SetDefault("github.timeout", 30*time.Second)

	v.SetDefault("chunker.target", 1500)
	v.SetDefault("chunker.max", 2000)
	v.SetDefault("chunker.overlap", 200)
	v.SetDefault("chunker.window", 400)

	v.SetDefault("batcher.max_items", 64)
	v.SetDefault("batcher.max_chars", 60000)
	v.SetDefault("batcher.concurrency", 4)
	v.SetDefault("batcher.requests_per_second", 0.0)
	v.SetDefault("batcher.upsert_batch", 64)

	v.SetDefault("classifier.index_types", []string{"src", "doc", "test"})

	v.SetDefault("storage.path", "~/.debugctx/state.db")

	v.SetDefault("search.query_cache_size", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Load reads configuration from an optional YAML file and the environment.
// An empty path means environment and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// DEBUG=1 keeps working as a shortcut for debug logging
	if _, ok := os.LookupEnv("DEBUG"); ok && cfg.Log.Level == "info" {
		cfg.Log.Level = "debug"
	}

	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	cfg.GitHub.LocalDir = ExpandPath(cfg.GitHub.LocalDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate returns an error describing every setting that makes the
// configuration unusable.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Transport {
	case "stdio", "sse":
	default:
		errs = append(errs, fmt.Errorf("server.transport %q must be stdio or sse", c.Server.Transport))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}

	switch c.Qdrant.Backend {
	case BackendQdrant:
		if c.Qdrant.Host == "" {
			errs = append(errs, errors.New("qdrant.host is required"))
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("qdrant.port %d is out of range", c.Qdrant.Port))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("qdrant.backend %q must be qdrant or memory", c.Qdrant.Backend))
	}
	if c.Qdrant.Collection == "" {
		errs = append(errs, errors.New("qdrant.collection is required"))
	}

	if c.Embedding.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions %d is negative", c.Embedding.Dimensions))
	}

	ch := c.Chunker
	if ch.Target <= 0 || ch.Max < ch.Target {
		errs = append(errs, fmt.Errorf("chunker: need 0 < target (%d) <= max (%d)", ch.Target, ch.Max))
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.Target {
		errs = append(errs, fmt.Errorf("chunker: overlap %d must be in [0, target)", ch.Overlap))
	}

	if _, err := c.IndexTypes(); err != nil {
		errs = append(errs, err)
	}

	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate %.2f must be in [0, 1]", c.Tracing.SampleRate))
	}

	return errors.Join(errs...)
}

// Warnings returns settings that are accepted but probably unintended.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.Embedding.Provider != "" && c.Embedding.Provider != "local" && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "" && c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
		warnings = append(warnings, "no embedding provider configured, using the local hash embedder")
	}
	if c.Qdrant.Backend == BackendMemory {
		warnings = append(warnings, "qdrant.backend is memory, indexed vectors are lost on exit")
	}
	if c.Qdrant.Port == 6333 {
		warnings = append(warnings, "qdrant.port 6333 is the REST port, the client speaks gRPC (usually 6334)")
	}
	if c.GitHub.Token == "" {
		warnings = append(warnings, "github.token is empty, API requests are limited to 60 per hour")
	}
	if c.Chunker.Window > c.Chunker.Target {
		warnings = append(warnings, fmt.Sprintf("chunker.window %d exceeds target %d", c.Chunker.Window, c.Chunker.Target))
	}

	return warnings
}

// IndexTypes parses classifier.index_types
func (c *Config) IndexTypes() ([]types.FileType, error) {
	out := make([]types.FileType, 0, len(c.Classifier.IndexTypes))
	for _, s := range c.Classifier.IndexTypes {
		t, err := types.ParseFileType(s)
		if err != nil {
			return nil, fmt.Errorf("classifier.index_types: %w", err)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.New("classifier.index_types must not be empty")
	}
	return out, nil
}

// ExpandPath replaces a leading ~ with the user's home directory
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
