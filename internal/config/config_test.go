package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// clearEnv blanks every variable Load consults; viper treats empty values
// as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, names := range legacyEnv {
		for _, n := range names {
			t.Setenv(n, "")
		}
	}
	t.Setenv("DEBUG", "")
	require.NoError(t, os.Unsetenv("DEBUG"))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, BackendQdrant, cfg.Qdrant.Backend)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, "debugctx", cfg.Qdrant.Collection)
	assert.Equal(t, time.Second, cfg.Qdrant.RetryDelay)
	assert.Equal(t, 1500, cfg.Chunker.Target)
	assert.Equal(t, 2000, cfg.Chunker.Max)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, 64, cfg.Batcher.UpsertBatch)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, filepath.IsAbs(cfg.Storage.Path))

	idx, err := cfg.IndexTypes()
	require.NoError(t, err)
	assert.Equal(t, []types.FileType{types.FileSrc, types.FileDoc, types.FileTest}, idx)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "debugctx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  transport: sse
  port: 9000
qdrant:
  backend: memory
  collection: infra
chunker:
  target: 800
  max: 1000
  overlap: 100
classifier:
  index_types: [src, doc]
  test_dirs: [e2e]
  src_exts: [.tf, .hcl]
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sse", cfg.Server.Transport)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Qdrant.Backend)
	assert.Equal(t, "infra", cfg.Qdrant.Collection)
	assert.Equal(t, 800, cfg.Chunker.Target)
	assert.Equal(t, "json", cfg.Log.Format)

	idx, err := cfg.IndexTypes()
	require.NoError(t, err)
	assert.Equal(t, []types.FileType{types.FileSrc, types.FileDoc}, idx)
	assert.Equal(t, []string{"e2e"}, cfg.Classifier.TestDirs)
	assert.Equal(t, []string{".tf", ".hcl"}, cfg.Classifier.SrcExts)
	assert.Empty(t, cfg.Classifier.DocExts)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)

	t.Run("prefixed", func(t *testing.T) {
		t.Setenv("DEBUGCTX_QDRANT_HOST", "qdrant.internal")
		t.Setenv("DEBUGCTX_BATCHER_CONCURRENCY", "8")
		t.Setenv("DEBUGCTX_EMBEDDING_TIMEOUT", "5s")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
		assert.Equal(t, 8, cfg.Batcher.Concurrency)
		assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	})

	t.Run("legacy names", func(t *testing.T) {
		t.Setenv("QDRANT_COLLECTION_NAME", "knowledge_db")
		t.Setenv("LLM_BASE_URL", "http://llm.local/v1")
		t.Setenv("LLM_API_KEY", "sk-test")
		t.Setenv("EMBEDDING_MODEL_CHOICE", "bge-m3")
		t.Setenv("EMBEDDING_DIMENSIONS", "1024")
		t.Setenv("TRANSPORT", "sse")
		t.Setenv("PORT", "8051")
		t.Setenv("GITHUB_DIR", "/srv/github")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "knowledge_db", cfg.Qdrant.Collection)
		assert.Equal(t, "http://llm.local/v1", cfg.Embedding.BaseURL)
		assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
		assert.Equal(t, "bge-m3", cfg.Embedding.Model)
		assert.Equal(t, 1024, cfg.Embedding.Dimensions)
		assert.Equal(t, "sse", cfg.Server.Transport)
		assert.Equal(t, 8051, cfg.Server.Port)
		assert.Equal(t, "/srv/github", cfg.GitHub.LocalDir)
	})

	t.Run("prefixed wins over legacy", func(t *testing.T) {
		t.Setenv("QDRANT_HOST", "legacy")
		t.Setenv("DEBUGCTX_QDRANT_HOST", "prefixed")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "prefixed", cfg.Qdrant.Host)
	})

	t.Run("DEBUG enables debug logging", func(t *testing.T) {
		t.Setenv("DEBUG", "1")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
	})
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad transport", func(c *Config) { c.Server.Transport = "http" }, "server.transport"},
		{"bad server port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad backend", func(c *Config) { c.Qdrant.Backend = "pinecone" }, "qdrant.backend"},
		{"no qdrant host", func(c *Config) { c.Qdrant.Host = "" }, "qdrant.host"},
		{"no collection", func(c *Config) { c.Qdrant.Collection = "" }, "qdrant.collection"},
		{"negative dimensions", func(c *Config) { c.Embedding.Dimensions = -1 }, "embedding.dimensions"},
		{"max below target", func(c *Config) { c.Chunker.Max = 100 }, "chunker"},
		{"overlap too large", func(c *Config) { c.Chunker.Overlap = c.Chunker.Target }, "overlap"},
		{"unknown file type", func(c *Config) { c.Classifier.IndexTypes = []string{"image"} }, "classifier.index_types"},
		{"no file types", func(c *Config) { c.Classifier.IndexTypes = nil }, "classifier.index_types"},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "tracing.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("memory backend needs no host", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Qdrant.Backend = BackendMemory
		cfg.Qdrant.Host = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestWarnings(t *testing.T) {
	cfg := validConfig(t)
	warnings := cfg.Warnings()
	assert.Contains(t, warnings, "no embedding provider configured, using the local hash embedder")
	assert.Contains(t, warnings, "github.token is empty, API requests are limited to 60 per hour")

	cfg.Embedding.Provider = "openai"
	cfg.Qdrant.Port = 6333
	cfg.GitHub.Token = "ghp_x"
	warnings = cfg.Warnings()
	assert.Contains(t, warnings, "embedding provider 'openai' is configured but api_key is empty")
	assert.Contains(t, warnings, "qdrant.port 6333 is the REST port, the client speaks gRPC (usually 6334)")
	assert.NotContains(t, warnings, "github.token is empty, API requests are limited to 60 per hour")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".debugctx", "state.db"), ExpandPath("~/.debugctx/state.db"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, ":memory:", ExpandPath(":memory:"))
	assert.Equal(t, "", ExpandPath(""))
}
