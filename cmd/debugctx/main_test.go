package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugctx-mcp/internal/config"
	"github.com/dshills/debugctx-mcp/internal/fetcher"
	"github.com/dshills/debugctx-mcp/internal/indexer"
	"github.com/dshills/debugctx-mcp/internal/searcher"
	"github.com/dshills/debugctx-mcp/internal/vectorstore"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:     config.ServerConfig{Transport: "stdio", Host: "127.0.0.1", Port: 8000},
		Qdrant:     config.QdrantConfig{Backend: config.BackendMemory, Collection: "test"},
		GitHub:     config.GitHubConfig{RequestsPerSecond: 10},
		Chunker:    config.ChunkerConfig{Target: 1500, Max: 2000, Overlap: 200, Window: 400},
		Batcher:    config.BatcherConfig{MaxItems: 8, Concurrency: 1, UpsertBatch: 16},
		Classifier: config.ClassifierConfig{IndexTypes: []string{"src", "doc"}},
		Storage:    config.StorageConfig{Path: filepath.Join(t.TempDir(), "state", "debugctx.db")},
		Log:        config.LogConfig{Level: "error", Format: "text"},
		Tracing:    config.TracingConfig{SampleRate: 1},
	}
}

func TestNewApp_IngestAndSearch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	require.NoError(t, cfg.Validate())

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.store.(*vectorstore.Resilient)
	assert.True(t, ok)
	assert.FileExists(t, cfg.Storage.Path)

	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.tf"),
		[]byte("resource \"aws_s3_bucket\" \"logs\" {\n  bucket = \"acme-logs\"\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main_test.go"), []byte("package main\n"), 0o644))

	result, err := a.indexer.Ingest(ctx, indexer.Request{RepoURL: repo, ProjectName: "infra"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, result.Status)
	// test files are not in classifier.index_types
	assert.Equal(t, 1, result.FilesAdded)

	matches, err := a.searcher.Search(ctx, searcher.Request{Query: "aws_s3_bucket logs", Project: "infra"})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "main.tf", matches[0].FilePath)
}

func TestNewClassifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.TestDirs = []string{"e2e"}
	cfg.Classifier.DocExts = []string{"md", ".adoc"}
	cfg.Classifier.SrcExts = []string{"tf"}

	c, err := newClassifier(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{".md", ".adoc"}, c.DocExts)
	assert.Equal(t, types.FileTest, c.Classify("e2e/main.tf"))
	assert.Equal(t, types.FileSrc, c.Classify("tests/main.tf"), "tests is no longer a test dir")
	assert.Equal(t, types.FileOther, c.Classify("main.go"))
	assert.Equal(t, fetcher.DefaultClassifier().TestSuffixes, c.TestSuffixes)
	assert.False(t, c.Include(types.FileTest))

	cfg.Classifier.IndexTypes = []string{"image"}
	_, err = newClassifier(cfg)
	assert.Error(t, err)
}

func TestNewApp_BadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "loud"
	_, err := newApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPhaseBar(t *testing.T) {
	var p *phaseBar
	p.finish()

	p = &phaseBar{}
	p.update(0, 3, "embed")
	p.update(3, 3, "embed")
	p.update(1, 1, "upsert")
	assert.Equal(t, "upsert", p.phase)
	p.finish()
	assert.Nil(t, p.bar)
}

func TestPhaseDescription(t *testing.T) {
	assert.Equal(t, "Embedding chunks   ", phaseDescription("embed"))
	assert.Equal(t, "custom", phaseDescription("custom"))
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortCommit("0123456789abcdef"))
	assert.Equal(t, "local-1", shortCommit("local-1"))
}
