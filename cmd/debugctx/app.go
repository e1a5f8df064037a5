package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/debugctx-mcp/internal/batcher"
	"github.com/dshills/debugctx-mcp/internal/chunker"
	"github.com/dshills/debugctx-mcp/internal/config"
	"github.com/dshills/debugctx-mcp/internal/embedder"
	"github.com/dshills/debugctx-mcp/internal/fetcher"
	"github.com/dshills/debugctx-mcp/internal/indexer"
	"github.com/dshills/debugctx-mcp/internal/observability"
	"github.com/dshills/debugctx-mcp/internal/retry"
	"github.com/dshills/debugctx-mcp/internal/searcher"
	"github.com/dshills/debugctx-mcp/internal/storage"
	"github.com/dshills/debugctx-mcp/internal/vectorstore"
)

// app holds the wired components shared by the commands
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracing  *observability.TracerProvider
	state    *storage.SQLiteStorage
	embedder embedder.Embedder
	store    vectorstore.Store
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
}

// loadConfig reads the configuration and prints soft warnings to stderr
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	return cfg, nil
}

// newApp builds every component from cfg. Close releases them in reverse
// order.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(a.logger)

	a.metrics = observability.NewMetrics()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics.Addr, a.logger); err != nil {
				a.logger.Error("metrics.http.failed", "error", err)
			}
		}()
	}

	a.tracing, err = observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    "debugctx",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if cfg.Storage.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	a.state, err = storage.NewSQLiteStorage(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	a.embedder, err = embedder.New(embedder.Config{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	a.store, err = newVectorStore(cfg.Qdrant)
	if err != nil {
		return nil, err
	}

	fetch, err := newFetcher(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}

	chunks, err := chunker.New(chunker.Config{
		Target:  cfg.Chunker.Target,
		Max:     cfg.Chunker.Max,
		Overlap: cfg.Chunker.Overlap,
		Window:  cfg.Chunker.Window,
	})
	if err != nil {
		return nil, err
	}

	batches := batcher.New(a.embedder, batcher.Config{
		MaxItems:          cfg.Batcher.MaxItems,
		MaxChars:          cfg.Batcher.MaxChars,
		Concurrency:       cfg.Batcher.Concurrency,
		Policy:            retry.DefaultPolicy(),
		RequestsPerSecond: cfg.Batcher.RequestsPerSecond,
	}, a.logger, a.metrics)

	a.indexer, err = indexer.New(indexer.Deps{
		Fetcher: fetch,
		Chunker: chunks,
		Batcher: batches,
		Store:   a.store,
		State:   a.state,
		Logger:  a.logger,
		Metrics: a.metrics,
	}, indexer.Config{
		Collection:  cfg.Qdrant.Collection,
		Dimension:   a.embedder.Dimension(),
		UpsertBatch: cfg.Batcher.UpsertBatch,
	})
	if err != nil {
		return nil, err
	}

	a.searcher = searcher.New(a.store, a.embedder, searcher.Config{
		Collection: cfg.Qdrant.Collection,
		CacheSize:  cfg.Search.QueryCacheSize,
	}, a.logger, a.metrics)

	a.logger.Info("app.ready",
		"embedding_provider", a.embedder.Provider(),
		"embedding_model", a.embedder.Model(),
		"dimension", a.embedder.Dimension(),
		"vector_backend", cfg.Qdrant.Backend,
		"collection", cfg.Qdrant.Collection,
		"state", cfg.Storage.Path,
	)
	return a, nil
}

func newVectorStore(cfg config.QdrantConfig) (vectorstore.Store, error) {
	var inner vectorstore.Store
	switch cfg.Backend {
	case config.BackendMemory:
		inner = vectorstore.NewMemoryStore()
	default:
		q, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
		if err != nil {
			return nil, err
		}
		inner = q
	}
	return vectorstore.NewResilient(inner, cfg.RetryDelay), nil
}

// newClassifier overlays the configured lists on the default classification
func newClassifier(cfg *config.Config) (*fetcher.Classifier, error) {
	indexTypes, err := cfg.IndexTypes()
	if err != nil {
		return nil, err
	}
	c := fetcher.DefaultClassifier()
	c.IndexTypes = indexTypes
	cc := cfg.Classifier
	if len(cc.TestDirs) > 0 {
		c.TestDirs = cc.TestDirs
	}
	if len(cc.TestSuffixes) > 0 {
		c.TestSuffixes = cc.TestSuffixes
	}
	if len(cc.DocExts) > 0 {
		c.DocExts = dotted(cc.DocExts)
	}
	if len(cc.SrcExts) > 0 {
		c.SrcExts = dotted(cc.SrcExts)
	}
	return c, nil
}

// dotted accepts extensions written with or without the leading dot
func dotted(exts []string) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[i] = e
	}
	return out
}

// newFetcher routes local paths and names under github.local_dir to disk
// and everything else to the GitHub API
func newFetcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (fetcher.Fetcher, error) {
	classifier, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	local := fetcher.NewLocalFetcher(classifier, logger)
	if cfg.GitHub.MaxFileBytes > 0 {
		local.MaxFileBytes = cfg.GitHub.MaxFileBytes
	}

	gh, err := fetcher.NewGitHubFetcher(ctx, fetcher.GitHubConfig{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.BaseURL,
		MaxFileBytes:      cfg.GitHub.MaxFileBytes,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Timeout:           cfg.GitHub.Timeout,
		Retry:             retry.DefaultPolicy(),
	}, classifier, logger)
	if err != nil {
		return nil, fmt.Errorf("create github fetcher: %w", err)
	}

	return &fetcher.Router{Local: local, GitHub: gh, LocalRoot: cfg.GitHub.LocalDir}, nil
}

// Close releases all components that were created
func (a *app) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(context.Background()))
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("app.close", "error", err)
	}
}
