package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/debugctx-mcp/internal/batcher"
	"github.com/dshills/debugctx-mcp/internal/embedder"
	"github.com/dshills/debugctx-mcp/internal/fetcher"
	"github.com/dshills/debugctx-mcp/internal/storage"
	"github.com/dshills/debugctx-mcp/internal/vectorstore"
)

// writeBenchRepo creates n Terraform modules with a few resources each
func writeBenchRepo(b *testing.B, n int) string {
	b.Helper()
	dir := b.TempDir()
	for i := 0; i < n; i++ {
		var sb strings.Builder
		for r := 0; r < 20; r++ {
			fmt.Fprintf(&sb, "resource \"aws_instance\" \"web_%d_%d\" {\n  ami           = \"ami-%06d\"\n  instance_type = \"t3.micro\"\n}\n\n", i, r, i*100+r)
		}
		path := filepath.Join(dir, "modules", fmt.Sprintf("m%03d", i), "main.tf")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			b.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
			b.Fatal(err)
		}
	}
	return dir
}

func newBenchIndexer(b *testing.B) *Indexer {
	b.Helper()
	state, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = state.Close() })

	emb, err := embedder.NewLocalProvider(256, nil)
	if err != nil {
		b.Fatal(err)
	}
	idx, err := New(Deps{
		Fetcher: fetcher.NewLocalFetcher(nil, nil),
		Batcher: batcher.New(emb, batcher.DefaultConfig(), nil, nil),
		Store:   vectorstore.NewMemoryStore(),
		State:   state,
	}, Config{Dimension: emb.Dimension()})
	if err != nil {
		b.Fatal(err)
	}
	return idx
}

// BenchmarkIngest_Initial measures a full ingestion of a fresh project
func BenchmarkIngest_Initial(b *testing.B) {
	dir := writeBenchRepo(b, 50)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		idx := newBenchIndexer(b)
		b.StartTimer()

		res, err := idx.Ingest(ctx, Request{RepoURL: dir, ProjectName: "bench"})
		if err != nil {
			b.Fatal(err)
		}
		if res.PointsUpserted == 0 {
			b.Fatal("nothing ingested")
		}
	}
}

// BenchmarkIngest_Unchanged measures the no-op path of a second run
func BenchmarkIngest_Unchanged(b *testing.B) {
	dir := writeBenchRepo(b, 50)
	ctx := context.Background()
	idx := newBenchIndexer(b)
	if _, err := idx.Ingest(ctx, Request{RepoURL: dir, ProjectName: "bench"}); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := idx.Ingest(ctx, Request{RepoURL: dir, ProjectName: "bench"})
		if err != nil {
			b.Fatal(err)
		}
		if res.ChunksEmbedded != 0 {
			b.Fatalf("unchanged run embedded %d chunks", res.ChunksEmbedded)
		}
	}
}
