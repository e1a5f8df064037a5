package searcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugctx-mcp/internal/chunker"
	"github.com/dshills/debugctx-mcp/internal/embedder"
	"github.com/dshills/debugctx-mcp/internal/vectorstore"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

const testCollection = "test"

// mockEmbedder returns a fixed vector per query, counting calls
type mockEmbedder struct {
	mu      sync.Mutex
	calls   int
	vectors map[string][]float32
	err     error
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	vec, ok := m.vectors[req.Text]
	if !ok {
		vec = []float32{1, 0, 0}
	}
	return &embedder.Embedding{Vector: vec, Dimension: 3, Model: "mock-model", Provider: "mock"}, nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	return nil, errors.New("not used")
}

func (m *mockEmbedder) Dimension() int   { return 3 }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "mock-model" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// failingStore fails every read
type failingStore struct {
	vectorstore.Store
}

func (failingStore) Query(ctx context.Context, collection string, vector []float32, filter vectorstore.Filter, topK int) ([]vectorstore.ScoredPoint, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Scroll(ctx context.Context, collection string, filter vectorstore.Filter, limit int, offset string) ([]vectorstore.Record, string, error) {
	return nil, "", errors.New("connection refused")
}

func meta(project string, typ types.FileType, url string) vectorstore.Metadata {
	return vectorstore.Metadata{
		ProjectName: project,
		FileURL:     url,
		Timestamp:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Type:        typ,
	}
}

// putFile chunks content and stores every chunk with vector vec
func putFile(t *testing.T, store vectorstore.Store, project, path string, typ types.FileType, content string, vec []float32) {
	t.Helper()
	ch, err := chunker.New(chunker.Config{Target: 60, Max: 80, Overlap: 10, Window: 20})
	require.NoError(t, err)
	url := "https://github.com/acme/" + project + "/blob/main/" + path
	var points []vectorstore.Point
	for _, c := range ch.Chunk(path, []byte(content), typ, url) {
		c.ID = vectorstore.PointID(project, c.ID)
		points = append(points, vectorstore.Point{
			ID:      c.ID,
			Vector:  vec,
			Payload: vectorstore.PayloadFromChunk(c, meta(project, typ, url)),
		})
	}
	require.NoError(t, store.Upsert(context.Background(), testCollection, points))
}

func newStore(t *testing.T) *vectorstore.MemoryStore {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.EnsureCollection(context.Background(), testCollection, 3))
	return store
}

const mainTF = `resource "aws_s3_bucket" "logs" {
  bucket = "acme-logs"
}

resource "aws_s3_bucket_policy" "logs" {
  bucket = aws_s3_bucket.logs.id
}
`

func TestSearch_Validation(t *testing.T) {
	s := New(newStore(t), &mockEmbedder{}, Config{Collection: testCollection}, nil, nil)
	ctx := context.Background()

	_, err := s.Search(ctx, Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = s.Search(ctx, Request{Query: "x", Type: "binary"})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = s.Search(ctx, Request{Query: "x", TopK: -1})
	assert.ErrorIs(t, err, ErrInvalidLimit)

	req := Request{Query: "x"}
	require.NoError(t, s.validateRequest(&req))
	assert.Equal(t, DefaultTopK, req.TopK)

	req = Request{Query: "x", TopK: 1000}
	require.NoError(t, s.validateRequest(&req))
	assert.Equal(t, MaxTopK, req.TopK)
}

func TestSearch_FiltersAndRanking(t *testing.T) {
	store := newStore(t)
	putFile(t, store, "infra", "main.tf", types.FileSrc, mainTF, []float32{1, 0, 0})
	putFile(t, store, "infra", "README.md", types.FileDoc, "# Infra\n\nCreates the log bucket.\n", []float32{1, 0.1, 0})
	putFile(t, store, "other", "main.tf", types.FileSrc, mainTF, []float32{1, 0, 0})
	putFile(t, store, "infra", "far.tf", types.FileSrc, "locals {}\n", []float32{0, 1, 0})

	emb := &mockEmbedder{}
	s := New(store, emb, Config{Collection: testCollection}, nil, nil)

	matches, err := s.Search(context.Background(), Request{Query: "BucketAlreadyExists", Type: "src", Project: "infra"})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, "infra", m.ProjectName)
		assert.Equal(t, types.FileSrc, m.Type)
		assert.NotEmpty(t, m.FileURL)
		assert.Equal(t, m.Snippet, mainTFSlice(m.OffsetRange, m.FilePath))
	}
	assert.Equal(t, "main.tf", matches[0].FilePath)
	assert.Equal(t, "far.tf", matches[len(matches)-1].FilePath)

	// equal scores within main.tf are ordered by start offset
	for i := 1; i < len(matches); i++ {
		prev, cur := matches[i-1], matches[i]
		assert.GreaterOrEqual(t, prev.Score, cur.Score)
		if prev.Score == cur.Score && prev.FilePath == cur.FilePath {
			assert.Less(t, prev.OffsetRange.Start, cur.OffsetRange.Start)
		}
	}

	all, err := s.Search(context.Background(), Request{Query: "BucketAlreadyExists", TopK: 100})
	require.NoError(t, err)
	projects := map[string]bool{}
	for _, m := range all {
		projects[m.ProjectName] = true
	}
	assert.True(t, projects["infra"] && projects["other"])

	top1, err := s.Search(context.Background(), Request{Query: "BucketAlreadyExists", Type: "doc", TopK: 1})
	require.NoError(t, err)
	require.Len(t, top1, 1)
	assert.Equal(t, "README.md", top1[0].FilePath)
}

func mainTFSlice(r types.OffsetRange, path string) string {
	switch path {
	case "main.tf":
		return mainTF[r.Start:r.End]
	case "far.tf":
		return "locals {}\n"[r.Start:r.End]
	}
	return ""
}

func TestSearch_QueryEmbeddingCached(t *testing.T) {
	store := newStore(t)
	putFile(t, store, "infra", "main.tf", types.FileSrc, mainTF, []float32{1, 0, 0})
	emb := &mockEmbedder{}
	s := New(store, emb, Config{Collection: testCollection}, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), Request{Query: "same error"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, emb.Calls())
}

func TestSearch_FailsClosed(t *testing.T) {
	store := newStore(t)

	s := New(store, &mockEmbedder{err: errors.New("provider down")}, Config{Collection: testCollection}, nil, nil)
	_, err := s.Search(context.Background(), Request{Query: "boom"})
	var qe *types.QueryEmbeddingError
	assert.ErrorAs(t, err, &qe)

	s = New(failingStore{Store: store}, &mockEmbedder{}, Config{Collection: testCollection}, nil, nil)
	_, err = s.Search(context.Background(), Request{Query: "boom"})
	var qs *types.QueryStoreError
	assert.ErrorAs(t, err, &qs)

	s = New(store, nil, Config{Collection: testCollection}, nil, nil)
	_, err = s.Search(context.Background(), Request{Query: "boom"})
	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestSearch_EmptyCollectionReturnsNothing(t *testing.T) {
	s := New(newStore(t), &mockEmbedder{}, Config{Collection: testCollection}, nil, nil)
	matches, err := s.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLookup(t *testing.T) {
	store := newStore(t)
	putFile(t, store, "infra", "modules/logs/main.tf", types.FileSrc, mainTF, []float32{1, 0, 0})
	putFile(t, store, "infra", "modules/data/main.tf", types.FileSrc, "resource \"aws_s3_bucket\" \"data\" {\n  bucket = \"acme-data\"\n}\n", []float32{1, 0, 0})
	putFile(t, store, "infra", "README.md", types.FileDoc, "uses aws_s3_bucket\n", []float32{1, 0, 0})
	putFile(t, store, "infra", "vpc.tf", types.FileSrc, "resource \"aws_vpc\" \"main\" {}\n", []float32{1, 0, 0})

	s := New(store, nil, Config{Collection: testCollection}, nil, nil)
	ctx := context.Background()

	files, err := s.Lookup(ctx, LookupRequest{Keywords: "aws_s3_bucket", Project: "infra"})
	require.NoError(t, err)
	require.Len(t, files, 2, "doc files and non-matching sources are excluded")

	paths := []string{files[0].FilePath, files[1].FilePath}
	assert.ElementsMatch(t, []string{"modules/logs/main.tf", "modules/data/main.tf"}, paths)
	for _, f := range files {
		require.NoError(t, f.Err)
		assert.Contains(t, f.Content, `resource "**aws_s3_bucket**"`)
		assert.NotEmpty(t, f.FileURL)
	}
	for _, f := range files {
		if f.FilePath == "modules/logs/main.tf" {
			assert.Equal(t, Highlight(mainTF, "aws_s3_bucket"), f.Content, "content is rebuilt from overlapping chunks")
		}
	}

	files, err = s.Lookup(ctx, LookupRequest{Keywords: "aws_s3_bucket", Exclude: []string{"modules/logs/main.tf"}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "modules/data/main.tf", files[0].FilePath)

	files, err = s.Lookup(ctx, LookupRequest{Keywords: "aws_s3_bucket", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, files, 1)

	files, err = s.Lookup(ctx, LookupRequest{Keywords: "aws_s3_bucket", Type: "doc"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "README.md", files[0].FilePath)

	files, err = s.Lookup(ctx, LookupRequest{Keywords: "google_storage_bucket"})
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = s.Lookup(ctx, LookupRequest{Keywords: " "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	_, err = s.Lookup(ctx, LookupRequest{Keywords: "x", Type: "nope"})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = New(failingStore{Store: store}, nil, Config{Collection: testCollection}, nil, nil).
		Lookup(ctx, LookupRequest{Keywords: "aws_s3_bucket"})
	var qs *types.QueryStoreError
	assert.ErrorAs(t, err, &qs)
}

func TestHighlight(t *testing.T) {
	in := strings.Join([]string{
		`resource "aws_s3_bucket" "logs" {`,
		`  depends_on = ["aws_s3_bucket."]`,
		`  name = "aws_s3_bucket"`,
		`  other = "aws_s3_bucket_policy"`,
	}, "\n")
	out := Highlight(in, "aws_s3_bucket")
	assert.Contains(t, out, `resource "**aws_s3_bucket**" "logs"`)
	assert.Contains(t, out, `"**aws_s3_bucket**."`)
	assert.Contains(t, out, `name = "**aws_s3_bucket**"`)
	assert.Contains(t, out, `"aws_s3_bucket_policy"`)
	assert.Equal(t, in, Highlight(in, ""))
}
