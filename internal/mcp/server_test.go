package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugctx-mcp/internal/batcher"
	"github.com/dshills/debugctx-mcp/internal/embedder"
	"github.com/dshills/debugctx-mcp/internal/fetcher"
	"github.com/dshills/debugctx-mcp/internal/indexer"
	"github.com/dshills/debugctx-mcp/internal/searcher"
	"github.com/dshills/debugctx-mcp/internal/storage"
	"github.com/dshills/debugctx-mcp/internal/vectorstore"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

const mainTF = `resource "aws_s3_bucket" "logs" {
  bucket = "acme-logs"
}
`

const readme = "# Infra\n\nThe logs bucket stores access logs.\n"

// newTestServer wires the real components over a memory store and the
// local embedder
func newTestServer(t *testing.T) *Server {
	t.Helper()

	state, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })

	emb, err := embedder.NewLocalProvider(64, nil)
	require.NoError(t, err)
	store := vectorstore.NewMemoryStore()

	idx, err := indexer.New(indexer.Deps{
		Fetcher: fetcher.NewLocalFetcher(nil, nil),
		Batcher: batcher.New(emb, batcher.DefaultConfig(), nil, nil),
		Store:   store,
		State:   state,
	}, indexer.Config{Collection: "test", Dimension: emb.Dimension()})
	require.NoError(t, err)

	srv, err := NewServer(Deps{
		State:    state,
		Indexer:  idx,
		Searcher: searcher.New(store, emb, searcher.Config{Collection: "test"}, nil, nil),
	})
	require.NoError(t, err)
	return srv
}

func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.tf"), []byte(mainTF), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644))
	return dir
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func ingest(t *testing.T, srv *Server, dir string) types.JobResult {
	t.Helper()
	res, err := srv.handleIngest(context.Background(), call(map[string]interface{}{
		"repo_url":     dir,
		"project_name": "infra",
	}))
	require.NoError(t, err)
	var job types.JobResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &job))
	return job
}

func TestNewServer_RequiresComponents(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestHandleIngest(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.handleIngest(ctx, call(map[string]interface{}{}))
	requireCode(t, err, ErrorCodeInvalidParams)

	job := ingest(t, srv, writeRepo(t))
	assert.Equal(t, types.StatusSuccess, job.Status)
	assert.Equal(t, "infra", job.Project)
	assert.Equal(t, 2, job.FilesAdded)
	assert.Positive(t, job.PointsUpserted)

	_, err = srv.handleIngest(ctx, call(map[string]interface{}{"repo_url": filepath.Join(t.TempDir(), "missing")}))
	requireCode(t, err, ErrorCodeInternalError)
}

func TestHandleAnalyzeError(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	ingest(t, srv, writeRepo(t))

	_, err := srv.handleAnalyzeError(ctx, call(map[string]interface{}{"error_text": "  "}))
	requireCode(t, err, ErrorCodeEmptyQuery)

	_, err = srv.handleAnalyzeError(ctx, call(map[string]interface{}{"error_text": "x", "top_k": float64(0)}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = srv.handleAnalyzeError(ctx, call(map[string]interface{}{"error_text": "x", "type_filter": "image"}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = srv.handleAnalyzeError(ctx, call(map[string]interface{}{"error_text": "x", "project_name": "nope"}))
	requireCode(t, err, ErrorCodeNotIndexed)

	res, err := srv.handleAnalyzeError(ctx, call(map[string]interface{}{
		"error_text":   "Error: creating S3 Bucket (acme-logs): BucketAlreadyExists aws_s3_bucket logs",
		"type_filter":  "src",
		"top_k":        float64(3),
		"project_name": "infra",
	}))
	require.NoError(t, err)

	var out struct {
		Count   int           `json:"count"`
		Matches []types.Match `json:"matches"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	require.NotEmpty(t, out.Matches)
	assert.Equal(t, "main.tf", out.Matches[0].FilePath)
	assert.Equal(t, types.FileSrc, out.Matches[0].Type)
	assert.Contains(t, out.Matches[0].FileURL, "file://")
	for _, m := range out.Matches {
		assert.Equal(t, "infra", m.ProjectName)
		assert.Equal(t, types.FileSrc, m.Type)
	}
}

func TestHandleGetSrcFile(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	ingest(t, srv, writeRepo(t))

	_, err := srv.handleGetSrcFile(ctx, call(map[string]interface{}{}))
	requireCode(t, err, ErrorCodeEmptyQuery)

	res, err := srv.handleGetSrcFile(ctx, call(map[string]interface{}{"keywords": "aws_s3_bucket"}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Found 1 files containing 'aws_s3_bucket'")
	assert.Contains(t, text, "### File: main.tf")
	assert.Contains(t, text, `resource "**aws_s3_bucket**" "logs"`)

	res, err = srv.handleGetSrcFile(ctx, call(map[string]interface{}{
		"keywords":           "aws_s3_bucket",
		"exclude_file_paths": []interface{}{"main.tf"},
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No source files found")
}

func TestHandleGetStatus(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.handleGetStatus(ctx, call(map[string]interface{}{"project_name": "infra"}))
	requireCode(t, err, ErrorCodeNotIndexed)

	job := ingest(t, srv, writeRepo(t))

	res, err := srv.handleGetStatus(ctx, call(map[string]interface{}{"project_name": "infra"}))
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, false, out["running"])
	stats := out["statistics"].(map[string]interface{})
	assert.EqualValues(t, 2, stats["files_count"])
	jobOut := out["job"].(map[string]interface{})
	assert.Equal(t, job.JobID, jobOut["job_id"])
	assert.Equal(t, "completed", jobOut["state"])

	res, err = srv.handleGetStatus(ctx, call(map[string]interface{}{}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"project_name": "infra"`)
}

func TestHandleCancelIngestion(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.handleCancelIngestion(ctx, call(map[string]interface{}{}))
	requireCode(t, err, ErrorCodeInvalidParams)

	res, err := srv.handleCancelIngestion(ctx, call(map[string]interface{}{"project_name": "infra"}))
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, false, out["cancelled"])
}

func TestSearchErrorMapping(t *testing.T) {
	requireCode(t, searchError(searcher.ErrEmptyQuery), ErrorCodeEmptyQuery)
	requireCode(t, searchError(searcher.ErrInvalidType), ErrorCodeInvalidParams)
	requireCode(t, searchError(&types.QueryEmbeddingError{Err: assert.AnError}), ErrorCodeQueryFailed)
	requireCode(t, searchError(&types.QueryStoreError{Err: assert.AnError}), ErrorCodeQueryFailed)
	requireCode(t, searchError(assert.AnError), ErrorCodeInternalError)
}

func TestMCPError_Format(t *testing.T) {
	err := newMCPError(ErrorCodeNotIndexed, "project not indexed", map[string]interface{}{"project_name": "x"})
	assert.Equal(t, `MCP error -32003: project not indexed {"project_name":"x"}`, err.Error())
	assert.Equal(t, "MCP error -32004: empty", newMCPError(ErrorCodeEmptyQuery, "empty", nil).Error())
}

func TestGetStringSlice(t *testing.T) {
	args := map[string]interface{}{
		"a": []interface{}{"x", 1, "", "y"},
		"b": []string{"z"},
	}
	assert.Equal(t, []string{"x", "y"}, getStringSlice(args, "a"))
	assert.Equal(t, []string{"z"}, getStringSlice(args, "b"))
	assert.Nil(t, getStringSlice(args, "c"))
}
