package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/debugctx-mcp/internal/indexer"
	"github.com/dshills/debugctx-mcp/internal/searcher"
	"github.com/dshills/debugctx-mcp/internal/storage"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeIngestionInProgress = -32002 // Another ingestion of the project is running
	ErrorCodeNotIndexed          = -32003 // Project not ingested
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
	ErrorCodeQueryFailed         = -32005 // Query embedding or vector store query failed
)

// handleIngest handles the ingest_github_repo tool invocation
func (s *Server) handleIngest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoURL := strings.TrimSpace(getStringDefault(args, "repo_url", ""))
	if repoURL == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repo_url parameter is required", map[string]interface{}{
			"param":  "repo_url",
			"reason": "missing or empty",
		})
	}

	res, err := s.indexer.Ingest(ctx, indexer.Request{
		RepoURL:     repoURL,
		ProjectName: strings.TrimSpace(getStringDefault(args, "project_name", "")),
		Ref:         strings.TrimSpace(getStringDefault(args, "ref", "")),
	})
	switch {
	case errors.Is(err, types.ErrIngestionInProgress):
		return nil, newMCPError(ErrorCodeIngestionInProgress, "ingestion already in progress", map[string]interface{}{
			"repo_url": repoURL,
			"error":    err.Error(),
		})
	case errors.Is(err, indexer.ErrInvalidRequest):
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid ingestion request", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil && res == nil:
		return nil, newMCPError(ErrorCodeInternalError, "ingestion failed", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "ingestion failed", map[string]interface{}{
			"error":  err.Error(),
			"result": res,
		})
	}

	return mcp.NewToolResultText(formatJSON(res)), nil
}

// handleAnalyzeError handles the analyze_error tool invocation
func (s *Server) handleAnalyzeError(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := getStringDefault(args, "error_text", "")
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "error_text parameter is required and cannot be empty", map[string]interface{}{
			"param":  "error_text",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", searcher.DefaultTopK)
	if topK < 1 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", searcher.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	project := strings.TrimSpace(getStringDefault(args, "project_name", ""))
	if err := s.requireProject(ctx, project); err != nil {
		return nil, err
	}

	matches, err := s.searcher.Search(ctx, searcher.Request{
		Query:   query,
		Type:    getStringDefault(args, "type_filter", ""),
		Project: project,
		TopK:    topK,
	})
	if err != nil {
		return nil, searchError(err)
	}

	response := map[string]interface{}{
		"count":   len(matches),
		"matches": matches,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetSrcFile handles the get_src_file_by_name tool invocation
func (s *Server) handleGetSrcFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	keywords := strings.TrimSpace(getStringDefault(args, "keywords", ""))
	if keywords == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "keywords parameter is required and cannot be empty", map[string]interface{}{
			"param":  "keywords",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "n_results", searcher.DefaultLookupLimit)
	if limit < 1 || limit > searcher.MaxLookupLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("n_results must be between 1 and %d", searcher.MaxLookupLimit), map[string]interface{}{
			"param": "n_results",
			"value": limit,
		})
	}

	project := strings.TrimSpace(getStringDefault(args, "project_name", ""))
	if err := s.requireProject(ctx, project); err != nil {
		return nil, err
	}

	files, err := s.searcher.Lookup(ctx, searcher.LookupRequest{
		Keywords: keywords,
		Project:  project,
		Limit:    limit,
		Exclude:  getStringSlice(args, "exclude_file_paths"),
	})
	if err != nil {
		return nil, searchError(err)
	}

	return mcp.NewToolResultText(formatFiles(keywords, files)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	name := strings.TrimSpace(getStringDefault(args, "project_name", ""))

	if name == "" {
		projects, err := s.state.ListProjects(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to list projects", map[string]interface{}{
				"error": err.Error(),
			})
		}
		list := make([]map[string]interface{}, 0, len(projects))
		for _, p := range projects {
			list = append(list, projectJSON(p))
		}
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{"projects": list})), nil
	}

	status, err := s.state.GetStatus(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		// a first ingestion has no project row until it reaches diffing
		if job, ok := s.indexer.Status(name); ok {
			return mcp.NewToolResultText(formatJSON(map[string]interface{}{
				"indexed": false,
				"job":     job,
			})), nil
		}
		return nil, notIndexed(name)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	filesByType := make(map[string]int, len(status.FilesByType))
	for t, n := range status.FilesByType {
		filesByType[string(t)] = n
	}
	response := map[string]interface{}{
		"indexed": true,
		"project": projectJSON(status.Project),
		"statistics": map[string]interface{}{
			"files_count":   status.FilesCount,
			"files_by_type": filesByType,
			"chunks_count":  status.ChunksCount,
			"index_size_mb": fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"running": s.indexer.Running(name),
	}
	if job, ok := s.indexer.Status(name); ok {
		response["job"] = job
	} else if status.LastJob != nil {
		response["job"] = lastJobJSON(status.LastJob)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCancelIngestion handles the cancel_ingestion tool invocation
func (s *Server) handleCancelIngestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	name := strings.TrimSpace(getStringDefault(args, "project_name", ""))
	if name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "project_name parameter is required", map[string]interface{}{
			"param":  "project_name",
			"reason": "missing or empty",
		})
	}

	cancelled := s.indexer.Cancel(name)
	response := map[string]interface{}{
		"project_name": name,
		"cancelled":    cancelled,
	}
	if !cancelled {
		response["message"] = "No ingestion is running for this project."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// requireProject fails with ErrorCodeNotIndexed for an unknown project.
// An empty name means all projects.
func (s *Server) requireProject(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	_, err := s.state.GetProject(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return notIndexed(name)
	}
	if err != nil {
		return newMCPError(ErrorCodeInternalError, "failed to load project", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

// Helper functions

func notIndexed(name string) error {
	return newMCPError(ErrorCodeNotIndexed, "project not indexed", map[string]interface{}{
		"project_name": name,
		"message":      "Use ingest_github_repo to ingest this project.",
	})
}

// searchError maps searcher failures to MCP errors
func searchError(err error) error {
	var qe *types.QueryEmbeddingError
	var qs *types.QueryStoreError
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, err.Error(), nil)
	case errors.Is(err, searcher.ErrInvalidType), errors.Is(err, searcher.ErrInvalidLimit):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	case errors.As(err, &qe), errors.As(err, &qs):
		return newMCPError(ErrorCodeQueryFailed, "query failed", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		return newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	if e.Data == nil {
		return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("MCP error %d: %s %s", e.Code, e.Message, data)
}

func projectJSON(p *storage.Project) map[string]interface{} {
	out := map[string]interface{}{
		"project_name":       p.Name,
		"repo_url":           p.RepoURL,
		"default_branch":     p.DefaultBranch,
		"last_synced_commit": p.LastSyncedCommit,
		"total_files":        p.TotalFiles,
		"total_chunks":       p.TotalChunks,
	}
	if !p.LastIngestedAt.IsZero() {
		out["last_ingested_at"] = p.LastIngestedAt.Format(time.RFC3339)
	}
	return out
}

func lastJobJSON(j *storage.JobRecord) map[string]interface{} {
	out := map[string]interface{}{
		"job_id":     j.ID,
		"state":      j.State,
		"status":     j.Status,
		"started_at": j.StartedAt.Format(time.RFC3339),
	}
	if j.Error != "" {
		out["error"] = j.Error
	}
	if !j.FinishedAt.IsZero() {
		out["finished_at"] = j.FinishedAt.Format(time.RFC3339)
	}
	if j.Result != nil {
		out["result"] = j.Result
	}
	return out
}

// formatFiles renders Lookup results as markdown-ish plain text
func formatFiles(keywords string, files []searcher.FileResult) string {
	if len(files) == 0 {
		return fmt.Sprintf("No source files found containing '%s'. Try another resource name.", keywords)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d files containing '%s':\n", len(files), keywords)
	for _, f := range files {
		fmt.Fprintf(&b, "\n### File: %s\n", f.FilePath)
		if f.FileURL != "" {
			fmt.Fprintf(&b, "URL: %s\n", f.FileURL)
		}
		if f.Err != nil {
			fmt.Fprintf(&b, "\nError reading file %s: %v\n", f.FilePath, f.Err)
		} else {
			b.WriteString(f.Content)
		}
		fmt.Fprintf(&b, "\n### End of %s\n", f.FilePath)
	}
	return b.String()
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter, skipping non-strings
func getStringSlice(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
