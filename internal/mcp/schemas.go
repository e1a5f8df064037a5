package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/debugctx-mcp/internal/searcher"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Tool names
const (
	ToolIngest          = "ingest_github_repo"
	ToolAnalyzeError    = "analyze_error"
	ToolGetSrcFile      = "get_src_file_by_name"
	ToolGetStatus       = "get_status"
	ToolCancelIngestion = "cancel_ingestion"
)

func fileTypeEnum() []string {
	out := make([]string, len(types.AllFileTypes))
	for i, t := range types.AllFileTypes {
		out[i] = string(t)
	}
	return out
}

// ingestTool returns the tool definition for ingest_github_repo
func ingestTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolIngest,
		Description: "Ingest a GitHub repository (or a local checkout) into the knowledge base. Re-running only processes files that changed since the last ingestion.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_url": map[string]interface{}{
					"type":        "string",
					"description": "Repository URL (https://github.com/owner/repo, owner/repo) or absolute local path",
				},
				"project_name": map[string]interface{}{
					"type":        "string",
					"description": "Project name used to scope searches; defaults to owner-repo",
				},
				"ref": map[string]interface{}{
					"type":        "string",
					"description": "Branch, tag or commit to ingest; defaults to the default branch",
				},
			},
			Required: []string{"repo_url"},
		},
	}
}

// analyzeErrorTool returns the tool definition for analyze_error
func analyzeErrorTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolAnalyzeError,
		Description: "Find the source and documentation chunks most relevant to an error message or stack trace",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"error_text": map[string]interface{}{
					"type":        "string",
					"description": "Error message, log excerpt or stack trace",
				},
				"type_filter": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks of this file type",
					"enum":        fileTypeEnum(),
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultTopK,
					"minimum":     1,
					"maximum":     searcher.MaxTopK,
				},
				"project_name": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one ingested project",
				},
			},
			Required: []string{"error_text"},
		},
	}
}

// getSrcFileTool returns the tool definition for get_src_file_by_name
func getSrcFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetSrcFile,
		Description: "Get whole source files containing the keywords, e.g. an exact Terraform resource name. Keyword occurrences are highlighted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"keywords": map[string]interface{}{
					"type":        "string",
					"description": "Keywords that must all appear in the file",
				},
				"n_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of files to return",
					"default":     searcher.DefaultLookupLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLookupLimit,
				},
				"exclude_file_paths": map[string]interface{}{
					"type":        "array",
					"description": "File paths returned by earlier calls",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"project_name": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one ingested project",
				},
			},
			Required: []string{"keywords"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetStatus,
		Description: "Query ingestion status and statistics for a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_name": map[string]interface{}{
					"type":        "string",
					"description": "Project name; omit to list all projects",
				},
			},
		},
	}
}

// cancelIngestionTool returns the tool definition for cancel_ingestion
func cancelIngestionTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolCancelIngestion,
		Description: "Stop the running ingestion of a project at the next batch boundary",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_name": map[string]interface{}{
					"type":        "string",
					"description": "Project whose ingestion should stop",
				},
			},
			Required: []string{"project_name"},
		},
	}
}
