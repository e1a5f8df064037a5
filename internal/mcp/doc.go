// Package mcp implements the Model Context Protocol (MCP) server for debugctx.
//
// The server exposes five tools to AI assistants debugging a deployment:
//   - ingest_github_repo: ingest or re-sync a repository into a project
//   - analyze_error: semantic search for chunks relevant to an error text
//   - get_src_file_by_name: whole source files containing given keywords
//   - get_status: project statistics and the last ingestion job
//   - cancel_ingestion: stop a running ingestion
//
// # Transports
//
// MCP is JSON-RPC 2.0. The server speaks it over stdio (default) or over
// HTTP with server-sent events:
//
//	debugctx serve --transport sse --addr :8000
//
// # Tool: ingest_github_repo
//
//	Request:
//	{
//	  "name": "ingest_github_repo",
//	  "arguments": {
//	    "repo_url": "https://github.com/acme/infra",
//	    "project_name": "acme-infra"
//	  }
//	}
//
//	Response:
//	{
//	  "job_id": "4c1d...",
//	  "project_name": "acme-infra",
//	  "status": "partial",
//	  "state": "completed",
//	  "files_added": 12,
//	  "files_modified": 1,
//	  "partial_failure": true,
//	  "errors": [{"path": "big.tf", "kind": "embedding_failed", "message": "..."}]
//	}
//
// The call blocks until the job ends. A second call for a project that is
// still ingesting fails with code -32002.
//
// # Tool: analyze_error
//
//	{
//	  "name": "analyze_error",
//	  "arguments": {
//	    "error_text": "Error: creating S3 Bucket (acme-logs): BucketAlreadyExists",
//	    "type_filter": "src",
//	    "top_k": 5
//	  }
//	}
//
// Each match carries the file URL, path, byte offsets, snippet and score.
//
// # Error Codes
//
//	-32602  invalid params
//	-32603  internal error
//	-32002  ingestion already in progress
//	-32003  project not indexed
//	-32004  empty query
//	-32005  query embedding or vector store query failed
package mcp
