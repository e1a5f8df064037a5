// Package types provides shared type definitions for the debugctx MCP server.
//
// This package defines the domain types used across the ingestion pipeline and
// the retrieval engine: repositories, source files, chunks, job results and
// matches, plus the error taxonomy every component reports through.
//
// # Core Types
//
// SourceFile describes one file of a repository snapshot:
//
//	file := types.SourceFile{
//	    Path:        "modules/vpc/main.tf",
//	    Type:        types.FileSrc,
//	    ContentHash: "3b18e512...",
//	    FileURL:     "https://github.com/acme/infra/blob/main/modules/vpc/main.tf",
//	}
//
// Chunk is the unit of embedding and retrieval. Its ID is a stable function of
// the file path and byte range, so re-chunking unchanged content yields the same
// identifiers:
//
//	id := types.ChunkID("modules/vpc/main.tf", 0, 1480) // "modules/vpc/main.tf#0-1480"
//
// # Errors
//
// Errors are classified by what the pipeline does with them:
//
//	FetchError             fatal, the ingestion job fails
//	ParseError             file skipped, recorded in the job result
//	ProviderTransientError retried with backoff and jitter
//	RateLimitError         retried after the provider's retry-after
//	ProviderFatalError     aborts the job
//	VectorStoreError       retried once, then recorded as partial failure
//	QueryEmbeddingError    query fails closed
//	QueryStoreError        query fails closed
//
// Use errors.As to inspect them:
//
//	var fe *types.FetchError
//	if errors.As(err, &fe) {
//	    log.Printf("fetch of %s failed: %v", fe.URL, fe.Err)
//	}
package types
