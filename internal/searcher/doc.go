// Package searcher answers retrieval queries over ingested projects.
//
// Search embeds a free-text query (typically an error message or stack
// trace) and returns the most similar chunks, filtered by file type and
// project inside the vector store:
//
//	s := searcher.New(store, emb, searcher.Config{Collection: "debugctx"}, logger, metrics)
//
//	matches, err := s.Search(ctx, searcher.Request{
//	    Query:   "Error: creating S3 bucket: BucketAlreadyExists",
//	    Type:    "src",
//	    Project: "acme-infra",
//	})
//
// Results are ordered by score descending; ties are broken by file path
// and then start offset so identical inputs rank identically.
//
// Lookup finds whole files by keyword instead of similarity. It pushes a
// full-text condition down to the store, rebuilds each file from its
// chunks and highlights the keyword:
//
//	files, err := s.Lookup(ctx, searcher.LookupRequest{Keywords: "aws_s3_bucket"})
//
// # Errors
//
// Search fails closed: a query that cannot be embedded returns
// *types.QueryEmbeddingError and a failed store query returns
// *types.QueryStoreError. Neither is retried here.
//
// # Caching
//
// Query vectors are kept in an LRU cache keyed by model and query text.
// Results themselves are not cached since a running ingestion may change
// them at any time.
package searcher
