// Package indexer runs ingestion jobs: it turns a repository snapshot into
// points in the vector store and keeps the per-project state in step.
//
// # Basic Usage
//
//	idx, err := indexer.New(indexer.Deps{
//	    Fetcher: router,
//	    Batcher: batcher.New(emb, batcher.DefaultConfig(), logger, metrics),
//	    Store:   store,
//	    State:   db,
//	    Logger:  logger,
//	}, indexer.Config{Dimension: emb.Dimension()})
//
//	res, err := idx.Ingest(ctx, indexer.Request{
//	    RepoURL:     "https://github.com/acme/infra",
//	    ProjectName: "acme-infra",
//	})
//
// # Pipeline
//
// A job moves through pending, cloning, diffing, embedding, upserting and
// completed, or ends in failed from any non-terminal state:
//
//  1. Cloning: fetch the file listing of the ref
//  2. Diffing: compare content hashes with the recorded file states
//  3. Embedding: chunk added and modified files, plan chunks against the
//     stored ones and embed only chunks whose text changed
//  4. Upserting: write points in batches, refresh metadata of unchanged
//     chunks, delete stale chunks and points of removed files
//
// A file's state is committed only after all of its point operations
// succeeded, so a failed file is retried by the next run. Chunk records are
// written after each successful upsert batch, which lets a rerun after a
// crash refresh those chunks instead of embedding them again.
//
// # Concurrency
//
// At most one job runs per project. A second Ingest for the same project
// returns types.ErrIngestionInProgress immediately. Cancel stops a job at
// the next batch boundary; points already written stay valid.
//
// # Errors
//
// Fetch failures, fatal provider errors and state store failures before the
// upsert stage fail the job. Per-file problems are collected in
// types.JobResult.Errors and mark the result as partial.
package indexer
