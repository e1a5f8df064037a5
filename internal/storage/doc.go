// Package storage persists ingestion state in SQLite.
//
// The vector store holds the points; this package remembers what was put
// there so the next ingestion only touches what changed:
//   - projects: one row per project_name with repository URL, default
//     branch, last synced commit and counts
//   - files: content hash, type, URL and modification time of every file
//     whose points are fully present in the vector store
//   - chunks: every chunk id written for a file, with its text hash
//   - jobs: the last state of each ingestion job
//
// Chunk records are written right after each successful upsert. A file row
// is only written once all of its chunks succeeded, so a file with a failed
// batch keeps its previous hash and is picked up again on the next run.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.debugctx/state.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	prev, err := db.LoadFileStates(ctx, "acme-infra")
//	// diff, embed, upsert ...
//	err = db.RecordChunks(ctx, "acme-infra", records)
//	err = db.CommitFile(ctx, "acme-infra", state)
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//	_ = tx.DeleteFile(ctx, project, path)
//	return tx.Commit()
//
// # Build Tags
//
// The default build uses modernc.org/sqlite and needs no C compiler:
//
//	CGO_ENABLED=0 go build ./...
//
// The sqlite_cgo tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
//
// Schema changes are versioned migrations ordered with semver.
package storage
