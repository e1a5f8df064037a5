package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNestedTx is returned when BeginTx is called on a transaction
	ErrNestedTx = errors.New("nested transactions not supported")
)

// maxParams keeps IN clauses below SQLite's host parameter limit
const maxParams = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (or creates) the state database at dbPath and
// applies pending migrations. ":memory:" gives a throwaway database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// inTx runs fn in its own transaction
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Project operations

const projectColumns = `name, repo_url, default_branch, last_synced_commit, total_files,
	total_chunks, last_ingested_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var branch, commit sql.NullString
	var lastIngested sql.NullTime
	err := row.Scan(&p.Name, &p.RepoURL, &branch, &commit, &p.TotalFiles,
		&p.TotalChunks, &lastIngested, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.DefaultBranch = branch.String
	p.LastSyncedCommit = commit.String
	if lastIngested.Valid {
		p.LastIngestedAt = lastIngested.Time
	}
	return &p, nil
}

func (s *SQLiteStorage) getProjectWithQuerier(ctx context.Context, q querier, name string) (*Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ?`, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetProject returns the project row or ErrNotFound
func (s *SQLiteStorage) GetProject(ctx context.Context, name string) (*Project, error) {
	return s.getProjectWithQuerier(ctx, s.querier(), name)
}

func (s *SQLiteStorage) upsertProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	if project.Name == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	query := `
		INSERT INTO projects (name, repo_url, default_branch, last_synced_commit, total_files,
		                      total_chunks, last_ingested_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			repo_url = excluded.repo_url,
			default_branch = excluded.default_branch,
			last_synced_commit = excluded.last_synced_commit,
			total_files = excluded.total_files,
			total_chunks = excluded.total_chunks,
			last_ingested_at = excluded.last_ingested_at,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	var lastIngested sql.NullTime
	if !project.LastIngestedAt.IsZero() {
		lastIngested = sql.NullTime{Time: project.LastIngestedAt, Valid: true}
	}
	_, err := q.ExecContext(ctx, query,
		project.Name, project.RepoURL, project.DefaultBranch, project.LastSyncedCommit,
		project.TotalFiles, project.TotalChunks, lastIngested, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	return nil
}

// UpsertProject creates the project row or updates everything but created_at
func (s *SQLiteStorage) UpsertProject(ctx context.Context, project *Project) error {
	return s.upsertProjectWithQuerier(ctx, s.querier(), project)
}

func (s *SQLiteStorage) listProjectsWithQuerier(ctx context.Context, q querier) ([]*Project, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	projects := make([]*Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListProjects returns all projects ordered by name
func (s *SQLiteStorage) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.listProjectsWithQuerier(ctx, s.querier())
}

// File operations

func (s *SQLiteStorage) loadFileStatesWithQuerier(ctx context.Context, q querier, project string) (map[string]types.FileState, error) {
	query := `
		SELECT path, type, content_hash, last_modified, file_url
		FROM files
		WHERE project = ?
	`
	rows, err := q.QueryContext(ctx, query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to load file states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := make(map[string]types.FileState)
	for rows.Next() {
		var st types.FileState
		var typ string
		var modified sql.NullTime
		if err := rows.Scan(&st.Path, &typ, &st.ContentHash, &modified, &st.FileURL); err != nil {
			return nil, err
		}
		st.Type = types.FileType(typ)
		if modified.Valid {
			st.LastModified = modified.Time
		}
		states[st.Path] = st
	}
	return states, rows.Err()
}

// LoadFileStates returns the committed state of every file of a project.
// An unknown project yields an empty map.
func (s *SQLiteStorage) LoadFileStates(ctx context.Context, project string) (map[string]types.FileState, error) {
	return s.loadFileStatesWithQuerier(ctx, s.querier(), project)
}

func (s *SQLiteStorage) commitFileWithQuerier(ctx context.Context, q querier, project string, st types.FileState) error {
	if !st.Type.Valid() {
		return fmt.Errorf("commit %s: %w", st.Path, types.ErrInvalidFileType)
	}
	query := `
		INSERT INTO files (project, path, type, content_hash, last_modified, file_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, path) DO UPDATE SET
			type = excluded.type,
			content_hash = excluded.content_hash,
			last_modified = excluded.last_modified,
			file_url = excluded.file_url,
			updated_at = excluded.updated_at
	`
	var modified sql.NullTime
	if !st.LastModified.IsZero() {
		modified = sql.NullTime{Time: st.LastModified.UTC(), Valid: true}
	}
	_, err := q.ExecContext(ctx, query,
		project, st.Path, string(st.Type), st.ContentHash, modified, st.FileURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to commit file %s: %w", st.Path, err)
	}
	return nil
}

// CommitFile records that every point of the file is present in the vector
// store. Only fully successful files are committed.
func (s *SQLiteStorage) CommitFile(ctx context.Context, project string, state types.FileState) error {
	return s.commitFileWithQuerier(ctx, s.querier(), project, state)
}

func (s *SQLiteStorage) deleteFileWithQuerier(ctx context.Context, q querier, project, path string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE project = ? AND file_path = ?`, project, path); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", path, err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM files WHERE project = ? AND path = ?`, project, path); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// DeleteFile forgets a file together with its chunk records
func (s *SQLiteStorage) DeleteFile(ctx context.Context, project, path string) error {
	return s.inTx(ctx, func(q querier) error {
		return s.deleteFileWithQuerier(ctx, q, project, path)
	})
}

// Chunk operations

func (s *SQLiteStorage) listChunksWithQuerier(ctx context.Context, q querier, project, path string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT chunk_id, text_hash FROM chunks WHERE project = ? AND file_path = ?`, project, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		out[id] = hash
	}
	return out, rows.Err()
}

// ListChunks returns chunk id → text hash for the recorded chunks of a file
func (s *SQLiteStorage) ListChunks(ctx context.Context, project, path string) (map[string]string, error) {
	return s.listChunksWithQuerier(ctx, s.querier(), project, path)
}

func (s *SQLiteStorage) listChunkIDsByFileWithQuerier(ctx context.Context, q querier, project, path string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT chunk_id FROM chunks WHERE project = ? AND file_path = ? ORDER BY start_offset, chunk_id`,
		project, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListChunkIDsByFile returns the recorded chunk ids of a file in offset order
func (s *SQLiteStorage) ListChunkIDsByFile(ctx context.Context, project, path string) ([]string, error) {
	return s.listChunkIDsByFileWithQuerier(ctx, s.querier(), project, path)
}

func (s *SQLiteStorage) recordChunksWithQuerier(ctx context.Context, q querier, project string, chunks []ChunkRecord) error {
	query := `
		INSERT INTO chunks (project, chunk_id, file_path, start_offset, end_offset, text_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, chunk_id) DO UPDATE SET
			file_path = excluded.file_path,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			text_hash = excluded.text_hash,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	for _, c := range chunks {
		_, err := q.ExecContext(ctx, query, project, c.ChunkID, c.FilePath, c.Start, c.End, c.TextHash, now)
		if err != nil {
			return fmt.Errorf("failed to record chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

// RecordChunks upserts chunk records for points that were just written
func (s *SQLiteStorage) RecordChunks(ctx context.Context, project string, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.inTx(ctx, func(q querier) error {
		return s.recordChunksWithQuerier(ctx, q, project, chunks)
	})
}

func (s *SQLiteStorage) deleteChunksWithQuerier(ctx context.Context, q querier, project string, ids []string) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); start += maxParams {
		end := min(start+maxParams, len(ids))
		batch := ids[start:end]

		placeholders := make([]string, len(batch))
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, project)
		for i, id := range batch {
			placeholders[i] = "?"
			args = append(args, id)
		}

		query := `DELETE FROM chunks WHERE project = ? AND chunk_id IN (` + strings.Join(placeholders, ",") + `)`
		result, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete chunks: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

// DeleteChunks removes chunk records by id
func (s *SQLiteStorage) DeleteChunks(ctx context.Context, project string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int
	err := s.inTx(ctx, func(q querier) error {
		var err error
		deleted, err = s.deleteChunksWithQuerier(ctx, q, project, ids)
		return err
	})
	return deleted, err
}

// Job operations

func (s *SQLiteStorage) saveJobWithQuerier(ctx context.Context, q querier, job *JobRecord) error {
	var result sql.NullString
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("failed to encode job result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}
	var finished sql.NullTime
	if !job.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: job.FinishedAt.UTC(), Valid: true}
	}
	query := `
		INSERT INTO jobs (id, project, repo_url, state, status, error, result, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			status = excluded.status,
			error = excluded.error,
			result = excluded.result,
			finished_at = excluded.finished_at
	`
	_, err := q.ExecContext(ctx, query, job.ID, job.Project, job.RepoURL, job.State,
		string(job.Status), job.Error, result, job.StartedAt.UTC(), finished)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// SaveJob inserts or updates a job record
func (s *SQLiteStorage) SaveJob(ctx context.Context, job *JobRecord) error {
	return s.saveJobWithQuerier(ctx, s.querier(), job)
}

func (s *SQLiteStorage) lastJobWithQuerier(ctx context.Context, q querier, project string) (*JobRecord, error) {
	query := `
		SELECT id, project, repo_url, state, status, error, result, started_at, finished_at
		FROM jobs
		WHERE project = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`
	var job JobRecord
	var status, errText, result sql.NullString
	var finished sql.NullTime
	err := q.QueryRowContext(ctx, query, project).Scan(&job.ID, &job.Project, &job.RepoURL,
		&job.State, &status, &errText, &result, &job.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last job: %w", err)
	}
	job.Status = types.JobStatus(status.String)
	job.Error = errText.String
	if finished.Valid {
		job.FinishedAt = finished.Time
	}
	if result.Valid && result.String != "" {
		var r types.JobResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
		job.Result = &r
	}
	return &job, nil
}

// LastJob returns the most recently started job of a project
func (s *SQLiteStorage) LastJob(ctx context.Context, project string) (*JobRecord, error) {
	return s.lastJobWithQuerier(ctx, s.querier(), project)
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier, project string) (*ProjectStatus, error) {
	p, err := s.getProjectWithQuerier(ctx, q, project)
	if err != nil {
		return nil, err
	}
	status := &ProjectStatus{
		Project:     p,
		FilesByType: make(map[types.FileType]int),
	}

	rows, err := q.QueryContext(ctx, `SELECT type, COUNT(*) FROM files WHERE project = ? GROUP BY type`, project)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.FilesByType[types.FileType(typ)] = n
		status.FilesCount += n
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE project = ?`, project).Scan(&status.ChunksCount)
	if err != nil {
		return nil, err
	}

	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	job, err := s.lastJobWithQuerier(ctx, q, project)
	switch {
	case err == nil:
		status.LastJob = job
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return status, nil
}

// GetStatus summarizes a project: counts, database size and the last job
func (s *SQLiteStorage) GetStatus(ctx context.Context, project string) (*ProjectStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier(), project)
}

// Transaction implementations use the transaction querier throughout

func (t *sqliteTx) GetProject(ctx context.Context, name string) (*Project, error) {
	return t.storage.getProjectWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) UpsertProject(ctx context.Context, project *Project) error {
	return t.storage.upsertProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) ListProjects(ctx context.Context) ([]*Project, error) {
	return t.storage.listProjectsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) LoadFileStates(ctx context.Context, project string) (map[string]types.FileState, error) {
	return t.storage.loadFileStatesWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) CommitFile(ctx context.Context, project string, state types.FileState) error {
	return t.storage.commitFileWithQuerier(ctx, t.querier(), project, state)
}

func (t *sqliteTx) DeleteFile(ctx context.Context, project, path string) error {
	return t.storage.deleteFileWithQuerier(ctx, t.querier(), project, path)
}

func (t *sqliteTx) ListChunks(ctx context.Context, project, path string) (map[string]string, error) {
	return t.storage.listChunksWithQuerier(ctx, t.querier(), project, path)
}

func (t *sqliteTx) ListChunkIDsByFile(ctx context.Context, project, path string) ([]string, error) {
	return t.storage.listChunkIDsByFileWithQuerier(ctx, t.querier(), project, path)
}

func (t *sqliteTx) RecordChunks(ctx context.Context, project string, chunks []ChunkRecord) error {
	return t.storage.recordChunksWithQuerier(ctx, t.querier(), project, chunks)
}

func (t *sqliteTx) DeleteChunks(ctx context.Context, project string, ids []string) (int, error) {
	return t.storage.deleteChunksWithQuerier(ctx, t.querier(), project, ids)
}

func (t *sqliteTx) SaveJob(ctx context.Context, job *JobRecord) error {
	return t.storage.saveJobWithQuerier(ctx, t.querier(), job)
}

func (t *sqliteTx) LastJob(ctx context.Context, project string) (*JobRecord, error) {
	return t.storage.lastJobWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) GetStatus(ctx context.Context, project string) (*ProjectStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}
