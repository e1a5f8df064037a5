package storage

import (
	"context"
	"time"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Storage persists the per-project ingestion state: which files were
// ingested with which hash, and which chunk ids currently live in the
// vector store for each file.
type Storage interface {
	// Project operations
	GetProject(ctx context.Context, name string) (*Project, error)
	UpsertProject(ctx context.Context, project *Project) error
	ListProjects(ctx context.Context) ([]*Project, error)

	// File operations
	LoadFileStates(ctx context.Context, project string) (map[string]types.FileState, error)
	CommitFile(ctx context.Context, project string, state types.FileState) error
	DeleteFile(ctx context.Context, project, path string) error

	// Chunk operations
	ListChunks(ctx context.Context, project, path string) (map[string]string, error)
	ListChunkIDsByFile(ctx context.Context, project, path string) ([]string, error)
	RecordChunks(ctx context.Context, project string, chunks []ChunkRecord) error
	DeleteChunks(ctx context.Context, project string, ids []string) (deletedCount int, err error)

	// Job operations
	SaveJob(ctx context.Context, job *JobRecord) error
	LastJob(ctx context.Context, project string) (*JobRecord, error)

	// Status operations
	GetStatus(ctx context.Context, project string) (*ProjectStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}

// InTx runs fn inside a transaction of s. The transaction is committed
// when fn returns nil and rolled back otherwise.
func InTx(ctx context.Context, s Storage, fn func(tx Storage) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Project is the persisted form of an ingested repository
type Project struct {
	Name             string
	RepoURL          string
	DefaultBranch    string
	LastSyncedCommit string
	TotalFiles       int
	TotalChunks      int
	LastIngestedAt   time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Repository returns the domain view of the project row
func (p *Project) Repository() types.Repository {
	return types.Repository{
		URL:              p.RepoURL,
		DefaultBranch:    p.DefaultBranch,
		LastSyncedCommit: p.LastSyncedCommit,
	}
}

// ChunkRecord tracks one point that exists in the vector store
type ChunkRecord struct {
	ChunkID  string
	FilePath string
	Start    int
	End      int
	TextHash string
}

// ChunkRecordFrom builds the record for a chunk that was just written
func ChunkRecordFrom(ch types.Chunk) ChunkRecord {
	return ChunkRecord{
		ChunkID:  ch.ID,
		FilePath: ch.Path,
		Start:    ch.Range.Start,
		End:      ch.Range.End,
		TextHash: ch.TextHash(),
	}
}

// JobRecord is the last known state of an ingestion job
type JobRecord struct {
	ID         string
	Project    string
	RepoURL    string
	State      string
	Status     types.JobStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Result     *types.JobResult
}

// ProjectStatus contains statistics about an ingested project
type ProjectStatus struct {
	Project     *Project
	FilesCount  int
	FilesByType map[types.FileType]int
	ChunksCount int
	IndexSizeMB float64
	LastJob     *JobRecord
}
