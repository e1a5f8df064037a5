package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dshills/debugctx-mcp/internal/batcher"
	"github.com/dshills/debugctx-mcp/internal/chunker"
	"github.com/dshills/debugctx-mcp/internal/differ"
	"github.com/dshills/debugctx-mcp/internal/fetcher"
	"github.com/dshills/debugctx-mcp/internal/observability"
	"github.com/dshills/debugctx-mcp/internal/storage"
	"github.com/dshills/debugctx-mcp/internal/vectorstore"
	"github.com/dshills/debugctx-mcp/pkg/types"
)

// Defaults
const (
	DefaultUpsertBatch = 64
	DefaultCollection  = "debugctx"
)

// ErrInvalidRequest is returned for a request without a repository URL
var ErrInvalidRequest = errors.New("invalid ingestion request")

// ProgressFunc receives pipeline progress. phase is one of fetch, diff,
// chunk, embed, upsert, finalize, delete.
type ProgressFunc func(current, total int, phase string)

// Config contains configuration for the indexer
type Config struct {
	Collection  string // vector store collection shared by all projects
	Dimension   int    // embedding dimension, used to create the collection
	UpsertBatch int    // points per upsert call (default: 64)
}

// Deps are the collaborators of an Indexer. Chunker defaults to
// chunker.Default(); the others are required.
type Deps struct {
	Fetcher fetcher.Fetcher
	Chunker *chunker.Chunker
	Batcher *batcher.Batcher
	Store   vectorstore.Store
	State   storage.Storage
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Request asks for one ingestion run
type Request struct {
	RepoURL     string
	ProjectName string // defaults to owner-repo or the directory name
	Ref         string // defaults to the repository's default branch
	Progress    ProgressFunc
}

// Indexer coordinates the ingestion pipeline:
// fetch -> diff -> chunk -> embed -> upsert -> record state
type Indexer struct {
	fetcher fetcher.Fetcher
	chunker *chunker.Chunker
	batcher *batcher.Batcher
	store   vectorstore.Store
	state   storage.Storage
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	locks   *Locks

	mu   sync.Mutex
	jobs map[string]*Job // running or last job per project
}

// New creates a new Indexer instance
func New(deps Deps, cfg Config) (*Indexer, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("indexer: fetcher is required")
	case deps.Batcher == nil:
		return nil, errors.New("indexer: batcher is required")
	case deps.Store == nil:
		return nil, errors.New("indexer: vector store is required")
	case deps.State == nil:
		return nil, errors.New("indexer: state storage is required")
	case cfg.Dimension <= 0:
		return nil, fmt.Errorf("indexer: invalid dimension %d", cfg.Dimension)
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.Default()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = DefaultUpsertBatch
	}
	return &Indexer{
		fetcher: deps.Fetcher,
		chunker: deps.Chunker,
		batcher: deps.Batcher,
		store:   deps.Store,
		state:   deps.State,
		cfg:     cfg,
		logger:  observability.OrDefault(deps.Logger),
		metrics: deps.Metrics,
		locks:   NewLocks(),
		jobs:    make(map[string]*Job),
	}, nil
}

// Collection returns the vector store collection the indexer writes to
func (idx *Indexer) Collection() string {
	return idx.cfg.Collection
}

// Ingest runs one ingestion job for req. It returns
// types.ErrIngestionInProgress without doing anything when the project
// already has a running job. Once a job has started, a JobResult is always
// returned, also alongside an error.
func (idx *Indexer) Ingest(ctx context.Context, req Request) (*types.JobResult, error) {
	if req.RepoURL == "" {
		return nil, fmt.Errorf("%w: repo_url is required", ErrInvalidRequest)
	}
	project := req.ProjectName
	if project == "" {
		project = fetcher.DefaultProjectName(req.RepoURL)
	}
	if project == "" {
		return nil, fmt.Errorf("%w: cannot derive project name from %q", ErrInvalidRequest, req.RepoURL)
	}

	if !idx.locks.TryAcquire(project) {
		return nil, fmt.Errorf("%w: %s", types.ErrIngestionInProgress, project)
	}
	defer idx.locks.Release(project)

	job, err := idx.beginJob(project, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "indexer.ingest",
		attribute.String("project", project), attribute.String("repo_url", req.RepoURL))

	res := &types.JobResult{
		JobID:   job.ID(),
		Project: project,
		RepoURL: req.RepoURL,
		Errors:  []types.FileError{},
	}
	idx.logger.Info("ingest.start", "project", project, "repo_url", req.RepoURL, "ref", req.Ref, "job_id", res.JobID)
	idx.persist(ctx, job, nil)

	err = idx.run(ctx, job, req, res)
	if err != nil && !job.State().Terminal() {
		_ = job.Fail(err)
	}

	res.State = string(job.State())
	res.Duration = time.Since(start)
	switch {
	case err != nil:
		res.Status = types.StatusFailed
	case res.PartialFailure:
		res.Status = types.StatusPartial
	default:
		res.Status = types.StatusSuccess
	}

	idx.metrics.ObserveIngest(string(res.Status), res.Duration)
	idx.persist(ctx, job, res)
	observability.EndSpan(span, err)

	if err != nil {
		idx.logger.Error("ingest.failed", "project", project, "job_id", res.JobID, "err", err)
	} else {
		idx.logger.Info("ingest.completed", "project", project, "job_id", res.JobID,
			"status", res.Status, "added", res.FilesAdded, "modified", res.FilesModified,
			"deleted", res.FilesDeleted, "unchanged", res.FilesUnchanged,
			"upserted", res.PointsUpserted, "duration", res.Duration)
	}
	return res, err
}

// Cancel signals the running job of project to stop at the next batch
// boundary. It reports whether a running job was signalled.
func (idx *Indexer) Cancel(project string) bool {
	idx.mu.Lock()
	job, ok := idx.jobs[project]
	idx.mu.Unlock()
	if !ok || job.State().Terminal() {
		return false
	}
	job.Cancel()
	idx.logger.Info("ingest.cancel_requested", "project", project, "job_id", job.ID())
	return true
}

// Status returns the running or most recent job of project in this process
func (idx *Indexer) Status(project string) (JobInfo, bool) {
	idx.mu.Lock()
	job, ok := idx.jobs[project]
	idx.mu.Unlock()
	if !ok {
		return JobInfo{}, false
	}
	return job.Info(), true
}

// Running reports whether project has an ingestion in flight
func (idx *Indexer) Running(project string) bool {
	return idx.locks.Held(project)
}

// beginJob restarts the project's last job or creates a new one, leaving it
// in cloning
func (idx *Indexer) beginJob(project string, req Request) (*Job, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if job, ok := idx.jobs[project]; ok && job.State().Terminal() {
		if err := job.Restart(req.RepoURL, req.Ref); err != nil {
			return nil, err
		}
		return job, nil
	}
	job := NewJob(project, req.RepoURL, req.Ref)
	if err := job.Transition(StateCloning); err != nil {
		return nil, err
	}
	idx.jobs[project] = job
	return job, nil
}

// fileWork carries one added or modified file through the pipeline
type fileWork struct {
	entry  fetcher.Entry
	meta   vectorstore.Metadata
	plan   differ.ChunkPlan
	failed bool // an error was recorded; the file keeps its previous state
	halted bool // not finished because of cancellation
}

func (idx *Indexer) run(ctx context.Context, job *Job, req Request, res *types.JobResult) error {
	project := job.Project
	report := func(current, total int, phase string) {
		if req.Progress != nil {
			req.Progress(current, total, phase)
		}
	}

	// cloning
	report(0, 0, "fetch")
	fctx, span := observability.StartSpan(ctx, "indexer.fetch")
	snap, err := idx.fetcher.Fetch(fctx, req.RepoURL, req.Ref)
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}
	res.Commit = snap.Commit

	// diffing
	if err := idx.advance(ctx, job, StateDiffing); err != nil {
		return err
	}
	report(0, 0, "diff")
	if err := idx.store.EnsureCollection(ctx, idx.cfg.Collection, idx.cfg.Dimension); err != nil {
		return err
	}
	proj, err := idx.ensureProject(ctx, project, req.RepoURL)
	if err != nil {
		return err
	}
	prev, err := idx.state.LoadFileStates(ctx, project)
	if err != nil {
		return err
	}
	delta := differ.Diff(prev, snap.SourceFiles())
	res.FilesAdded = len(delta.Added)
	res.FilesModified = len(delta.Modified)
	res.FilesDeleted = len(delta.Deleted)
	res.FilesUnchanged = len(delta.Unchanged)
	idx.metrics.ObserveFiles(project, "added", res.FilesAdded)
	idx.metrics.ObserveFiles(project, "modified", res.FilesModified)
	idx.metrics.ObserveFiles(project, "deleted", res.FilesDeleted)
	idx.metrics.ObserveFiles(project, "unchanged", res.FilesUnchanged)
	idx.logger.Info("ingest.diff", "project", project, "commit", snap.Commit,
		"added", res.FilesAdded, "modified", res.FilesModified,
		"deleted", res.FilesDeleted, "unchanged", res.FilesUnchanged)

	if job.Cancelled() {
		return types.ErrCancelled
	}

	// embedding
	if err := idx.advance(ctx, job, StateEmbedding); err != nil {
		return err
	}
	work, err := idx.prepare(ctx, job, project, snap, delta.Changed(), res, report)
	if err != nil {
		return err
	}

	owner := make(map[string]*fileWork)
	var items []batcher.Item
	for _, w := range work {
		for _, ch := range w.plan.Embed {
			owner[ch.ID] = w
			items = append(items, batcher.Item{Key: ch.ID, Text: ch.Text})
		}
	}
	report(0, len(items), "embed")
	ectx, span := observability.StartSpan(ctx, "indexer.embed", attribute.Int("chunks", len(items)))
	embedded, err := idx.batcher.Embed(ectx, items, job.Cancelled)
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}
	report(len(items), len(items), "embed")
	res.ChunksEmbedded = len(embedded.Vectors)
	for _, key := range sortedKeys(embedded.Failed) {
		w := owner[key]
		if !w.failed {
			res.AddError(w.entry.Path, types.KindEmbeddingFailed, embedded.Failed[key])
			w.failed = true
		}
	}
	for _, key := range embedded.Skipped {
		owner[key].halted = true
	}

	// upserting
	if err := idx.advance(ctx, job, StateUpserting); err != nil {
		return err
	}
	uctx, span := observability.StartSpan(ctx, "indexer.upsert")
	err = idx.upsert(uctx, job, project, work, embedded.Vectors, res, report)
	if err == nil {
		err = idx.finalize(uctx, job, project, work, res, report)
	}
	if err == nil && !job.Cancelled() {
		err = idx.deleteFiles(uctx, project, delta.Deleted, res, report)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}
	if job.Cancelled() || embedded.Cancelled {
		return types.ErrCancelled
	}

	// completed
	idx.updateProject(ctx, proj, snap, res)
	return idx.advance(ctx, job, StateCompleted)
}

// advance moves the job forward and persists the new state
func (idx *Indexer) advance(ctx context.Context, job *Job, to State) error {
	if err := job.Transition(to); err != nil {
		return err
	}
	idx.logger.Debug("ingest.state", "project", job.Project, "state", to)
	idx.persist(ctx, job, nil)
	return nil
}

// persist records the job in the state store. Failures are logged only;
// the job record is informational.
func (idx *Indexer) persist(ctx context.Context, job *Job, res *types.JobResult) {
	info := job.Info()
	rec := &storage.JobRecord{
		ID:         info.ID,
		Project:    info.Project,
		RepoURL:    info.RepoURL,
		State:      string(info.State),
		Error:      info.Error,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
		Result:     res,
	}
	if res != nil {
		rec.Status = res.Status
	}
	if err := idx.state.SaveJob(context.WithoutCancel(ctx), rec); err != nil {
		idx.logger.Warn("ingest.persist_job", "project", job.Project, "err", err)
	}
}

func (idx *Indexer) ensureProject(ctx context.Context, project, repoURL string) (*storage.Project, error) {
	proj, err := idx.state.GetProject(ctx, project)
	switch {
	case err == nil:
		if proj.RepoURL == repoURL {
			return proj, nil
		}
		proj.RepoURL = repoURL
	case errors.Is(err, storage.ErrNotFound):
		proj = &storage.Project{Name: project, RepoURL: repoURL}
	default:
		return nil, err
	}
	if err := idx.state.UpsertProject(ctx, proj); err != nil {
		return nil, err
	}
	return proj, nil
}

// prepare loads, validates and chunks every changed file and plans its
// chunks against what is already stored
func (idx *Indexer) prepare(ctx context.Context, job *Job, project string, snap *fetcher.Snapshot,
	paths []string, res *types.JobResult, report ProgressFunc) ([]*fileWork, error) {

	work := make([]*fileWork, 0, len(paths))
	for i, path := range paths {
		entry := snap.Files[path]
		w := &fileWork{entry: entry, meta: metadataFor(project, entry, snap)}
		if job.Cancelled() {
			w.halted = true
			work = append(work, w)
			continue
		}

		old, err := idx.state.ListChunks(ctx, project, path)
		if err != nil {
			res.AddError(path, types.KindState, err)
			continue
		}

		content, err := entry.Content(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.AddError(path, types.KindFetch, err)
			continue
		}

		if perr := checkText(path, content); perr != nil {
			// Unreadable content is final for this hash: drop old points
			// and commit the file without chunks.
			res.AddError(path, types.KindParse, perr)
			w.plan = differ.PlanChunks(old, nil)
			work = append(work, w)
			continue
		}

		chunks := idx.chunker.Chunk(path, content, entry.Type, entry.URL)
		for i := range chunks {
			chunks[i].ID = vectorstore.PointID(project, chunks[i].ID)
		}
		w.plan = differ.PlanChunks(old, chunks)
		work = append(work, w)
		report(i+1, len(paths), "chunk")
	}
	return work, nil
}

type pendingPoint struct {
	point vectorstore.Point
	chunk types.Chunk
	work  *fileWork
}

// upsert writes embedded chunks in batches of UpsertBatch. Each successful
// batch is recorded in the state store right away.
func (idx *Indexer) upsert(ctx context.Context, job *Job, project string, work []*fileWork,
	vectors map[string][]float32, res *types.JobResult, report ProgressFunc) error {

	var batches [][]pendingPoint
	var cur []pendingPoint
	for _, w := range work {
		for _, ch := range w.plan.Embed {
			vec, ok := vectors[ch.ID]
			if !ok {
				continue
			}
			cur = append(cur, pendingPoint{
				point: vectorstore.Point{ID: ch.ID, Vector: vec, Payload: vectorstore.PayloadFromChunk(ch, w.meta)},
				chunk: ch,
				work:  w,
			})
			if len(cur) == idx.cfg.UpsertBatch {
				batches = append(batches, cur)
				cur = nil
			}
		}
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	done := 0
	for i, batch := range batches {
		if job.Cancelled() {
			for _, rest := range batches[i:] {
				for _, p := range rest {
					p.work.halted = true
				}
			}
			idx.logger.Info("ingest.cancelled", "project", project, "stage", "upsert", "remaining_batches", len(batches)-i)
			return nil
		}

		points := make([]vectorstore.Point, len(batch))
		records := make([]storage.ChunkRecord, len(batch))
		for j, p := range batch {
			points[j] = p.point
			records[j] = storage.ChunkRecordFrom(p.chunk)
		}

		if err := idx.store.Upsert(ctx, idx.cfg.Collection, points); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if types.IsFatal(err) {
				return err
			}
			idx.logger.Error("ingest.upsert_failed", "project", project, "points", len(points), "err", err)
			failBatch(batch, types.KindVectorStore, err, res)
			continue
		}
		if err := idx.state.RecordChunks(ctx, project, records); err != nil {
			failBatch(batch, types.KindState, err, res)
			continue
		}
		res.PointsUpserted += len(points)
		idx.metrics.ObservePoints(observability.OpUpsert, len(points))
		done += len(points)
		report(done, total, "upsert")
	}
	return nil
}

func failBatch(batch []pendingPoint, kind string, err error, res *types.JobResult) {
	for _, p := range batch {
		if !p.work.failed {
			res.AddError(p.work.entry.Path, kind, err)
			p.work.failed = true
		}
	}
}

// finalize refreshes payloads of unchanged chunks, removes tombstoned
// chunks and commits every file whose chunks all made it
func (idx *Indexer) finalize(ctx context.Context, job *Job, project string, work []*fileWork,
	res *types.JobResult, report ProgressFunc) error {

	for i, w := range work {
		if w.failed || w.halted {
			continue
		}
		if job.Cancelled() {
			idx.logger.Info("ingest.cancelled", "project", project, "stage", "finalize")
			return nil
		}
		path := w.entry.Path

		if len(w.plan.Refresh) > 0 {
			ids := chunkIDs(w.plan.Refresh)
			if err := idx.store.SetPayload(ctx, idx.cfg.Collection, ids, w.meta); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if types.IsFatal(err) {
					return err
				}
				res.AddError(path, types.KindVectorStore, err)
				continue
			}
			res.PointsRefreshed += len(ids)
			idx.metrics.ObservePoints(observability.OpRefresh, len(ids))
		}

		if len(w.plan.Tombstone) > 0 {
			if err := idx.store.Delete(ctx, idx.cfg.Collection, w.plan.Tombstone); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				res.AddError(path, types.KindVectorStore, err)
				continue
			}
		}

		// tombstone records and the new hash land together or not at all
		err := storage.InTx(ctx, idx.state, func(tx storage.Storage) error {
			if len(w.plan.Tombstone) > 0 {
				if _, err := tx.DeleteChunks(ctx, project, w.plan.Tombstone); err != nil {
					return err
				}
			}
			return tx.CommitFile(ctx, project, w.entry.State())
		})
		if err != nil {
			res.AddError(path, types.KindState, err)
			continue
		}
		if n := len(w.plan.Tombstone); n > 0 {
			res.PointsDeleted += n
			idx.metrics.ObservePoints(observability.OpDelete, n)
		}
		report(i+1, len(work), "finalize")
	}
	return nil
}

// deleteFiles removes the points and state of files gone from the snapshot
func (idx *Indexer) deleteFiles(ctx context.Context, project string, paths []string,
	res *types.JobResult, report ProgressFunc) error {

	for i, path := range paths {
		ids, err := idx.state.ListChunkIDsByFile(ctx, project, path)
		if err != nil {
			res.AddError(path, types.KindState, err)
			continue
		}
		if len(ids) > 0 {
			if err := idx.store.Delete(ctx, idx.cfg.Collection, ids); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				res.AddError(path, types.KindVectorStore, err)
				continue
			}
		}
		if err := idx.state.DeleteFile(ctx, project, path); err != nil {
			res.AddError(path, types.KindState, err)
			continue
		}
		res.PointsDeleted += len(ids)
		idx.metrics.ObservePoints(observability.OpDelete, len(ids))
		report(i+1, len(paths), "delete")
	}
	return nil
}

func (idx *Indexer) updateProject(ctx context.Context, proj *storage.Project, snap *fetcher.Snapshot, res *types.JobResult) {
	if snap.Branch != "" {
		proj.DefaultBranch = snap.Branch
	}
	proj.LastSyncedCommit = snap.Commit
	proj.LastIngestedAt = time.Now().UTC()
	if status, err := idx.state.GetStatus(ctx, proj.Name); err == nil {
		proj.TotalFiles = status.FilesCount
		proj.TotalChunks = status.ChunksCount
	}
	if err := idx.state.UpsertProject(ctx, proj); err != nil {
		res.AddError("", types.KindState, err)
	}
}

func metadataFor(project string, entry fetcher.Entry, snap *fetcher.Snapshot) vectorstore.Metadata {
	ts := entry.ModTime
	if ts.IsZero() {
		ts = snap.CommittedAt
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return vectorstore.Metadata{
		ProjectName: project,
		FileURL:     entry.URL,
		Timestamp:   ts,
		Type:        entry.Type,
	}
}

// checkText rejects content that cannot be chunked as text
func checkText(path string, content []byte) error {
	if bytes.IndexByte(content, 0) >= 0 {
		return &types.ParseError{Path: path, Reason: "binary content"}
	}
	if !utf8.Valid(content) {
		return &types.ParseError{Path: path, Reason: "invalid UTF-8"}
	}
	return nil
}

func chunkIDs(chunks []types.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	return ids
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
