package types

import "time"

// JobStatus summarizes how an ingestion job ended
type JobStatus string

const (
	StatusSuccess JobStatus = "success"
	StatusPartial JobStatus = "partial"
	StatusFailed  JobStatus = "failed"
)

// FileError records a per-file problem that did not abort the job
type FileError struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobResult is the structured outcome of an ingestion job
type JobResult struct {
	JobID   string    `json:"job_id"`
	Project string    `json:"project_name"`
	RepoURL string    `json:"repo_url"`
	Status  JobStatus `json:"status"`
	State   string    `json:"state"`
	Commit  string    `json:"commit,omitempty"`

	FilesAdded     int `json:"files_added"`
	FilesModified  int `json:"files_modified"`
	FilesDeleted   int `json:"files_deleted"`
	FilesUnchanged int `json:"files_unchanged"`

	ChunksEmbedded  int `json:"chunks_embedded"`
	PointsUpserted  int `json:"points_upserted"`
	PointsRefreshed int `json:"points_refreshed"`
	PointsDeleted   int `json:"points_deleted"`

	PartialFailure bool          `json:"partial_failure"`
	Errors         []FileError   `json:"errors"`
	Duration       time.Duration `json:"duration_ns"`
}

// AddError appends a per-file error. Everything except a parse error marks
// the job as partially failed; unreadable files are skipped for good.
func (r *JobResult) AddError(path, kind string, err error) {
	r.Errors = append(r.Errors, FileError{Path: path, Kind: kind, Message: err.Error()})
	if kind != KindParse {
		r.PartialFailure = true
	}
}

// FailedPaths returns the distinct paths that have recorded errors
func (r *JobResult) FailedPaths() []string {
	seen := make(map[string]bool, len(r.Errors))
	paths := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Path == "" || seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		paths = append(paths, e.Path)
	}
	return paths
}

// Match is a single ranked retrieval result with provenance
type Match struct {
	ChunkID     string      `json:"chunk_id"`
	ProjectName string      `json:"project_name"`
	FilePath    string      `json:"file_path"`
	FileURL     string      `json:"file_url"`
	OffsetRange OffsetRange `json:"offset_range"`
	Snippet     string      `json:"snippet"`
	Score       float64     `json:"score"`
	Type        FileType    `json:"type"`
}
