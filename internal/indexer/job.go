package indexer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is a stage of an ingestion job
type State string

const (
	StatePending   State = "pending"
	StateCloning   State = "cloning"
	StateDiffing   State = "diffing"
	StateEmbedding State = "embedding"
	StateUpserting State = "upserting"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrInvalidTransition is returned for an edge the state machine does not allow
var ErrInvalidTransition = errors.New("invalid job state transition")

// transitions lists the forward edges. Failed is reachable from every
// non-terminal state and terminal states restart at cloning.
var transitions = map[State]State{
	StatePending:   StateCloning,
	StateCloning:   StateDiffing,
	StateDiffing:   StateEmbedding,
	StateEmbedding: StateUpserting,
	StateUpserting: StateCompleted,
}

// Terminal reports whether s ends a job
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to State) bool {
	switch {
	case to == StateFailed:
		return !from.Terminal()
	case from.Terminal():
		return to == StateCloning
	default:
		return transitions[from] == to
	}
}

// Job is one ingestion run for a project. It is safe for concurrent use:
// the pipeline advances it while status readers and Cancel observe it.
type Job struct {
	Project string

	mu         sync.Mutex
	repoURL    string
	ref        string
	id         string
	state      State
	err        error
	startedAt  time.Time
	finishedAt time.Time
	cancelled  atomic.Bool
}

// NewJob creates a pending job
func NewJob(project, repoURL, ref string) *Job {
	return &Job{
		Project:   project,
		repoURL:   repoURL,
		ref:       ref,
		id:        uuid.NewString(),
		state:     StatePending,
		startedAt: time.Now().UTC(),
	}
}

// ID returns the job id; it changes on Restart
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.id
}

// State returns the current state
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the error that failed the job, if any
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// JobInfo is a point-in-time view of a job
type JobInfo struct {
	ID         string    `json:"job_id"`
	Project    string    `json:"project_name"`
	RepoURL    string    `json:"repo_url"`
	Ref        string    `json:"ref,omitempty"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
	Cancelled  bool      `json:"cancelled"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Info returns a consistent view of the job
func (j *Job) Info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := JobInfo{
		ID:         j.id,
		Project:    j.Project,
		RepoURL:    j.repoURL,
		Ref:        j.ref,
		State:      j.state,
		Cancelled:  j.cancelled.Load(),
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	return info
}

// Transition moves the job to the next state
func (j *Job) Transition(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !CanTransition(j.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.state, to)
	}
	j.state = to
	if to.Terminal() {
		j.finishedAt = time.Now().UTC()
	}
	return nil
}

// Fail moves a non-terminal job to failed and records err
func (j *Job) Fail(err error) error {
	if terr := j.Transition(StateFailed); terr != nil {
		return terr
	}
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	return nil
}

// Restart re-enters cloning from a terminal state with a fresh id
func (j *Job) Restart(repoURL, ref string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !CanTransition(j.state, StateCloning) || j.state == StatePending {
		return fmt.Errorf("%w: restart from %s", ErrInvalidTransition, j.state)
	}
	j.repoURL = repoURL
	j.ref = ref
	j.id = uuid.NewString()
	j.state = StateCloning
	j.err = nil
	j.startedAt = time.Now().UTC()
	j.finishedAt = time.Time{}
	j.cancelled.Store(false)
	return nil
}

// Cancel asks the job to stop at the next batch boundary
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}
