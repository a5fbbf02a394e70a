package design

import (
	"context"
	"time"
)

// JobStore persists job records durably across process restarts.
type JobStore interface {
	// CreateJob persists a new record. Returns ErrDuplicateJob if the id is
	// already known.
	CreateJob(ctx context.Context, job Job) error
	// UpdateJob applies mutate to the record under the store's lock and
	// persists the whole updated snapshot atomically with respect to readers.
	// Returns the updated record, or ErrJobNotFound.
	UpdateJob(ctx context.Context, id string, mutate func(*Job)) (Job, error)
	// GetJob fetches a record by id or returns ErrJobNotFound.
	GetJob(ctx context.Context, id string) (Job, error)
	// ListJobs returns all records ordered by created_at ascending (id as
	// tiebreak). A zero-value filter returns every job.
	ListJobs(ctx context.Context, filter JobState) ([]Job, error)
}

// Runner launches one external command per call without blocking.
type Runner interface {
	// Start launches the command inside the workspace. The returned handle
	// observes completion; a start failure is a launch error and no handle is
	// returned.
	Start(spec CommandSpec, ws Workspace) (ProcessHandle, error)
}

// ProcessHandle tracks one supervised process.
type ProcessHandle interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid only after Done is closed; -1 if the process was
	// terminated by a signal.
	ExitCode() int
	// Cancel requests termination. Safe to call at any time, idempotent.
	Cancel() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
