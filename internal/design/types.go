// Package design defines core types shared across subsystems.
package design

import (
	"fmt"
	"path/filepath"
	"time"
)

// JobState represents the lifecycle state of a design job.
type JobState string

// Job state values persisted in the job store.
const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether no further transitions can occur from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// ParseJobState converts a caller-supplied string into a JobState.
func ParseJobState(raw string) (JobState, error) {
	s := JobState(raw)
	switch s {
	case JobStatePending, JobStateRunning, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown job state %q", raw)
	}
}

// CommandSpec is the fully resolved external command for one job. It is
// immutable once set on the Job record.
type CommandSpec struct {
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

// Job represents the metadata persisted for each submitted design request.
type Job struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	Name       string      `json:"name,omitempty"`
	State      JobState    `json:"state"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Workdir    string      `json:"working_directory"`
	Command    CommandSpec `json:"command"`
	ExitCode   *int        `json:"exit_code,omitempty"`
	ErrorText  string      `json:"error_text,omitempty"`
	Results    []string    `json:"results,omitempty"`
}

// Workspace describes the exclusively owned directory layout of one job.
type Workspace struct {
	Root       string
	InputsDir  string
	OutputsDir string
	LogPath    string
}

// NewWorkspace returns the canonical workspace layout rooted at dir.
func NewWorkspace(dir string) Workspace {
	return Workspace{
		Root:       dir,
		InputsDir:  filepath.Join(dir, "inputs"),
		OutputsDir: filepath.Join(dir, "outputs"),
		LogPath:    filepath.Join(dir, "job.log"),
	}
}

// JobStatus is returned by the status endpoint. Progress carries the last
// captured log line for running jobs, as a cheap progress hint.
type JobStatus struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Name       string     `json:"name,omitempty"`
	State      JobState   `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	ErrorText  string     `json:"error_text,omitempty"`
	Progress   string     `json:"progress,omitempty"`
}

// JobResult is returned by the result endpoint for completed jobs.
type JobResult struct {
	ID      string   `json:"id"`
	Kind    Kind     `json:"kind"`
	Results []string `json:"results"`
}
