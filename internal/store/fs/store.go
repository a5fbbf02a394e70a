// Package fs implements the durable filesystem job store.
//
// Each job owns one directory under the store root:
//
//	<root>/<job-id>/job.json   whole-record metadata snapshot
//	<root>/<job-id>/job.log    captured process output
//	<root>/<job-id>/inputs/    staged inputs
//	<root>/<job-id>/outputs/   artifacts written by the external tool
//
// The layout is stable so an operator can inspect a job by reading its
// directory without going through the API.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/foldworks/designd/internal/design"
)

const snapshotName = "job.json"

// Store implements design.JobStore on the local filesystem. An in-memory
// index mirrors the on-disk snapshots; the snapshots are the source of truth
// and are reloaded on construction, so records survive process restarts.
type Store struct {
	root string

	mu   sync.RWMutex
	jobs map[string]design.Job
}

// New creates a Store rooted at dir, creating it if needed, and rehydrates
// any job records already present.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store root directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	s := &Store{
		root: dir,
		jobs: make(map[string]design.Job),
	}
	if err := s.rehydrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rehydrate() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read store root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.root, entry.Name(), snapshotName)
		data, err := os.ReadFile(path)
		if err != nil {
			// A job dir without a snapshot was abandoned mid-create; skip it.
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read snapshot %s: %w", path, err)
		}
		var job design.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("decode snapshot %s: %w", path, err)
		}
		s.jobs[job.ID] = job
	}
	return nil
}

// JobDir returns the directory owned by the given job id.
func (s *Store) JobDir(id string) string {
	return filepath.Join(s.root, id)
}

// CreateJob persists a new record and creates its directory.
func (s *Store) CreateJob(_ context.Context, job design.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return design.ErrDuplicateJob
	}
	if err := os.MkdirAll(s.JobDir(job.ID), 0o750); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	if err := s.writeSnapshot(job); err != nil {
		return err
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob applies mutate to the record and persists the whole updated
// snapshot. Readers never observe a partially written record: the snapshot is
// written to a temp file and renamed into place, and the in-memory index is
// replaced only after the rename succeeds.
func (s *Store) UpdateJob(_ context.Context, id string, mutate func(*design.Job)) (design.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return design.Job{}, design.ErrJobNotFound
	}
	mutate(&job)
	if err := s.writeSnapshot(job); err != nil {
		return design.Job{}, err
	}
	s.jobs[id] = job
	return job, nil
}

// GetJob fetches a record by id.
func (s *Store) GetJob(_ context.Context, id string) (design.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return design.Job{}, design.ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns records ordered by created_at ascending, id as tiebreak.
func (s *Store) ListJobs(_ context.Context, filter design.JobState) ([]design.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]design.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter != "" && job.State != filter {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) writeSnapshot(job design.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := s.JobDir(job.ID)
	tmp, err := os.CreateTemp(dir, snapshotName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, snapshotName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}
