// Package memory provides an in-memory job store for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/foldworks/designd/internal/design"
)

// Store implements design.JobStore with a mutex-guarded map. Records do not
// survive a process restart; use the fs or postgres store for real
// deployments.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]design.Job
}

// New constructs a Store.
func New() *Store {
	return &Store{jobs: make(map[string]design.Job)}
}

// CreateJob stores a new record.
func (s *Store) CreateJob(_ context.Context, job design.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return design.ErrDuplicateJob
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob applies mutate to the record under the store lock.
func (s *Store) UpdateJob(_ context.Context, id string, mutate func(*design.Job)) (design.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return design.Job{}, design.ErrJobNotFound
	}
	mutate(&job)
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
