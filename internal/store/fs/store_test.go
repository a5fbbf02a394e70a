package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foldworks/designd/internal/design"
)

func newJob(id string, created time.Time) design.Job {
	return design.Job{
		ID:        id,
		Kind:      design.KindScaffolding,
		State:     design.JobStatePending,
		CreatedAt: created,
		Command:   design.CommandSpec{Program: "python3", Args: []string{"scaffold.py"}},
	}
}

func TestStore_CreateWritesSnapshot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	ctx := context.Background()
	job := newJob("job-1", time.Unix(100, 0).UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	require.ErrorIs(t, s.CreateJob(ctx, job), design.ErrDuplicateJob)

	data, err := os.ReadFile(filepath.Join(root, "job-1", "job.json"))
	require.NoError(t, err)

	var onDisk design.Job
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, job, onDisk)
}

func TestStore_UpdatePersistsWholeRecord(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob("job-1", time.Unix(100, 0).UTC())))

	code := 0
	updated, err := s.UpdateJob(ctx, "job-1", func(j *design.Job) {
		j.State = design.JobStateCompleted
		j.ExitCode = &code
		j.Results = []string{"outputs/design_0.cif"}
	})
	require.NoError(t, err)
	require.Equal(t, design.JobStateCompleted, updated.State)

	// The snapshot on disk is the full updated record: state and results land
	// together, never one without the other.
	data, err := os.ReadFile(filepath.Join(root, "job-1", "job.json"))
	require.NoError(t, err)
	var onDisk design.Job
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Equal(t, design.JobStateCompleted, onDisk.State)
	require.Equal(t, []string{"outputs/design_0.cif"}, onDisk.Results)

	_, err = s.UpdateJob(ctx, "missing", func(*design.Job) {})
	require.ErrorIs(t, err, design.ErrJobNotFound)
}

func TestStore_RehydratesAcrossRestart(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ctx := context.Background()

	s1, err := New(root)
	require.NoError(t, err)
	require.NoError(t, s1.CreateJob(ctx, newJob("job-1", time.Unix(100, 0).UTC())))
	require.NoError(t, s1.CreateJob(ctx, newJob("job-2", time.Unix(200, 0).UTC())))
	_, err = s1.UpdateJob(ctx, "job-2", func(j *design.Job) {
		j.State = design.JobStateRunning
	})
	require.NoError(t, err)

	// A fresh store over the same root sees everything the first one wrote.
	s2, err := New(root)
	require.NoError(t, err)

	jobs, err := s2.ListJobs(ctx, "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-1", jobs[0].ID)
	require.Equal(t, "job-2", jobs[1].ID)
	require.Equal(t, design.JobStateRunning, jobs[1].State)
}

func TestStore_RehydrateSkipsAbandonedDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "half-created"), 0o750))

	s, err := New(root)
	require.NoError(t, err)

	jobs, err := s.ListJobs(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestStore_ListOrderingAndFilter(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob("b", time.Unix(200, 0).UTC())))
	require.NoError(t, s.CreateJob(ctx, newJob("a", time.Unix(200, 0).UTC())))
	require.NoError(t, s.CreateJob(ctx, newJob("c", time.Unix(100, 0).UTC())))
	_, err = s.UpdateJob(ctx, "c", func(j *design.Job) { j.State = design.JobStateFailed })
	require.NoError(t, err)

	all, err := s.ListJobs(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	failed, err := s.ListJobs(ctx, design.JobStateFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "c", failed[0].ID)
}
