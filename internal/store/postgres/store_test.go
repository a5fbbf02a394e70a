package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/foldworks/designd/internal/design"
)

var jobColumns = []string{
	"id", "kind", "name", "state", "created_at", "started_at", "finished_at",
	"workdir", "command", "exit_code", "error_text", "results",
}

func testJob() design.Job {
	return design.Job{
		ID:        "job-1",
		Kind:      design.KindBinder,
		Name:      "atp binder",
		State:     design.JobStatePending,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
		Workdir:   "/data/jobs/job-1",
		Command:   design.CommandSpec{Program: "python3", Args: []string{"binder.py"}},
	}
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "design_jobs")
	require.NoError(t, err)

	job := testJob()
	mock.ExpectExec("INSERT INTO design_jobs").
		WithArgs(
			job.ID, string(job.Kind), job.Name, string(job.State),
			job.CreatedAt, job.StartedAt, job.FinishedAt,
			job.Workdir, []byte(`{"program":"python3","args":["binder.py"]}`),
			job.ExitCode, job.ErrorText, []byte(`[]`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobDuplicateID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "design_jobs")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO design_jobs").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = store.CreateJob(context.Background(), testJob())
	require.ErrorIs(t, err, design.ErrDuplicateJob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "design_jobs")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM design_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, design.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobWritesWholeRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "design_jobs")
	require.NoError(t, err)

	job := testJob()
	mock.ExpectQuery("SELECT (.+) FROM design_jobs WHERE id").
		WithArgs(job.ID).
		WillReturnRows(pgxmock.NewRows(jobColumns).AddRow(
			job.ID, string(job.Kind), job.Name, string(job.State),
			job.CreatedAt, job.StartedAt, job.FinishedAt,
			job.Workdir, []byte(`{"program":"python3","args":["binder.py"]}`),
			job.ExitCode, job.ErrorText, []byte(`[]`),
		))

	code := 0
	mock.ExpectExec("UPDATE design_jobs SET").
		WithArgs(
			job.ID, string(job.Kind), job.Name, string(design.JobStateCompleted),
			job.CreatedAt, job.StartedAt, job.FinishedAt,
			job.Workdir, []byte(`{"program":"python3","args":["binder.py"]}`),
			&code, job.ErrorText, []byte(`["outputs/design_0.pdb"]`),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	updated, err := store.UpdateJob(context.Background(), job.ID, func(j *design.Job) {
		j.State = design.JobStateCompleted
		j.ExitCode = &code
		j.Results = []string{"outputs/design_0.pdb"}
	})
	require.NoError(t, err)
	require.Equal(t, design.JobStateCompleted, updated.State)
	require.Equal(t, []string{"outputs/design_0.pdb"}, updated.Results)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsWithFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "design_jobs")
	require.NoError(t, err)

	job := testJob()
	mock.ExpectQuery("SELECT (.+) FROM design_jobs WHERE state").
		WithArgs(string(design.JobStatePending)).
		WillReturnRows(pgxmock.NewRows(jobColumns).AddRow(
			job.ID, string(job.Kind), job.Name, string(job.State),
			job.CreatedAt, job.StartedAt, job.FinishedAt,
			job.Workdir, []byte(`{"program":"python3","args":["binder.py"]}`),
			job.ExitCode, job.ErrorText, []byte(`[]`),
		))

	jobs, err := store.ListJobs(context.Background(), design.JobStatePending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, job, jobs[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "jobs; drop table users")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid table name")
}
