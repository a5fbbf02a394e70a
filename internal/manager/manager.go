// Package manager implements the job orchestration core: submission,
// admission control, state transitions, and the status/result/log/cancel/list
// queries.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foldworks/designd/internal/design"
	"github.com/foldworks/designd/internal/metrics"
)

// logReadCap bounds how much of a job log is read back through the API.
const logReadCap = 1 << 20

// Config controls Manager behavior.
type Config struct {
	// DataDir is the root under which each job gets its working directory.
	DataDir string
	// MaxRunning is the admission limit: the maximum number of jobs in the
	// running state at any instant.
	MaxRunning int
	// Tools maps each job kind to its external command template.
	Tools map[design.Kind]design.ToolCommand
}

// Manager is the only component external callers interact with. It may be
// invoked concurrently; per-job transitions are serialized through its mutex
// and the store's whole-record updates.
type Manager struct {
	store  design.JobStore
	runner design.Runner
	clock  design.Clock
	idGen  design.IDGenerator
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	running   int
	pending   []string
	handles   map[string]design.ProcessHandle
	cancelled map[string]bool
}

// New constructs a Manager.
func New(
	store design.JobStore,
	runner design.Runner,
	clock design.Clock,
	idGen design.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.MaxRunning <= 0 {
		cfg.MaxRunning = 1
	}
	return &Manager{
		store:     store,
		runner:    runner,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
		handles:   make(map[string]design.ProcessHandle),
		cancelled: make(map[string]bool),
	}
}

// Submit validates the spec, creates the job record in state pending, and
// hands execution off without blocking. It returns the new job id.
// Validation failures surface synchronously as InvalidParametersError and
// never create a record.
func (m *Manager) Submit(ctx context.Context, spec design.JobSpec, name string) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	tool, ok := m.cfg.Tools[spec.Kind()]
	if !ok {
		return "", fmt.Errorf("no tool configured for kind %q", spec.Kind())
	}

	id, err := m.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate job id: %w", err)
	}

	ws := design.NewWorkspace(filepath.Join(m.cfg.DataDir, id))
	if err := os.MkdirAll(ws.InputsDir, 0o750); err != nil {
		return "", fmt.Errorf("create inputs dir: %w", err)
	}
	if err := os.MkdirAll(ws.OutputsDir, 0o750); err != nil {
		return "", fmt.Errorf("create outputs dir: %w", err)
	}
	if err := spec.Prepare(ws); err != nil {
		return "", fmt.Errorf("stage inputs: %w", err)
	}

	job := design.Job{
		ID:        id,
		Kind:      spec.Kind(),
		Name:      name,
		State:     design.JobStatePending,
		CreatedAt: m.clock.Now(),
		Workdir:   ws.Root,
		Command:   spec.Command(tool, ws),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	m.mu.Lock()
	m.pending = append(m.pending, id)
	m.mu.Unlock()

	metrics.ObserveSubmitted(string(job.Kind))
	m.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("kind", string(job.Kind)),
	)

	go m.schedule()
	return id, nil
}

// schedule promotes pending jobs first-submitted-first-run while running
// slots are free. Taking a slot and dequeuing are one locked step so bursts
// of submissions never exceed the admission limit.
func (m *Manager) schedule() {
	for {
		m.mu.Lock()
		if m.running >= m.cfg.MaxRunning || len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		id := m.pending[0]
		m.pending = m.pending[1:]
		m.running++
		m.mu.Unlock()

		m.launch(id)
	}
}

// launch transitions one dequeued job to running and starts its process.
func (m *Manager) launch(id string) {
	ctx := context.Background()

	// A cancel may have landed between dequeue and here.
	m.mu.Lock()
	wasCancelled := m.cancelled[id]
	if wasCancelled {
		delete(m.cancelled, id)
	}
	m.mu.Unlock()
	if wasCancelled {
		m.finalize(id, func(j *design.Job) {
			j.State = design.JobStateCancelled
		})
		return
	}

	now := m.clock.Now()
	job, err := m.store.UpdateJob(ctx, id, func(j *design.Job) {
		j.State = design.JobStateRunning
		j.StartedAt = &now
	})
	if err != nil {
		m.logger.Error("promote job failed", zap.String("job_id", id), zap.Error(err))
		m.releaseSlot()
		return
	}
	metrics.IncRunning()

	handle, err := m.runner.Start(job.Command, design.NewWorkspace(job.Workdir))
	if err != nil {
		metrics.DecRunning()
		m.finalize(id, func(j *design.Job) {
			j.State = design.JobStateFailed
			j.ErrorText = fmt.Sprintf("launch error: %v", err)
		})
		m.logger.Warn("job launch failed", zap.String("job_id", id), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.handles[id] = handle
	cancelPending := m.cancelled[id]
	m.mu.Unlock()
	if cancelPending {
		go func() { _ = handle.Cancel() }()
	}

	m.logger.Info("job running", zap.String("job_id", id))
	go m.await(id, job.Kind, design.NewWorkspace(job.Workdir), handle)
}

// await is the completion-observation path: it blocks on the supervised
// process on its own goroutine, never on a caller-serving path.
func (m *Manager) await(id string, kind design.Kind, ws design.Workspace, handle design.ProcessHandle) {
	<-handle.Done()
	exitCode := handle.ExitCode()

	m.mu.Lock()
	wasCancelled := m.cancelled[id]
	delete(m.cancelled, id)
	delete(m.handles, id)
	m.mu.Unlock()

	metrics.DecRunning()

	switch {
	case wasCancelled:
		m.finalize(id, func(j *design.Job) {
			j.State = design.JobStateCancelled
			j.ExitCode = &exitCode
		})
	case exitCode == 0:
		results, err := collectArtifacts(ws.OutputsDir)
		if err != nil {
			m.finalize(id, func(j *design.Job) {
				j.State = design.JobStateFailed
				j.ExitCode = &exitCode
				j.ErrorText = fmt.Sprintf("collect artifacts: %v", err)
			})
			return
		}
		m.finalize(id, func(j *design.Job) {
			j.State = design.JobStateCompleted
			j.ExitCode = &exitCode
			j.Results = results
		})
	default:
		excerpt := logExcerpt(ws.LogPath)
		m.finalize(id, func(j *design.Job) {
			j.State = design.JobStateFailed
			j.ExitCode = &exitCode
			if excerpt != "" {
				j.ErrorText = fmt.Sprintf("process exited with code %d: %s", exitCode, excerpt)
			} else {
				j.ErrorText = fmt.Sprintf("process exited with code %d", exitCode)
			}
		})
	}
}

// finalize writes a terminal state, releases the job's running slot and
// wakes the scheduler.
func (m *Manager) finalize(id string, mutate func(*design.Job)) {
	now := m.clock.Now()
	job, err := m.store.UpdateJob(context.Background(), id, func(j *design.Job) {
		mutate(j)
		j.FinishedAt = &now
	})
	if err != nil {
		m.logger.Error("finalize job failed", zap.String("job_id", id), zap.Error(err))
	} else {
		duration := time.Duration(0)
		if job.StartedAt != nil {
			duration = now.Sub(*job.StartedAt)
		}
		metrics.ObserveFinished(string(job.Kind), string(job.State), duration)
		m.logger.Info("job finished",
			zap.String("job_id", id),
			zap.String("state", string(job.State)),
		)
	}
	m.releaseSlot()
}

func (m *Manager) releaseSlot() {
	m.mu.Lock()
	m.running--
	m.mu.Unlock()
	go m.schedule()
}

// Status returns the latest known state without blocking on completion. For
// running jobs the last captured log line is included as a progress hint.
func (m *Manager) Status(ctx context.Context, id string) (design.JobStatus, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return design.JobStatus{}, err
	}
	st := design.JobStatus{
		ID:         job.ID,
		Kind:       job.Kind,
		Name:       job.Name,
		State:      job.State,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		ExitCode:   job.ExitCode,
		ErrorText:  job.ErrorText,
	}
	if job.State == design.JobStateRunning {
		st.Progress = lastLogLine(design.NewWorkspace(job.Workdir).LogPath)
	}
	return st, nil
}

// Result returns the artifact locations of a completed job. It returns
// ErrNotReady while the job is pending or running, a JobFailedError carrying
// the failure reason for failed jobs, and ErrInvalidState for cancelled jobs.
func (m *Manager) Result(ctx context.Context, id string) (design.JobResult, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return design.JobResult{}, err
	}
	switch job.State {
	case design.JobStateCompleted:
		return design.JobResult{ID: job.ID, Kind: job.Kind, Results: job.Results}, nil
	case design.JobStateFailed:
		return design.JobResult{}, &JobFailedError{ID: job.ID, Reason: job.ErrorText}
	case design.JobStateCancelled:
		return design.JobResult{}, fmt.Errorf("job was cancelled: %w", design.ErrInvalidState)
	default:
		return design.JobResult{}, design.ErrNotReady
	}
}

// Log returns up to tail lines from the end of the job's captured output.
// tail <= 0 returns the whole log, capped at 1 MiB from the end. Safe to call
// while the job is running.
func (m *Manager) Log(ctx context.Context, id string, tail int) (string, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	return readLog(design.NewWorkspace(job.Workdir).LogPath, tail)
}

// Cancel requests cancellation. A pending job transitions to cancelled
// immediately and its process is never launched; a running job has
// termination dispatched to its supervised process and converges to
// cancelled once the process exits. Cancelling a job that is already
// cancelled is a no-op; cancelling a completed or failed job returns
// ErrInvalidState.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	switch job.State {
	case design.JobStatePending:
		if m.removePending(id) {
			m.mu.Unlock()
			m.takeSlotForFinalize()
			m.finalize(id, func(j *design.Job) {
				j.State = design.JobStateCancelled
			})
			return nil
		}
		// Already dequeued but not yet running; the launch path will observe
		// the intent and finalize as cancelled.
		m.cancelled[id] = true
		m.mu.Unlock()
		return nil
	case design.JobStateRunning:
		m.cancelled[id] = true
		handle := m.handles[id]
		m.mu.Unlock()
		if handle != nil {
			go func() { _ = handle.Cancel() }()
		}
		m.logger.Info("job cancel requested", zap.String("job_id", id))
		return nil
	case design.JobStateCancelled:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		return design.ErrInvalidState
	}
}

// takeSlotForFinalize pairs a queued-job cancellation with finalize's slot
// release so the admission counter stays balanced.
func (m *Manager) takeSlotForFinalize() {
	m.mu.Lock()
	m.running++
	m.mu.Unlock()
}

// List returns job records, optionally filtered by state.
func (m *Manager) List(ctx context.Context, filter design.JobState) ([]design.Job, error) {
	return m.store.ListJobs(ctx, filter)
}

// RecoverOrphans marks jobs left pending or running by a previous process as
// failed. Their supervised processes and admission slots did not survive the
// restart, so a truthful terminal state is the only honest outcome.
func (m *Manager) RecoverOrphans(ctx context.Context) error {
	jobs, err := m.store.ListJobs(ctx, "")
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	now := m.clock.Now()
	for _, job := range jobs {
		if job.State.Terminal() {
			continue
		}
		if _, err := m.store.UpdateJob(ctx, job.ID, func(j *design.Job) {
			j.State = design.JobStateFailed
			j.ErrorText = "interrupted by server restart"
			j.FinishedAt = &now
		}); err != nil {
			return fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		m.logger.Warn("orphaned job marked failed", zap.String("job_id", job.ID))
	}
	return nil
}

// Shutdown makes a best-effort attempt to cancel all running jobs and waits
// for their processes to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]design.ProcessHandle, 0, len(m.handles))
	for id, h := range m.handles {
		m.cancelled[id] = true
		handles = append(handles, h)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(handle design.ProcessHandle) {
			defer wg.Done()
			_ = handle.Cancel()
			<-handle.Done()
		}(h)
	}
	wg.Wait()
}

func (m *Manager) removePending(id string) bool {
	for i, pid := range m.pending {
		if pid == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

func collectArtifacts(outputsDir string) ([]string, error) {
	var results []string
	err := filepath.WalkDir(outputsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			results = append(results, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(results)
	return results, nil
}

// readLog returns the log contents, capped at logReadCap bytes from the end.
// tail > 0 limits the output to the last tail lines.
func readLog(path string, tail int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// No output captured yet.
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read job log: %w", err)
	}
	if len(data) > logReadCap {
		data = data[len(data)-logReadCap:]
	}
	text := string(data)
	if tail <= 0 {
		return text, nil
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func lastLogLine(path string) string {
	text, err := readLog(path, 1)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func logExcerpt(path string) string {
	text, err := readLog(path, 5)
	if err != nil {
		return ""
	}
	excerpt := strings.TrimSpace(text)
	if len(excerpt) > 400 {
		excerpt = excerpt[len(excerpt)-400:]
	}
	return excerpt
}
