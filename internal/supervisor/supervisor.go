// Package supervisor runs external design tools as supervised processes.
//
// Each Start launches one command with stdout and stderr merged into the
// job's log file. The caller observes completion through the returned handle;
// nothing here blocks on the process.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/foldworks/designd/internal/design"
)

// Supervisor implements design.Runner using os/exec.
type Supervisor struct {
	grace  time.Duration
	logger *zap.Logger
}

// New constructs a Supervisor. grace is how long a cancelled process gets to
// exit after SIGTERM before it is killed.
func New(grace time.Duration, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		grace:  grace,
		logger: logger,
	}
}

// Start launches the command inside the workspace and returns immediately.
// Output is appended to the workspace log file as the process produces it, so
// the log is readable while the job is still running. The process gets its
// own process group so cancellation reaches any children the tool spawns.
func (s *Supervisor) Start(spec design.CommandSpec, ws design.Workspace) (design.ProcessHandle, error) {
	logFile, err := os.OpenFile(ws.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}

	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Dir = ws.Root
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Program, err)
	}

	h := &Handle{
		cmd:   cmd,
		grace: s.grace,
		done:  make(chan struct{}),
		logger: s.logger.With(
			zap.String("program", spec.Program),
			zap.Int("pid", cmd.Process.Pid),
		),
	}
	h.exitCode.Store(-1)

	go h.wait(logFile)

	return h, nil
}

// Handle tracks one supervised process. It implements design.ProcessHandle.
type Handle struct {
	cmd    *exec.Cmd
	grace  time.Duration
	logger *zap.Logger

	done      chan struct{}
	exitCode  atomic.Int32
	cancelReq atomic.Bool
}

func (h *Handle) wait(logFile *os.File) {
	err := h.cmd.Wait()
	logFile.Close()

	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	h.exitCode.Store(int32(code))
	close(h.done)

	if err != nil {
		h.logger.Debug("process exited with error", zap.Int("exit_code", code), zap.Error(err))
	} else {
		h.logger.Debug("process exited cleanly")
	}
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode is valid only after Done is closed; -1 means the process was
// terminated by a signal.
func (h *Handle) ExitCode() int {
	return int(h.exitCode.Load())
}

// Cancel requests termination: SIGTERM to the process group, then SIGKILL if
// the process is still alive after the grace period. Returns once the request
// is dispatched, not once the process has exited. Idempotent; cancelling an
// already-terminated process is a no-op.
func (h *Handle) Cancel() error {
	if !h.cancelReq.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case <-h.done:
		return nil
	default:
	}

	pgid := -h.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal process group: %w", err)
	}
	h.logger.Info("sent SIGTERM", zap.Duration("grace", h.grace))

	go func() {
		select {
		case <-h.done:
		case <-time.After(h.grace):
			// Still alive after the grace period; no more patience.
			if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				h.logger.Warn("SIGKILL failed", zap.Error(err))
			}
		}
	}()
	return nil
}
