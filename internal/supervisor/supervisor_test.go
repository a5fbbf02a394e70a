package supervisor

import (
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foldworks/designd/internal/design"
)

func tempWorkspace(t *testing.T) design.Workspace {
	t.Helper()
	ws := design.NewWorkspace(t.TempDir())
	require.NoError(t, os.MkdirAll(ws.InputsDir, 0o755))
	require.NoError(t, os.MkdirAll(ws.OutputsDir, 0o755))
	return ws
}

func TestStart_SuccessCapturesOutput(t *testing.T) {
	t.Parallel()

	ws := tempWorkspace(t)
	sup := New(time.Second, zap.NewNop())

	h, err := sup.Start(design.CommandSpec{
		Program: "/bin/sh",
		Args:    []string{"-c", "echo starting; echo done"},
	}, ws)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not finish in time")
	}
	require.Equal(t, 0, h.ExitCode())

	log, err := os.ReadFile(ws.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(log), "starting")
	require.Contains(t, string(log), "done")
}

func TestStart_MergesStderr(t *testing.T) {
	t.Parallel()

	ws := tempWorkspace(t)
	sup := New(time.Second, zap.NewNop())

	h, err := sup.Start(design.CommandSpec{
		Program: "/bin/sh",
		Args:    []string{"-c", "echo to-stdout; echo to-stderr 1>&2; exit 3"},
	}, ws)
	require.NoError(t, err)

	<-h.Done()
	require.Equal(t, 3, h.ExitCode())

	log, err := os.ReadFile(ws.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(log), "to-stdout")
	require.Contains(t, string(log), "to-stderr")
}

func TestStart_MissingExecutable(t *testing.T) {
	t.Parallel()

	ws := tempWorkspace(t)
	sup := New(time.Second, zap.NewNop())

	_, err := sup.Start(design.CommandSpec{
		Program: "/nonexistent/inference-tool",
	}, ws)
	require.Error(t, err)
	require.Contains(t, err.Error(), "start /nonexistent/inference-tool")
}

func TestLog_VisibleWhileRunning(t *testing.T) {
	t.Parallel()

	ws := tempWorkspace(t)
	sup := New(time.Second, zap.NewNop())

	h, err := sup.Start(design.CommandSpec{
		Program: "/bin/sh",
		Args:    []string{"-c", "echo first; sleep 2; echo second"},
	}, ws)
	require.NoError(t, err)

	// The first line shows up in the log well before the process exits.
	require.Eventually(t, func() bool {
		data, readErr := os.ReadFile(ws.LogPath)
		return readErr == nil && strings.Contains(string(data), "first")
	}, time.Second, 20*time.Millisecond)

	select {
	case <-h.Done():
		t.Fatal("process should still be running")
	default:
	}

	midRun, err := os.ReadFile(ws.LogPath)
	require.NoError(t, err)

	<-h.Done()
	final, err := os.ReadFile(ws.LogPath)
	require.NoError(t, err)

	// Later reads extend earlier reads, never rewrite them.
	require.True(t, strings.HasPrefix(string(final), string(midRun)))
	require.Contains(t, string(final), "second")
}

func TestCancel_TerminatesProcess(t *testing.T) {
	t.Parallel()

	ws := tempWorkspace(t)
	sup := New(time.Second, zap.NewNop())

	h, err := sup.Start(design.CommandSpec{
		Program: "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
	}, ws)
	require.NoError(t, err)

	require.NoError(t, h.Cancel())

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled process did not exit")
	}
	require.Equal(t, -1, h.ExitCode())
}

func TestCancel_Idempotent(t *testing.T) {
	t.Parallel()

	ws := tempWorkspace(t)
	sup := New(time.Second, zap.NewNop())

	h, err := sup.Start(design.CommandSpec{
		Program: "/bin/sh",
		Args:    []string{"-c", "sleep 30"},
	}, ws)
	require.NoError(t, err)

	require.NoError(t, h.Cancel())
	require.NoError(t, h.Cancel())
	<-h.Done()
	require.NoError(t, h.Cancel())
}

func TestCancel_KillsAfterGraceWhenSigtermIgnored(t *testing.T) {
	t.Parallel()

	ws := tempWorkspace(t)
	sup := New(200*time.Millisecond, zap.NewNop())

	h, err := sup.Start(design.CommandSpec{
		Program: "/bin/sh",
		Args:    []string{"-c", "trap '' TERM; sleep 30"},
	}, ws)
	require.NoError(t, err)

	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.Cancel())

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived SIGKILL escalation")
	}
	require.Equal(t, -1, h.ExitCode())
}

func TestCancel_ProcessGroupIncludesChildren(t *testing.T) {
	t.Parallel()

	ws := tempWorkspace(t)
	sup := New(time.Second, zap.NewNop())

	h, err := sup.Start(design.CommandSpec{
		Program: "/bin/sh",
		Args:    []string{"-c", "sleep 30 & wait"},
	}, ws)
	require.NoError(t, err)

	concrete, ok := h.(*Handle)
	require.True(t, ok)
	pid := concrete.cmd.Process.Pid

	require.NoError(t, h.Cancel())
	<-h.Done()

	// The whole group is gone, not just the shell.
	require.Eventually(t, func() bool {
		err := syscall.Kill(-pid, syscall.Signal(0))
		return err == syscall.ESRCH
	}, 3*time.Second, 50*time.Millisecond)
}
