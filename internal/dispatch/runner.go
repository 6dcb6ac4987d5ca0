package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/aobridge/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr captured from worker execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// pipeDrainDelay bounds how long Wait keeps reading stdout/stderr after the
	// worker exited, in case a forked process still holds the pipes.
	pipeDrainDelay = time.Second
)

var (
	// ErrLaunch means the worker process could not be started at all.
	ErrLaunch = errors.New("worker could not be launched")
	// ErrTimeout means the worker exceeded its invocation timeout and was terminated.
	ErrTimeout = errors.New("worker timed out")
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/aobridge/internal/dispatch Runner

// Runner starts one worker process per Invocation and waits for it.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Execution, error)
}

// Invocation is one worker command line.
type Invocation struct {
	ID   string
	Path string
	Args []string
	Env  []string
	// Entrypoint is the script or binary checked before launch.
	// It equals Path when no runtime is configured.
	Entrypoint string
	Timeout    time.Duration
}

// Execution is what a finished (or terminated) worker left behind.
type Execution struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// ProcessRunner runs workers as local child processes.
type ProcessRunner struct {
	// GracePeriod between SIGTERM and SIGKILL; zero means terminationGracePeriod.
	GracePeriod time.Duration
}

// Run launches the worker and blocks until it exits, its timeout expires or
// ctx is cancelled. On timeout the partial stdout is still returned with ErrTimeout.
func (r *ProcessRunner) Run(ctx context.Context, inv Invocation) (*Execution, error) {
	logger := log.WithInvocation(inv.ID)

	if err := preflight(inv); err != nil {
		return nil, err
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Termination is managed here rather than through CommandContext so the
	// worker gets SIGTERM and a grace period first.
	cmd := exec.Command(inv.Path, inv.Args...)
	if len(inv.Env) > 0 {
		cmd.Env = inv.Env
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = pipeDrainDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning worker", "path", inv.Path, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("worker execution timed out, sending SIGTERM")
		r.terminate(cmd, waitErr, logger)
		return r.collect(cmd, &stdout, &stderr), fmt.Errorf("%w after %v", ErrTimeout, timeout)

	case <-ctx.Done():
		logger.Warn("worker execution cancelled, sending SIGTERM")
		r.terminate(cmd, waitErr, logger)
		return r.collect(cmd, &stdout, &stderr), ctx.Err()

	case err := <-waitErr:
		exe := r.collect(cmd, &stdout, &stderr)
		if errors.Is(err, exec.ErrWaitDelay) {
			logger.Warn("worker left processes holding its output, killing its process group")
			r.reap(cmd, logger)
			return exe, nil
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return exe, fmt.Errorf("wait for process: %w", err)
			}
			logger.Debug("worker exited with non-zero status", "exit_code", exitErr.ExitCode())
		}
		return exe, nil
	}
}

// terminate sends SIGTERM to the worker's process group, waits the grace
// period, then SIGKILL. It returns once the worker has been reaped.
func (r *ProcessRunner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := r.GracePeriod
	if grace <= 0 {
		grace = terminationGracePeriod
	}
	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-waitErr:
		logger.Info("worker exited after SIGTERM")
	case <-graceTimer.C:
		logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		r.reap(cmd, logger)
		<-waitErr
	}
}

// reap kills whatever is left of the worker's process group.
func (r *ProcessRunner) reap(cmd *exec.Cmd, logger *slog.Logger) {
	if err := signalGroup(cmd, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("failed to send SIGKILL", "error", err)
	}
}

func (r *ProcessRunner) collect(cmd *exec.Cmd, stdout, stderr *bytes.Buffer) *Execution {
	exe := &Execution{
		Stdout:   stdout.Bytes(),
		Stderr:   truncateStderr(stderr.String()),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		exe.ExitCode = cmd.ProcessState.ExitCode()
	}
	return exe
}

// preflight resolves the executable and checks the entrypoint exists so a
// missing runtime or script reports as a launch failure, not as bad output.
func preflight(inv Invocation) error {
	if _, err := exec.LookPath(inv.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	if inv.Entrypoint != "" && inv.Entrypoint != inv.Path {
		if _, err := os.Stat(inv.Entrypoint); err != nil {
			return fmt.Errorf("%w: entrypoint %s: %v", ErrLaunch, inv.Entrypoint, err)
		}
	}
	return nil
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
