package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"reverie/internal/api"
)

// ErrDaemonNotRunning reports that no daemon answered.
var ErrDaemonNotRunning = errors.New("daemon not running")

const pollInterval = 100 * time.Millisecond

// StatusClient is the part of the API client daemonctl needs.
type StatusClient interface {
	Status(ctx context.Context) (api.DaemonStatus, error)
}

// StartResult reports what Start did.
type StartResult struct {
	AlreadyRunning bool
	PID            int
}

// StopResult reports what Stop did.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts `<executable> daemon` detached from the caller.
func Launch(executable, configPath string, extraArgs ...string) error {
	if strings.TrimSpace(executable) == "" {
		return errors.New("launch daemon: executable path is empty")
	}
	args := []string{"daemon"}
	if configPath = strings.TrimSpace(configPath); configPath != "" {
		args = append(args, "--config", configPath)
	}
	args = append(args, extraArgs...)

	proc := exec.Command(executable, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// Start launches the daemon unless one already answers, then waits up to
// timeout for it to come up.
func Start(ctx context.Context, client StatusClient, launch func() error, timeout time.Duration) (StartResult, error) {
	if status, err := client.Status(ctx); err == nil {
		return StartResult{AlreadyRunning: true, PID: status.PID}, nil
	} else if !api.IsAPIUnavailable(err) {
		return StartResult{}, err
	}
	if err := launch(); err != nil {
		return StartResult{}, err
	}
	status, err := WaitReady(ctx, client, timeout)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{PID: status.PID}, nil
}

// WaitReady polls the status endpoint until it answers.
func WaitReady(ctx context.Context, client StatusClient, timeout time.Duration) (api.DaemonStatus, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		status, err := client.Status(ctx)
		if err == nil {
			return status, nil
		}
		if !api.IsAPIUnavailable(err) {
			return api.DaemonStatus{}, err
		}
		lastErr = err
		if time.Now().After(deadline) {
			return api.DaemonStatus{}, fmt.Errorf("daemon did not come up within %s: %w", timeout, lastErr)
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return api.DaemonStatus{}, err
		}
	}
}

// Stop terminates the running daemon. pidPath is read when the status
// endpoint does not report a pid.
func Stop(ctx context.Context, client StatusClient, pidPath string, grace time.Duration) (StopResult, error) {
	status, err := client.Status(ctx)
	if err != nil {
		if api.IsAPIUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	pid := status.PID
	if pid <= 0 {
		if pid, err = ReadPID(pidPath); err != nil {
			return StopResult{}, err
		}
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return StopResult{}, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	result := StopResult{PID: pid}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	if WaitGone(ctx, client, grace) == nil {
		return result, nil
	}
	if err := proc.Kill(); err != nil {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return result, nil
}

// WaitGone polls until the status endpoint stops answering.
func WaitGone(ctx context.Context, client StatusClient, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := client.Status(ctx); api.IsAPIUnavailable(err) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon still answering after %s", timeout)
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// ReadPID reads the pid recorded by a running daemon.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q holds no pid", path)
	}
	return pid, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
