package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	defaultHealthCheckFailures = 3
	healthCheckTimeout         = 5 * time.Second
	killWaitTimeout            = 5 * time.Second
)

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format) appended
	// to the parent's environment.
	Env []string

	// Stdout and Stderr receive the child's output. When nil, output is
	// logged line by line at debug level.
	Stdout io.Writer
	Stderr io.Writer

	// RestartOnFailure enables automatic restart when the process exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the first backoff step; it doubles per consecutive
	// failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for its failure to be
	// treated as the first in a new series.
	StableThreshold time.Duration

	// RequestedRestartCode is an exit code the child uses to ask for a
	// restart. Such exits reset the backoff and do not count towards
	// MaxRestartAttempts. Zero disables it.
	RequestedRestartCode int

	// MaxRestartAttempts limits consecutive failed restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc is called every HealthCheckInterval while the child
	// runs. HealthCheckFailures consecutive failures kill the child.
	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration
	HealthCheckFailures int

	// OnStart is called when the process starts successfully.
	OnStart func()

	// OnExit is called whenever the child exits.
	OnExit func(ExitInfo)

	// OnRestart is called before each restart with the attempt number and
	// the delay about to be waited.
	OnRestart func(attempt int, delay time.Duration)
}

// DefaultConfig returns a Config that restarts forever with backoff.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        defaultRestartDelay,
		MaxRestartDelay:     defaultMaxRestartDelay,
		StableThreshold:     defaultStableThreshold,
		GracefulTimeout:     defaultGracefulTimeout,
		HealthCheckInterval: defaultHealthCheckInterval,
		HealthCheckFailures: defaultHealthCheckFailures,
	}
}

// ExitInfo describes one exit of the child.
type ExitInfo struct {
	// Code is the exit status, or -1 if the child was killed by a signal
	// or never produced one.
	Code      int
	Err       error
	Uptime    time.Duration
	Requested bool // exited with RequestedRestartCode
	Stopped   bool // exit followed a Stop call
}

// ErrHealthCheck wraps the kill of a child that failed its health checks.
var ErrHealthCheck = errors.New("process: health check failed")

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs one subprocess and restarts it when it fails.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	failures      int
	lastExit      *ExitInfo
	startTime     time.Time
	stopRequested bool

	stopCh chan struct{}
	done   chan struct{}
}

// NewManager creates a process manager, filling zero durations with defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if cfg.HealthCheckFailures == 0 {
		cfg.HealthCheckFailures = defaultHealthCheckFailures
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and begins monitoring it. It returns an
// error only if the first launch fails.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting || m.status == StatusBackoff {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastExit = &ExitInfo{Code: -1, Err: err}
		done := m.done
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.monitor(ctx)
	return nil
}

// Done is closed when the manager stops supervising: after Stop, after
// the context ends, after a clean exit, or when restarts are exhausted.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	// The child is stopped through its process group, not the context, so
	// it gets SIGTERM and a grace period.
	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // Binary is the operator-supplied or own executable
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	var pipes []func()
	for _, stream := range []struct {
		name string
		dst  io.Writer
		set  func(io.Writer)
		pipe func() (io.ReadCloser, error)
	}{
		{"stdout", m.config.Stdout, func(w io.Writer) { cmd.Stdout = w }, cmd.StdoutPipe},
		{"stderr", m.config.Stderr, func(w io.Writer) { cmd.Stderr = w }, cmd.StderrPipe},
	} {
		if stream.dst != nil {
			stream.set(stream.dst)
			continue
		}
		r, err := stream.pipe()
		if err != nil {
			return fmt.Errorf("creating %s pipe: %w", stream.name, err)
		}
		name := stream.name
		pipes = append(pipes, func() { m.captureOutput(name, r) })
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	for _, capture := range pipes {
		go capture()
	}

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)

	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

// captureOutput logs each line the child writes.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("process output",
			"name", m.config.Name,
			"stream", stream,
			"output", scanner.Text(),
		)
	}
}

// waitForExitOrHealthFailure waits for the child to exit. When health
// checks are configured, repeated failures kill the child.
func (m *Manager) waitForExitOrHealthFailure(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	var tick <-chan time.Time
	if m.config.HealthCheckFunc != nil {
		ticker := time.NewTicker(m.config.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	consecutiveFailures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			m.terminate(cmd, exitCh)
			return <-exitCh

		case <-tick:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheckFunc(checkCtx)
			cancel()

			if err == nil {
				if consecutiveFailures > 0 {
					m.logger.Info("health check recovered",
						"name", m.config.Name,
						"previous_failures", consecutiveFailures,
					)
				}
				consecutiveFailures = 0
				continue
			}

			consecutiveFailures++
			m.logger.Warn("health check failed",
				"name", m.config.Name,
				"error", err,
				"consecutive_failures", consecutiveFailures,
			)
			if consecutiveFailures < m.config.HealthCheckFailures {
				continue
			}

			m.logger.Error("health check failed repeatedly, killing process",
				"name", m.config.Name,
				"failures", consecutiveFailures,
			)
			signalGroup(cmd, syscall.SIGKILL)
			select {
			case <-exitCh:
				return fmt.Errorf("%w: %d consecutive failures", ErrHealthCheck, consecutiveFailures)
			case <-time.After(killWaitTimeout):
				return fmt.Errorf("%w: process did not exit after kill", ErrHealthCheck)
			}
		}
	}
}

// terminate sends SIGTERM to the child's group and escalates to SIGKILL
// after GracefulTimeout. It returns once the child has exited; the exit
// error is left in exitCh.
func (m *Manager) terminate(cmd *exec.Cmd, exitCh chan error) {
	signalGroup(cmd, syscall.SIGTERM)
	select {
	case err := <-exitCh:
		exitCh <- err
		return
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}
	signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	// Negative pid addresses the process group created by Setpgid.
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		cmd.Process.Signal(sig) //nolint:errcheck // Best effort when the group is gone
	}
}

// monitor watches the child and restarts it per the backoff policy.
func (m *Manager) monitor(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		started := m.startTime
		m.mu.RUnlock()

		err := m.waitForExitOrHealthFailure(ctx, cmd)

		m.mu.Lock()
		info := ExitInfo{
			Code:    exitCode(err),
			Err:     err,
			Uptime:  time.Since(started),
			Stopped: m.stopRequested || ctx.Err() != nil,
		}
		info.Requested = m.config.RequestedRestartCode != 0 && info.Code == m.config.RequestedRestartCode
		m.lastExit = &info
		m.mu.Unlock()

		if m.config.OnExit != nil {
			m.config.OnExit(info)
		}

		if info.Stopped {
			m.logger.Info("process stopped", "name", m.config.Name)
			m.setStatus(StatusStopped)
			return
		}

		if info.Code == 0 && err == nil {
			m.logger.Info("process exited cleanly, not restarting", "name", m.config.Name)
			m.setStatus(StatusStopped)
			return
		}

		m.logger.Warn("process exited unexpectedly",
			"name", m.config.Name,
			"code", info.Code,
			"error", err,
			"uptime", info.Uptime,
			"requested_restart", info.Requested,
		)

		if !m.config.RestartOnFailure {
			m.setStatus(StatusFailed)
			return
		}

		delay, attempt, ok := m.nextRestart(info)
		if !ok {
			m.logger.Error("max restart attempts reached",
				"name", m.config.Name,
				"attempts", attempt,
			)
			m.setStatus(StatusFailed)
			return
		}

		m.logger.Info("restarting process",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", delay,
		)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt, delay)
		}

		m.setStatus(StatusBackoff)
		if !m.sleep(ctx, delay) {
			m.setStatus(StatusStopped)
			return
		}

		for {
			if err := m.startProcess(ctx); err == nil {
				break
			} else if ctx.Err() != nil {
				m.setStatus(StatusStopped)
				return
			} else {
				m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
			}

			if delay, _, ok = m.nextRestart(ExitInfo{Code: -1}); !ok {
				m.setStatus(StatusFailed)
				return
			}
			if !m.sleep(ctx, delay) {
				m.setStatus(StatusStopped)
				return
			}
		}
	}
}

// sleep waits out a backoff delay. It returns false if the manager was
// stopped meanwhile.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	m.mu.RLock()
	stopCh := m.stopCh
	m.mu.RUnlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// nextRestart records an exit and returns the delay before the next
// attempt. ok is false once MaxRestartAttempts consecutive failures
// have been used up.
func (m *Manager) nextRestart(info ExitInfo) (delay time.Duration, attempt int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.restartCount++
	switch {
	case info.Requested:
		m.failures = 0
	case info.Uptime >= m.config.StableThreshold:
		m.failures = 1
	default:
		m.failures++
	}
	attempt = m.restartCount

	if m.config.MaxRestartAttempts > 0 && m.failures > m.config.MaxRestartAttempts {
		return 0, attempt, false
	}
	return m.calculateBackoffDelay(max(m.failures, 1)), attempt, true
}

// calculateBackoffDelay returns RestartDelay * 2^(n-1), capped at
// MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(n int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return min(delay, m.config.MaxRestartDelay)
}

// exitCode extracts the child's exit status from a Wait error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop terminates the child with SIGTERM, escalating to SIGKILL after
// GracefulTimeout, and waits for the monitor to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status == StatusStopped || m.status == StatusFailed {
		m.mu.Unlock()
		return nil
	}
	if !m.stopRequested {
		m.stopRequested = true
		close(m.stopCh)
	}
	cmd := m.cmd
	done := m.done
	status := m.status
	m.mu.Unlock()

	if done == nil {
		return nil
	}

	if status == StatusRunning && cmd != nil && cmd.Process != nil {
		m.logger.Info("stopping process", "name", m.config.Name, "pid", cmd.Process.Pid)
		signalGroup(cmd, syscall.SIGTERM)

		select {
		case <-done:
			return nil
		case <-time.After(m.config.GracefulTimeout):
			m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
				"name", m.config.Name,
				"timeout", m.config.GracefulTimeout,
			)
			signalGroup(cmd, syscall.SIGKILL)
		}
	}

	<-done
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastExit returns the most recent exit, or nil if the child has not exited.
func (m *Manager) LastExit() *ExitInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastExit == nil {
		return nil
	}
	info := *m.lastExit
	return &info
}

// RestartCount returns the number of restarts so far.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the current child has been running, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a snapshot of the manager's state.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastExitCode *int          `json:"last_exit_code,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastExit != nil {
		code := m.lastExit.Code
		stats.LastExitCode = &code
		if m.lastExit.Err != nil {
			stats.LastError = m.lastExit.Err.Error()
		}
	}
	return stats
}
