package process

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{
		Name:   "test-proc",
		Binary: "/usr/bin/test",
		Args:   []string{"--flag"},
	})

	if m.config.Name != "test-proc" {
		t.Errorf("Name = %q, want %q", m.config.Name, "test-proc")
	}
	if m.config.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want %v", m.config.RestartDelay, 5*time.Second)
	}
	if m.config.MaxRestartDelay != 5*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", m.config.MaxRestartDelay, 5*time.Minute)
	}
	if m.config.StableThreshold != 2*time.Minute {
		t.Errorf("StableThreshold = %v, want %v", m.config.StableThreshold, 2*time.Minute)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
	if m.config.HealthCheckInterval != 30*time.Second {
		t.Errorf("HealthCheckInterval = %v, want %v", m.config.HealthCheckInterval, 30*time.Second)
	}
	if m.config.HealthCheckFailures != 3 {
		t.Errorf("HealthCheckFailures = %d, want 3", m.config.HealthCheckFailures)
	}
}

func TestNewManager_MaxDelayBelowBase(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    10 * time.Second,
		MaxRestartDelay: time.Second,
	})
	if m.config.MaxRestartDelay != 10*time.Second {
		t.Errorf("MaxRestartDelay = %v, want raised to %v", m.config.MaxRestartDelay, 10*time.Second)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("lanwake", "/usr/local/bin/lanwake", []string{"run"})

	if cfg.Binary != "/usr/local/bin/lanwake" {
		t.Errorf("Binary = %q", cfg.Binary)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "run" {
		t.Errorf("Args = %v, want [run]", cfg.Args)
	}
	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 0 {
		t.Errorf("MaxRestartAttempts = %d, want 0 (unlimited)", cfg.MaxRestartAttempts)
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}
	if m.Uptime() != 0 {
		t.Errorf("Uptime() = %v, want 0", m.Uptime())
	}
	if m.LastExit() != nil {
		t.Errorf("LastExit() = %+v, want nil", m.LastExit())
	}

	stats := m.Stats()
	if stats.Name != "test" || stats.Status != StatusStopped || stats.LastExitCode != nil {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{Name: "test", Binary: "/bin/true"})
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/sleep",
		Args:            []string{"10"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	defer m.Stop()

	if err := m.Start(ctx); err == nil {
		t.Error("second Start() expected error, got nil")
	}
}

func TestManager_StartAndStop(t *testing.T) {
	var exits []ExitInfo
	var mu sync.Mutex
	m := NewManager(Config{
		Name:             "test-sleep",
		Binary:           "/bin/sleep",
		Args:             []string{"60"},
		RestartOnFailure: true,
		GracefulTimeout:  2 * time.Second,
		OnExit: func(info ExitInfo) {
			mu.Lock()
			exits = append(exits, info)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !m.IsRunning() || m.PID() == 0 {
		t.Fatalf("after Start: running=%v pid=%d", m.IsRunning(), m.PID())
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	select {
	case <-m.Done():
	default:
		t.Fatal("Done() not closed after Stop()")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0 after a requested stop", m.RestartCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(exits) != 1 || !exits[0].Stopped {
		t.Errorf("exits = %+v, want one stopped exit", exits)
	}
}

func TestManager_ContextCancelStopsChild(t *testing.T) {
	m := NewManager(Config{
		Name:             "test-sleep",
		Binary:           "/bin/sleep",
		Args:             []string{"60"},
		RestartOnFailure: true,
		GracefulTimeout:  2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	cancel()

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not finish after context cancel")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "bad-binary", Binary: "/nonexistent/binary"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	<-m.Done()
}

func TestManager_CleanExitEndsSupervision(t *testing.T) {
	m := NewManager(Config{
		Name:             "true",
		Binary:           "/bin/true",
		RestartOnFailure: true,
		RestartDelay:     10 * time.Millisecond,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not finish after clean exit")
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
	if last := m.LastExit(); last == nil || last.Code != 0 {
		t.Errorf("LastExit() = %+v, want code 0", last)
	}
}

func TestManager_RestartsUntilAttemptsExhausted(t *testing.T) {
	var restarts []int
	var mu sync.Mutex
	m := NewManager(Config{
		Name:               "false",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 1"},
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnRestart: func(attempt int, _ time.Duration) {
			mu.Lock()
			restarts = append(restarts, attempt)
			mu.Unlock()
		},
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not give up")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(restarts) != 2 {
		t.Errorf("restarts = %v, want 2", restarts)
	}
	if stats := m.Stats(); stats.LastExitCode == nil || *stats.LastExitCode != 1 {
		t.Errorf("Stats().LastExitCode = %v, want 1", stats.LastExitCode)
	}
}

func TestManager_RequestedRestartDoesNotCount(t *testing.T) {
	var mu sync.Mutex
	var exits []ExitInfo
	m := NewManager(Config{
		Name:                 "fatal",
		Binary:               "/bin/sh",
		Args:                 []string{"-c", "exit 3"},
		RestartOnFailure:     true,
		RestartDelay:         10 * time.Millisecond,
		MaxRestartAttempts:   1,
		RequestedRestartCode: 3,
		OnExit: func(info ExitInfo) {
			mu.Lock()
			exits = append(exits, info)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.RestartCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("RestartCount() = %d, want requested restarts past MaxRestartAttempts", m.RestartCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-m.Done()

	mu.Lock()
	defer mu.Unlock()
	if len(exits) == 0 || !exits[0].Requested || exits[0].Code != 3 {
		t.Errorf("first exit = %+v, want requested code 3", exits)
	}
}

func TestManager_HealthCheckKillsChild(t *testing.T) {
	m := NewManager(Config{
		Name:                "unhealthy",
		Binary:              "/bin/sleep",
		Args:                []string{"60"},
		HealthCheckFunc:     func(context.Context) error { return errors.New("no answer") },
		HealthCheckInterval: 10 * time.Millisecond,
		HealthCheckFailures: 2,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("unhealthy child was not killed")
	}
	last := m.LastExit()
	if last == nil || !errors.Is(last.Err, ErrHealthCheck) {
		t.Errorf("LastExit() = %+v, want ErrHealthCheck", last)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_OutputPassthrough(t *testing.T) {
	var out bytes.Buffer
	m := NewManager(Config{
		Name:   "echo",
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo hello"},
		Stdout: &out,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	<-m.Done()

	if got := out.String(); got != "hello\n" {
		t.Errorf("stdout = %q, want %q", got, "hello\n")
	}
}

func TestManager_OnStartCallback(t *testing.T) {
	started := false
	m := NewManager(Config{
		Name:            "callback-test",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		OnStart:         func() { started = true },
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	if !started {
		t.Error("OnStart callback was not called")
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := m.calculateBackoffDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNextRestart(t *testing.T) {
	m := NewManager(Config{
		Name:               "test",
		Binary:             "/bin/true",
		RestartDelay:       time.Second,
		MaxRestartDelay:    time.Minute,
		StableThreshold:    time.Minute,
		MaxRestartAttempts: 3,
	})

	steps := []struct {
		name  string
		info  ExitInfo
		delay time.Duration
		ok    bool
	}{
		{"first crash", ExitInfo{Code: 1}, time.Second, true},
		{"second crash", ExitInfo{Code: 1}, 2 * time.Second, true},
		{"stable run resets", ExitInfo{Code: 1, Uptime: 2 * time.Minute}, time.Second, true},
		{"crash after stable", ExitInfo{Code: 1}, 2 * time.Second, true},
		{"requested restart resets", ExitInfo{Code: 3, Requested: true}, time.Second, true},
		{"crash 1", ExitInfo{Code: 1}, time.Second, true},
		{"crash 2", ExitInfo{Code: 1}, 2 * time.Second, true},
		{"crash 3", ExitInfo{Code: 1}, 4 * time.Second, true},
		{"exhausted", ExitInfo{Code: 1}, 0, false},
	}

	for _, step := range steps {
		delay, _, ok := m.nextRestart(step.info)
		if delay != step.delay || ok != step.ok {
			t.Errorf("%s: nextRestart() = (%v, %v), want (%v, %v)", step.name, delay, ok, step.delay, step.ok)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d, want 0", got)
	}
	if got := exitCode(errors.New("boom")); got != -1 {
		t.Errorf("exitCode(plain) = %d, want -1", got)
	}
}
