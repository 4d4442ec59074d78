// lanwake keeps a register of the devices on one LAN segment and wakes
// them on request.
//
// Commands:
//
//	lanwake run        run the controller (default)
//	lanwake supervise  run the controller as a child and restart it on failure
//	lanwake version    print build information
//
// The configuration path comes from LANWAKE_CONFIG and defaults to
// configs/config.yaml. A missing file means built-in defaults plus
// LANWAKE_* environment overrides.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/lanwake/internal/controller"
	"github.com/nerrad567/lanwake/internal/infrastructure/config"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "LANWAKE_CONFIG"

	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(execute(ctx, os.Args[1:]))
}

// execute runs a command and maps its outcome to an exit code.
func execute(ctx context.Context, args []string) int {
	command := "run"
	if len(args) > 0 {
		command = args[0]
	}

	var err error
	switch command {
	case "run":
		err = run(ctx)
	case "supervise":
		err = supervise(ctx)
	case "version":
		fmt.Printf("lanwake %s (commit %s, built %s)\n", version, commit, date)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\nusage: lanwake [run|supervise|version]\n", command)
		return exitUsage
	}

	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}

// exitCode maps a run error to a process exit code. A fatal controller
// error exits with controller.ExitFatal so a supervisor restarts it.
func exitCode(err error) int {
	if _, ok := controller.AsFatal(err); ok {
		return controller.ExitFatal
	}
	return exitFailure
}

// getConfigPath returns the configuration file path from LANWAKE_CONFIG
// or the default.
func getConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the configuration file and returns it with the path
// it came from. The default path may be absent, in which case built-in
// defaults apply and the path is empty; an explicit LANWAKE_CONFIG path
// must exist.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	explicit := os.Getenv(configEnv) != ""

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("validating default config: %w", err)
	}
	return cfg, "", nil
}
