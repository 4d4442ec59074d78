package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/lanwake/internal/controller"
	"github.com/nerrad567/lanwake/internal/infrastructure/config"
	"github.com/nerrad567/lanwake/internal/infrastructure/logging"
	"github.com/nerrad567/lanwake/internal/process"
)

// healthGrace is how long the child may take to bring the API up before
// failed health checks count.
const healthGrace = time.Minute

// supervise runs `lanwake run` as a child process and restarts it when it
// fails. A fatal controller exit restarts promptly; crashes back off.
func supervise(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging, version).With("component", "supervisor")

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable: %w", err)
	}

	procCfg := supervisorConfig(cfg, self)
	procCfg.OnExit = func(info process.ExitInfo) {
		switch {
		case info.Stopped:
		case info.Requested:
			log.Warn("controller requested restart", "uptime", info.Uptime)
		default:
			log.Error("controller exited", "code", info.Code, "error", info.Err, "uptime", info.Uptime)
		}
	}

	mgr := process.NewManager(procCfg)
	mgr.SetLogger(log)

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	<-mgr.Done()

	if ctx.Err() != nil {
		return nil
	}
	if last := mgr.LastExit(); last != nil && last.Code != 0 {
		return fmt.Errorf("controller gave up: %s", mgr.Stats().LastError)
	}
	return nil
}

// supervisorConfig describes the child: the same binary and environment,
// restarted forever with backoff, health-checked over the local API.
func supervisorConfig(cfg *config.Config, self string) process.Config {
	probe := newHealthProbe(cfg.API, time.Now)

	procCfg := process.DefaultConfig("lanwake", self, []string{"run"})
	procCfg.Stdout = os.Stdout
	procCfg.Stderr = os.Stderr
	procCfg.RequestedRestartCode = controller.ExitFatal
	procCfg.GracefulTimeout = 15 * time.Second
	procCfg.HealthCheckFunc = probe.Check
	procCfg.OnStart = probe.Reset
	return procCfg
}

// healthProbe checks the child's /api/v1/health. Failures within
// healthGrace of a child starting are ignored while it boots.
type healthProbe struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	started time.Time
}

func newHealthProbe(api config.APIConfig, now func() time.Time) *healthProbe {
	scheme := "http"
	client := &http.Client{}
	if api.TLS.Enabled {
		scheme = "https"
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // loopback check of our own certificate
		}
	}
	host := api.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &healthProbe{
		url:     fmt.Sprintf("%s://%s/api/v1/health", scheme, net.JoinHostPort(host, strconv.Itoa(api.Port))),
		client:  client,
		now:     now,
		started: now(),
	}
}

// Reset marks a new child as started.
func (p *healthProbe) Reset() {
	p.mu.Lock()
	p.started = p.now()
	p.mu.Unlock()
}

// Check implements process.Config.HealthCheckFunc.
func (p *healthProbe) Check(ctx context.Context) error {
	err := checkHealth(ctx, p.client, p.url)
	if err == nil {
		return nil
	}
	p.mu.Lock()
	booting := p.now().Sub(p.started) < healthGrace
	p.mu.Unlock()
	if booting {
		return nil
	}
	return err
}

func checkHealth(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // Drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}
