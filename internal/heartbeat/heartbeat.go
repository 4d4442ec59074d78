// Package heartbeat registers the controller with a remote collector.
//
// Each attempt POSTs {"hostname","ip","worker_id"} as JSON. A 200
// response is a success; any other status or a transport error is a
// failure. The next attempt is scheduled HealthyInterval after a success
// and DegradedInterval after a failure, based only on the latest attempt.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sync/atomic"
	"time"
)

const (
	DefaultHealthyInterval  = 300 * time.Second
	DefaultDegradedInterval = 30 * time.Second
	defaultTimeout          = 10 * time.Second
)

// ErrUnexpectedStatus is returned for any non-200 response.
var ErrUnexpectedStatus = errors.New("heartbeat: unexpected status")

// Payload is the wire body of one heartbeat.
type Payload struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	WorkerID string `json:"worker_id"`
}

// Result describes the latest attempt.
type Result struct {
	At         time.Time     `json:"at"`
	OK         bool          `json:"ok"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	Next       time.Duration `json:"next"`
}

// Link is the reporter's view of connectivity.
type Link interface {
	Connected() bool
	LocalAddr() netip.Addr
}

// Logger defines the logging interface used by the Reporter.
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

// Config configures a Reporter.
type Config struct {
	URL              string
	Hostname         string
	WorkerID         string
	HealthyInterval  time.Duration
	DegradedInterval time.Duration
	Timeout          time.Duration
}

// Reporter sends heartbeats and tracks the resulting interval. Interval
// and LastResult may be read from any goroutine.
type Reporter struct {
	cfg      Config
	link     Link
	client   *http.Client
	logger   Logger
	onResult func(Result)

	interval atomic.Int64
	last     atomic.Pointer[Result]
}

// New creates a Reporter. The interval starts at the degraded value so
// the first attempt happens promptly.
func New(cfg Config, link Link) *Reporter {
	if cfg.HealthyInterval <= 0 {
		cfg.HealthyInterval = DefaultHealthyInterval
	}
	if cfg.DegradedInterval <= 0 {
		cfg.DegradedInterval = DefaultDegradedInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	r := &Reporter{
		cfg:      cfg,
		link:     link,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   noopLogger{},
		onResult: func(Result) {},
	}
	r.interval.Store(int64(cfg.DegradedInterval))
	return r
}

// SetLogger sets the logger for the reporter.
func (r *Reporter) SetLogger(logger Logger) { r.logger = logger }

// SetHTTPClient replaces the HTTP client.
func (r *Reporter) SetHTTPClient(c *http.Client) { r.client = c }

// SetOnResult sets a callback invoked after every attempt.
func (r *Reporter) SetOnResult(fn func(Result)) { r.onResult = fn }

// Interval returns the wait before the next attempt.
func (r *Reporter) Interval() time.Duration {
	return time.Duration(r.interval.Load())
}

// LastResult returns the latest attempt, if any.
func (r *Reporter) LastResult() (Result, bool) {
	p := r.last.Load()
	if p == nil {
		return Result{}, false
	}
	return *p, true
}

// Send performs one attempt and updates the interval.
func (r *Reporter) Send(ctx context.Context) error {
	start := time.Now()
	status, err := r.post(ctx)

	next := r.cfg.HealthyInterval
	res := Result{At: start, OK: err == nil, StatusCode: status, Latency: time.Since(start)}
	if err != nil {
		next = r.cfg.DegradedInterval
		res.Error = err.Error()
		r.logger.Warn("heartbeat failed", "status", status, "error", err, "retry_in", next)
	} else {
		r.logger.Debug("heartbeat sent", "latency", res.Latency)
	}
	res.Next = next

	r.interval.Store(int64(next))
	r.last.Store(&res)
	r.onResult(res)
	return err
}

func (r *Reporter) post(ctx context.Context) (int, error) {
	body, err := json.Marshal(Payload{
		Hostname: r.cfg.Hostname,
		IP:       r.link.LocalAddr().String(),
		WorkerID: r.cfg.WorkerID,
	})
	if err != nil {
		return 0, fmt.Errorf("heartbeat: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("heartbeat: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("heartbeat: posting: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // Drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Run sends heartbeats until ctx is done. While disconnected it skips
// the attempt and waits the degraded interval.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		wait := r.cfg.DegradedInterval
		if r.link.Connected() {
			_ = r.Send(ctx) //nolint:errcheck // Logged and reflected in Interval
			wait = r.Interval()
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
