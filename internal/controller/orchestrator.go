package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/lanwake/internal/events"
	"github.com/nerrad567/lanwake/internal/infrastructure/config"
	"github.com/nerrad567/lanwake/internal/netstack"
	"github.com/nerrad567/lanwake/internal/scanner"
)

const defaultTick = time.Second

// Logger is the logging surface used by this package.
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

// Scanner runs one pass. *scanner.Scanner satisfies it.
type Scanner interface {
	Run(ctx context.Context) (scanner.PassResult, error)
	SetFeed(feed func())
}

// LinkSource emits link events until ctx is done. *netstack.LinkMonitor
// satisfies it.
type LinkSource interface {
	Run(ctx context.Context, emit func(netstack.LinkEvent)) error
}

// Task is an extra long-running function started alongside the built-in
// tasks, such as an event queue or the websocket hub.
type Task func(ctx context.Context) error

// Config holds the timing of the orchestrator's tasks.
type Config struct {
	SettleDelay       time.Duration
	ScanInterval      time.Duration
	StablePeriod      time.Duration
	WatchdogTimeout   time.Duration
	DisconnectTimeout time.Duration
	BringUpTimeout    time.Duration

	// Tick is the polling period of the scan coordinator and the guard.
	Tick time.Duration
}

// NewConfig extracts the orchestrator timings from the loaded config.
func NewConfig(cfg *config.Config) Config {
	return Config{
		SettleDelay:       cfg.Scanner.SettleDelay,
		ScanInterval:      cfg.Scanner.Interval,
		StablePeriod:      cfg.Scanner.StablePeriod,
		WatchdogTimeout:   cfg.Watchdog.Timeout,
		DisconnectTimeout: cfg.Watchdog.DisconnectTimeout,
		BringUpTimeout:    cfg.Watchdog.BringUpTimeout,
		Tick:              defaultTick,
	}
}

type namedTask struct {
	name string
	run  Task
}

// Orchestrator owns the connectivity state and runs the controller tasks.
type Orchestrator struct {
	cfg      Config
	conn     *Connectivity
	scanner  Scanner
	link     LinkSource
	output   Output
	watchdog *Watchdog
	events   *events.Fanout
	logger   Logger
	now      func() time.Time

	// scanRequests holds at most one pending request; only the scan
	// coordinator receives from it.
	scanRequests chan struct{}

	heartbeat Task
	extra     []namedTask
}

// New wires an orchestrator. The scanner's watchdog feed is set here.
func New(cfg Config, conn *Connectivity, sc Scanner, link LinkSource) *Orchestrator {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	o := &Orchestrator{
		cfg:          cfg,
		conn:         conn,
		scanner:      sc,
		link:         link,
		output:       NopOutput{},
		watchdog:     NewWatchdog(cfg.WatchdogTimeout),
		logger:       noopLogger{},
		now:          time.Now,
		scanRequests: make(chan struct{}, 1),
	}
	sc.SetFeed(o.watchdog.Feed)
	return o
}

// SetLogger sets the logger.
func (o *Orchestrator) SetLogger(logger Logger) { o.logger = logger }

// SetOutput sets the status indicator output.
func (o *Orchestrator) SetOutput(out Output) { o.output = out }

// SetEvents sets the event fanout. A nil fanout disables events.
func (o *Orchestrator) SetEvents(f *events.Fanout) { o.events = f }

// SetHeartbeat sets the heartbeat task. Without one no check-ins are sent.
func (o *Orchestrator) SetHeartbeat(run Task) { o.heartbeat = run }

// AddTask registers an extra task. Must be called before Run.
func (o *Orchestrator) AddTask(name string, run Task) {
	o.extra = append(o.extra, namedTask{name: name, run: run})
}

// Connectivity returns the shared link state.
func (o *Orchestrator) Connectivity() *Connectivity { return o.conn }

// Watchdog returns the scan-task watchdog.
func (o *Orchestrator) Watchdog() *Watchdog { return o.watchdog }

// RequestScan asks for an immediate pass. It returns false when a request
// is already pending. It never blocks.
func (o *Orchestrator) RequestScan() bool {
	select {
	case o.scanRequests <- struct{}{}:
		return true
	default:
		return false
	}
}

// ScanPending reports whether a request is waiting to be served.
func (o *Orchestrator) ScanPending() bool {
	return len(o.scanRequests) > 0
}

// Run starts every task and blocks until ctx is cancelled or a task
// fails. A *FatalError from the watchdog or the guard is returned as is.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	o.start(gctx, g, "link monitor", func(ctx context.Context) error {
		return o.link.Run(ctx, o.handleLinkEvent)
	})
	o.start(gctx, g, "indicator", func(ctx context.Context) error {
		return runIndicator(ctx, o.output, o.conn.BlinkInterval, o.logger)
	})
	o.start(gctx, g, "scan coordinator", o.runScans)
	o.start(gctx, g, "watchdog", o.watchdog.Run)
	o.start(gctx, g, "disconnect guard", o.runGuard)
	if o.heartbeat != nil {
		o.start(gctx, g, "heartbeat", o.heartbeat)
	}
	for _, t := range o.extra {
		o.start(gctx, g, t.name, t.run)
	}

	err := g.Wait()
	if err != nil {
		if fe, ok := AsFatal(err); ok {
			o.logger.Error("controller fatal", "reason", fe.Reason, "detail", fe.Detail)
		}
	}
	return err
}

func (o *Orchestrator) start(ctx context.Context, g *errgroup.Group, name string, run Task) {
	g.Go(func() error {
		o.logger.Debug("task started", "task", name)
		err := run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", name, err)
		}
		o.logger.Debug("task stopped", "task", name)
		return nil
	})
}

func (o *Orchestrator) handleLinkEvent(ev netstack.LinkEvent) {
	prev, changed := o.conn.HandleLinkEvent(ev)
	if !changed {
		return
	}
	state := o.conn.State()
	o.logger.Info("connectivity changed",
		"from", prev.String(),
		"to", state.String(),
		"interface", ev.Interface.Name,
		"addr", ev.Interface.Addr,
	)

	payload := events.Connectivity{
		State:     state.String(),
		Previous:  prev.String(),
		Interface: ev.Interface.Name,
	}
	if ev.Interface.Addr.IsValid() {
		payload.Addr = ev.Interface.Addr.String()
	}
	o.events.Publish(events.ConnectivityChanged, payload)
}

// runScans is the scan coordinator. It waits SettleDelay, then on every
// tick runs a pass when one is due or requested.
func (o *Orchestrator) runScans(ctx context.Context) error {
	if err := o.settle(ctx); err != nil {
		return nil
	}

	var lastPass time.Time
	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()

	for {
		o.watchdog.Feed()

		select {
		case <-ctx.Done():
			return nil
		case <-o.scanRequests:
			if !o.pass(ctx, "requested", &lastPass) {
				return nil
			}
		case <-ticker.C:
			if o.scanDue(lastPass) && !o.pass(ctx, "scheduled", &lastPass) {
				return nil
			}
		}
	}
}

// settle sleeps SettleDelay in Tick-sized steps so the watchdog stays fed.
func (o *Orchestrator) settle(ctx context.Context) error {
	deadline := o.now().Add(o.cfg.SettleDelay)
	for {
		o.watchdog.Feed()
		remaining := deadline.Sub(o.now())
		if remaining <= 0 {
			return nil
		}
		if err := sleepCtx(ctx, min(remaining, o.cfg.Tick)); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) scanDue(lastPass time.Time) bool {
	if !o.conn.Connected() {
		return false
	}
	now := o.now()
	if now.Sub(o.conn.Since()) < o.cfg.StablePeriod {
		return false
	}
	return lastPass.IsZero() || now.Sub(lastPass) >= o.cfg.ScanInterval
}

// pass runs one scanner pass and reports false once ctx is done.
// A request pending when the pass starts is served by it; one that
// arrives while the pass runs stays queued for the next pass.
func (o *Orchestrator) pass(ctx context.Context, reason string, lastPass *time.Time) bool {
	select {
	case <-o.scanRequests:
	default:
	}

	o.logger.Info("scan pass starting", "reason", reason)
	o.events.Publish(events.ScanStarted, map[string]string{"reason": reason})

	res, err := o.scanner.Run(ctx)
	o.watchdog.Feed()

	if ctx.Err() != nil {
		return false
	}

	switch {
	case err == nil && res.Aborted:
		o.logger.Warn("scan pass aborted: link lost", "probed", res.Probed, "added", res.Added)
	case errors.Is(err, scanner.ErrPrereqInterface), errors.Is(err, scanner.ErrPrereqAddress):
		o.logger.Warn("scan pass skipped", "error", err)
		*lastPass = o.now()
	case err != nil:
		o.logger.Error("scan pass failed", "error", err)
		*lastPass = o.now()
	default:
		o.logger.Info("scan pass complete",
			"duration", res.Duration,
			"probed", res.Probed,
			"resolved", res.Resolved,
			"added", res.Added,
			"full", res.Full,
		)
		*lastPass = o.now()
	}

	o.events.Publish(events.ScanCompleted, res)
	return true
}

// runGuard enforces the bring-up deadline and the disconnect timeout.
func (o *Orchestrator) runGuard(ctx context.Context) error {
	started := o.now()
	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.checkGuard(started); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) checkGuard(started time.Time) error {
	now := o.now()
	switch o.conn.State() {
	case Connecting:
		if o.cfg.BringUpTimeout > 0 && now.Sub(started) >= o.cfg.BringUpTimeout {
			return &FatalError{
				Reason: ReasonBringUpFailed,
				Detail: fmt.Sprintf("station interface not up after %v", o.cfg.BringUpTimeout),
			}
		}
	case Disconnected:
		if o.cfg.DisconnectTimeout > 0 && now.Sub(o.conn.Since()) >= o.cfg.DisconnectTimeout {
			return &FatalError{
				Reason: ReasonDisconnectTimeout,
				Detail: fmt.Sprintf("disconnected since %s", o.conn.Since().Format(time.RFC3339)),
			}
		}
	}
	return nil
}
