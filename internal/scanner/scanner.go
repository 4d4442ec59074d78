package scanner

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lanwake/internal/bounded"
	"github.com/nerrad567/lanwake/internal/macaddr"
	"github.com/nerrad567/lanwake/internal/netstack"
)

// Scanner runs discovery passes. Only one pass runs at a time.
type Scanner struct {
	cfg      Config
	link     Link
	prober   Prober
	resolver Resolver
	registry Registry

	logger  Logger
	feed    func()
	onAdded func(Discovery)
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	state   atomic.Int32
	running atomic.Bool

	mu   sync.RWMutex
	last *PassResult
}

// New creates a Scanner.
func New(cfg Config, link Link, prober Prober, resolver Resolver, registry Registry) *Scanner {
	return &Scanner{
		cfg:      cfg,
		link:     link,
		prober:   prober,
		resolver: resolver,
		registry: registry,
		logger:   noopLogger{},
		feed:     func() {},
		onAdded:  func(Discovery) {},
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) { s.logger = logger }

// SetFeed sets the watchdog feed called once per host.
func (s *Scanner) SetFeed(feed func()) { s.feed = feed }

// SetOnAdded sets the callback for newly registered devices.
func (s *Scanner) SetOnAdded(fn func(Discovery)) { s.onAdded = fn }

// State returns the current pass state.
func (s *Scanner) State() State {
	return State(s.state.Load())
}

// LastResult returns the most recent completed or aborted pass.
func (s *Scanner) LastResult() (PassResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return PassResult{}, false
	}
	return *s.last, true
}

func (s *Scanner) setState(st State) {
	s.state.Store(int32(st))
}

// Run performs one pass. A prerequisite failure returns ErrPrereq* with
// no side effects. Losing connectivity or cancelling ctx ends the pass
// early with Aborted set; only cancellation returns an error.
func (s *Scanner) Run(ctx context.Context) (PassResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrBusy
	}
	defer s.running.Store(false)
	defer s.setState(Idle)

	res := PassResult{Started: s.now()}

	s.setState(ValidatingPrereqs)
	iface, err := s.link.Interface()
	if err != nil {
		s.logger.Warn("scan skipped", "reason", "interface unavailable", "error", err)
		return res, fmt.Errorf("%w: %w", ErrPrereqInterface, err)
	}
	if !iface.Valid() {
		s.logger.Warn("scan skipped", "reason", "interface unavailable")
		return res, ErrPrereqInterface
	}
	if !iface.HasIPv4() {
		s.logger.Warn("scan skipped", "reason", "no local address", "interface", iface.Name)
		return res, ErrPrereqAddress
	}
	res.Interface = iface.Name
	res.LocalAddr = iface.Addr
	res.Gateway = s.link.Gateway()

	s.setState(Enumerating)
	hosts := Candidates(iface.Addr, res.Gateway)
	res.Candidates = len(hosts)
	s.logger.Info("scan started", "interface", iface.Name, "local", iface.Addr, "gateway", res.Gateway, "candidates", len(hosts))

	for _, host := range hosts {
		if !s.link.Connected() {
			res.Aborted = true
			s.logger.Warn("scan aborted", "reason", "link down", "at", host)
			break
		}
		if err := s.scanHost(ctx, iface, host, &res); err != nil {
			res.Aborted = true
			res.Duration = s.now().Sub(res.Started)
			s.store(res)
			return res, err
		}

		s.feed()
		if err := s.sleep(ctx, s.cfg.StepDelay); err != nil {
			res.Aborted = true
			res.Duration = s.now().Sub(res.Started)
			s.store(res)
			return res, err
		}
	}

	res.Duration = s.now().Sub(res.Started)
	s.store(res)
	s.logger.Info("scan complete",
		"probed", res.Probed, "resolved", res.Resolved, "added", res.Added,
		"known", res.Known, "rejected", res.Rejected, "full", res.Full,
		"aborted", res.Aborted, "duration", res.Duration)
	return res, nil
}

func (s *Scanner) store(res PassResult) {
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
}

func (s *Scanner) scanHost(ctx context.Context, iface netstack.Interface, host netip.Addr, res *PassResult) error {
	s.setState(Probing)
	if err := s.prober.Probe(ctx, iface, host); err != nil {
		s.logger.Debug("probe unanswered", "host", host, "error", err)
	}
	res.Probed++

	s.setState(Resolving)
	mac, ok, err := s.resolve(ctx, iface, host)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	res.Resolved++

	if !mac.Valid() {
		res.Rejected++
		s.logger.Debug("rejected resolved address", "host", host, "mac", mac)
		return nil
	}

	s.setState(Recording)
	result, err := s.registry.Add(ctx, mac)
	switch {
	case err != nil:
		res.Failed++
		s.logger.Error("recording device failed", "host", host, "mac", mac, "error", err)
	case result == bounded.Added:
		res.Added++
		s.onAdded(Discovery{MAC: mac, Addr: host})
	case result == bounded.AlreadyPresent:
		res.Known++
	case result == bounded.CapacityExceeded:
		res.Full++
	}
	return nil
}

// resolve makes two attempts: request, wait, lookup; on a miss wait
// RetryDelay and try once more.
func (s *Scanner) resolve(ctx context.Context, iface netstack.Interface, host netip.Addr) (macaddr.MAC, bool, error) {
	for attempt := range 2 {
		if attempt > 0 {
			if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
				return macaddr.MAC{}, false, err
			}
		}
		if err := s.resolver.Request(ctx, iface, host); err != nil {
			s.logger.Debug("resolution request failed", "host", host, "attempt", attempt+1, "error", err)
		}
		if err := s.sleep(ctx, s.cfg.ResolveWait); err != nil {
			return macaddr.MAC{}, false, err
		}
		if mac, ok := s.resolver.Lookup(iface, host); ok {
			return mac, true, nil
		}
	}
	return macaddr.MAC{}, false, nil
}

// Candidates returns .1 through .254 of local's /24 in increasing order,
// excluding local and gateway.
func Candidates(local, gateway netip.Addr) []netip.Addr {
	base := local.As4()
	out := make([]netip.Addr, 0, 254)
	for i := 1; i <= 254; i++ {
		base[3] = byte(i)
		a := netip.AddrFrom4(base)
		if a == local || a == gateway {
			continue
		}
		out = append(out, a)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
