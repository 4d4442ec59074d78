package scanner

import (
	"context"
	"net/netip"
	"time"

	"github.com/nerrad567/lanwake/internal/bounded"
	"github.com/nerrad567/lanwake/internal/macaddr"
	"github.com/nerrad567/lanwake/internal/netstack"
)

// State is the pass state machine position.
type State int32

const (
	Idle State = iota
	ValidatingPrereqs
	Enumerating
	Probing
	Resolving
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ValidatingPrereqs:
		return "validating_prereqs"
	case Enumerating:
		return "enumerating"
	case Probing:
		return "probing"
	case Resolving:
		return "resolving"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Link is the scanner's view of connectivity.
type Link interface {
	// Connected reports whether the station link is currently up.
	Connected() bool

	// Interface returns the active interface handle, resolving it by
	// station name or local address if no handle is cached.
	Interface() (netstack.Interface, error)

	// Gateway returns the default gateway, or the zero Addr if unknown.
	Gateway() netip.Addr
}

// Prober sends one best-effort reachability probe.
type Prober interface {
	Probe(ctx context.Context, iface netstack.Interface, addr netip.Addr) error
}

// Resolver asks for and reads neighbour resolutions.
type Resolver interface {
	Request(ctx context.Context, iface netstack.Interface, addr netip.Addr) error
	Lookup(iface netstack.Interface, addr netip.Addr) (macaddr.MAC, bool)
}

// Registry receives discovered devices.
type Registry interface {
	Add(ctx context.Context, mac macaddr.MAC) (bounded.AddResult, error)
}

// Logger defines the logging interface used by the Scanner.
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

// Config controls pacing. Zero durations are allowed and mean no pause.
type Config struct {
	StepDelay   time.Duration
	ResolveWait time.Duration
	RetryDelay  time.Duration
}

// PassResult summarises one pass.
type PassResult struct {
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Interface  string        `json:"interface"`
	LocalAddr  netip.Addr    `json:"local_addr"`
	Gateway    netip.Addr    `json:"gateway"`
	Candidates int           `json:"candidates"`
	Probed     int           `json:"probed"`
	Resolved   int           `json:"resolved"`
	Added      int           `json:"added"`
	Known      int           `json:"known"`
	Rejected   int           `json:"rejected"`
	Full       int           `json:"full"`
	Failed     int           `json:"failed"`
	Aborted    bool          `json:"aborted"`
}

// Discovery is reported for every newly registered device.
type Discovery struct {
	MAC  macaddr.MAC
	Addr netip.Addr
}
