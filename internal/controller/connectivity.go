package controller

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lanwake/internal/netstack"
)

// State is the controller's view of the station link.
type State int32

const (
	// Connecting is the boot state, held until the first link-up.
	Connecting State = iota
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Network is the part of netstack.Stack Connectivity needs.
type Network interface {
	InterfaceByName(name string) (netstack.Interface, error)
	InterfaceByAddr(addr netip.Addr) (netstack.Interface, error)
	Gateway(name string) (netip.Addr, error)
}

// cachedInterface is a resolved handle tagged with the transition it
// was resolved under.
type cachedInterface struct {
	gen   uint64
	iface netstack.Interface
}

// Connectivity holds the shared link state.
//
// HandleLinkEvent is the only writer of state, the transition time, the
// blink interval and the last reported address. The interface cache is
// filled lazily by readers; every transition bumps the generation, and an
// entry from an older generation is never served.
type Connectivity struct {
	network   Network
	name      string
	fastBlink time.Duration
	slowBlink time.Duration
	now       func() time.Time

	state     atomic.Int32
	changedAt atomic.Int64
	blink     atomic.Int64
	addr      atomic.Pointer[netip.Addr]
	gen       atomic.Uint64
	iface     atomic.Pointer[cachedInterface]
}

// NewConnectivity tracks the interface called name, starting in Connecting.
func NewConnectivity(network Network, name string, fastBlink, slowBlink time.Duration) *Connectivity {
	c := &Connectivity{
		network:   network,
		name:      name,
		fastBlink: fastBlink,
		slowBlink: slowBlink,
		now:       time.Now,
	}
	c.changedAt.Store(c.now().UnixNano())
	c.blink.Store(int64(fastBlink))
	return c
}

// State returns the current state.
func (c *Connectivity) State() State {
	return State(c.state.Load())
}

// Since returns when the current state was entered.
func (c *Connectivity) Since() time.Time {
	return time.Unix(0, c.changedAt.Load())
}

// BlinkInterval is fast until connected, slow while connected.
func (c *Connectivity) BlinkInterval() time.Duration {
	return time.Duration(c.blink.Load())
}

// Connected reports whether the link is up.
func (c *Connectivity) Connected() bool {
	return c.State() == Connected
}

// HandleLinkEvent applies a link event and reports the previous state and
// whether anything changed. A link-down before the first link-up keeps the
// Connecting state. A link-up while already connected (new address) counts
// as a transition so the cached interface is refreshed.
func (c *Connectivity) HandleLinkEvent(ev netstack.LinkEvent) (prev State, changed bool) {
	prev = c.State()

	var next State
	switch {
	case ev.State == netstack.LinkUp:
		next = Connected
	case prev == Connecting:
		return prev, false
	default:
		next = Disconnected
	}
	if next == prev && next != Connected {
		return prev, false
	}

	at := ev.At
	if at.IsZero() {
		at = c.now()
	}

	addr := ev.Interface.Addr
	c.addr.Store(&addr)
	c.gen.Add(1)
	c.iface.Store(nil)
	c.changedAt.Store(at.UnixNano())
	if next == Connected {
		c.blink.Store(int64(c.slowBlink))
	} else {
		c.blink.Store(int64(c.fastBlink))
	}
	c.state.Store(int32(next))
	return prev, true
}

// Interface returns the cached interface handle, resolving and caching it
// when the cache is empty or predates the last transition. The station
// interface is looked up by name first, then by the address carried on
// the last link event.
func (c *Connectivity) Interface() (netstack.Interface, error) {
	gen := c.gen.Load()
	cached := c.iface.Load()
	if cached != nil && cached.gen == gen {
		return cached.iface, nil
	}

	iface, err := c.resolve()
	if err != nil {
		return netstack.Interface{}, err
	}
	c.iface.CompareAndSwap(cached, &cachedInterface{gen: gen, iface: iface})
	return iface, nil
}

func (c *Connectivity) resolve() (netstack.Interface, error) {
	iface, err := c.network.InterfaceByName(c.name)
	if err == nil {
		return iface, nil
	}
	last := c.addr.Load()
	if last == nil || !last.IsValid() || last.IsUnspecified() {
		return netstack.Interface{}, err
	}
	byAddr, addrErr := c.network.InterfaceByAddr(*last)
	if addrErr != nil {
		return netstack.Interface{}, fmt.Errorf("%w (by address: %w)", err, addrErr)
	}
	return byAddr, nil
}

// LocalAddr returns the interface's IPv4 address, or the zero Addr.
func (c *Connectivity) LocalAddr() netip.Addr {
	iface, err := c.Interface()
	if err != nil {
		return netip.Addr{}
	}
	return iface.Addr
}

// Gateway returns the default gateway via the station interface, or the
// zero Addr when there is none.
func (c *Connectivity) Gateway() netip.Addr {
	name := c.name
	if iface, err := c.Interface(); err == nil && iface.Name != "" {
		name = iface.Name
	}
	gw, err := c.network.Gateway(name)
	if err != nil {
		return netip.Addr{}
	}
	return gw
}
