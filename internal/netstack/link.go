package netstack

import (
	"context"
	"time"
)

// LinkState is the observed state of the station interface.
type LinkState int

const (
	LinkDown LinkState = iota
	LinkUp
)

func (s LinkState) String() string {
	if s == LinkUp {
		return "up"
	}
	return "down"
}

// LinkEvent reports a change of link state.
type LinkEvent struct {
	State     LinkState
	Interface Interface
	At        time.Time
}

// InterfaceSource looks up an interface by name. Stack satisfies it.
type InterfaceSource interface {
	InterfaceByName(name string) (Interface, error)
}

// LinkMonitor polls one interface and reports connect/disconnect edges.
// The link counts as up when the interface is up, running and has an
// IPv4 address.
type LinkMonitor struct {
	src      InterfaceSource
	name     string
	interval time.Duration
	now      func() time.Time
}

// NewLinkMonitor watches the interface called name every interval.
func NewLinkMonitor(src InterfaceSource, name string, interval time.Duration) *LinkMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &LinkMonitor{src: src, name: name, interval: interval, now: time.Now}
}

// Sample returns the current link state without emitting anything.
func (m *LinkMonitor) Sample() LinkEvent {
	iface, err := m.src.InterfaceByName(m.name)
	state := LinkDown
	if err == nil && iface.Up && iface.HasIPv4() {
		state = LinkUp
	}
	return LinkEvent{State: state, Interface: iface, At: m.now()}
}

// Run emits the initial state, then every change, until ctx is done.
// A change of address while up is reported as a fresh LinkUp.
func (m *LinkMonitor) Run(ctx context.Context, emit func(LinkEvent)) error {
	last := m.Sample()
	emit(last)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ev := m.Sample()
			if ev.State != last.State || (ev.State == LinkUp && ev.Interface.Addr != last.Interface.Addr) {
				emit(ev)
			}
			last = ev
		}
	}
}
