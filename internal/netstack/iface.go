package netstack

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/nerrad567/lanwake/internal/macaddr"
)

// Interface is a snapshot of one network interface with its first IPv4
// address.
type Interface struct {
	Name         string
	Index        int
	HardwareAddr macaddr.MAC
	Up           bool
	Addr         netip.Addr
	Prefix       netip.Prefix
}

// Valid reports whether the handle identifies an interface.
func (i Interface) Valid() bool {
	return i.Name != "" && i.Index > 0
}

// HasIPv4 reports whether the interface has a usable IPv4 address.
func (i Interface) HasIPv4() bool {
	return i.Addr.IsValid() && i.Addr.Is4() && !i.Addr.IsUnspecified()
}

// Lister enumerates interfaces. The default reads the kernel via package net.
type Lister interface {
	Interfaces() ([]Interface, error)
}

type netLister struct{}

// Interfaces implements Lister using net.Interfaces.
func (netLister) Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("netstack: listing interfaces: %w", err)
	}

	out := make([]Interface, 0, len(ifaces))
	for _, ni := range ifaces {
		iface := Interface{
			Name:  ni.Name,
			Index: ni.Index,
			Up:    ni.Flags&net.FlagUp != 0 && ni.Flags&net.FlagRunning != 0,
		}
		if mac, err := macaddr.FromHardwareAddr(ni.HardwareAddr); err == nil {
			iface.HardwareAddr = mac
		}

		addrs, err := ni.Addrs()
		if err != nil {
			return nil, fmt.Errorf("netstack: addresses of %s: %w", ni.Name, err)
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipn.IP)
			if !ok {
				continue
			}
			ip = ip.Unmap()
			if !ip.Is4() {
				continue
			}
			ones, _ := ipn.Mask.Size()
			iface.Addr = ip
			iface.Prefix = netip.PrefixFrom(ip, ones)
			break
		}
		out = append(out, iface)
	}
	return out, nil
}
