package netstack

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

const (
	defaultRoutePath = "/proc/net/route"

	// rtfGateway is RTF_GATEWAY from <linux/route.h>.
	rtfGateway = 0x0002
)

// Stack resolves interfaces and routes on the local host.
type Stack struct {
	lister    Lister
	routePath string
}

// NewStack returns a Stack backed by the running kernel.
func NewStack() *Stack {
	return &Stack{lister: netLister{}, routePath: defaultRoutePath}
}

// NewStackWith returns a Stack with a custom Lister and route table path.
func NewStackWith(lister Lister, routePath string) *Stack {
	return &Stack{lister: lister, routePath: routePath}
}

// InterfaceByName returns the interface called name.
func (s *Stack) InterfaceByName(name string) (Interface, error) {
	ifaces, err := s.lister.Interfaces()
	if err != nil {
		return Interface{}, err
	}
	for _, iface := range ifaces {
		if iface.Name == name {
			return iface, nil
		}
	}
	return Interface{}, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}

// InterfaceByAddr returns the interface that owns addr.
func (s *Stack) InterfaceByAddr(addr netip.Addr) (Interface, error) {
	ifaces, err := s.lister.Interfaces()
	if err != nil {
		return Interface{}, err
	}
	for _, iface := range ifaces {
		if iface.Addr == addr {
			return iface, nil
		}
	}
	return Interface{}, fmt.Errorf("%w: owner of %s", ErrInterfaceNotFound, addr)
}

// LocalAddr returns the IPv4 address of the named interface.
func (s *Stack) LocalAddr(name string) (netip.Addr, error) {
	iface, err := s.InterfaceByName(name)
	if err != nil {
		return netip.Addr{}, err
	}
	if !iface.HasIPv4() {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNoIPv4, name)
	}
	return iface.Addr, nil
}

// Gateway returns the default gateway routed through the named interface.
// An empty name accepts any interface.
func (s *Stack) Gateway(name string) (netip.Addr, error) {
	f, err := os.Open(s.routePath)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("netstack: reading routes: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Scan() // header
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 8 {
			continue
		}
		if name != "" && fields[0] != name {
			continue
		}
		if fields[1] != "00000000" || fields[7] != "00000000" {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&rtfGateway == 0 {
			continue
		}
		gw, err := parseHexIPv4(fields[2])
		if err != nil {
			continue
		}
		return gw, nil
	}
	if err := sc.Err(); err != nil {
		return netip.Addr{}, fmt.Errorf("netstack: reading routes: %w", err)
	}
	return netip.Addr{}, ErrNoGateway
}

// parseHexIPv4 decodes the little-endian hex form used by /proc/net/route.
func parseHexIPv4(s string) (netip.Addr, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 4 {
		return netip.Addr{}, fmt.Errorf("netstack: bad route address %q", s)
	}
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], binary.LittleEndian.Uint32(b))
	return netip.AddrFrom4(a), nil
}
