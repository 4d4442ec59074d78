package netstack

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/nerrad567/lanwake/internal/macaddr"
)

const (
	defaultARPPath = "/proc/net/arp"

	// discardPort receives the datagram that makes the kernel resolve a neighbour.
	discardPort = 9

	// atfComplete is ATF_COM from <linux/if_arp.h>.
	atfComplete = 0x02
)

// ARPResolver resolves IPv4 neighbours through the kernel. Request sends
// a one-byte datagram to the discard port, which forces the kernel to
// emit an ARP request; Lookup reads the resulting neighbour entry.
type ARPResolver struct {
	tablePath string
	port      int
}

// NewARPResolver returns a resolver using the live kernel tables.
func NewARPResolver() *ARPResolver {
	return &ARPResolver{tablePath: defaultARPPath, port: discardPort}
}

// NewARPResolverWith reads the neighbour table from path and triggers
// resolution on port.
func NewARPResolverWith(path string, port int) *ARPResolver {
	return &ARPResolver{tablePath: path, port: port}
}

// Request asks the kernel to resolve addr on iface. The datagram itself
// is expected to be dropped by the target.
func (r *ARPResolver) Request(ctx context.Context, iface Interface, addr netip.Addr) error {
	d := net.Dialer{}
	if iface.HasIPv4() {
		d.LocalAddr = &net.UDPAddr{IP: iface.Addr.AsSlice()}
	}

	target := net.JoinHostPort(addr.String(), strconv.Itoa(r.port))
	conn, err := d.DialContext(ctx, "udp4", target)
	if err != nil {
		return fmt.Errorf("netstack: resolve %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0}); err != nil {
		return fmt.Errorf("netstack: resolve %s: %w", addr, err)
	}
	return nil
}

// Lookup returns the completed neighbour entry for addr on iface.
// Incomplete entries and read errors are reported as a miss.
func (r *ARPResolver) Lookup(iface Interface, addr netip.Addr) (macaddr.MAC, bool) {
	entries, err := r.Entries()
	if err != nil {
		return macaddr.MAC{}, false
	}
	for _, e := range entries {
		if e.Addr != addr || !e.Complete {
			continue
		}
		if iface.Name != "" && e.Device != iface.Name {
			continue
		}
		return e.MAC, true
	}
	return macaddr.MAC{}, false
}

// Neighbour is one row of the kernel ARP table.
type Neighbour struct {
	Addr     netip.Addr
	MAC      macaddr.MAC
	Complete bool
	Device   string
}

// Entries parses the kernel ARP table.
func (r *ARPResolver) Entries() ([]Neighbour, error) {
	f, err := os.Open(r.tablePath)
	if err != nil {
		return nil, fmt.Errorf("netstack: reading neighbour table: %w", err)
	}
	defer f.Close()

	var out []Neighbour
	sc := bufio.NewScanner(f)
	sc.Scan() // header
	for sc.Scan() {
		// IP address  HW type  Flags  HW address  Mask  Device
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		ip, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		flags, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err != nil {
			continue
		}
		mac, err := macaddr.Parse(fields[3])
		if err != nil {
			continue
		}
		out = append(out, Neighbour{
			Addr:     ip,
			MAC:      mac,
			Complete: flags&atfComplete != 0,
			Device:   fields[5],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("netstack: reading neighbour table: %w", err)
	}
	return out, nil
}
