package netstack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	defaultProbeTimeout = 50 * time.Millisecond

	// protocolICMP is the IANA protocol number used by icmp.ParseMessage.
	protocolICMP = 1
)

// ICMPProber sends a single ICMP echo and waits briefly for the reply.
// It prefers unprivileged datagram sockets and falls back to raw sockets.
type ICMPProber struct {
	timeout time.Duration
	id      int
	seq     atomic.Uint32
}

// NewICMPProber returns a prober that waits at most timeout for a reply.
func NewICMPProber(timeout time.Duration) *ICMPProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &ICMPProber{timeout: timeout, id: os.Getpid() & 0xffff}
}

// Probe echoes addr from iface. A nil error means a reply arrived.
func (p *ICMPProber) Probe(ctx context.Context, iface Interface, addr netip.Addr) error {
	local := "0.0.0.0"
	if iface.HasIPv4() {
		local = iface.Addr.String()
	}

	network := "udp4"
	conn, err := icmp.ListenPacket(network, local)
	if err != nil {
		network = "ip4:icmp"
		conn, err = icmp.ListenPacket(network, local)
		if err != nil {
			return fmt.Errorf("netstack: opening icmp socket: %w", err)
		}
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("lanwake")},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("netstack: encoding echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: addr.AsSlice()}
	if network == "udp4" {
		dst = &net.UDPAddr{IP: addr.AsSlice()}
	}
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return fmt.Errorf("netstack: sending echo to %s: %w", addr, err)
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("netstack: setting deadline: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return fmt.Errorf("%w from %s", ErrNoReply, addr)
			}
			return fmt.Errorf("netstack: reading echo reply: %w", err)
		}
		if !peerIs(peer, addr) {
			continue
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		// Datagram sockets rewrite the echo ID, so only raw replies are filtered by it.
		if echo, ok := reply.Body.(*icmp.Echo); ok && (network == "udp4" || echo.ID == p.id) {
			return nil
		}
	}
}

func peerIs(peer net.Addr, addr netip.Addr) bool {
	var ip net.IP
	switch a := peer.(type) {
	case *net.UDPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		return false
	}
	got, ok := netip.AddrFromSlice(ip)
	return ok && got.Unmap() == addr
}
