package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/nerrad567/lanwake/internal/macaddr"
)

var (
	// ErrInvalidTarget is returned for the zero or broadcast MAC.
	ErrInvalidTarget = errors.New("wol: address cannot identify a device")

	// ErrShortWrite is returned when the socket accepted fewer bytes than a full packet.
	ErrShortWrite = errors.New("wol: short write")
)

// LimitedBroadcast is 255.255.255.255, used when no directed broadcast
// address is known.
var LimitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// Dialer opens the UDP socket used to send a packet. net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Sender transmits magic packets as UDP broadcasts.
type Sender struct {
	dialer Dialer
	port   int
}

// NewSender creates a Sender targeting port. A non-positive port selects DefaultPort.
func NewSender(port int) *Sender {
	if port <= 0 {
		port = DefaultPort
	}
	return &Sender{dialer: &net.Dialer{}, port: port}
}

// WithDialer replaces the socket dialer. For tests.
func (s *Sender) WithDialer(d Dialer) *Sender {
	s.dialer = d
	return s
}

// Wake sends one magic packet for mac to broadcast:port. An invalid
// broadcast address falls back to LimitedBroadcast.
func (s *Sender) Wake(ctx context.Context, mac macaddr.MAC, broadcast netip.Addr) error {
	if !mac.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidTarget, mac)
	}
	if !broadcast.IsValid() || !broadcast.Is4() {
		broadcast = LimitedBroadcast
	}

	target := net.JoinHostPort(broadcast.String(), strconv.Itoa(s.port))
	conn, err := s.dialer.DialContext(ctx, "udp4", target)
	if err != nil {
		return fmt.Errorf("wol: dialing %s: %w", target, err)
	}
	defer conn.Close()

	packet := BuildMagicPacket(mac)
	n, err := conn.Write(packet[:])
	if err != nil {
		return fmt.Errorf("wol: sending to %s: %w", target, err)
	}
	if n != PacketLen {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, PacketLen)
	}
	return nil
}

// DirectedBroadcast returns the broadcast address of prefix, e.g.
// 192.168.1.255 for 192.168.1.0/24.
func DirectedBroadcast(prefix netip.Prefix) netip.Addr {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return LimitedBroadcast
	}
	a := prefix.Masked().Addr().As4()
	bits := prefix.Bits()
	for i := range 4 {
		for b := range 8 {
			if i*8+b >= bits {
				a[i] |= 0x80 >> b
			}
		}
	}
	return netip.AddrFrom4(a)
}
