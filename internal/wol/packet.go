// Package wol builds and transmits Wake-on-LAN magic packets.
package wol

import "github.com/nerrad567/lanwake/internal/macaddr"

const (
	headerLen   = 6
	repetitions = 16

	// PacketLen is the size of a magic packet.
	PacketLen = headerLen + repetitions*macaddr.Len

	// DefaultPort is the conventional discard port used for wake packets.
	DefaultPort = 9
)

// BuildMagicPacket returns six 0xFF bytes followed by mac repeated
// sixteen times.
func BuildMagicPacket(mac macaddr.MAC) [PacketLen]byte {
	var p [PacketLen]byte
	for i := range headerLen {
		p[i] = 0xFF
	}
	for i := range repetitions {
		copy(p[headerLen+i*macaddr.Len:], mac[:])
	}
	return p
}
