// Package macaddr parses and formats 48-bit hardware addresses.
//
// Parsing is strict: exactly six two-digit hex octets separated by
// colons. Hex digits are accepted in either case and rendered in upper
// case. Malformed input is rejected, never zero-filled.
package macaddr

import (
	"errors"
	"fmt"
	"net"
)

// ErrMalformed is returned for any string that is not six colon-separated hex octets.
var ErrMalformed = errors.New("macaddr: malformed address")

// Len is the number of octets in a MAC.
const Len = 6

// textLen is len("AA:BB:CC:DD:EE:FF").
const textLen = Len*3 - 1

// MAC is a 6-byte hardware address. The zero value is the all-zero address.
type MAC [Len]byte

// Broadcast is FF:FF:FF:FF:FF:FF.
var Broadcast = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

const hexDigits = "0123456789ABCDEF"

// Parse reads "AA:BB:CC:DD:EE:FF" (either case).
func Parse(s string) (MAC, error) {
	var m MAC
	if len(s) != textLen {
		return MAC{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	for i := range Len {
		off := i * 3
		if i > 0 && s[off-1] != ':' {
			return MAC{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		hi, ok1 := fromHex(s[off])
		lo, ok2 := fromHex(s[off+1])
		if !ok1 || !ok2 {
			return MAC{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		m[i] = hi<<4 | lo
	}
	return m, nil
}

// MustParse is Parse that panics on error. For constants and tests.
func MustParse(s string) MAC {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromHardwareAddr converts a net.HardwareAddr of exactly six bytes.
func FromHardwareAddr(hw net.HardwareAddr) (MAC, error) {
	if len(hw) != Len {
		return MAC{}, fmt.Errorf("%w: %d-byte hardware address", ErrMalformed, len(hw))
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// String renders the address as uppercase colon-separated hex.
func (m MAC) String() string {
	var buf [textLen]byte
	for i, b := range m {
		off := i * 3
		if i > 0 {
			buf[off-1] = ':'
		}
		buf[off] = hexDigits[b>>4]
		buf[off+1] = hexDigits[b&0x0F]
	}
	return string(buf[:])
}

// IsZero reports whether every octet is 0x00.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// IsBroadcast reports whether every octet is 0xFF.
func (m MAC) IsBroadcast() bool {
	return m == Broadcast
}

// Valid reports whether m can identify a single host.
func (m MAC) Valid() bool {
	return !m.IsZero() && !m.IsBroadcast()
}

// HardwareAddr returns m as a net.HardwareAddr.
func (m MAC) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m[:])
}

// MarshalText implements encoding.TextMarshaler.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
