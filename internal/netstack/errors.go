package netstack

import "errors"

var (
	// ErrInterfaceNotFound is returned when no interface matches.
	ErrInterfaceNotFound = errors.New("netstack: interface not found")

	// ErrNoIPv4 is returned when an interface has no IPv4 address.
	ErrNoIPv4 = errors.New("netstack: interface has no IPv4 address")

	// ErrNoGateway is returned when no default route exists for the interface.
	ErrNoGateway = errors.New("netstack: no default gateway")

	// ErrNoReply is returned by a probe that saw no echo reply.
	ErrNoReply = errors.New("netstack: no echo reply")
)
