package registry

import "errors"

var (
	// ErrPersist wraps storage failures during Add or Clear. The in-memory
	// set is unchanged when it is returned.
	ErrPersist = errors.New("registry: persisting device list failed")

	// ErrInvalidMAC is returned by Add for the zero or broadcast address.
	ErrInvalidMAC = errors.New("registry: address cannot identify a device")
)
