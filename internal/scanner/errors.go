package scanner

import "errors"

var (
	// ErrPrereqInterface aborts a pass when no interface handle can be resolved.
	ErrPrereqInterface = errors.New("scanner: network interface unavailable")

	// ErrPrereqAddress aborts a pass when the local address is zero or not IPv4.
	ErrPrereqAddress = errors.New("scanner: no usable local address")

	// ErrBusy is returned when Run is called while a pass is in progress.
	ErrBusy = errors.New("scanner: pass already running")
)
