package controller

import (
	"errors"
	"fmt"
)

// ExitFatal is the process exit code used after a FatalError.
const ExitFatal = 3

// FatalReason identifies why the controller gave up.
type FatalReason string

const (
	ReasonWatchdogStarved   FatalReason = "watchdog_starved"
	ReasonDisconnectTimeout FatalReason = "disconnect_timeout"
	ReasonBringUpFailed     FatalReason = "bringup_failed"
)

// FatalError ends Orchestrator.Run. The only recovery is a restart.
type FatalError struct {
	Reason FatalReason
	Detail string
}

func (e *FatalError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("controller: fatal: %s", e.Reason)
	}
	return fmt.Sprintf("controller: fatal: %s: %s", e.Reason, e.Detail)
}

// AsFatal reports whether err carries a *FatalError.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
