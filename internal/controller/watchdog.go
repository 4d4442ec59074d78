package controller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Watchdog fails the controller when Feed is not called within timeout.
type Watchdog struct {
	timeout time.Duration
	now     func() time.Time
	lastFed atomic.Int64
}

// NewWatchdog returns a watchdog that counts as fed at creation.
func NewWatchdog(timeout time.Duration) *Watchdog {
	w := &Watchdog{timeout: timeout, now: time.Now}
	w.Feed()
	return w
}

// Feed records liveness. Safe from any goroutine.
func (w *Watchdog) Feed() {
	w.lastFed.Store(w.now().UnixNano())
}

// Starved returns how long past the timeout the watchdog is, or zero.
func (w *Watchdog) Starved() time.Duration {
	idle := w.now().Sub(time.Unix(0, w.lastFed.Load()))
	if idle <= w.timeout {
		return 0
	}
	return idle - w.timeout
}

// Run checks the feed time four times per timeout and returns a
// *FatalError once it is exceeded. It returns nil when ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	w.Feed()
	ticker := time.NewTicker(max(w.timeout/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if over := w.Starved(); over > 0 {
				return &FatalError{
					Reason: ReasonWatchdogStarved,
					Detail: fmt.Sprintf("not fed for %v", w.timeout+over),
				}
			}
		}
	}
}
