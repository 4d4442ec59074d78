package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const ledRoot = "/sys/class/leds"

// Output is a binary status indicator.
type Output interface {
	Set(on bool) error
}

// NopOutput discards every update. Used when no LED is configured.
type NopOutput struct{}

// Set does nothing.
func (NopOutput) Set(bool) error { return nil }

// LEDOutput drives a Linux LED class device through its brightness file.
type LEDOutput struct {
	path string
}

// NewLEDOutput returns an Output for /sys/class/leds/<name>.
func NewLEDOutput(name string) *LEDOutput {
	return &LEDOutput{path: filepath.Join(ledRoot, name, "brightness")}
}

// Set writes 1 or 0 to the brightness file.
func (l *LEDOutput) Set(on bool) error {
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	if err := os.WriteFile(l.path, v, 0); err != nil {
		return fmt.Errorf("controller: led %s: %w", l.path, err)
	}
	return nil
}

// minBlinkInterval replaces a non-positive blink interval.
const minBlinkInterval = 100 * time.Millisecond

// runIndicator toggles out every interval() until ctx is done. Write
// errors are reported once and then ignored; the indicator is cosmetic.
func runIndicator(ctx context.Context, out Output, interval func() time.Duration, logger Logger) error {
	on := false
	reported := false
	for {
		on = !on
		if err := out.Set(on); err != nil && !reported {
			logger.Warn("status indicator write failed", "error", err)
			reported = true
		}
		d := interval()
		if d <= 0 {
			d = minBlinkInterval
		}
		if err := sleepCtx(ctx, d); err != nil {
			_ = out.Set(false) //nolint:errcheck // best effort on shutdown
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
