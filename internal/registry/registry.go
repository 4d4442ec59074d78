package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/lanwake/internal/bounded"
	"github.com/nerrad567/lanwake/internal/macaddr"
)

// DefaultCapacity is the number of devices remembered when no capacity is configured.
const DefaultCapacity = 32

// AddResult is the outcome of Registry.Add.
type AddResult = bounded.AddResult

// Add outcomes, re-exported so callers need not import bounded.
const (
	Added            = bounded.Added
	AlreadyPresent   = bounded.AlreadyPresent
	CapacityExceeded = bounded.CapacityExceeded
	NotAdded         = bounded.NotAdded
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the bounded, persistent device set.
type Registry struct {
	repo   Repository
	mu     sync.RWMutex // guards set; held for writing across persistence
	set    *bounded.Set[macaddr.MAC]
	cap    int
	logger Logger
}

// New creates an empty registry. Call Load to restore persisted entries.
func New(repo Repository, capacity int) *Registry {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Registry{
		repo:   repo,
		set:    bounded.New[macaddr.MAC](capacity),
		cap:    capacity,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load replaces the in-memory set with the persisted list. Entries past
// capacity or that cannot identify a device are skipped with a warning.
func (r *Registry) Load(ctx context.Context) error {
	macs, err := r.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.set.Clear()
	for _, mac := range macs {
		if !mac.Valid() {
			r.logger.Warn("skipping stored device", "mac", mac.String(), "reason", "invalid address")
			continue
		}
		if r.set.Add(mac) == bounded.CapacityExceeded {
			r.logger.Warn("stored devices exceed capacity", "capacity", r.cap, "stored", len(macs))
			break
		}
	}

	r.logger.Info("device registry loaded", "count", r.set.Len())
	return nil
}

// Contains reports whether mac is registered.
func (r *Registry) Contains(mac macaddr.MAC) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Contains(mac)
}

// Add registers mac. It returns Added only after the new list is durable.
// AlreadyPresent and CapacityExceeded perform no write. Any error comes
// with NotAdded; on a storage error the in-memory set is left unchanged.
func (r *Registry) Add(ctx context.Context, mac macaddr.MAC) (AddResult, error) {
	if !mac.Valid() {
		return NotAdded, fmt.Errorf("%w: %s", ErrInvalidMAC, mac)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.set.Clone()
	res := next.Add(mac)
	switch res {
	case bounded.AlreadyPresent:
		return res, nil
	case bounded.CapacityExceeded:
		r.logger.Warn("device registry full", "mac", mac.String(), "capacity", r.cap)
		return res, nil
	}

	if err := r.repo.Save(ctx, next.Items()); err != nil {
		r.logger.Error("persisting device failed", "mac", mac.String(), "error", err)
		return NotAdded, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	r.set = next
	r.logger.Info("device registered", "mac", mac.String(), "count", next.Len())
	return bounded.Added, nil
}

// Clear removes every device from storage and memory.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.repo.Erase(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	r.set.Clear()
	r.logger.Info("device registry cleared")
	return nil
}

// List returns the registered devices in first-insertion order.
func (r *Registry) List() []macaddr.MAC {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Items()
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Len()
}

// Cap returns the registry capacity.
func (r *Registry) Cap() int {
	return r.cap
}
