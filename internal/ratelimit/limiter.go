// Package ratelimit implements the fixed-capacity caller backoff table
// that gates the control surface.
//
// Each caller address gets a slot tracking consecutive failures. After n
// failures the caller is refused until Penalty(n) has elapsed; a success
// clears the slot. The table never grows: when it is full a slot idle
// longer than the TTL is recycled, otherwise the least recently seen
// caller is evicted. Nothing here sleeps; throttled callers are refused
// immediately.
package ratelimit

import (
	"net/netip"
	"sync"
	"time"
)

const (
	// DefaultCapacity is the slot count used when none is configured.
	DefaultCapacity = 32

	// MaxFailures caps the per-slot failure counter.
	MaxFailures = 10

	// DefaultSlotTTL is the idle time after which a slot may be recycled.
	DefaultSlotTTL = 49 * time.Hour

	basePenaltyMS = 5_000
	maxPenaltyMS  = 48 * 3600 * 1000
)

// Decision is the outcome of Authorize.
type Decision int

const (
	Allowed Decision = iota
	Throttled
)

func (d Decision) String() string {
	if d == Throttled {
		return "throttled"
	}
	return "allowed"
}

// Penalty returns the lockout in milliseconds after n consecutive
// failures: 5s, then x10 per failure, capped at 48h. Penalty(0) is 0.
func Penalty(n int) uint32 {
	if n <= 0 {
		return 0
	}
	p := uint64(basePenaltyMS)
	for i := 1; i < n && p < maxPenaltyMS; i++ {
		p *= 10
	}
	return uint32(min(p, maxPenaltyMS))
}

type slot struct {
	addr        netip.Addr
	failures    int
	nextAllowed Millis
	lastSeen    Millis
	occupied    bool
}

// Limiter is the slot table. It is safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	slots []slot
	ttl   uint32
}

// New creates a Limiter with capacity slots. Non-positive arguments
// select the defaults.
func New(capacity int, ttl time.Duration) *Limiter {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &Limiter{
		slots: make([]slot, capacity),
		ttl:   toMillis(ttl),
	}
}

// Authorize reports whether addr may attempt an operation at now. It
// takes a slot for addr on first contact and refreshes its last-seen time.
func (l *Limiter) Authorize(addr netip.Addr, now Millis) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.findOrCreate(addr, now)
	s.lastSeen = now
	if now.Before(s.nextAllowed) {
		return Throttled
	}
	return Allowed
}

// RecordFailure counts a failed attempt and pushes next-allowed out by
// Penalty(failures).
func (l *Limiter) RecordFailure(addr netip.Addr, now Millis) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.findOrCreate(addr, now)
	if s.failures < MaxFailures {
		s.failures++
	}
	s.lastSeen = now
	s.nextAllowed = now.Add(Penalty(s.failures))
}

// RecordSuccess clears the failure history for addr.
func (l *Limiter) RecordSuccess(addr netip.Addr, now Millis) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.findOrCreate(addr, now)
	s.failures = 0
	s.lastSeen = now
	s.nextAllowed = now
}

// RetryAfter returns how long addr must wait at now, or 0 if it may
// proceed or is unknown. It does not take a slot.
func (l *Limiter) RetryAfter(addr netip.Addr, now Millis) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.slots {
		s := &l.slots[i]
		if s.occupied && s.addr == addr {
			if d := s.nextAllowed.Sub(now); d > 0 {
				return time.Duration(d) * time.Millisecond
			}
			return 0
		}
	}
	return 0
}

// Failures returns the recorded failure count for addr.
func (l *Limiter) Failures(addr netip.Addr) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.slots {
		if l.slots[i].occupied && l.slots[i].addr == addr {
			return l.slots[i].failures
		}
	}
	return 0
}

// Occupied returns the number of slots in use.
func (l *Limiter) Occupied() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for i := range l.slots {
		if l.slots[i].occupied {
			n++
		}
	}
	return n
}

// Capacity returns the fixed slot count.
func (l *Limiter) Capacity() int {
	return len(l.slots)
}

// findOrCreate returns the slot for addr, claiming one if needed:
// existing slot, then a free slot, then the first slot idle past the
// TTL, then the least recently seen slot. It never fails.
func (l *Limiter) findOrCreate(addr netip.Addr, now Millis) *slot {
	free := -1
	for i := range l.slots {
		s := &l.slots[i]
		if s.occupied && s.addr == addr {
			return s
		}
		if !s.occupied && free < 0 {
			free = i
		}
	}

	victim := free
	if victim < 0 {
		var oldest uint32
		for i := range l.slots {
			age := now.Age(l.slots[i].lastSeen)
			if age > l.ttl {
				victim = i
				break
			}
			if victim < 0 || age > oldest {
				victim, oldest = i, age
			}
		}
	}

	l.slots[victim] = slot{
		addr:        addr,
		nextAllowed: now,
		lastSeen:    now,
		occupied:    true,
	}
	return &l.slots[victim]
}
