// Package bounded provides a fixed-capacity, insertion-ordered set.
package bounded

// AddResult is the outcome of Set.Add.
type AddResult int

const (
	Added AddResult = iota
	AlreadyPresent
	CapacityExceeded
	// NotAdded accompanies an error from a caller that could not attempt
	// the add at all.
	NotAdded
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	case CapacityExceeded:
		return "capacity_exceeded"
	case NotAdded:
		return "not_added"
	default:
		return "unknown"
	}
}

// Set holds at most Cap() distinct items in first-insertion order.
// It is not safe for concurrent use.
type Set[T comparable] struct {
	items []T
	index map[T]struct{}
	cap   int
}

// New returns an empty Set with the given capacity. A capacity below 1
// is treated as 1.
func New[T comparable](capacity int) *Set[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Set[T]{
		items: make([]T, 0, capacity),
		index: make(map[T]struct{}, capacity),
		cap:   capacity,
	}
}

// Add inserts v unless it is present or the set is full.
func (s *Set[T]) Add(v T) AddResult {
	if _, ok := s.index[v]; ok {
		return AlreadyPresent
	}
	if len(s.items) >= s.cap {
		return CapacityExceeded
	}
	s.items = append(s.items, v)
	s.index[v] = struct{}{}
	return Added
}

// Contains reports whether v is in the set.
func (s *Set[T]) Contains(v T) bool {
	_, ok := s.index[v]
	return ok
}

// Items returns a copy of the contents in insertion order.
func (s *Set[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Clear empties the set. Capacity is unchanged.
func (s *Set[T]) Clear() {
	s.items = s.items[:0]
	clear(s.index)
}

// Len returns the number of items.
func (s *Set[T]) Len() int { return len(s.items) }

// Cap returns the fixed capacity.
func (s *Set[T]) Cap() int { return s.cap }

// Clone returns an independent copy with the same capacity.
func (s *Set[T]) Clone() *Set[T] {
	c := New[T](s.cap)
	for _, v := range s.items {
		c.Add(v)
	}
	return c
}
