// Package dedup collapses at-least-once event delivery to effectively-once
// processing.
package dedup

import "sync"

// Set is a bounded set of already-processed event ids. When the set would
// exceed its capacity it is cleared outright rather than evicted entry by
// entry, trading a rare duplicate-processing window for an O(1) memory bound.
// State lives for the process lifetime only.
type Set struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
}

func NewSet(capacity int) *Set {
	if capacity < 1 {
		capacity = 1
	}
	return &Set{
		capacity: capacity,
		seen:     make(map[string]struct{}),
	}
}

// Admit reports whether id has not been seen before and records it. The
// membership check and the insert are one atomic operation; concurrent
// deliveries of the same id admit exactly one caller.
func (s *Set) Admit(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	if len(s.seen) >= s.capacity {
		s.seen = make(map[string]struct{})
	}
	s.seen[id] = struct{}{}
	return true
}

// Len returns the current number of tracked ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
