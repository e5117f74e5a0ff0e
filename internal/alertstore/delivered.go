package alertstore

import "sync"

// DeliveredSet is the in-memory view of already-delivered alert
// identifiers. Safe for concurrent use.
type DeliveredSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewDeliveredSet(ids map[string]struct{}) *DeliveredSet {
	s := &DeliveredSet{ids: make(map[string]struct{}, len(ids))}
	for id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *DeliveredSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *DeliveredSet) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *DeliveredSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Snapshot returns a copy suitable for persisting without holding the lock
// across I/O.
func (s *DeliveredSet) Snapshot() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.ids))
	for id := range s.ids {
		out[id] = struct{}{}
	}
	return out
}
