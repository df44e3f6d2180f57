package orchestrator

import (
	"sort"
	"time"

	"trading-monitor/internal/alert"
)

// ActiveStore is a bounded set of unresolved alerts. When full, the
// oldest-created alert is evicted. It is not safe for concurrent use; the
// orchestrator guards it.
type ActiveStore struct {
	capacity int
	byID     map[string]*alert.Alert
	// ordered by CreatedAt, ties in insertion order
	order []*alert.Alert
}

// NewActiveStore creates a store holding at most capacity alerts.
func NewActiveStore(capacity int) *ActiveStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &ActiveStore{capacity: capacity, byID: make(map[string]*alert.Alert)}
}

// Insert adds a and returns the alert evicted to make room, if any. The
// evicted alert may be a itself when a is older than every stored alert.
func (s *ActiveStore) Insert(a *alert.Alert) *alert.Alert {
	idx := sort.Search(len(s.order), func(i int) bool {
		return s.order[i].CreatedAt.After(a.CreatedAt)
	})
	s.order = append(s.order, nil)
	copy(s.order[idx+1:], s.order[idx:])
	s.order[idx] = a
	s.byID[a.ID] = a

	if len(s.order) <= s.capacity {
		return nil
	}
	oldest := s.order[0]
	s.order[0] = nil
	s.order = s.order[1:]
	delete(s.byID, oldest.ID)
	return oldest
}

// Get returns the stored alert with id.
func (s *ActiveStore) Get(id string) (*alert.Alert, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// Remove deletes id and reports whether it was present.
func (s *ActiveStore) Remove(id string) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, a := range s.order {
		if a.ID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// PruneBefore removes alerts created before cutoff and returns how many.
func (s *ActiveStore) PruneBefore(cutoff time.Time) int {
	n := 0
	for n < len(s.order) && s.order[n].CreatedAt.Before(cutoff) {
		delete(s.byID, s.order[n].ID)
		n++
	}
	if n > 0 {
		s.order = append([]*alert.Alert(nil), s.order[n:]...)
	}
	return n
}

// Len returns the number of stored alerts.
func (s *ActiveStore) Len() int {
	return len(s.order)
}

// Capacity returns the configured bound.
func (s *ActiveStore) Capacity() int {
	return s.capacity
}

// All returns the stored alerts oldest first. The slice is fresh but the
// alerts are shared.
func (s *ActiveStore) All() []*alert.Alert {
	out := make([]*alert.Alert, len(s.order))
	copy(out, s.order)
	return out
}

// History is the append-only alert record, pruned by retention.
type History struct {
	entries []*alert.Alert
}

// Append records a.
func (h *History) Append(a *alert.Alert) {
	h.entries = append(h.entries, a)
}

// PruneBefore drops entries whose reference time is before cutoff. The
// reference time is ResolvedAt for resolved alerts and CreatedAt otherwise.
func (h *History) PruneBefore(cutoff time.Time) int {
	kept := h.entries[:0]
	removed := 0
	for _, a := range h.entries {
		ref := a.CreatedAt
		if a.ResolvedAt != nil {
			ref = *a.ResolvedAt
		}
		if ref.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(h.entries); i++ {
		h.entries[i] = nil
	}
	h.entries = kept
	return removed
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// All returns the entries in append order.
func (h *History) All() []*alert.Alert {
	out := make([]*alert.Alert, len(h.entries))
	copy(out, h.entries)
	return out
}
