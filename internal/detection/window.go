package detection

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// WindowStore keeps decaying per-key event windows for the stateful
// detectors.
type WindowStore interface {
	// Add records id at time at, drops entries older than window and returns
	// the live ids in arrival order.
	Add(ctx context.Context, key, id string, at time.Time, window time.Duration) ([]string, error)
	Clear(ctx context.Context, key string) error
}

type windowEntry struct {
	id string
	at time.Time
}

type expiry struct {
	key string
	at  time.Time
}

type expiryHeap []expiry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MemWindowStore is an in-process WindowStore. Every entry's expiry sits in
// a min-heap; keys are dropped once their window empties, so no timer or
// goroutine is kept per event.
type MemWindowStore struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	expiry  expiryHeap
}

type memWindow struct {
	entries []windowEntry
	length  time.Duration
}

func NewMemWindowStore() *MemWindowStore {
	return &MemWindowStore{windows: make(map[string]*memWindow)}
}

func (s *MemWindowStore) Add(ctx context.Context, key, id string, at time.Time, window time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(at)
	w, ok := s.windows[key]
	if !ok {
		w = &memWindow{}
		s.windows[key] = w
	}
	w.length = window
	w.entries = append(prune(w.entries, at, window), windowEntry{id: id, at: at})
	heap.Push(&s.expiry, expiry{key: key, at: at.Add(window)})
	return ids(w.entries), nil
}

func (s *MemWindowStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Sweep drops every key whose window has emptied by now.
func (s *MemWindowStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
}

// Len is the number of keys with live entries.
func (s *MemWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemWindowStore) sweepLocked(now time.Time) {
	for s.expiry.Len() > 0 && !s.expiry[0].at.After(now) {
		e := heap.Pop(&s.expiry).(expiry)
		w, ok := s.windows[e.key]
		if !ok {
			continue
		}
		w.entries = prune(w.entries, now, w.length)
		if len(w.entries) == 0 {
			delete(s.windows, e.key)
		}
	}
}

func prune(entries []windowEntry, now time.Time, window time.Duration) []windowEntry {
	cutoff := now.Add(-window)
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	out := make([]windowEntry, len(entries)-i)
	copy(out, entries[i:])
	return out
}

func ids(entries []windowEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}
