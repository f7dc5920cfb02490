package core

import "sync"

// DefaultHistorySize is the number of load results kept when none is configured.
const DefaultHistorySize = 100

// History keeps the most recent load results in memory. Results are lost
// on restart.
type History struct {
	mu      sync.Mutex
	entries []LoadResult // oldest first
	size    int
}

// NewHistory returns a History holding at most size results.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add records r, evicting the oldest result when full.
func (h *History) Add(r LoadResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.size {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, r)
}

// Recent returns up to limit results, newest first. A limit of zero or
// less returns everything held.
func (h *History) Recent(limit int) []LoadResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]LoadResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.entries[i])
	}
	return out
}

// Find returns the result with the given load id.
func (h *History) Find(loadID string) (LoadResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].LoadID == loadID {
			return h.entries[i], true
		}
	}
	return LoadResult{}, false
}

// Len returns the number of results held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
