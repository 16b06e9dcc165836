package features

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const historyShards = 32

// History counts recent observations per key over a sliding event-time window.
// It is safe for concurrent use; keys are spread over independently locked shards.
type History struct {
	window  time.Duration
	maxKeep int
	shards  [historyShards]historyShard
}

type historyShard struct {
	mu   sync.Mutex
	seen map[string][]time.Time
}

// NewHistory creates a History. maxKeep bounds the observations retained per key.
func NewHistory(window time.Duration, maxKeep int) *History {
	if maxKeep <= 0 {
		maxKeep = 1024
	}
	h := &History{window: window, maxKeep: maxKeep}
	for i := range h.shards {
		h.shards[i].seen = make(map[string][]time.Time)
	}
	return h
}

func (h *History) shard(key string) *historyShard {
	return &h.shards[xxhash.Sum64String(key)%historyShards]
}

// Observe returns how many prior observations of key fall within the window ending at ts,
// then records ts.
func (h *History) Observe(key string, ts time.Time) int {
	s := h.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	lo := ts.Add(-h.window)
	times := s.seen[key]
	n := countWithin(times, lo, ts)

	// drop entries that can no longer fall in any window ending at or after ts
	kept := times[:0]
	for _, t := range times {
		if !t.Before(lo) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, ts)
	if len(kept) > h.maxKeep {
		kept = kept[len(kept)-h.maxKeep:]
	}
	s.seen[key] = kept
	return n
}

// Count is Observe without recording ts.
func (h *History) Count(key string, ts time.Time) int {
	s := h.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return countWithin(s.seen[key], ts.Add(-h.window), ts)
}

func countWithin(times []time.Time, lo, hi time.Time) int {
	n := 0
	for _, t := range times {
		if !t.Before(lo) && !t.After(hi) {
			n++
		}
	}
	return n
}

// Prune forgets keys with no observation at or after cutoff. It returns the number of keys removed.
func (h *History) Prune(cutoff time.Time) int {
	removed := 0
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.Lock()
		for k, times := range s.seen {
			latest := times[len(times)-1]
			for _, t := range times {
				if t.After(latest) {
					latest = t
				}
			}
			if latest.Before(cutoff) {
				delete(s.seen, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len reports the number of tracked keys.
func (h *History) Len() int {
	n := 0
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.Lock()
		n += len(s.seen)
		s.mu.Unlock()
	}
	return n
}
