package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry is one client's token bucket.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LimiterStore hands out a token bucket per key (client IP or user id).
// Buckets that have been idle for longer than the window are evicted by
// Prune.
type LimiterStore struct {
	mu      sync.RWMutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	window  time.Duration
	now     func() time.Time
}

// NewLimiterStore allows requests calls per window for every key.
// A non-positive requests count disables limiting.
func NewLimiterStore(requests int, window time.Duration) *LimiterStore {
	s := &LimiterStore{
		entries: make(map[string]*limiterEntry),
		burst:   requests,
		window:  window,
		now:     time.Now,
	}
	if requests > 0 && window > 0 {
		s.limit = rate.Every(window / time.Duration(requests))
	}
	return s
}

func (s *LimiterStore) Enabled() bool {
	return s.burst > 0 && s.limit > 0
}

// Allow consumes one token for key and reports whether the call may
// proceed, with the delay until the next token when it may not.
func (s *LimiterStore) Allow(key string) (bool, time.Duration) {
	if !s.Enabled() {
		return true, 0
	}
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	s.mu.Unlock()

	res := e.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, s.window
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Prune drops buckets idle for longer than the window and returns how many
// were removed.
func (s *LimiterStore) Prune() int {
	cutoff := s.now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *LimiterStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
