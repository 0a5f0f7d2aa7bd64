package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs single-instance deployments
// and serves as the fallback when the durable store is unreachable.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
	}
}

// Increment counts one request and returns the updated count and window start.
func (s *MemoryStore) Increment(ctx context.Context, clientID, category string, windowSize time.Duration) (int, time.Time, error) {
	now := time.Now().UTC()
	key := clientID + "\x00" + category

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= windowSize {
		w = &window{start: now}
		s.windows[key] = w
	}
	w.count++

	return w.count, w.start, nil
}

// StartJanitor sweeps expired windows every interval until ctx is canceled.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval, windowSize time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(windowSize)
			}
		}
	}()
}

// sweep drops windows that ended before now.
func (s *MemoryStore) sweep(windowSize time.Duration) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, w := range s.windows {
		if now.Sub(w.start) >= windowSize {
			delete(s.windows, key)
		}
	}
}
