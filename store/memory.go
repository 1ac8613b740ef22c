package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Store = &MemoryStore{}

// MemoryStore keeps states in a process-local map under one mutex, which
// trivially gives the same atomicity as the redis client. It is meant for
// tests and single-instance deployments; it cannot coordinate across
// processes.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AtomicApply implements Store.
func (s *MemoryStore) AtomicApply(ctx context.Context, key string, fn ApplyFunc) ([]byte, error) {
	// context errors wear ErrUnavailable here the same way transport
	// failures do on the redis client
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var prev []byte
	if entry, ok := s.entries[key]; ok {
		if entry.expiresAt.After(now) {
			prev = entry.data
		} else {
			delete(s.entries, key)
		}
	}

	next, ttl, err := fn(prev)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return prev, nil
	}

	s.entries[key] = memoryEntry{data: next, expiresAt: now.Add(ttl)}
	return next, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports how many live keys the store holds.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, entry := range s.entries {
		if entry.expiresAt.After(now) {
			n++
		}
	}
	return n
}
