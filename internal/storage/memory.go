package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	days   map[string]int
	closed bool
}

// OpenMemory returns a process-local store.
func OpenMemory() Store {
	return &memoryStore{days: map[string]int{}}
}

func (s *memoryStore) Get(ctx context.Context, identity string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, storeErr("get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, storeErr("get", ErrClosed)
	}
	day, ok := s.days[identity]
	return day, ok, nil
}

func (s *memoryStore) Upsert(ctx context.Context, identity string, day int) error {
	if err := validate(identity, day); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storeErr("upsert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storeErr("upsert", ErrClosed)
	}
	s.days[identity] = day
	return nil
}

func (s *memoryStore) ListAll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storeErr("list", ErrClosed)
	}
	out := make([]string, 0, len(s.days))
	for id := range s.days {
		out = append(out, id)
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
