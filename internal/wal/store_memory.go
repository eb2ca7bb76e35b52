package wal

import (
	"context"
	"sync"

	id "consentgate/pkg/domain"
)

// InMemoryStore keeps the WAL in process memory. Suitable for single-node
// deployments that do not need audit continuity across restarts, and for
// tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
	seq    uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	event.Seq = s.seq
	if event.ID == (id.EventID{}) {
		event.ID = id.NewEventID()
	}
	s.events = append(s.events, event)
	return event, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events...), nil
}

func (s *InMemoryStore) Recent(_ context.Context, n int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return []Event{}, nil
	}
	if n > len(s.events) {
		n = len(s.events)
	}
	return append([]Event{}, s.events[len(s.events)-n:]...), nil
}
