package conversation

import (
	"context"
	"sync"
)

// Store persists the committed messages of a conversation slot.
// Save replaces the whole slot; a slot that was never saved loads as empty.
type Store interface {
	Load(ctx context.Context, id string) ([]Message, error)
	Save(ctx context.Context, id string, msgs []Message) error
}

// MemoryStore is an in-process Store, used by tests and by `velune chat --ephemeral`.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string][]Message
	saves int
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: map[string][]Message{}}
}

func (s *MemoryStore) Load(ctx context.Context, id string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.slots[id]...), nil
}

func (s *MemoryStore) Save(ctx context.Context, id string, msgs []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[id] = append([]Message(nil), msgs...)
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
