package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and single-process setups.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{rooms: make(map[string][]byte)}
}

func (m *Memory) GetRoomState(_ context.Context, roomID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(state))
	copy(out, state)
	return out, nil
}

func (m *Memory) PutRoomState(_ context.Context, roomID string, state []byte) error {
	saved := make([]byte, len(state))
	copy(saved, state)
	m.mu.Lock()
	m.rooms[roomID] = saved
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	return nil
}
