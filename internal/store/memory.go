package store

import (
	"sync"

	"microratchet/internal/domain"
	"microratchet/internal/util/memzero"
)

// Memory keeps the state in process memory.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory { return &Memory{} }

// Load returns a copy of the stored bytes, or nil when empty.
func (m *Memory) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

// Store replaces the stored bytes with a copy of state.
func (m *Memory) Store(state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	memzero.Zero(m.data)
	m.data = append([]byte(nil), state...)
	return nil
}

// Compile-time assertion that Memory implements domain.Storage.
var _ domain.Storage = (*Memory)(nil)
