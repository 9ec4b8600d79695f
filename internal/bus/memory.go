package bus

import (
	"context"
	"sync"
)

// Memory is the single-process Bus: publishes are dispatched synchronously to
// every handler, so delivery order equals publish order.
type Memory struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Subscribe(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

func (m *Memory) Publish(_ context.Context, roomID string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil
	}
	handlers := m.handlers
	m.mu.RUnlock()

	for _, h := range handlers {
		h(roomID, payload)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.handlers = nil
	m.mu.Unlock()
	return nil
}
