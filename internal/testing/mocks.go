package testing

import (
	"sync"
	"time"

	"github.com/sommos/sommos/internal/events"
)

// MockEmitter is a mock implementation of events.Emitter for testing.
// It records every emitted event for later inspection.
type MockEmitter struct {
	mu     sync.RWMutex
	events []events.Event
}

// NewMockEmitter creates a new mock event emitter
func NewMockEmitter() *MockEmitter {
	return &MockEmitter{
		events: make([]events.Event, 0),
	}
}

// Emit records the event
func (m *MockEmitter) Emit(module string, data events.EventData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events.Event{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	})
}

// Events returns a copy of all recorded events
func (m *MockEmitter) Events() []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType returns recorded events matching the given type
func (m *MockEmitter) EventsOfType(t events.EventType) []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []events.Event
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns the number of recorded events
func (m *MockEmitter) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Reset clears all recorded events
func (m *MockEmitter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = m.events[:0]
}

// Verify interface implementation
var _ events.Emitter = (*MockEmitter)(nil)
