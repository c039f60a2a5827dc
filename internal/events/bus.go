package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one delivered event. Handlers run on the emitter's
// goroutine and must not block; anything slow belongs behind a channel.
type Handler func(Event)

// Bus is the in-process publish/subscribe fabric connecting mutation
// producers (inventory, sync, pairing, enricher) to their listeners
// (realtime bridge, enrichment trigger, metrics).
type Bus struct {
	handlers map[EventType][]Handler
	log      zerolog.Logger
	mu       sync.RWMutex
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit publishes a typed event to every subscriber of its type.
// Delivery is synchronous and in subscription order; a panicking handler
// is logged and does not poison its siblings.
func (b *Bus) Emit(module string, data EventData) {
	if data == nil {
		return
	}

	event := Event{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	subscribers := make([]Handler, len(b.handlers[event.Type]))
	copy(subscribers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range subscribers {
		b.dispatch(event, handler)
	}
}

// EmitError is a convenience wrapper for error events
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	b.Emit(module, &ErrorEventData{Error: err.Error(), Context: context})
}

func (b *Bus) dispatch(event Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Str("module", event.Module).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	handler(event)
}
