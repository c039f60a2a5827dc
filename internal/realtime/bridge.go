package realtime

import (
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/events"
)

// Bridge forwards bus events into hub rooms. Handlers run on the
// emitter's goroutine; Broadcast never blocks, so neither does the
// bridge.
type Bridge struct {
	bus *events.Bus
	hub *Hub
	log zerolog.Logger
}

// NewBridge creates a bridge between the event bus and the hub
func NewBridge(bus *events.Bus, hub *Hub, log zerolog.Logger) *Bridge {
	return &Bridge{
		bus: bus,
		hub: hub,
		log: log.With().Str("component", "realtime_bridge").Logger(),
	}
}

// Start subscribes the bridge to the event types it mirrors
func (b *Bridge) Start() {
	b.bus.Subscribe(events.StockChanged, func(e events.Event) {
		b.hub.Broadcast(RoomInventory, NewFrame(FrameInventoryUpdate, e.Data))
	})
	b.bus.Subscribe(events.InventoryAction, func(e events.Event) {
		b.hub.Broadcast(RoomInventory, NewFrame(FrameInventoryAction, e.Data))
	})
	b.bus.Subscribe(events.SyncBatchApplied, func(e events.Event) {
		b.hub.Broadcast(RoomInventory, NewFrame(FrameSystemNotification, e.Data))
	})
	b.bus.Subscribe(events.HealthChanged, func(e events.Event) {
		b.hub.Broadcast(RoomInventory, NewFrame(FrameSystemNotification, e.Data))
	})
	b.log.Info().Msg("Realtime bridge started")
}
