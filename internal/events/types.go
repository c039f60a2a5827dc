// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Inventory mutations
	InventoryAction EventType = "INVENTORY_ACTION"
	StockChanged    EventType = "STOCK_CHANGED"
	VintageCreated  EventType = "VINTAGE_CREATED"

	// Sync reconciliation
	SyncBatchApplied EventType = "SYNC_BATCH_APPLIED"

	// Pairing pipeline
	PairingProduced EventType = "PAIRING_PRODUCED"

	// Weather enrichment
	VintageEnriched EventType = "VINTAGE_ENRICHED"

	// System
	HealthChanged EventType = "HEALTH_CHANGED"
	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// Event represents a system event with typed data
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// Emitter is the narrow publishing interface components depend on, so
// producers never hold a reference to the concrete bus or the realtime hub.
type Emitter interface {
	Emit(module string, data EventData)
}
