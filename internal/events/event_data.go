package events

import (
	"encoding/json"
	"fmt"
)

// EventData is the interface that all event data types must implement.
// The set of implementations is closed: unmarshalling an unknown type is an
// error, so every consumer handles the full catalog.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// InventoryActionData describes one completed inventory mutation
type InventoryActionData struct {
	Action     string  `json:"action"` // add, remove, move, reserve, unreserve
	Location   string  `json:"location"`
	ToLocation string  `json:"to_location,omitempty"`
	CreatedBy  string  `json:"created_by,omitempty"`
	VintageID  int64   `json:"vintage_id"`
	Quantity   float64 `json:"quantity"`
}

// EventType returns the event type for InventoryActionData
func (d *InventoryActionData) EventType() EventType {
	return InventoryAction
}

// StockChangedData carries the fresh balance snapshot after a mutation
type StockChangedData struct {
	Location         string  `json:"location"`
	VintageID        int64   `json:"vintage_id"`
	Quantity         float64 `json:"quantity"`
	ReservedQuantity float64 `json:"reserved_quantity"`
	Available        float64 `json:"available"`
}

// EventType returns the event type for StockChangedData
func (d *StockChangedData) EventType() EventType {
	return StockChanged
}

// VintageCreatedData announces a vintage row created by intake, so the
// weather enrichment pipeline can pick it up best-effort.
type VintageCreatedData struct {
	Region    string `json:"region"`
	VintageID int64  `json:"vintage_id"`
	WineID    int64  `json:"wine_id"`
	Year      int    `json:"year"`
}

// EventType returns the event type for VintageCreatedData
func (d *VintageCreatedData) EventType() EventType {
	return VintageCreated
}

// SyncBatchAppliedData summarizes one reconciled batch
type SyncBatchAppliedData struct {
	Origin     string `json:"origin"`
	Applied    int    `json:"applied"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
}

// EventType returns the event type for SyncBatchAppliedData
func (d *SyncBatchAppliedData) EventType() EventType {
	return SyncBatchApplied
}

// PairingProducedData describes a completed pairing recommendation
type PairingProducedData struct {
	RecommendationID string `json:"recommendation_id"`
	Provider         string `json:"provider"`
	Selections       int    `json:"selections"`
	CacheHit         bool   `json:"cache_hit"`
}

// EventType returns the event type for PairingProducedData
func (d *PairingProducedData) EventType() EventType {
	return PairingProduced
}

// VintageEnrichedData describes a persisted weather derivation
type VintageEnrichedData struct {
	Region       string  `json:"region"`
	Year         int     `json:"year"`
	OverallScore float64 `json:"overall_score"`
	Confidence   float64 `json:"confidence"`
}

// EventType returns the event type for VintageEnrichedData
func (d *VintageEnrichedData) EventType() EventType {
	return VintageEnriched
}

// HealthChangedData reports a health classification transition
type HealthChangedData struct {
	Previous string   `json:"previous"`
	Current  string   `json:"current"`
	Breaches []string `json:"breaches,omitempty"`
}

// EventType returns the event type for HealthChangedData
func (d *HealthChangedData) EventType() EventType {
	return HealthChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// MarshalJSON customizes JSON serialization for Event
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for Event
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case InventoryAction:
		eventData = &InventoryActionData{}
	case StockChanged:
		eventData = &StockChangedData{}
	case VintageCreated:
		eventData = &VintageCreatedData{}
	case SyncBatchApplied:
		eventData = &SyncBatchAppliedData{}
	case PairingProduced:
		eventData = &PairingProducedData{}
	case VintageEnriched:
		eventData = &VintageEnrichedData{}
	case HealthChanged:
		eventData = &HealthChangedData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	default:
		return fmt.Errorf("unknown event type %q", aux.Type)
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData

	return nil
}
