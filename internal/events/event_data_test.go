package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTrip(t *testing.T) {
	event := &Event{
		Timestamp: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Type:      StockChanged,
		Module:    "inventory",
		Data: &StockChangedData{
			Location:         "main-cellar",
			VintageID:        42,
			Quantity:         12,
			ReservedQuantity: 2,
			Available:        10,
		},
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, StockChanged, decoded.Type)
	assert.Equal(t, "inventory", decoded.Module)

	data, ok := decoded.Data.(*StockChangedData)
	require.True(t, ok)
	assert.Equal(t, int64(42), data.VintageID)
	assert.Equal(t, 10.0, data.Available)
}

func TestEventDataTypes(t *testing.T) {
	// Every payload type maps back to its declared event type.
	cases := []EventData{
		&InventoryActionData{Action: "consume", VintageID: 1, Quantity: 1},
		&StockChangedData{VintageID: 1},
		&VintageCreatedData{VintageID: 1, WineID: 1, Year: 2019},
		&SyncBatchAppliedData{Applied: 3},
		&PairingProducedData{Provider: "heuristic"},
		&VintageEnrichedData{Region: "bordeaux", Year: 2019},
		&HealthChangedData{Previous: "healthy", Current: "degraded"},
		&ErrorEventData{Error: "boom"},
	}
	expected := []EventType{
		InventoryAction,
		StockChanged,
		VintageCreated,
		SyncBatchApplied,
		PairingProduced,
		VintageEnriched,
		HealthChanged,
		ErrorOccurred,
	}

	for i, data := range cases {
		assert.Equal(t, expected[i], data.EventType())
	}
}

func TestUnmarshalEveryType(t *testing.T) {
	for _, data := range []EventData{
		&InventoryActionData{Action: "move", Location: "main-cellar", ToLocation: "service-bar", VintageID: 7, Quantity: 2},
		&VintageCreatedData{Region: "Margaux", VintageID: 9, WineID: 3, Year: 2015},
		&SyncBatchAppliedData{Origin: "client", Applied: 5, Duplicates: 1, Rejected: 2},
		&PairingProducedData{RecommendationID: "abc", Provider: "primary_ai", Selections: 3, CacheHit: true},
		&VintageEnrichedData{Region: "bordeaux", Year: 2019, OverallScore: 87.5, Confidence: 0.9},
		&HealthChangedData{Previous: "healthy", Current: "critical", Breaches: []string{"error_rate"}},
		&ErrorEventData{Error: "provider timeout", Context: map[string]interface{}{"provider": "primary_ai"}},
	} {
		event := &Event{Timestamp: time.Now().UTC(), Type: data.EventType(), Module: "test", Data: data}
		raw, err := json.Marshal(event)
		require.NoError(t, err)

		var decoded Event
		require.NoError(t, json.Unmarshal(raw, &decoded), string(data.EventType()))
		assert.Equal(t, data, decoded.Data, string(data.EventType()))
	}
}

func TestUnmarshalUnknownTypeFails(t *testing.T) {
	raw := []byte(`{"type":"PRICE_UPDATED","module":"test","timestamp":"2026-03-14T12:00:00Z","data":{"x":1}}`)
	var decoded Event
	err := json.Unmarshal(raw, &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestUnmarshalEmptyData(t *testing.T) {
	raw := []byte(`{"type":"STOCK_CHANGED","module":"test","timestamp":"2026-03-14T12:00:00Z"}`)
	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded.Data)
}
