// Package realtime fans inventory and system events out to WebSocket
// clients grouped into rooms.
package realtime

import (
	"encoding/json"
	"time"
)

// Server frame types. The set is closed; clients can switch exhaustively.
const (
	FrameConnectionEstablished = "connection_established"
	FrameRoomJoined            = "room_joined"
	FramePing                  = "ping"
	FramePong                  = "pong"
	FrameInventoryUpdate       = "inventory_update"
	FrameInventoryAction       = "inventory_action"
	FrameSystemNotification    = "system_notification"
)

// Client frame types
const (
	clientJoin  = "join"
	clientLeave = "leave"
	clientPing  = "ping"
	clientPong  = "pong"
)

// RoomInventory receives inventory_update and inventory_action frames
const RoomInventory = "inventory_updates"

// Close codes beyond the RFC range
const (
	closeCapacityExceeded = 4001
	closeHeartbeatTimeout = 4002
)

// Frame is the server-to-client wire message
type Frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewFrame stamps a frame with the current time
func NewFrame(frameType string, data interface{}) Frame {
	return Frame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// clientFrame is the client-to-server wire message. Data is parsed per
// frame type; join/leave carry {room}.
type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type roomPayload struct {
	Room string `json:"room"`
}

// capabilities is the data of connection_established
type capabilities struct {
	ClientID            string   `json:"client_id"`
	HeartbeatIntervalMs int64    `json:"heartbeat_interval_ms"`
	Rooms               []string `json:"rooms"`
}
