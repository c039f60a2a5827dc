package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	// outboundBuffer is the per-connection send queue. A client that
	// cannot drain 32 frames is dropped rather than stalling fan-out.
	outboundBuffer = 32

	// writeTimeout is the per-frame write budget
	writeTimeout = 5 * time.Second

	// maxMissedPongs closes the connection on the heartbeat after this
	// many unanswered pings.
	maxMissedPongs = 2
)

// Config tunes the hub
type Config struct {
	HeartbeatInterval time.Duration
	MaxConnections    int
}

// Hub is the WebSocket connection registry. The registry lock is held
// only to snapshot recipients; delivery happens outside it.
type Hub struct {
	cfg     Config
	log     zerolog.Logger
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

type client struct {
	id       string
	conn     *websocket.Conn
	outbound chan Frame
	done     chan struct{}
	once     sync.Once

	mu          sync.Mutex
	rooms       map[string]struct{}
	missedPongs int
}

// NewHub creates a hub
func NewHub(cfg Config, log zerolog.Logger) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	return &Hub{
		cfg:     cfg,
		log:     log.With().Str("component", "realtime_hub").Logger(),
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades GET /ws. Beyond the connection ceiling the socket is
// accepted then closed with capacity_exceeded, so the client sees a close
// code instead of an opaque handshake failure.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Debug().Err(err).Msg("WebSocket accept failed")
		return
	}

	c := &client{
		id:       uuid.New().String(),
		conn:     conn,
		outbound: make(chan Frame, outboundBuffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}

	h.mu.Lock()
	if h.closed || len(h.clients) >= h.cfg.MaxConnections {
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusCode(closeCapacityExceeded), "capacity_exceeded")
		h.log.Warn().Int("ceiling", h.cfg.MaxConnections).Msg("Connection refused at capacity")
		return
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("client_id", c.id).Int("connections", count).Msg("Client connected")

	c.enqueue(NewFrame(FrameConnectionEstablished, capabilities{
		ClientID:            c.id,
		HeartbeatIntervalMs: h.cfg.HeartbeatInterval.Milliseconds(),
		Rooms:               []string{RoomInventory},
	}))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)

	h.drop(c, websocket.StatusNormalClosure, "")
}

// readLoop parses client frames until the connection dies
func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.log.Debug().Str("client_id", c.id).Msg("Client closed connection")
			} else if ctx.Err() == nil {
				h.log.Debug().Err(err).Str("client_id", c.id).Msg("Read failed")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Debug().Err(err).Str("client_id", c.id).Msg("Malformed client frame")
			continue
		}
		h.handleClientFrame(c, frame)
	}
}

func (h *Hub) handleClientFrame(c *client, frame clientFrame) {
	switch frame.Type {
	case clientJoin:
		var p roomPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil || p.Room == "" {
			return
		}
		c.mu.Lock()
		c.rooms[p.Room] = struct{}{}
		c.mu.Unlock()
		c.enqueue(NewFrame(FrameRoomJoined, roomPayload{Room: p.Room}))

	case clientLeave:
		var p roomPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil || p.Room == "" {
			return
		}
		c.mu.Lock()
		delete(c.rooms, p.Room)
		c.mu.Unlock()

	case clientPing:
		c.enqueue(NewFrame(FramePong, nil))

	case clientPong:
		c.mu.Lock()
		c.missedPongs = 0
		c.mu.Unlock()
	}
}

// writeLoop is the single writer for a connection: outbound frames and
// the heartbeat both funnel through it, preserving FIFO order.
func (h *Hub) writeLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.outbound:
			if err := h.write(ctx, c, frame); err != nil {
				h.drop(c, websocket.StatusAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			missed := c.missedPongs
			c.missedPongs++
			c.mu.Unlock()
			if missed >= maxMissedPongs {
				h.log.Info().Str("client_id", c.id).Msg("Heartbeat timeout")
				h.drop(c, websocket.StatusCode(closeHeartbeatTimeout), "heartbeat_timeout")
				return
			}
			if err := h.write(ctx, c, NewFrame(FramePing, nil)); err != nil {
				h.drop(c, websocket.StatusAbnormalClosure, "write failed")
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, c *client, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// enqueue performs a non-blocking send; false means the buffer was full
func (c *client) enqueue(frame Frame) bool {
	select {
	case c.outbound <- frame:
		return true
	default:
		return false
	}
}

// Broadcast delivers a frame to every connection in the room. A client
// with a full outbound buffer is dropped, never waited on.
func (h *Hub) Broadcast(room string, frame Frame) {
	h.mu.RLock()
	recipients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		c.mu.Lock()
		_, in := c.rooms[room]
		c.mu.Unlock()
		if in {
			recipients = append(recipients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		if !c.enqueue(frame) {
			h.log.Warn().Str("client_id", c.id).Msg("Send buffer full, dropping connection")
			h.drop(c, websocket.StatusPolicyViolation, "slow consumer")
		}
	}
}

// drop removes a client from the registry and closes its socket once
func (h *Hub) drop(c *client, status websocket.StatusCode, reason string) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()

		close(c.done)
		_ = c.conn.Close(status, reason)
		h.log.Debug().Str("client_id", c.id).Str("reason", reason).Msg("Client dropped")
	})
}

// ConnectionCount reports the live connection count
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount reports how many connections have joined a room
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		c.mu.Lock()
		if _, ok := c.rooms[room]; ok {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

// Shutdown refuses new connections and closes every live one
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	remaining := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		remaining = append(remaining, c)
	}
	h.mu.Unlock()

	for _, c := range remaining {
		h.drop(c, websocket.StatusGoingAway, "server shutting down")
	}
	h.log.Info().Int("closed", len(remaining)).Msg("Hub shut down")
}
