package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"dictate/internal/record"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

// EventHistoryChanged is pushed after any history mutation.
const EventHistoryChanged = "history-changed"

var upgrader = websocket.Upgrader{
	// The API only listens on loopback by default.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is the JSON pushed to websocket clients.
type Message struct {
	Type      string         `json:"type"`
	Time      time.Time      `json:"time"`
	CaptureID uint64         `json:"captureId,omitempty"`
	Level     *float64       `json:"level,omitempty"`
	Recording *RecordingMeta `json:"recording,omitempty"`
}

// RecordingMeta describes a capture-ended payload without the bytes.
type RecordingMeta struct {
	Bytes      int   `json:"bytes"`
	DurationMs int64 `json:"durationMs"`
	Confirmed  bool  `json:"confirmed"`
	Salvaged   bool  `json:"salvaged"`
}

type inbound struct {
	Type string `json:"type"`
}

// Hub fans bus events out to websocket clients and feeds client frame
// messages into the frame loop.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex

	frames *record.FrameLoop
	logger *zap.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. frames may be nil when no capture runs in-process.
func NewHub(frames *record.FrameLoop, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		frames:     frames,
		logger:     logger,
	}
}

// Run registers and unregisters clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("remote", c.conn.RemoteAddr().String()))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("remote", c.conn.RemoteAddr().String()))
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Clients reports how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach forwards bus events to clients.
func (h *Hub) Attach(bus *record.Bus) func() {
	return bus.SubscribeAll(func(e *record.Event) {
		h.Broadcast(eventMessage(e))
	})
}

// HistoryChanged tells clients to refetch history.
func (h *Hub) HistoryChanged() {
	h.Broadcast(Message{Type: EventHistoryChanged, Time: time.Now()})
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (h *Hub) Broadcast(m Message) {
	b, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("encode message failed", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}

func eventMessage(e *record.Event) Message {
	m := Message{Type: string(e.Type), Time: e.Time, CaptureID: e.CaptureID}
	switch e.Type {
	case record.EventLoudnessSample:
		level := e.Level
		m.Level = &level
	case record.EventCaptureEnded:
		if r := e.Recording; r != nil {
			m.Recording = &RecordingMeta{
				Bytes:      len(r.Payload),
				DurationMs: r.Duration.Milliseconds(),
				Confirmed:  r.Confirmed,
				Salvaged:   r.Salvaged,
			}
		}
	}
	return m
}

// Handle upgrades the request and serves the client.
func (h *Hub) Handle(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}
	cl := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- cl:
	case <-h.done:
		return conn.Close()
	}

	go cl.writePump()
	go cl.readPump()
	return nil
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var in inbound
		if err := json.Unmarshal(message, &in); err != nil {
			c.hub.logger.Debug("bad client message", zap.Error(err))
			continue
		}
		switch in.Type {
		case "frame":
			if c.hub.frames != nil {
				c.hub.frames.Tick(time.Now())
			}
		default:
			c.hub.logger.Debug("unknown client message", zap.String("type", in.Type))
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
