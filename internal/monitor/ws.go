package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/footfall.report/internal/stats"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The status page is served from the same host but may sit behind a
	// reverse proxy on a different name.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient serialises writes; gorilla connections allow one writer at a time.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// StatsHub fans statistics snapshots out to websocket clients.
type StatsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewStatsHub creates an empty hub.
func NewStatsHub() *StatsHub {
	return &StatsHub{clients: make(map[*wsClient]struct{})}
}

func (h *StatsHub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	diagf("ws client registered (total: %d)", len(h.clients))
}

func (h *StatsHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		diagf("ws client unregistered (total: %d)", len(h.clients))
	}
}

// Clients returns the number of connected clients.
func (h *StatsHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends snap to every client. Clients whose write fails are
// dropped and closed.
func (h *StatsHub) Broadcast(snap stats.Snapshot) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg, err := json.Marshal(newStatsMessage(snap))
	if err != nil {
		opsf("marshal stats message: %v", err)
		return
	}
	for _, c := range targets {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			tracef("ws write failed, dropping client: %v", err)
			h.unregister(c)
			c.conn.Close()
		}
	}
}

// Run broadcasts snapshot() every interval until ctx is done.
func (h *StatsHub) Run(ctx context.Context, interval time.Duration, snapshot func() stats.Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(snapshot())
		}
	}
}

// CloseAll sends a close frame to every client and forgets them.
func (h *StatsHub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for c := range clients {
		_ = c.write(websocket.CloseMessage, msg)
		c.conn.Close()
	}
}

// statsMessage is the websocket payload.
type statsMessage struct {
	Type string `json:"type"`
	stats.Snapshot
	TotalCount int `json:"total_count"`
}

func newStatsMessage(snap stats.Snapshot) statsMessage {
	return statsMessage{Type: "stats", Snapshot: snap, TotalCount: snap.Total()}
}

// StatsHandler upgrades /ws/stats requests and registers them on the hub.
type StatsHandler struct {
	hub      *StatsHub
	snapshot func() stats.Snapshot
}

// NewStatsHandler creates a handler. snapshot provides the first message
// sent on connect.
func NewStatsHandler(hub *StatsHub, snapshot func() stats.Snapshot) *StatsHandler {
	return &StatsHandler{hub: hub, snapshot: snapshot}
}

// ServeHTTP handles websocket upgrade requests.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		tracef("ws upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn}

	if h.snapshot != nil {
		msg, err := json.Marshal(newStatsMessage(h.snapshot()))
		if err == nil {
			err = c.write(websocket.TextMessage, msg)
		}
		if err != nil {
			tracef("ws initial snapshot: %v", err)
			conn.Close()
			return
		}
	}

	h.hub.register(c)
	go h.readPump(c)
}

// readPump keeps the connection alive and notices disconnects. Clients are
// not expected to send anything.
func (h *StatsHandler) readPump(c *wsClient) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				tracef("ws read error: %v", err)
			}
			return
		}
	}
}
