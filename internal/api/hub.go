package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/events"
	"github.com/xtrntr/kdex/internal/models"
)

const writeWait = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes exchange events and open-order snapshots to websocket
// clients. It is an events.Sink.
type Hub struct {
	upgrader websocket.Upgrader
	orders   func() []models.Order
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates a hub. orders supplies the open-order snapshot sent on
// connect; allowedOrigins of nil or "*" accepts any origin.
func NewHub(orders func() []models.Order, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		orders:  orders,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowedOrigins) == 0 {
			return true
		}
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
	return h
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle broadcasts one event in its wire form
func (h *Hub) Handle(_ context.Context, ev models.Event) error {
	data, err := events.Encode(ev)
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *Hub) ordersMessage() ([]byte, error) {
	return json.Marshal(struct {
		Type   string             `json:"type"`
		Orders []events.OrderView `json:"orders"`
	}{
		Type:   "OpenOrders",
		Orders: orderViews(h.orders()),
	})
}

// BroadcastOrders sends the current open orders to every client
func (h *Hub) BroadcastOrders() {
	data, err := h.ordersMessage()
	if err != nil {
		h.logger.Error("failed to marshal open orders", zap.Error(err))
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Debug("dropping websocket client", zap.Error(err))
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// ServeWS upgrades the connection, sends the open orders and keeps the
// client registered until it disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	client := &wsClient{conn: conn}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	if data, err := h.ordersMessage(); err == nil {
		if err := client.write(data); err != nil {
			h.remove(client)
			return
		}
	}

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.mu.Unlock()
		c.conn.Close()
	}
}
