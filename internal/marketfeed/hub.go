// Package marketfeed streams synthetic market data and lifecycle events to
// WebSocket subscribers.
package marketfeed

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"orca/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

// Frame is one message pushed to subscribers.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans frames out to connected WebSocket clients. Clients that fall
// behind are dropped rather than blocking the broadcast loop.
type Hub struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	broadcast  chan Frame
	clients    map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Frame
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log.With("component", "marketfeed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Frame, sendBufferSize),
		clients:    make(map[*client]struct{}),
	}
}

// Run owns the client set. It exits when ctx is cancelled, closing every
// connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug("client connected", "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Debug("client disconnected", "clients", len(h.clients))
			}
		case frame := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// Slow consumer, drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues a frame for every connected client. It never blocks; if
// the hub is saturated the frame is discarded.
func (h *Hub) Broadcast(frame Frame) {
	select {
	case h.broadcast <- frame:
	default:
	}
}

// TradeFilled broadcasts a fill event. It satisfies the engine's notifier
// interface.
func (h *Hub) TradeFilled(trade *domain.Trade, pos *domain.Position) {
	h.Broadcast(Frame{Type: "trade_filled", Data: map[string]any{
		"trade":    trade,
		"position": pos,
	}})
}

// ServeWS upgrades an HTTP request to a WebSocket subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan Frame, sendBufferSize)}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// writePump serializes queued frames onto the connection. It exits when
// the hub closes the send channel.
func (c *client) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(frame); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound messages; the feed is one-way. Its real job is
// detecting the peer going away.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
