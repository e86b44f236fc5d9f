package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hostmetrics-agent/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes live envelopes to connected websocket clients. Slow clients
// are dropped rather than allowed to stall the tick.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	clients    map[*wsClient]struct{}
	done       chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, sendBuffer),
		clients:    make(map[*wsClient]struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return nil
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("live client connected", "remote", c.conn.RemoteAddr().String(), "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("live client disconnected", "clients", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("live client too slow, dropping")
				}
			}
		}
	}
}

// Broadcast never blocks; the message is dropped when the hub is saturated.
func (h *Hub) Broadcast(env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn("encode live message failed", "type", env.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Debug("live hub saturated, dropping message", "type", env.Type)
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; client messages are ignored.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
