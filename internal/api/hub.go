package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tickrun/turn-engine/internal/game"
	"github.com/tickrun/turn-engine/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Hub fans lifecycle events out to WebSocket clients. Anonymous clients get
// only game_finished events, which are public leaderboard data. A client
// subscribed to a game also gets that game's events; the caller checks
// ownership before calling Subscribe.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan game.Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

type client struct {
	conn   *websocket.Conn
	gameID string
	send   chan []byte
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan game.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done. Must be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "total", len(h.clients), "game_id", c.gameID)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("ws encode event failed", "type", e.Type, "err", err)
				continue
			}
			for c := range h.clients {
				if e.Type != game.EventGameFinished && (c.gameID == "" || c.gameID != e.GameID) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Slow consumer.
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Publish queues an event for broadcast. It never blocks settlement: events
// are dropped when the buffer is full.
func (h *Hub) Publish(e game.Event) {
	select {
	case h.broadcast <- e:
	default:
		slog.Warn("ws broadcast buffer full, dropping event", "type", e.Type, "game_id", e.GameID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Per-game feeds are authorized by the handler.
	},
}

// HandleWS upgrades an anonymous client onto the public feed.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.Subscribe(w, r, "")
}

// Subscribe upgrades a client onto gameID's feed plus the public feed.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, gameID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, gameID: gameID, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump detects disconnects; clients are not expected to send anything.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
