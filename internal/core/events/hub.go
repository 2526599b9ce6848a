package events

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send heartbeats.
	maxMessageSize = 512

	sendBuffer = 64
)

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub keeps the live websocket connections of each user and delivers
// conversation events to the owner's connections only.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	deliver    chan core.ConversationEvent
	done       chan struct{}

	mu    sync.RWMutex
	users map[string]map[*client]struct{}
}

// NewHub accepts websocket upgrades from allowedOrigins; "*" allows any.
// Requests without an Origin header are always accepted.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan core.ConversationEvent, 256),
		done:       make(chan struct{}),
		users:      make(map[string]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Run owns client registration until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.users[c.userID] == nil {
				h.users[c.userID] = make(map[*client]struct{})
			}
			h.users[c.userID][c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()
		case ev := <-h.deliver:
			h.broadcast(ev)
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, clients := range h.users {
				for c := range clients {
					h.remove(c)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c *client) {
	clients, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.users, c.userID)
	}
}

func (h *Hub) broadcast(ev core.ConversationEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("encode event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[ev.UserID] {
		select {
		case c.send <- data:
		default:
			// slow consumer, drop it
			h.remove(c)
		}
	}
}

// Deliver queues ev for the owner's connections, waiting while the queue is
// full.
func (h *Hub) Deliver(ctx context.Context, ev core.ConversationEvent) {
	select {
	case h.deliver <- ev:
	case <-ctx.Done():
	case <-h.done:
	}
}

// Clients reports how many connections userID has open.
func (h *Hub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// ServeWs upgrades the request and attaches the connection to userID.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, userID: userID, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
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
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("websocket closed")
			}
			return
		}
		// any inbound frame counts as a heartbeat
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
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
				// The hub closed the channel.
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
