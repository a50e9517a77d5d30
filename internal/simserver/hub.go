package simserver

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/hooksbot/client/internal/model"
)

// client is one connected websocket session.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans every envelope out to every connected session. There are no
// per-task rooms: the notification channel is shared, and isolating a job
// is the subscriber's problem (that is what the client's correlation
// filter is for).
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a hub; call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			log.Printf("[sim] notification client connected (%d total)", h.count())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			log.Printf("[sim] notification client disconnected (%d total)", h.count())

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes one envelope to every connected session.
func (h *Hub) Broadcast(env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[sim] failed to marshal %s envelope: %v", env.Type, err)
		return
	}
	h.broadcast <- data
}

// HandleConnection serves one websocket session until it drops.
func (h *Hub) HandleConnection(conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- c
	defer func() { h.unregister <- c }()

	// Writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-c.send:
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}

			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: the contract is push-only, incoming frames are drained
	// for keepalive purposes and otherwise ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[sim] websocket error: %v", err)
			}
			break
		}
	}
}
