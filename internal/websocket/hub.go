// Package websocket pushes session and recheck events to open portal views.
package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// sendBuffer is how many events a slow client may lag behind before it is
// disconnected.
const sendBuffer = 16

type client struct {
	conn *websocket.Conn
	send chan interface{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans events out to every connected view.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log.With().Str("component", "ws_hub").Logger(),
	}
}

// Broadcast queues v for every client without blocking the caller.
func (h *Hub) Broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- v:
		default:
			h.log.Warn().Msg("Client too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected views.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve registers conn, sends initial first and pumps events until the
// peer disconnects or falls behind. conn is closed when Serve returns.
func (h *Hub) Serve(conn *websocket.Conn, initial interface{}) {
	c := &client{conn: conn, send: make(chan interface{}, sendBuffer)}
	c.send <- initial

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()

	h.readPump(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	<-done
}

// writePump owns all writes to conn. Closing conn on exit unblocks readPump.
func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for v := range c.send {
		if err := WriteTyped(c.conn, v); err != nil {
			h.log.Debug().Err(err).Msg("Write failed")
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	for {
		var msg RequestEnvelope
		if err := ReadJSON(c.conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		switch msg.Action {
		case ActionPing:
			h.queue(c, PongResponse{Event: EventPong})
		default:
			h.queue(c, ErrorResponse{Event: EventError, Error: "unknown action: " + string(msg.Action)})
		}
	}
}

// queue sends a direct reply unless the client is already being dropped.
func (h *Hub) queue(c *client, v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- v:
	default:
	}
}
