package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"marcaje/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// Hub fans broadcast payloads out to every connected WebSocket client. A
// client whose send buffer is full is disconnected rather than slowing the
// rest down.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	count      chan chan int
	clients    map[*client]struct{}
	// done is closed when Run returns.
	done chan struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		count:      make(chan chan int),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.RealtimeClients.Set(float64(len(h.clients)))
		case c := <-h.unregister:
			h.drop(c)
		case payload := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("dropping slow websocket client")
					h.drop(c)
				}
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.RealtimeClients.Set(float64(len(h.clients)))
}

// Broadcast queues payload for every client. It never blocks; when the hub
// is saturated the payload is discarded.
func (h *Hub) Broadcast(payload []byte) bool {
	select {
	case h.broadcast <- payload:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump only exists to process pongs and notice disconnects; clients do
// not send anything meaningful.
func (c *client) readPump() {
	defer func() {
		c.leave()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
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

// leave detaches c from a running hub; once Run has returned there is
// nothing left to detach from.
func (c *client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
