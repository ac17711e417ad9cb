// internal/stream/stream.go
package stream

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected WebSocket consumer. Outbound frames go through a
// bounded send channel; a full buffer drops the frame rather than blocking
// the broadcaster.
type Client struct {
	ID   uint64
	conn *websocket.Conn

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Dropped counts frames discarded because the send buffer was full.
	Dropped uint64
}

// Send enqueues a frame for the client. Returns false if it was dropped.
func (c *Client) Send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		atomic.AddUint64(&c.Dropped, 1)
		return false
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans simulation state out to every connected client. The engine
// pushes one frame per cycle; slow consumers lose frames, never block it.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
	nextID  uint64
	buffer  int
	log     *zap.Logger
}

// NewHub creates a hub whose clients buffer up to bufferSize frames.
func NewHub(bufferSize int, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		clients: make(map[uint64]*Client),
		buffer:  bufferSize,
		log:     log,
	}
}

// Register wraps a connection and adds it to the hub.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := &Client{
		ID:     atomic.AddUint64(&h.nextID, 1),
		conn:   conn,
		sendCh: make(chan []byte, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.log.Info("stream client connected",
		zap.Uint64("client_id", c.ID),
		zap.String("remote", conn.RemoteAddr().String()))
	return c
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()

	c.Close()
	h.log.Info("stream client disconnected",
		zap.Uint64("client_id", c.ID),
		zap.Uint64("dropped_frames", atomic.LoadUint64(&c.Dropped)))
}

// Broadcast sends one frame to every connected client.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.Send(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[uint64]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// Handler upgrades HTTP requests to WebSocket connections and runs the
// read/write pumps for each client.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		c := h.Register(conn)
		go h.writePump(c)
		go h.readPump(c)
	}
}

// readPump drains inbound frames. The stream is one-way; commands arrive
// over the REST API. Reads exist only to service pongs and detect closure.
func (h *Hub) readPump(c *Client) {
	defer h.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("stream read error",
					zap.Uint64("client_id", c.ID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
