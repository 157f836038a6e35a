package eventstream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"bithumb-dip-bot-go/internal/metrics"
	"bithumb-dip-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes every trade event to connected websocket clients as JSON.
// New clients first receive the most recent events, oldest first.
type Hub struct {
	logger  *zap.Logger
	clients map[*client]bool
	recent  [][]byte
	replay  int
	mu      sync.RWMutex
}

// NewHub creates a Hub that replays up to replay recent events on connect.
func NewHub(replay int, logger *zap.Logger) *Hub {
	if replay > clientSendSize {
		replay = clientSendSize
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]bool),
		replay:  replay,
	}
}

func (h *Hub) Publish(ev models.TradeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.replay > 0 {
		h.recent = append(h.recent, data)
		if len(h.recent) > h.replay {
			h.recent = h.recent[len(h.recent)-h.replay:]
		}
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow client: drop
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}

	h.mu.Lock()
	for _, data := range h.recent {
		c.send <- data
	}
	h.clients[c] = true
	h.mu.Unlock()
	metrics.WSConnections.Inc()

	go h.writePump(c)
	h.readPump(c)
}

// readPump only drains control frames; clients do not send commands.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		if h.clients[c] {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		metrics.WSConnections.Dec()
		c.conn.Close()
	}()

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

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
