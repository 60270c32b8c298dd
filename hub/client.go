package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one downstream WebSocket subscriber. chainFilter is nil for
// "all"; otherwise it is the explicit set of chain ids of interest.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu          sync.RWMutex
	chainFilter map[uint64]bool // nil means "all"

	logger *zap.Logger
}

// NewClient wraps an accepted WebSocket connection as a hub subscriber.
func NewClient(h *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		logger: logger,
	}
}

// matches reports whether chainID passes this client's current filter.
func (c *Client) matches(chainID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.chainFilter == nil {
		return true
	}
	return c.chainFilter[chainID]
}

func (c *Client) setFilter(chains []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(chains) == 0 {
		c.chainFilter = nil
		return
	}
	filter := make(map[uint64]bool, len(chains))
	for _, id := range chains {
		filter[id] = true
	}
	c.chainFilter = filter
}

func (c *Client) clearFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainFilter = nil
}

// ReadPump pumps subscriber messages into command handling until the
// connection closes, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("subscriber read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump pumps queued messages to the connection and pings on an
// interval, matching the standard gorilla/websocket write-pump shape.
func (c *Client) WritePump() {
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

func (c *Client) handleMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		// malformed client frame: silently ignored per the wire protocol.
		return
	}

	switch msg.Type {
	case "subscribe":
		c.setFilter(msg.Chains)
		c.sendRaw(mustMarshal(subscribedMessage{Type: "subscribed", Chains: msg.Chains}))
	case "unsubscribe":
		c.clearFilter()
		c.sendRaw(mustMarshal(subscribedMessage{Type: "subscribed", Chains: []uint64{}}))
	case "ping":
		c.sendRaw(mustMarshal(pongMessage{Type: "pong"}))
	default:
		// anything else is silently ignored.
	}
}

func (c *Client) sendRaw(payload []byte) {
	if payload == nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("subscriber send buffer full, dropping message")
	}
}
