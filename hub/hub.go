// Package hub implements the downstream Subscriber Hub: it accepts
// browser-style WebSocket subscribers, tracks each one's chain filter,
// and fans out transactions and chain-status transitions without
// letting a slow subscriber stall the producer or other subscribers.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/normalize"
)

// DefaultMaxClients bounds concurrent downstream subscribers.
const DefaultMaxClients = 10000

// clientSendBuffer is the per-subscriber outbound queue depth. A
// subscriber that falls this far behind is dropped rather than allowed
// to backpressure the broadcaster.
const clientSendBuffer = 256

// Hub maintains the set of active subscribers and broadcasts to them.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan wireMessage

	done       chan struct{}
	maxClients int

	logger *zap.Logger
}

// New creates a Hub. Call Run in its own goroutine to start the event
// loop, and Stop to shut it down.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan wireMessage, 256),
		done:       make(chan struct{}),
		maxClients: DefaultMaxClients,
		logger:     logger,
	}
}

// Run drives the hub's event loop until Stop is called. It owns the
// only mutation path for the subscriber set outside of a short critical
// section, so register/unregister/broadcast never race each other.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxClients {
				h.mu.Unlock()
				h.logger.Warn("max subscribers reached, rejecting connection", zap.Int("max_clients", h.maxClients))
				close(client.send)
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("subscriber connected", zap.Int("total_subscribers", count))
			client.sendRaw(mustMarshal(connectedMessage{Type: "connected", Timestamp: time.Now().UTC()}))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("subscriber disconnected", zap.Int("total_subscribers", count))

		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

// Stop shuts the hub down and closes every subscriber connection.
func (h *Hub) Stop() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.logger.Info("hub stopped")
}

// Broadcast fans a PendingTx out to every subscriber whose chain filter
// matches. It never blocks: a full internal broadcast queue drops the
// event and logs, matching the "no buffering or retry" policy at the
// Hub boundary. A dropped broadcast still lands in the store; only the
// live fan-out is best-effort.
func (h *Hub) Broadcast(tx *normalize.PendingTx) {
	select {
	case h.broadcast <- wireMessage{kind: kindTransaction, tx: tx}:
	default:
		h.logger.Warn("broadcast channel full, dropping transaction", zap.String("hash", tx.Hash))
	}
}

// BroadcastChainStatus announces a chain-level connected/disconnected
// transition to every subscriber regardless of filter.
func (h *Hub) BroadcastChainStatus(chainID uint64, status string) {
	select {
	case h.broadcast <- wireMessage{kind: kindChainStatus, chainID: chainID, status: status}:
	default:
		h.logger.Warn("broadcast channel full, dropping chainStatus", zap.Uint64("chain_id", chainID))
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register enqueues a newly-accepted client for registration. Called
// from the HTTP accept path.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister enqueues a client for removal. Called from the client's
// own read/write pump on close or send failure.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) dispatch(msg wireMessage) {
	var payload []byte
	switch msg.kind {
	case kindTransaction:
		payload = mustMarshal(txMessage{Type: "transaction", Data: msg.tx})
	case kindChainStatus:
		payload = mustMarshal(chainStatusMessage{Type: "chainStatus", ChainID: msg.chainID, Status: msg.status})
	}
	if payload == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for client := range h.clients {
		if msg.kind == kindTransaction && !client.matches(msg.tx.ChainID) {
			continue
		}
		select {
		case client.send <- payload:
			sent++
		default:
			h.logger.Warn("subscriber send buffer full, dropping subscriber")
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.logger.Debug("broadcast dispatched", zap.String("kind", string(msg.kind)), zap.Int("recipients", sent))
}

type broadcastKind string

const (
	kindTransaction  broadcastKind = "transaction"
	kindChainStatus  broadcastKind = "chainStatus"
)

type wireMessage struct {
	kind    broadcastKind
	tx      *normalize.PendingTx
	chainID uint64
	status  string
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
