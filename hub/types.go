package hub

import (
	"time"

	"github.com/chainrelay/mempool-gateway/normalize"
)

// connectedMessage is sent immediately on subscriber accept.
type connectedMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// subscribedMessage acknowledges a subscribe/unsubscribe request.
type subscribedMessage struct {
	Type   string   `json:"type"`
	Chains []uint64 `json:"chains"`
}

// pongMessage answers a client ping.
type pongMessage struct {
	Type string `json:"type"`
}

// txMessage pushes one matching transaction to a subscriber.
type txMessage struct {
	Type string               `json:"type"`
	Data *normalize.PendingTx `json:"data"`
}

// chainStatusMessage announces a chain-level connected/disconnected
// transition.
type chainStatusMessage struct {
	Type    string `json:"type"`
	ChainID uint64 `json:"chainId"`
	Status  string `json:"status"`
}

// clientMessage is the shape of a message sent by a subscriber to the
// hub. Every message type is decoded into this one struct.
type clientMessage struct {
	Type   string   `json:"type"`
	Chains []uint64 `json:"chains,omitempty"`
}
