// Package upstream implements the per-chain Upstream Session: a state
// machine that dials one upstream JSON-RPC WebSocket provider, negotiates
// a subscription for the chain's dialect, decodes notifications into
// PendingTx values, and hands them to a Sink. It owns its own reconnect
// with backoff.
package upstream

import (
	"github.com/chainrelay/mempool-gateway/internal/constants"
	"github.com/chainrelay/mempool-gateway/normalize"
)

// State is one stage of the Session state machine.
type State string

const (
	StateIdle        State = "IDLE"
	StateConnecting  State = "CONNECTING"
	StateOpen        State = "OPEN"
	StateSubscribing State = "SUBSCRIBING"
	StateStreaming   State = "STREAMING"
	StateClosing     State = "CLOSING"
	StateClosed      State = "CLOSED"
)

// Dialect re-exports the chain-id registry's dialect enum so upstream
// callers only need to import this package.
type Dialect = constants.Dialect

const (
	DialectFullPending     = constants.DialectFullPending
	DialectFullMined       = constants.DialectFullMined
	DialectHashOnlyPending = constants.DialectHashOnlyPending
	DialectHeadersThenFetch = constants.DialectHeadersThenFetch
)

// ChainConfig is the immutable identity a Session is bound to for its
// entire lifetime.
type ChainConfig struct {
	Name   string
	ID     uint64
	WSURL  string
	RPCURL string
}

// Sink is the single-producer event destination a Session reports to.
// A Session invokes these synchronously and sequentially; no callback is
// ever called concurrently with another for the same Session.
type Sink struct {
	OnTransaction  func(*normalize.PendingTx)
	OnConnected    func()
	OnDisconnected func()
}

// HTTPURL derives the HTTP JSON-RPC endpoint from the chain's WSURL when
// RPCURL was not explicitly configured, by substituting scheme wss:// for
// https:// (and ws:// for http://) per the external interfaces contract.
func (c ChainConfig) HTTPURL() string {
	if c.RPCURL != "" {
		return c.RPCURL
	}
	switch {
	case hasPrefix(c.WSURL, "wss://"):
		return "https://" + c.WSURL[len("wss://"):]
	case hasPrefix(c.WSURL, "ws://"):
		return "http://" + c.WSURL[len("ws://"):]
	default:
		return c.WSURL
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
