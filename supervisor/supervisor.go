// Package supervisor owns the per-chain upstream.Session set: it turns
// configured chains into resolved WebSocket endpoints, starts one
// Session per chain, and wires each Session's Sink into the store and
// the downstream Hub.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/hub"
	"github.com/chainrelay/mempool-gateway/internal/config"
	"github.com/chainrelay/mempool-gateway/normalize"
	"github.com/chainrelay/mempool-gateway/provider"
	"github.com/chainrelay/mempool-gateway/store"
	"github.com/chainrelay/mempool-gateway/upstream"
)

// Supervisor starts and stops one upstream.Session per configured
// chain and fans their output into the store and hub.
type Supervisor struct {
	cfg     *config.Config
	storage store.Storage
	hub     *hub.Hub
	logger  *zap.Logger
	metrics *upstream.Metrics

	mu       sync.Mutex
	sessions []*upstream.Session
}

// New builds a Supervisor. It does not start any sessions until Start
// is called.
func New(cfg *config.Config, storage store.Storage, h *hub.Hub, logger *zap.Logger, metrics *upstream.Metrics) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		storage: storage,
		hub:     h,
		logger:  logger,
		metrics: metrics,
	}
}

// Start resolves every configured chain's endpoint, reconciles the
// store's chain table, and launches its Session. It returns as soon as
// every Session has been started; connection itself happens
// asynchronously on each Session's own goroutine.
func (sv *Supervisor) Start(ctx context.Context) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	for _, chain := range sv.cfg.Chains {
		wsURL, rpcURL, err := sv.resolveEndpoint(chain)
		if err != nil {
			return fmt.Errorf("resolve endpoint for chain %s: %w", chain.Name, err)
		}

		if err := sv.storage.UpsertChain(store.ChainRecord{
			ID:     chain.ID,
			Name:   chain.Name,
			WSURL:  wsURL,
			RPCURL: rpcURL,
		}); err != nil {
			return fmt.Errorf("reconcile chain table for %s: %w", chain.Name, err)
		}

		upstreamCfg := upstream.ChainConfig{
			Name:   chain.Name,
			ID:     chain.ID,
			WSURL:  wsURL,
			RPCURL: rpcURL,
		}
		dialect := upstream.DialectFor(chain.ID)

		session := upstream.New(upstreamCfg, dialect, sv.sinkFor(chain.ID), sv.logger, sv.metrics)
		session.Start(ctx)

		sv.logger.Info("started upstream session",
			zap.String("chain", chain.Name),
			zap.Uint64("chain_id", chain.ID),
			zap.String("dialect", string(dialect)),
		)

		sv.sessions = append(sv.sessions, session)
	}

	return nil
}

// ChainLiveness reports one configured chain's current session state.
type ChainLiveness struct {
	ChainID   uint64 `json:"chainId"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// Liveness returns a snapshot of every running Session's state, for the
// health endpoint.
func (sv *Supervisor) Liveness() []ChainLiveness {
	sv.mu.Lock()
	sessions := append([]*upstream.Session(nil), sv.sessions...)
	sv.mu.Unlock()

	out := make([]ChainLiveness, 0, len(sessions))
	for _, session := range sessions {
		state := session.State()
		out = append(out, ChainLiveness{
			ChainID:   session.ChainID(),
			Name:      session.ChainName(),
			State:     string(state),
			Connected: state == upstream.StateStreaming,
		})
	}
	return out
}

// Stop stops every running Session and waits for its goroutine to exit.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	sessions := sv.sessions
	sv.sessions = nil
	sv.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}
}

// resolveEndpoint returns (wsURL, rpcURL) for one chain: an explicit
// WSURL wins outright, otherwise the configured providers are tried in
// order until one supports the chain.
func (sv *Supervisor) resolveEndpoint(chain config.ChainConfig) (string, string, error) {
	if chain.WSURL != "" {
		return chain.WSURL, chain.RPCURL, nil
	}

	endpoint, err := provider.ResolveFailover(sv.cfg.Providers, chain.ID, sv.cfg.ProviderAPIKeys)
	if err != nil {
		return "", "", err
	}
	return endpoint.WSURL, endpoint.HTTPURL, nil
}

func (sv *Supervisor) sinkFor(chainID uint64) upstream.Sink {
	return upstream.Sink{
		OnTransaction: func(tx *normalize.PendingTx) {
			if err := sv.storage.Upsert(tx); err != nil {
				sv.logger.Error("failed to persist transaction",
					zap.String("hash", tx.Hash),
					zap.Uint64("chain_id", chainID),
					zap.Error(err),
				)
			}
			sv.hub.Broadcast(tx)
		},
		OnConnected: func() {
			sv.hub.BroadcastChainStatus(chainID, "connected")
		},
		OnDisconnected: func() {
			sv.hub.BroadcastChainStatus(chainID, "disconnected")
		},
	}
}
