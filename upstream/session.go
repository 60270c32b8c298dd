package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/internal/backoff"
	"github.com/chainrelay/mempool-gateway/internal/constants"
	"github.com/chainrelay/mempool-gateway/normalize"
)

const (
	dialTimeout    = 10 * time.Second
	livenessPeriod = 30 * time.Second
	readWait       = 90 * time.Second // generous: liveness relies on socket close, not a pong deadline
)

// Session owns exactly one upstream WebSocket connection for one chain,
// negotiates its dialect's subscription, and reports decoded
// transactions and connection transitions to a Sink. Start returns
// immediately; the state machine runs on its own goroutine until Stop.
type Session struct {
	config  ChainConfig
	dialect Dialect
	sink    Sink
	logger  *zap.Logger
	policy  backoff.Policy

	mu    sync.RWMutex
	state State
	conn  *websocket.Conn

	fetcher *httpFetcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *Metrics
}

// New builds a Session for one chain. dialect is normally resolved via
// constants.DialectFor(cfg.ID) by the caller; it is accepted explicitly
// here so tests can force a dialect independent of the registry.
func New(cfg ChainConfig, dialect Dialect, sink Sink, logger *zap.Logger, metrics *Metrics) *Session {
	return &Session{
		config:  cfg,
		dialect: dialect,
		sink:    sink,
		logger:  logger.With(zap.String("chain", cfg.Name), zap.Uint64("chain_id", cfg.ID)),
		policy:  backoff.NewFixed(),
		state:   StateIdle,
		fetcher: newHTTPFetcher(cfg.HTTPURL()),
		metrics: metrics,
	}
}

// WithBackoff overrides the reconnect policy (default: fixed 5s).
func (s *Session) WithBackoff(p backoff.Policy) *Session {
	s.policy = p
	return s
}

// State returns the session's current state machine stage.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ChainID returns the numeric chain id this Session was built for.
func (s *Session) ChainID() uint64 { return s.config.ID }

// ChainName returns the human-readable chain name this Session was built for.
func (s *Session) ChainName() string { return s.config.Name }

// Start begins the connect/subscribe/stream/reconnect loop in a
// background goroutine.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop cancels the session's context, closes any open socket at best
// effort, and waits for the run loop to exit.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.fetcher.close()
}

func (s *Session) run() {
	defer s.wg.Done()

	attempt := 0
	for {
		if s.ctx.Err() != nil {
			s.setState(StateClosed)
			return
		}

		s.setState(StateConnecting)
		conn, err := s.dial()
		if err != nil {
			s.logger.Warn("upstream connect failed", zap.Error(err))
			if s.metrics != nil {
				s.metrics.ReconnectsTotal.WithLabelValues(s.chainLabel()).Inc()
			}
			s.notifyDisconnected()
			attempt++
			if !s.sleepBackoff(attempt) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StateOpen)

		streamErr := s.streamOnce(conn)
		streamed := s.State() == StateStreaming
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()

		s.notifyDisconnected()

		if s.ctx.Err() != nil {
			s.setState(StateClosed)
			return
		}

		if streamErr != nil {
			s.logger.Warn("upstream session ended, reconnecting", zap.Error(streamErr))
		}
		// a successful STREAMING period resets backoff pressure
		if streamed {
			attempt = 0
		}
		attempt++
		if !s.sleepBackoff(attempt) {
			return
		}
	}
}

func (s *Session) dial() (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = dialTimeout

	ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(ctx, s.config.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.config.WSURL, err)
	}
	return conn, nil
}

// streamOnce owns a single connection's lifetime: subscribe, then read
// notifications until the socket closes or the session is stopped. A
// nil return means the session's context was canceled; a closed socket
// or any read failure returns an error.
func (s *Session) streamOnce(conn *websocket.Conn) error {
	s.setState(StateSubscribing)

	req := newSubscribeRequest(s.dialect)
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}

	stopPing := s.startLivenessPing(conn)
	defer stopPing()

	subscribed := false
	for {
		if s.ctx.Err() != nil {
			return nil
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if !subscribed {
			ok, err := s.handleSubscribeAck(message)
			if err != nil {
				return fmt.Errorf("subscribe rejected: %w", err)
			}
			if !ok {
				// not the ack yet (shouldn't normally happen before ack);
				// treat as a protocol decode error and keep reading.
				continue
			}
			subscribed = true
			s.setState(StateStreaming)
			s.notifyConnected()
			continue
		}

		s.handleNotification(message)
	}
}

func (s *Session) handleSubscribeAck(message []byte) (bool, error) {
	var resp subscribeResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return false, nil
	}
	if resp.ID != subscribeRequestID {
		return false, nil
	}
	if resp.Error != nil {
		return false, fmt.Errorf("upstream error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return true, nil
}

// handleNotification decodes one eth_subscription push per the
// session's dialect. Malformed frames are logged and discarded; the
// session keeps streaming.
func (s *Session) handleNotification(message []byte) {
	var note subscriptionNotification
	if err := json.Unmarshal(message, &note); err != nil {
		s.logger.Debug("discarding malformed upstream frame", zap.Error(err))
		return
	}
	if note.Method != "eth_subscription" {
		return
	}

	switch s.dialect {
	case DialectFullPending:
		s.handleFullTx(note.Params.Result, normalize.StatusPending)
	case DialectFullMined:
		s.handleMinedTx(note.Params.Result)
	case DialectHashOnlyPending:
		s.handleHashOnly(note.Params.Result)
	case DialectHeadersThenFetch:
		s.handleHeader(note.Params.Result)
	default:
		s.handleHeader(note.Params.Result)
	}
}

func (s *Session) handleFullTx(raw json.RawMessage, status normalize.Status) {
	var tx map[string]any
	if err := json.Unmarshal(raw, &tx); err != nil {
		s.logger.Debug("discarding malformed transaction payload", zap.Error(err))
		return
	}
	s.emit(tx, status)
}

func (s *Session) handleMinedTx(raw json.RawMessage) {
	var note minedTxNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		s.logger.Debug("discarding malformed mined-tx payload", zap.Error(err))
		return
	}
	if note.Removed {
		return
	}
	s.emit(note.Transaction, normalize.StatusConfirmed)
}

func (s *Session) handleHashOnly(raw json.RawMessage) {
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		s.logger.Debug("discarding malformed hash payload", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
	defer cancel()

	tx, err := s.fetcher.fetchTransactionByHash(ctx, hash)
	if err != nil {
		if !isNotFoundLike(err) {
			s.logger.Warn("hash-only fetch failed", zap.String("hash", hash), zap.Error(err))
		}
		return
	}
	if tx == nil {
		return // mined between subscribe and fetch: silently dropped.
	}
	s.emit(tx, normalize.StatusPending)
}

func (s *Session) handleHeader(raw json.RawMessage) {
	var header blockHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		s.logger.Debug("discarding malformed header payload", zap.Error(err))
		return
	}
	if header.Number == "" {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
	defer cancel()

	txs, err := s.fetcher.fetchBlockTransactions(ctx, header.Number)
	if err != nil {
		s.logger.Warn("block fetch failed", zap.String("block", header.Number), zap.Error(err))
		return
	}

	for _, raw := range txs {
		s.emit(raw, normalize.StatusConfirmed)
	}
}

func (s *Session) emit(raw map[string]any, status normalize.Status) {
	tx, err := normalize.Normalize(raw, s.config.ID, status)
	if err != nil {
		s.logger.Debug("dropping unnormalizable transaction", zap.Error(err))
		if s.metrics != nil {
			s.metrics.NormalizationErrorsTotal.WithLabelValues(s.chainLabel()).Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.TransactionsTotal.WithLabelValues(s.chainLabel()).Inc()
	}
	if s.sink.OnTransaction != nil {
		s.sink.OnTransaction(tx)
	}
}

func (s *Session) startLivenessPing(conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(livenessPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (s *Session) notifyConnected() {
	if s.sink.OnConnected != nil {
		s.sink.OnConnected()
	}
}

func (s *Session) notifyDisconnected() {
	if s.sink.OnDisconnected != nil {
		s.sink.OnDisconnected()
	}
}

func (s *Session) sleepBackoff(attempt int) bool {
	delay := s.policy.Next(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) chainLabel() string {
	return s.config.Name
}

// DialectFor resolves the dialect for a chain id via the registry,
// exposed here so callers building a Session don't need to import
// internal/constants directly.
func DialectFor(chainID uint64) Dialect {
	return constants.DialectFor(chainID)
}
