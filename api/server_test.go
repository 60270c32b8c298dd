package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/normalize"
	"github.com/chainrelay/mempool-gateway/store"
	"github.com/chainrelay/mempool-gateway/supervisor"
)

// fakeLiveness is a static LivenessReporter for tests.
type fakeLiveness struct {
	snapshot []supervisor.ChainLiveness
}

func (f *fakeLiveness) Liveness() []supervisor.ChainLiveness { return f.snapshot }

// memStorage is a minimal in-memory store.Storage for exercising the
// Query Surface without a real Pebble instance.
type memStorage struct {
	txs    map[string]*normalize.PendingTx
	chains map[uint64]store.ChainRecord
}

func newMemStorage() *memStorage {
	return &memStorage{txs: make(map[string]*normalize.PendingTx), chains: make(map[uint64]store.ChainRecord)}
}

func (m *memStorage) Upsert(tx *normalize.PendingTx) error {
	m.txs[tx.Hash] = tx
	return nil
}

func (m *memStorage) Find(hash string) (*normalize.PendingTx, error) {
	tx, ok := m.txs[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tx, nil
}

func (m *memStorage) FindPage(filter store.PageFilter) ([]*normalize.PendingTx, int, error) {
	var matched []*normalize.PendingTx
	for _, tx := range m.txs {
		if filter.ChainID != nil && tx.ChainID != *filter.ChainID {
			continue
		}
		matched = append(matched, tx)
	}
	limit := filter.Limit
	if limit <= 0 || limit > store.MaxPageLimit {
		limit = store.MaxPageLimit
	}
	total := len(matched)
	if filter.Offset > total {
		return nil, total, nil
	}
	end := filter.Offset + limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (m *memStorage) Aggregate(filter store.AggregateFilter) (*store.Aggregate, error) {
	agg := &store.Aggregate{ByStatus: map[normalize.Status]int64{}, ByChain: map[uint64]int64{}}
	for _, tx := range m.txs {
		agg.ByStatus[tx.Status]++
		agg.ByChain[tx.ChainID]++
	}
	return agg, nil
}

func (m *memStorage) DeleteOlderThan(cutoff time.Time) (int, error) { return 0, nil }

func (m *memStorage) UpsertChain(chain store.ChainRecord) error {
	m.chains[chain.ID] = chain
	return nil
}

func (m *memStorage) Close() error { return nil }

func TestNewServerValidatesConfig(t *testing.T) {
	logger := zap.NewNop()
	storage := newMemStorage()

	badConfig := DefaultConfig()
	badConfig.Port = 0

	if _, err := NewServer(badConfig, logger, storage, nil, nil); err == nil {
		t.Fatal("expected error for invalid port")
	}

	if _, err := NewServer(DefaultConfig(), logger, storage, nil, nil); err != nil {
		t.Fatalf("unexpected error for valid config: %v", err)
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	server, err := NewServer(DefaultConfig(), zap.NewNop(), newMemStorage(), nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
}

func TestServerHealthReportsChainLiveness(t *testing.T) {
	liveness := &fakeLiveness{snapshot: []supervisor.ChainLiveness{
		{ChainID: 1, Name: "mainnet", State: "STREAMING", Connected: true},
		{ChainID: 137, Name: "polygon", State: "CONNECTING", Connected: false},
	}}

	server, err := NewServer(DefaultConfig(), zap.NewNop(), newMemStorage(), nil, liveness)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("expected degraded status with one chain disconnected, got %q", resp.Status)
	}
	if len(resp.Chains) != 2 {
		t.Fatalf("expected 2 chains reported, got %d", len(resp.Chains))
	}
}

func TestServerGetTransactionNotFound(t *testing.T) {
	server, err := NewServer(DefaultConfig(), zap.NewNop(), newMemStorage(), nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/txs/0xdeadbeef", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestServerGetTransactionFound(t *testing.T) {
	storage := newMemStorage()
	storage.txs["0xabc"] = &normalize.PendingTx{Hash: "0xabc", ChainID: 1, Status: normalize.StatusPending}

	server, err := NewServer(DefaultConfig(), zap.NewNop(), storage, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/txs/0xabc", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var tx normalize.PendingTx
	if err := json.Unmarshal(w.Body.Bytes(), &tx); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tx.Hash != "0xabc" {
		t.Errorf("expected hash 0xabc, got %s", tx.Hash)
	}
}

func TestServerListTransactionsFiltersByChain(t *testing.T) {
	storage := newMemStorage()
	storage.txs["0x1"] = &normalize.PendingTx{Hash: "0x1", ChainID: 1}
	storage.txs["0x2"] = &normalize.PendingTx{Hash: "0x2", ChainID: 2}

	server, err := NewServer(DefaultConfig(), zap.NewNop(), storage, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/txs?chain=1", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var page transactionsPage
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if page.Total != 1 || len(page.Transactions) != 1 || page.Transactions[0].Hash != "0x1" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestServerListTransactionsInvalidChain(t *testing.T) {
	server, err := NewServer(DefaultConfig(), zap.NewNop(), newMemStorage(), nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/txs?chain=notanumber", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestServerStats(t *testing.T) {
	storage := newMemStorage()
	storage.txs["0x1"] = &normalize.PendingTx{Hash: "0x1", ChainID: 1, Status: normalize.StatusPending}

	server, err := NewServer(DefaultConfig(), zap.NewNop(), storage, nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	config := DefaultConfig()
	config.Port = 18099

	server, err := NewServer(config, zap.NewNop(), newMemStorage(), nil, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}
