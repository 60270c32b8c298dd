package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
)

// httpFetcher issues the HTTP JSON-RPC calls used by the hash-only and
// headers-then-fetch dialects: eth_getTransactionByHash and
// eth_getBlockByNumber. It lazily dials on first use and is safe to
// reuse across many fetches for the same chain.
type httpFetcher struct {
	url string

	mu     sync.Mutex
	client *rpc.Client
}

func newHTTPFetcher(url string) *httpFetcher {
	return &httpFetcher{url: url}
}

func (f *httpFetcher) dial(ctx context.Context) (*rpc.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	c, err := rpc.DialContext(ctx, f.url)
	if err != nil {
		return nil, err
	}
	f.client = c
	return c, nil
}

func (f *httpFetcher) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		f.client.Close()
		f.client = nil
	}
}

// fetchTransactionByHash returns the raw transaction object, or nil with
// no error when the upstream reports the hash as not found — a common
// and expected race for HASH_ONLY_PENDING (the tx may be mined between
// subscribe and fetch).
func (f *httpFetcher) fetchTransactionByHash(ctx context.Context, hash string) (map[string]any, error) {
	client, err := f.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial http endpoint: %w", err)
	}

	var raw json.RawMessage
	if err := client.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var tx map[string]any
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// fetchBlockTransactions returns every transaction object embedded in
// the block at blockNumberHex (a 0x-hex block number, as delivered in a
// newHeads notification), fetched with full transaction objects.
func (f *httpFetcher) fetchBlockTransactions(ctx context.Context, blockNumberHex string) ([]map[string]any, error) {
	client, err := f.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial http endpoint: %w", err)
	}

	var raw json.RawMessage
	if err := client.CallContext(ctx, &raw, "eth_getBlockByNumber", blockNumberHex, true); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var block struct {
		Transactions []map[string]any `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return block.Transactions, nil
}

// isNotFoundLike reports whether an RPC error message looks like a
// benign "not found" condition rather than an unexpected upstream
// failure, per the "silently dropped unless unexpected" policy for
// hash-only fetches.
func isNotFoundLike(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "unknown transaction")
}
