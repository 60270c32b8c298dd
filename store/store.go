// Package store implements at-least-once persistence of PendingTx rows,
// keyed by hash, with duplicate-tolerant upserts backing historical
// queries and periodic aggregates.
package store

import (
	"errors"
	"time"

	"github.com/chainrelay/mempool-gateway/normalize"
)

// ErrNotFound is returned by Find when no row matches the given hash.
var ErrNotFound = errors.New("store: not found")

// ChainRecord mirrors the ChainConfig data the Supervisor reconciles
// into the store's chain table at startup.
type ChainRecord struct {
	ID     uint64
	Name   string
	WSURL  string
	RPCURL string
}

// PageFilter selects and orders a bounded slice of PendingTx rows.
type PageFilter struct {
	ChainID    *uint64
	FromPrefix string
	ToPrefix   string
	Status     normalize.Status
	OrderBy    string // not consulted: PebbleStore.FindPage always orders by ingestion timestamp
	Descending bool
	Limit      int // capped at 100
	Offset     int
}

// AggregateFilter narrows an Aggregate call to one chain, or all chains
// when ChainID is nil.
type AggregateFilter struct {
	ChainID *uint64
}

// Aggregate summarizes the store's current contents.
type Aggregate struct {
	ByStatus           map[normalize.Status]int64 `json:"byStatus"`
	ByChain            map[uint64]int64           `json:"byChain"`
	TopSendersLastHour []SenderCount              `json:"topSendersLastHour"`
	CountLast5Min      int64                      `json:"countLast5min"`
}

// SenderCount is one row of the top-senders aggregate.
type SenderCount struct {
	From  string `json:"from"`
	Count int64  `json:"count"`
}

// Storage is the persistence contract the ingestion pipeline and the
// Query Surface both depend on.
type Storage interface {
	// Upsert inserts a new row keyed by hash, or updates only the status
	// field of an existing row per the monotone pending->confirmed
	// invariant. Duplicate-key races are absorbed silently.
	Upsert(tx *normalize.PendingTx) error

	Find(hash string) (*normalize.PendingTx, error)

	// FindPage returns a bounded, ordered page of rows plus the total
	// count of rows matching the filter (ignoring Limit/Offset).
	FindPage(filter PageFilter) ([]*normalize.PendingTx, int, error)

	Aggregate(filter AggregateFilter) (*Aggregate, error)

	// DeleteOlderThan removes every row with Timestamp before cutoff and
	// returns the number of rows deleted.
	DeleteOlderThan(cutoff time.Time) (int, error)

	// UpsertChain reconciles one row of the chain table.
	UpsertChain(chain ChainRecord) error

	Close() error
}
