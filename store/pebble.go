package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/normalize"
)

const (
	prefixTx        = "tx/"
	prefixChainIdx  = "idx/chain/"
	prefixGlobalIdx = "idx/all/"
	prefixChain     = "chain/"

	// MaxPageLimit caps FindPage.Limit per the "limit<=100" contract.
	MaxPageLimit = 100

	topSendersLimit = 10
)

// PebbleStore implements Storage on top of CockroachDB's Pebble, the
// teacher's persistence engine.
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger
	closed atomic.Bool

	// upsertMu serializes every Upsert's read-modify-write, across all
	// hashes, so two concurrent upserts for the same tx can't race on the
	// status transition. Reads do not take it.
	upsertMu sync.Mutex
}

// Open opens (or creates) a PebbleDB at path.
func Open(path string, logger *zap.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return fmt.Errorf("store: closed")
	}
	return nil
}

func txKey(hash string) []byte {
	return []byte(prefixTx + hash)
}

func chainIndexKey(chainID uint64, tsNano int64, hash string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/%s", prefixChainIdx, chainID, tsNano, hash))
}

func chainIndexPrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixChainIdx, chainID))
}

func globalIndexKey(tsNano int64, hash string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixGlobalIdx, tsNano, hash))
}

func chainRecordKey(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixChain, chainID))
}

// statusRank orders statuses for the monotone transition check (I4): a
// higher rank never gets overwritten by a lower one.
var statusRank = map[normalize.Status]int{
	normalize.StatusPending:   0,
	normalize.StatusConfirmed: 1,
	normalize.StatusDropped:   2,
}

// Upsert inserts a new row, or on an existing hash advances only its
// status per the monotone pending->confirmed rule. Both paths are
// idempotent: re-upserting an unchanged status is a no-op write.
func (s *PebbleStore) Upsert(tx *normalize.PendingTx) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}

	s.upsertMu.Lock()
	defer s.upsertMu.Unlock()

	key := txKey(tx.Hash)
	value, closer, err := s.db.Get(key)
	if err != nil && err != pebble.ErrNotFound {
		return fmt.Errorf("get existing record: %w", err)
	}

	if err == pebble.ErrNotFound {
		encoded, encodeErr := json.Marshal(tx)
		if encodeErr != nil {
			return fmt.Errorf("encode transaction: %w", encodeErr)
		}
		batch := s.db.NewBatch()
		defer batch.Close()
		if setErr := batch.Set(key, encoded, nil); setErr != nil {
			return setErr
		}
		if setErr := batch.Set(chainIndexKey(tx.ChainID, tx.Timestamp.UnixNano(), tx.Hash), []byte{}, nil); setErr != nil {
			return setErr
		}
		if setErr := batch.Set(globalIndexKey(tx.Timestamp.UnixNano(), tx.Hash), []byte{}, nil); setErr != nil {
			return setErr
		}
		return batch.Commit(pebble.Sync)
	}

	var existing normalize.PendingTx
	decodeErr := json.Unmarshal(value, &existing)
	closer.Close()
	if decodeErr != nil {
		return fmt.Errorf("decode existing record: %w", decodeErr)
	}

	if statusRank[tx.Status] <= statusRank[existing.Status] {
		return nil // duplicate or downgrade attempt: silently absorbed.
	}

	existing.Status = tx.Status
	encoded, encodeErr := json.Marshal(existing)
	if encodeErr != nil {
		return fmt.Errorf("encode transaction: %w", encodeErr)
	}
	return s.db.Set(key, encoded, pebble.Sync)
}

func (s *PebbleStore) Find(hash string) (*normalize.PendingTx, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	value, closer, err := s.db.Get(txKey(hash))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var tx normalize.PendingTx
	if err := json.Unmarshal(value, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}

func (s *PebbleStore) FindPage(filter PageFilter) ([]*normalize.PendingTx, int, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	var prefix []byte
	if filter.ChainID != nil {
		prefix = chainIndexPrefix(*filter.ChainID)
	} else {
		prefix = []byte(prefixGlobalIdx)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: incrementPrefix(prefix),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	var matches []*normalize.PendingTx
	for iter.First(); iter.Valid(); iter.Next() {
		hash := hashFromIndexKey(iter.Key())
		tx, err := s.Find(hash)
		if err != nil {
			continue // index/row race: skip, don't fail the whole page.
		}
		if !matchesFilter(tx, filter) {
			continue
		}
		matches = append(matches, tx)
	}
	if err := iter.Error(); err != nil {
		return nil, 0, fmt.Errorf("iterator error: %w", err)
	}

	if filter.Descending {
		for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
			matches[i], matches[j] = matches[j], matches[i]
		}
	}

	total := len(matches)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func matchesFilter(tx *normalize.PendingTx, filter PageFilter) bool {
	if filter.Status != "" && tx.Status != filter.Status {
		return false
	}
	if filter.FromPrefix != "" && !strings.HasPrefix(tx.From, strings.ToLower(filter.FromPrefix)) {
		return false
	}
	if filter.ToPrefix != "" && !strings.HasPrefix(tx.To, strings.ToLower(filter.ToPrefix)) {
		return false
	}
	return true
}

func (s *PebbleStore) Aggregate(filter AggregateFilter) (*Aggregate, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	agg := &Aggregate{
		ByStatus: make(map[normalize.Status]int64),
		ByChain:  make(map[uint64]int64),
	}
	senderCounts := make(map[string]int64)

	now := time.Now()
	fiveMinAgo := now.Add(-5 * time.Minute)
	hourAgo := now.Add(-time.Hour)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixTx),
		UpperBound: incrementPrefix([]byte(prefixTx)),
	})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var tx normalize.PendingTx
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			continue
		}
		if filter.ChainID != nil && tx.ChainID != *filter.ChainID {
			continue
		}

		agg.ByStatus[tx.Status]++
		agg.ByChain[tx.ChainID]++

		if tx.Timestamp.After(fiveMinAgo) {
			agg.CountLast5Min++
		}
		if tx.Timestamp.After(hourAgo) {
			senderCounts[tx.From]++
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	agg.TopSendersLastHour = topSenders(senderCounts, topSendersLimit)
	return agg, nil
}

func topSenders(counts map[string]int64, limit int) []SenderCount {
	senders := make([]SenderCount, 0, len(counts))
	for addr, n := range counts {
		senders = append(senders, SenderCount{From: addr, Count: n})
	}
	sort.Slice(senders, func(i, j int) bool {
		if senders[i].Count != senders[j].Count {
			return senders[i].Count > senders[j].Count
		}
		return senders[i].From < senders[j].From
	})
	if len(senders) > limit {
		senders = senders[:limit]
	}
	return senders
}

// DeleteOlderThan removes every row whose ingestion timestamp precedes
// cutoff, along with its index entries. The global index is sorted by
// timestamp, so iteration stops at the first row at or after cutoff.
func (s *PebbleStore) DeleteOlderThan(cutoff time.Time) (int, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	cutoffNano := cutoff.UnixNano()

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixGlobalIdx),
		UpperBound: incrementPrefix([]byte(prefixGlobalIdx)),
	})
	if err != nil {
		return 0, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()

	deleted := 0
	for iter.First(); iter.Valid(); iter.Next() {
		ts, hash, ok := parseGlobalIndexKey(iter.Key())
		if !ok {
			continue
		}
		if ts >= cutoffNano {
			break
		}

		tx, err := s.Find(hash)
		if err == nil {
			_ = batch.Delete(chainIndexKey(tx.ChainID, ts, hash), nil)
		}
		_ = batch.Delete(txKey(hash), nil)
		_ = batch.Delete(append([]byte{}, iter.Key()...), nil)
		deleted++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterator error: %w", err)
	}

	if deleted == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit deletions: %w", err)
	}
	return deleted, nil
}

func (s *PebbleStore) UpsertChain(chain ChainRecord) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	encoded, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("encode chain record: %w", err)
	}
	return s.db.Set(chainRecordKey(chain.ID), encoded, pebble.Sync)
}

func (s *PebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// incrementPrefix returns the smallest byte slice greater than every key
// starting with prefix, used as an iterator's exclusive upper bound.
func incrementPrefix(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff: unbounded above.
}

func hashFromIndexKey(key []byte) string {
	parts := strings.Split(string(key), "/")
	return parts[len(parts)-1]
}

func parseGlobalIndexKey(key []byte) (int64, string, bool) {
	parts := strings.Split(strings.TrimPrefix(string(key), prefixGlobalIdx), "/")
	if len(parts) != 2 {
		return 0, "", false
	}
	var ts int64
	if _, err := fmt.Sscanf(parts[0], "%020d", &ts); err != nil {
		return 0, "", false
	}
	return ts, parts[1], true
}
