package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/normalize"
	"github.com/chainrelay/mempool-gateway/store"
)

type countingStore struct {
	mu        sync.Mutex
	calls     int
	cutoffs   []time.Time
	deleteN   int
	deleteErr error
}

func (s *countingStore) Upsert(tx *normalize.PendingTx) error                       { return nil }
func (s *countingStore) Find(hash string) (*normalize.PendingTx, error)             { return nil, store.ErrNotFound }
func (s *countingStore) FindPage(f store.PageFilter) ([]*normalize.PendingTx, int, error) {
	return nil, 0, nil
}
func (s *countingStore) Aggregate(f store.AggregateFilter) (*store.Aggregate, error) {
	return &store.Aggregate{}, nil
}
func (s *countingStore) UpsertChain(chain store.ChainRecord) error { return nil }
func (s *countingStore) Close() error                              { return nil }

func (s *countingStore) DeleteOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.deleteN, s.deleteErr
}

func (s *countingStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSweeperRunsOnInterval(t *testing.T) {
	cs := &countingStore{deleteN: 3}
	sweeper := New(cs, zap.NewNop(), time.Hour, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cs.callCount() >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if cs.callCount() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", cs.callCount())
	}
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	cs := &countingStore{}
	sweeper := New(cs, zap.NewNop(), time.Hour, 15*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Run(ctx)
	time.Sleep(40 * time.Millisecond)
	cancel()

	countAtCancel := cs.callCount()
	time.Sleep(60 * time.Millisecond)
	if cs.callCount() != countAtCancel {
		t.Fatalf("expected no sweeps after cancel, went from %d to %d", countAtCancel, cs.callCount())
	}
}

func TestSweeperDefaultsInterval(t *testing.T) {
	cs := &countingStore{}
	sweeper := New(cs, zap.NewNop(), time.Hour, 0)
	if sweeper.interval != defaultSweepInterval {
		t.Errorf("expected default interval %v, got %v", defaultSweepInterval, sweeper.interval)
	}
}
