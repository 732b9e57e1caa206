package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/valuationflow/persistence"
)

// instrumentedStore 为每次存储调用记录耗时与错误
type instrumentedStore struct {
	persistence.Store
	backend   string
	collector *Collector
}

// InstrumentStore wraps store so every operation is recorded under backend.
func InstrumentStore(store persistence.Store, backend string, c *Collector) persistence.Store {
	if c == nil {
		return store
	}
	return &instrumentedStore{Store: store, backend: backend, collector: c}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	// 未命中不是错误
	if errors.Is(err, persistence.ErrNotFound) {
		err = nil
	}
	s.collector.RecordStoreOperation(s.backend, op, time.Since(start), err)
}

func (s *instrumentedStore) Commit(ctx context.Context, cp *persistence.Checkpoint) error {
	start := time.Now()
	err := s.Store.Commit(ctx, cp)
	s.observe("commit", start, err)
	return err
}

func (s *instrumentedStore) LatestCheckpoint(ctx context.Context, sessionID string) (*persistence.Checkpoint, error) {
	start := time.Now()
	cp, err := s.Store.LatestCheckpoint(ctx, sessionID)
	s.observe("latest_checkpoint", start, err)
	return cp, err
}

func (s *instrumentedStore) ListCheckpoints(ctx context.Context, sessionID string) ([]*persistence.Checkpoint, error) {
	start := time.Now()
	cps, err := s.Store.ListCheckpoints(ctx, sessionID)
	s.observe("list_checkpoints", start, err)
	return cps, err
}

func (s *instrumentedStore) Recall(ctx context.Context, subjectKey, scope string, window time.Duration) (*persistence.RecallEntry, error) {
	start := time.Now()
	entry, err := s.Store.Recall(ctx, subjectKey, scope, window)
	s.observe("recall", start, err)
	return entry, err
}

func (s *instrumentedStore) IndexCompletion(ctx context.Context, subjectKey, scope string, summary persistence.Summary) error {
	start := time.Now()
	err := s.Store.IndexCompletion(ctx, subjectKey, scope, summary)
	s.observe("index_completion", start, err)
	return err
}

func (s *instrumentedStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	start := time.Now()
	n, err := s.Store.Prune(ctx, olderThan)
	s.observe("prune", start, err)
	return n, err
}
