package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerStoreConfig holds configuration for an embedded Badger store.
type BadgerStoreConfig struct {
	// Path is the data directory; ignored when InMemory is set.
	Path string `json:"path" yaml:"path"`
	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool `json:"in_memory" yaml:"in_memory"`
	// SyncWrites fsyncs every commit.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`
	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64 `json:"gc_discard_ratio" yaml:"gc_discard_ratio"`
}

// DefaultBadgerStoreConfig returns durable defaults.
func DefaultBadgerStoreConfig() BadgerStoreConfig {
	return BadgerStoreConfig{
		Path:           "./data/badger",
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerStoreConfig returns a configuration for tests.
func InMemoryBadgerStoreConfig() BadgerStoreConfig {
	return BadgerStoreConfig{InMemory: true}
}

// badgerLogger adapts zap to Badger's logger interface.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(strings.TrimSpace(format), args...)
}

// BadgerStore is an embedded Store backed by BadgerDB.
//
// Keys:
//
//	cp\x00{session}\x00{ordinal:%010d}                 checkpoint JSON
//	rc\x00{subject}\x00{scope}\x00{completed ms:%020d}\x00{session}  recall entry JSON
type BadgerStore struct {
	db   *badger.DB
	opts options

	stopGC   chan struct{}
	gcDone   chan struct{}
	closeOne sync.Once
}

// OpenBadgerStore opens (or creates) a Badger store.
func OpenBadgerStore(cfg BadgerStoreConfig, opts ...Option) (*BadgerStore, error) {
	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("component", "badger_store"))

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger store: %w: path is required", ErrInvalidInput)
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: o.logger.Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, opts: o}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.opts.logger.Warn("value log GC failed", zap.Error(err))
			}
		}
	}
}

func checkpointPrefix(sessionID string) []byte {
	return []byte("cp\x00" + sessionID + "\x00")
}

func badgerCheckpointKey(sessionID string, ordinal int) []byte {
	return []byte(fmt.Sprintf("cp\x00%s\x00%010d", sessionID, ordinal))
}

func recallPrefix(subjectKey, scope string) []byte {
	return []byte("rc\x00" + recallKey(subjectKey, scope) + "\x00")
}

func badgerRecallKey(subjectKey, scope string, completedAt time.Time, sessionID string) []byte {
	return []byte(fmt.Sprintf("rc\x00%s\x00%020d\x00%s", recallKey(subjectKey, scope), completedAt.UnixMilli(), sessionID))
}

// Commit implements Store.
func (s *BadgerStore) Commit(ctx context.Context, cp *Checkpoint) error {
	if err := cp.validate(); err != nil {
		return err
	}
	stored := *cp
	if stored.CommittedAt.IsZero() {
		stored.CommittedAt = s.opts.now()
	}
	data, err := encodeCheckpoint(&stored)
	if err != nil {
		return err
	}
	key := badgerCheckpointKey(cp.SessionID, cp.Ordinal)

	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			_, getErr := txn.Get(key)
			if getErr == nil {
				return nil
			}
			if !errors.Is(getErr, badger.ErrKeyNotFound) {
				return getErr
			}
			return txn.Set(key, data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint implements Store.
func (s *BadgerStore) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := checkpointPrefix(sessionID)
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: prefix})
		defer it.Close()

		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		var err error
		data, err = it.Item().ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodeCheckpoint(data)
}

// ListCheckpoints implements Store.
func (s *BadgerStore) ListCheckpoints(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	out := []*Checkpoint{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := checkpointPrefix(sessionID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			cp, err := decodeCheckpoint(data)
			if err != nil {
				return err
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Recall implements Store.
func (s *BadgerStore) Recall(ctx context.Context, subjectKey, scope string, window time.Duration) (*RecallEntry, error) {
	if window <= 0 {
		return nil, ErrNotFound
	}
	now := s.opts.now()

	var entry *RecallEntry
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := recallPrefix(subjectKey, scope)
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: prefix})
		defer it.Close()

		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		data, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		entry, err = decodeRecall(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !fresh(entry.CompletedAt, now, window) {
		return nil, ErrNotFound
	}
	return entry, nil
}

// IndexCompletion implements Store.
func (s *BadgerStore) IndexCompletion(ctx context.Context, subjectKey, scope string, summary Summary) error {
	if subjectKey == "" || scope == "" {
		return ErrInvalidInput
	}
	entry := newRecallEntry(subjectKey, scope, summary, s.opts.now())
	data, err := encodeRecall(entry)
	if err != nil {
		return err
	}
	key := badgerRecallKey(subjectKey, scope, entry.CompletedAt, entry.Summary.SessionID)
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Set(key, data) }); err != nil {
		return fmt.Errorf("index completion: %w", err)
	}
	return nil
}

// Prune implements Store.
func (s *BadgerStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var at time.Time
			switch {
			case strings.HasPrefix(string(item.Key()), "cp\x00"):
				cp, err := decodeCheckpoint(data)
				if err != nil {
					continue
				}
				at = cp.CommittedAt
			case strings.HasPrefix(string(item.Key()), "rc\x00"):
				e, err := decodeRecall(data)
				if err != nil {
					continue
				}
				at = e.CompletedAt
			default:
				continue
			}
			if at.Before(olderThan) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan for prune: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("prune: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return len(stale), nil
}

// Ping implements Store.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	return nil
}

// Close stops value log GC and closes the database.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOne.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}
