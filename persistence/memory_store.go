package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Values are kept encoded so callers
// can never alias committed state.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]map[int][]byte
	committedAt map[string]map[int]time.Time
	recall      map[string][]memoryRecall
	closed      bool
	opts        options
}

type memoryRecall struct {
	completedAt time.Time
	data        []byte
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("component", "memory_store"))
	return &MemoryStore{
		checkpoints: make(map[string]map[int][]byte),
		committedAt: make(map[string]map[int]time.Time),
		recall:      make(map[string][]memoryRecall),
		opts:        o,
	}
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, cp *Checkpoint) error {
	if err := cp.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	bySession, ok := s.checkpoints[cp.SessionID]
	if !ok {
		bySession = make(map[int][]byte)
		s.checkpoints[cp.SessionID] = bySession
		s.committedAt[cp.SessionID] = make(map[int]time.Time)
	}
	if _, exists := bySession[cp.Ordinal]; exists {
		s.opts.logger.Debug("duplicate commit ignored",
			zap.String("session_id", cp.SessionID),
			zap.Int("ordinal", cp.Ordinal),
		)
		return nil
	}
	bySession[cp.Ordinal] = data
	s.committedAt[cp.SessionID][cp.Ordinal] = stored.CommittedAt
	return nil
}

// LatestCheckpoint implements Store.
func (s *MemoryStore) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	bySession := s.checkpoints[sessionID]
	if len(bySession) == 0 {
		return nil, ErrNotFound
	}
	latest := -1
	for ord := range bySession {
		if ord > latest {
			latest = ord
		}
	}
	return decodeCheckpoint(bySession[latest])
}

// ListCheckpoints implements Store.
func (s *MemoryStore) ListCheckpoints(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	bySession := s.checkpoints[sessionID]
	ordinals := make([]int, 0, len(bySession))
	for ord := range bySession {
		ordinals = append(ordinals, ord)
	}
	sort.Ints(ordinals)

	out := make([]*Checkpoint, 0, len(ordinals))
	for _, ord := range ordinals {
		cp, err := decodeCheckpoint(bySession[ord])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Recall implements Store.
func (s *MemoryStore) Recall(ctx context.Context, subjectKey, scope string, window time.Duration) (*RecallEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	now := s.opts.now()
	var best *memoryRecall
	for i := range s.recall[recallKey(subjectKey, scope)] {
		r := &s.recall[recallKey(subjectKey, scope)][i]
		if !fresh(r.completedAt, now, window) {
			continue
		}
		if best == nil || !r.completedAt.Before(best.completedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return decodeRecall(best.data)
}

// IndexCompletion implements Store.
func (s *MemoryStore) IndexCompletion(ctx context.Context, subjectKey, scope string, summary Summary) error {
	if subjectKey == "" || scope == "" {
		return ErrInvalidInput
	}
	entry := newRecallEntry(subjectKey, scope, summary, s.opts.now())
	data, err := encodeRecall(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	key := recallKey(subjectKey, scope)
	s.recall[key] = append(s.recall[key], memoryRecall{completedAt: entry.CompletedAt, data: data})
	return nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	for session, times := range s.committedAt {
		for ord, at := range times {
			if at.Before(olderThan) {
				delete(times, ord)
				delete(s.checkpoints[session], ord)
				removed++
			}
		}
		if len(times) == 0 {
			delete(s.committedAt, session)
			delete(s.checkpoints, session)
		}
	}
	for key, entries := range s.recall {
		kept := entries[:0]
		for _, e := range entries {
			if e.completedAt.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.recall, key)
		} else {
			s.recall[key] = kept
		}
	}
	return removed, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
