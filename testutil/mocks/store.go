// =============================================================================
// 💾 FaultyStore - 检查点存储故障注入
// =============================================================================
// 包装任意 persistence.Store，在指定序号的 Commit 或召回索引写入时返回错误
// =============================================================================
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/valuationflow/persistence"
)

// ErrInjected 是注入的存储错误
var ErrInjected = errors.New("injected store failure")

// FaultyStore 包装 Store 并注入写入失败
type FaultyStore struct {
	persistence.Store

	mu            sync.Mutex
	failOrdinals  map[int]bool
	failIndex     bool
	commits       []persistence.Checkpoint
	commitAttempt int
}

// NewFaultyStore 创建新的 FaultyStore
func NewFaultyStore(inner persistence.Store) *FaultyStore {
	return &FaultyStore{Store: inner, failOrdinals: map[int]bool{}}
}

// FailCommitAt 让指定序号的 Commit 失败
func (s *FaultyStore) FailCommitAt(ordinal int) *FaultyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOrdinals[ordinal] = true
	return s
}

// Heal 取消所有注入的故障
func (s *FaultyStore) Heal() *FaultyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOrdinals = map[int]bool{}
	s.failIndex = false
	return s
}

// FailIndex 让 IndexCompletion 失败
func (s *FaultyStore) FailIndex() *FaultyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIndex = true
	return s
}

// Commit 实现 persistence.Store
func (s *FaultyStore) Commit(ctx context.Context, cp *persistence.Checkpoint) error {
	s.mu.Lock()
	s.commitAttempt++
	fail := s.failOrdinals[cp.Ordinal]
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	if err := s.Store.Commit(ctx, cp); err != nil {
		return err
	}
	s.mu.Lock()
	s.commits = append(s.commits, *cp)
	s.mu.Unlock()
	return nil
}

// IndexCompletion 实现 persistence.Store
func (s *FaultyStore) IndexCompletion(ctx context.Context, subjectKey, scope string, summary persistence.Summary) error {
	s.mu.Lock()
	fail := s.failIndex
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Store.IndexCompletion(ctx, subjectKey, scope, summary)
}

// Committed 返回成功提交的检查点（按提交顺序）
func (s *FaultyStore) Committed() []persistence.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]persistence.Checkpoint(nil), s.commits...)
}

// CommitAttempts 返回 Commit 调用次数（含失败）
func (s *FaultyStore) CommitAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitAttempt
}

