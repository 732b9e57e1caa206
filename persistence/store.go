package persistence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeBadger StoreType = "badger"
)

// StageOutput is the validated output of one stage.
type StageOutput struct {
	Payload   map[string]any `json:"payload"`
	Narrative string         `json:"narrative,omitempty"`
}

// SnapshotEntry is one committed stage inside a Snapshot.
type SnapshotEntry struct {
	Stage   string      `json:"stage"`
	Ordinal int         `json:"ordinal"`
	Output  StageOutput `json:"output"`
}

// Snapshot is the pipeline state at a point in time, ordered by ordinal.
type Snapshot struct {
	Entries []SnapshotEntry `json:"entries"`
}

// Get returns the output committed under stage.
func (s Snapshot) Get(stage string) (StageOutput, bool) {
	for _, e := range s.Entries {
		if e.Stage == stage {
			return e.Output, true
		}
	}
	return StageOutput{}, false
}

// Stages returns the committed stage names in order.
func (s Snapshot) Stages() []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Stage
	}
	return out
}

// Checkpoint is the durable record of one committed stage. It is written
// once per (SessionID, Ordinal) and never rewritten.
type Checkpoint struct {
	SessionID   string    `json:"session_id"`
	SubjectKey  string    `json:"subject_key"`
	Scope       string    `json:"scope"`
	StageName   string    `json:"stage_name"`
	Ordinal     int       `json:"ordinal"`
	State       Snapshot  `json:"state"`
	CommittedAt time.Time `json:"committed_at"`
}

func (c *Checkpoint) validate() error {
	if c == nil || c.SessionID == "" || c.StageName == "" || c.Ordinal < 0 {
		return ErrInvalidInput
	}
	return nil
}

// Summary is the final result of a completed run.
type Summary struct {
	SessionID   string    `json:"session_id"`
	SubjectKey  string    `json:"subject_key"`
	Scope       string    `json:"scope"`
	Stages      []string  `json:"stages"`
	State       Snapshot  `json:"state"`
	CompletedAt time.Time `json:"completed_at"`
}

// RecallEntry is an indexed completed run.
type RecallEntry struct {
	SubjectKey  string    `json:"subject_key"`
	Scope       string    `json:"scope"`
	CompletedAt time.Time `json:"completed_at"`
	Summary     Summary   `json:"summary"`
}

// Store persists checkpoints and the recall index.
//
// Commit is idempotent on (SessionID, Ordinal): committing an ordinal that
// already exists is a no-op and returns nil. LatestCheckpoint and Recall
// return ErrNotFound on a miss. Recall only returns entries whose completion
// time lies within window of now; a non-positive window never matches.
type Store interface {
	Commit(ctx context.Context, cp *Checkpoint) error
	LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, sessionID string) ([]*Checkpoint, error)
	Recall(ctx context.Context, subjectKey, scope string, window time.Duration) (*RecallEntry, error)
	IndexCompletion(ctx context.Context, subjectKey, scope string, summary Summary) error
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source used for recall freshness and
// default timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// recallKey groups recall entries.
func recallKey(subjectKey, scope string) string {
	return subjectKey + "\x00" + scope
}

// fresh reports whether completedAt lies within window of now.
func fresh(completedAt, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return !completedAt.Before(now.Add(-window))
}
