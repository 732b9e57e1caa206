package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// checkpointRow maps the checkpoints table. Timestamps are stored as unix
// milliseconds so comparisons behave the same on every dialect.
type checkpointRow struct {
	SessionID     string `gorm:"column:session_id;primaryKey;size:128"`
	Ordinal       int    `gorm:"column:ordinal;primaryKey;autoIncrement:false"`
	StageName     string `gorm:"column:stage_name;size:128;not null"`
	SubjectKey    string `gorm:"column:subject_key;size:64;not null"`
	Scope         string `gorm:"column:scope;size:64;not null"`
	StateSnapshot string `gorm:"column:state_snapshot;not null"`
	CommittedAt   int64  `gorm:"column:committed_at;not null;index"`
}

func (checkpointRow) TableName() string { return "checkpoints" }

// recallRow maps the recall_index table.
type recallRow struct {
	ID          uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	SubjectKey  string `gorm:"column:subject_key;size:64;not null;index:idx_recall_subject_scope,priority:1"`
	Scope       string `gorm:"column:scope;size:64;not null;index:idx_recall_subject_scope,priority:2"`
	SessionID   string `gorm:"column:session_id;size:128;not null"`
	CompletedAt int64  `gorm:"column:completed_at;not null;index"`
	Summary     string `gorm:"column:summary;not null"`
}

func (recallRow) TableName() string { return "recall_index" }

// SQLStore is a gorm-backed Store for postgres, mysql and sqlite.
// The *gorm.DB is owned by the caller; Close does not close it.
type SQLStore struct {
	db   *gorm.DB
	opts options
}

// NewSQLStore creates a SQL store over an open gorm connection.
func NewSQLStore(db *gorm.DB, opts ...Option) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sql store: %w: nil db", ErrInvalidInput)
	}
	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("component", "sql_store"))
	return &SQLStore{db: db, opts: o}, nil
}

// AutoMigrate creates the tables from the row models. Production schemas
// are managed by versioned migrations; this is for tests and dev setups.
func (s *SQLStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&checkpointRow{}, &recallRow{})
}

// Commit implements Store. Duplicates on (session_id, ordinal) are ignored.
func (s *SQLStore) Commit(ctx context.Context, cp *Checkpoint) error {
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

	row := checkpointRow{
		SessionID:     stored.SessionID,
		Ordinal:       stored.Ordinal,
		StageName:     stored.StageName,
		SubjectKey:    stored.SubjectKey,
		Scope:         stored.Scope,
		StateSnapshot: string(data),
		CommittedAt:   stored.CommittedAt.UnixMilli(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return fmt.Errorf("insert checkpoint: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		s.opts.logger.Debug("duplicate commit ignored",
			zap.String("session_id", cp.SessionID),
			zap.Int("ordinal", cp.Ordinal),
		)
	}
	return nil
}

// LatestCheckpoint implements Store.
func (s *SQLStore) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("ordinal DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest checkpoint: %w", err)
	}
	return decodeCheckpoint([]byte(row.StateSnapshot))
}

// ListCheckpoints implements Store.
func (s *SQLStore) ListCheckpoints(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	var rows []checkpointRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("ordinal ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]*Checkpoint, 0, len(rows))
	for _, row := range rows {
		cp, err := decodeCheckpoint([]byte(row.StateSnapshot))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Recall implements Store.
func (s *SQLStore) Recall(ctx context.Context, subjectKey, scope string, window time.Duration) (*RecallEntry, error) {
	if window <= 0 {
		return nil, ErrNotFound
	}
	cutoff := s.opts.now().Add(-window).UnixMilli()

	var row recallRow
	err := s.db.WithContext(ctx).
		Where("subject_key = ? AND scope = ? AND completed_at >= ?", subjectKey, scope, cutoff).
		Order("completed_at DESC").
		Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query recall index: %w", err)
	}
	return decodeRecall([]byte(row.Summary))
}

// IndexCompletion implements Store.
func (s *SQLStore) IndexCompletion(ctx context.Context, subjectKey, scope string, summary Summary) error {
	if subjectKey == "" || scope == "" {
		return ErrInvalidInput
	}
	entry := newRecallEntry(subjectKey, scope, summary, s.opts.now())
	data, err := encodeRecall(entry)
	if err != nil {
		return err
	}
	row := recallRow{
		SubjectKey:  subjectKey,
		Scope:       scope,
		SessionID:   entry.Summary.SessionID,
		CompletedAt: entry.CompletedAt.UnixMilli(),
		Summary:     string(data),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert recall entry: %w", err)
	}
	return nil
}

// Prune implements Store.
func (s *SQLStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	cutoff := olderThan.UnixMilli()
	var removed int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("committed_at < ?", cutoff).Delete(&checkpointRow{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("completed_at < ?", cutoff).Delete(&recallRow{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return int(removed), nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Store.
func (s *SQLStore) Close() error { return nil }
