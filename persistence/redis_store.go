package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is a Redis-based implementation of Store.
//
// Key layout (all under the configured prefix):
//
//	cp:{session}:{ordinal}   checkpoint JSON
//	cps:{session}            sorted set of ordinals, score = ordinal
//	cp:all                   sorted set of "{session}\x00{ordinal}", score = commit ms
//	rc:{id}                  recall entry JSON
//	rci:{subject}\x00{scope} sorted set of recall ids, score = completion ms
//	rc:all                   sorted set of recall ids, score = completion ms
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ownClient bool
	opts      options
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DialRedisStore connects to Redis and verifies the connection.
func DialRedisStore(cfg RedisStoreConfig, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisStore(client, cfg.KeyPrefix, opts...)
	s.ownClient = true
	return s, nil
}

// NewRedisStore wraps an existing client. The client is not closed by Close.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, opts ...Option) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "valuationflow:"
	}
	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("component", "redis_store"))
	return &RedisStore{client: client, keyPrefix: keyPrefix, opts: o}
}

func (s *RedisStore) checkpointKey(sessionID string, ordinal int) string {
	return s.keyPrefix + "cp:" + sessionID + ":" + strconv.Itoa(ordinal)
}

func (s *RedisStore) sessionIndexKey(sessionID string) string {
	return s.keyPrefix + "cps:" + sessionID
}

func (s *RedisStore) allCheckpointsKey() string { return s.keyPrefix + "cp:all" }

func (s *RedisStore) recallEntryKey(id string) string { return s.keyPrefix + "rc:" + id }

func (s *RedisStore) recallIndexKey(subjectKey, scope string) string {
	return s.keyPrefix + "rci:" + recallKey(subjectKey, scope)
}

func (s *RedisStore) allRecallKey() string { return s.keyPrefix + "rc:all" }

// Commit implements Store. SETNX plus index updates run in one MULTI block,
// so a duplicate commit leaves the original untouched.
func (s *RedisStore) Commit(ctx context.Context, cp *Checkpoint) error {
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

	var setCmd *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setCmd = pipe.SetNX(ctx, s.checkpointKey(cp.SessionID, cp.Ordinal), data, 0)
		pipe.ZAdd(ctx, s.sessionIndexKey(cp.SessionID), redis.Z{
			Score:  float64(cp.Ordinal),
			Member: strconv.Itoa(cp.Ordinal),
		})
		pipe.ZAddNX(ctx, s.allCheckpointsKey(), redis.Z{
			Score:  float64(stored.CommittedAt.UnixMilli()),
			Member: cp.SessionID + "\x00" + strconv.Itoa(cp.Ordinal),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	if setCmd != nil && !setCmd.Val() {
		s.opts.logger.Debug("duplicate commit ignored",
			zap.String("session_id", cp.SessionID),
			zap.Int("ordinal", cp.Ordinal),
		)
	}
	return nil
}

// LatestCheckpoint implements Store.
func (s *RedisStore) LatestCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	members, err := s.client.ZRevRange(ctx, s.sessionIndexKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	ordinal, err := strconv.Atoi(members[0])
	if err != nil {
		return nil, fmt.Errorf("corrupt session index member %q: %w", members[0], err)
	}

	data, err := s.client.Get(ctx, s.checkpointKey(sessionID, ordinal)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return decodeCheckpoint(data)
}

// ListCheckpoints implements Store.
func (s *RedisStore) ListCheckpoints(ctx context.Context, sessionID string) ([]*Checkpoint, error) {
	members, err := s.client.ZRange(ctx, s.sessionIndexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}
	if len(members) == 0 {
		return []*Checkpoint{}, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		ordinal, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt session index member %q: %w", m, err)
		}
		keys = append(keys, s.checkpointKey(sessionID, ordinal))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	out := make([]*Checkpoint, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		cp, err := decodeCheckpoint([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Recall implements Store.
func (s *RedisStore) Recall(ctx context.Context, subjectKey, scope string, window time.Duration) (*RecallEntry, error) {
	if window <= 0 {
		return nil, ErrNotFound
	}
	cutoff := s.opts.now().Add(-window).UnixMilli()

	ids, err := s.client.ZRevRangeByScore(ctx, s.recallIndexKey(subjectKey, scope), &redis.ZRangeBy{
		Min:   strconv.FormatInt(cutoff, 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read recall index: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.recallEntryKey(ids[0])).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read recall entry: %w", err)
	}
	return decodeRecall(data)
}

// IndexCompletion implements Store.
func (s *RedisStore) IndexCompletion(ctx context.Context, subjectKey, scope string, summary Summary) error {
	if subjectKey == "" || scope == "" {
		return ErrInvalidInput
	}
	entry := newRecallEntry(subjectKey, scope, summary, s.opts.now())
	data, err := encodeRecall(entry)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	score := float64(entry.CompletedAt.UnixMilli())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recallEntryKey(id), data, 0)
		pipe.ZAdd(ctx, s.recallIndexKey(subjectKey, scope), redis.Z{Score: score, Member: id})
		pipe.ZAdd(ctx, s.allRecallKey(), redis.Z{Score: score, Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("index completion: %w", err)
	}
	return nil
}

// Prune implements Store.
func (s *RedisStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	removed := 0

	cps, err := s.client.ZRangeByScore(ctx, s.allCheckpointsKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("read checkpoint index: %w", err)
	}
	for _, member := range cps {
		sessionID, ord, ok := strings.Cut(member, "\x00")
		if !ok {
			continue
		}
		ordinal, err := strconv.Atoi(ord)
		if err != nil {
			continue
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.checkpointKey(sessionID, ordinal))
			pipe.ZRem(ctx, s.sessionIndexKey(sessionID), ord)
			pipe.ZRem(ctx, s.allCheckpointsKey(), member)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("prune checkpoint: %w", err)
		}
		removed++
	}

	ids, err := s.client.ZRangeByScore(ctx, s.allRecallKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return removed, fmt.Errorf("read recall index: %w", err)
	}
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.recallEntryKey(id)).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return removed, fmt.Errorf("read recall entry: %w", err)
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(data) > 0 {
				if entry, decErr := decodeRecall(data); decErr == nil {
					pipe.ZRem(ctx, s.recallIndexKey(entry.SubjectKey, entry.Scope), id)
				}
			}
			pipe.Del(ctx, s.recallEntryKey(id))
			pipe.ZRem(ctx, s.allRecallKey(), id)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("prune recall entry: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
