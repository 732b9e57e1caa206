package persistence

import (
	"fmt"

	"gorm.io/gorm"
)

// StoreConfig selects and configures a Store backend.
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Badger configuration (only used when Type is "badger")
	Badger BadgerStoreConfig `json:"badger" yaml:"badger"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "valuationflow:",
		},
		Badger: DefaultBadgerStoreConfig(),
	}
}

// NewStore creates a Store based on the configuration. The sql backend
// needs an open connection, passed as db; other backends ignore it.
func NewStore(config StoreConfig, db *gorm.DB, opts ...Option) (Store, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(opts...), nil
	case StoreTypeSQL:
		s, err := NewSQLStore(db, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreTypeRedis:
		s, err := DialRedisStore(config.Redis, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreTypeBadger:
		s, err := OpenBadgerStore(config.Badger, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
