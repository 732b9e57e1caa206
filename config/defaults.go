// =============================================================================
// 📦 ValuationFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Badger:    DefaultBadgerConfig(),
		Worker:    DefaultWorkerConfig(),
		Auth:      AuthConfig{},
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultPipelineConfig 返回默认管道配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		FreshnessWindow:      24 * time.Hour,
		MaxConcurrentRuns:    16,
		MaxAttempts:          5,
		MaxTransientAttempts: 5,
		StageTimeout:         2 * time.Minute,
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
		RunTimeout:           25 * time.Minute,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:            "memory",
		Retention:       7 * 24 * time.Hour,
		JanitorInterval: time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "valuationflow:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "valuationflow",
		Name:            "valuationflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultBadgerConfig 返回默认 Badger 配置
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		Path:       "./data/badger",
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// DefaultWorkerConfig 返回默认 Worker 配置
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Endpoint:          "http://localhost:8090",
		Timeout:           2 * time.Minute,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "valuationflow",
		SampleRate:     0.1,
		Insecure:       true,
		ExportInterval: 30 * time.Second,
	}
}
