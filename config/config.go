package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/BaSui01/valuationflow/internal/backoff"
	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/valuation"
	"github.com/BaSui01/valuationflow/worker"
	"github.com/BaSui01/valuationflow/workflow"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ValuationFlow 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Pipeline  PipelineConfig  `yaml:"pipeline" env:"PIPELINE"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Badger    BadgerConfig    `yaml:"badger" env:"BADGER"`
	Worker    WorkerConfig    `yaml:"worker" env:"WORKER"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT" validate:"min=1,max=65535"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT" validate:"min=0,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	// 每个客户端的限流，RateLimitRPS <= 0 表示关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" validate:"min=0"`
	// 同时设置时 API 以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE" validate:"required_with=TLSCertFile"`
}

// PipelineConfig 管道执行配置
type PipelineConfig struct {
	// 召回新鲜度窗口，<= 0 关闭召回
	FreshnessWindow   time.Duration `yaml:"freshness_window" env:"FRESHNESS_WINDOW"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS" validate:"min=1"`
	// 内容错误（结构/语义违规）的最大总尝试次数
	MaxAttempts          int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" validate:"min=1"`
	MaxTransientAttempts int           `yaml:"max_transient_attempts" env:"MAX_TRANSIENT_ATTEMPTS" validate:"min=1"`
	StageTimeout         time.Duration `yaml:"stage_timeout" env:"STAGE_TIMEOUT" validate:"gt=0"`
	BackoffBase          time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE" validate:"gt=0"`
	BackoffMax           time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX" validate:"gtefield=BackoffBase"`
	// 单次 API 请求等待运行结束的上限
	RunTimeout time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT" validate:"gt=0"`
}

// StoreConfig 检查点存储配置
type StoreConfig struct {
	// memory, sql, redis, badger
	Type string `yaml:"type" env:"TYPE" validate:"oneof=memory sql redis badger"`
	// 检查点与召回索引的保留时长
	Retention       time.Duration `yaml:"retention" env:"RETENTION" validate:"gt=0"`
	JanitorInterval time.Duration `yaml:"janitor_interval" env:"JANITOR_INTERVAL" validate:"gt=0"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB" validate:"min=0"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE" validate:"min=1"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// postgres, mysql, sqlite
	Driver          string        `yaml:"driver" env:"DRIVER" validate:"oneof=postgres mysql sqlite"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT" validate:"min=0,max=65535"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME" validate:"required"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"min=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// BadgerConfig 嵌入式存储配置
type BadgerConfig struct {
	Path       string        `yaml:"path" env:"PATH"`
	InMemory   bool          `yaml:"in_memory" env:"IN_MEMORY"`
	SyncWrites bool          `yaml:"sync_writes" env:"SYNC_WRITES"`
	GCInterval time.Duration `yaml:"gc_interval" env:"GC_INTERVAL"`
}

// WorkerConfig 远端阶段计算服务配置
type WorkerConfig struct {
	Endpoint          string        `yaml:"endpoint" env:"ENDPOINT"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND" validate:"min=0"`
	Burst             int           `yaml:"burst" env:"BURST" validate:"min=0"`
}

// AuthConfig API 认证配置
type AuthConfig struct {
	Enabled bool     `yaml:"enabled" env:"ENABLED"`
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// HS256 密钥；为空时只接受 API Key
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
}

// LogConfig 日志配置
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	// json, console
	Format           string   `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"min=0,max=1"`
	// Insecure 为 false 时 OTLP 连接使用 TLS
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 指标导出周期，0 使用 SDK 默认值
	ExportInterval time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL" validate:"gte=0"`
}

// =============================================================================
// ✅ 验证
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("config validation errors: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	switch c.Store.Type {
	case string(persistence.StoreTypeRedis):
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis store")
		}
	case string(persistence.StoreTypeBadger):
		if !c.Badger.InMemory && c.Badger.Path == "" {
			errs = append(errs, "badger.path is required unless badger.in_memory is set")
		}
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.enabled needs api_keys or jwt_secret")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// =============================================================================
// 🔄 转换为各组件配置
// =============================================================================

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// StoreConfig 返回持久化层的存储配置
func (c *Config) StoreConfig() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type: persistence.StoreType(c.Store.Type),
		Redis: persistence.RedisStoreConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			PoolSize:  c.Redis.PoolSize,
			KeyPrefix: c.Redis.KeyPrefix,
		},
		Badger: persistence.BadgerStoreConfig{
			Path:           c.Badger.Path,
			InMemory:       c.Badger.InMemory,
			SyncWrites:     c.Badger.SyncWrites,
			GCInterval:     c.Badger.GCInterval,
			GCDiscardRatio: persistence.DefaultBadgerStoreConfig().GCDiscardRatio,
		},
	}
}

// ExecutorConfig 返回执行器配置
func (c *Config) ExecutorConfig() workflow.ExecutorConfig {
	policy := workflow.DefaultRetryPolicy()
	policy.MaxViolationAttempts = c.Pipeline.MaxAttempts
	policy.MaxTransientAttempts = c.Pipeline.MaxTransientAttempts
	policy.AttemptTimeout = c.Pipeline.StageTimeout
	policy.Backoff = backoff.DefaultPolicy()
	policy.Backoff.InitialDelay = c.Pipeline.BackoffBase
	policy.Backoff.MaxDelay = c.Pipeline.BackoffMax
	return workflow.ExecutorConfig{
		FreshnessWindow:   c.Pipeline.FreshnessWindow,
		MaxConcurrentRuns: c.Pipeline.MaxConcurrentRuns,
		Retry:             policy,
	}
}

// CatalogOptions 返回估值阶段目录选项
func (c *Config) CatalogOptions() valuation.Options {
	return valuation.Options{
		MaxAttempts:  c.Pipeline.MaxAttempts,
		StageTimeout: c.Pipeline.StageTimeout,
	}
}

// HTTPWorkerConfig 返回远端 Worker 配置
func (c *Config) HTTPWorkerConfig() worker.HTTPConfig {
	return worker.HTTPConfig{
		Endpoint:          c.Worker.Endpoint,
		APIKey:            c.Worker.APIKey,
		Timeout:           c.Worker.Timeout,
		RequestsPerSecond: c.Worker.RequestsPerSecond,
		Burst:             c.Worker.Burst,
	}
}
