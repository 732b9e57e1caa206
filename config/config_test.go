// 配置加载器、默认配置与重载测试。
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/valuationflow/persistence"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.FreshnessWindow)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 5, cfg.Pipeline.MaxTransientAttempts)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 7*24*time.Hour, cfg.Store.Retention)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

// --- Loader 测试 ---

func TestLoader_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
server:
  http_port: 8888
pipeline:
  freshness_window: 1h
  max_attempts: 3
store:
  type: redis
redis:
  addr: "redis:6379"
log:
  level: debug
`)

	cfg, err := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, time.Hour, cfg.Pipeline.FreshnessWindow)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 未出现在文件中的字段保持默认
	assert.Equal(t, 5, cfg.Pipeline.MaxTransientAttempts)
}

func TestLoader_UnknownYAMLFieldIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "pipeline:\n  max_atempts: 3\n")

	_, err := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(nil)).Load()
	assert.Error(t, err)
}

func TestLoader_MissingAndEmptyFileUseDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewLoader().WithConfigPath(filepath.Join(dir, "absent.yaml")).WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "")
	cfg, err = NewLoader().WithConfigPath(empty).WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  http_port: 8888\n")

	cfg, err := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(map[string]string{
		"VALUATIONFLOW_SERVER_HTTP_PORT":           "9999",
		"VALUATIONFLOW_PIPELINE_FRESHNESS_WINDOW":  "30m",
		"VALUATIONFLOW_AUTH_ENABLED":               "true",
		"VALUATIONFLOW_AUTH_API_KEYS":              "k1, k2,,",
		"VALUATIONFLOW_TELEMETRY_SAMPLE_RATE":      "0.5",
		"VALUATIONFLOW_WORKER_REQUESTS_PER_SECOND": "2.5",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.FreshnessWindow)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, 2.5, cfg.Worker.RequestsPerSecond)
}

func TestLoader_ConfigPathFromEnvAndExpansion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "auth:\n  enabled: true\n  jwt_secret: ${JWT_SECRET}\n  jwt_issuer: \"${MISSING}\"\n")

	loader := NewLoader().WithEnvLookup(envMap(map[string]string{
		"VALUATIONFLOW_CONFIG":           path,
		"JWT_SECRET":                     "s3cret",
		"VALUATIONFLOW_SERVER_HTTP_PORT": "9000",
	}))
	assert.Equal(t, path, loader.ConfigPath())

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Empty(t, cfg.Auth.JWTIssuer)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"VALUATIONFLOW_SERVER_HTTP_PORT"}, loader.Overrides())

	// 显式路径优先
	assert.Equal(t, "other.yaml", loader.WithConfigPath("other.yaml").ConfigPath())
}

func TestLoader_CustomPrefixAndBadValue(t *testing.T) {
	cfg, err := NewLoader().WithEnvPrefix("VF").WithEnvLookup(envMap(map[string]string{
		"VF_SERVER_HTTP_PORT": "7000",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.HTTPPort)

	_, err = NewLoader().WithEnvLookup(envMap(map[string]string{
		"VALUATIONFLOW_PIPELINE_STAGE_TIMEOUT": "soon",
	})).Load()
	assert.Error(t, err)
}

func TestLoader_CustomValidator(t *testing.T) {
	_, err := NewLoader().WithEnvLookup(envMap(nil)).WithValidator(func(c *Config) error {
		return assert.AnError
	}).Load()
	assert.ErrorIs(t, err, assert.AnError)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "HTTPPort"},
		{"bad store", func(c *Config) { c.Store.Type = "mongo" }, "Store.Type"},
		{"zero attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }, "MaxAttempts"},
		{"backoff max below base", func(c *Config) { c.Pipeline.BackoffMax = time.Millisecond }, "BackoffMax"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "Log.Level"},
		{"redis without addr", func(c *Config) { c.Store.Type = "redis"; c.Redis.Addr = "" }, "redis.addr"},
		{"badger without path", func(c *Config) { c.Store.Type = "badger"; c.Badger.Path = "" }, "badger.path"},
		{"auth without credentials", func(c *Config) { c.Auth.Enabled = true }, "auth.enabled"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "SampleRate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := DefaultConfig()
	cfg.Store.Type = "badger"
	cfg.Badger.Path = ""
	cfg.Badger.InMemory = true
	assert.NoError(t, cfg.Validate())
}

// --- 转换测试 ---

func TestConfig_Conversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Type = "redis"
	cfg.Pipeline.MaxAttempts = 3
	cfg.Pipeline.BackoffBase = 2 * time.Second

	sc := cfg.StoreConfig()
	assert.Equal(t, persistence.StoreTypeRedis, sc.Type)
	assert.Equal(t, "localhost:6379", sc.Redis.Addr)
	assert.Equal(t, "valuationflow:", sc.Redis.KeyPrefix)

	ec := cfg.ExecutorConfig()
	assert.Equal(t, 24*time.Hour, ec.FreshnessWindow)
	assert.Equal(t, 16, ec.MaxConcurrentRuns)
	assert.Equal(t, 3, ec.Retry.MaxViolationAttempts)
	assert.Equal(t, 2*time.Second, ec.Retry.Backoff.InitialDelay)
	assert.Equal(t, 30*time.Second, ec.Retry.Backoff.MaxDelay)

	assert.Equal(t, 3, cfg.CatalogOptions().MaxAttempts)
	assert.Equal(t, "http://localhost:8090", cfg.HTTPWorkerConfig().Endpoint)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DefaultDatabaseConfig()
	assert.Contains(t, d.DSN(), "host=localhost port=5432")
	d.Driver = "mysql"
	assert.Contains(t, d.DSN(), "@tcp(localhost:5432)/valuationflow?parseTime=true")
	d.Driver = "sqlite"
	assert.Equal(t, "valuationflow", d.DSN())
	d.Driver = "oracle"
	assert.Empty(t, d.DSN())
}

// --- Reloader 测试 ---

func TestReloader_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	loader := NewLoader().WithConfigPath(path).WithEnvLookup(envMap(nil))
	initial, err := loader.Load()
	require.NoError(t, err)

	r, err := NewReloader(loader, initial, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	levels := make(chan string, 4)
	r.OnReload(func(c *Config) { levels <- c.Log.Level })

	r.Start(context.Background())
	defer r.Stop()

	// 无效配置被跳过
	writeFile(t, path, "log:\n  level: loud\n")
	require.NoError(t, os.Chtimes(path, time.Now().Add(time.Second), time.Now().Add(time.Second)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "info", r.Current().Log.Level)

	writeFile(t, path, "log:\n  level: debug\n")
	require.NoError(t, os.Chtimes(path, time.Now().Add(2*time.Second), time.Now().Add(2*time.Second)))

	select {
	case lvl := <-levels:
		assert.Equal(t, "debug", lvl)
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback not invoked")
	}
	assert.Equal(t, "debug", r.Current().Log.Level)
}

func TestNewReloader_NeedsPath(t *testing.T) {
	_, err := NewReloader(NewLoader().WithEnvLookup(envMap(nil)), nil)
	assert.Error(t, err)
	_, err = NewReloader(nil, nil)
	assert.Error(t, err)
}
