package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/api/handlers"
	"github.com/BaSui01/valuationflow/config"
	"github.com/BaSui01/valuationflow/internal/database"
	"github.com/BaSui01/valuationflow/internal/metrics"
	"github.com/BaSui01/valuationflow/internal/migration"
	"github.com/BaSui01/valuationflow/internal/server"
	"github.com/BaSui01/valuationflow/internal/telemetry"
	"github.com/BaSui01/valuationflow/internal/tlsutil"
	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/valuation"
	"github.com/BaSui01/valuationflow/worker"
	"github.com/BaSui01/valuationflow/workflow"
)

const metricsNamespace = "valuationflow"

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装存储、执行器与 HTTP 服务，并管理它们的生命周期
type Server struct {
	cfg    *config.Config
	loader *config.Loader
	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewServer 创建服务器；loader 带配置文件路径时启用热重载
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{cfg: cfg, loader: loader, logger: logger, level: level}
}

// Run 启动所有组件并阻塞到 ctx 结束或服务器失败，返回前释放全部资源
func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfg

	// 1. 遥测
	providers, err := telemetry.Init(ctx, cfg.Telemetry, s.logger,
		attribute.Int("valuationflow.pipeline.stages", len(valuation.StageNames())))
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// 2. 指标与存储
	collector := metrics.NewCollector(metricsNamespace, s.logger)
	store, closeStore, err := openStore(ctx, cfg, s.logger, collector)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			s.logger.Warn("store close failed", zap.Error(err))
		}
	}()

	// 3. 执行器与观察者
	tracing, err := telemetry.NewPipelineObserver(providers.TracerProvider(), providers.MeterProvider())
	if err != nil {
		return fmt.Errorf("create pipeline observer: %w", err)
	}
	hub := handlers.NewEventHub(s.logger)
	workers, err := newWorkerRegistry(cfg, s.logger)
	if err != nil {
		return err
	}
	executor, err := newExecutor(cfg, workers, store, s.logger, collector, tracing, hub)
	if err != nil {
		return err
	}

	// 4. 后台任务
	s.startReloader(ctx)
	go runJanitor(ctx, store, cfg.Store.Retention, cfg.Store.JanitorInterval, s.logger)

	// 5. HTTP 服务
	managers, err := s.managers(ctx, executor, store, hub, collector)
	if err != nil {
		return err
	}

	s.logger.Info("all components ready",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.Strings("stages", executor.Pipeline().Names()),
	)
	return server.NewGroup(s.logger, managers...).Run(ctx)
}

// managers 构建 API 与 metrics 两个服务器
func (s *Server) managers(ctx context.Context, executor *workflow.Executor, store persistence.Store, hub *handlers.EventHub, collector *metrics.Collector) ([]*server.Manager, error) {
	cfg := s.cfg

	var tlsConfig *tls.Config
	if cfg.Server.TLSCertFile != "" {
		var err error
		tlsConfig, err = tlsutil.ServerConfig(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
	}

	health := newHealthHandler(store, s.logger)
	mux := newRouter(executor, store, hub, health, cfg.Pipeline.RunTimeout, s.logger)
	apiHandler := Chain(mux, s.middlewares(ctx, collector)...)

	apiCfg := serverConfig(cfg.Server, cfg.Server.HTTPPort)
	apiCfg.TLS = tlsConfig
	managers := []*server.Manager{server.NewManager("api", apiHandler, apiCfg, s.logger)}

	if cfg.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		metricsCfg := serverConfig(cfg.Server, cfg.Server.MetricsPort)
		metricsCfg.WriteTimeout = 30 * time.Second
		managers = append(managers, server.NewManager("metrics", metricsMux, metricsCfg, s.logger))
	}
	return managers, nil
}

// middlewares 外层到内层的中间件顺序
func (s *Server) middlewares(ctx context.Context, collector *metrics.Collector) []Middleware {
	cfg := s.cfg
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(collector),
		RequestLogger(s.logger),
	}
	if cfg.Server.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, s.logger))
	}
	if cfg.Auth.Enabled {
		chain = append(chain, Auth(cfg.Auth, publicPaths, s.logger))
	}
	return chain
}

// startReloader 配置文件变化时热更新日志级别；其余配置需要重启生效
func (s *Server) startReloader(ctx context.Context) {
	reloader, err := config.NewReloader(s.loader, s.cfg, config.WithReloadLogger(s.logger))
	if err != nil {
		s.logger.Debug("config hot reload disabled", zap.Error(err))
		return
	}
	reloader.OnReload(func(c *config.Config) {
		s.level.SetLevel(parseLevel(c.Log.Level))
		s.logger.Info("config reloaded, log level applied", zap.String("level", c.Log.Level))
	})
	reloader.Start(ctx)
}

// =============================================================================
// 🔧 组件构建（serve 与 run 共用）
// =============================================================================

// publicPaths 不需要认证的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// newRouter 注册 API 路由
func newRouter(executor handlers.Submitter, store handlers.CheckpointLister, hub *handlers.EventHub, health *handlers.HealthHandler, runTimeout time.Duration, logger *zap.Logger) *http.ServeMux {
	valuations := handlers.NewValuationHandler(executor, store, runTimeout, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/valuations", valuations.HandleSubmit)
	mux.HandleFunc("GET /api/v1/sessions/{id}/checkpoints", valuations.HandleCheckpoints)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", hub.HandleEvents)

	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion)
	return mux
}

func newHealthHandler(store persistence.Store, logger *zap.Logger) *handlers.HealthHandler {
	h := handlers.NewHealthHandler(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		Stages:    valuation.StageNames(),
	}, logger)
	h.RegisterCheck(handlers.CheckFunc("store", store.Ping))
	return h
}

func serverConfig(sc config.ServerConfig, port int) server.Config {
	c := server.DefaultConfig()
	c.Addr = fmt.Sprintf(":%d", port)
	c.ReadTimeout = sc.ReadTimeout
	c.WriteTimeout = sc.WriteTimeout
	c.ShutdownTimeout = sc.ShutdownTimeout
	return c
}

// openStore 按配置打开检查点存储；collector 非 nil 时记录存储与连接池指标
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (persistence.Store, func() error, error) {
	var (
		store persistence.Store
		pool  *database.PoolManager
		err   error
	)

	if persistence.StoreType(cfg.Store.Type) == persistence.StoreTypeSQL {
		var opts []database.PoolOption
		if collector != nil {
			driver := cfg.Database.Driver
			opts = append(opts, database.WithStatsHook(func(st database.PoolStats) {
				collector.RecordDBConnections(driver, st.OpenConnections, st.Idle)
			}))
		}
		pool, err = database.Open(ctx, cfg.Database, logger, opts...)
		if err != nil {
			return nil, nil, err
		}
		sqlStore, err := persistence.NewSQLStore(pool.DB(), persistence.WithLogger(logger))
		if err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
		if err := prepareSchema(ctx, cfg.Database, sqlStore, logger); err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
		store = sqlStore
	} else {
		store, err = persistence.NewStore(cfg.StoreConfig(), nil, persistence.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
		}
	}

	if collector != nil {
		store = metrics.InstrumentStore(store, cfg.Store.Type, collector)
	}
	logger.Info("checkpoint store opened", zap.String("type", cfg.Store.Type))

	closeFn := func() error {
		err := store.Close()
		if pool != nil {
			err = errors.Join(err, pool.Close())
		}
		return err
	}
	return store, closeFn, nil
}

// prepareSchema sqlite 由存储自行建表，其余数据库按配置执行版本化迁移
func prepareSchema(ctx context.Context, dbCfg config.DatabaseConfig, store *persistence.SQLStore, logger *zap.Logger) error {
	if !migration.Supported(dbCfg.Driver) {
		return store.AutoMigrate(ctx)
	}
	if !dbCfg.AutoMigrate {
		return nil
	}

	m, err := migration.NewMigratorFromDatabaseConfig(dbCfg, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _ = m.Close() }()
	if err := m.Up(ctx); err != nil {
		return err
	}
	return nil
}

// newWorkerRegistry 未单独注册的阶段都交给远端计算服务
func newWorkerRegistry(cfg *config.Config, logger *zap.Logger) (*worker.Registry, error) {
	remote, err := worker.NewHTTPWorker(cfg.HTTPWorkerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("create stage worker: %w", err)
	}
	return worker.NewRegistry(remote), nil
}

// newExecutor 构建估值管道与执行器
func newExecutor(cfg *config.Config, workers valuation.WorkerSource, store persistence.Store, logger *zap.Logger, observers ...workflow.Observer) (*workflow.Executor, error) {
	pipeline, err := valuation.NewPipeline(workers, cfg.CatalogOptions())
	if err != nil {
		return nil, fmt.Errorf("build valuation pipeline: %w", err)
	}
	opts := []workflow.ExecutorOption{
		workflow.WithLogger(logger),
		workflow.WithRequestValidator(valuation.ValidateRequest),
	}
	for _, o := range observers {
		opts = append(opts, workflow.WithObserver(o))
	}
	return workflow.NewExecutor(pipeline, store, cfg.ExecutorConfig(), opts...)
}

// runJanitor 定期清理超过保留期的检查点与召回索引
func runJanitor(ctx context.Context, store persistence.Store, retention, interval time.Duration, logger *zap.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	log := logger.With(zap.String("component", "janitor"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Warn("prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("pruned expired records", zap.Int("count", n))
			}
		}
	}
}
