package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/workflow"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

// runOnce 执行一次估值并把结果以 JSON 写到 out。
// 退出码：0 完成，1 运行失败，2 参数或启动错误。
func runOnce(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	subject := fs.String("subject", "", "Subject key")
	scope := fs.String("scope", "", "Valuation scope")
	session := fs.String("session", "", "Session ID (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *session == "" {
		*session = uuid.NewString()
	}

	_, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}
	// stdout 留给结果
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stderr"}
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Pipeline.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
		defer cancel()
	}

	store, closeStore, err := openStore(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("open store failed", zap.Error(err))
		return 2
	}
	defer func() { _ = closeStore() }()

	workers, err := newWorkerRegistry(cfg, logger)
	if err != nil {
		logger.Error("create workers failed", zap.Error(err))
		return 2
	}
	executor, err := newExecutor(cfg, workers, store, logger, progressObserver(logger))
	if err != nil {
		logger.Error("create executor failed", zap.Error(err))
		return 2
	}

	res, err := executor.Submit(ctx, *subject, *scope, *session)
	if err != nil {
		logger.Error("valuation rejected", zap.Error(err))
		return 2
	}
	return writeResult(out, res)
}

// writeResult 输出运行结果，失败运行返回 1
func writeResult(out io.Writer, res *workflow.RunResult) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write result: %v\n", err)
		return 2
	}
	if !res.Completed() {
		return 1
	}
	return 0
}

// progressObserver 把阶段进度写到日志
func progressObserver(logger *zap.Logger) workflow.Observer {
	return workflow.ObserverFunc(func(_ context.Context, ev workflow.Event) {
		switch ev.Type {
		case workflow.EventStageCommitted:
			logger.Info("stage committed", zap.String("stage", ev.Stage), zap.Int("ordinal", ev.Ordinal))
		case workflow.EventAttemptFailed:
			logger.Warn("attempt failed",
				zap.String("stage", ev.Stage),
				zap.Int("attempt", ev.Attempt),
				zap.String("class", string(ev.Class)),
			)
		case workflow.EventRecallHit:
			logger.Info("recalled recent result", zap.String("subject_key", ev.SubjectKey))
		case workflow.EventRunResumed:
			logger.Info("resuming session", zap.Int("ordinal", ev.Ordinal))
		}
	})
}
