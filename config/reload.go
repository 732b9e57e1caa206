// 配置文件变更监听与重载。
//
// 轮询配置文件的修改时间，变化后重新加载并回调。
package config

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadOption configures a Reloader.
type ReloadOption func(*Reloader)

// WithPollInterval sets how often the file is checked.
func WithPollInterval(d time.Duration) ReloadOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReloadLogger sets the logger for the reloader.
func WithReloadLogger(logger *zap.Logger) ReloadOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reloader watches a config file and reloads it through a Loader when its
// modification time changes. Invalid configurations are logged and skipped.
type Reloader struct {
	loader   *Loader
	path     string
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks []func(*Config)
	lastMod   time.Time
	current   *Config

	stop chan struct{}
	done chan struct{}
}

// NewReloader creates a Reloader for loader's config file.
func NewReloader(loader *Loader, initial *Config, opts ...ReloadOption) (*Reloader, error) {
	if loader == nil || loader.ConfigPath() == "" {
		return nil, errors.New("reloader needs a loader with a config path")
	}
	r := &Reloader{
		loader:   loader,
		path:     loader.ConfigPath(),
		interval: time.Second,
		logger:   zap.NewNop(),
		current:  initial,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))
	if info, err := os.Stat(r.path); err == nil {
		r.lastMod = info.ModTime()
	}
	return r, nil
}

// OnReload registers a callback invoked with every successfully reloaded config.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Current returns the most recently loaded config.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Start begins polling until ctx is done or Stop is called.
func (r *Reloader) Start(ctx context.Context) {
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	r.stop, r.done = stop, done
	r.mu.Unlock()

	go r.loop(ctx, stop, done)
	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("interval", r.interval))
}

// Stop halts polling and waits for the loop to exit.
func (r *Reloader) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop = nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (r *Reloader) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.check()
		}
	}
}

// check 比较修改时间，变化后重新加载
func (r *Reloader) check() {
	info, err := os.Stat(r.path)
	if err != nil {
		return
	}
	r.mu.Lock()
	changed := info.ModTime().After(r.lastMod)
	if changed {
		r.lastMod = info.ModTime()
	}
	r.mu.Unlock()
	if !changed {
		return
	}

	cfg, err := r.loader.Load()
	if err != nil {
		r.logger.Warn("config reload rejected", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.current = cfg
	callbacks := append([]func(*Config){}, r.callbacks...)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.String("path", r.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
