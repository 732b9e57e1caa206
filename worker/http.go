package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/valuationflow/internal/tlsutil"
	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/workflow"
)

const (
	defaultHTTPTimeout = 2 * time.Minute
	maxResponseBytes   = 8 << 20
	maxNarrativeBytes  = 2048
)

// HTTPConfig configures an HTTPWorker.
type HTTPConfig struct {
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	APIKey   string        `json:"api_key" yaml:"api_key"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// HTTPWorker posts WorkerInput JSON to a remote compute service.
type HTTPWorker struct {
	Endpoint string
	Client   *http.Client
	Limiter  *rate.Limiter
	APIKey   string

	logger *zap.Logger
}

// NewHTTPWorker builds an HTTPWorker from config.
func NewHTTPWorker(cfg HTTPConfig, logger *zap.Logger) (*HTTPWorker, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("worker endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid worker endpoint %q: %w", cfg.Endpoint, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	w := &HTTPWorker{
		Endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		Client:   tlsutil.NewHTTPClient(timeout),
		APIKey:   cfg.APIKey,
		logger:   logger.With(zap.String("component", "http_worker")),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		w.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return w, nil
}

// Invoke implements workflow.Worker.
func (w *HTTPWorker) Invoke(ctx context.Context, in workflow.WorkerInput) (*workflow.WorkerOutput, error) {
	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			return nil, types.NewTransientError(types.ErrRateLimited, "worker rate limit wait aborted", err).WithStage(in.Stage)
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, types.NewPermanentError("encode worker input", err).WithStage(in.Stage)
	}

	endpoint := fmt.Sprintf("%s/stages/%s", w.Endpoint, url.PathEscape(in.Stage))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewPermanentError("build worker request", err).WithStage(in.Stage)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Session-ID", in.Request.SessionID)
	if w.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.APIKey)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err).WithStage(in.Stage)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		w.logger.Warn("worker returned error status",
			zap.String("stage", in.Stage),
			zap.Int("attempt", in.Attempt),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return nil, mapHTTPError(resp.StatusCode, msg).WithStage(in.Stage)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(err).WithStage(in.Stage)
	}

	var out workflow.WorkerOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		// 响应体损坏按结构违规处理，下一次尝试会带上反馈
		w.logger.Warn("worker returned malformed body",
			zap.String("stage", in.Stage),
			zap.Int("attempt", in.Attempt),
			zap.Error(err),
		)
		return &workflow.WorkerOutput{Narrative: truncate(string(raw), maxNarrativeBytes)}, nil
	}

	w.logger.Debug("worker call completed",
		zap.String("stage", in.Stage),
		zap.Int("attempt", in.Attempt),
		zap.Duration("duration", time.Since(start)),
	)
	return &out, nil
}

// mapHTTPError 将 HTTP 状态码映射为带重试标记的 types.Error
func mapHTTPError(status int, msg string) *types.Error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewTransientError(types.ErrRateLimited, msg, nil).WithHTTPStatus(status)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return types.NewTransientError(types.ErrUpstreamTimeout, msg, nil).WithHTTPStatus(status)
	case status >= 500:
		return types.NewTransientError(types.ErrServiceUnavailable, msg, nil).WithHTTPStatus(status)
	default:
		return types.NewPermanentError(msg, nil).WithHTTPStatus(status)
	}
}

func classifyTransport(err error) *types.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewTransientError(types.ErrUpstreamTimeout, "worker call timed out", err)
	}
	return types.NewTransientError(types.ErrServiceUnavailable, "worker unreachable", err)
}

// readErrorMessage 读取错误响应中的消息，解析失败则回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxNarrativeBytes))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Code != "" {
			return fmt.Sprintf("%s (code: %s)", errResp.Error.Message, errResp.Error.Code)
		}
		return errResp.Error.Message
	}
	if len(data) == 0 {
		return http.StatusText(http.StatusInternalServerError)
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
