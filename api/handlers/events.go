package handlers

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/workflow"
)

const (
	defaultSubscriberBuffer = 64
	eventWriteTimeout       = 10 * time.Second
)

// =============================================================================
// 📡 运行事件推送
// =============================================================================

// EventHub 把管道事件按会话分发给 WebSocket 订阅者。
// 作为 workflow.Observer 注册到执行器；慢订阅者的事件被丢弃，不阻塞运行。
type EventHub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	buffer  int
	dropped atomic.Int64
	logger  *zap.Logger

	// 允许的跨域 Origin 模式，空表示只允许同源
	originPatterns []string
}

type subscription struct {
	ch chan workflow.Event
}

// EventHubOption configures an EventHub.
type EventHubOption func(*EventHub)

// WithSubscriberBuffer 设置每个订阅者的缓冲事件数
func WithSubscriberBuffer(n int) EventHubOption {
	return func(h *EventHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns 允许匹配的跨域 Origin 建立连接
func WithOriginPatterns(patterns ...string) EventHubOption {
	return func(h *EventHub) { h.originPatterns = patterns }
}

// NewEventHub 创建事件中心
func NewEventHub(logger *zap.Logger, opts ...EventHubOption) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventHub{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: defaultSubscriberBuffer,
		logger: logger.With(zap.String("component", "event_hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnEvent implements workflow.Observer.
func (h *EventHub) OnEvent(_ context.Context, ev workflow.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe 订阅会话事件，返回的取消函数必须调用
func (h *EventHub) Subscribe(sessionID string) (<-chan workflow.Event, func()) {
	sub := &subscription{ch: make(chan workflow.Event, h.buffer)}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], sub)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers 返回会话当前的订阅者数
func (h *EventHub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Dropped 返回因订阅者缓冲满而丢弃的事件数
func (h *EventHub) Dropped() int64 {
	return h.dropped.Load()
}

// HandleEvents 处理 GET /api/v1/sessions/{id}/events。
// 升级为 WebSocket 后逐条推送 JSON 事件，运行结束后正常关闭。
func (h *EventHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "session id is required", h.logger)
		return
	}

	// 先订阅再握手，握手后立即提交的运行不会漏事件
	events, cancel := h.Subscribe(sessionID)
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端只读；CloseRead 处理控制帧并在断开时取消 ctx
	ctx := conn.CloseRead(r.Context())
	log := h.logger.With(zap.String("session_id", sessionID))
	log.Debug("event subscriber connected")

	for {
		select {
		case <-ctx.Done():
			log.Debug("event subscriber disconnected")
			return
		case ev := <-events:
			writeCtx, cancelWrite := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancelWrite()
			if err != nil {
				log.Debug("event write failed", zap.Error(err))
				return
			}
			if isTerminal(ev.Type) {
				_ = conn.Close(websocket.StatusNormalClosure, string(ev.Type))
				return
			}
		}
	}
}

// isTerminal 召回命中、完成、失败都会结束一次运行
func isTerminal(t workflow.EventType) bool {
	switch t {
	case workflow.EventRecallHit, workflow.EventRunCompleted, workflow.EventRunFailed:
		return true
	}
	return false
}
