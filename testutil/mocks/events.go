package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/valuationflow/workflow"
)

// EventRecorder 收集管道事件，实现 workflow.Observer
type EventRecorder struct {
	mu     sync.Mutex
	events []workflow.Event
}

// NewEventRecorder 创建新的 EventRecorder
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// OnEvent 实现 workflow.Observer
func (r *EventRecorder) OnEvent(_ context.Context, ev workflow.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events 返回已收集的事件副本
func (r *EventRecorder) Events() []workflow.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]workflow.Event(nil), r.events...)
}

// Types 返回事件类型序列
func (r *EventRecorder) Types() []workflow.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflow.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Count 返回指定类型的事件数
func (r *EventRecorder) Count(t workflow.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
