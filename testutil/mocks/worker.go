// =============================================================================
// 🤖 ScriptedWorker - 阶段 Worker 模拟实现
// =============================================================================
// 按调用顺序返回预设的输出或错误，并记录每次调用的输入
//
// 使用方法:
//
//	worker := mocks.NewScriptedWorker().
//		Then(mocks.Fail(types.NewTransientError(types.ErrUpstreamTimeout, "timeout", nil))).
//		Then(mocks.Reply(map[string]any{"value": 1}))
// =============================================================================
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/valuationflow/workflow"
)

// Step 是一次脚本化调用的结果
type Step func(ctx context.Context, in workflow.WorkerInput) (*workflow.WorkerOutput, error)

// Reply 返回固定的 payload
func Reply(payload map[string]any) Step {
	return func(context.Context, workflow.WorkerInput) (*workflow.WorkerOutput, error) {
		return &workflow.WorkerOutput{Payload: payload, Narrative: "ok"}, nil
	}
}

// Fail 返回固定的错误
func Fail(err error) Step {
	return func(context.Context, workflow.WorkerInput) (*workflow.WorkerOutput, error) {
		return nil, err
	}
}

// Block 阻塞直到 ctx 结束或 release 关闭，随后返回 payload
func Block(release <-chan struct{}, payload map[string]any) Step {
	return func(ctx context.Context, _ workflow.WorkerInput) (*workflow.WorkerOutput, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return &workflow.WorkerOutput{Payload: payload}, nil
		}
	}
}

// Sleep 等待 d（尊重 ctx）后返回 payload
func Sleep(d time.Duration, payload map[string]any) Step {
	return func(ctx context.Context, _ workflow.WorkerInput) (*workflow.WorkerOutput, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return &workflow.WorkerOutput{Payload: payload}, nil
		}
	}
}

// ScriptedWorker 是 workflow.Worker 的模拟实现
type ScriptedWorker struct {
	mu       sync.Mutex
	steps    []Step
	fallback Step
	calls    []workflow.WorkerInput
}

// NewScriptedWorker 创建新的 ScriptedWorker
func NewScriptedWorker() *ScriptedWorker {
	return &ScriptedWorker{}
}

// Then 追加下一次调用的结果
func (w *ScriptedWorker) Then(step Step) *ScriptedWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.steps = append(w.steps, step)
	return w
}

// Always 设置脚本耗尽后的结果
func (w *ScriptedWorker) Always(step Step) *ScriptedWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fallback = step
	return w
}

// Invoke 实现 workflow.Worker
func (w *ScriptedWorker) Invoke(ctx context.Context, in workflow.WorkerInput) (*workflow.WorkerOutput, error) {
	w.mu.Lock()
	n := len(w.calls)
	w.calls = append(w.calls, in)
	step := w.fallback
	if n < len(w.steps) {
		step = w.steps[n]
	}
	w.mu.Unlock()

	if step == nil {
		return nil, fmt.Errorf("scripted worker: no step for call %d of stage %s", n+1, in.Stage)
	}
	return step(ctx, in)
}

// Calls 返回调用次数
func (w *ScriptedWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

// Inputs 返回所有调用的输入副本
func (w *ScriptedWorker) Inputs() []workflow.WorkerInput {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workflow.WorkerInput(nil), w.calls...)
}

// LastInput 返回最后一次调用的输入
func (w *ScriptedWorker) LastInput() (workflow.WorkerInput, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.calls) == 0 {
		return workflow.WorkerInput{}, false
	}
	return w.calls[len(w.calls)-1], true
}

// Reset 清空调用记录，保留脚本
func (w *ScriptedWorker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = nil
}
