package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/valuationflow/types"
)

// sessionCall is one shared execution of a session. Its context outlives any
// single caller and is cancelled only once every waiter's context is done.
type sessionCall struct {
	key    string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	waiters []context.Context
}

func newSessionCall(key string, parent context.Context) *sessionCall {
	// 保留首个调用方的 value（request id、trace），不继承其取消
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &sessionCall{key: key, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// add registers a waiter. It fails once the call has stopped.
func (c *sessionCall) add(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stoppedLocked() != nil {
		return false
	}
	c.waiters = append(c.waiters, ctx)
	return true
}

// stopped returns a non-nil error once the call is cancelled or every
// waiter has given up, cancelling the shared context in the latter case.
func (c *sessionCall) stopped() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stoppedLocked()
}

func (c *sessionCall) stoppedLocked() error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if len(c.waiters) == 0 {
		return nil
	}
	var err error
	for _, w := range c.waiters {
		if err = w.Err(); err == nil {
			return nil
		}
	}
	c.cancel()
	return err
}

// runContext 返回执行使用的 context；Err 同步检查等待者，安全点无需等待取消传播
func (c *sessionCall) runContext() context.Context {
	return sessionContext{Context: c.ctx, call: c}
}

type sessionContext struct {
	context.Context
	call *sessionCall
}

func (s sessionContext) Err() error { return s.call.stopped() }

// await joins the session's shared execution, starting one if none is
// running, and waits for its result. A caller whose ctx is done stops
// waiting with a cancelled result; the last one to leave instead waits for
// the execution to stop at its next safe point.
func (e *Executor) await(ctx context.Context, req types.Request) singleflight.Result {
	start := e.now()
	for {
		c, ch := e.join(ctx, req)
		if ch == nil {
			// 上一次执行已被所有调用方放弃，等它停下后重新开始
			select {
			case <-c.done:
				continue
			case <-ctx.Done():
				return singleflight.Result{Val: e.abandon(req, start, ctx.Err())}
			}
		}

		select {
		case r := <-ch:
			return r
		case <-ctx.Done():
			if c.stopped() == nil {
				return singleflight.Result{Val: e.abandon(req, start, ctx.Err())}
			}
			return <-ch
		}
	}
}

// join returns the running call for the session, or starts a new one. ch is
// nil when the running call has already stopped.
func (e *Executor) join(ctx context.Context, req types.Request) (*sessionCall, <-chan singleflight.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.sessions[req.SessionID]
	if c == nil {
		e.generation++
		c = newSessionCall(fmt.Sprintf("%s#%d", req.SessionID, e.generation), ctx)
		e.sessions[req.SessionID] = c
	}
	if !c.add(ctx) {
		return c, nil
	}
	// release 需要 e.mu，所以执行不会在 DoChan 登记之前结束
	ch := e.inflight.DoChan(c.key, func() (any, error) {
		defer e.release(req.SessionID, c)
		return e.run(c.runContext(), req)
	})
	return c, ch
}

func (e *Executor) release(sessionID string, c *sessionCall) {
	e.mu.Lock()
	if e.sessions[sessionID] == c {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
	c.cancel()
	close(c.done)
}

// abandon is the result of a caller that stopped waiting while the shared
// execution carries on for the others.
func (e *Executor) abandon(req types.Request, start time.Time, err error) *RunResult {
	e.logger.Info("caller stopped waiting for shared session run",
		zap.String("session_id", req.SessionID),
		zap.Error(err))
	return &RunResult{
		Status:     StatusFailed,
		SessionID:  req.SessionID,
		SubjectKey: req.SubjectKey,
		Scope:      req.Scope,
		Diagnostics: &Diagnostics{
			Ordinal: -1,
			Class:   types.FailureCancelled,
			Detail:  "cancelled while waiting for the session run: " + err.Error(),
		},
		Duration: e.now().Sub(start),
	}
}
