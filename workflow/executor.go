package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/valuationflow/internal/backoff"
	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// FreshnessWindow is how long a completed run may be recalled. Zero or
	// negative disables recall.
	FreshnessWindow time.Duration
	// MaxConcurrentRuns bounds the number of runs executing at once.
	MaxConcurrentRuns int
	Retry             RetryPolicy
}

// DefaultExecutorConfig returns a 24h freshness window and 16 concurrent runs.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		FreshnessWindow:   24 * time.Hour,
		MaxConcurrentRuns: 16,
		Retry:             DefaultRetryPolicy(),
	}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithClock overrides the clock used for checkpoint and completion timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleeper overrides the backoff wait of the retry controller.
func WithSleeper(s backoff.Sleeper) ExecutorOption {
	return func(e *Executor) { e.sleeper = s }
}

// WithValidator overrides the stage validator.
func WithValidator(v *validation.StageValidator) ExecutorOption {
	return func(e *Executor) { e.validator = v }
}

// WithRequestValidator adds a domain check applied to every normalized request.
func WithRequestValidator(fn func(types.Request) error) ExecutorOption {
	return func(e *Executor) { e.checkRequest = fn }
}

// Executor drives sessions through the pipeline: recall, resume, then each
// remaining stage in order with a durable checkpoint after every stage.
type Executor struct {
	pipeline     *Pipeline
	store        persistence.Store
	config       ExecutorConfig
	logger       *zap.Logger
	observers    []Observer
	now          func() time.Time
	sleeper      backoff.Sleeper
	validator    *validation.StageValidator
	checkRequest func(types.Request) error

	retry    *RetryController
	events   *dispatcher
	sem      *semaphore.Weighted
	inflight singleflight.Group

	mu         sync.Mutex
	sessions   map[string]*sessionCall
	generation uint64
}

// NewExecutor creates an Executor.
func NewExecutor(pipeline *Pipeline, store persistence.Store, config ExecutorConfig, opts ...ExecutorOption) (*Executor, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("%w: nil pipeline", ErrInvalidPipeline)
	}
	if store == nil {
		return nil, errors.New("executor requires a checkpoint store")
	}
	if config.MaxConcurrentRuns <= 0 {
		config.MaxConcurrentRuns = DefaultExecutorConfig().MaxConcurrentRuns
	}

	e := &Executor{
		pipeline: pipeline,
		store:    store,
		config:   config,
		logger:   zap.NewNop(),
		now:      time.Now,
		sessions: make(map[string]*sessionCall),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "pipeline_executor"))

	if e.validator == nil {
		e.validator = validation.NewStageValidator(nil, e.logger)
	}
	e.events = &dispatcher{observers: e.observers, logger: e.logger, now: e.now}

	retryOpts := []RetryOption{
		WithRetryLogger(e.logger),
		WithAttemptObserver(e.events.emit),
	}
	if e.sleeper != nil {
		retryOpts = append(retryOpts, WithBackoffSleeper(e.sleeper))
	}
	e.retry = NewRetryController(e.validator, config.Retry, retryOpts...)
	e.sem = semaphore.NewWeighted(int64(config.MaxConcurrentRuns))
	return e, nil
}

// Pipeline returns the executed pipeline.
func (e *Executor) Pipeline() *Pipeline { return e.pipeline }

// Submit runs the pipeline for a subject and scope under the given session.
func (e *Executor) Submit(ctx context.Context, subjectKey, scope, sessionID string) (*RunResult, error) {
	return e.Run(ctx, types.Request{SubjectKey: subjectKey, Scope: scope, SessionID: sessionID})
}

// Run executes one request. The error is non-nil only for malformed
// requests; every other outcome is described by the RunResult. Concurrent
// runs of the same session share a single execution, which stops only when
// every caller waiting on it has been cancelled.
func (e *Executor) Run(ctx context.Context, req types.Request) (*RunResult, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.checkRequest != nil {
		if err := e.checkRequest(req); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, err.Error()).
				WithCause(err).
				WithHTTPStatus(types.HTTPStatusFor(types.ErrInvalidRequest))
		}
	}

	r := e.await(ctx, req)
	if r.Err != nil {
		return nil, r.Err
	}
	res := r.Val.(*RunResult)
	if r.Shared && (res.SubjectKey != req.SubjectKey || res.Scope != req.Scope) {
		return nil, types.NewError(types.ErrSessionMismatch,
			fmt.Sprintf("session %s is already running for %s/%s", req.SessionID, res.SubjectKey, res.Scope)).
			WithHTTPStatus(types.HTTPStatusFor(types.ErrSessionMismatch))
	}
	return res, nil
}

// RunAll executes independent requests concurrently. results[i] belongs to
// reqs[i] and is nil when that request was malformed; the joined error lists
// every malformed request.
func (e *Executor) RunAll(ctx context.Context, reqs []types.Request) ([]*RunResult, error) {
	results := make([]*RunResult, len(reqs))
	errs := make([]error, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxConcurrentRuns)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.Run(gctx, req)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("request %d (%s): %w", i, req.SessionID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

func (e *Executor) run(ctx context.Context, req types.Request) (*RunResult, error) {
	start := e.now()
	res := &RunResult{SessionID: req.SessionID, SubjectKey: req.SubjectKey, Scope: req.Scope}
	log := e.logger.With(
		zap.String("session_id", req.SessionID),
		zap.String("subject_key", req.SubjectKey),
		zap.String("scope", req.Scope))

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return e.fail(ctx, res, start, &Diagnostics{
			Ordinal: -1, Class: types.FailureCancelled, Detail: "cancelled before start: " + err.Error(),
		}), nil
	}
	defer e.sem.Release(1)
	// Acquire 在有空位时不检查 ctx
	if err := ctx.Err(); err != nil {
		return e.fail(ctx, res, start, &Diagnostics{
			Ordinal: -1, Class: types.FailureCancelled, Detail: "cancelled before start: " + err.Error(),
		}), nil
	}

	e.events.emit(ctx, e.event(EventRunStarted, req))

	// 1. recall
	if e.config.FreshnessWindow > 0 {
		entry, err := e.store.Recall(ctx, req.SubjectKey, req.Scope, e.config.FreshnessWindow)
		switch {
		case err == nil:
			summary := entry.Summary
			res.Status = StatusCompleted
			res.Summary = &summary
			res.Recalled = true
			res.Duration = e.now().Sub(start)
			ev := e.event(EventRecallHit, req)
			ev.Detail = "recalled session " + summary.SessionID
			e.events.emit(ctx, ev)
			log.Info("recalled fresh result", zap.String("recalled_session", summary.SessionID))
			return res, nil
		case errors.Is(err, persistence.ErrNotFound):
		default:
			log.Warn("recall lookup failed, computing", zap.Error(err))
		}
	}

	// 2. resume
	state := NewPipelineState(req.SessionID)
	cp, err := e.store.LatestCheckpoint(ctx, req.SessionID)
	switch {
	case err == nil:
		if cp.SubjectKey != req.SubjectKey || cp.Scope != req.Scope {
			return nil, types.NewError(types.ErrSessionMismatch,
				fmt.Sprintf("session %s belongs to %s/%s", req.SessionID, cp.SubjectKey, cp.Scope)).
				WithHTTPStatus(types.HTTPStatusFor(types.ErrSessionMismatch))
		}
		restored, rerr := e.restore(req.SessionID, cp)
		if rerr != nil {
			return e.fail(ctx, res, start, &Diagnostics{
				Stage: cp.StageName, Ordinal: cp.Ordinal, Class: types.FailureInternal, Detail: rerr.Error(),
			}), nil
		}
		state = restored
		resumed := state.HighestOrdinal()
		res.ResumedFrom = &resumed
		ev := e.event(EventRunResumed, req)
		ev.Stage, ev.Ordinal = cp.StageName, resumed
		e.events.emit(ctx, ev)
		log.Info("resuming from checkpoint", zap.String("stage", cp.StageName), zap.Int("ordinal", resumed))

	case errors.Is(err, persistence.ErrNotFound):
	default:
		class := types.FailureInternal
		if ctx.Err() != nil {
			class = types.FailureCancelled
		}
		return e.fail(ctx, res, start, &Diagnostics{
			Ordinal: -1, Class: class, Detail: "load checkpoint: " + err.Error(),
		}), nil
	}

	// 3. remaining stages; a fully checkpointed session goes straight to indexing
	for i := state.Len(); i < e.pipeline.Len(); i++ {
		def := e.pipeline.Stage(i)

		// 安全点
		if err := ctx.Err(); err != nil {
			log.Info("run cancelled before stage", zap.String("stage", def.Name))
			return e.fail(ctx, res, start, &Diagnostics{
				Stage: def.Name, Ordinal: def.Ordinal, Class: types.FailureCancelled,
				Detail: "cancelled before stage started: " + err.Error(),
			}), nil
		}

		stageStart := e.now()
		ev := e.event(EventStageStarted, req)
		ev.Stage, ev.Ordinal = def.Name, def.Ordinal
		e.events.emit(ctx, ev)

		next, attempts, diag := e.executeStage(ctx, state, def, req)
		if diag != nil {
			return e.fail(ctx, res, start, diag), nil
		}
		state = next

		report := StageReport{Stage: def.Name, Ordinal: def.Ordinal, Attempts: attempts, Duration: e.now().Sub(stageStart)}
		res.Stages = append(res.Stages, report)

		ev = e.event(EventStageCommitted, req)
		ev.Stage, ev.Ordinal, ev.Attempt, ev.Duration = def.Name, def.Ordinal, attempts.Total, report.Duration
		e.events.emit(ctx, ev)
		log.Debug("stage committed", zap.String("stage", def.Name), zap.Int("attempts", attempts.Total))
	}

	// 4. index for recall
	completedAt := e.now()
	summary := persistence.Summary{
		SessionID:   req.SessionID,
		SubjectKey:  req.SubjectKey,
		Scope:       req.Scope,
		Stages:      state.Stages(),
		State:       state.Snapshot(),
		CompletedAt: completedAt,
	}
	res.Status = StatusCompleted
	res.Summary = &summary
	if err := e.store.IndexCompletion(context.WithoutCancel(ctx), req.SubjectKey, req.Scope, summary); err != nil {
		log.Error("failed to index completed run", zap.Error(err))
		res.IndexError = err.Error()
	}
	res.Duration = completedAt.Sub(start)

	ev := e.event(EventRunCompleted, req)
	ev.Duration = res.Duration
	e.events.emit(ctx, ev)
	log.Info("run completed", zap.Int("stages_executed", len(res.Stages)), zap.Duration("duration", res.Duration))
	return res, nil
}

// executeStage runs one stage to a committed checkpoint. Nothing in here
// observes cancellation of ctx except the backoff wait between attempts.
func (e *Executor) executeStage(ctx context.Context, state PipelineState, def StageDefinition, req types.Request) (PipelineState, Attempts, *Diagnostics) {
	view := state.View(def.Requires)
	out, attempts, err := e.retry.Invoke(ctx, def, view, req)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return state, attempts, &Diagnostics{
				Stage: se.Stage, Ordinal: se.Ordinal, Class: se.Class,
				Detail: se.Detail, Violations: se.Violations, Attempts: se.Attempts,
			}
		}
		return state, attempts, &Diagnostics{
			Stage: def.Name, Ordinal: def.Ordinal, Class: types.FailureInternal, Detail: err.Error(), Attempts: attempts,
		}
	}

	next, err := state.Merge(def.Name, def.Ordinal, *out)
	if err != nil {
		return state, attempts, &Diagnostics{
			Stage: def.Name, Ordinal: def.Ordinal, Class: types.FailureInternal, Detail: err.Error(), Attempts: attempts,
		}
	}

	cp := &persistence.Checkpoint{
		SessionID:   req.SessionID,
		SubjectKey:  req.SubjectKey,
		Scope:       req.Scope,
		StageName:   def.Name,
		Ordinal:     def.Ordinal,
		State:       next.Snapshot(),
		CommittedAt: e.now(),
	}
	if err := e.store.Commit(context.WithoutCancel(ctx), cp); err != nil {
		e.logger.Error("checkpoint write failed",
			zap.String("session_id", req.SessionID),
			zap.String("stage", def.Name),
			zap.Error(err))
		return state, attempts, &Diagnostics{
			Stage: def.Name, Ordinal: def.Ordinal, Class: types.FailureCheckpointWrite,
			Detail: "checkpoint write failed: " + err.Error(), Attempts: attempts,
		}
	}
	return next, attempts, nil
}

// restore rebuilds state from a checkpoint and checks it against the pipeline.
func (e *Executor) restore(sessionID string, cp *persistence.Checkpoint) (PipelineState, error) {
	state, err := FromSnapshot(sessionID, cp.State)
	if err != nil {
		return PipelineState{}, err
	}
	if state.HighestOrdinal() != cp.Ordinal {
		return PipelineState{}, fmt.Errorf("checkpoint ordinal %d does not match snapshot with %d stage(s)", cp.Ordinal, state.Len())
	}
	if state.Len() > e.pipeline.Len() {
		return PipelineState{}, fmt.Errorf("checkpoint has %d stage(s), pipeline has %d", state.Len(), e.pipeline.Len())
	}
	for i, name := range state.Stages() {
		if want := e.pipeline.Stage(i).Name; want != name {
			return PipelineState{}, fmt.Errorf("checkpoint stage %d is %q, pipeline expects %q", i, name, want)
		}
	}
	return state, nil
}

func (e *Executor) fail(ctx context.Context, res *RunResult, start time.Time, diag *Diagnostics) *RunResult {
	res.Status = StatusFailed
	res.Diagnostics = diag
	res.Duration = e.now().Sub(start)

	ev := Event{
		Type:       EventRunFailed,
		SessionID:  res.SessionID,
		SubjectKey: res.SubjectKey,
		Scope:      res.Scope,
		Stage:      diag.Stage,
		Ordinal:    diag.Ordinal,
		Attempt:    diag.Attempts.Total,
		Class:      diag.Class,
		Detail:     diag.Detail,
		Violations: diag.Violations,
		Duration:   res.Duration,
	}
	e.events.emit(ctx, ev)
	e.logger.Warn("run failed",
		zap.String("session_id", res.SessionID),
		zap.String("stage", diag.Stage),
		zap.String("class", string(diag.Class)),
		zap.String("detail", diag.Detail))
	return res
}

func (e *Executor) event(t EventType, req types.Request) Event {
	return Event{Type: t, SessionID: req.SessionID, SubjectKey: req.SubjectKey, Scope: req.Scope}
}
