package workflow

import (
	"context"
	"time"

	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/validation"
	"go.uber.org/zap"
)

// EventType defines the type of pipeline event.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventRecallHit      EventType = "recall_hit"
	EventRunResumed     EventType = "run_resumed"
	EventStageStarted   EventType = "stage_started"
	EventAttemptFailed  EventType = "attempt_failed"
	EventStageCommitted EventType = "stage_committed"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
)

// Event carries information about a pipeline execution step.
type Event struct {
	Type       EventType              `json:"type"`
	SessionID  string                 `json:"session_id"`
	SubjectKey string                 `json:"subject_key,omitempty"`
	Scope      string                 `json:"scope,omitempty"`
	Stage      string                 `json:"stage,omitempty"`
	Ordinal    int                    `json:"ordinal"`
	Attempt    int                    `json:"attempt,omitempty"`
	Class      types.FailureClass     `json:"class,omitempty"`
	Detail     string                 `json:"detail,omitempty"`
	Violations []validation.Violation `json:"violations,omitempty"`
	Duration   time.Duration          `json:"duration,omitempty"`
	Time       time.Time              `json:"time"`
}

// Observer receives pipeline events. OnEvent is called synchronously on the
// run goroutine, so implementations must not block.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// EventEmitter is a per-call callback that receives pipeline events.
type EventEmitter func(Event)

type eventEmitterKey struct{}

// WithEventEmitter stores an EventEmitter in the context. Runs started with
// this context report every event to it in addition to the registered observers.
func WithEventEmitter(ctx context.Context, emitter EventEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, eventEmitterKey{}, emitter)
}

func eventEmitterFromContext(ctx context.Context) (EventEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(eventEmitterKey{}).(EventEmitter)
	return emit, ok && emit != nil
}

// dispatcher fans an event out to observers, isolating the run from observer panics.
type dispatcher struct {
	observers []Observer
	logger    *zap.Logger
	now       func() time.Time
}

func (d *dispatcher) emit(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = d.now()
	}
	for _, o := range d.observers {
		d.safeCall(ev, func() { o.OnEvent(ctx, ev) })
	}
	if emit, ok := eventEmitterFromContext(ctx); ok {
		d.safeCall(ev, func() { emit(ev) })
	}
}

func (d *dispatcher) safeCall(ev Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer panicked",
				zap.String("event", string(ev.Type)),
				zap.String("session_id", ev.SessionID),
				zap.Any("panic", r))
		}
	}()
	fn()
}
