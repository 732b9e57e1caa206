package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/valuationflow/workflow"
)

const instrumentationName = "github.com/BaSui01/valuationflow/workflow"

// PipelineObserver turns pipeline events into OTel spans and counters: one
// span per run with a child span per stage.
type PipelineObserver struct {
	tracer   trace.Tracer
	attempts metric.Int64Counter
	commits  metric.Int64Counter
	runs     metric.Int64Counter

	mu    sync.Mutex
	spans map[string]*runSpans
}

type runSpans struct {
	ctx   context.Context
	run   trace.Span
	stage trace.Span
}

// NewPipelineObserver creates an observer. Nil providers fall back to the
// global ones.
func NewPipelineObserver(tp trace.TracerProvider, mp metric.MeterProvider) (*PipelineObserver, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	o := &PipelineObserver{
		tracer: tp.Tracer(instrumentationName),
		spans:  make(map[string]*runSpans),
	}
	var err error
	if o.attempts, err = meter.Int64Counter("valuationflow.stage.failed_attempts",
		metric.WithDescription("Stage attempts that failed validation or the worker call")); err != nil {
		return nil, fmt.Errorf("create failed attempts counter: %w", err)
	}
	if o.commits, err = meter.Int64Counter("valuationflow.stage.commits",
		metric.WithDescription("Stages validated and checkpointed")); err != nil {
		return nil, fmt.Errorf("create commits counter: %w", err)
	}
	if o.runs, err = meter.Int64Counter("valuationflow.runs",
		metric.WithDescription("Finished pipeline runs")); err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	return o, nil
}

// OnEvent implements workflow.Observer.
func (o *PipelineObserver) OnEvent(ctx context.Context, ev workflow.Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch ev.Type {
	case workflow.EventRunStarted:
		runCtx, span := o.tracer.Start(ctx, "pipeline.run",
			trace.WithAttributes(
				attribute.String("session.id", ev.SessionID),
				attribute.String("subject.key", ev.SubjectKey),
				attribute.String("scope", ev.Scope),
			))
		o.mu.Lock()
		o.spans[ev.SessionID] = &runSpans{ctx: runCtx, run: span}
		o.mu.Unlock()

	case workflow.EventRecallHit, workflow.EventRunResumed:
		if rs := o.lookup(ev.SessionID); rs != nil {
			rs.run.AddEvent(string(ev.Type), trace.WithAttributes(attribute.Int("ordinal", ev.Ordinal)))
		}

	case workflow.EventStageStarted:
		rs := o.lookup(ev.SessionID)
		if rs == nil {
			return
		}
		_, span := o.tracer.Start(rs.ctx, "stage."+ev.Stage,
			trace.WithAttributes(
				attribute.String("stage.name", ev.Stage),
				attribute.Int("stage.ordinal", ev.Ordinal),
			))
		o.mu.Lock()
		rs.stage = span
		o.mu.Unlock()

	case workflow.EventAttemptFailed:
		o.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", ev.Stage),
			attribute.String("class", string(ev.Class)),
		))
		if rs := o.lookup(ev.SessionID); rs != nil && rs.stage != nil {
			rs.stage.AddEvent("attempt_failed", trace.WithAttributes(
				attribute.Int("attempt", ev.Attempt),
				attribute.String("class", string(ev.Class)),
				attribute.Int("violations", len(ev.Violations)),
				attribute.String("detail", ev.Detail),
			))
		}

	case workflow.EventStageCommitted:
		o.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", ev.Stage)))
		if rs := o.lookup(ev.SessionID); rs != nil && rs.stage != nil {
			rs.stage.SetStatus(codes.Ok, "")
			rs.stage.End()
			o.mu.Lock()
			rs.stage = nil
			o.mu.Unlock()
		}

	case workflow.EventRunCompleted:
		o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "completed")))
		if rs := o.take(ev.SessionID); rs != nil {
			rs.run.SetStatus(codes.Ok, "")
			rs.run.End()
		}

	case workflow.EventRunFailed:
		o.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", "failed"),
			attribute.String("class", string(ev.Class)),
		))
		if rs := o.take(ev.SessionID); rs != nil {
			msg := fmt.Sprintf("%s: %s", ev.Class, ev.Detail)
			if rs.stage != nil {
				rs.stage.SetStatus(codes.Error, msg)
				rs.stage.End()
			}
			rs.run.SetAttributes(attribute.String("failure.class", string(ev.Class)))
			rs.run.SetStatus(codes.Error, msg)
			rs.run.End()
		}
	}
}

func (o *PipelineObserver) lookup(session string) *runSpans {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spans[session]
}

func (o *PipelineObserver) take(session string) *runSpans {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs := o.spans[session]
	delete(o.spans, session)
	return rs
}
