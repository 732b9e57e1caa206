package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/workflow"
)

func newTestObserver(t *testing.T) (*PipelineObserver, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	o, err := NewPipelineObserver(tp, mp)
	require.NoError(t, err)
	return o, recorder, reader
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestPipelineObserver_CompletedRun(t *testing.T) {
	o, recorder, reader := newTestObserver(t)
	ctx := context.Background()

	for _, ev := range []workflow.Event{
		{Type: workflow.EventRunStarted, SessionID: "s1", SubjectKey: "ACME", Scope: "2024-Q4"},
		{Type: workflow.EventStageStarted, SessionID: "s1", Stage: "scoping", Ordinal: 0},
		{Type: workflow.EventAttemptFailed, SessionID: "s1", Stage: "scoping", Attempt: 1, Class: types.FailureStructural},
		{Type: workflow.EventStageCommitted, SessionID: "s1", Stage: "scoping", Ordinal: 0},
		{Type: workflow.EventStageStarted, SessionID: "s1", Stage: "data", Ordinal: 1},
		{Type: workflow.EventStageCommitted, SessionID: "s1", Stage: "data", Ordinal: 1},
		{Type: workflow.EventRunCompleted, SessionID: "s1"},
	} {
		o.OnEvent(ctx, ev)
	}

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "stage.scoping", spans[0].Name())
	assert.Equal(t, "stage.data", spans[1].Name())
	assert.Equal(t, "pipeline.run", spans[2].Name())
	assert.Equal(t, spans[2].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, codes.Ok, spans[2].Status().Code)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "attempt_failed", spans[0].Events()[0].Name)

	assert.Equal(t, int64(2), counterTotal(t, reader, "valuationflow.stage.commits"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "valuationflow.stage.failed_attempts"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "valuationflow.runs"))
	assert.Empty(t, o.spans)
}

func TestPipelineObserver_FailedRunEndsOpenStage(t *testing.T) {
	o, recorder, _ := newTestObserver(t)
	ctx := context.Background()

	o.OnEvent(ctx, workflow.Event{Type: workflow.EventRunStarted, SessionID: "s2"})
	o.OnEvent(ctx, workflow.Event{Type: workflow.EventStageStarted, SessionID: "s2", Stage: "wacc", Ordinal: 4})
	o.OnEvent(ctx, workflow.Event{Type: workflow.EventRunFailed, SessionID: "s2", Stage: "wacc",
		Class: types.FailureSemantic, Detail: "attempts exhausted"})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Status().Description, "semantic_violation")
}

func TestPipelineObserver_IgnoresUnknownSession(t *testing.T) {
	o, recorder, _ := newTestObserver(t)
	assert.NotPanics(t, func() {
		o.OnEvent(context.Background(), workflow.Event{Type: workflow.EventStageStarted, SessionID: "nope"})
		o.OnEvent(context.Background(), workflow.Event{Type: workflow.EventStageCommitted, SessionID: "nope"})
		o.OnEvent(context.Background(), workflow.Event{Type: workflow.EventRunCompleted, SessionID: "nope"})
	})
	assert.Empty(t, recorder.Ended())
}

func TestPipelineObserver_DrivenByExecutor(t *testing.T) {
	o, recorder, _ := newTestObserver(t)

	p, err := workflow.NewPipeline(workflow.StageDefinition{
		Name: "only",
		Worker: workflow.WorkerFunc(func(context.Context, workflow.WorkerInput) (*workflow.WorkerOutput, error) {
			return &workflow.WorkerOutput{Payload: map[string]any{"ok": true}}, nil
		}),
	})
	require.NoError(t, err)
	exec, err := workflow.NewExecutor(p, persistenceStore(), workflow.DefaultExecutorConfig(), workflow.WithObserver(o))
	require.NoError(t, err)

	res, err := exec.Submit(context.Background(), "ACME", "2024-Q4", "otel")
	require.NoError(t, err)
	require.True(t, res.Completed())
	assert.Len(t, recorder.Ended(), 2)
}

func persistenceStore() persistence.Store { return persistence.NewMemoryStore() }
