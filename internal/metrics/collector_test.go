package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/validation"
	"github.com/BaSui01/valuationflow/workflow"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.runsTotal)
	assert.NotNil(t, collector.stageCommits)
	assert.NotNil(t, collector.storeOpDuration)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/api/v1/valuations", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("POST", "/api/v1/valuations", 201, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("POST", "/api/v1/valuations", 400, 5*time.Millisecond, 10, 80)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/valuations", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/valuations", "4xx")))
}

func TestCollector_PipelineEvents(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	ctx := context.Background()
	t0 := time.Now()

	events := []workflow.Event{
		{Type: workflow.EventRunStarted, SessionID: "s1", Time: t0},
		{Type: workflow.EventRunResumed, SessionID: "s1", Time: t0},
		{Type: workflow.EventStageStarted, SessionID: "s1", Stage: "wacc", Ordinal: 4, Time: t0},
		{Type: workflow.EventAttemptFailed, SessionID: "s1", Stage: "wacc", Ordinal: 4, Class: types.FailureSemantic,
			Violations: []validation.Violation{{Rule: "weights sum to 1"}, {Rule: "wacc in [0,0.5]"}}, Time: t0},
		{Type: workflow.EventAttemptFailed, SessionID: "s1", Stage: "wacc", Ordinal: 4, Class: types.FailureTransient, Time: t0},
		{Type: workflow.EventStageCommitted, SessionID: "s1", Stage: "wacc", Ordinal: 4, Time: t0.Add(2 * time.Second)},
		{Type: workflow.EventRunCompleted, SessionID: "s1", Duration: 3 * time.Second, Time: t0.Add(3 * time.Second)},

		{Type: workflow.EventRunStarted, SessionID: "s2", Time: t0},
		{Type: workflow.EventRecallHit, SessionID: "s2", Time: t0},
		{Type: workflow.EventRunCompleted, SessionID: "s2", Time: t0},

		{Type: workflow.EventRunStarted, SessionID: "s3", Time: t0},
		{Type: workflow.EventStageStarted, SessionID: "s3", Stage: "scoping", Ordinal: 0, Time: t0},
		{Type: workflow.EventRunFailed, SessionID: "s3", Class: types.FailureCheckpointWrite, Time: t0},
	}
	for _, ev := range events {
		collector.OnEvent(ctx, ev)
	}

	assert.Equal(t, 0.0, testutil.ToFloat64(collector.runsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.recallHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.resumesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.runsTotal.WithLabelValues("completed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runsTotal.WithLabelValues("failed", "checkpoint_write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stageCommits.WithLabelValues("wacc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.failedAttempts.WithLabelValues("wacc", "semantic_violation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.failedAttempts.WithLabelValues("wacc", "transient_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.violationsByRule.WithLabelValues("wacc", "weights sum to 1")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.stageDuration))

	collector.mu.Lock()
	assert.Empty(t, collector.stageStarts)
	collector.mu.Unlock()
}

func TestCollector_RecordStoreOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordStoreOperation("redis", "commit", 2*time.Millisecond, nil)
	collector.RecordStoreOperation("redis", "commit", 3*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1, testutil.CollectAndCount(collector.storeOpDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.storeOpErrors.WithLabelValues("redis", "commit")))
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", id)
			collector.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 10)
			collector.OnEvent(context.Background(), workflow.Event{Type: workflow.EventRunStarted, SessionID: session})
			collector.OnEvent(context.Background(), workflow.Event{Type: workflow.EventStageStarted, SessionID: session, Stage: "scoping"})
			collector.OnEvent(context.Background(), workflow.Event{Type: workflow.EventStageCommitted, SessionID: session, Stage: "scoping"})
			collector.OnEvent(context.Background(), workflow.Event{Type: workflow.EventRunCompleted, SessionID: session})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.stageCommits.WithLabelValues("scoping")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.runsInFlight))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(304))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(100))
}

func TestInstrumentStore(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	store := InstrumentStore(persistence.NewMemoryStore(), "memory", collector)
	ctx := context.Background()

	cp := &persistence.Checkpoint{SessionID: "s", StageName: "scoping", Ordinal: 0}
	assert.NoError(t, store.Commit(ctx, cp))
	_, err := store.LatestCheckpoint(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.Error(t, store.Commit(ctx, &persistence.Checkpoint{}))

	assert.Equal(t, 2, testutil.CollectAndCount(collector.storeOpDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.storeOpErrors.WithLabelValues("memory", "commit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.storeOpErrors.WithLabelValues("memory", "latest_checkpoint")))

	assert.Same(t, store, InstrumentStore(store, "memory", nil))
}
