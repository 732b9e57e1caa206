package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/api/handlers"
	"github.com/BaSui01/valuationflow/config"
	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/testutil"
	"github.com/BaSui01/valuationflow/testutil/mocks"
	"github.com/BaSui01/valuationflow/validation"
	"github.com/BaSui01/valuationflow/workflow"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func testExecutor(t *testing.T, store persistence.Store, margin float64) *workflow.Executor {
	t.Helper()
	p, err := workflow.NewPipeline(
		workflow.StageDefinition{
			Name:   "collect",
			Schema: validation.Object(validation.Prop("revenue", validation.Number())),
			Worker: mocks.NewScriptedWorker().Always(mocks.Reply(map[string]any{"revenue": 100.0})),
		},
		workflow.StageDefinition{
			Name:        "margin",
			Requires:    []string{"collect"},
			Schema:      validation.Object(validation.Prop("margin", validation.Number())),
			Rules:       []validation.Rule{validation.Between("margin in [0,1]", validation.Field("margin"), 0, 1)},
			MaxAttempts: 1,
			Worker:      mocks.NewScriptedWorker().Always(mocks.Reply(map[string]any{"margin": margin})),
		},
	)
	require.NoError(t, err)
	e, err := workflow.NewExecutor(p, store, workflow.DefaultExecutorConfig(), workflow.WithSleeper(testutil.NoSleep))
	require.NoError(t, err)
	return e
}

func testAPI(t *testing.T, store persistence.Store, margin float64, middlewares ...Middleware) http.Handler {
	t.Helper()
	hub := handlers.NewEventHub(zap.NewNop())
	mux := newRouter(testExecutor(t, store, margin), store, hub, newHealthHandler(store, zap.NewNop()), time.Minute, zap.NewNop())
	return Chain(mux, middlewares...)
}

func submit(h http.Handler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/valuations", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return serve(h, r)
}

// =============================================================================
// 🎯 路由
// =============================================================================

func TestRouter_SubmitAndReadCheckpoints(t *testing.T) {
	store := persistence.NewMemoryStore()
	h := testAPI(t, store, 0.25, RequestID(), Recovery(zap.NewNop()))

	w := submit(h, `{"subject_key":"ACME","scope":"2024-Q4","session_id":"run-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/run-1/checkpoints", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			SessionID   string `json:"session_id"`
			Checkpoints []struct {
				Stage string `json:"stage"`
			} `json:"checkpoints"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.Data.SessionID)
	require.Len(t, body.Data.Checkpoints, 2)
	assert.Equal(t, "margin", body.Data.Checkpoints[1].Stage)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/unknown/checkpoints", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_FailedRunCarriesDiagnostics(t *testing.T) {
	h := testAPI(t, persistence.NewMemoryStore(), 1.5)

	w := submit(h, `{"subject_key":"ACME","scope":"2024-Q4"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "SEMANTIC_VIOLATION", errorCode(t, w))
}

func TestRouter_MethodAndHealthRoutes(t *testing.T) {
	h := testAPI(t, persistence.NewMemoryStore(), 0.5)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/valuations", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/ready", nil)).Code)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scoping"`)
	assert.Contains(t, w.Body.String(), `"report"`)
}

func TestRouter_ReadyFailsWhenStoreClosed(t *testing.T) {
	store := persistence.NewMemoryStore()
	h := testAPI(t, store, 0.5)
	require.NoError(t, store.Close())

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, httptest.NewRequest(http.MethodGet, "/ready", nil)).Code)
}

func TestRouter_AuthGuardsAPIButNotHealth(t *testing.T) {
	auth := Auth(config.AuthConfig{Enabled: true, APIKeys: []string{"k"}}, publicPaths, zap.NewNop())
	h := testAPI(t, persistence.NewMemoryStore(), 0.5, RequestID(), auth)

	assert.Equal(t, http.StatusUnauthorized, submit(h, `{"subject_key":"ACME","scope":"2024-Q4"}`).Code)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/valuations", strings.NewReader(`{"subject_key":"ACME","scope":"2024-Q4"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-API-Key", "k")
	assert.Equal(t, http.StatusOK, serve(h, r).Code)
}

// =============================================================================
// 🔧 组件构建
// =============================================================================

func TestOpenStore_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	store, closeFn, err := openStore(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn()) }()

	_, ok := store.(*persistence.MemoryStore)
	assert.True(t, ok)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpenStore_InMemorySQLiteCreatesSchema(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Type = "sql"
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", Name: "file:cmdtest?mode=memory&cache=shared", MaxOpenConns: 1}

	ctx := context.Background()
	store, closeFn, err := openStore(ctx, cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn()) }()

	cp := &persistence.Checkpoint{SessionID: "s1", SubjectKey: "ACME", Scope: "2024-Q4", StageName: "scoping", Ordinal: 0}
	require.NoError(t, store.Commit(ctx, cp))

	cps, err := store.ListCheckpoints(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, "scoping", cps[0].StageName)
}

func TestOpenStore_UnknownType(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Type = "etcd"
	_, _, err := openStore(context.Background(), cfg, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestNewWorkerRegistry_RequiresEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Worker.Endpoint = ""
	_, err := newWorkerRegistry(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg.Worker.Endpoint = "http://127.0.0.1:9999/stages"
	reg, err := newWorkerRegistry(cfg, zap.NewNop())
	require.NoError(t, err)

	e, err := newExecutor(cfg, reg, persistence.NewMemoryStore(), zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, e.Pipeline().Names(), 8)
}

func TestRunJanitor_PrunesExpiredCheckpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := persistence.NewMemoryStore()
	old := &persistence.Checkpoint{SessionID: "old", StageName: "scoping", Ordinal: 0, CommittedAt: time.Now().Add(-time.Hour)}
	fresh := &persistence.Checkpoint{SessionID: "fresh", StageName: "scoping", Ordinal: 0, CommittedAt: time.Now()}
	require.NoError(t, store.Commit(ctx, old))
	require.NoError(t, store.Commit(ctx, fresh))

	done := make(chan struct{})
	go func() {
		defer close(done)
		runJanitor(ctx, store, time.Minute, 5*time.Millisecond, zap.NewNop())
	}()

	testutil.AssertEventuallyTrue(t, func() bool {
		cps, _ := store.ListCheckpoints(ctx, "old")
		return len(cps) == 0
	}, time.Second)

	cps, err := store.ListCheckpoints(ctx, "fresh")
	require.NoError(t, err)
	assert.Len(t, cps, 1)

	cancel()
	<-done
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	code := writeResult(&buf, &workflow.RunResult{Status: workflow.StatusCompleted, SessionID: "s"})
	assert.Equal(t, 0, code)
	assert.Contains(t, buf.String(), `"session_id": "s"`)

	buf.Reset()
	code = writeResult(&buf, &workflow.RunResult{Status: workflow.StatusFailed, SessionID: "s"})
	assert.Equal(t, 1, code)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("debug").String())
	assert.Equal(t, "warn", parseLevel("warn").String())
	assert.Equal(t, "info", parseLevel("bogus").String())
}
