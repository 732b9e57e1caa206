package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/testutil"
	"github.com/BaSui01/valuationflow/testutil/mocks"
	"github.com/BaSui01/valuationflow/validation"
	"github.com/BaSui01/valuationflow/workflow"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// testPipeline 两阶段管道：collect 产出收入，margin 依赖 collect
func testPipeline(t *testing.T, marginWorker workflow.Worker) *workflow.Pipeline {
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
			Worker:      marginWorker,
		},
	)
	require.NoError(t, err)
	return p
}

func newTestExecutor(t *testing.T, store persistence.Store, marginWorker workflow.Worker, opts ...workflow.ExecutorOption) *workflow.Executor {
	t.Helper()
	opts = append([]workflow.ExecutorOption{workflow.WithSleeper(testutil.NoSleep)}, opts...)
	e, err := workflow.NewExecutor(testPipeline(t, marginWorker), store, workflow.DefaultExecutorConfig(), opts...)
	require.NoError(t, err)
	return e
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/valuations", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}

type stubChecks struct {
	cps []*persistence.Checkpoint
	err error
}

func (s stubChecks) ListCheckpoints(context.Context, string) ([]*persistence.Checkpoint, error) {
	return s.cps, s.err
}

var nopLogger = zap.NewNop()
