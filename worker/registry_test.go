package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/valuationflow/valuation"
	"github.com/BaSui01/valuationflow/workflow"
)

func named(name string) workflow.Worker {
	return workflow.WorkerFunc(func(context.Context, workflow.WorkerInput) (*workflow.WorkerOutput, error) {
		return &workflow.WorkerOutput{Narrative: name}, nil
	})
}

func TestRegistry_WorkerFor(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.WorkerFor("dcf")
	assert.Error(t, err)

	r.Register("dcf", named("dcf"))
	w, err := r.WorkerFor("dcf")
	require.NoError(t, err)
	out, _ := w.Invoke(context.Background(), workflow.WorkerInput{})
	assert.Equal(t, "dcf", out.Narrative)

	withFallback := NewRegistry(named("default"))
	withFallback.Register("report", named("report"))
	w, err = withFallback.WorkerFor("wacc")
	require.NoError(t, err)
	out, _ = w.Invoke(context.Background(), workflow.WorkerInput{})
	assert.Equal(t, "default", out.Narrative)
	assert.Equal(t, []string{"report"}, withFallback.Stages())
}

func TestRegistry_BuildsValuationPipeline(t *testing.T) {
	var source valuation.WorkerSource = NewRegistry(named("default"))
	p, err := valuation.NewPipeline(source, valuation.Options{})
	require.NoError(t, err)
	assert.Equal(t, valuation.StageNames(), p.Names())
}
