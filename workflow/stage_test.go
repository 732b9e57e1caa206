package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/valuationflow/validation"
)

func noopWorker() Worker {
	return WorkerFunc(func(context.Context, WorkerInput) (*WorkerOutput, error) {
		return &WorkerOutput{Payload: map[string]any{}}, nil
	})
}

func TestNewPipeline(t *testing.T) {
	tests := []struct {
		name    string
		defs    []StageDefinition
		wantErr string
	}{
		{name: "empty", defs: nil, wantErr: "no stages"},
		{name: "unnamed", defs: []StageDefinition{{Worker: noopWorker()}}, wantErr: "has no name"},
		{name: "duplicate", defs: []StageDefinition{{Name: "a", Worker: noopWorker()}, {Name: "a", Worker: noopWorker()}}, wantErr: "duplicate stage"},
		{name: "nil worker", defs: []StageDefinition{{Name: "a"}}, wantErr: "has no worker"},
		{name: "forward requires", defs: []StageDefinition{{Name: "a", Requires: []string{"b"}, Worker: noopWorker()}, {Name: "b", Worker: noopWorker()}}, wantErr: "not an earlier stage"},
		{name: "self requires", defs: []StageDefinition{{Name: "a", Requires: []string{"a"}, Worker: noopWorker()}}, wantErr: "not an earlier stage"},
		{name: "negative attempts", defs: []StageDefinition{{Name: "a", MaxAttempts: -1, Worker: noopWorker()}}, wantErr: "negative max attempts"},
		{
			name: "rule reads stage outside requires",
			defs: []StageDefinition{
				{Name: "a", Worker: noopWorker()},
				{Name: "b", Worker: noopWorker()},
				{
					Name: "c", Requires: []string{"b"}, Worker: noopWorker(),
					Rules: []validation.Rule{validation.SameValue("currency matches a", "currency", "@a.currency")},
				},
			},
			wantErr: `reading "a"`,
		},
		{
			name: "nested rule reads stage outside requires",
			defs: []StageDefinition{
				{Name: "a", Worker: noopWorker()},
				{
					Name: "b", Worker: noopWorker(),
					Rules: []validation.Rule{validation.Each("years", "years",
						validation.Approx("nopat", validation.Field("nopat"), validation.Aligned("@a.years", "nopat"), validation.Within(0.1)))},
				},
			},
			wantErr: `reading "a"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(tt.defs...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPipeline)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewPipeline_RuleReferencesCoveredByRequires(t *testing.T) {
	p, err := NewPipeline(
		StageDefinition{Name: "a", Worker: noopWorker()},
		StageDefinition{
			Name: "b", Requires: []string{"a"}, Worker: noopWorker(),
			Rules: []validation.Rule{
				validation.SameValue("currency matches a", "currency", "@a.currency"),
				validation.Between("margin", validation.Field("margin"), 0, 1),
			},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}

func TestNewPipeline_AssignsOrdinalsAndCopies(t *testing.T) {
	requires := []string{"a"}
	p, err := NewPipeline(
		StageDefinition{Name: "a", Ordinal: 7, Worker: noopWorker()},
		StageDefinition{Name: "b", Requires: requires, Schema: validation.Object(), Worker: noopWorker()},
	)
	require.NoError(t, err)
	requires[0] = "mutated"

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"a", "b"}, p.Names())
	assert.Equal(t, 0, p.Stage(0).Ordinal)

	b, ok := p.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 1, b.Ordinal)
	assert.Equal(t, []string{"a"}, b.Requires)
	assert.Equal(t, "b", b.StageName())
	assert.NotNil(t, b.OutputSchema())

	_, ok = p.Lookup("missing")
	assert.False(t, ok)
}

func TestNormalizePayload(t *testing.T) {
	assert.Nil(t, normalizePayload(nil))
	assert.Nil(t, normalizePayload(&WorkerOutput{}))
	assert.Nil(t, normalizePayload(&WorkerOutput{Payload: map[string]any{"ch": make(chan int)}}))

	type point struct {
		X int `json:"x"`
	}
	in := map[string]any{"n": 3, "p": point{X: 2}, "list": []int{1, 2}}
	got := normalizePayload(&WorkerOutput{Payload: in})
	assert.Equal(t, 3.0, got["n"])
	assert.Equal(t, map[string]any{"x": 2.0}, got["p"])
	assert.Equal(t, []any{1.0, 2.0}, got["list"])
}
