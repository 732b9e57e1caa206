package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/valuationflow/persistence"
)

// TestProperty_PipelineState_MergeIsCopyOnWrite 任意合并序列后，旧状态保持不变，
// 快照与视图都是深拷贝。
func TestProperty_PipelineState_MergeIsCopyOnWrite(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "stages")

		states := []PipelineState{NewPipelineState("s")}
		for i := 0; i < n; i++ {
			value := rapid.Float64Range(-1e6, 1e6).Draw(rt, fmt.Sprintf("value_%d", i))
			out := persistence.StageOutput{Payload: map[string]any{
				"value": value,
				"items": []any{map[string]any{"v": value}},
			}}
			next, err := states[len(states)-1].Merge(fmt.Sprintf("stage_%d", i), i, out)
			require.NoError(rt, err)

			// 合并后修改输入不影响状态
			out.Payload["value"] = "mutated"
			got, ok := next.Get(fmt.Sprintf("stage_%d", i))
			require.True(rt, ok)
			assert.Equal(rt, value, got.Payload["value"])

			states = append(states, next)
		}

		for i, s := range states {
			assert.Equal(rt, i, s.Len())
			assert.Equal(rt, i-1, s.HighestOrdinal())
		}

		last := states[len(states)-1]
		snap := last.Snapshot()
		snap.Entries[0].Output.Payload["value"] = "mutated"
		snap.Entries[0].Output.Payload["items"].([]any)[0].(map[string]any)["v"] = "mutated"

		view := last.View([]string{"stage_0"})
		view["stage_0"]["value"] = "mutated"

		got, _ := last.Get("stage_0")
		assert.NotEqual(rt, "mutated", got.Payload["value"])
		assert.NotEqual(rt, "mutated", got.Payload["items"].([]any)[0].(map[string]any)["v"])
	})
}

// TestProperty_PipelineState_SnapshotRoundTrip FromSnapshot(Snapshot()) 得到等价状态。
func TestProperty_PipelineState_SnapshotRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 6).Draw(rt, "stages")
		s := NewPipelineState("session")
		for i := 0; i < n; i++ {
			var err error
			s, err = s.Merge(fmt.Sprintf("st%d", i), i, persistence.StageOutput{
				Payload:   map[string]any{"i": float64(i)},
				Narrative: rapid.StringMatching(`[a-z ]{0,12}`).Draw(rt, "narrative"),
			})
			require.NoError(rt, err)
		}

		restored, err := FromSnapshot("session", s.Snapshot())
		require.NoError(rt, err)
		assert.Equal(rt, s.Stages(), restored.Stages())
		assert.Equal(rt, s.ID(), restored.ID())
		assert.Equal(rt, s.Snapshot(), restored.Snapshot())
	})
}

func TestPipelineState_MergeErrors(t *testing.T) {
	s, err := NewPipelineState("s").Merge("a", 0, persistence.StageOutput{Payload: map[string]any{}})
	require.NoError(t, err)

	_, err = s.Merge("a", 1, persistence.StageOutput{})
	assert.ErrorIs(t, err, ErrStageAlreadyCommitted)

	_, err = s.Merge("b", 3, persistence.StageOutput{})
	assert.ErrorIs(t, err, ErrOutOfOrder)

	_, err = FromSnapshot("s", persistence.Snapshot{Entries: []persistence.SnapshotEntry{{Stage: "a", Ordinal: 1}}})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestPipelineState_ViewSkipsUnknownKeys(t *testing.T) {
	s, err := NewPipelineState("s").Merge("a", 0, persistence.StageOutput{Payload: map[string]any{"x": 1.0}})
	require.NoError(t, err)

	view := s.View([]string{"a", "missing"})
	assert.Len(t, view, 1)
	assert.Equal(t, 1.0, view["a"]["x"])
}
