package workflow

import (
	"errors"
	"fmt"

	"github.com/BaSui01/valuationflow/persistence"
)

var (
	// ErrStageAlreadyCommitted is returned when merging a stage that is already in the state.
	ErrStageAlreadyCommitted = errors.New("stage already committed")
	// ErrOutOfOrder is returned when merging a stage whose ordinal is not the next one.
	ErrOutOfOrder = errors.New("stage merged out of order")
)

// StateID identifies a pipeline state.
type StateID struct {
	SessionID string `json:"session_id"`
	Ordinal   int    `json:"ordinal"`
}

// PipelineState is the append-only mapping from stage name to committed
// output. Values are immutable: Merge returns a new state and never touches
// the receiver, and every accessor hands out deep copies.
type PipelineState struct {
	sessionID string
	entries   []persistence.SnapshotEntry
	index     map[string]int
}

// NewPipelineState returns the empty state of a session.
func NewPipelineState(sessionID string) PipelineState {
	return PipelineState{sessionID: sessionID, index: map[string]int{}}
}

// FromSnapshot rebuilds a state from a checkpoint snapshot. Ordinals must be
// contiguous from zero.
func FromSnapshot(sessionID string, snap persistence.Snapshot) (PipelineState, error) {
	s := NewPipelineState(sessionID)
	for _, e := range snap.Entries {
		next, err := s.Merge(e.Stage, e.Ordinal, e.Output)
		if err != nil {
			return PipelineState{}, fmt.Errorf("restore snapshot: %w", err)
		}
		s = next
	}
	return s, nil
}

// Merge adds the output of a newly committed stage.
func (s PipelineState) Merge(stage string, ordinal int, out persistence.StageOutput) (PipelineState, error) {
	if _, exists := s.index[stage]; exists {
		return s, fmt.Errorf("%w: %s", ErrStageAlreadyCommitted, stage)
	}
	if ordinal != len(s.entries) {
		return s, fmt.Errorf("%w: %s has ordinal %d, expected %d", ErrOutOfOrder, stage, ordinal, len(s.entries))
	}

	entries := make([]persistence.SnapshotEntry, len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)
	entries = append(entries, persistence.SnapshotEntry{
		Stage:   stage,
		Ordinal: ordinal,
		Output:  copyOutput(out),
	})

	index := make(map[string]int, len(s.index)+1)
	for k, v := range s.index {
		index[k] = v
	}
	index[stage] = ordinal

	return PipelineState{sessionID: s.sessionID, entries: entries, index: index}, nil
}

// View projects exactly the requested upstream outputs.
func (s PipelineState) View(keys []string) map[string]map[string]any {
	view := make(map[string]map[string]any, len(keys))
	for _, k := range keys {
		if i, ok := s.index[k]; ok {
			view[k] = copyMap(s.entries[i].Output.Payload)
		}
	}
	return view
}

// Get returns a copy of a committed output.
func (s PipelineState) Get(stage string) (persistence.StageOutput, bool) {
	i, ok := s.index[stage]
	if !ok {
		return persistence.StageOutput{}, false
	}
	return copyOutput(s.entries[i].Output), true
}

// Len returns the number of committed stages.
func (s PipelineState) Len() int { return len(s.entries) }

// HighestOrdinal returns the ordinal of the last committed stage, or -1.
func (s PipelineState) HighestOrdinal() int { return len(s.entries) - 1 }

// SessionID returns the owning session.
func (s PipelineState) SessionID() string { return s.sessionID }

// ID identifies the state by session and highest committed ordinal.
func (s PipelineState) ID() StateID {
	return StateID{SessionID: s.sessionID, Ordinal: s.HighestOrdinal()}
}

// Stages returns the committed stage names in order.
func (s PipelineState) Stages() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Stage
	}
	return out
}

// Snapshot returns a deep copy suitable for persisting.
func (s PipelineState) Snapshot() persistence.Snapshot {
	entries := make([]persistence.SnapshotEntry, len(s.entries))
	for i, e := range s.entries {
		entries[i] = persistence.SnapshotEntry{Stage: e.Stage, Ordinal: e.Ordinal, Output: copyOutput(e.Output)}
	}
	return persistence.Snapshot{Entries: entries}
}

func copyOutput(o persistence.StageOutput) persistence.StageOutput {
	return persistence.StageOutput{Payload: copyMap(o.Payload), Narrative: o.Narrative}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
