package persistence

import (
	"encoding/json"
	"fmt"
	"time"
)

func encodeCheckpoint(cp *Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

func decodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func encodeRecall(e *RecallEntry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recall entry: %w", err)
	}
	return data, nil
}

func decodeRecall(data []byte) (*RecallEntry, error) {
	var e RecallEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recall entry: %w", err)
	}
	return &e, nil
}

// newRecallEntry stamps summary with a completion time when it has none.
func newRecallEntry(subjectKey, scope string, summary Summary, now time.Time) *RecallEntry {
	if summary.CompletedAt.IsZero() {
		summary.CompletedAt = now
	}
	if summary.SubjectKey == "" {
		summary.SubjectKey = subjectKey
	}
	if summary.Scope == "" {
		summary.Scope = scope
	}
	return &RecallEntry{
		SubjectKey:  subjectKey,
		Scope:       scope,
		CompletedAt: summary.CompletedAt,
		Summary:     summary,
	}
}
