package workflow

import (
	"time"

	"github.com/BaSui01/valuationflow/persistence"
	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/validation"
)

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Attempts counts worker invocations of one stage.
type Attempts struct {
	Total      int `json:"total"`
	Violations int `json:"violations"`
	Transient  int `json:"transient"`
}

// StageReport describes a stage executed during this run.
type StageReport struct {
	Stage    string        `json:"stage"`
	Ordinal  int           `json:"ordinal"`
	Attempts Attempts      `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Diagnostics explains a failed run.
type Diagnostics struct {
	Stage      string                 `json:"stage,omitempty"`
	Ordinal    int                    `json:"ordinal"`
	Class      types.FailureClass     `json:"class"`
	Detail     string                 `json:"detail"`
	Violations []validation.Violation `json:"violations,omitempty"`
	Attempts   Attempts               `json:"attempts"`
}

// RunResult is the outcome of one pipeline run. Results shared between
// collapsed duplicate submissions must be treated as read-only.
type RunResult struct {
	Status      RunStatus            `json:"status"`
	SessionID   string               `json:"session_id"`
	SubjectKey  string               `json:"subject_key"`
	Scope       string               `json:"scope"`
	Summary     *persistence.Summary `json:"result,omitempty"`
	Diagnostics *Diagnostics         `json:"diagnostics,omitempty"`
	// Recalled is set when the result came from the recall index.
	Recalled bool `json:"recalled"`
	// ResumedFrom is the highest ordinal found committed when the run started.
	ResumedFrom *int          `json:"resumed_from,omitempty"`
	Stages      []StageReport `json:"stages,omitempty"`
	IndexError  string        `json:"index_error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Completed reports whether the run completed.
func (r *RunResult) Completed() bool { return r != nil && r.Status == StatusCompleted }

// Err converts a failed result into a *types.Error, or nil when completed.
func (r *RunResult) Err() error {
	if r == nil || r.Status == StatusCompleted || r.Diagnostics == nil {
		return nil
	}
	d := r.Diagnostics
	return types.NewError(codeForClass(d.Class), d.Detail).
		WithStage(d.Stage).
		WithHTTPStatus(types.HTTPStatusFor(codeForClass(d.Class)))
}

func codeForClass(c types.FailureClass) types.ErrorCode {
	switch c {
	case types.FailureMalformedRequest:
		return types.ErrInvalidRequest
	case types.FailureStructural:
		return types.ErrStructuralViolation
	case types.FailureSemantic:
		return types.ErrSemanticViolation
	case types.FailureTransient:
		return types.ErrTransientFailure
	case types.FailureWorker:
		return types.ErrWorkerFailure
	case types.FailureCheckpointWrite:
		return types.ErrCheckpointWrite
	case types.FailureCancelled:
		return types.ErrCancelled
	default:
		return types.ErrInternalError
	}
}
