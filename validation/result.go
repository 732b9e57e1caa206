package validation

import (
	"fmt"
	"strings"

	"github.com/BaSui01/valuationflow/types"
)

// Phase is the validation phase a violation was produced in.
type Phase string

const (
	PhaseStructural Phase = "structural"
	PhaseSemantic   Phase = "semantic"
)

// Violation describes one failed check.
type Violation struct {
	Rule     string   `json:"rule"`
	Phase    Phase    `json:"phase"`
	Fields   []string `json:"fields,omitempty"`
	Expected string   `json:"expected,omitempty"`
	Observed any      `json:"observed,omitempty"`
	Message  string   `json:"message"`
}

// String renders the violation as one line of retry feedback.
func (v Violation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", v.Phase, v.Rule, v.Message)
	if v.Expected != "" {
		fmt.Fprintf(&b, "; expected %s", v.Expected)
	}
	if v.Observed != nil {
		fmt.Fprintf(&b, "; observed %s", formatValue(v.Observed))
	}
	if len(v.Fields) > 0 {
		fmt.Fprintf(&b, " (fields: %s)", strings.Join(v.Fields, ", "))
	}
	return b.String()
}

// Result is the verdict of validating one stage output.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Pass is the valid result.
func Pass() Result { return Result{Valid: true} }

// Fail builds an invalid result from violations.
func Fail(violations ...Violation) Result {
	return Result{Valid: false, Violations: violations}
}

// Class returns the failure class of an invalid result, or "" when valid.
func (r Result) Class() types.FailureClass {
	if r.Valid {
		return ""
	}
	for _, v := range r.Violations {
		if v.Phase == PhaseStructural {
			return types.FailureStructural
		}
	}
	return types.FailureSemantic
}

// Feedback renders every violation as a correction block for the next
// attempt of the same stage.
func (r Result) Feedback(attempt int) string {
	if r.Valid {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Attempt %d was rejected with %d issue(s). Fix every issue below and return the complete output again.\n",
		attempt, len(r.Violations))
	for i, v := range r.Violations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, v.String())
	}
	return b.String()
}

// Err converts an invalid result to a *types.Error.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	code := types.ErrSemanticViolation
	if r.Class() == types.FailureStructural {
		code = types.ErrStructuralViolation
	}
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.Rule)
	}
	return types.NewError(code, fmt.Sprintf("%d violation(s): %s", len(r.Violations), strings.Join(msgs, ", ")))
}
