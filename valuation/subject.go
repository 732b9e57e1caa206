package valuation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/valuationflow/types"
)

// subjectKeyPattern accepts exchange tickers such as "AAPL", "BRK.B" or "AAPL.US".
var subjectKeyPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,9}$`)

// NormalizeSubjectKey trims and upper-cases a ticker.
func NormalizeSubjectKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidateSubjectKey checks a normalized ticker against the ticker grammar.
func ValidateSubjectKey(key string) error {
	if !subjectKeyPattern.MatchString(key) {
		return fmt.Errorf("subject key %q is not a valid ticker (1-10 chars of A-Z, 0-9, '.', '-')", key)
	}
	return nil
}

// ValidateRequest is the executor request check for valuation runs.
func ValidateRequest(req types.Request) error {
	return ValidateSubjectKey(req.SubjectKey)
}
