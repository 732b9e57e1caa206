package validation

import (
	"fmt"

	"go.uber.org/zap"
)

// Target is what the stage validator needs from a stage definition.
type Target interface {
	StageName() string
	OutputSchema() *Schema
	SemanticRules() []Rule
}

// StageValidator composes the schema validator and the semantic rules into a
// single verdict.
type StageValidator struct {
	schemas *SchemaValidator
	logger  *zap.Logger
}

// NewStageValidator creates a stage validator.
func NewStageValidator(schemas *SchemaValidator, logger *zap.Logger) *StageValidator {
	if schemas == nil {
		schemas = NewSchemaValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StageValidator{
		schemas: schemas,
		logger:  logger.With(zap.String("component", "stage_validator")),
	}
}

// Validate checks output structurally first. Structural violations
// short-circuit; otherwise every semantic rule is evaluated and every
// violation is reported.
func (v *StageValidator) Validate(target Target, output map[string]any, upstream map[string]map[string]any) Result {
	if structural := v.schemas.Validate(output, target.OutputSchema()); len(structural) > 0 {
		v.logger.Debug("structural validation failed",
			zap.String("stage", target.StageName()),
			zap.Int("violations", len(structural)),
		)
		return Fail(structural...)
	}

	env := NewEnv(output, upstream)
	var violations []Violation
	for _, rule := range target.SemanticRules() {
		violations = append(violations, v.checkRule(rule, env)...)
	}
	if len(violations) > 0 {
		v.logger.Debug("semantic validation failed",
			zap.String("stage", target.StageName()),
			zap.Int("violations", len(violations)),
		)
		return Fail(violations...)
	}
	return Pass()
}

// checkRule turns a panicking rule into a violation so one bad predicate
// cannot take down the run.
func (v *StageValidator) checkRule(rule Rule, env Env) (out []Violation) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("semantic rule panicked",
				zap.String("rule", rule.Name()),
				zap.Any("panic", r),
			)
			out = []Violation{{
				Rule:    rule.Name(),
				Phase:   PhaseSemantic,
				Message: fmt.Sprintf("rule could not be evaluated: %v", r),
			}}
		}
	}()
	return rule.Check(env)
}
