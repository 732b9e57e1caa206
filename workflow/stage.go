package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/valuationflow/types"
	"github.com/BaSui01/valuationflow/validation"
)

// ErrInvalidPipeline is returned by NewPipeline for malformed definitions.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// WorkerInput is what a stage worker receives on every attempt.
type WorkerInput struct {
	Stage   string        `json:"stage"`
	Ordinal int           `json:"ordinal"`
	Attempt int           `json:"attempt"`
	Request types.Request `json:"request"`
	// View holds exactly the upstream outputs the stage declared as required.
	View map[string]map[string]any `json:"view"`
	// Feedback lists the violations of the previous attempt, if any.
	Feedback     string             `json:"feedback,omitempty"`
	OutputSchema *validation.Schema `json:"output_schema,omitempty"`
}

// WorkerOutput is a stage worker's answer.
type WorkerOutput struct {
	Payload   map[string]any `json:"payload"`
	Narrative string         `json:"narrative,omitempty"`
}

// Worker computes the content of a stage. Implementations are opaque to the
// pipeline; failures should be classified with types.NewTransientError or
// types.NewPermanentError. Unclassified errors are treated as transient.
type Worker interface {
	Invoke(ctx context.Context, in WorkerInput) (*WorkerOutput, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, in WorkerInput) (*WorkerOutput, error)

// Invoke implements Worker.
func (f WorkerFunc) Invoke(ctx context.Context, in WorkerInput) (*WorkerOutput, error) {
	return f(ctx, in)
}

// StageDefinition declares one pipeline stage.
type StageDefinition struct {
	Name string
	// Ordinal is assigned by NewPipeline from the declaration order.
	Ordinal int
	// Requires lists the upstream stages whose outputs the worker may read.
	Requires []string
	Schema   *validation.Schema
	Rules    []validation.Rule
	// MaxAttempts caps content-correction attempts. Zero uses the retry policy default.
	MaxAttempts int
	// Timeout bounds a single worker call. Zero uses the retry policy default.
	Timeout time.Duration
	Worker  Worker
}

// StageName implements validation.Target.
func (d StageDefinition) StageName() string { return d.Name }

// OutputSchema implements validation.Target.
func (d StageDefinition) OutputSchema() *validation.Schema { return d.Schema }

// SemanticRules implements validation.Target.
func (d StageDefinition) SemanticRules() []validation.Rule { return d.Rules }

// Pipeline is the fixed, ordered list of stages. It is immutable once built.
type Pipeline struct {
	stages []StageDefinition
	index  map[string]int
}

// NewPipeline validates the definitions and assigns ordinals in order.
// Every Requires entry must name an earlier stage, and every "@stage"
// reference in the rules must be covered by Requires.
func NewPipeline(defs ...StageDefinition) (*Pipeline, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidPipeline)
	}
	p := &Pipeline{
		stages: make([]StageDefinition, 0, len(defs)),
		index:  make(map[string]int, len(defs)),
	}
	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("%w: stage %d has no name", ErrInvalidPipeline, i)
		}
		if _, dup := p.index[def.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %q", ErrInvalidPipeline, def.Name)
		}
		if def.Worker == nil {
			return nil, fmt.Errorf("%w: stage %q has no worker", ErrInvalidPipeline, def.Name)
		}
		if def.MaxAttempts < 0 {
			return nil, fmt.Errorf("%w: stage %q has negative max attempts", ErrInvalidPipeline, def.Name)
		}
		for _, req := range def.Requires {
			if _, ok := p.index[req]; !ok {
				return nil, fmt.Errorf("%w: stage %q requires %q which is not an earlier stage", ErrInvalidPipeline, def.Name, req)
			}
		}
		// 规则只能读取 View 中的上游输出，否则会被当作不适用而静默通过
		for _, ref := range validation.ReferencedStages(def.Rules...) {
			if !slices.Contains(def.Requires, ref) {
				return nil, fmt.Errorf("%w: stage %q has rules reading %q which is not in its requires", ErrInvalidPipeline, def.Name, ref)
			}
		}
		def.Ordinal = i
		def.Requires = append([]string(nil), def.Requires...)
		def.Rules = append([]validation.Rule(nil), def.Rules...)
		p.stages = append(p.stages, def)
		p.index[def.Name] = i
	}
	return p, nil
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Stage returns the stage at ordinal i.
func (p *Pipeline) Stage(i int) StageDefinition { return p.stages[i] }

// Lookup returns the stage with the given name.
func (p *Pipeline) Lookup(name string) (StageDefinition, bool) {
	i, ok := p.index[name]
	if !ok {
		return StageDefinition{}, false
	}
	return p.stages[i], true
}

// Names returns the stage names in order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name
	}
	return out
}
