package valuation

import (
	"fmt"
	"time"

	"github.com/BaSui01/valuationflow/validation"
	"github.com/BaSui01/valuationflow/workflow"
)

// Stage names, in pipeline order.
const (
	StageScoping       = "scoping"
	StageData          = "data"
	StageNormalization = "normalization"
	StageForecast      = "forecast"
	StageWACC          = "wacc"
	StageDCF           = "dcf"
	StageMultiples     = "multiples"
	StageReport        = "report"
)

// Valuation targets.
const (
	TargetEnterpriseValue = "enterprise_value"
	TargetEquityPerShare  = "equity_per_share"
)

// DefaultMaxAttempts is the per-stage refinement budget.
const DefaultMaxAttempts = 5

// WorkerSource resolves the worker that computes a stage.
type WorkerSource interface {
	WorkerFor(stage string) (workflow.Worker, error)
}

// Options tunes the catalog.
type Options struct {
	MaxAttempts  int
	StageTimeout time.Duration
}

type stageSpec struct {
	name     string
	requires []string
	schema   func() *validation.Schema
	rules    func() []validation.Rule
}

var catalog = []stageSpec{
	{StageScoping, nil, ScopingSchema, ScopingRules},
	{StageData, []string{StageScoping}, DataSchema, DataRules},
	{StageNormalization, []string{StageData}, NormalizationSchema, NormalizationRules},
	{StageForecast, []string{StageNormalization}, ForecastSchema, ForecastRules},
	{StageWACC, []string{StageForecast, StageData}, WACCSchema, WACCRules},
	{StageDCF, []string{StageData, StageNormalization, StageForecast, StageWACC}, DCFSchema, DCFRules},
	{StageMultiples, []string{StageData, StageDCF}, MultiplesSchema, MultiplesRules},
	{StageReport, []string{StageScoping, StageDCF, StageMultiples}, ReportSchema, ReportRules},
}

// StageNames returns the stage names in order.
func StageNames() []string {
	out := make([]string, len(catalog))
	for i, s := range catalog {
		out[i] = s.name
	}
	return out
}

// DefaultStages declares the eight valuation stages.
func DefaultStages(workers WorkerSource, opts Options) ([]workflow.StageDefinition, error) {
	if workers == nil {
		return nil, fmt.Errorf("valuation: nil worker source")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	defs := make([]workflow.StageDefinition, 0, len(catalog))
	for _, s := range catalog {
		w, err := workers.WorkerFor(s.name)
		if err != nil {
			return nil, fmt.Errorf("valuation: worker for stage %s: %w", s.name, err)
		}
		defs = append(defs, workflow.StageDefinition{
			Name:        s.name,
			Requires:    s.requires,
			Schema:      s.schema(),
			Rules:       s.rules(),
			MaxAttempts: opts.MaxAttempts,
			Timeout:     opts.StageTimeout,
			Worker:      w,
		})
	}
	return defs, nil
}

// NewPipeline builds the valuation pipeline.
func NewPipeline(workers WorkerSource, opts Options) (*workflow.Pipeline, error) {
	defs, err := DefaultStages(workers, opts)
	if err != nil {
		return nil, err
	}
	return workflow.NewPipeline(defs...)
}
