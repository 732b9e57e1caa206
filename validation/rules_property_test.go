package validation

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_BetweenMatchesBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	rule := Between("rate", Field("rate"), 0, 0.5)

	properties.Property("violation iff value outside [lo, hi]", prop.ForAll(
		func(x float64) bool {
			vs := rule.Check(NewEnv(map[string]any{"rate": x}, nil))
			inside := x >= 0 && x <= 0.5
			return inside == (len(vs) == 0)
		},
		gen.Float64Range(-1, 1),
	))

	properties.TestingRun(t)
}

func TestProperty_ApproxAcceptsWithinTolerance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	rule := Approx("ebit", Field("ebit"), Product(Field("revenue"), Field("margin")), Relative(0.01))

	properties.Property("values within half the tolerance always pass", prop.ForAll(
		func(revenue, margin, noise float64) bool {
			expected := revenue * margin
			ebit := expected + noise*0.005*math.Abs(expected)
			out := map[string]any{"revenue": revenue, "margin": margin, "ebit": ebit}
			return len(rule.Check(NewEnv(out, nil))) == 0
		},
		gen.Float64Range(1, 1e6),
		gen.Float64Range(-1, 1),
		gen.Float64Range(-1, 1),
	))

	properties.Property("values beyond twice the tolerance always fail", prop.ForAll(
		func(revenue, margin float64, sign bool) bool {
			expected := revenue * margin
			delta := 0.02 * math.Abs(expected)
			if !sign {
				delta = -delta
			}
			out := map[string]any{"revenue": revenue, "margin": margin, "ebit": expected + delta}
			return len(rule.Check(NewEnv(out, nil))) == 1
		},
		gen.Float64Range(1, 1e6),
		gen.Float64Range(0.05, 1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
