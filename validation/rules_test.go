package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprox(t *testing.T) {
	rule := Approx("ebit_margin_consistency",
		Field("ebit_margin"), Quotient(Field("ebit"), Field("revenue")), Within(0.001))

	ok := NewEnv(map[string]any{"ebit": 20.0, "revenue": 100.0, "ebit_margin": 0.2005}, nil)
	assert.Empty(t, rule.Check(ok))

	bad := NewEnv(map[string]any{"ebit": 20.0, "revenue": 100.0, "ebit_margin": 0.25}, nil)
	vs := rule.Check(bad)
	require.Len(t, vs, 1)
	assert.Equal(t, "ebit_margin_consistency", vs[0].Rule)
	assert.Equal(t, PhaseSemantic, vs[0].Phase)
	assert.Equal(t, 0.25, vs[0].Observed)
	assert.Equal(t, []string{"ebit_margin", "ebit", "revenue"}, vs[0].Fields)

	zeroRevenue := NewEnv(map[string]any{"ebit": 20.0, "revenue": 0.0, "ebit_margin": 0.25}, nil)
	assert.Empty(t, rule.Check(zeroRevenue), "undefined quotient is not applicable")
}

func TestApprox_Relative(t *testing.T) {
	rule := Approx("market_cap", Field("market_cap"), Product(Field("price"), Field("shares")), Relative(0.10))

	assert.Empty(t, rule.Check(NewEnv(map[string]any{"market_cap": 1050.0, "price": 10.0, "shares": 100.0}, nil)))
	assert.Len(t, rule.Check(NewEnv(map[string]any{"market_cap": 1200.0, "price": 10.0, "shares": 100.0}, nil)), 1)
}

func TestGreaterThan(t *testing.T) {
	rule := GreaterThan("wacc_above_growth", Field("wacc"), Field("g"), 0.005)

	assert.Empty(t, rule.Check(NewEnv(map[string]any{"wacc": 0.09, "g": 0.02}, nil)))

	vs := rule.Check(NewEnv(map[string]any{"wacc": 0.024, "g": 0.02}, nil))
	require.Len(t, vs, 1)
	assert.Contains(t, vs[0].Expected, "0.025")

	assert.Empty(t, rule.Check(NewEnv(map[string]any{"wacc": 0.09}, nil)), "absent operand skips")
}

func TestAtLeast(t *testing.T) {
	rule := AtLeast("capex_non_negative", Field("capex"), Const(0))
	assert.Empty(t, rule.Check(NewEnv(map[string]any{"capex": 0.0}, nil)))
	assert.Len(t, rule.Check(NewEnv(map[string]any{"capex": -1.0}, nil)), 1)
}

func TestBetween(t *testing.T) {
	rule := Between("margin_range", Field("margin"), 0, 1)

	assert.Empty(t, rule.Check(NewEnv(map[string]any{"margin": 0.34}, nil)))
	assert.Empty(t, rule.Check(NewEnv(map[string]any{"margin": nil}, nil)), "null skips")

	vs := rule.Check(NewEnv(map[string]any{"margin": 1.4}, nil))
	require.Len(t, vs, 1)
	assert.Equal(t, 1.4, vs[0].Observed)
	assert.Equal(t, "in [0, 1]", vs[0].Expected)
}

func TestSameValue_Upstream(t *testing.T) {
	rule := SameValue("currency_matches_data", "currency", "@data.currency")
	upstream := map[string]map[string]any{"data": {"currency": "USD"}}

	assert.Empty(t, rule.Check(NewEnv(map[string]any{"currency": "usd"}, upstream)))

	vs := rule.Check(NewEnv(map[string]any{"currency": "EUR"}, upstream))
	require.Len(t, vs, 1)
	assert.Equal(t, []string{"currency", "@data.currency"}, vs[0].Fields)

	assert.Empty(t, rule.Check(NewEnv(map[string]any{"currency": "EUR"}, nil)), "missing upstream skips")
}

func TestOneOf(t *testing.T) {
	rule := OneOf("unit_scale", "unit_scale", "millions")
	assert.Empty(t, rule.Check(NewEnv(map[string]any{"unit_scale": "millions"}, nil)))
	assert.Len(t, rule.Check(NewEnv(map[string]any{"unit_scale": "thousands"}, nil)), 1)
}

func TestIncreasing(t *testing.T) {
	rule := Increasing("years_increasing", "history", "year")
	out := map[string]any{"history": []any{
		map[string]any{"year": 2022.0},
		map[string]any{"year": 2024.0},
		map[string]any{"year": 2023.0},
	}}
	vs := rule.Check(NewEnv(out, nil))
	require.Len(t, vs, 1)
	assert.Equal(t, []string{"history[2].year"}, vs[0].Fields)
}

func TestEach_ElementAndRootPaths(t *testing.T) {
	rule := Each("years", "years",
		Approx("nopat", Field("nopat"), Product(Field("ebit"), Difference(Const(1), Field("$.tax_rate"))), Within(0.01)),
		Approx("discount_factor", Field("df"), Power(Sum(Const(1), Field("@wacc.wacc")), ElementIndex(1)), Within(0.0001)),
	)
	upstream := map[string]map[string]any{"wacc": {"wacc": 0.1}}
	out := map[string]any{
		"tax_rate": 0.25,
		"years": []any{
			map[string]any{"ebit": 100.0, "nopat": 75.0, "df": 1.1},
			map[string]any{"ebit": 100.0, "nopat": 80.0, "df": 1.21},
		},
	}

	vs := rule.Check(NewEnv(out, upstream))
	require.Len(t, vs, 1)
	assert.Equal(t, "years/nopat", vs[0].Rule)
	assert.Equal(t, []string{"years[1].nopat", "years[1].ebit", "tax_rate"}, vs[0].Fields)
}

func TestSumEachAndLast(t *testing.T) {
	out := map[string]any{
		"years": []any{
			map[string]any{"pv": 10.0},
			map[string]any{"pv": 20.0},
		},
		"pv_tv": 70.0,
		"ev":    100.0,
	}
	rule := Approx("ev_bridge", Field("ev"), Sum(SumEach("years", "pv"), Field("pv_tv")), Within(0.01))
	assert.Empty(t, rule.Check(NewEnv(out, nil)))

	v, ok := Last("years", "pv").Eval(NewEnv(out, nil))
	require.True(t, ok)
	assert.Equal(t, 20.0, v)
}

func TestPredicate(t *testing.T) {
	rule := Predicate("horizon_years", "years numbered 1..n", func(env Env) (bool, any, bool) {
		n, ok := env.Number("horizon")
		if !ok {
			return false, nil, false
		}
		return n >= 5 && n <= 7, n, true
	}, "horizon")

	assert.Empty(t, rule.Check(NewEnv(map[string]any{"horizon": 5.0}, nil)))
	assert.Empty(t, rule.Check(NewEnv(map[string]any{}, nil)))
	assert.Len(t, rule.Check(NewEnv(map[string]any{"horizon": 9.0}, nil)), 1)
}

func TestExprString(t *testing.T) {
	e := Product(Field("revenue"), Difference(Const(1), Field("tax")))
	assert.Equal(t, "revenue × (1 - tax)", e.String())
}

func TestLookupPath(t *testing.T) {
	root := map[string]any{"a": []any{map[string]any{"b": []any{1.0, 2.0}}}}

	v, ok := lookupPath(root, "a[0].b[1]")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok = lookupPath(root, "a[3].b")
	assert.False(t, ok)
	_, ok = lookupPath(root, "a[x]")
	assert.False(t, ok)
}

func TestAligned(t *testing.T) {
	upstream := map[string]map[string]any{
		"forecast": {"years": []any{
			map[string]any{"nopat": 10.0},
			map[string]any{"nopat": 12.0},
		}},
	}
	rule := Each("fcf series", "fcf_series",
		Approx("fcf matches nopat", Field("fcf"), Aligned("@forecast.years", "nopat"), Within(0.1)))

	ok := NewEnv(map[string]any{"fcf_series": []any{
		map[string]any{"fcf": 10.0},
		map[string]any{"fcf": 12.05},
	}}, upstream)
	assert.Empty(t, rule.Check(ok))

	bad := NewEnv(map[string]any{"fcf_series": []any{
		map[string]any{"fcf": 10.0},
		map[string]any{"fcf": 15.0},
		map[string]any{"fcf": 99.0},
	}}, upstream)
	vs := rule.Check(bad)
	require.Len(t, vs, 1, "elements without a counterpart are not applicable")
	assert.Equal(t, "fcf series/fcf matches nopat", vs[0].Rule)
	assert.Contains(t, vs[0].Fields, "fcf_series[1].fcf")

	_, defined := Aligned("@forecast.years", "nopat").Eval(NewEnv(nil, upstream))
	assert.False(t, defined, "undefined outside Each")
}

func TestCount_MeanOfField(t *testing.T) {
	upstream := map[string]map[string]any{"forecast": {"years": []any{
		map[string]any{"tax_rate": 0.0},
		map[string]any{"tax_rate": 0.3},
		map[string]any{"tax_rate": 0.3},
	}}}
	env := NewEnv(nil, upstream)

	mean, ok := Quotient(SumEach("@forecast.years", "tax_rate"), Count("@forecast.years")).Eval(env)
	require.True(t, ok)
	assert.InDelta(t, 0.2, mean, 1e-12)

	_, ok = Count("@forecast.years").Eval(NewEnv(nil, map[string]map[string]any{"forecast": {"years": []any{}}}))
	assert.False(t, ok, "empty array is undefined")
	_, ok = Count("years").Eval(NewEnv(map[string]any{"years": "n/a"}, nil))
	assert.False(t, ok)
}

func TestReferencedStages(t *testing.T) {
	rules := []Rule{
		Between("margin", Field("margin"), 0, 1),
		SameValue("currency", "currency", "@data.currency"),
		Approx("wacc", Field("wacc"), Quotient(SumEach("@forecast.years", "tax_rate"), Count("@forecast.years")), Within(0.01)),
		Each("fcf", "fcf_series",
			Approx("fcf", Field("fcf"), Aligned("@forecast.years", "nopat"), Within(0.1)),
			GreaterThan("df", Field("df"), Field("@wacc.wacc"), 0)),
		Predicate("horizon", "len = horizon", func(Env) (bool, any, bool) { return true, nil, true },
			"fcf_series", "@forecast[0].horizon_years"),
		OneOf("scale", "@scoping.unit_scale", "millions"),
		Increasing("years", "@data.years", "year"),
	}
	assert.Equal(t, []string{"data", "forecast", "wacc", "scoping"}, ReferencedStages(rules...))
	assert.Empty(t, ReferencedStages(Between("margin", Field("margin"), 0, 1)))
}
