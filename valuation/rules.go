package valuation

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	v "github.com/BaSui01/valuationflow/validation"
)

const (
	// MaxReportWords bounds the markdown report length.
	MaxReportWords = 1500
	// MaxStructuredLines bounds consecutive raw-data lines inside the report.
	MaxStructuredLines = 50
	// MaxMultiple rejects near-zero-denominator multiples.
	MaxMultiple = 1000
)

func currencyMatches(stage string) v.Rule {
	return v.SameValue("currency matches "+stage, "currency", "@"+stage+".currency")
}

// ScopingRules 日期格式。枚举与币种格式由 schema 负责。
func ScopingRules() []v.Rule {
	return []v.Rule{
		v.Predicate("as_of_date format", `"today" or YYYY-MM-DD`, func(env v.Env) (bool, any, bool) {
			raw, ok := env.Lookup("as_of_date")
			if !ok {
				return false, nil, false
			}
			s, _ := raw.(string)
			if s == "today" {
				return true, s, true
			}
			_, err := time.Parse("2006-01-02", s)
			return err == nil, raw, true
		}, "as_of_date"),
	}
}

const historicalYears = "historical_financials_normalized.years"

// DataRules 市值一致性、财年顺序、利润率一致性。
func DataRules() []v.Rule {
	return []v.Rule{
		v.Approx("market cap ≈ price × shares",
			v.Field("market_data.market_cap"),
			v.Product(v.Field("market_data.price"), v.Field("market_data.shares_outstanding")),
			v.Relative(0.10)),
		v.Increasing("fiscal years strictly increasing", historicalYears, "year"),
		v.Each("historical years", historicalYears,
			v.Approx("ebit_margin ≈ ebit / revenue",
				v.Field("ebit_margin"), v.Quotient(v.Field("ebit"), v.Field("revenue")), v.Within(0.001)),
		),
		currencyMatches(StageScoping),
	}
}

const normalizedYears = "normalized_historical_financials.years"

// NormalizationRules capex 符号、利润率与 capex 比率一致性、稳态区间。
func NormalizationRules() []v.Rule {
	return []v.Rule{
		v.Each("normalized years", normalizedYears,
			v.AtLeast("capex ≥ 0", v.Field("capex"), v.Const(0)),
			v.AtLeast("capex_to_revenue ≥ 0", v.Field("capex_to_revenue"), v.Const(0)),
			v.Approx("ebit_margin ≈ ebit / revenue",
				v.Field("ebit_margin"), v.Quotient(v.Field("ebit"), v.Field("revenue")), v.Within(0.001)),
			v.Approx("capex_to_revenue ≈ capex / revenue",
				v.Field("capex_to_revenue"), v.Quotient(v.Field("capex"), v.Field("revenue")), v.Within(0.001)),
		),
		v.GreaterThan("ebit margin range low < high",
			v.Field("steady_state_assumptions.ebit_margin_range[1]"),
			v.Field("steady_state_assumptions.ebit_margin_range[0]"), 0),
		v.GreaterThan("capex ratio range low < high",
			v.Field("steady_state_assumptions.capex_to_revenue_range[1]"),
			v.Field("steady_state_assumptions.capex_to_revenue_range[0]"), 0),
		currencyMatches(StageData),
	}
}

// ForecastRules 预测期结构与逐年勾稽关系。
func ForecastRules() []v.Rule {
	return []v.Rule{
		v.Predicate("years match horizon", "len(years) = horizon_years", func(env v.Env) (bool, any, bool) {
			horizon, ok := env.Number("horizon_years")
			if !ok {
				return false, nil, false
			}
			raw, ok := env.Lookup("years")
			if !ok {
				return false, nil, false
			}
			years, _ := raw.([]any)
			return float64(len(years)) == horizon, len(years), true
		}, "horizon_years", "years"),
		v.Each("forecast years", "years",
			v.Approx("year = position", v.Field("year"), v.ElementIndex(1), v.Within(0)),
			v.GreaterThan("revenue > 0", v.Field("revenue"), v.Const(0), 0),
			v.Between("ebit_margin in [-1,1]", v.Field("ebit_margin"), -1, 1),
			v.Approx("ebit ≈ revenue × ebit_margin",
				v.Field("ebit"), v.Product(v.Field("revenue"), v.Field("ebit_margin")), v.Within(0.001)),
			v.Between("tax_rate in [0,0.5]", v.Field("tax_rate"), 0, 0.5),
			v.Approx("nopat ≈ ebit × (1 - tax_rate)",
				v.Field("nopat"), v.Product(v.Field("ebit"), v.Difference(v.Const(1), v.Field("tax_rate"))), v.Within(0.001)),
			v.AtLeast("depreciation ≥ 0", v.Field("depreciation"), v.Const(0)),
			v.GreaterThan("capex > 0", v.Field("capex"), v.Const(0), 0),
		),
		currencyMatches(StageNormalization),
	}
}

// WACCRules 区间、终值增长约束与加权公式。税率取预测期各年均值。
func WACCRules() []v.Rule {
	forecastYears := "@" + StageForecast + ".years"
	meanForecastTaxRate := v.Quotient(v.SumEach(forecastYears, "tax_rate"), v.Count(forecastYears))

	return []v.Rule{
		v.Between("cost_of_equity in [0,0.5]", v.Field("cost_of_equity"), 0, 0.5),
		v.Between("cost_of_debt in [0,0.5]", v.Field("cost_of_debt"), 0, 0.5),
		v.Between("wacc in [0,0.5]", v.Field("wacc"), 0, 0.5),
		v.Between("terminal_growth_rate in [0,0.06]", v.Field("terminal_growth_rate"), 0, 0.06),
		v.GreaterThan("wacc > terminal growth + 0.005", v.Field("wacc"), v.Field("terminal_growth_rate"), 0.005),
		v.Between("equity_weight in [0,1]", v.Field("equity_weight"), 0, 1),
		v.Between("debt_weight in [0,1]", v.Field("debt_weight"), 0, 1),
		v.Approx("weights sum to 1",
			v.Sum(v.Field("equity_weight"), v.Field("debt_weight")), v.Const(1), v.Within(0.01)),
		v.Approx("wacc ≈ E×Ke + D×Kd×(1 - t)",
			v.Field("wacc"),
			v.Sum(
				v.Product(v.Field("equity_weight"), v.Field("cost_of_equity")),
				v.Product(v.Field("debt_weight"), v.Field("cost_of_debt"),
					v.Difference(v.Const(1), meanForecastTaxRate)),
			),
			v.Within(0.005)),
		currencyMatches(StageData),
	}
}

// DCFRules 现金流、折现、终值、EV 与股权桥接的勾稽关系。
func DCFRules() []v.Rule {
	onePlusWACC := v.Sum(v.Const(1), v.Field("discount_rate_wacc"))
	forecastYears := "@" + StageForecast + ".years"
	lastYears := "@" + StageNormalization + "." + normalizedYears

	return []v.Rule{
		v.Approx("discount rate equals wacc", v.Field("discount_rate_wacc"), v.Field("@"+StageWACC+".wacc"), v.Within(0.0001)),
		v.Approx("terminal growth equals wacc stage",
			v.Field("terminal_growth_rate"), v.Field("@"+StageWACC+".terminal_growth_rate"), v.Within(0.0001)),
		v.Predicate("fcf series covers horizon", "len(fcf_series) = forecast horizon", func(env v.Env) (bool, any, bool) {
			horizon, ok := env.Number("@" + StageForecast + ".horizon_years")
			if !ok {
				return false, nil, false
			}
			raw, ok := env.Lookup("fcf_series")
			if !ok {
				return false, nil, false
			}
			series, _ := raw.([]any)
			return float64(len(series)) == horizon, len(series), true
		}, "fcf_series", "@"+StageForecast+".horizon_years"),
		v.Each("fcf series", "fcf_series",
			v.Approx("fcf ≈ nopat + depreciation - capex - Δwc",
				v.Field("fcf"),
				v.Difference(
					v.Sum(v.Aligned(forecastYears, "nopat"), v.Aligned(forecastYears, "depreciation")),
					v.Aligned(forecastYears, "capex"),
					v.Aligned(forecastYears, "change_in_working_capital"),
				),
				v.Within(0.1)),
			v.Approx("pv_fcf ≈ fcf / (1 + wacc)^year",
				v.Field("pv_fcf"),
				v.Quotient(v.Field("fcf"), v.Power(v.Sum(v.Const(1), v.Field("$.discount_rate_wacc")), v.Field("year"))),
				v.Within(0.1)),
		),
		v.Approx("terminal value (Gordon growth)",
			v.Field("terminal_value"),
			v.Quotient(
				v.Product(v.Last("fcf_series", "fcf"), v.Sum(v.Const(1), v.Field("terminal_growth_rate"))),
				v.Difference(v.Field("discount_rate_wacc"), v.Field("terminal_growth_rate")),
			),
			v.Within(1.0)),
		v.Approx("pv_terminal_value ≈ terminal_value / (1 + wacc)^horizon",
			v.Field("pv_terminal_value"),
			v.Quotient(v.Field("terminal_value"), v.Power(onePlusWACC, v.Field("@"+StageForecast+".horizon_years"))),
			v.Within(1.0)),
		v.Approx("enterprise value = Σ pv_fcf + pv_terminal_value",
			v.Field("enterprise_value"),
			v.Sum(v.SumEach("fcf_series", "pv_fcf"), v.Field("pv_terminal_value")),
			v.Within(1.0)),
		v.Approx("equity bridge",
			v.Field("equity_value"),
			v.Sum(
				v.Difference(v.Field("enterprise_value"), v.Last(lastYears, "total_debt")),
				v.Last(lastYears, "cash_and_equivalents"),
			),
			v.Within(1.0)),
		v.Approx("value per share ≈ equity / shares",
			v.Field("value_per_share"),
			v.Quotient(v.Field("equity_value"), v.Field("@"+StageData+".market_data.shares_outstanding")),
			v.Within(0.01)),
		currencyMatches(StageData),
	}
}

func multipleBounds(prefix string) []v.Rule {
	var out []v.Rule
	for _, m := range []string{"pe", "ev_to_revenue", "ev_to_ebitda"} {
		path := m
		if prefix != "" {
			path = prefix + "." + m
		}
		out = append(out, v.Between(fmt.Sprintf("%s in [0,%d]", path, MaxMultiple), v.Field(path), 0, MaxMultiple))
	}
	return out
}

// MultiplesRules 倍数非负且有界、同业列表、与市值的一致性。
func MultiplesRules() []v.Rule {
	rules := append(multipleBounds("subject_current_multiples"), multipleBounds("dcf_implied_multiples")...)
	rules = append(rules, multipleBounds("peer_comparison.peer_median_multiples")...)
	rules = append(rules,
		v.Each("peers", "peer_comparison.peers_analyzed", multipleBounds("")...),
		v.Predicate("peer median present", "at least one peer median when peers are analyzed", func(env v.Env) (bool, any, bool) {
			raw, ok := env.Lookup("peer_comparison.peers_analyzed")
			if !ok {
				return false, nil, false
			}
			peers, _ := raw.([]any)
			if len(peers) == 0 {
				return true, nil, true
			}
			for _, m := range []string{"pe", "ev_to_revenue", "ev_to_ebitda"} {
				if _, ok := env.Lookup("peer_comparison.peer_median_multiples." + m); ok {
					return true, nil, true
				}
			}
			return false, "all null", true
		}, "peer_comparison.peer_median_multiples"),
		v.Approx("subject P/E ≈ market cap / net income",
			v.Field("subject_current_multiples.pe"),
			v.Quotient(v.Field("@"+StageData+".market_data.market_cap"),
				v.Last("@"+StageData+"."+historicalYears, "net_income")),
			v.Relative(0.10)),
		currencyMatches(StageData),
	)
	return rules
}

// ReportRules 摘要与 DCF 一致、目标与币种对齐、报告篇幅。
func ReportRules() []v.Rule {
	dcf := "@" + StageDCF + "."
	return []v.Rule{
		v.Approx("summary EV matches dcf", v.Field("summary.enterprise_value_dcf"), v.Field(dcf+"enterprise_value"), v.Within(1.0)),
		v.Approx("summary equity matches dcf", v.Field("summary.equity_value_dcf"), v.Field(dcf+"equity_value"), v.Within(1.0)),
		v.Approx("summary per-share matches dcf", v.Field("summary.value_per_share_dcf"), v.Field(dcf+"value_per_share"), v.Within(1.0)),
		v.Approx("key wacc matches dcf", v.Field("key_assumptions.wacc"), v.Field(dcf+"discount_rate_wacc"), v.Within(0.0001)),
		v.SameValue("valuation target matches scoping", "summary.valuation_target", "@"+StageScoping+".valuation_target"),
		v.SameValue("currency matches scoping", "summary.currency", "@"+StageScoping+".currency"),
		v.Predicate("report word budget", fmt.Sprintf("at most %d words", MaxReportWords), func(env v.Env) (bool, any, bool) {
			raw, ok := env.Lookup("markdown_report")
			if !ok {
				return false, nil, false
			}
			s, _ := raw.(string)
			n := len(strings.Fields(s))
			return n <= MaxReportWords, n, true
		}, "markdown_report"),
		v.Predicate("no raw data dumps", fmt.Sprintf("at most %d consecutive structured lines", MaxStructuredLines), func(env v.Env) (bool, any, bool) {
			raw, ok := env.Lookup("markdown_report")
			if !ok {
				return false, nil, false
			}
			s, _ := raw.(string)
			n, err := longestStructuredRun(s)
			if err != nil {
				return false, err.Error(), true
			}
			return n <= MaxStructuredLines, n, true
		}, "markdown_report"),
	}
}

// maxReportLine bounds a single report line; longer lines are rejected.
const maxReportLine = 1024 * 1024

// longestStructuredRun counts the longest run of lines that look like JSON or
// table data rather than prose. A line over maxReportLine is an error.
func longestStructuredRun(s string) (int, error) {
	best, run := 0, 0
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), maxReportLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if isStructured(line) {
			run++
			if run > best {
				best = run
			}
			continue
		}
		run = 0
	}
	if err := sc.Err(); err != nil {
		return best, fmt.Errorf("report line too long to inspect: %w", err)
	}
	return best, nil
}

func isStructured(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case '{', '}', '[', ']', '"':
		return true
	}
	return strings.HasSuffix(line, ",") && strings.Contains(line, ":")
}
