package valuation

import (
	v "github.com/BaSui01/valuationflow/validation"
)

// 所有金额单位为百万（unit_scale = "millions"），capex 为正数。

func unitProps() []v.Property {
	return []v.Property{
		v.Prop("unit_scale", v.Enum("millions")),
		v.Prop("currency", v.String().WithFormat(v.FormatCurrency)),
	}
}

func nullableNumber() *v.Schema { return v.Number().AllowNull() }

func object(props ...v.Property) *v.Schema { return v.Object(props...) }

// ScopingSchema 范围界定：公司、估值目标、基准日与币种。
func ScopingSchema() *v.Schema {
	return object(
		v.Prop("company_identifier", v.String().NonEmpty()),
		v.Prop("valuation_target", v.Enum(TargetEnterpriseValue, TargetEquityPerShare)),
		v.Prop("as_of_date", v.String().NonEmpty().Describe(`"today" or YYYY-MM-DD`)),
		v.Prop("currency", v.String().WithFormat(v.FormatCurrency)),
		v.Prop("control_perspective", v.Enum("control", "minority")),
		v.OptionalProp("holding_period_or_style", v.String().AllowNull()),
		v.OptionalProp("additional_context_notes", v.String().AllowNull()),
	).Closed()
}

func historicalYear() *v.Schema {
	return object(
		v.Prop("year", v.Integer()),
		v.Prop("revenue", v.Number()),
		v.OptionalProp("ebit", nullableNumber()),
		v.OptionalProp("net_income", nullableNumber()),
		v.OptionalProp("ebit_margin", nullableNumber()),
		v.OptionalProp("cfo", nullableNumber()),
		v.OptionalProp("capex", nullableNumber()),
		v.OptionalProp("depreciation", nullableNumber()),
		v.OptionalProp("total_debt", nullableNumber()),
		v.OptionalProp("cash_and_equivalents", nullableNumber()),
		v.OptionalProp("working_capital", nullableNumber()),
	)
}

// DataSchema 市场数据与最近 3-5 个财年的基本面。
func DataSchema() *v.Schema {
	props := append(unitProps(),
		v.Prop("resolved_symbol", v.String().NonEmpty()),
		v.OptionalProp("resolved_name", v.String().AllowNull()),
		v.Prop("market_data", object(
			v.OptionalProp("price", nullableNumber()),
			v.OptionalProp("currency", v.String().AllowNull()),
			v.OptionalProp("market_cap", nullableNumber()),
			v.OptionalProp("shares_outstanding", nullableNumber()),
		)),
		v.Prop("historical_financials_normalized", object(
			v.Prop("years", v.Array(historicalYear()).Count(3, 5)),
		)),
		v.OptionalProp("sector", v.String().AllowNull()),
		v.OptionalProp("industry", v.String().AllowNull()),
	)
	return object(props...).Closed()
}

func normalizedYear() *v.Schema {
	return object(
		v.Prop("year", v.Integer()),
		v.Prop("revenue", v.Number()),
		v.OptionalProp("revenue_growth", nullableNumber()),
		v.OptionalProp("ebit", nullableNumber()),
		v.OptionalProp("ebit_margin", nullableNumber()),
		v.OptionalProp("net_income", nullableNumber()),
		v.OptionalProp("net_margin", nullableNumber()),
		v.OptionalProp("cfo", nullableNumber()),
		v.OptionalProp("cfo_margin", nullableNumber()),
		v.OptionalProp("capex", nullableNumber()),
		v.OptionalProp("capex_to_revenue", nullableNumber()),
		v.OptionalProp("depreciation", nullableNumber()),
		v.OptionalProp("total_debt", nullableNumber()),
		v.OptionalProp("cash_and_equivalents", nullableNumber()),
		v.OptionalProp("working_capital", nullableNumber()),
	)
}

func rangeSchema() *v.Schema {
	return v.Array(nullableNumber()).Count(2, 2)
}

// NormalizationSchema 归一化后的历史财务与稳态假设。
func NormalizationSchema() *v.Schema {
	props := append(unitProps(),
		v.Prop("normalized_historical_financials", object(
			v.Prop("years", v.Array(normalizedYear()).NonEmpty()),
		)),
		v.OptionalProp("business_characterization_notes", v.String().AllowNull()),
		v.Prop("steady_state_assumptions", object(
			v.Prop("ebit_margin_range", rangeSchema()),
			v.Prop("capex_to_revenue_range", rangeSchema()),
			v.OptionalProp("working_capital_intensity_notes", v.String().AllowNull()),
		)),
	)
	return object(props...).Closed()
}

func forecastYear() *v.Schema {
	return object(
		v.Prop("year", v.Integer()),
		v.Prop("revenue", v.Number()),
		v.Prop("ebit_margin", v.Number()),
		v.Prop("ebit", v.Number()),
		v.Prop("tax_rate", v.Number()),
		v.Prop("nopat", v.Number()),
		v.Prop("depreciation", v.Number()),
		v.Prop("capex", v.Number()),
		v.Prop("change_in_working_capital", v.Number()),
	)
}

// ForecastSchema 5-7 年的显性预测期。
func ForecastSchema() *v.Schema {
	props := append(unitProps(),
		v.Prop("horizon_years", v.Integer().Min(5).Max(7)),
		v.Prop("years", v.Array(forecastYear()).Count(5, 7)),
		v.OptionalProp("forecast_assumptions_notes", v.String().AllowNull()),
	)
	return object(props...).Closed()
}

// WACCSchema 资本成本与终值增长率。
func WACCSchema() *v.Schema {
	props := append(unitProps(),
		v.Prop("cost_of_equity", v.Number()),
		v.Prop("cost_of_debt", v.Number()),
		v.OptionalProp("equity_weight", nullableNumber()),
		v.OptionalProp("debt_weight", nullableNumber()),
		v.Prop("wacc", v.Number()),
		v.Prop("terminal_growth_rate", v.Number()),
		v.OptionalProp("capital_assumptions_notes", v.String().AllowNull()),
	)
	return object(props...).Closed()
}

// DCFSchema 自由现金流折现结果。
func DCFSchema() *v.Schema {
	props := append(unitProps(),
		v.Prop("discount_rate_wacc", v.Number()),
		v.Prop("terminal_growth_rate", v.Number()),
		v.Prop("fcf_series", v.Array(object(
			v.Prop("year", v.Integer()),
			v.Prop("fcf", v.Number()),
			v.Prop("pv_fcf", v.Number()),
		)).NonEmpty()),
		v.Prop("terminal_value", v.Number()),
		v.Prop("pv_terminal_value", v.Number()),
		v.Prop("enterprise_value", v.Number()),
		v.Prop("equity_value", v.Number()),
		v.OptionalProp("value_per_share", nullableNumber()),
		v.OptionalProp("dcf_notes", v.String().AllowNull()),
	)
	return object(props...).Closed()
}

func multiplesSet() *v.Schema {
	return object(
		v.OptionalProp("pe", nullableNumber()),
		v.OptionalProp("ev_to_revenue", nullableNumber()),
		v.OptionalProp("ev_to_ebitda", nullableNumber()),
	)
}

// MultiplesSchema 可比倍数与同业对比。
func MultiplesSchema() *v.Schema {
	props := append(unitProps(),
		v.Prop("subject_current_multiples", multiplesSet()),
		v.Prop("dcf_implied_multiples", multiplesSet()),
		v.Prop("peer_comparison", object(
			v.Prop("peers_analyzed", v.Array(object(
				v.Prop("symbol", v.String().NonEmpty()),
				v.OptionalProp("name", v.String().AllowNull()),
				v.OptionalProp("ev_to_ebitda", nullableNumber()),
				v.OptionalProp("ev_to_revenue", nullableNumber()),
				v.OptionalProp("pe", nullableNumber()),
			)).Count(0, 3)),
			v.Prop("peer_median_multiples", multiplesSet()),
		)),
		v.OptionalProp("recent_news_summary", v.String().AllowNull()),
		v.OptionalProp("reasonability_assessment", v.String().AllowNull()),
		v.OptionalProp("multiples_vs_dcf_notes", v.String().AllowNull()),
	)
	return object(props...).Closed()
}

// ReportSchema 最终估值摘要与 markdown 报告。
func ReportSchema() *v.Schema {
	return object(
		v.Prop("summary", object(
			v.Prop("company_name", v.String().NonEmpty()),
			v.Prop("symbol", v.String().NonEmpty()),
			v.Prop("currency", v.String().WithFormat(v.FormatCurrency)),
			v.Prop("valuation_target", v.Enum(TargetEnterpriseValue, TargetEquityPerShare)),
			v.Prop("enterprise_value_dcf", v.Number()),
			v.Prop("equity_value_dcf", v.Number()),
			v.OptionalProp("value_per_share_dcf", nullableNumber()),
			v.OptionalProp("current_market_price", nullableNumber()),
			v.OptionalProp("current_market_cap", nullableNumber()),
		)),
		v.Prop("key_assumptions", object(
			v.Prop("forecast_horizon_years", v.Integer()),
			v.OptionalProp("revenue_growth_description", v.String().AllowNull()),
			v.OptionalProp("margin_profile_description", v.String().AllowNull()),
			v.OptionalProp("reinvestment_profile_description", v.String().AllowNull()),
			v.Prop("wacc", v.Number()),
			v.Prop("terminal_growth_rate", v.Number()),
		)),
		v.Prop("comparison_to_multiples", object(
			v.OptionalProp("dcf_vs_multiples_observation", v.String().AllowNull()),
			v.Prop("dcf_higher_or_lower", v.Enum("higher", "lower", "broadly_in_line", "unclear")),
		)),
		v.Prop("markdown_report", v.String().NonEmpty()),
	).Closed()
}
