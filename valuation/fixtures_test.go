package valuation

import (
	"math"
)

// acmeOutputs returns internally consistent outputs for every stage.
func acmeOutputs() map[string]map[string]any {
	years := []float64{2021, 2022, 2023}
	revenue := []float64{1000, 1100, 1200}
	ebit := []float64{300, 330, 360}
	netIncome := []float64{200, 220, 240}
	capex := []float64{50, 55, 60}
	const (
		debt   = 500.0
		cash   = 200.0
		price  = 50.0
		shares = 100.0
	)

	var hist, norm []any
	for i := range years {
		hist = append(hist, map[string]any{
			"year": years[i], "revenue": revenue[i], "ebit": ebit[i], "net_income": netIncome[i],
			"ebit_margin": ebit[i] / revenue[i], "capex": capex[i], "depreciation": 30.0,
			"total_debt": debt, "cash_and_equivalents": cash, "working_capital": 100.0, "cfo": 320.0,
		})
		norm = append(norm, map[string]any{
			"year": years[i], "revenue": revenue[i], "ebit": ebit[i], "ebit_margin": ebit[i] / revenue[i],
			"net_income": netIncome[i], "net_margin": netIncome[i] / revenue[i],
			"capex": capex[i], "capex_to_revenue": capex[i] / revenue[i],
			"total_debt": debt, "cash_and_equivalents": cash,
		})
	}

	const (
		horizon = 5
		margin  = 0.3
		tax     = 0.21
		ke      = 0.09
		kd      = 0.04
		we      = 0.8
		wd      = 0.2
		g       = 0.025
	)
	wacc := we*ke + wd*kd*(1-tax)

	var fyears, series []any
	var sumPV, lastFCF float64
	for i := 1; i <= horizon; i++ {
		rev := 1200 * math.Pow(1.05, float64(i))
		e := rev * margin
		nopat := e * (1 - tax)
		fyears = append(fyears, map[string]any{
			"year": float64(i), "revenue": rev, "ebit_margin": margin, "ebit": e, "tax_rate": tax,
			"nopat": nopat, "depreciation": 40.0, "capex": 60.0, "change_in_working_capital": 10.0,
		})
		fcf := nopat + 40 - 60 - 10
		pv := fcf / math.Pow(1+wacc, float64(i))
		sumPV += pv
		lastFCF = fcf
		series = append(series, map[string]any{"year": float64(i), "fcf": fcf, "pv_fcf": pv})
	}
	tv := lastFCF * (1 + g) / (wacc - g)
	pvTV := tv / math.Pow(1+wacc, horizon)
	ev := sumPV + pvTV
	equity := ev - debt + cash
	perShare := equity / shares

	return map[string]map[string]any{
		StageScoping: {
			"company_identifier":  "ACME",
			"valuation_target":    TargetEquityPerShare,
			"as_of_date":          "2024-12-31",
			"currency":            "USD",
			"control_perspective": "minority",
		},
		StageData: {
			"unit_scale":      "millions",
			"currency":        "USD",
			"resolved_symbol": "ACME.US",
			"resolved_name":   "Acme Corp",
			"market_data": map[string]any{
				"price": price, "currency": "USD", "market_cap": price * shares, "shares_outstanding": shares,
			},
			"historical_financials_normalized": map[string]any{"years": hist},
			"sector":                           "Industrials",
		},
		StageNormalization: {
			"unit_scale":                       "millions",
			"currency":                         "USD",
			"normalized_historical_financials": map[string]any{"years": norm},
			"steady_state_assumptions": map[string]any{
				"ebit_margin_range":      []any{0.28, 0.32},
				"capex_to_revenue_range": []any{0.04, 0.05},
			},
		},
		StageForecast: {
			"unit_scale":    "millions",
			"currency":      "USD",
			"horizon_years": float64(horizon),
			"years":         fyears,
		},
		StageWACC: {
			"unit_scale":           "millions",
			"currency":             "USD",
			"cost_of_equity":       ke,
			"cost_of_debt":         kd,
			"equity_weight":        we,
			"debt_weight":          wd,
			"wacc":                 wacc,
			"terminal_growth_rate": g,
		},
		StageDCF: {
			"unit_scale":           "millions",
			"currency":             "USD",
			"discount_rate_wacc":   wacc,
			"terminal_growth_rate": g,
			"fcf_series":           series,
			"terminal_value":       tv,
			"pv_terminal_value":    pvTV,
			"enterprise_value":     ev,
			"equity_value":         equity,
			"value_per_share":      perShare,
		},
		StageMultiples: {
			"unit_scale": "millions",
			"currency":   "USD",
			"subject_current_multiples": map[string]any{
				"pe": price * shares / 240, "ev_to_revenue": 4.5, "ev_to_ebitda": 13.0,
			},
			"dcf_implied_multiples": map[string]any{
				"pe": equity / 240, "ev_to_revenue": ev / 1200, "ev_to_ebitda": ev / 390,
			},
			"peer_comparison": map[string]any{
				"peers_analyzed": []any{
					map[string]any{"symbol": "GLOBEX.US", "pe": 18.0, "ev_to_revenue": 3.9, "ev_to_ebitda": 11.0},
					map[string]any{"symbol": "INITECH.US", "pe": 22.0, "ev_to_revenue": 4.1, "ev_to_ebitda": 12.0},
				},
				"peer_median_multiples": map[string]any{"pe": 20.0, "ev_to_revenue": 4.0, "ev_to_ebitda": 11.5},
			},
		},
		StageReport: {
			"summary": map[string]any{
				"company_name":         "Acme Corp",
				"symbol":               "ACME.US",
				"currency":             "USD",
				"valuation_target":     TargetEquityPerShare,
				"enterprise_value_dcf": ev,
				"equity_value_dcf":     equity,
				"value_per_share_dcf":  perShare,
				"current_market_price": price,
			},
			"key_assumptions": map[string]any{
				"forecast_horizon_years": float64(horizon),
				"wacc":                   wacc,
				"terminal_growth_rate":   g,
			},
			"comparison_to_multiples": map[string]any{"dcf_higher_or_lower": "lower"},
			"markdown_report":         "# ACME\n\nThe DCF implies a value below the current price.\n",
		},
	}
}
