package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopingSchema() *Schema {
	return Object(
		Prop("valuation_target", Enum("enterprise_value", "equity_per_share")),
		Prop("as_of_date", String().Match(`^(today|\d{4}-\d{2}-\d{2})$`)),
		Prop("currency", String().WithFormat(FormatCurrency)),
		Prop("years", Array(Integer()).Count(3, 5)),
		OptionalProp("notes", String().AllowNull()),
		Prop("margin", Number().Min(-1).Max(1)),
	).Closed()
}

func validScoping() map[string]any {
	return map[string]any{
		"valuation_target": "enterprise_value",
		"as_of_date":       "2024-12-31",
		"currency":         "USD",
		"years":            []any{2022.0, 2023.0, 2024.0},
		"margin":           0.2,
	}
}

func rulesOf(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestSchemaValidator_Valid(t *testing.T) {
	v := NewSchemaValidator()
	assert.Empty(t, v.Validate(validScoping(), scopingSchema()))

	withNull := validScoping()
	withNull["notes"] = nil
	assert.Empty(t, v.Validate(withNull, scopingSchema()))
}

func TestSchemaValidator_Violations(t *testing.T) {
	v := NewSchemaValidator()

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		rule   string
		field  string
	}{
		{"missing required", func(m map[string]any) { delete(m, "currency") }, "schema.required", "currency"},
		{"wrong type", func(m map[string]any) { m["margin"] = "high" }, "schema.type", "margin"},
		{"enum", func(m map[string]any) { m["valuation_target"] = "price" }, "schema.enum", "valuation_target"},
		{"pattern", func(m map[string]any) { m["as_of_date"] = "yesterday" }, "schema.pattern", "as_of_date"},
		{"format", func(m map[string]any) { m["currency"] = "usd" }, "schema.format", "currency"},
		{"too few items", func(m map[string]any) { m["years"] = []any{2024.0} }, "schema.min_items", "years"},
		{"item type", func(m map[string]any) { m["years"] = []any{2022.0, 2023.5, 2024.0} }, "schema.type", "years[1]"},
		{"maximum", func(m map[string]any) { m["margin"] = 1.4 }, "schema.maximum", "margin"},
		{"not nullable", func(m map[string]any) { m["margin"] = nil }, "schema.null", "margin"},
		{"closed", func(m map[string]any) { m["extra"] = true }, "schema.additional", "extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := validScoping()
			tt.mutate(out)
			vs := v.Validate(out, scopingSchema())
			require.Len(t, vs, 1, "violations: %v", vs)
			assert.Equal(t, tt.rule, vs[0].Rule)
			assert.Equal(t, PhaseStructural, vs[0].Phase)
			assert.Equal(t, []string{tt.field}, vs[0].Fields)
		})
	}
}

func TestSchemaValidator_NilOutput(t *testing.T) {
	vs := NewSchemaValidator().Validate(nil, scopingSchema())
	require.Len(t, vs, 1)
	assert.Equal(t, "schema.type", vs[0].Rule)
}

func TestSchemaValidator_OpenObjectAllowsExtra(t *testing.T) {
	schema := Object(Prop("a", Number()))
	assert.Empty(t, NewSchemaValidator().Validate(map[string]any{"a": 1.0, "b": "x"}, schema))
}

func TestSchemaValidator_NestedObjects(t *testing.T) {
	schema := Object(
		Prop("years", Array(Object(
			Prop("year", Integer()),
			Prop("revenue", Number().Positive()),
		))),
	)
	out := map[string]any{
		"years": []any{
			map[string]any{"year": 1.0, "revenue": 10.0},
			map[string]any{"year": 2.0, "revenue": 0.0},
			map[string]any{"revenue": 5.0},
		},
	}
	vs := NewSchemaValidator().Validate(out, schema)
	assert.ElementsMatch(t, []string{"schema.exclusive_minimum", "schema.required"}, rulesOf(vs))
}

func TestSchemaValidator_CustomFormat(t *testing.T) {
	v := NewSchemaValidator()
	v.RegisterFormat("ticker", func(s string) bool { return s == "ACME" })
	schema := Object(Prop("symbol", String().WithFormat("ticker")))

	assert.Empty(t, v.Validate(map[string]any{"symbol": "ACME"}, schema))
	assert.Len(t, v.Validate(map[string]any{"symbol": "NOPE"}, schema), 1)
}
