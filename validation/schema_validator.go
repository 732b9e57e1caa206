package validation

import (
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"
)

// SchemaValidator checks decoded JSON output against a Schema.
type SchemaValidator struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
	formats  map[StringFormat]func(string) bool
}

// NewSchemaValidator creates a validator with the built-in formats.
func NewSchemaValidator() *SchemaValidator {
	v := &SchemaValidator{
		patterns: make(map[string]*regexp.Regexp),
		formats:  make(map[StringFormat]func(string) bool),
	}
	v.formats[FormatDate] = func(s string) bool {
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	}
	v.formats[FormatDateTime] = func(s string) bool {
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	}
	currency := regexp.MustCompile(`^[A-Z]{3}$`)
	v.formats[FormatCurrency] = currency.MatchString
	return v
}

// RegisterFormat registers a custom format check.
func (v *SchemaValidator) RegisterFormat(format StringFormat, check func(string) bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.formats[format] = check
}

// Validate returns every structural violation of output against schema.
// A nil schema accepts anything.
func (v *SchemaValidator) Validate(output map[string]any, schema *Schema) []Violation {
	if schema == nil {
		return nil
	}
	if output == nil {
		return []Violation{structural("schema.type", "", "object", nil, "output is missing or not a JSON object")}
	}
	var out []Violation
	v.validateValue(output, schema, "", &out)
	return out
}

func structural(rule, path, expected string, observed any, msg string) Violation {
	var fields []string
	if path != "" {
		fields = []string{path}
	}
	return Violation{
		Rule:     rule,
		Phase:    PhaseStructural,
		Fields:   fields,
		Expected: expected,
		Observed: observed,
		Message:  msg,
	}
}

func (v *SchemaValidator) validateValue(value any, schema *Schema, path string, out *[]Violation) {
	if value == nil {
		if !schema.Nullable {
			*out = append(*out, structural("schema.null", path, string(schema.Type), nil, "field must not be null"))
		}
		return
	}

	switch schema.Type {
	case TypeObject:
		v.validateObject(value, schema, path, out)
	case TypeArray:
		v.validateArray(value, schema, path, out)
	case TypeString:
		v.validateString(value, schema, path, out)
	case TypeNumber:
		v.validateNumber(value, schema, path, false, out)
	case TypeInteger:
		v.validateNumber(value, schema, path, true, out)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			*out = append(*out, structural("schema.type", path, "boolean", typeName(value),
				fmt.Sprintf("expected boolean, got %s", typeName(value))))
		}
	}
}

func (v *SchemaValidator) validateObject(value any, schema *Schema, path string, out *[]Violation) {
	obj, ok := value.(map[string]any)
	if !ok {
		*out = append(*out, structural("schema.type", path, "object", typeName(value),
			fmt.Sprintf("expected object, got %s", typeName(value))))
		return
	}

	for _, name := range schema.Required {
		if _, exists := obj[name]; !exists {
			*out = append(*out, structural("schema.required", joinPath(path, name), "present", nil,
				"required field is missing"))
		}
	}

	for _, name := range schema.PropertyNames() {
		val, exists := obj[name]
		if !exists {
			continue
		}
		v.validateValue(val, schema.Properties[name], joinPath(path, name), out)
	}

	// Only the top level of a closed schema rejects unknown members.
	if path == "" && schema.IsClosed() {
		for _, name := range sortedKeys(obj) {
			if _, declared := schema.Properties[name]; !declared {
				*out = append(*out, structural("schema.additional", name, "no such field", nil,
					"unexpected field"))
			}
		}
	}
}

func (v *SchemaValidator) validateArray(value any, schema *Schema, path string, out *[]Violation) {
	arr, ok := value.([]any)
	if !ok {
		*out = append(*out, structural("schema.type", path, "array", typeName(value),
			fmt.Sprintf("expected array, got %s", typeName(value))))
		return
	}
	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		*out = append(*out, structural("schema.min_items", path, fmt.Sprintf("at least %d items", *schema.MinItems),
			len(arr), fmt.Sprintf("array has %d items, minimum is %d", len(arr), *schema.MinItems)))
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		*out = append(*out, structural("schema.max_items", path, fmt.Sprintf("at most %d items", *schema.MaxItems),
			len(arr), fmt.Sprintf("array has %d items, maximum is %d", len(arr), *schema.MaxItems)))
	}
	if schema.Items != nil {
		for i, item := range arr {
			v.validateValue(item, schema.Items, indexPath(path, i), out)
		}
	}
}

func (v *SchemaValidator) validateString(value any, schema *Schema, path string, out *[]Violation) {
	str, ok := value.(string)
	if !ok {
		*out = append(*out, structural("schema.type", path, "string", typeName(value),
			fmt.Sprintf("expected string, got %s", typeName(value))))
		return
	}

	if schema.MinLength != nil && len(str) < *schema.MinLength {
		*out = append(*out, structural("schema.min_length", path, fmt.Sprintf("at least %d characters", *schema.MinLength),
			str, "string is too short"))
	}

	if len(schema.Enum) > 0 {
		found := false
		for _, allowed := range schema.Enum {
			if str == allowed {
				found = true
				break
			}
		}
		if !found {
			*out = append(*out, structural("schema.enum", path, fmt.Sprintf("one of %v", schema.Enum), str,
				"value is not an allowed option"))
		}
	}

	if schema.Pattern != "" {
		re, err := v.pattern(schema.Pattern)
		if err != nil {
			*out = append(*out, structural("schema.pattern", path, schema.Pattern, str,
				fmt.Sprintf("invalid pattern: %v", err)))
		} else if !re.MatchString(str) {
			*out = append(*out, structural("schema.pattern", path, fmt.Sprintf("match %q", schema.Pattern), str,
				"string does not match the required pattern"))
		}
	}

	if schema.Format != "" {
		v.mu.RLock()
		check, ok := v.formats[schema.Format]
		v.mu.RUnlock()
		if ok && !check(str) {
			*out = append(*out, structural("schema.format", path, string(schema.Format), str,
				fmt.Sprintf("string is not a valid %s", schema.Format)))
		}
	}
}

func (v *SchemaValidator) validateNumber(value any, schema *Schema, path string, integer bool, out *[]Violation) {
	num, ok := toFloat64(value)
	if !ok {
		want := "number"
		if integer {
			want = "integer"
		}
		*out = append(*out, structural("schema.type", path, want, typeName(value),
			fmt.Sprintf("expected %s, got %s", want, typeName(value))))
		return
	}
	if math.IsNaN(num) || math.IsInf(num, 0) {
		*out = append(*out, structural("schema.type", path, "finite number", num, "value is not finite"))
		return
	}
	if integer && num != math.Trunc(num) {
		*out = append(*out, structural("schema.type", path, "integer", num, "expected integer"))
		return
	}
	if schema.Minimum != nil && num < *schema.Minimum {
		*out = append(*out, structural("schema.minimum", path, fmt.Sprintf(">= %s", formatValue(*schema.Minimum)), num,
			"value is below the minimum"))
	}
	if schema.Maximum != nil && num > *schema.Maximum {
		*out = append(*out, structural("schema.maximum", path, fmt.Sprintf("<= %s", formatValue(*schema.Maximum)), num,
			"value exceeds the maximum"))
	}
	if schema.ExclusiveMinimum != nil && num <= *schema.ExclusiveMinimum {
		*out = append(*out, structural("schema.exclusive_minimum", path, fmt.Sprintf("> %s", formatValue(*schema.ExclusiveMinimum)), num,
			"value must be greater than the bound"))
	}
}

func (v *SchemaValidator) pattern(expr string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, ok := v.patterns[expr]
	v.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.patterns[expr] = re
	v.mu.Unlock()
	return re, nil
}
