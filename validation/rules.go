package validation

import (
	"fmt"
	"math"
	"strings"
)

// Rule is a semantic predicate over a structurally valid output.
// Check returns nil when the rule holds or does not apply.
type Rule interface {
	Name() string
	Check(env Env) []Violation
}

// PathReporter is implemented by rules that can list the paths they read.
// Every built-in rule implements it.
type PathReporter interface {
	Paths() []string
}

// ReferencedStages returns the upstream stages the rules read through
// "@stage.path" references, in first-seen order. Rules that do not implement
// PathReporter contribute nothing.
func ReferencedStages(rules ...Rule) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	for _, r := range rules {
		pr, ok := r.(PathReporter)
		if !ok {
			continue
		}
		for _, p := range pr.Paths() {
			stage, ok := upstreamStage(p)
			if ok && !seen[stage] {
				seen[stage] = true
				out = append(out, stage)
			}
		}
	}
	return out
}

// upstreamStage extracts "stage" from "@stage.path" or "@stage[0]".
func upstreamStage(path string) (string, bool) {
	if !strings.HasPrefix(path, "@") {
		return "", false
	}
	name := path[1:]
	if i := strings.IndexAny(name, ".["); i >= 0 {
		name = name[:i]
	}
	return name, name != ""
}

// Tolerance bounds the difference accepted by Approx. The allowed
// difference is the larger of Abs and Rel times the magnitude of the
// expected side.
type Tolerance struct {
	Abs float64
	Rel float64
}

// Within is an absolute tolerance.
func Within(abs float64) Tolerance { return Tolerance{Abs: abs} }

// Relative is a relative tolerance, e.g. 0.1 for ±10%.
func Relative(rel float64) Tolerance { return Tolerance{Rel: rel} }

func (t Tolerance) allowed(expected float64) float64 {
	return math.Max(t.Abs, t.Rel*math.Abs(expected))
}

func (t Tolerance) String() string {
	switch {
	case t.Rel > 0 && t.Abs > 0:
		return fmt.Sprintf("±max(%s, %s%%)", formatValue(t.Abs), formatValue(t.Rel*100))
	case t.Rel > 0:
		return fmt.Sprintf("±%s%%", formatValue(t.Rel*100))
	default:
		return "±" + formatValue(t.Abs)
	}
}

func qualifyAll(env Env, fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, env.qualify(f))
	}
	return out
}

func semantic(env Env, rule string, fields []string, expected string, observed any, msg string) Violation {
	return Violation{
		Rule:     rule,
		Phase:    PhaseSemantic,
		Fields:   qualifyAll(env, fields),
		Expected: expected,
		Observed: observed,
		Message:  msg,
	}
}

// ====== Approx ======

type approxRule struct {
	name        string
	left, right Expr
	tol         Tolerance
}

// Approx requires left ≈ right within tol.
func Approx(name string, left, right Expr, tol Tolerance) Rule {
	return approxRule{name: name, left: left, right: right, tol: tol}
}

func (r approxRule) Name() string { return r.name }

func (r approxRule) Paths() []string { return append(r.left.Fields(), r.right.Fields()...) }

func (r approxRule) Check(env Env) []Violation {
	l, ok := r.left.Eval(env)
	if !ok {
		return nil
	}
	want, ok := r.right.Eval(env)
	if !ok {
		return nil
	}
	if math.Abs(l-want) <= r.tol.allowed(want)+1e-12 {
		return nil
	}
	fields := append(r.left.Fields(), r.right.Fields()...)
	return []Violation{semantic(env, r.name, fields,
		fmt.Sprintf("%s (%s) %s", formatValue(want), r.right.String(), r.tol.String()), l,
		fmt.Sprintf("%s is inconsistent with %s", r.left.String(), r.right.String()))}
}

// ====== GreaterThan / AtLeast ======

type compareRule struct {
	name        string
	left, right Expr
	margin      float64
	strict      bool
}

// GreaterThan requires left > right + margin.
func GreaterThan(name string, left, right Expr, margin float64) Rule {
	return compareRule{name: name, left: left, right: right, margin: margin, strict: true}
}

// AtLeast requires left >= right.
func AtLeast(name string, left, right Expr) Rule {
	return compareRule{name: name, left: left, right: right}
}

func (r compareRule) Name() string { return r.name }

func (r compareRule) Paths() []string { return append(r.left.Fields(), r.right.Fields()...) }

func (r compareRule) Check(env Env) []Violation {
	l, ok := r.left.Eval(env)
	if !ok {
		return nil
	}
	rv, ok := r.right.Eval(env)
	if !ok {
		return nil
	}
	bound := rv + r.margin
	if r.strict && l > bound || !r.strict && l >= bound {
		return nil
	}

	op := ">="
	if r.strict {
		op = ">"
	}
	expected := fmt.Sprintf("%s %s = %s", op, r.right.String(), formatValue(bound))
	if r.margin != 0 {
		expected = fmt.Sprintf("%s %s + %s = %s", op, r.right.String(), formatValue(r.margin), formatValue(bound))
	}
	fields := append(r.left.Fields(), r.right.Fields()...)
	return []Violation{semantic(env, r.name, fields, expected, l,
		fmt.Sprintf("%s must be %s %s", r.left.String(), op, r.right.String()))}
}

// ====== Between ======

type betweenRule struct {
	name   string
	expr   Expr
	lo, hi float64
}

// Between requires lo <= expr <= hi.
func Between(name string, expr Expr, lo, hi float64) Rule {
	return betweenRule{name: name, expr: expr, lo: lo, hi: hi}
}

func (r betweenRule) Name() string { return r.name }

func (r betweenRule) Paths() []string { return r.expr.Fields() }

func (r betweenRule) Check(env Env) []Violation {
	v, ok := r.expr.Eval(env)
	if !ok {
		return nil
	}
	if v >= r.lo && v <= r.hi {
		return nil
	}
	return []Violation{semantic(env, r.name, r.expr.Fields(),
		fmt.Sprintf("in [%s, %s]", formatValue(r.lo), formatValue(r.hi)), v,
		fmt.Sprintf("%s is out of range", r.expr.String()))}
}

// ====== SameValue ======

type sameValueRule struct {
	name        string
	left, right string
}

// SameValue requires two categorical fields to match, typically a field of
// this output and one of an upstream stage ("@stage.field"). Strings are
// compared case-insensitively.
func SameValue(name, left, right string) Rule {
	return sameValueRule{name: name, left: left, right: right}
}

func (r sameValueRule) Name() string { return r.name }

func (r sameValueRule) Paths() []string { return []string{r.left, r.right} }

func (r sameValueRule) Check(env Env) []Violation {
	l, ok := env.Lookup(r.left)
	if !ok {
		return nil
	}
	rv, ok := env.Lookup(r.right)
	if !ok {
		return nil
	}
	if valuesEqual(l, rv) {
		return nil
	}
	return []Violation{semantic(env, r.name, []string{r.left, r.right}, formatValue(rv), l,
		fmt.Sprintf("%s must match %s", r.left, r.right))}
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat64(a); ok {
		fb, ok := toFloat64(b)
		return ok && fa == fb
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.EqualFold(strings.TrimSpace(sa), strings.TrimSpace(sb))
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// ====== OneOf ======

type oneOfRule struct {
	name    string
	path    string
	allowed []string
}

// OneOf requires a string field to take one of the allowed values.
func OneOf(name, path string, allowed ...string) Rule {
	return oneOfRule{name: name, path: path, allowed: allowed}
}

func (r oneOfRule) Name() string { return r.name }

func (r oneOfRule) Paths() []string { return []string{r.path} }

func (r oneOfRule) Check(env Env) []Violation {
	v, ok := env.Lookup(r.path)
	if !ok {
		return nil
	}
	for _, a := range r.allowed {
		if valuesEqual(v, a) {
			return nil
		}
	}
	return []Violation{semantic(env, r.name, []string{r.path},
		"one of "+strings.Join(r.allowed, ", "), v,
		fmt.Sprintf("%s is not an accepted value", r.path))}
}

// ====== Increasing ======

type increasingRule struct {
	name  string
	array string
	field string
}

// Increasing requires field to strictly increase across the array elements.
func Increasing(name, arrayPath, field string) Rule {
	return increasingRule{name: name, array: arrayPath, field: field}
}

func (r increasingRule) Name() string { return r.name }

func (r increasingRule) Paths() []string { return []string{r.array} }

func (r increasingRule) Check(env Env) []Violation {
	v, ok := env.Lookup(r.array)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var (
		prev    float64
		hasPrev bool
		out     []Violation
	)
	for i, item := range arr {
		x, ok := lookupPath(item, r.field)
		if !ok {
			continue
		}
		f, ok := toFloat64(x)
		if !ok {
			continue
		}
		if hasPrev && f <= prev {
			path := joinPath(indexPath(r.array, i), r.field)
			out = append(out, semantic(env, r.name, []string{path},
				"> "+formatValue(prev), f,
				fmt.Sprintf("%s must be strictly increasing", r.field)))
		}
		prev, hasPrev = f, true
	}
	return out
}

// ====== Each ======

type eachRule struct {
	name  string
	array string
	rules []Rule
}

// Each evaluates rules against every element of the array at arrayPath.
// Inside the nested rules unprefixed paths address the element and "$."
// paths address the root output.
func Each(name, arrayPath string, rules ...Rule) Rule {
	return eachRule{name: name, array: arrayPath, rules: rules}
}

func (r eachRule) Name() string { return r.name }

// Paths 包含数组路径和嵌套规则读取的路径
func (r eachRule) Paths() []string {
	out := []string{r.array}
	for _, rule := range r.rules {
		if pr, ok := rule.(PathReporter); ok {
			out = append(out, pr.Paths()...)
		}
	}
	return out
}

func (r eachRule) Check(env Env) []Violation {
	v, ok := env.Lookup(r.array)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Violation
	for i, item := range arr {
		elemEnv := env.withElement(r.array, i, item)
		for _, rule := range r.rules {
			for _, viol := range rule.Check(elemEnv) {
				viol.Rule = r.name + "/" + viol.Rule
				out = append(out, viol)
			}
		}
	}
	return out
}

// ====== Predicate ======

// PredicateFunc evaluates a custom check. applicable=false skips the rule.
type PredicateFunc func(env Env) (pass bool, observed any, applicable bool)

type predicateRule struct {
	name     string
	expected string
	fields   []string
	fn       PredicateFunc
}

// Predicate wraps a custom check. expected describes the passing condition.
func Predicate(name, expected string, fn PredicateFunc, fields ...string) Rule {
	return predicateRule{name: name, expected: expected, fields: fields, fn: fn}
}

func (r predicateRule) Name() string { return r.name }

// Paths 即构造时声明的 fields；未声明的读取无法被发现
func (r predicateRule) Paths() []string { return r.fields }

func (r predicateRule) Check(env Env) []Violation {
	pass, observed, applicable := r.fn(env)
	if !applicable || pass {
		return nil
	}
	return []Violation{semantic(env, r.name, r.fields, r.expected, observed,
		"condition not satisfied")}
}
