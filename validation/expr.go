package validation

import (
	"fmt"
	"math"
	"strings"
)

// Env is what a semantic rule sees: the output under validation, the
// committed outputs of upstream stages, and inside Each the current element.
//
// Paths are resolved as follows:
//   - "@stage.path" reads from the named upstream stage
//   - "$.path" reads from the root output, also inside Each
//   - any other path reads from the current element inside Each, else the output
type Env struct {
	Output   map[string]any
	Upstream map[string]map[string]any

	elem    any
	inElem  bool
	elemIdx int
	prefix  string
}

// NewEnv builds a rule environment.
func NewEnv(output map[string]any, upstream map[string]map[string]any) Env {
	return Env{Output: output, Upstream: upstream}
}

func (e Env) withElement(arrayPath string, idx int, elem any) Env {
	e.elem = elem
	e.inElem = true
	e.elemIdx = idx
	e.prefix = indexPath(e.qualify(arrayPath), idx)
	return e
}

// Lookup resolves a path. Absent and null values both report false.
func (e Env) Lookup(path string) (any, bool) {
	var (
		v  any
		ok bool
	)
	switch {
	case strings.HasPrefix(path, "@"):
		stage, rest, _ := strings.Cut(path[1:], ".")
		out, exists := e.Upstream[stage]
		if !exists {
			return nil, false
		}
		v, ok = lookupPath(out, rest)
	case strings.HasPrefix(path, "$."):
		v, ok = lookupPath(e.Output, path[2:])
	case e.inElem:
		v, ok = lookupPath(e.elem, path)
	default:
		v, ok = lookupPath(e.Output, path)
	}
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Number resolves a path to a float64.
func (e Env) Number(path string) (float64, bool) {
	v, ok := e.Lookup(path)
	if !ok {
		return 0, false
	}
	return toFloat64(v)
}

// Index is the current element index inside Each, or -1.
func (e Env) Index() int {
	if !e.inElem {
		return -1
	}
	return e.elemIdx
}

// qualify turns a rule-relative path into the path reported in violations.
func (e Env) qualify(path string) string {
	if strings.HasPrefix(path, "@") {
		return path
	}
	if strings.HasPrefix(path, "$.") {
		return path[2:]
	}
	if e.inElem {
		return joinPath(e.prefix, path)
	}
	return path
}

// Expr is a numeric expression over an Env. Eval reports false when any
// operand is absent, null, non-numeric or the result is undefined; rules
// treat that as not applicable.
type Expr interface {
	Eval(env Env) (float64, bool)
	Fields() []string
	String() string
}

type fieldExpr struct{ path string }

// Field reads a numeric field.
func Field(path string) Expr { return fieldExpr{path: path} }

func (f fieldExpr) Eval(env Env) (float64, bool) { return env.Number(f.path) }
func (f fieldExpr) Fields() []string               { return []string{f.path} }
func (f fieldExpr) String() string                 { return f.path }

type constExpr struct{ v float64 }

// Const is a literal.
func Const(v float64) Expr { return constExpr{v: v} }

func (c constExpr) Eval(Env) (float64, bool) { return c.v, true }
func (c constExpr) Fields() []string         { return nil }
func (c constExpr) String() string           { return formatValue(c.v) }

type opExpr struct {
	op    string
	args  []Expr
	apply func(a, b float64) (float64, bool)
}

func (o opExpr) Eval(env Env) (float64, bool) {
	if len(o.args) == 0 {
		return 0, false
	}
	acc, ok := o.args[0].Eval(env)
	if !ok {
		return 0, false
	}
	for _, arg := range o.args[1:] {
		v, ok := arg.Eval(env)
		if !ok {
			return 0, false
		}
		if acc, ok = o.apply(acc, v); !ok {
			return 0, false
		}
	}
	if math.IsNaN(acc) || math.IsInf(acc, 0) {
		return 0, false
	}
	return acc, true
}

func (o opExpr) Fields() []string {
	var out []string
	for _, a := range o.args {
		out = append(out, a.Fields()...)
	}
	return out
}

func (o opExpr) String() string {
	parts := make([]string, len(o.args))
	for i, a := range o.args {
		s := a.String()
		if _, nested := a.(opExpr); nested {
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, " "+o.op+" ")
}

// Sum adds its operands.
func Sum(args ...Expr) Expr {
	return opExpr{op: "+", args: args, apply: func(a, b float64) (float64, bool) { return a + b, true }}
}

// Difference subtracts the remaining operands from the first.
func Difference(args ...Expr) Expr {
	return opExpr{op: "-", args: args, apply: func(a, b float64) (float64, bool) { return a - b, true }}
}

// Product multiplies its operands.
func Product(args ...Expr) Expr {
	return opExpr{op: "×", args: args, apply: func(a, b float64) (float64, bool) { return a * b, true }}
}

// Quotient divides a by b. A zero divisor makes the expression undefined.
func Quotient(a, b Expr) Expr {
	return opExpr{op: "/", args: []Expr{a, b}, apply: func(x, y float64) (float64, bool) {
		if y == 0 {
			return 0, false
		}
		return x / y, true
	}}
}

// Power raises base to exp.
func Power(base, exp Expr) Expr {
	return opExpr{op: "^", args: []Expr{base, exp}, apply: func(x, y float64) (float64, bool) {
		return math.Pow(x, y), true
	}}
}

type sumEachExpr struct {
	array string
	field string
}

// SumEach adds field across every element of the array at arrayPath.
func SumEach(arrayPath, field string) Expr { return sumEachExpr{array: arrayPath, field: field} }

func (s sumEachExpr) Eval(env Env) (float64, bool) {
	v, ok := env.Lookup(s.array)
	if !ok {
		return 0, false
	}
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return 0, false
	}
	total := 0.0
	for _, item := range arr {
		x, ok := lookupPath(item, s.field)
		if !ok {
			return 0, false
		}
		f, ok := toFloat64(x)
		if !ok {
			return 0, false
		}
		total += f
	}
	return total, true
}

func (s sumEachExpr) Fields() []string { return []string{s.array + "[*]." + s.field} }
func (s sumEachExpr) String() string   { return fmt.Sprintf("Σ %s[*].%s", s.array, s.field) }

type countExpr struct{ array string }

// Count is the number of elements of the array at arrayPath. An absent or
// empty array makes the expression undefined, so Quotient(SumEach, Count)
// is a mean.
func Count(arrayPath string) Expr { return countExpr{array: arrayPath} }

func (c countExpr) Eval(env Env) (float64, bool) {
	v, ok := env.Lookup(c.array)
	if !ok {
		return 0, false
	}
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return 0, false
	}
	return float64(len(arr)), true
}

func (c countExpr) Fields() []string { return []string{c.array} }
func (c countExpr) String() string   { return fmt.Sprintf("len(%s)", c.array) }

type lastExpr struct {
	array string
	field string
}

// Last reads field from the final element of the array at arrayPath.
func Last(arrayPath, field string) Expr { return lastExpr{array: arrayPath, field: field} }

func (l lastExpr) Eval(env Env) (float64, bool) {
	v, ok := env.Lookup(l.array)
	if !ok {
		return 0, false
	}
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return 0, false
	}
	x, ok := lookupPath(arr[len(arr)-1], l.field)
	if !ok {
		return 0, false
	}
	return toFloat64(x)
}

func (l lastExpr) Fields() []string { return []string{l.array + "[-1]." + l.field} }
func (l lastExpr) String() string   { return fmt.Sprintf("%s[-1].%s", l.array, l.field) }

type indexExpr struct{ offset float64 }

// ElementIndex evaluates to the current element position inside Each plus
// offset. Outside Each it is undefined.
func ElementIndex(offset float64) Expr { return indexExpr{offset: offset} }

func (i indexExpr) Eval(env Env) (float64, bool) {
	if env.Index() < 0 {
		return 0, false
	}
	return float64(env.Index()) + i.offset, true
}

func (i indexExpr) Fields() []string { return nil }
func (i indexExpr) String() string {
	if i.offset == 0 {
		return "index"
	}
	return fmt.Sprintf("index+%s", formatValue(i.offset))
}

type alignedExpr struct {
	array string
	field string
}

// Aligned reads field from the element of another array at the current Each
// position. arrayPath must be an "@stage.path" or "$.path" reference.
func Aligned(arrayPath, field string) Expr { return alignedExpr{array: arrayPath, field: field} }

func (a alignedExpr) Eval(env Env) (float64, bool) {
	idx := env.Index()
	if idx < 0 {
		return 0, false
	}
	return env.Number(a.path(idx))
}

func (a alignedExpr) path(idx int) string {
	return joinPath(indexPath(a.array, idx), a.field)
}

func (a alignedExpr) Fields() []string { return []string{a.array + "[i]." + a.field} }
func (a alignedExpr) String() string   { return fmt.Sprintf("%s[i].%s", a.array, a.field) }
