package program

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

// Expr is an expression written in a program file.
//
// A plain string is a column and any other scalar is a literal. A mapping
// holds exactly one operation key and an optional "as" naming the output:
//
//	{add: [a, b], as: total}
//	{sum: price}
//	{quantile: {of: price, q: 0.9, interpolation: nearest}}
//	{over: {of: {mean: price}, partition_by: [region]}}
//	{lit: {value: "2024-01-31", dtype: date}}
//
// Operations taking parameters accept a mapping with the operand under
// "of"; the same operations written without parameters use the defaults.
type Expr struct {
	expr.Expr
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Expr) UnmarshalYAML(n *yaml.Node) error {
	x, err := decodeExpr(n)
	if err != nil {
		return err
	}
	e.Expr = x
	return nil
}

// ExprList is one expression or a list of expressions.
type ExprList []Expr

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *ExprList) UnmarshalYAML(n *yaml.Node) error {
	n = resolve(n)
	if n.Kind != yaml.SequenceNode {
		x, err := decodeExpr(n)
		if err != nil {
			return err
		}
		*l = ExprList{{x}}
		return nil
	}
	out := make(ExprList, len(n.Content))
	for i, c := range n.Content {
		x, err := decodeExpr(c)
		if err != nil {
			return err
		}
		out[i] = Expr{x}
	}
	*l = out
	return nil
}

func (l ExprList) exprs() []expr.Expr {
	out := make([]expr.Expr, len(l))
	for i, x := range l {
		out[i] = x.Expr
	}
	return out
}

// SortKey is a column name, an expression, or {by, desc, nulls_last}.
type SortKey struct {
	expr.SortExpr
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *SortKey) UnmarshalYAML(n *yaml.Node) error {
	n = resolve(n)
	if n.Kind == yaml.MappingNode && hasKey(n, "by") {
		f, err := newFields("sort", n)
		if err != nil {
			return err
		}
		by, err := f.expr("by")
		if err != nil {
			return err
		}
		var desc, nullsLast bool
		if err := f.optional("desc", &desc); err != nil {
			return lineError(n, "sort: %v", err)
		}
		if err := f.optional("nulls_last", &nullsLast); err != nil {
			return lineError(n, "sort: %v", err)
		}
		if err := f.done(); err != nil {
			return err
		}
		key := by.Asc()
		if desc {
			key = by.Desc()
		}
		if nullsLast {
			key = key.NullsLast()
		}
		k.SortExpr = key
		return nil
	}
	x, err := decodeExpr(n)
	if err != nil {
		return err
	}
	k.SortExpr = x.Asc()
	return nil
}

func sortExprs(keys []SortKey) []expr.SortExpr {
	out := make([]expr.SortExpr, len(keys))
	for i, k := range keys {
		out[i] = k.SortExpr
	}
	return out
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func hasKey(n *yaml.Node, key string) bool {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}

func lineError(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}

func decodeExpr(n *yaml.Node) (expr.Expr, error) {
	n = resolve(n)
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!str" {
			return expr.Col(n.Value), nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return expr.Expr{}, lineError(n, "literal: %v", err)
		}
		return expr.Lit(v), nil
	case yaml.MappingNode:
		return decodeOperation(n)
	}
	return expr.Expr{}, lineError(n, "expression must be a column name, a literal or a mapping")
}

func decodeOperation(n *yaml.Node) (expr.Expr, error) {
	var (
		op    string
		arg   *yaml.Node
		alias string
	)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		if key == "as" {
			if err := val.Decode(&alias); err != nil || alias == "" {
				return expr.Expr{}, lineError(val, "as: expected a column name")
			}
			continue
		}
		if op != "" {
			return expr.Expr{}, lineError(n, "expression has two operations, %q and %q", op, key)
		}
		op, arg = key, val
	}
	if op == "" {
		return expr.Expr{}, lineError(n, "expression has no operation")
	}
	build, ok := operations[op]
	if !ok {
		return expr.Expr{}, lineError(n, "unknown operation %q", op)
	}
	x, err := build(op, resolve(arg))
	if err != nil {
		return expr.Expr{}, err
	}
	if err := x.Err(); err != nil {
		return expr.Expr{}, lineError(n, "%s: %v", op, err)
	}
	if alias != "" {
		x = x.Alias(alias)
	}
	return x, nil
}

type builder func(op string, arg *yaml.Node) (expr.Expr, error)

var operations = map[string]builder{}

func init() {
	binary := map[string]func(expr.Expr, expr.Expr) expr.Expr{
		"add":       expr.Expr.Add,
		"sub":       expr.Expr.Sub,
		"mul":       expr.Expr.Mul,
		"truediv":   expr.Expr.TrueDiv,
		"floordiv":  expr.Expr.FloorDiv,
		"mod":       expr.Expr.Mod,
		"pow":       expr.Expr.Pow,
		"eq":        expr.Expr.Eq,
		"ne":        expr.Expr.Ne,
		"lt":        expr.Expr.Lt,
		"le":        expr.Expr.Le,
		"gt":        expr.Expr.Gt,
		"ge":        expr.Expr.Ge,
		"and":       expr.Expr.And,
		"or":        expr.Expr.Or,
		"concat":    expr.Expr.Concat,
		"fill_null": expr.Expr.FillNull,
	}
	for name, fn := range binary {
		operations[name] = binaryOp(fn)
	}

	unary := map[string]func(expr.Expr) expr.Expr{
		"neg":               expr.Expr.Neg,
		"not":               expr.Expr.Not,
		"abs":               expr.Expr.Abs,
		"is_null":           expr.Expr.IsNull,
		"is_not_null":       expr.Expr.IsNotNull,
		"is_nan":            expr.Expr.IsNaN,
		"is_finite":         expr.Expr.IsFinite,
		"is_duplicated":     expr.Expr.IsDuplicated,
		"is_unique":         expr.Expr.IsUnique,
		"is_first_distinct": expr.Expr.IsFirstDistinct,
		"is_last_distinct":  expr.Expr.IsLastDistinct,
		"sum":               expr.Expr.Sum,
		"mean":              expr.Expr.Mean,
		"min":               expr.Expr.Min,
		"max":               expr.Expr.Max,
		"count":             expr.Expr.Count,
		"n_unique":          expr.Expr.NUnique,
		"null_count":        expr.Expr.NullCount,
		"median":            expr.Expr.Median,
		"first":             expr.Expr.First,
		"last":              expr.Expr.Last,
		"any":               expr.Expr.Any,
		"all":               expr.Expr.All,
		"cum_sum":           expr.Expr.CumSum,
		"cum_count":         expr.Expr.CumCount,
		"cum_min":           expr.Expr.CumMin,
		"cum_max":           expr.Expr.CumMax,
		"cum_prod":          expr.Expr.CumProd,
		"forward_fill":      expr.Expr.ForwardFill,
		"backward_fill":     expr.Expr.BackwardFill,
		"str.len_chars":     func(e expr.Expr) expr.Expr { return e.Str().LenChars() },
		"str.to_upper":      func(e expr.Expr) expr.Expr { return e.Str().ToUppercase() },
		"str.to_lower":      func(e expr.Expr) expr.Expr { return e.Str().ToLowercase() },
		"dt.year":           func(e expr.Expr) expr.Expr { return e.Dt().Year() },
		"dt.month":          func(e expr.Expr) expr.Expr { return e.Dt().Month() },
		"dt.day":            func(e expr.Expr) expr.Expr { return e.Dt().Day() },
		"dt.hour":           func(e expr.Expr) expr.Expr { return e.Dt().Hour() },
		"dt.minute":         func(e expr.Expr) expr.Expr { return e.Dt().Minute() },
		"dt.second":         func(e expr.Expr) expr.Expr { return e.Dt().Second() },
		"dt.ordinal_day":    func(e expr.Expr) expr.Expr { return e.Dt().OrdinalDay() },
		"name.keep":         func(e expr.Expr) expr.Expr { return e.Name().Keep() },

		"dt.total_days":         func(e expr.Expr) expr.Expr { return e.Dt().TotalDays() },
		"dt.total_hours":        func(e expr.Expr) expr.Expr { return e.Dt().TotalHours() },
		"dt.total_minutes":      func(e expr.Expr) expr.Expr { return e.Dt().TotalMinutes() },
		"dt.total_seconds":      func(e expr.Expr) expr.Expr { return e.Dt().TotalSeconds() },
		"dt.total_milliseconds": func(e expr.Expr) expr.Expr { return e.Dt().TotalMilliseconds() },
	}
	for name, fn := range unary {
		operations[name] = unaryOp(fn)
	}

	operations["col"] = decodeCol
	operations["lit"] = decodeLit
	operations["len"] = nullary(expr.Len)
	operations["row_number"] = nullary(expr.RowNumber)
	operations["coalesce"] = decodeCoalesce

	operations["cast"] = withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		var name string
		if err := f.required("dtype", &name); err != nil {
			return of, err
		}
		d, err := dtype.Parse(name)
		if err != nil {
			return of, err
		}
		return of.Cast(d), nil
	})
	operations["std"] = ddof(expr.Expr.Std)
	operations["var"] = ddof(expr.Expr.Var)
	operations["quantile"] = withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		var q float64
		interp := string(expr.InterpLinear)
		if err := f.required("q", &q); err != nil {
			return of, err
		}
		if err := f.optional("interpolation", &interp); err != nil {
			return of, err
		}
		return of.Quantile(q, expr.Interpolation(interp)), nil
	})
	operations["shift"] = offset(expr.Expr.Shift)
	operations["diff"] = offset(expr.Expr.Diff)
	operations["rolling_sum"] = rolling(expr.Expr.RollingSum)
	operations["rolling_mean"] = rolling(expr.Expr.RollingMean)
	operations["rolling_min"] = rolling(expr.Expr.RollingMin)
	operations["rolling_max"] = rolling(expr.Expr.RollingMax)
	operations["rank"] = optionalParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		method := string(expr.RankAverage)
		var desc bool
		if err := f.optional("method", &method); err != nil {
			return of, err
		}
		if err := f.optional("descending", &desc); err != nil {
			return of, err
		}
		return of.Rank(expr.RankMethod(method), desc), nil
	})
	operations["over"] = withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		var partition ExprList
		var order []SortKey
		if err := f.optional("partition_by", &partition); err != nil {
			return of, err
		}
		if err := f.optional("order_by", &order); err != nil {
			return of, err
		}
		return of.OverOrdered(sortExprs(order), partition.exprs()...), nil
	})
	operations["is_in"] = withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		var values []any
		if err := f.required("values", &values); err != nil {
			return of, err
		}
		return of.IsIn(values...), nil
	})
	operations["is_between"] = withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		lower, err := f.expr("lower")
		if err != nil {
			return of, err
		}
		upper, err := f.expr("upper")
		if err != nil {
			return of, err
		}
		return of.IsBetween(lower, upper), nil
	})
	operations["clip"] = withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		var lower, upper any
		if err := f.optional("lower", &lower); err != nil {
			return of, err
		}
		if err := f.optional("upper", &upper); err != nil {
			return of, err
		}
		return of.Clip(lower, upper), nil
	})
	operations["round"] = optionalParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		var decimals int
		if err := f.optional("decimals", &decimals); err != nil {
			return of, err
		}
		return of.Round(decimals), nil
	})

	replace := map[string]func(expr.StrNamespace, string, string) expr.Expr{
		"str.replace":     expr.StrNamespace.Replace,
		"str.replace_all": expr.StrNamespace.ReplaceAll,
	}
	for name, fn := range replace {
		operations[name] = withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
			var pattern, value string
			if err := f.required("pattern", &pattern); err != nil {
				return of, err
			}
			if err := f.required("value", &value); err != nil {
				return of, err
			}
			return fn(of.Str(), pattern, value), nil
		})
	}

	pattern := map[string]func(expr.Expr, string) expr.Expr{
		"str.starts_with": func(e expr.Expr, s string) expr.Expr { return e.Str().StartsWith(s) },
		"str.ends_with":   func(e expr.Expr, s string) expr.Expr { return e.Str().EndsWith(s) },
		"str.contains":    func(e expr.Expr, s string) expr.Expr { return e.Str().Contains(s) },
		"str.strip_chars": func(e expr.Expr, s string) expr.Expr { return e.Str().StripChars(s) },
		"name.prefix":     func(e expr.Expr, s string) expr.Expr { return e.Name().Prefix(s) },
		"name.suffix":     func(e expr.Expr, s string) expr.Expr { return e.Name().Suffix(s) },
	}
	for name, fn := range pattern {
		optionalValue := name == "str.strip_chars"
		operations[name] = withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
			var s string
			get := f.required
			if optionalValue {
				get = f.optional
			}
			if err := get("value", &s); err != nil {
				return of, err
			}
			return fn(of, s), nil
		})
	}
}

// Operations returns the operation keys a program expression may use.
func Operations() []string {
	out := make([]string, 0, len(operations))
	for op := range operations {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

func binaryOp(fn func(expr.Expr, expr.Expr) expr.Expr) builder {
	return func(op string, arg *yaml.Node) (expr.Expr, error) {
		if arg.Kind != yaml.SequenceNode || len(arg.Content) != 2 {
			return expr.Expr{}, lineError(arg, "%s takes a list of two operands", op)
		}
		l, err := decodeExpr(arg.Content[0])
		if err != nil {
			return expr.Expr{}, err
		}
		r, err := decodeExpr(arg.Content[1])
		if err != nil {
			return expr.Expr{}, err
		}
		return fn(l, r), nil
	}
}

func unaryOp(fn func(expr.Expr) expr.Expr) builder {
	return func(op string, arg *yaml.Node) (expr.Expr, error) {
		x, err := decodeExpr(arg)
		if err != nil {
			return expr.Expr{}, err
		}
		return fn(x), nil
	}
}

func nullary(fn func() expr.Expr) builder {
	return func(op string, arg *yaml.Node) (expr.Expr, error) {
		empty := arg.Tag == "!!null" || (arg.Kind == yaml.MappingNode && len(arg.Content) == 0)
		if !empty {
			return expr.Expr{}, lineError(arg, "%s takes no operand", op)
		}
		return fn(), nil
	}
}

func decodeCol(op string, arg *yaml.Node) (expr.Expr, error) {
	if arg.Kind != yaml.ScalarNode || arg.Value == "" {
		return expr.Expr{}, lineError(arg, "col takes a column name")
	}
	return expr.Col(arg.Value), nil
}

func decodeLit(op string, arg *yaml.Node) (expr.Expr, error) {
	if arg.Kind != yaml.MappingNode {
		var v any
		if err := arg.Decode(&v); err != nil {
			return expr.Expr{}, lineError(arg, "lit: %v", err)
		}
		return expr.Lit(v), nil
	}
	f, err := newFields(op, arg)
	if err != nil {
		return expr.Expr{}, err
	}
	var (
		v    any
		name string
	)
	if err := f.optional("value", &v); err != nil {
		return expr.Expr{}, lineError(arg, "lit: %v", err)
	}
	if err := f.required("dtype", &name); err != nil {
		return expr.Expr{}, lineError(arg, "lit: %v", err)
	}
	if err := f.done(); err != nil {
		return expr.Expr{}, err
	}
	d, err := dtype.Parse(name)
	if err != nil {
		return expr.Expr{}, lineError(arg, "lit: %v", err)
	}
	cv, err := coerce(d, v)
	if err == nil {
		cv, err = column.Normalize(d, cv)
	}
	if err != nil {
		return expr.Expr{}, lineError(arg, "lit: %v", err)
	}
	return expr.LitOf(cv, d), nil
}

func decodeCoalesce(op string, arg *yaml.Node) (expr.Expr, error) {
	var list ExprList
	if err := list.UnmarshalYAML(arg); err != nil {
		return expr.Expr{}, err
	}
	if len(list) == 0 {
		return expr.Expr{}, lineError(arg, "coalesce needs at least one operand")
	}
	xs := list.exprs()
	return expr.Coalesce(xs[0], xs[1:]...), nil
}

// withParams decodes {of: operand, ...params}.
func withParams(fn func(f *fields, of expr.Expr) (expr.Expr, error)) builder {
	return func(op string, arg *yaml.Node) (expr.Expr, error) {
		if arg.Kind != yaml.MappingNode || !hasKey(arg, "of") {
			return expr.Expr{}, lineError(arg, "%s takes a mapping with an \"of\" operand", op)
		}
		return applyParams(op, arg, fn)
	}
}

// optionalParams accepts a bare operand for the default parameters.
func optionalParams(fn func(f *fields, of expr.Expr) (expr.Expr, error)) builder {
	return func(op string, arg *yaml.Node) (expr.Expr, error) {
		if arg.Kind == yaml.MappingNode && hasKey(arg, "of") {
			return applyParams(op, arg, fn)
		}
		x, err := decodeExpr(arg)
		if err != nil {
			return expr.Expr{}, err
		}
		return fn(&fields{op: op, line: arg.Line}, x)
	}
}

func applyParams(op string, arg *yaml.Node, fn func(f *fields, of expr.Expr) (expr.Expr, error)) (expr.Expr, error) {
	f, err := newFields(op, arg)
	if err != nil {
		return expr.Expr{}, err
	}
	of, err := f.expr("of")
	if err != nil {
		return expr.Expr{}, err
	}
	x, err := fn(f, of)
	if err != nil {
		return expr.Expr{}, lineError(arg, "%s: %v", op, err)
	}
	if err := f.done(); err != nil {
		return expr.Expr{}, err
	}
	return x, nil
}

func ddof(fn func(expr.Expr, int) expr.Expr) builder {
	return optionalParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		n := 1
		if err := f.optional("ddof", &n); err != nil {
			return of, err
		}
		return fn(of, n), nil
	})
}

func offset(fn func(expr.Expr, int) expr.Expr) builder {
	return optionalParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		n := 1
		if err := f.optional("n", &n); err != nil {
			return of, err
		}
		return fn(of, n), nil
	})
}

func rolling(fn func(expr.Expr, int, int) expr.Expr) builder {
	return withParams(func(f *fields, of expr.Expr) (expr.Expr, error) {
		var size int
		if err := f.required("size", &size); err != nil {
			return of, err
		}
		minPeriods := size
		if err := f.optional("min_periods", &minPeriods); err != nil {
			return of, err
		}
		return fn(of, size, minPeriods), nil
	})
}

// fields consumes the keys of a parameter mapping.
type fields struct {
	op    string
	line  int
	nodes map[string]*yaml.Node
}

func newFields(op string, n *yaml.Node) (*fields, error) {
	if n.Kind != yaml.MappingNode {
		return nil, lineError(n, "%s takes a mapping", op)
	}
	f := &fields{op: op, line: n.Line, nodes: make(map[string]*yaml.Node)}
	for i := 0; i+1 < len(n.Content); i += 2 {
		f.nodes[n.Content[i].Value] = n.Content[i+1]
	}
	return f, nil
}

func (f *fields) take(key string) (*yaml.Node, bool) {
	n, ok := f.nodes[key]
	delete(f.nodes, key)
	return n, ok
}

func (f *fields) optional(key string, out any) error {
	n, ok := f.take(key)
	if !ok {
		return nil
	}
	if err := n.Decode(out); err != nil {
		return fmt.Errorf("%s: %v", key, err)
	}
	return nil
}

func (f *fields) required(key string, out any) error {
	if _, ok := f.nodes[key]; !ok {
		return fmt.Errorf("needs %q", key)
	}
	return f.optional(key, out)
}

func (f *fields) expr(key string) (expr.Expr, error) {
	n, ok := f.take(key)
	if !ok {
		return expr.Expr{}, fmt.Errorf("needs %q", key)
	}
	return decodeExpr(n)
}

func (f *fields) done() error {
	if len(f.nodes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f.nodes))
	for k := range f.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Errorf("line %d: %s: unknown field(s) %s", f.line, f.op, strings.Join(keys, ", "))
}
