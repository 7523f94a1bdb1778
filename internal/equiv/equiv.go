// Package equiv decides whether two materialized results are equivalent.
//
// Results are compared column by column after their schemas agree. Float
// and decimal cells pass when they are within the tolerance of the column;
// every other cell must be equal. NaN equals NaN and null equals only null.
// Columns produced by an aggregation use the tolerance of that aggregation
// kind.
package equiv

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/column"
)

// Tolerance bounds the difference of two numbers: |a-b| <= Abs + Rel*max(|a|,|b|).
type Tolerance struct {
	Abs float64 `yaml:"abs" json:"abs"`
	Rel float64 `yaml:"rel" json:"rel"`
}

// Within reports whether a and b are equal under t.
func (t Tolerance) Within(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= t.Abs+t.Rel*math.Max(math.Abs(a), math.Abs(b))
}

// DefaultKind is the tolerance key for float columns not produced by an
// aggregation.
const DefaultKind = "default"

// DefaultTolerances are keyed by aggregation kind. Variance and standard
// deviation get the loosest bound: SQLite computes them by moment
// expansion.
func DefaultTolerances() map[string]Tolerance {
	return map[string]Tolerance{
		DefaultKind: {Abs: 1e-12, Rel: 1e-9},
		"sum":       {Abs: 1e-9, Rel: 1e-9},
		"mean":      {Abs: 1e-9, Rel: 1e-9},
		"median":    {Abs: 1e-9, Rel: 1e-9},
		"quantile":  {Abs: 1e-9, Rel: 1e-9},
		"std":       {Abs: 1e-9, Rel: 1e-6},
		"var":       {Abs: 1e-9, Rel: 1e-6},
	}
}

// Options configure a comparison.
type Options struct {
	// Tolerances by kind; missing kinds fall back to DefaultKind.
	Tolerances map[string]Tolerance
	// Kinds maps an output column to the aggregation kind producing it.
	Kinds map[string]string
	// Unordered compares rows as multisets.
	Unordered bool
	// MaxMismatches caps the reported mismatches; zero means 20.
	MaxMismatches int
}

func (o Options) tolerance(col string) Tolerance {
	tols := o.Tolerances
	if tols == nil {
		tols = DefaultTolerances()
	}
	if kind, ok := o.Kinds[col]; ok {
		if t, ok := tols[kind]; ok {
			return t
		}
	}
	if t, ok := tols[DefaultKind]; ok {
		return t
	}
	return DefaultTolerances()[DefaultKind]
}

// Mismatch is one difference between two results. Row is -1 for schema
// differences.
type Mismatch struct {
	Column string `json:"column,omitempty"`
	Row    int    `json:"row"`
	Want   any    `json:"want,omitempty"`
	Got    any    `json:"got,omitempty"`
	Reason string `json:"reason"`
}

func (m Mismatch) String() string {
	switch {
	case m.Row < 0 && m.Column == "":
		return m.Reason
	case m.Row < 0:
		return fmt.Sprintf("column %q: %s", m.Column, m.Reason)
	}
	return fmt.Sprintf("column %q row %d: %s (want %v, got %v)", m.Column, m.Row, m.Reason, m.Want, m.Got)
}

// Report is the outcome of Compare.
type Report struct {
	Equal      bool       `json:"equal"`
	Rows       int        `json:"rows"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Truncated  bool       `json:"truncated,omitempty"`
}

func (r *Report) add(m Mismatch, limit int) bool {
	r.Equal = false
	if len(r.Mismatches) >= limit {
		r.Truncated = true
		return false
	}
	r.Mismatches = append(r.Mismatches, m)
	return true
}

// Compare checks got against want.
func Compare(want, got []column.Column, opts Options) Report {
	limit := opts.MaxMismatches
	if limit <= 0 {
		limit = 20
	}
	report := Report{Equal: true}

	if !schemasMatch(want, got, &report, limit) {
		return report
	}
	wantRows, werr := column.Height(want)
	gotRows, gerr := column.Height(got)
	if werr != nil || gerr != nil {
		report.add(Mismatch{Row: -1, Reason: fmt.Sprintf("ragged result: %v", firstErr(werr, gerr))}, limit)
		return report
	}
	report.Rows = wantRows
	if wantRows != gotRows {
		report.add(Mismatch{Row: -1, Reason: fmt.Sprintf("height %d, want %d", gotRows, wantRows)}, limit)
		return report
	}

	wantOrder, gotOrder := identity(wantRows), identity(gotRows)
	if opts.Unordered {
		wantOrder = canonicalOrder(want)
		gotOrder = canonicalOrder(got)
	}
	for ci, wc := range want {
		tol := opts.tolerance(wc.Name)
		gc := got[ci]
		for r := range wantOrder {
			wv, gv := wc.Values[wantOrder[r]], gc.Values[gotOrder[r]]
			if ok, reason := cellsEqual(wv, gv, tol); !ok {
				if !report.add(Mismatch{Column: wc.Name, Row: r, Want: wv, Got: gv, Reason: reason}, limit) {
					return report
				}
			}
		}
	}
	return report
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func schemasMatch(want, got []column.Column, report *Report, limit int) bool {
	if len(want) != len(got) {
		report.add(Mismatch{Row: -1, Reason: fmt.Sprintf("columns %v, want %v", names(got), names(want))}, limit)
		return false
	}
	ok := true
	for i := range want {
		w, g := want[i], got[i]
		switch {
		case w.Name != g.Name:
			report.add(Mismatch{Column: w.Name, Row: -1, Reason: fmt.Sprintf("column %d is named %q", i, g.Name)}, limit)
			ok = false
		case !w.Dtype.Equal(g.Dtype):
			report.add(Mismatch{Column: w.Name, Row: -1, Reason: fmt.Sprintf("dtype %s, want %s", g.Dtype, w.Dtype)}, limit)
			ok = false
		}
	}
	return ok
}

func names(cols []column.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// canonicalOrder sorts row indexes by the rendered row. Floats render at
// reduced precision so rows equal within tolerance usually land together.
func canonicalOrder(cols []column.Column) []int {
	n, _ := column.Height(cols)
	keys := make([]string, n)
	for r := 0; r < n; r++ {
		var b strings.Builder
		for _, c := range cols {
			b.WriteString(sortKey(c.Values[r]))
			b.WriteByte(0)
		}
		keys[r] = b.String()
	}
	order := identity(n)
	slices.SortStableFunc(order, func(a, b int) int { return strings.Compare(keys[a], keys[b]) })
	return order
}

func sortKey(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00null"
	case float64:
		if math.IsNaN(x) {
			return "NaN"
		}
		return fmt.Sprintf("%.9e", x)
	case decimal.Decimal:
		return x.StringFixed(9)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func cellsEqual(want, got any, tol Tolerance) (bool, string) {
	if want == nil || got == nil {
		if want == nil && got == nil {
			return true, ""
		}
		return false, "null mismatch"
	}
	switch w := want.(type) {
	case float64:
		g, ok := got.(float64)
		if !ok {
			return false, fmt.Sprintf("type %T, want float64", got)
		}
		if !tol.Within(w, g) {
			return false, "outside tolerance"
		}
		return true, ""
	case decimal.Decimal:
		g, ok := got.(decimal.Decimal)
		if !ok {
			return false, fmt.Sprintf("type %T, want decimal", got)
		}
		if w.Equal(g) {
			return true, ""
		}
		wf, _ := w.Float64()
		gf, _ := g.Float64()
		if !tol.Within(wf, gf) {
			return false, "outside tolerance"
		}
		return true, ""
	case time.Time:
		g, ok := got.(time.Time)
		if !ok || !w.Equal(g) {
			return false, "not equal"
		}
		return true, ""
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false, "not equal"
		}
		for i := range w {
			if ok, reason := cellsEqual(w[i], g[i], tol); !ok {
				return false, fmt.Sprintf("element %d: %s", i, reason)
			}
		}
		return true, ""
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok || len(g) != len(w) {
			return false, "not equal"
		}
		for k, wv := range w {
			if ok, reason := cellsEqual(wv, g[k], tol); !ok {
				return false, fmt.Sprintf("field %q: %s", k, reason)
			}
		}
		return true, ""
	}
	if !reflect.DeepEqual(want, got) {
		return false, "not equal"
	}
	return true, ""
}
