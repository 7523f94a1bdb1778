package cli

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dtype"
)

// result is an exported frame ready for output.
type result struct {
	cols []column.Column
}

func newResult(cols []column.Column) *result { return &result{cols: cols} }

func (r *result) height() int {
	n, _ := column.Height(r.cols)
	return n
}

// fieldJSON is one schema entry of a JSON result.
type fieldJSON struct {
	Name  string `json:"name"`
	Dtype string `json:"dtype"`
}

func (r *result) fields() []fieldJSON {
	out := make([]fieldJSON, len(r.cols))
	for i, c := range r.cols {
		out[i] = fieldJSON{Name: c.Name, Dtype: c.Dtype.String()}
	}
	return out
}

// rows returns row-major values that encode as JSON.
func (r *result) rows() [][]any {
	n := r.height()
	out := make([][]any, n)
	for i := range n {
		row := make([]any, len(r.cols))
		for j, c := range r.cols {
			if v := c.Values[i]; v != nil && c.Dtype.Kind() == dtype.KindDatetime {
				row[j] = formatValue(c.Dtype, v)
			} else {
				row[j] = jsonValue(v)
			}
		}
		out[i] = row
	}
	return out
}

// table renders the frame as a header row, a dtype row and the cells.
func (r *result) table() *textTable {
	t := &textTable{}
	header := make([]string, len(r.cols))
	dtypes := make([]string, len(r.cols))
	for j, c := range r.cols {
		header[j] = c.Name
		dtypes[j] = c.Dtype.String()
	}
	t.add(header...)
	t.add(dtypes...)
	for i := range r.height() {
		row := make([]string, len(r.cols))
		for j, c := range r.cols {
			row[j] = formatValue(c.Dtype, c.Values[i])
		}
		t.add(row...)
	}
	return t
}

// formatValue renders a cell of a column of dtype d.
func formatValue(d dtype.Dtype, v any) string {
	if ts, ok := v.(time.Time); ok && d.Kind() == dtype.KindDatetime {
		return ts.Format(time.RFC3339Nano)
	}
	return formatCell(v)
}

// formatCell renders one canonical value for text output.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return formatFloat(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case decimal.Decimal:
		return x.String()
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatCell(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + formatCell(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !math.IsInf(f, 0) && !math.IsNaN(f) && !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// jsonValue replaces values JSON cannot carry with their text form.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return formatFloat(x)
		}
		return x
	case time.Time, time.Duration, decimal.Decimal:
		return formatCell(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonValue(e)
		}
		return out
	}
	return v
}

// textTable aligns rows of cells in columns separated by two spaces.
type textTable struct {
	rows [][]string
}

func (t *textTable) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *textTable) write(w io.Writer) error {
	var widths []int
	for _, row := range t.rows {
		for j, cell := range row {
			if j >= len(widths) {
				widths = append(widths, 0)
			}
			widths[j] = max(widths[j], displayWidth(cell))
		}
	}
	var b strings.Builder
	for _, row := range t.rows {
		for j, cell := range row {
			b.WriteString(cell)
			if j == len(row)-1 {
				break
			}
			b.WriteString(strings.Repeat(" ", widths[j]-displayWidth(cell)+2))
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// displayWidth counts terminal cells; wide and fullwidth runes take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
