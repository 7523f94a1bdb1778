package kernel

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/dtype"
)

// Groups partitions rows by key. Rows lists the member rows of each group in
// row order; groups are numbered by first appearance of their key. Of maps
// each row to its group.
type Groups struct {
	Rows [][]int
	Of   []int
}

// Len returns the number of groups.
func (g Groups) Len() int { return len(g.Rows) }

// First returns the first row of every group.
func (g Groups) First() []int {
	out := make([]int, len(g.Rows))
	for i, rows := range g.Rows {
		out[i] = rows[0]
	}
	return out
}

// Partition groups n rows by the composite key formed by keys (one slice of
// values per key column). Nulls form their own group. With no key columns
// every row belongs to one group.
func Partition(keys [][]any, n int) Groups {
	g := Groups{Of: make([]int, n)}
	index := make(map[string]int)
	var b strings.Builder
	for row := 0; row < n; row++ {
		b.Reset()
		for _, k := range keys {
			writeKey(&b, k[row])
		}
		id, ok := index[b.String()]
		if !ok {
			id = len(g.Rows)
			index[b.String()] = id
			g.Rows = append(g.Rows, nil)
		}
		g.Rows[id] = append(g.Rows[id], row)
		g.Of[row] = id
	}
	return g
}

// KeyOf encodes the composite key of one row for hashing.
func KeyOf(keys [][]any, row int) (string, bool) {
	var b strings.Builder
	hasNull := false
	for _, k := range keys {
		if k[row] == nil {
			hasNull = true
		}
		writeKey(&b, k[row])
	}
	return b.String(), hasNull
}

// writeKey appends a type-tagged rendering so that values of different
// canonical types never collide.
func writeKey(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteByte('n')
	case int64:
		b.WriteByte('i')
		b.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		b.WriteByte('u')
		b.WriteString(strconv.FormatUint(x, 10))
	case float64:
		b.WriteByte('f')
		if math.IsNaN(x) {
			b.WriteString("NaN")
		} else {
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		}
	case decimal.Decimal:
		b.WriteByte('d')
		b.WriteString(x.String())
	case bool:
		b.WriteByte('b')
		b.WriteString(strconv.FormatBool(x))
	case string:
		b.WriteByte('s')
		b.WriteString(strconv.Quote(x))
	case time.Time:
		b.WriteByte('t')
		b.WriteString(strconv.FormatInt(x.UnixNano(), 10))
	case time.Duration:
		b.WriteByte('D')
		b.WriteString(strconv.FormatInt(int64(x), 10))
	default:
		b.WriteByte('x')
		b.WriteString(strconv.Quote(FormatValue(v, dtype.Unknown)))
	}
	b.WriteByte(0x1f)
}

// Gather selects values by row index; index -1 yields null.
func Gather(v []any, idx []int) []any {
	out := make([]any, len(idx))
	for i, j := range idx {
		if j >= 0 {
			out[i] = v[j]
		}
	}
	return out
}

// Scatter writes vals for rows into dst. A single value is broadcast to
// every row.
func Scatter(dst []any, rows []int, vals []any) {
	for i, row := range rows {
		if len(vals) == 1 {
			dst[row] = vals[0]
		} else {
			dst[row] = vals[i]
		}
	}
}
