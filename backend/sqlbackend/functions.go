package sqlbackend

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/internal/kernel"
)

// Functions registered on every SQLite connection opened by OpenSQLite.
// Arguments arrive as int64, float64, string or []byte; SQL NULL arrives as
// a nil []byte and every function maps it to NULL.
var sqliteFunctions = []struct {
	name string
	impl any
}{
	{"dfb_pow", sqlPow},
	{"dfb_sqrt", sqlSqrt},
	{"dfb_floor", sqlFloor},
	{"dfb_fmod", sqlFmod},
	{"dfb_upper", sqlUpper},
	{"dfb_lower", sqlLower},
	{"dfb_cast_int", sqlCastInt},
	{"dfb_cast_real", sqlCastReal},
}

var sqliteAggregators = []struct {
	name string
	impl any
}{
	{"dfb_quantile", newQuantileAggregator},
	{"dfb_median", newMedianAggregator},
	{"dfb_product", newProductAggregator},
}

func registerFunctions(conn *sqlite3.SQLiteConn) error {
	for _, f := range sqliteFunctions {
		if err := conn.RegisterFunc(f.name, f.impl, true); err != nil {
			return fmt.Errorf("failed to register %s: %w", f.name, err)
		}
	}
	for _, a := range sqliteAggregators {
		if err := conn.RegisterAggregator(a.name, a.impl, true); err != nil {
			return fmt.Errorf("failed to register %s: %w", a.name, err)
		}
	}
	return nil
}

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

func sqlFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func sqlText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		if x == nil {
			return "", false
		}
		return string(x), true
	}
	return "", false
}

// finite maps NaN and infinities to NULL; SQLite cannot store NaN.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func sqlPow(a, b any) any {
	x, ok1 := sqlFloat(a)
	y, ok2 := sqlFloat(b)
	if !ok1 || !ok2 {
		return nil
	}
	return finite(math.Pow(x, y))
}

func sqlSqrt(a any) any {
	x, ok := sqlFloat(a)
	if !ok || x < 0 {
		return nil
	}
	return math.Sqrt(x)
}

func sqlFloor(a any) any {
	x, ok := sqlFloat(a)
	if !ok {
		return nil
	}
	return math.Floor(x)
}

func sqlFmod(a, b any) any {
	x, ok1 := sqlFloat(a)
	y, ok2 := sqlFloat(b)
	if !ok1 || !ok2 || y == 0 {
		return nil
	}
	return finite(math.Mod(x, y))
}

func sqlUpper(a any) any {
	s, ok := sqlText(a)
	if !ok {
		return nil
	}
	return upperCaser.String(s)
}

func sqlLower(a any) any {
	s, ok := sqlText(a)
	if !ok {
		return nil
	}
	return lowerCaser.String(s)
}

// sqlCastInt converts v to an integer within [lo, hi]. Unlike CAST, text
// that is not an integer and values out of range are errors.
func sqlCastInt(v, lo, hi any) (any, error) {
	l, _ := lo.(int64)
	h, _ := hi.(int64)
	var i int64
	switch x := v.(type) {
	case int64:
		i = x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, dferr.Coercion("cannot cast %v from Float64 to an integer", x)
		}
		i = int64(x)
	default:
		s, ok := sqlText(v)
		if !ok {
			return nil, nil
		}
		p, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, dferr.Coercion("cannot cast %s from String to an integer", s)
		}
		i = p
	}
	if i < l || i > h {
		return nil, dferr.Coercion("%d does not fit [%d, %d]", i, l, h)
	}
	return i, nil
}

// sqlCastReal parses text as a float. Unlike CAST, text that is not a
// number is an error.
func sqlCastReal(v any) (any, error) {
	if f, ok := sqlFloat(v); ok {
		return f, nil
	}
	s, ok := sqlText(v)
	if !ok {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, dferr.Coercion("cannot cast %s from String to a float", s)
	}
	return finite(f), nil
}

// quantileAggregator collects non-null values and interpolates on Done.
type quantileAggregator struct {
	values []float64
	q      float64
	interp expr.Interpolation
}

func newQuantileAggregator() *quantileAggregator {
	return &quantileAggregator{interp: expr.InterpLinear}
}

func (a *quantileAggregator) Step(v, q, interp any) {
	if f, ok := sqlFloat(q); ok {
		a.q = f
	}
	if s, ok := sqlText(interp); ok {
		a.interp = expr.Interpolation(s)
	}
	if f, ok := sqlFloat(v); ok {
		a.values = append(a.values, f)
	}
}

func (a *quantileAggregator) Done() any {
	if len(a.values) == 0 {
		return nil
	}
	slices.Sort(a.values)
	return kernel.Quantile(a.values, a.q, a.interp)
}

type medianAggregator struct {
	quantileAggregator
}

func newMedianAggregator() *medianAggregator {
	return &medianAggregator{quantileAggregator{q: 0.5, interp: expr.InterpLinear}}
}

func (a *medianAggregator) Step(v any) {
	if f, ok := sqlFloat(v); ok {
		a.values = append(a.values, f)
	}
}

// productAggregator multiplies non-null values. Integer products are
// checked; a float argument turns the product into a float.
type productAggregator struct {
	n        int
	integer  int64
	float    float64
	isFloat  bool
	overflow bool
}

func newProductAggregator() *productAggregator {
	return &productAggregator{integer: 1, float: 1}
}

func (a *productAggregator) Step(v any) {
	switch x := v.(type) {
	case int64:
		a.n++
		a.float *= float64(x)
		if p, ok := kernel.CheckedMul(a.integer, x); ok {
			a.integer = p
		} else {
			a.overflow = true
		}
	case float64:
		a.n++
		a.isFloat = true
		a.float *= x
	}
}

func (a *productAggregator) Done() (any, error) {
	switch {
	case a.n == 0:
		return nil, nil
	case a.isFloat:
		return finite(a.float), nil
	case a.overflow:
		return nil, kernel.ErrOverflow
	}
	return a.integer, nil
}
