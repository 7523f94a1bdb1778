package sqlbackend

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/internal/kernel"
)

// SQLite stores temporal values as text in fixed-width formats, so that
// text comparison orders them chronologically.
const (
	sqliteDate     = "2006-01-02"
	sqliteDatetime = "2006-01-02 15:04:05.000000000"
)

// castType returns the type used for d in CAST expressions. SQLite casts
// only to storage classes; Unknown has no cast and returns "".
func castType(dialect Dialect, d dtype.Dtype) (string, error) {
	if dialect == DialectPostgres {
		return postgresType(d)
	}
	switch {
	case d.IsUnknown():
		return "", nil
	case d.IsInteger(), d.Kind() == dtype.KindBoolean, d.Kind() == dtype.KindDuration:
		return "INTEGER", nil
	case d.IsFloat():
		return "REAL", nil
	case d.IsStringLike(), d.Kind() == dtype.KindDate, d.Kind() == dtype.KindDatetime:
		return "TEXT", nil
	}
	return "", dferr.Coercion("%s has no SQLite representation", d)
}

// ddlType returns the declared column type of d in CREATE TABLE. SQLite
// declarations name the logical type so that Table reads it back.
func ddlType(dialect Dialect, d dtype.Dtype) (string, error) {
	if dialect == DialectSQLite {
		switch d.Kind() {
		case dtype.KindBoolean:
			return "BOOLEAN", nil
		case dtype.KindDate:
			return "DATE", nil
		case dtype.KindDatetime:
			return "DATETIME", nil
		}
	}
	return castType(dialect, d)
}

func postgresType(d dtype.Dtype) (string, error) {
	switch d.Kind() {
	case dtype.KindUnknown, dtype.KindString, dtype.KindCategorical:
		return "TEXT", nil
	case dtype.KindInt8, dtype.KindInt16, dtype.KindUInt8:
		return "SMALLINT", nil
	case dtype.KindInt32, dtype.KindUInt16:
		return "INTEGER", nil
	case dtype.KindInt64, dtype.KindUInt32, dtype.KindDuration:
		return "BIGINT", nil
	case dtype.KindUInt64:
		return "NUMERIC(20, 0)", nil
	case dtype.KindFloat32:
		return "REAL", nil
	case dtype.KindFloat64:
		return "DOUBLE PRECISION", nil
	case dtype.KindDecimal:
		return fmt.Sprintf("NUMERIC(%d, %d)", d.Precision(), d.Scale()), nil
	case dtype.KindBoolean:
		return "BOOLEAN", nil
	case dtype.KindDate:
		return "DATE", nil
	case dtype.KindDatetime:
		if d.TimeZone() != "" {
			return "TIMESTAMPTZ", nil
		}
		return "TIMESTAMP", nil
	}
	return "", dferr.Coercion("%s has no PostgreSQL representation", d)
}

// dtypeOfColumn maps a declared column type to a Dtype. The mapping is
// total: unrecognized SQLite declarations follow SQLite's affinity rules,
// unrecognized PostgreSQL types read as String.
func dtypeOfColumn(dialect Dialect, ct *sql.ColumnType) dtype.Dtype {
	name := strings.ToUpper(ct.DatabaseTypeName())
	if dialect == DialectPostgres {
		switch name {
		case "INT2":
			return dtype.Int16
		case "INT4":
			return dtype.Int32
		case "INT8":
			return dtype.Int64
		case "FLOAT4":
			return dtype.Float32
		case "FLOAT8":
			return dtype.Float64
		case "NUMERIC":
			p, s, ok := ct.DecimalSize()
			if !ok || p <= 0 || p > dtype.MaxDecimalPrecision {
				p, s = dtype.MaxDecimalPrecision, 9
			}
			return dtype.Decimal(int(p), int(s))
		case "BOOL":
			return dtype.Boolean
		case "DATE":
			return dtype.Date
		case "TIMESTAMP":
			return dtype.Datetime(dtype.Microsecond, "")
		case "TIMESTAMPTZ":
			return dtype.Datetime(dtype.Microsecond, "UTC")
		}
		return dtype.String
	}

	switch {
	case name == "BOOLEAN" || name == "BOOL":
		return dtype.Boolean
	case name == "DATE":
		return dtype.Date
	case name == "DATETIME" || name == "TIMESTAMP":
		return dtype.Datetime(dtype.Microsecond, "")
	case strings.Contains(name, "INT"):
		return dtype.Int64
	case strings.Contains(name, "CHAR"), strings.Contains(name, "CLOB"), strings.Contains(name, "TEXT"):
		return dtype.String
	case name == "" || strings.Contains(name, "BLOB"):
		return dtype.Unknown
	}
	return dtype.Float64
}

// toSQL converts a canonical value of dtype d into a driver argument.
func toSQL(dialect Dialect, d dtype.Dtype, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case uint64:
		if x > math.MaxInt64 {
			if dialect == DialectPostgres {
				return strconv.FormatUint(x, 10), nil
			}
			return nil, dferr.Coercion("%d does not fit a SQLite integer", x)
		}
		return int64(x), nil
	case float64:
		if dialect == DialectSQLite && math.IsNaN(x) {
			// SQLite stores NaN as NULL.
			return nil, nil
		}
		return x, nil
	case time.Time:
		if dialect == DialectPostgres {
			if d.Kind() == dtype.KindDatetime && d.TimeZone() == "" {
				return x.UTC(), nil
			}
			return x, nil
		}
		if d.Kind() == dtype.KindDate {
			return x.UTC().Format(sqliteDate), nil
		}
		return x.UTC().Format(sqliteDatetime), nil
	case time.Duration:
		unit := dtype.Microsecond
		if d.Kind() == dtype.KindDuration {
			unit = d.Unit()
		}
		return int64(x / column.UnitDuration(unit)), nil
	case decimal.Decimal:
		if dialect == DialectSQLite {
			return nil, dferr.Coercion("decimal %s has no SQLite representation", x)
		}
		return x.String(), nil
	case []any, map[string]any:
		return nil, dferr.Coercion("%s has no SQL representation", d)
	}
	return v, nil
}

// fromSQL converts a scanned driver value into the canonical value of d.
func fromSQL(d dtype.Dtype, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	switch d.Kind() {
	case dtype.KindUnknown:
		return nil, nil
	case dtype.KindBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case float64:
			return x != 0, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, dferr.Coercion("%q is not a boolean", x)
			}
			return b, nil
		}
	case dtype.KindDate, dtype.KindDatetime:
		ts, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		return column.Normalize(d, ts)
	case dtype.KindDuration:
		ticks, err := integral(v)
		if err != nil {
			return nil, err
		}
		return time.Duration(ticks) * column.UnitDuration(d.Unit()), nil
	case dtype.KindDecimal:
		switch x := v.(type) {
		case string:
			dec, err := decimal.NewFromString(x)
			if err != nil {
				return nil, dferr.Coercion("%q is not a decimal", x)
			}
			return dec.Round(int32(d.Scale())), nil
		case float64:
			return decimal.NewFromFloat(x).Round(int32(d.Scale())), nil
		}
	case dtype.KindString, dtype.KindCategorical:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}

	switch {
	case d.IsInteger():
		if d.Kind() == dtype.KindUInt64 {
			if s, ok := v.(string); ok {
				u, err := strconv.ParseUint(s, 10, 64)
				if err != nil {
					return nil, dferr.Coercion("%q is not an unsigned integer", s)
				}
				return u, nil
			}
		}
		i, err := integral(v)
		if err != nil {
			return nil, err
		}
		// The engine computes in 64-bit integers, so a result that does not
		// fit d overflowed.
		if d.IsUnsignedInteger() {
			if i < 0 {
				return nil, overflow()
			}
			u, err := column.Normalize(d, uint64(i))
			if err != nil {
				return nil, overflow()
			}
			return u, nil
		}
		n, err := column.Normalize(d, i)
		if err != nil {
			return nil, overflow()
		}
		return n, nil
	case d.IsFloat():
		switch x := v.(type) {
		case int64:
			return column.Normalize(d, float64(x))
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, dferr.Coercion("%q is not a float", x)
			}
			return column.Normalize(d, f)
		}
	}
	return column.Normalize(d, v)
}

const twoTo53 = 1 << 53

func overflow() error {
	return dferr.Native("", "collect", kernel.ErrOverflow)
}

// nativeError maps an engine error onto the dfbridge error it stands for.
// Registered functions raise coercion errors as message text, and the
// engines report integer overflow in their own words.
func nativeError(tag, node string, err error) error {
	msg := err.Error()
	prefix := string(dferr.CodeDtypeCoercion) + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return dferr.Coercion("%s", msg[i+len(prefix):])
	}
	if strings.Contains(msg, "integer overflow") || strings.Contains(msg, "out of range") {
		err = fmt.Errorf("%w: %s", kernel.ErrOverflow, msg)
	}
	return dferr.Native(tag, node, err)
}

func integral(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		if x != math.Trunc(x) {
			break
		}
		// SQLite promotes an overflowing integer expression to REAL, and
		// integers past 2^53 only arrive as REAL that way.
		if math.Abs(x) >= twoTo53 {
			return 0, overflow()
		}
		return int64(x), nil
	case string:
		if i, err := strconv.ParseInt(x, 10, 64); err == nil {
			return i, nil
		}
		if dec, err := decimal.NewFromString(x); err == nil && dec.IsInteger() {
			return dec.IntPart(), nil
		}
	}
	return 0, dferr.Coercion("%v (%T) is not an integer", v, v)
}

var timeFormats = append([]string{sqliteDatetime, sqliteDate, time.RFC3339Nano}, sqlite3.SQLiteTimestampFormats...)

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		s := strings.TrimSuffix(x, "Z")
		for _, layout := range timeFormats {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, dferr.Coercion("%q is not a timestamp", x)
	}
	return time.Time{}, dferr.Coercion("%v (%T) is not a timestamp", v, v)
}
