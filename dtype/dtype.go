// Package dtype is the backend-neutral type model.
//
// Every backend maps each of its native types to exactly one Dtype through a
// total function; the reverse mapping is partial and fails with a dtype
// coercion error. Dtype values are immutable and compared with Equal.
package dtype

import (
	"fmt"
	"strings"
)

// Kind is the tag of a Dtype.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	KindFloat32
	KindFloat64
	KindDecimal
	KindBoolean
	KindString
	KindCategorical
	KindDate
	KindDatetime
	KindDuration
	KindList
	KindStruct
)

var kindNames = [...]string{
	KindUnknown:     "Unknown",
	KindInt8:        "Int8",
	KindInt16:       "Int16",
	KindInt32:       "Int32",
	KindInt64:       "Int64",
	KindUInt8:       "UInt8",
	KindUInt16:      "UInt16",
	KindUInt32:      "UInt32",
	KindUInt64:      "UInt64",
	KindFloat32:     "Float32",
	KindFloat64:     "Float64",
	KindDecimal:     "Decimal",
	KindBoolean:     "Boolean",
	KindString:      "String",
	KindCategorical: "Categorical",
	KindDate:        "Date",
	KindDatetime:    "Datetime",
	KindDuration:    "Duration",
	KindList:        "List",
	KindStruct:      "Struct",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// TimeUnit is the resolution of Datetime and Duration values.
type TimeUnit string

const (
	Nanosecond  TimeUnit = "ns"
	Microsecond TimeUnit = "us"
	Millisecond TimeUnit = "ms"
	Second      TimeUnit = "s"
)

// rank orders units from coarsest to finest.
func (u TimeUnit) rank() int {
	switch u {
	case Second:
		return 0
	case Millisecond:
		return 1
	case Microsecond:
		return 2
	case Nanosecond:
		return 3
	}
	return -1
}

// Valid reports whether u is one of the four supported units.
func (u TimeUnit) Valid() bool { return u.rank() >= 0 }

// finerUnit returns the finer of two units.
func finerUnit(a, b TimeUnit) TimeUnit {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// MaxDecimalPrecision bounds Decimal precision.
const MaxDecimalPrecision = 38

// Field is a named Dtype, used by Struct dtypes and by Schema.
type Field struct {
	Name  string
	Dtype Dtype
}

// Dtype is a tagged variant over the supported logical types.
// The zero value is Unknown.
type Dtype struct {
	kind      Kind
	precision int
	scale     int
	unit      TimeUnit
	tz        string
	inner     *Dtype
	fields    []Field
}

// Parameterless dtypes.
var (
	Unknown     = Dtype{kind: KindUnknown}
	Int8        = Dtype{kind: KindInt8}
	Int16       = Dtype{kind: KindInt16}
	Int32       = Dtype{kind: KindInt32}
	Int64       = Dtype{kind: KindInt64}
	UInt8       = Dtype{kind: KindUInt8}
	UInt16      = Dtype{kind: KindUInt16}
	UInt32      = Dtype{kind: KindUInt32}
	UInt64      = Dtype{kind: KindUInt64}
	Float32     = Dtype{kind: KindFloat32}
	Float64     = Dtype{kind: KindFloat64}
	Boolean     = Dtype{kind: KindBoolean}
	String      = Dtype{kind: KindString}
	Categorical = Dtype{kind: KindCategorical}
	Date        = Dtype{kind: KindDate}
)

// Decimal returns a fixed-point dtype. Precision is clamped to
// MaxDecimalPrecision and scale to [0, precision].
func Decimal(precision, scale int) Dtype {
	if precision <= 0 || precision > MaxDecimalPrecision {
		precision = MaxDecimalPrecision
	}
	if scale < 0 {
		scale = 0
	}
	if scale > precision {
		scale = precision
	}
	return Dtype{kind: KindDecimal, precision: precision, scale: scale}
}

// Datetime returns a timestamp dtype. An empty tz means naive.
func Datetime(unit TimeUnit, tz string) Dtype {
	if !unit.Valid() {
		unit = Microsecond
	}
	return Dtype{kind: KindDatetime, unit: unit, tz: tz}
}

// Duration returns an elapsed-time dtype.
func Duration(unit TimeUnit) Dtype {
	if !unit.Valid() {
		unit = Microsecond
	}
	return Dtype{kind: KindDuration, unit: unit}
}

// List returns a variable-length list of inner.
func List(inner Dtype) Dtype {
	in := inner
	return Dtype{kind: KindList, inner: &in}
}

// Struct returns a record dtype with ordered fields.
func Struct(fields ...Field) Dtype {
	return Dtype{kind: KindStruct, fields: append([]Field(nil), fields...)}
}

// Kind returns the tag.
func (d Dtype) Kind() Kind { return d.kind }

// Precision returns the decimal precision (0 for non-decimals).
func (d Dtype) Precision() int { return d.precision }

// Scale returns the decimal scale (0 for non-decimals).
func (d Dtype) Scale() int { return d.scale }

// Unit returns the time unit of Datetime and Duration dtypes.
func (d Dtype) Unit() TimeUnit { return d.unit }

// TimeZone returns the time zone of a Datetime dtype.
func (d Dtype) TimeZone() string { return d.tz }

// Inner returns the element dtype of a List, or Unknown.
func (d Dtype) Inner() Dtype {
	if d.inner == nil {
		return Unknown
	}
	return *d.inner
}

// Fields returns a copy of the fields of a Struct dtype.
func (d Dtype) Fields() []Field {
	return append([]Field(nil), d.fields...)
}

// Equal reports structural equality.
func (d Dtype) Equal(o Dtype) bool {
	if d.kind != o.kind {
		return false
	}
	switch d.kind {
	case KindDecimal:
		return d.precision == o.precision && d.scale == o.scale
	case KindDatetime:
		return d.unit == o.unit && d.tz == o.tz
	case KindDuration:
		return d.unit == o.unit
	case KindList:
		return d.Inner().Equal(o.Inner())
	case KindStruct:
		if len(d.fields) != len(o.fields) {
			return false
		}
		for i := range d.fields {
			if d.fields[i].Name != o.fields[i].Name || !d.fields[i].Dtype.Equal(o.fields[i].Dtype) {
				return false
			}
		}
		return true
	}
	return true
}

// String renders the dtype, e.g. "Decimal(10, 2)" or "Datetime(us, UTC)".
func (d Dtype) String() string {
	switch d.kind {
	case KindDecimal:
		return fmt.Sprintf("Decimal(%d, %d)", d.precision, d.scale)
	case KindDatetime:
		if d.tz != "" {
			return fmt.Sprintf("Datetime(%s, %s)", d.unit, d.tz)
		}
		return fmt.Sprintf("Datetime(%s)", d.unit)
	case KindDuration:
		return fmt.Sprintf("Duration(%s)", d.unit)
	case KindList:
		return fmt.Sprintf("List(%s)", d.Inner())
	case KindStruct:
		parts := make([]string, len(d.fields))
		for i, f := range d.fields {
			parts[i] = f.Name + ": " + f.Dtype.String()
		}
		return "Struct{" + strings.Join(parts, ", ") + "}"
	}
	return d.kind.String()
}

// IsUnknown reports whether the dtype is still unresolved.
func (d Dtype) IsUnknown() bool { return d.kind == KindUnknown }

// IsSignedInteger reports Int8..Int64.
func (d Dtype) IsSignedInteger() bool { return d.kind >= KindInt8 && d.kind <= KindInt64 }

// IsUnsignedInteger reports UInt8..UInt64.
func (d Dtype) IsUnsignedInteger() bool { return d.kind >= KindUInt8 && d.kind <= KindUInt64 }

// IsInteger reports any integer dtype.
func (d Dtype) IsInteger() bool { return d.IsSignedInteger() || d.IsUnsignedInteger() }

// IsFloat reports Float32 and Float64.
func (d Dtype) IsFloat() bool { return d.kind == KindFloat32 || d.kind == KindFloat64 }

// IsNumeric reports integers, floats and decimals.
func (d Dtype) IsNumeric() bool { return d.IsInteger() || d.IsFloat() || d.kind == KindDecimal }

// IsTemporal reports Date, Datetime and Duration.
func (d Dtype) IsTemporal() bool {
	return d.kind == KindDate || d.kind == KindDatetime || d.kind == KindDuration
}

// IsStringLike reports String and Categorical.
func (d Dtype) IsStringLike() bool { return d.kind == KindString || d.kind == KindCategorical }

// IsNested reports List and Struct.
func (d Dtype) IsNested() bool { return d.kind == KindList || d.kind == KindStruct }

// IsOrdered reports whether values of the dtype have a total order usable by
// sort, min/max and comparisons.
func (d Dtype) IsOrdered() bool {
	return d.IsNumeric() || d.IsTemporal() || d.IsStringLike() || d.kind == KindBoolean
}

// BitWidth returns the storage width of integer and float dtypes, 0 otherwise.
func (d Dtype) BitWidth() int {
	switch d.kind {
	case KindInt8, KindUInt8:
		return 8
	case KindInt16, KindUInt16:
		return 16
	case KindInt32, KindUInt32, KindFloat32:
		return 32
	case KindInt64, KindUInt64, KindFloat64:
		return 64
	}
	return 0
}

// signedOfWidth returns the signed integer dtype of the given width.
func signedOfWidth(bits int) Dtype {
	switch {
	case bits <= 8:
		return Int8
	case bits <= 16:
		return Int16
	case bits <= 32:
		return Int32
	}
	return Int64
}

func unsignedOfWidth(bits int) Dtype {
	switch {
	case bits <= 8:
		return UInt8
	case bits <= 16:
		return UInt16
	case bits <= 32:
		return UInt32
	}
	return UInt64
}

// integerDigits is the number of decimal digits needed for any value of an
// integer dtype.
func integerDigits(d Dtype) int {
	switch d.kind {
	case KindInt8, KindUInt8:
		return 3
	case KindInt16, KindUInt16:
		return 5
	case KindInt32, KindUInt32:
		return 10
	case KindInt64:
		return 19
	case KindUInt64:
		return 20
	}
	return 0
}
