package dtype

import "github.com/roach88/dfbridge/dferr"

// OpClass selects the promotion rule applied to a binary operation.
type OpClass uint8

const (
	OpAdd OpClass = iota
	OpSub
	OpMul
	OpTrueDiv
	OpFloorDiv
	OpMod
	OpPow
	OpCompare
	OpLogical
	OpConcat
	OpCoalesce
)

var opClassNames = [...]string{
	OpAdd:      "add",
	OpSub:      "sub",
	OpMul:      "mul",
	OpTrueDiv:  "truediv",
	OpFloorDiv: "floordiv",
	OpMod:      "mod",
	OpPow:      "pow",
	OpCompare:  "compare",
	OpLogical:  "logical",
	OpConcat:   "concat",
	OpCoalesce: "coalesce",
}

func (c OpClass) String() string {
	if int(c) < len(opClassNames) {
		return opClassNames[c]
	}
	return "op"
}

// Promote returns the result dtype of applying an operation of class c to
// operands of dtypes l and r. It is the single promotion table shared by all
// backends:
//
//	int × int (same signedness)   → wider
//	signed × unsigned             → signed of width max(2×unsigned, signed);
//	                                Float64 when UInt64 is involved
//	int × FloatN                  → FloatN
//	float × float                 → wider
//	decimal × decimal             → Decimal(min(38, max int digits + max scale + 1), max scale)
//	decimal × int                 → decimal widened to hold the int
//	decimal × float               → Float64
//	truediv                       → Float64 (Float32 if both Float32)
//	pow                           → Float64 (Float32 if both Float32)
//	comparisons                   → Boolean over a common supertype
//	datetime − datetime           → Duration (finer unit)
//	datetime ± duration           → Datetime
//	string arithmetic             → error; concat is explicit
//	Unknown (null literal)        → adopts the other operand's dtype
func Promote(c OpClass, l, r Dtype) (Dtype, error) {
	switch c {
	case OpCompare:
		if _, err := Supertype(l, r); err != nil {
			return Unknown, coercionErr(c, l, r)
		}
		return Boolean, nil
	case OpLogical:
		if isBoolOrUnknown(l) && isBoolOrUnknown(r) {
			return Boolean, nil
		}
		return Unknown, coercionErr(c, l, r)
	case OpConcat:
		if isStringOrUnknown(l) && isStringOrUnknown(r) {
			return String, nil
		}
		return Unknown, coercionErr(c, l, r)
	case OpCoalesce:
		return Supertype(l, r)
	}

	if l.IsUnknown() && r.IsUnknown() {
		return Unknown, nil
	}
	if l.IsUnknown() {
		l = r
	}
	if r.IsUnknown() {
		r = l
	}

	if l.IsTemporal() || r.IsTemporal() {
		return temporalArithmetic(c, l, r)
	}
	if !l.IsNumeric() || !r.IsNumeric() {
		return Unknown, coercionErr(c, l, r)
	}

	switch c {
	case OpTrueDiv, OpPow:
		if l.kind == KindFloat32 && r.kind == KindFloat32 {
			return Float32, nil
		}
		return Float64, nil
	case OpMul:
		if l.kind == KindDecimal && r.kind == KindDecimal {
			return Decimal(min(MaxDecimalPrecision, l.precision+r.precision), min(MaxDecimalPrecision, l.scale+r.scale)), nil
		}
	}
	return numericSupertype(l, r), nil
}

// Supertype returns the smallest dtype both l and r can be cast to without
// loss, used by comparisons, coalesce and vertical concatenation.
func Supertype(l, r Dtype) (Dtype, error) {
	switch {
	case l.Equal(r):
		return l, nil
	case l.IsUnknown():
		return r, nil
	case r.IsUnknown():
		return l, nil
	case l.IsNumeric() && r.IsNumeric():
		return numericSupertype(l, r), nil
	case l.kind == KindBoolean && r.IsNumeric():
		return r, nil
	case r.kind == KindBoolean && l.IsNumeric():
		return l, nil
	case l.IsStringLike() && r.IsStringLike():
		return String, nil
	case l.kind == KindDate && r.kind == KindDatetime:
		return r, nil
	case l.kind == KindDatetime && r.kind == KindDate:
		return l, nil
	case l.kind == KindDatetime && r.kind == KindDatetime:
		if l.tz != r.tz {
			return Unknown, dferr.Coercion("no supertype for %s and %s: time zones differ", l, r)
		}
		return Datetime(finerUnit(l.unit, r.unit), l.tz), nil
	case l.kind == KindDuration && r.kind == KindDuration:
		return Duration(finerUnit(l.unit, r.unit)), nil
	case l.kind == KindList && r.kind == KindList:
		inner, err := Supertype(l.Inner(), r.Inner())
		if err != nil {
			return Unknown, err
		}
		return List(inner), nil
	}
	return Unknown, dferr.Coercion("no supertype for %s and %s", l, r)
}

func numericSupertype(l, r Dtype) Dtype {
	switch {
	case l.kind == KindDecimal && r.kind == KindDecimal:
		scale := max(l.scale, r.scale)
		digits := max(l.precision-l.scale, r.precision-r.scale)
		return Decimal(min(MaxDecimalPrecision, digits+scale+1), scale)
	case l.kind == KindDecimal && r.IsInteger():
		return Decimal(min(MaxDecimalPrecision, max(l.precision-l.scale, integerDigits(r))+l.scale), l.scale)
	case r.kind == KindDecimal && l.IsInteger():
		return numericSupertype(r, l)
	case l.kind == KindDecimal || r.kind == KindDecimal:
		return Float64
	case l.IsFloat() && r.IsFloat():
		if l.kind == KindFloat64 || r.kind == KindFloat64 {
			return Float64
		}
		return Float32
	case l.IsFloat():
		return l
	case r.IsFloat():
		return r
	}
	return integerSupertype(l, r)
}

func integerSupertype(l, r Dtype) Dtype {
	if l.IsSignedInteger() == r.IsSignedInteger() {
		if l.BitWidth() >= r.BitWidth() {
			return l
		}
		return r
	}
	s, u := l, r
	if u.IsSignedInteger() {
		s, u = r, l
	}
	if u.kind == KindUInt64 {
		return Float64
	}
	return signedOfWidth(max(s.BitWidth(), 2*u.BitWidth()))
}

func temporalArithmetic(c OpClass, l, r Dtype) (Dtype, error) {
	switch c {
	case OpSub:
		switch {
		case l.kind == KindDatetime && r.kind == KindDatetime:
			if l.tz != r.tz {
				return Unknown, coercionErr(c, l, r)
			}
			return Duration(finerUnit(l.unit, r.unit)), nil
		case l.kind == KindDate && r.kind == KindDate:
			return Duration(Millisecond), nil
		case l.kind == KindDatetime && r.kind == KindDuration:
			return Datetime(finerUnit(l.unit, r.unit), l.tz), nil
		case l.kind == KindDate && r.kind == KindDuration:
			return Datetime(r.unit, ""), nil
		case l.kind == KindDuration && r.kind == KindDuration:
			return Duration(finerUnit(l.unit, r.unit)), nil
		}
	case OpAdd:
		switch {
		case l.kind == KindDatetime && r.kind == KindDuration:
			return Datetime(finerUnit(l.unit, r.unit), l.tz), nil
		case l.kind == KindDuration && r.kind == KindDatetime:
			return Datetime(finerUnit(l.unit, r.unit), r.tz), nil
		case l.kind == KindDate && r.kind == KindDuration:
			return Datetime(r.unit, ""), nil
		case l.kind == KindDuration && r.kind == KindDate:
			return Datetime(l.unit, ""), nil
		case l.kind == KindDuration && r.kind == KindDuration:
			return Duration(finerUnit(l.unit, r.unit)), nil
		}
	case OpMul:
		switch {
		case l.kind == KindDuration && r.IsInteger():
			return l, nil
		case r.kind == KindDuration && l.IsInteger():
			return r, nil
		}
	}
	return Unknown, coercionErr(c, l, r)
}

// CanCast reports whether a value of dtype from can be cast to dtype to.
// Casts between scalar families are allowed; nested dtypes only cast to an
// equal dtype or element-wise between lists.
func CanCast(from, to Dtype) bool {
	if from.Equal(to) || from.IsUnknown() {
		return true
	}
	if to.IsUnknown() {
		return false
	}
	if from.kind == KindList && to.kind == KindList {
		return CanCast(from.Inner(), to.Inner())
	}
	if from.IsNested() || to.IsNested() {
		return false
	}
	if to.kind == KindString || from.kind == KindString {
		return true
	}
	switch {
	case from.IsNumeric() || from.kind == KindBoolean:
		return to.IsNumeric() || to.kind == KindBoolean
	case from.kind == KindCategorical:
		return to.kind == KindString
	case from.kind == KindDate:
		return to.kind == KindDatetime
	case from.kind == KindDatetime:
		return to.kind == KindDate || to.kind == KindDatetime
	case from.kind == KindDuration:
		return to.kind == KindDuration || to.IsInteger()
	}
	return false
}

func isBoolOrUnknown(d Dtype) bool   { return d.kind == KindBoolean || d.IsUnknown() }
func isStringOrUnknown(d Dtype) bool { return d.IsStringLike() || d.IsUnknown() }

func coercionErr(c OpClass, l, r Dtype) error {
	if c != OpConcat && (l.IsStringLike() || r.IsStringLike()) && c <= OpPow {
		return dferr.Coercion("cannot apply %s to %s and %s; use concat for strings", c, l, r)
	}
	return dferr.Coercion("cannot apply %s to %s and %s", c, l, r)
}
