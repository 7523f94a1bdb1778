package expr

import (
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

// Infer resolves the dtype of n against schema. It is the single promotion
// authority: every adapter casts operands to the dtypes Infer computes
// before calling native arithmetic.
func Infer(n Node, schema dtype.Schema) (dtype.Dtype, error) {
	switch x := n.(type) {
	case *Column:
		d, ok := schema.Lookup(x.Name)
		if !ok {
			return dtype.Unknown, dferr.Malformed("column %q not found in %s", x.Name, schema)
		}
		return d, nil
	case *Literal:
		return x.Type, nil
	case *Unary:
		ct, err := Infer(x.Child, schema)
		if err != nil {
			return dtype.Unknown, err
		}
		return unaryType(x.Op, x.Options, ct)
	case *Binary:
		lt, err := Infer(x.Left, schema)
		if err != nil {
			return dtype.Unknown, err
		}
		rt, err := Infer(x.Right, schema)
		if err != nil {
			return dtype.Unknown, err
		}
		return dtype.Promote(x.Op.Class(), lt, rt)
	case *Aggregation:
		ct, err := Infer(x.Child, schema)
		if err != nil {
			return dtype.Unknown, err
		}
		return aggType(x.Op, ct)
	case *Window:
		for _, k := range x.PartitionBy {
			if _, err := Infer(k, schema); err != nil {
				return dtype.Unknown, err
			}
		}
		for _, k := range x.OrderBy {
			kt, err := Infer(k.Expr, schema)
			if err != nil {
				return dtype.Unknown, err
			}
			if !kt.IsOrdered() && !kt.IsUnknown() {
				return dtype.Unknown, dferr.Coercion("cannot order by %s", kt)
			}
		}
		ct, err := Infer(x.Child, schema)
		if err != nil {
			return dtype.Unknown, err
		}
		return windowType(x, ct)
	case *Cast:
		ct, err := Infer(x.Child, schema)
		if err != nil {
			return dtype.Unknown, err
		}
		if !dtype.CanCast(ct, x.To) {
			return dtype.Unknown, dferr.Coercion("cannot cast %s to %s", ct, x.To)
		}
		return x.To, nil
	case *Alias:
		return Infer(x.Child, schema)
	}
	return dtype.Unknown, dferr.Malformed("unknown node %T", n)
}

func unaryType(op UnaryOp, opts UnaryOptions, ct dtype.Dtype) (dtype.Dtype, error) {
	unknown := ct.IsUnknown()
	switch op {
	case OpIsNull, OpIsNotNull:
		return dtype.Boolean, nil
	case OpNeg, OpAbs:
		if unknown || ct.IsNumeric() || ct.Kind() == dtype.KindDuration {
			return ct, nil
		}
	case OpNot:
		if unknown || ct.Kind() == dtype.KindBoolean {
			return dtype.Boolean, nil
		}
	case OpIsNaN:
		if unknown || ct.IsFloat() {
			return dtype.Boolean, nil
		}
	case OpIsFinite:
		if unknown || ct.IsNumeric() {
			return dtype.Boolean, nil
		}
	case OpRound:
		if unknown || ct.IsNumeric() {
			return ct, nil
		}
	case OpStrLenChars:
		if unknown || ct.IsStringLike() {
			return dtype.Int64, nil
		}
	case OpStrToUppercase, OpStrToLowercase, OpStrStripChars, OpStrReplace, OpStrReplaceAll:
		if unknown || ct.IsStringLike() {
			return dtype.String, nil
		}
	case OpStrStartsWith, OpStrEndsWith, OpStrContains:
		if unknown || ct.IsStringLike() {
			return dtype.Boolean, nil
		}
	case OpIsIn:
		for _, v := range opts.Values {
			if _, err := dtype.Supertype(ct, dtypeOfValue(v)); err != nil {
				return dtype.Unknown, dferr.Coercion("is_in value %s does not match %s", FormatValue(v), ct)
			}
		}
		return dtype.Boolean, nil
	case OpClip:
		if !unknown && !ct.IsNumeric() && !ct.IsTemporal() {
			break
		}
		for _, b := range []Value{opts.Lower, opts.Upper} {
			if isNullValue(b) {
				continue
			}
			if _, err := dtype.Supertype(ct, dtypeOfValue(b)); err != nil {
				return dtype.Unknown, dferr.Coercion("clip bound %s does not match %s", FormatValue(b), ct)
			}
		}
		return ct, nil
	case OpDtYear:
		if unknown || ct.Kind() == dtype.KindDate || ct.Kind() == dtype.KindDatetime {
			return dtype.Int32, nil
		}
	case OpDtMonth, OpDtDay:
		if unknown || ct.Kind() == dtype.KindDate || ct.Kind() == dtype.KindDatetime {
			return dtype.Int8, nil
		}
	case OpDtHour, OpDtMinute, OpDtSecond:
		if unknown || ct.Kind() == dtype.KindDatetime {
			return dtype.Int8, nil
		}
	case OpDtOrdinalDay:
		if unknown || ct.Kind() == dtype.KindDate || ct.Kind() == dtype.KindDatetime {
			return dtype.Int16, nil
		}
	case OpDtTotalDays, OpDtTotalHours, OpDtTotalMinutes, OpDtTotalSeconds, OpDtTotalMilliseconds:
		if unknown || ct.Kind() == dtype.KindDuration {
			return dtype.Int64, nil
		}
	}
	return dtype.Unknown, dferr.Coercion("cannot apply %s to %s", op, ct)
}

// SumType is the result dtype of summing values of d.
func SumType(d dtype.Dtype) (dtype.Dtype, error) {
	switch {
	case d.IsUnknown():
		return dtype.Unknown, nil
	case d.IsSignedInteger(), d.Kind() == dtype.KindBoolean:
		return dtype.Int64, nil
	case d.IsUnsignedInteger():
		return dtype.UInt64, nil
	case d.IsFloat(), d.Kind() == dtype.KindDuration:
		return d, nil
	case d.Kind() == dtype.KindDecimal:
		return dtype.Decimal(dtype.MaxDecimalPrecision, d.Scale()), nil
	}
	return dtype.Unknown, dferr.Coercion("cannot sum %s", d)
}

func aggType(op AggOp, ct dtype.Dtype) (dtype.Dtype, error) {
	unknown := ct.IsUnknown()
	switch op {
	case AggSum:
		return SumType(ct)
	case AggMean, AggStd, AggVar, AggQuantile, AggMedian:
		if op == AggMedian && !unknown && !ct.IsNumeric() {
			return dtype.Unknown, dferr.Coercion("median needs a numeric column, got %s", ct)
		}
		if op == AggMean && ct.Kind() == dtype.KindBoolean {
			return dtype.Float64, nil
		}
		if unknown || ct.IsNumeric() {
			if ct.Kind() == dtype.KindFloat32 {
				return dtype.Float32, nil
			}
			return dtype.Float64, nil
		}
	case AggMin, AggMax:
		if unknown || ct.IsOrdered() {
			return ct, nil
		}
	case AggCount, AggLen, AggNUnique, AggNullCount:
		return dtype.Int64, nil
	case AggFirst, AggLast:
		return ct, nil
	case AggAny, AggAll:
		if unknown || ct.Kind() == dtype.KindBoolean {
			return dtype.Boolean, nil
		}
	}
	return dtype.Unknown, dferr.Coercion("cannot apply %s to %s", op, ct)
}

func windowType(w *Window, ct dtype.Dtype) (dtype.Dtype, error) {
	unknown := ct.IsUnknown()
	switch w.Op {
	case WindowOver:
		return ct, nil
	case WindowRank:
		if !unknown && !ct.IsOrdered() {
			break
		}
		if w.Options.RankMethod == RankAverage {
			return dtype.Float64, nil
		}
		return dtype.Int64, nil
	case WindowRowNumber, WindowCumCount:
		return dtype.Int64, nil
	case WindowCumSum:
		return SumType(ct)
	case WindowCumProd:
		if ct.Kind() == dtype.KindDecimal || ct.Kind() == dtype.KindDuration {
			break
		}
		return SumType(ct)
	case WindowCumMin, WindowCumMax:
		if unknown || ct.IsOrdered() {
			return ct, nil
		}
	case WindowShift, WindowForwardFill, WindowBackwardFill:
		return ct, nil
	case WindowDiff:
		switch {
		case unknown:
			return ct, nil
		case ct.IsUnsignedInteger():
			return dtype.Int64, nil
		case ct.IsNumeric(), ct.Kind() == dtype.KindDuration:
			return ct, nil
		case ct.Kind() == dtype.KindDatetime:
			return dtype.Duration(ct.Unit()), nil
		case ct.Kind() == dtype.KindDate:
			return dtype.Duration(dtype.Millisecond), nil
		}
	}
	return dtype.Unknown, dferr.Coercion("cannot apply %s to %s", w.Op, ct)
}

// InferAll resolves the output field of every expression, rejecting
// duplicate output names.
func InferAll(nodes []Node, schema dtype.Schema) ([]dtype.Field, error) {
	fields := make([]dtype.Field, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		d, err := Infer(n, schema)
		if err != nil {
			return nil, err
		}
		name := OutputName(n)
		if seen[name] {
			return nil, dferr.Malformed("duplicate output name %q; use alias", name)
		}
		seen[name] = true
		fields = append(fields, dtype.Field{Name: name, Dtype: d})
	}
	return fields, nil
}
