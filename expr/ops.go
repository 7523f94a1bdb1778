package expr

import (
	"time"

	"github.com/roach88/dfbridge/dtype"
)

// UnaryOp enumerates unary operations.
type UnaryOp uint8

const (
	OpNeg UnaryOp = iota
	OpNot
	OpAbs
	OpIsNull
	OpIsNotNull
	OpIsNaN
	OpRound
	OpStrLenChars
	OpStrToUppercase
	OpStrToLowercase
	OpStrStartsWith
	OpStrEndsWith
	OpStrContains
	OpStrStripChars
	OpIsIn
	OpClip
	OpDtYear
	OpDtMonth
	OpDtDay
	OpIsFinite
	OpStrReplace
	OpStrReplaceAll
	OpDtHour
	OpDtMinute
	OpDtSecond
	OpDtOrdinalDay
	OpDtTotalDays
	OpDtTotalHours
	OpDtTotalMinutes
	OpDtTotalSeconds
	OpDtTotalMilliseconds
)

var unaryNames = [...]string{
	OpNeg:            "neg",
	OpNot:            "not",
	OpAbs:            "abs",
	OpIsNull:         "is_null",
	OpIsNotNull:      "is_not_null",
	OpIsNaN:          "is_nan",
	OpRound:          "round",
	OpStrLenChars:    "str.len_chars",
	OpStrToUppercase: "str.to_uppercase",
	OpStrToLowercase: "str.to_lowercase",
	OpStrStartsWith:  "str.starts_with",
	OpStrEndsWith:    "str.ends_with",
	OpStrContains:    "str.contains",
	OpStrStripChars:  "str.strip_chars",
	OpIsIn:           "is_in",
	OpClip:           "clip",
	OpDtYear:         "dt.year",
	OpDtMonth:        "dt.month",
	OpDtDay:          "dt.day",
	OpIsFinite:       "is_finite",
	OpStrReplace:     "str.replace",
	OpStrReplaceAll:  "str.replace_all",
	OpDtHour:         "dt.hour",
	OpDtMinute:       "dt.minute",
	OpDtSecond:       "dt.second",
	OpDtOrdinalDay:   "dt.ordinal_day",

	OpDtTotalDays:         "dt.total_days",
	OpDtTotalHours:        "dt.total_hours",
	OpDtTotalMinutes:      "dt.total_minutes",
	OpDtTotalSeconds:      "dt.total_seconds",
	OpDtTotalMilliseconds: "dt.total_milliseconds",
}

func (op UnaryOp) String() string { return unaryNames[op] }

// IsDatePart reports the dt.* accessors.
func (op UnaryOp) IsDatePart() bool {
	switch op {
	case OpDtYear, OpDtMonth, OpDtDay, OpDtHour, OpDtMinute, OpDtSecond, OpDtOrdinalDay:
		return true
	}
	return false
}

// IsDurationTotal reports the dt.total_* accessors.
func (op UnaryOp) IsDurationTotal() bool {
	_, ok := op.TotalSpan()
	return ok
}

// TotalSpan is the span counted by a dt.total_* accessor.
func (op UnaryOp) TotalSpan() (time.Duration, bool) {
	switch op {
	case OpDtTotalDays:
		return 24 * time.Hour, true
	case OpDtTotalHours:
		return time.Hour, true
	case OpDtTotalMinutes:
		return time.Minute, true
	case OpDtTotalSeconds:
		return time.Second, true
	case OpDtTotalMilliseconds:
		return time.Millisecond, true
	}
	return 0, false
}

// NullSafe reports whether the op yields a non-null result for null input.
func (op UnaryOp) NullSafe() bool {
	return op == OpIsNull || op == OpIsNotNull
}

// BinaryOp enumerates binary operations.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpTrueDiv
	OpFloorDiv
	OpMod
	OpPow
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpConcat
	OpCoalesce
)

var binaryNames = [...]string{
	OpAdd:      "add",
	OpSub:      "sub",
	OpMul:      "mul",
	OpTrueDiv:  "truediv",
	OpFloorDiv: "floordiv",
	OpMod:      "mod",
	OpPow:      "pow",
	OpEq:       "eq",
	OpNe:       "ne",
	OpLt:       "lt",
	OpLe:       "le",
	OpGt:       "gt",
	OpGe:       "ge",
	OpAnd:      "and",
	OpOr:       "or",
	OpConcat:   "concat",
	OpCoalesce: "coalesce",
}

var binarySymbols = [...]string{
	OpAdd:      "+",
	OpSub:      "-",
	OpMul:      "*",
	OpTrueDiv:  "/",
	OpFloorDiv: "//",
	OpMod:      "%",
	OpPow:      "**",
	OpEq:       "==",
	OpNe:       "!=",
	OpLt:       "<",
	OpLe:       "<=",
	OpGt:       ">",
	OpGe:       ">=",
	OpAnd:      "&",
	OpOr:       "|",
}

func (op BinaryOp) String() string { return binaryNames[op] }

// Symbol returns the infix symbol, or "" for function-style ops.
func (op BinaryOp) Symbol() string {
	if int(op) < len(binarySymbols) {
		return binarySymbols[op]
	}
	return ""
}

// Class returns the promotion class of the op.
func (op BinaryOp) Class() dtype.OpClass {
	switch op {
	case OpAdd:
		return dtype.OpAdd
	case OpSub:
		return dtype.OpSub
	case OpMul:
		return dtype.OpMul
	case OpTrueDiv:
		return dtype.OpTrueDiv
	case OpFloorDiv:
		return dtype.OpFloorDiv
	case OpMod:
		return dtype.OpMod
	case OpPow:
		return dtype.OpPow
	case OpAnd, OpOr:
		return dtype.OpLogical
	case OpConcat:
		return dtype.OpConcat
	case OpCoalesce:
		return dtype.OpCoalesce
	}
	return dtype.OpCompare
}

// IsComparison reports eq, ne, lt, le, gt and ge.
func (op BinaryOp) IsComparison() bool { return op >= OpEq && op <= OpGe }

// IsArithmetic reports add through pow.
func (op BinaryOp) IsArithmetic() bool { return op <= OpPow }

// NullSafe reports ops that can produce non-null output from null input.
func (op BinaryOp) NullSafe() bool {
	return op == OpAnd || op == OpOr || op == OpCoalesce
}

// AggOp enumerates aggregations.
type AggOp uint8

const (
	AggSum AggOp = iota
	AggMean
	AggMin
	AggMax
	AggCount
	AggLen
	AggNUnique
	AggNullCount
	AggMedian
	AggStd
	AggVar
	AggQuantile
	AggFirst
	AggLast
	AggAny
	AggAll
)

var aggNames = [...]string{
	AggSum:       "sum",
	AggMean:      "mean",
	AggMin:       "min",
	AggMax:       "max",
	AggCount:     "count",
	AggLen:       "len",
	AggNUnique:   "n_unique",
	AggNullCount: "null_count",
	AggMedian:    "median",
	AggStd:       "std",
	AggVar:       "var",
	AggQuantile:  "quantile",
	AggFirst:     "first",
	AggLast:      "last",
	AggAny:       "any",
	AggAll:       "all",
}

func (op AggOp) String() string { return aggNames[op] }

// WindowOp enumerates window operations.
type WindowOp uint8

const (
	WindowOver WindowOp = iota
	WindowRank
	WindowRowNumber
	WindowCumSum
	WindowCumCount
	WindowCumMin
	WindowCumMax
	WindowShift
	WindowDiff
	WindowForwardFill
	WindowBackwardFill
	WindowCumProd
)

var windowNames = [...]string{
	WindowOver:         "over",
	WindowRank:         "rank",
	WindowRowNumber:    "row_number",
	WindowCumSum:       "cum_sum",
	WindowCumCount:     "cum_count",
	WindowCumMin:       "cum_min",
	WindowCumMax:       "cum_max",
	WindowShift:        "shift",
	WindowDiff:         "diff",
	WindowForwardFill:  "forward_fill",
	WindowBackwardFill: "backward_fill",
	WindowCumProd:      "cum_prod",
}

func (op WindowOp) String() string { return windowNames[op] }

func (op WindowOp) orderSensitive(framed bool) bool {
	switch op {
	case WindowOver:
		return framed
	case WindowRank:
		return false
	}
	return true
}

// IsCumulative reports the cum_* family.
func (op WindowOp) IsCumulative() bool {
	return (op >= WindowCumSum && op <= WindowCumMax) || op == WindowCumProd
}

// RankMethod selects how ties are ranked.
type RankMethod string

const (
	RankAverage RankMethod = "average"
	RankMin     RankMethod = "min"
	RankMax     RankMethod = "max"
	RankDense   RankMethod = "dense"
	RankOrdinal RankMethod = "ordinal"
)

// Valid reports a known method.
func (m RankMethod) Valid() bool {
	switch m {
	case RankAverage, RankMin, RankMax, RankDense, RankOrdinal:
		return true
	}
	return false
}

// Interpolation selects how quantiles between two values are computed.
type Interpolation string

const (
	InterpLinear   Interpolation = "linear"
	InterpNearest  Interpolation = "nearest"
	InterpLower    Interpolation = "lower"
	InterpHigher   Interpolation = "higher"
	InterpMidpoint Interpolation = "midpoint"
)

// Valid reports a known interpolation.
func (i Interpolation) Valid() bool {
	switch i {
	case InterpLinear, InterpNearest, InterpLower, InterpHigher, InterpMidpoint:
		return true
	}
	return false
}
