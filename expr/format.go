package expr

import (
	"fmt"
	"strings"
)

// Format renders n in a compact, deterministic form such as
// `(col("a") + col("b")).sum().over([col("g")])`. It is used for explain
// output, error messages and fingerprints.
func Format(n Node) string {
	var b strings.Builder
	writeNode(&b, n)
	return b.String()
}

func writeNode(b *strings.Builder, n Node) {
	switch x := n.(type) {
	case nil:
		b.WriteString("<nil>")
	case *Column:
		fmt.Fprintf(b, "col(%q)", x.Name)
	case *Literal:
		b.WriteString("lit(")
		b.WriteString(FormatValue(x.Value))
		if !x.Type.IsUnknown() {
			b.WriteString(", ")
			b.WriteString(x.Type.String())
		}
		b.WriteString(")")
	case *Unary:
		if x.Op == OpNeg || x.Op == OpNot {
			sym := "-"
			if x.Op == OpNot {
				sym = "~"
			}
			b.WriteString(sym)
			writeNode(b, x.Child)
			return
		}
		writeNode(b, x.Child)
		b.WriteString(".")
		b.WriteString(x.Op.String())
		b.WriteString("(")
		b.WriteString(unaryArgs(x))
		b.WriteString(")")
	case *Binary:
		if sym := x.Op.Symbol(); sym != "" {
			b.WriteString("(")
			writeNode(b, x.Left)
			b.WriteString(" " + sym + " ")
			writeNode(b, x.Right)
			b.WriteString(")")
			return
		}
		writeNode(b, x.Left)
		b.WriteString("." + x.Op.String() + "(")
		writeNode(b, x.Right)
		b.WriteString(")")
	case *Aggregation:
		writeNode(b, x.Child)
		b.WriteString("." + x.Op.String() + "(")
		switch x.Op {
		case AggQuantile:
			fmt.Fprintf(b, "%g, %s", x.Options.Quantile, x.Options.Interpolation)
		case AggStd, AggVar:
			fmt.Fprintf(b, "ddof=%d", x.Options.Ddof)
		}
		b.WriteString(")")
	case *Window:
		writeNode(b, x.Child)
		if x.Op != WindowOver {
			b.WriteString("." + x.Op.String() + "(")
			switch x.Op {
			case WindowRank:
				fmt.Fprintf(b, "%s, descending=%t", x.Options.RankMethod, x.Options.Descending)
			case WindowShift, WindowDiff:
				fmt.Fprintf(b, "%d", x.Options.Offset)
			}
			b.WriteString(")")
		}
		if f := x.Frame; f != nil {
			fmt.Fprintf(b, ".rolling(%d, %d, min_periods=%d)", f.Preceding, f.Following, f.MinPeriods)
		}
		if len(x.PartitionBy) > 0 || len(x.OrderBy) > 0 || x.Op == WindowOver {
			b.WriteString(".over([")
			for i, k := range x.PartitionBy {
				if i > 0 {
					b.WriteString(", ")
				}
				writeNode(b, k)
			}
			b.WriteString("]")
			if len(x.OrderBy) > 0 {
				b.WriteString(", order_by=[")
				for i, k := range x.OrderBy {
					if i > 0 {
						b.WriteString(", ")
					}
					writeSortKey(b, k)
				}
				b.WriteString("]")
			}
			b.WriteString(")")
		}
	case *Cast:
		writeNode(b, x.Child)
		b.WriteString(".cast(" + x.To.String() + ")")
	case *Alias:
		writeNode(b, x.Child)
		fmt.Fprintf(b, ".alias(%q)", x.Name)
	}
}

func unaryArgs(x *Unary) string {
	switch x.Op {
	case OpRound:
		return fmt.Sprint(x.Options.Decimals)
	case OpStrStartsWith, OpStrEndsWith, OpStrContains, OpStrStripChars:
		return fmt.Sprintf("%q", x.Options.Pattern)
	case OpStrReplace, OpStrReplaceAll:
		return fmt.Sprintf("%q, %q", x.Options.Pattern, x.Options.Replacement)
	case OpIsIn:
		parts := make([]string, len(x.Options.Values))
		for i, v := range x.Options.Values {
			parts[i] = FormatValue(v)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case OpClip:
		return formatBound(x.Options.Lower) + ", " + formatBound(x.Options.Upper)
	}
	return ""
}

func formatBound(v Value) string {
	if v == nil {
		return "null"
	}
	return FormatValue(v)
}

func writeSortKey(b *strings.Builder, k SortKey) {
	writeNode(b, k.Expr)
	if k.Descending {
		b.WriteString(" desc")
	}
	if k.NullsLast {
		b.WriteString(" nulls_last")
	}
}

// FormatSortKey renders a sort key.
func FormatSortKey(k SortKey) string {
	var b strings.Builder
	writeSortKey(&b, k)
	return b.String()
}
