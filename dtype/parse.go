package dtype

import (
	"strconv"
	"strings"

	"github.com/roach88/dfbridge/dferr"
)

var simpleNames = map[string]Dtype{
	"unknown":     Unknown,
	"null":        Unknown,
	"int8":        Int8,
	"int16":       Int16,
	"int32":       Int32,
	"int64":       Int64,
	"int":         Int64,
	"uint8":       UInt8,
	"uint16":      UInt16,
	"uint32":      UInt32,
	"uint64":      UInt64,
	"float32":     Float32,
	"float64":     Float64,
	"float":       Float64,
	"bool":        Boolean,
	"boolean":     Boolean,
	"string":      String,
	"str":         String,
	"utf8":        String,
	"categorical": Categorical,
	"date":        Date,
}

// Parse reads a dtype from its textual form. It accepts both the String
// rendering ("Datetime(us, UTC)", "Decimal(10, 2)", "List(Int64)") and the
// short lowercase spellings used in program files ("datetime[us]",
// "decimal(10,2)", "list[int64]"). Struct dtypes have no textual form.
func Parse(s string) (Dtype, error) {
	s = strings.TrimSpace(s)
	name, args, hasArgs, err := splitArgs(s)
	if err != nil {
		return Unknown, err
	}
	name = strings.ToLower(name)

	if !hasArgs {
		if d, ok := simpleNames[name]; ok {
			return d, nil
		}
		switch name {
		case "datetime":
			return Datetime(Microsecond, ""), nil
		case "duration":
			return Duration(Microsecond), nil
		case "decimal":
			return Decimal(MaxDecimalPrecision, 0), nil
		}
		return Unknown, dferr.Coercion("unknown dtype %q", s)
	}

	switch name {
	case "datetime":
		parts := splitTop(args)
		unit := TimeUnit(strings.TrimSpace(parts[0]))
		if !unit.Valid() || len(parts) > 2 {
			return Unknown, dferr.Coercion("invalid datetime dtype %q", s)
		}
		tz := ""
		if len(parts) == 2 {
			tz = strings.TrimSpace(parts[1])
		}
		return Datetime(unit, tz), nil
	case "duration":
		unit := TimeUnit(strings.TrimSpace(args))
		if !unit.Valid() {
			return Unknown, dferr.Coercion("invalid duration dtype %q", s)
		}
		return Duration(unit), nil
	case "decimal":
		parts := splitTop(args)
		if len(parts) != 2 {
			return Unknown, dferr.Coercion("decimal dtype needs precision and scale: %q", s)
		}
		p, perr := strconv.Atoi(strings.TrimSpace(parts[0]))
		sc, serr := strconv.Atoi(strings.TrimSpace(parts[1]))
		if perr != nil || serr != nil || p <= 0 || p > MaxDecimalPrecision || sc < 0 || sc > p {
			return Unknown, dferr.Coercion("invalid decimal dtype %q", s)
		}
		return Decimal(p, sc), nil
	case "list":
		inner, err := Parse(args)
		if err != nil {
			return Unknown, err
		}
		return List(inner), nil
	}
	return Unknown, dferr.Coercion("unknown dtype %q", s)
}

// splitArgs separates "name(args)" or "name[args]".
func splitArgs(s string) (name, args string, ok bool, err error) {
	open := strings.IndexAny(s, "([")
	if open < 0 {
		return s, "", false, nil
	}
	closer := byte(')')
	if s[open] == '[' {
		closer = ']'
	}
	if s[len(s)-1] != closer {
		return "", "", false, dferr.Coercion("unbalanced dtype %q", s)
	}
	return strings.TrimSpace(s[:open]), s[open+1 : len(s)-1], true, nil
}

// splitTop splits on commas that are not nested in brackets.
func splitTop(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
