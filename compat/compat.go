// Package compat is the version compatibility shim.
//
// A static table, embedded from table.cue and validated against the CUE
// schema in the same file, maps (backend tag, feature) to a lowering
// strategy for the installed backend version. The table is loaded once and
// is immutable afterwards; adapters consult it once per feature per
// lowering and never branch on raw version strings themselves.
package compat

import (
	_ "embed"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/mod/semver"

	"github.com/roach88/dfbridge/dferr"
)

//go:embed table.cue
var tableSource []byte

// Strategy names how an adapter lowers a feature.
type Strategy string

const (
	StrategyNative                   Strategy = "native"
	StrategyUnsupported              Strategy = "unsupported"
	StrategyGroupedJoin              Strategy = "grouped-join"
	StrategyNullFlagKey              Strategy = "null-flag-key"
	StrategyLeftUnionAnti            Strategy = "left-union-anti"
	StrategySortInterpolate          Strategy = "sort-interpolate"
	StrategyPartitionSortInterpolate Strategy = "partition-sort-interpolate"
	StrategyOrderedArrayIndex        Strategy = "ordered-array-index"
	StrategyStablePermutation        Strategy = "stable-permutation"
	StrategyHashJoin                 Strategy = "hash-join"
	StrategyHashPartition            Strategy = "hash-partition"
	StrategyPartitionScatter         Strategy = "partition-scatter"
	StrategyMomentExpansion          Strategy = "moment-expansion"
	StrategyRegisteredFunction       Strategy = "registered-function"
	StrategyRegisteredAggregate      Strategy = "registered-aggregate"
	StrategyNativeNullGuard          Strategy = "native-null-guard"
	StrategyElementWise              Strategy = "element-wise"
	StrategyTempTableRowid           Strategy = "temp-table-rowid"
)

// Features consulted by the adapters.
const (
	FeatureCompare          = "compare"
	FeatureArithmetic       = "arithmetic"
	FeatureFilter           = "filter"
	FeatureSort             = "sort"
	FeatureGroupBy          = "group_by"
	FeatureJoin             = "join"
	FeatureFullJoin         = "join.full"
	FeatureQuantile         = "aggregate.quantile"
	FeatureMedian           = "aggregate.median"
	FeatureStd              = "aggregate.std"
	FeatureWindowFunctions  = "window.functions"
	FeatureWindowRank       = "window.rank"
	FeatureWindowCumulative = "window.cumulative"
	FeatureWindowCumProd    = "window.cum_prod"
	FeatureWindowRolling    = "window.rolling"
	FeatureWindowQuantile   = "window.quantile"
	FeatureNullsOrder       = "sort.nulls_order"
	FeatureRowKey           = "row_key"
	FeatureTemporal         = "temporal"
	FeatureIsNaN            = "is_nan"
	FeaturePow              = "math.pow"
	FeatureStringCase       = "string.case"
)

// Range selects Strategy for versions in [Min, Max). Empty bounds are open.
type Range struct {
	Min      string
	Max      string
	Strategy Strategy
}

// Rule is the compatibility record of one (backend, feature) pair.
type Rule struct {
	Exact   map[string]Strategy
	Ranges  []Range
	Default Strategy
}

// Table is the loaded, immutable compatibility table.
type Table struct {
	rules map[string]map[string]Rule
}

// LoadError reports an invalid table with its CUE source position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var loadDefault = sync.OnceValues(func() (*Table, error) {
	return Parse("table.cue", tableSource)
})

// Default returns the embedded table, loading it on first use.
func Default() (*Table, error) {
	return loadDefault()
}

type rangeDoc struct {
	Min      string `json:"min"`
	Max      string `json:"max"`
	Strategy string `json:"strategy"`
}

type ruleDoc struct {
	Exact   map[string]string `json:"exact"`
	Ranges  []rangeDoc        `json:"ranges"`
	Default string            `json:"default"`
}

// Parse compiles and validates a compatibility table written in CUE. The
// source must declare the schema definitions it uses; tests pass small
// tables that embed the schema from table.cue.
func Parse(filename string, src []byte) (*Table, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, &LoadError{Field: "rules", Message: "rules are required", Pos: v.Pos()}
	}

	t := &Table{rules: map[string]map[string]Rule{}}
	backends, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for backends.Next() {
		backend := backends.Label()
		features, err := backends.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		t.rules[backend] = map[string]Rule{}
		for features.Next() {
			feature := features.Label()
			var doc ruleDoc
			if err := features.Value().Decode(&doc); err != nil {
				return nil, formatCUEError(err)
			}
			rule, err := ruleFromDoc(doc)
			if err != nil {
				return nil, &LoadError{
					Field:   fmt.Sprintf("rules.%s.%q", backend, feature),
					Message: err.Error(),
					Pos:     features.Value().Pos(),
				}
			}
			t.rules[backend][feature] = rule
		}
	}
	return t, nil
}

func ruleFromDoc(doc ruleDoc) (Rule, error) {
	r := Rule{Default: Strategy(doc.Default), Exact: map[string]Strategy{}}
	for v, s := range doc.Exact {
		c := Canonical(v)
		if c == "" {
			return Rule{}, fmt.Errorf("invalid exact version %q", v)
		}
		r.Exact[c] = Strategy(s)
	}
	for _, rd := range doc.Ranges {
		rg := Range{Strategy: Strategy(rd.Strategy)}
		if rd.Min != "" {
			if rg.Min = Canonical(rd.Min); rg.Min == "" {
				return Rule{}, fmt.Errorf("invalid min version %q", rd.Min)
			}
		}
		if rd.Max != "" {
			if rg.Max = Canonical(rd.Max); rg.Max == "" {
				return Rule{}, fmt.Errorf("invalid max version %q", rd.Max)
			}
		}
		if rg.Min != "" && rg.Max != "" && semver.Compare(rg.Min, rg.Max) >= 0 {
			return Rule{}, fmt.Errorf("empty range [%s, %s)", rd.Min, rd.Max)
		}
		r.Ranges = append(r.Ranges, rg)
	}
	return r, nil
}

var versionPrefix = regexp.MustCompile(`^v?([0-9]+(?:\.[0-9]+){0,2})`)

// Canonical normalizes a backend version string such as "3.45.1",
// "16.4 (Debian 16.4-1)" or "v18.0.0" to canonical semver ("v3.45.1").
// It returns "" when no numeric version prefix is present.
func Canonical(version string) string {
	m := versionPrefix.FindStringSubmatch(version)
	if m == nil {
		return ""
	}
	return semver.Canonical("v" + m[1])
}

// Resolve selects the strategy for feature on backend at the installed
// version: exact override, first matching range, default, unsupported.
// An unparsable version only matches the default. A backend absent from
// the table is an unrecognized backend.
func (t *Table) Resolve(backend, feature, version string) (Strategy, error) {
	features, ok := t.rules[backend]
	if !ok {
		return StrategyUnsupported, dferr.Unrecognized("no compatibility rules for backend %q", backend)
	}
	rule, ok := features[feature]
	if !ok {
		return StrategyUnsupported, nil
	}
	if v := Canonical(version); v != "" {
		if s, ok := rule.Exact[v]; ok {
			return s, nil
		}
		for _, r := range rule.Ranges {
			if r.Min != "" && semver.Compare(v, r.Min) < 0 {
				continue
			}
			if r.Max != "" && semver.Compare(v, r.Max) >= 0 {
				continue
			}
			return r.Strategy, nil
		}
	}
	if rule.Default != "" {
		return rule.Default, nil
	}
	return StrategyUnsupported, nil
}

// Rule returns the record of (backend, feature).
func (t *Table) Rule(backend, feature string) (Rule, bool) {
	r, ok := t.rules[backend][feature]
	return r, ok
}

// Backends returns the backend tags in the table, sorted.
func (t *Table) Backends() []string {
	out := make([]string, 0, len(t.rules))
	for b := range t.rules {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// Features returns the features recorded for backend, sorted.
func (t *Table) Features(backend string) []string {
	out := make([]string, 0, len(t.rules[backend]))
	for f := range t.rules[backend] {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &LoadError{Field: "cue", Message: first.Error()}
}
