// Package program loads and runs dataframe programs written in YAML.
//
// A program names its input columns, an optional set of extra tables for
// joins, and a list of steps. The CLI runs programs on one backend, prints
// their lowered plans, and runs them on several backends to check that the
// results are equivalent.
//
//	name: revenue-by-region
//	description: total and mean revenue per region
//	input:
//	  - {name: region, dtype: string, values: [north, south, north]}
//	  - {name: revenue, dtype: float64, values: [10.5, 3.0, null]}
//	steps:
//	  - filter: {is_not_null: revenue}
//	  - group_by:
//	      keys: [region]
//	      aggs: [{sum: revenue, as: total}, {mean: revenue, as: avg}]
//	  - sort: [region]
package program

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dtype"
)

// Program is a parsed program file.
type Program struct {
	// Name identifies the program in output and golden files.
	Name string `yaml:"name"`

	// Description explains what the program computes.
	Description string `yaml:"description,omitempty"`

	// Input holds the columns of the source frame.
	Input []ColumnSpec `yaml:"input"`

	// Tables holds extra frames referenced by join steps.
	Tables map[string][]ColumnSpec `yaml:"tables,omitempty"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Expect is the expected result. When set, run fails on a mismatch.
	Expect []ColumnSpec `yaml:"expect,omitempty"`

	// Unordered compares results as multisets of rows. Set it when the
	// program does not fix the row order.
	Unordered bool `yaml:"unordered,omitempty"`

	input  []column.Column
	tables map[string][]column.Column
	expect []column.Column
}

// ColumnSpec is a column literal.
type ColumnSpec struct {
	Name string `yaml:"name"`

	// Dtype accepts the spellings of dtype.Parse.
	Dtype string `yaml:"dtype"`

	// Values may contain null. Temporal values are strings: dates as
	// 2006-01-02, datetimes as RFC 3339, durations as "1h30m".
	Values []any `yaml:"values"`
}

// Step holds exactly one operation.
type Step struct {
	Select      ExprList          `yaml:"select,omitempty"`
	WithColumns ExprList          `yaml:"with_columns,omitempty"`
	Filter      ExprList          `yaml:"filter,omitempty"`
	Sort        []SortKey         `yaml:"sort,omitempty"`
	GroupBy     *GroupBy          `yaml:"group_by,omitempty"`
	Join        *Join             `yaml:"join,omitempty"`
	Rename      map[string]string `yaml:"rename,omitempty"`
	Drop        []string          `yaml:"drop,omitempty"`
	Head        *int              `yaml:"head,omitempty"`
	Tail        *int              `yaml:"tail,omitempty"`
	Slice       *Slice            `yaml:"slice,omitempty"`
	Unique      *Unique           `yaml:"unique,omitempty"`
	DropNulls   *DropNulls        `yaml:"drop_nulls,omitempty"`
}

// GroupBy is a group_by step.
type GroupBy struct {
	Keys ExprList `yaml:"keys"`
	Aggs ExprList `yaml:"aggs"`
}

// Join is a join step against a table of the program.
type Join struct {
	// Right names an entry of Program.Tables.
	Right   string   `yaml:"right"`
	How     string   `yaml:"how"`
	On      []string `yaml:"on,omitempty"`
	LeftOn  []string `yaml:"left_on,omitempty"`
	RightOn []string `yaml:"right_on,omitempty"`
	Suffix  string   `yaml:"suffix,omitempty"`
}

// Slice is a slice step. A null length keeps all remaining rows.
type Slice struct {
	Offset int  `yaml:"offset"`
	Length *int `yaml:"length"`
}

// Unique is a unique step.
type Unique struct {
	Subset []string `yaml:"subset,omitempty"`
	Keep   string   `yaml:"keep,omitempty"`
}

// DropNulls is a drop_nulls step.
type DropNulls struct {
	Subset []string `yaml:"subset,omitempty"`
}

// Kind names the operation of the step, or "" when the step holds none
// or several.
func (s *Step) Kind() string {
	set := []struct {
		name string
		ok   bool
	}{
		{"select", s.Select != nil},
		{"with_columns", s.WithColumns != nil},
		{"filter", s.Filter != nil},
		{"sort", s.Sort != nil},
		{"group_by", s.GroupBy != nil},
		{"join", s.Join != nil},
		{"rename", s.Rename != nil},
		{"drop", s.Drop != nil},
		{"head", s.Head != nil},
		{"tail", s.Tail != nil},
		{"slice", s.Slice != nil},
		{"unique", s.Unique != nil},
		{"drop_nulls", s.DropNulls != nil},
	}
	kind := ""
	for _, op := range set {
		if !op.ok {
			continue
		}
		if kind != "" {
			return ""
		}
		kind = op.name
	}
	return kind
}

// Load reads and parses a program file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or fails validation.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a program.
func Parse(data []byte) (*Program, error) {
	var p Program
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	return &p, nil
}

// Columns returns the input columns.
func (p *Program) Columns() []column.Column { return p.input }

// Table returns the columns of a join table.
func (p *Program) Table(name string) ([]column.Column, bool) {
	cols, ok := p.tables[name]
	return cols, ok
}

// Expected returns the expected result, or nil.
func (p *Program) Expected() []column.Column { return p.expect }

func (p *Program) validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(p.Input) == 0 {
		errs = append(errs, errors.New("input must have at least one column"))
	}
	if len(p.Steps) == 0 {
		errs = append(errs, errors.New("steps list is required and must be non-empty"))
	}

	var err error
	if p.input, err = buildColumns("input", p.Input); err != nil {
		errs = append(errs, err)
	}
	p.tables = make(map[string][]column.Column, len(p.Tables))
	for name, specs := range p.Tables {
		cols, err := buildColumns("tables."+name, specs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.tables[name] = cols
	}
	if len(p.Expect) > 0 {
		if p.expect, err = buildColumns("expect", p.Expect); err != nil {
			errs = append(errs, err)
		}
	}

	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Kind() == "" {
			errs = append(errs, fmt.Errorf("steps[%d]: a step holds exactly one operation", i))
			continue
		}
		if s.Join != nil {
			if _, ok := p.Tables[s.Join.Right]; !ok {
				errs = append(errs, fmt.Errorf("steps[%d].join: unknown table %q", i, s.Join.Right))
			}
		}
		if s.GroupBy != nil && len(s.GroupBy.Aggs) == 0 {
			errs = append(errs, fmt.Errorf("steps[%d].group_by: aggs is required", i))
		}
	}
	return errors.Join(errs...)
}

func buildColumns(field string, specs []ColumnSpec) ([]column.Column, error) {
	cols := make([]column.Column, 0, len(specs))
	for i, spec := range specs {
		c, err := spec.column()
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		cols = append(cols, c)
	}
	if err := column.Validate(cols); err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return cols, nil
}

func (c ColumnSpec) column() (column.Column, error) {
	d, err := dtype.Parse(c.Dtype)
	if err != nil {
		return column.Column{}, err
	}
	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		if values[i], err = coerce(d, v); err != nil {
			return column.Column{}, fmt.Errorf("column %q row %d: %w", c.Name, i, err)
		}
	}
	return column.New(c.Name, d, values)
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// coerce converts the YAML spelling of temporal values; everything else
// is left to column.Normalize.
func coerce(d dtype.Dtype, v any) (any, error) {
	switch x := v.(type) {
	case string:
		switch d.Kind() {
		case dtype.KindDate, dtype.KindDatetime:
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, x); err == nil {
					return ts, nil
				}
			}
			return nil, fmt.Errorf("%q is not a date or time", x)
		case dtype.KindDuration:
			dur, err := time.ParseDuration(x)
			if err != nil {
				return nil, err
			}
			return dur, nil
		}
	case []any:
		if d.Kind() != dtype.KindList {
			break
		}
		out := make([]any, len(x))
		for i, e := range x {
			ce, err := coerce(d.Inner(), e)
			if err != nil {
				return nil, err
			}
			out[i] = ce
		}
		return out, nil
	}
	return v, nil
}
