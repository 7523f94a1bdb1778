package dtype

import (
	"strings"

	"github.com/roach88/dfbridge/dferr"
)

// Schema is an ordered list of uniquely named fields. Schema values are
// immutable; the With/Select/Rename/Drop methods return new schemas.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema, rejecting empty and duplicate names.
func NewSchema(fields ...Field) (Schema, error) {
	s := Schema{fields: make([]Field, 0, len(fields)), index: make(map[string]int, len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			return Schema{}, dferr.Malformed("schema field name must not be empty")
		}
		if _, dup := s.index[f.Name]; dup {
			return Schema{}, dferr.Malformed("duplicate column name %q", f.Name)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is NewSchema for statically known schemas; it panics on error.
func MustSchema(fields ...Field) Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.fields) }

// Field returns the i-th field.
func (s Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the fields in order.
func (s Schema) Fields() []Field { return append([]Field(nil), s.fields...) }

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Lookup returns the dtype of name.
func (s Schema) Lookup(name string) (Dtype, bool) {
	i, ok := s.index[name]
	if !ok {
		return Unknown, false
	}
	return s.fields[i].Dtype, true
}

// Has reports whether name is a column.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// With replaces the dtype of an existing column in place, or appends a new
// column at the end.
func (s Schema) With(name string, d Dtype) Schema {
	fields := s.Fields()
	if i := s.Index(name); i >= 0 {
		fields[i].Dtype = d
	} else {
		fields = append(fields, Field{Name: name, Dtype: d})
	}
	return MustSchema(fields...)
}

// Select projects the named columns in the given order.
func (s Schema) Select(names ...string) (Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		d, ok := s.Lookup(n)
		if !ok {
			return Schema{}, dferr.Malformed("column %q not found", n)
		}
		fields = append(fields, Field{Name: n, Dtype: d})
	}
	return NewSchema(fields...)
}

// Drop removes the named columns.
func (s Schema) Drop(names ...string) (Schema, error) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if !s.Has(n) {
			return Schema{}, dferr.Malformed("column %q not found", n)
		}
		drop[n] = true
	}
	var fields []Field
	for _, f := range s.fields {
		if !drop[f.Name] {
			fields = append(fields, f)
		}
	}
	return NewSchema(fields...)
}

// Rename applies old→new renames, keeping positions.
func (s Schema) Rename(mapping map[string]string) (Schema, error) {
	fields := s.Fields()
	for old := range mapping {
		if !s.Has(old) {
			return Schema{}, dferr.Malformed("column %q not found", old)
		}
	}
	for i := range fields {
		if n, ok := mapping[fields[i].Name]; ok {
			fields[i].Name = n
		}
	}
	return NewSchema(fields...)
}

// Equal reports whether both schemas have the same names and dtypes in order.
func (s Schema) Equal(o Schema) bool {
	if len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i].Name != o.fields[i].Name || !s.fields[i].Dtype.Equal(o.fields[i].Dtype) {
			return false
		}
	}
	return true
}

// String renders the schema as "{a: Int64, b: String}".
func (s Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + ": " + f.Dtype.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
