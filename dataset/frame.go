// Package dataset holds the tabular data model used from CSV loading to
// inference output: a Frame of named, typed columns with explicit missing
// values, plus the cleaning strategies and the stratified split applied
// before training.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

var nan = math.NaN()

// Kind is the declared dtype of a column.
type Kind int

const (
	// Numeric columns store float64 values; NaN marks a missing value.
	Numeric Kind = iota
	// Categorical columns store strings with a validity mask.
	Categorical
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

// Column is a single named column. Exactly one of Floats or Strings is used,
// depending on Kind. Valid is only meaningful for categorical columns.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
	Valid   []bool
}

// NewNumeric creates a numeric column. NaN values are missing.
func NewNumeric(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Floats: values}
}

// NewCategorical creates a categorical column. A nil valid slice marks every
// value as present.
func NewCategorical(name string, values []string, valid []bool) *Column {
	if valid == nil {
		valid = make([]bool, len(values))
		for i := range valid {
			valid[i] = true
		}
	}
	return &Column{Name: name, Kind: Categorical, Strings: values, Valid: valid}
}

// NullNumeric returns an all-missing numeric column of length n.
func NullNumeric(name string, n int) *Column {
	values := make([]float64, n)
	for i := range values {
		values[i] = nan
	}
	return NewNumeric(name, values)
}

// Len returns the number of rows.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.Floats)
	}
	return len(c.Strings)
}

// IsNull reports whether row i is missing.
func (c *Column) IsNull(i int) bool {
	if c.Kind == Numeric {
		return math.IsNaN(c.Floats[i])
	}
	return !c.Valid[i]
}

// NullCount returns the number of missing rows.
func (c *Column) NullCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			n++
		}
	}
	return n
}

// NUnique counts distinct values. Missing values count as one extra value
// when present, matching pandas' nunique(dropna=False).
func (c *Column) NUnique() int {
	seen := make(map[string]struct{})
	hasNull := false
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			hasNull = true
			continue
		}
		seen[c.key(i)] = struct{}{}
	}
	if hasNull {
		return len(seen) + 1
	}
	return len(seen)
}

func (c *Column) key(i int) string {
	if c.Kind == Numeric {
		return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
	}
	return c.Strings[i]
}

// StringAt formats row i for CSV output and labels. Missing values are "".
func (c *Column) StringAt(i int) string {
	if c.IsNull(i) {
		return ""
	}
	if c.Kind == Numeric {
		return strconv.FormatFloat(c.Floats[i], 'f', -1, 64)
	}
	return c.Strings[i]
}

// Labels returns the column as class labels. Numeric values use %g so that
// 1.0 and 1 map to the same label "1".
func (c *Column) Labels() []string {
	out := make([]string, c.Len())
	for i := range out {
		if c.Kind == Numeric {
			out[i] = fmt.Sprintf("%g", c.Floats[i])
		} else {
			out[i] = c.Strings[i]
		}
	}
	return out
}

// Take returns a new column holding the given rows in order.
func (c *Column) Take(rows []int) *Column {
	if c.Kind == Numeric {
		values := make([]float64, len(rows))
		for j, i := range rows {
			values[j] = c.Floats[i]
		}
		return NewNumeric(c.Name, values)
	}
	values := make([]string, len(rows))
	valid := make([]bool, len(rows))
	for j, i := range rows {
		values[j] = c.Strings[i]
		valid[j] = c.Valid[i]
	}
	return NewCategorical(c.Name, values, valid)
}

// Rename returns a shallow copy of the column with a new name.
func (c *Column) Rename(name string) *Column {
	cp := *c
	cp.Name = name
	return &cp
}

// Frame is an ordered set of equally long columns. Operations return new
// frames; column data is never modified in place.
type Frame struct {
	cols  []*Column
	index map[string]int
	nrows int
}

// NewFrame validates column lengths and name uniqueness.
func NewFrame(cols ...*Column) (*Frame, error) {
	f := &Frame{cols: cols, index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := f.index[c.Name]; dup {
			return nil, scierrors.NewSchemaError("NewFrame", "duplicate column name", c.Name)
		}
		if i == 0 {
			f.nrows = c.Len()
		} else if c.Len() != f.nrows {
			return nil, scierrors.NewDimensionError("NewFrame", f.nrows, c.Len(), 0)
		}
		f.index[c.Name] = i
	}
	return f, nil
}

// MustFrame is NewFrame for literals in tests and examples.
func MustFrame(cols ...*Column) *Frame {
	f, err := NewFrame(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Frame) NRows() int { return f.nrows }
func (f *Frame) NCols() int { return len(f.cols) }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. The slice is a copy.
func (f *Frame) Columns() []*Column {
	return append([]*Column(nil), f.cols...)
}

// Column looks up a column by name.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// Has reports whether the frame has a column called name.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Drop removes the named columns. Names that do not exist are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := make([]*Column, 0, len(f.cols))
	for _, c := range f.cols {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	return f.rebuild(kept)
}

// Select returns the named columns in the given order. Missing names are a
// SchemaError listing every absent column.
func (f *Frame) Select(names ...string) (*Frame, error) {
	var missing []string
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c, ok := f.Column(n)
		if !ok {
			missing = append(missing, n)
			continue
		}
		cols = append(cols, c)
	}
	if len(missing) > 0 {
		return nil, scierrors.NewSchemaError("Select", "columns not found", missing...)
	}
	return f.rebuild(cols), nil
}

// Reindex returns exactly the named columns in order. Absent columns become
// all-missing numeric columns; columns not named are discarded.
func (f *Frame) Reindex(names []string) *Frame {
	cols := make([]*Column, len(names))
	for i, n := range names {
		if c, ok := f.Column(n); ok {
			cols[i] = c
		} else {
			cols[i] = NullNumeric(n, f.nrows)
		}
	}
	return f.rebuild(cols)
}

// Take returns the given rows in order.
func (f *Frame) Take(rows []int) *Frame {
	cols := make([]*Column, len(f.cols))
	for i, c := range f.cols {
		cols[i] = c.Take(rows)
	}
	out := f.rebuild(cols)
	out.nrows = len(rows)
	return out
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	rows := make([]int, 0, f.nrows)
	for i := 0; i < f.nrows; i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return f.Take(rows)
}

// WithColumn replaces the column of the same name or appends c.
func (f *Frame) WithColumn(c *Column) (*Frame, error) {
	if f.NCols() > 0 && c.Len() != f.nrows {
		return nil, scierrors.NewDimensionError("WithColumn", f.nrows, c.Len(), 0)
	}
	cols := f.Columns()
	if i, ok := f.index[c.Name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	out := f.rebuild(cols)
	out.nrows = c.Len()
	return out, nil
}

// RowHasNull reports whether any column is missing at row i.
func (f *Frame) RowHasNull(i int) bool {
	for _, c := range f.cols {
		if c.IsNull(i) {
			return true
		}
	}
	return false
}

// RowsWithNull returns the indices of rows with at least one missing value.
func (f *Frame) RowsWithNull() []int {
	var idx []int
	for i := 0; i < f.nrows; i++ {
		if f.RowHasNull(i) {
			idx = append(idx, i)
		}
	}
	return idx
}

// NumericNames and CategoricalNames partition the columns by Kind, keeping
// frame order.
func (f *Frame) NumericNames() []string     { return f.namesOf(Numeric) }
func (f *Frame) CategoricalNames() []string { return f.namesOf(Categorical) }

func (f *Frame) namesOf(kind Kind) []string {
	var names []string
	for _, c := range f.cols {
		if c.Kind == kind {
			names = append(names, c.Name)
		}
	}
	return names
}

// UniqueLabels returns the sorted distinct labels.
func UniqueLabels(labels []string) []string {
	seen := make(map[string]struct{}, 8)
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (f *Frame) rebuild(cols []*Column) *Frame {
	out := &Frame{cols: cols, index: make(map[string]int, len(cols)), nrows: f.nrows}
	for i, c := range cols {
		out.index[c.Name] = i
	}
	return out
}
