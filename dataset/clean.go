package dataset

import (
	"strconv"
	"strings"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

// CleaningStrategy names a cleaning recipe. The two base strategies are
// independent; the composite runs both at their respective stages.
type CleaningStrategy string

const (
	// CleanBasic drops all-missing columns, then every row with a missing value.
	CleanBasic CleaningStrategy = "basic"
	// CleanColumnFilter drops sparse and near-constant columns, then coerces
	// mostly-numeric text columns to numbers.
	CleanColumnFilter CleaningStrategy = "column_filter"
	// CleanBasicColumnFilter runs basic at the Clean stage and column_filter
	// after configured columns and unlabeled rows are removed.
	CleanBasicColumnFilter CleaningStrategy = "basic+column_filter"
)

// Strategies lists the valid strategy names.
func Strategies() []string {
	return []string{string(CleanBasic), string(CleanColumnFilter), string(CleanBasicColumnFilter)}
}

// CleaningOptions carries the strategy and its thresholds.
type CleaningOptions struct {
	Strategy CleaningStrategy
	// MaxMissing is the largest tolerated share of missing values per column.
	MaxMissing float64
	// MinUniqueRatio is the smallest tolerated distinct/rows ratio.
	MinUniqueRatio float64
	// MinNumericRatio is the share of parseable values needed to coerce text to numbers.
	MinNumericRatio float64
}

// DefaultCleaningOptions returns basic+column_filter with 0.8 / 0.0005 / 0.95.
func DefaultCleaningOptions() CleaningOptions {
	return CleaningOptions{
		Strategy:        CleanBasicColumnFilter,
		MaxMissing:      0.8,
		MinUniqueRatio:  0.0005,
		MinNumericRatio: 0.95,
	}
}

// Validate checks the strategy name and threshold ranges.
func (o CleaningOptions) Validate() error {
	switch o.Strategy {
	case CleanBasic, CleanColumnFilter, CleanBasicColumnFilter:
	default:
		return scierrors.NewValidationError("cleaning.strategy",
			"expected one of "+strings.Join(Strategies(), ", "), string(o.Strategy))
	}
	for name, v := range map[string]float64{
		"cleaning.max_missing":       o.MaxMissing,
		"cleaning.min_unique_ratio":  o.MinUniqueRatio,
		"cleaning.min_numeric_ratio": o.MinNumericRatio,
	} {
		if v < 0 || v > 1 {
			return scierrors.NewValidationError(name, "must be within [0, 1]", v)
		}
	}
	return nil
}

func (o CleaningOptions) basic() bool {
	return o.Strategy == CleanBasic || o.Strategy == CleanBasicColumnFilter
}

func (o CleaningOptions) columnFilter() bool {
	return o.Strategy == CleanColumnFilter || o.Strategy == CleanBasicColumnFilter
}

// CleanStage applies the Clean stage of the chosen strategy.
func (o CleaningOptions) CleanStage(f *Frame) *Frame {
	if o.basic() {
		return BasicClean(f)
	}
	return f
}

// ColumnFilterStage removes the configured drop columns and rows with a
// missing target, then applies the column filter when the strategy asks for
// it. The target column is never dropped or coerced. It returns the names of
// the columns removed by the filter.
func (o CleaningOptions) ColumnFilterStage(f *Frame, target string, dropCols []string) (*Frame, []string) {
	f = f.Drop(dropCols...)
	if tc, ok := f.Column(target); ok {
		f = f.Filter(func(i int) bool { return !tc.IsNull(i) })
	}
	if !o.columnFilter() {
		return f, nil
	}
	f, dropped := DropBadColumns(f, o.MaxMissing, o.MinUniqueRatio, target)
	f = CoerceNumeric(f, o.MinNumericRatio, target)
	return f, dropped
}

// BasicClean drops columns that are entirely missing, then rows with any
// missing value.
func BasicClean(f *Frame) *Frame {
	var allNull []string
	for _, c := range f.cols {
		if c.NullCount() == c.Len() {
			allNull = append(allNull, c.Name)
		}
	}
	f = f.Drop(allNull...)
	return f.Filter(func(i int) bool { return !f.RowHasNull(i) })
}

// DropBadColumns drops columns whose missing share exceeds maxMissing, then
// columns whose NUnique/rows falls below minUniqueRatio. Protected columns
// are kept regardless.
func DropBadColumns(f *Frame, maxMissing, minUniqueRatio float64, protect ...string) (*Frame, []string) {
	keep := make(map[string]bool, len(protect))
	for _, p := range protect {
		keep[p] = true
	}
	n := f.NRows()
	denom := float64(n)
	if denom < 1 {
		denom = 1
	}

	var dropped []string
	for _, c := range f.cols {
		if keep[c.Name] || n == 0 {
			continue
		}
		if float64(c.NullCount())/float64(n) > maxMissing {
			dropped = append(dropped, c.Name)
		}
	}
	f = f.Drop(dropped...)

	var constant []string
	for _, c := range f.cols {
		if keep[c.Name] {
			continue
		}
		if float64(c.NUnique())/denom < minUniqueRatio {
			constant = append(constant, c.Name)
		}
	}
	return f.Drop(constant...), append(dropped, constant...)
}

// ParseNumber parses a text cell: thousands separators are removed and
// surrounding whitespace ignored. CoerceNumeric and the feature plan both
// parse with it, so a column coerced at training time reads back the same
// way from the raw table.
func ParseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), 64)
	return v, err == nil
}

// CoerceNumeric converts categorical columns to numeric when at least
// minRatio of their non-missing values parse as numbers after removing
// thousands separators and surrounding whitespace. Values that do not
// parse become missing.
func CoerceNumeric(f *Frame, minRatio float64, protect ...string) *Frame {
	skip := make(map[string]bool, len(protect))
	for _, p := range protect {
		skip[p] = true
	}
	cols := f.Columns()
	for j, c := range cols {
		if c.Kind != Categorical || skip[c.Name] {
			continue
		}
		values := make([]float64, c.Len())
		present, parsed := 0, 0
		for i := range values {
			values[i] = nan
			if !c.Valid[i] {
				continue
			}
			present++
			v, ok := ParseNumber(c.Strings[i])
			if !ok {
				continue
			}
			values[i] = v
			parsed++
		}
		if present == 0 {
			continue
		}
		if float64(parsed)/float64(present) >= minRatio {
			cols[j] = NewNumeric(c.Name, values)
		}
	}
	return f.rebuild(cols)
}
