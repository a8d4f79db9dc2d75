package preprocessing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/pkg/errors"
)

// Imputation strategies, named as in scikit-learn's SimpleImputer.
const (
	StrategyMedian       = "median"
	StrategyMean         = "mean"
	StrategyMostFrequent = "most_frequent"
	StrategyConstant     = "constant"
)

func validStrategy(s string, numeric bool) bool {
	switch s {
	case StrategyMostFrequent, StrategyConstant:
		return true
	case StrategyMedian, StrategyMean:
		return numeric
	}
	return false
}

// SimpleImputer fills NaN cells of a numeric matrix with a per-column
// statistic learned at fit time. Columns with no observed value are filled
// with FillValue.
type SimpleImputer struct {
	State      *model.StateManager
	Strategy   string
	FillValue  float64
	Statistics []float64
}

// NewSimpleImputer creates a numeric imputer.
func NewSimpleImputer(strategy string) *SimpleImputer {
	return &SimpleImputer{State: model.NewStateManager(), Strategy: strategy}
}

func (im *SimpleImputer) IsFitted() bool { return im.State.IsFitted() }

// Fit learns one fill value per column.
func (im *SimpleImputer) Fit(X mat.Matrix) error {
	if !validStrategy(im.Strategy, true) {
		return errors.NewValidationError("strategy", "expected median, mean, most_frequent or constant", im.Strategy)
	}
	r, c := X.Dims()
	im.Statistics = make([]float64, c)
	col := make([]float64, 0, r)
	for j := 0; j < c; j++ {
		col = col[:0]
		for i := 0; i < r; i++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				col = append(col, v)
			}
		}
		im.Statistics[j] = im.statistic(col)
	}
	if im.State == nil {
		im.State = model.NewStateManager()
	}
	im.State.MarkFitted(c, r, 0)
	return nil
}

func (im *SimpleImputer) statistic(observed []float64) float64 {
	if len(observed) == 0 || im.Strategy == StrategyConstant {
		return im.FillValue
	}
	switch im.Strategy {
	case StrategyMean:
		return stat.Mean(observed, nil)
	case StrategyMostFrequent:
		counts := make(map[float64]int, len(observed))
		best, bestCount := 0.0, 0
		for _, v := range observed {
			counts[v]++
		}
		for v, n := range counts {
			// ties resolve to the smallest value
			if n > bestCount || (n == bestCount && v < best) {
				best, bestCount = v, n
			}
		}
		return best
	default:
		sorted := append([]float64(nil), observed...)
		sort.Float64s(sorted)
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2]
		}
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}

// Transform replaces NaN cells with the learned statistics.
func (im *SimpleImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := im.State.RequireFitted("SimpleImputer", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if c != len(im.Statistics) {
		return nil, errors.NewDimensionError("SimpleImputer.Transform", len(im.Statistics), c, 1)
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := X.At(i, j)
			if math.IsNaN(v) {
				v = im.Statistics[j]
			}
			out.Set(i, j, v)
		}
	}
	return out, nil
}

// FitTransform fits then transforms X.
func (im *SimpleImputer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := im.Fit(X); err != nil {
		return nil, err
	}
	return im.Transform(X)
}

func (im *SimpleImputer) GetParams() map[string]interface{} {
	return map[string]interface{}{"strategy": im.Strategy, "fill_value": im.FillValue}
}

func (im *SimpleImputer) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "strategy":
			s, err := model.ParamString(k, v)
			if err != nil {
				return err
			}
			if !validStrategy(s, true) {
				return errors.NewValidationError(k, "expected median, mean, most_frequent or constant", v)
			}
			im.Strategy = s
		case "fill_value":
			f, err := model.ParamFloat(k, v)
			if err != nil {
				return err
			}
			im.FillValue = f
		default:
			return model.UnknownParam("SimpleImputer", k)
		}
	}
	return nil
}

// CategoricalImputer is the string-column counterpart of SimpleImputer,
// supporting most_frequent and constant.
type CategoricalImputer struct {
	State      *model.StateManager
	Strategy   string
	FillValue  string
	Statistics []string
}

// NewCategoricalImputer creates a categorical imputer. The constant fill
// value defaults to "missing_value".
func NewCategoricalImputer(strategy string) *CategoricalImputer {
	return &CategoricalImputer{State: model.NewStateManager(), Strategy: strategy, FillValue: "missing_value"}
}

func (im *CategoricalImputer) IsFitted() bool { return im.State.IsFitted() }

// Fit learns the fill value of each column. cols[j] holds the values of
// column j, valid[j] its validity mask.
func (im *CategoricalImputer) Fit(cols [][]string, valid [][]bool) error {
	if !validStrategy(im.Strategy, false) {
		return errors.NewValidationError("strategy", "expected most_frequent or constant", im.Strategy)
	}
	im.Statistics = make([]string, len(cols))
	rows := 0
	for j, values := range cols {
		rows = len(values)
		if im.Strategy == StrategyConstant {
			im.Statistics[j] = im.FillValue
			continue
		}
		counts := make(map[string]int)
		for i, v := range values {
			if valid[j][i] {
				counts[v]++
			}
		}
		best, bestCount := im.FillValue, 0
		for v, n := range counts {
			if n > bestCount || (n == bestCount && v < best) {
				best, bestCount = v, n
			}
		}
		im.Statistics[j] = best
	}
	if im.State == nil {
		im.State = model.NewStateManager()
	}
	im.State.MarkFitted(len(cols), rows, 0)
	return nil
}

// Transform returns filled copies of the columns.
func (im *CategoricalImputer) Transform(cols [][]string, valid [][]bool) ([][]string, error) {
	if err := im.State.RequireFitted("CategoricalImputer", "Transform"); err != nil {
		return nil, err
	}
	if len(cols) != len(im.Statistics) {
		return nil, errors.NewDimensionError("CategoricalImputer.Transform", len(im.Statistics), len(cols), 1)
	}
	out := make([][]string, len(cols))
	for j, values := range cols {
		filled := make([]string, len(values))
		for i, v := range values {
			if valid[j][i] {
				filled[i] = v
			} else {
				filled[i] = im.Statistics[j]
			}
		}
		out[j] = filled
	}
	return out, nil
}

func (im *CategoricalImputer) GetParams() map[string]interface{} {
	return map[string]interface{}{"strategy": im.Strategy, "fill_value": im.FillValue}
}

func (im *CategoricalImputer) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		s, err := model.ParamString(k, v)
		if err != nil {
			return err
		}
		switch k {
		case "strategy":
			if !validStrategy(s, false) {
				return errors.NewValidationError(k, "expected most_frequent or constant", v)
			}
			im.Strategy = s
		case "fill_value":
			im.FillValue = s
		default:
			return model.UnknownParam("CategoricalImputer", k)
		}
	}
	return nil
}
