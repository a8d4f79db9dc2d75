package preprocessing

import (
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// ColumnTransformer is the feature plan: numeric columns are imputed and
// scaled, categorical columns imputed and one-hot encoded. The output
// matrix holds the numeric block first, then the indicator blocks.
//
// Parameters use the "<group>__<step>__<param>" names of the equivalent
// scikit-learn ColumnTransformer:
//
//	num__imputer__strategy, num__scaler__with_mean, num__scaler__with_std,
//	cat__imputer__strategy, cat__ohe__handle_unknown
type ColumnTransformer struct {
	State           *model.StateManager
	NumericCols     []string
	CategoricalCols []string

	NumImputer *SimpleImputer
	Scaler     *StandardScaler
	CatImputer *CategoricalImputer
	Encoder    *OneHotEncoder
}

// BuildPreprocessor partitions the frame's columns by dtype and binds
// median+scale to numeric columns and most_frequent+one-hot(ignore) to
// categorical columns. The partition is exhaustive and disjoint.
func BuildPreprocessor(f *dataset.Frame) *ColumnTransformer {
	return NewColumnTransformer(f.NumericNames(), f.CategoricalNames())
}

// NewColumnTransformer creates an unfitted plan over explicit column groups.
func NewColumnTransformer(numeric, categorical []string) *ColumnTransformer {
	return &ColumnTransformer{
		State:           model.NewStateManager(),
		NumericCols:     append([]string(nil), numeric...),
		CategoricalCols: append([]string(nil), categorical...),
		NumImputer:      NewSimpleImputer(StrategyMedian),
		Scaler:          NewStandardScalerDefault(),
		CatImputer:      NewCategoricalImputer(StrategyMostFrequent),
		Encoder:         NewOneHotEncoder("ignore"),
	}
}

func (ct *ColumnTransformer) IsFitted() bool { return ct.State.IsFitted() }

// InputColumns returns the columns the plan reads, numeric group first.
func (ct *ColumnTransformer) InputColumns() []string {
	return append(append([]string(nil), ct.NumericCols...), ct.CategoricalCols...)
}

// ColumnKinds maps each input column to "numeric" or "categorical".
func (ct *ColumnTransformer) ColumnKinds() map[string]string {
	kinds := make(map[string]string, len(ct.NumericCols)+len(ct.CategoricalCols))
	for _, c := range ct.NumericCols {
		kinds[c] = dataset.Numeric.String()
	}
	for _, c := range ct.CategoricalCols {
		kinds[c] = dataset.Categorical.String()
	}
	return kinds
}

// Fit learns imputation values, scaling statistics and category vocabularies.
func (ct *ColumnTransformer) Fit(f *dataset.Frame) error {
	_, err := ct.FitTransform(f)
	return err
}

// FitTransform fits the plan on f and returns the transformed matrix.
func (ct *ColumnTransformer) FitTransform(f *dataset.Frame) (*mat.Dense, error) {
	start := time.Now()
	if f.NRows() == 0 {
		return nil, errors.NewModelError("ColumnTransformer.Fit", "empty data", errors.ErrEmptyData)
	}
	if err := ct.checkColumns("fit", f); err != nil {
		return nil, err
	}

	var numeric mat.Matrix
	if len(ct.NumericCols) > 0 {
		imputed, err := ct.NumImputer.FitTransform(ct.numericMatrix(f))
		if err != nil {
			return nil, err
		}
		if numeric, err = ct.Scaler.FitTransform(imputed); err != nil {
			return nil, err
		}
	}

	var filled [][]string
	if len(ct.CategoricalCols) > 0 {
		cols, valid := ct.categoricalColumns(f)
		if err := ct.CatImputer.Fit(cols, valid); err != nil {
			return nil, err
		}
		var err error
		if filled, err = ct.CatImputer.Transform(cols, valid); err != nil {
			return nil, err
		}
		if err := ct.Encoder.Fit(filled); err != nil {
			return nil, err
		}
	}

	if ct.State == nil {
		ct.State = model.NewStateManager()
	}
	ct.State.MarkFitted(len(ct.NumericCols)+len(ct.CategoricalCols), f.NRows(), 0)

	out, err := ct.assemble(f.NRows(), numeric, filled)
	if err != nil {
		ct.State.Reset()
		return nil, err
	}
	log.GetLoggerWithName("preprocessing").Debug("feature plan fitted",
		log.SamplesKey, f.NRows(),
		log.FeaturesKey, ct.NumOutputFeatures(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Transform applies the fitted plan. Every fitted column must be present;
// callers realign inference frames with dataset.Frame.Reindex first.
func (ct *ColumnTransformer) Transform(f *dataset.Frame) (*mat.Dense, error) {
	if err := ct.State.RequireFitted("ColumnTransformer", "Transform"); err != nil {
		return nil, err
	}
	if f.NRows() == 0 {
		return nil, errors.NewModelError("ColumnTransformer.Transform", "empty data", errors.ErrEmptyData)
	}
	if err := ct.checkColumns("transform", f); err != nil {
		return nil, err
	}

	var numeric mat.Matrix
	if len(ct.NumericCols) > 0 {
		imputed, err := ct.NumImputer.Transform(ct.numericMatrix(f))
		if err != nil {
			return nil, err
		}
		if numeric, err = ct.Scaler.Transform(imputed); err != nil {
			return nil, err
		}
	}
	var filled [][]string
	if len(ct.CategoricalCols) > 0 {
		cols, valid := ct.categoricalColumns(f)
		var err error
		if filled, err = ct.CatImputer.Transform(cols, valid); err != nil {
			return nil, err
		}
	}
	return ct.assemble(f.NRows(), numeric, filled)
}

// NumOutputFeatures is the width of the transformed matrix.
func (ct *ColumnTransformer) NumOutputFeatures() int {
	return len(ct.NumericCols) + ct.Encoder.Width()
}

// FeatureNamesOut returns "num__<col>" and "cat__<col>_<category>" names.
func (ct *ColumnTransformer) FeatureNamesOut() []string {
	names := make([]string, 0, ct.NumOutputFeatures())
	for _, c := range ct.NumericCols {
		names = append(names, "num__"+c)
	}
	for _, n := range ct.Encoder.FeatureNamesOut(ct.CategoricalCols) {
		names = append(names, "cat__"+n)
	}
	return names
}

func (ct *ColumnTransformer) assemble(rows int, numeric mat.Matrix, filled [][]string) (*mat.Dense, error) {
	width := ct.NumOutputFeatures()
	if width == 0 {
		return nil, errors.NewModelError("ColumnTransformer", "no output features", errors.ErrEmptyData)
	}
	out := mat.NewDense(rows, width, nil)
	nNum := len(ct.NumericCols)
	if numeric != nil {
		out.Slice(0, rows, 0, nNum).(*mat.Dense).Copy(numeric)
	}
	if filled != nil {
		if err := ct.Encoder.EncodeInto(out, nNum, filled); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ct *ColumnTransformer) checkColumns(op string, f *dataset.Frame) error {
	var missing []string
	for _, c := range ct.InputColumns() {
		if !f.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errors.NewSchemaError("ColumnTransformer."+op, "fitted columns absent from input", missing...)
	}
	return nil
}

// numericMatrix reads the numeric group. Text cells are parsed with
// dataset.ParseNumber; cells that do not parse become NaN.
func (ct *ColumnTransformer) numericMatrix(f *dataset.Frame) *mat.Dense {
	n := f.NRows()
	m := mat.NewDense(n, len(ct.NumericCols), nil)
	for j, name := range ct.NumericCols {
		col, _ := f.Column(name)
		for i := 0; i < n; i++ {
			m.Set(i, j, numericCell(col, i))
		}
	}
	return m
}

func numericCell(col *dataset.Column, i int) float64 {
	if col.Kind == dataset.Numeric {
		return col.Floats[i]
	}
	if !col.Valid[i] {
		return math.NaN()
	}
	v, ok := dataset.ParseNumber(col.Strings[i])
	if !ok {
		return math.NaN()
	}
	return v
}

func (ct *ColumnTransformer) categoricalColumns(f *dataset.Frame) ([][]string, [][]bool) {
	cols := make([][]string, len(ct.CategoricalCols))
	valid := make([][]bool, len(ct.CategoricalCols))
	for j, name := range ct.CategoricalCols {
		col, _ := f.Column(name)
		n := col.Len()
		cols[j] = make([]string, n)
		valid[j] = make([]bool, n)
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				continue
			}
			cols[j][i] = col.StringAt(i)
			valid[j][i] = true
		}
	}
	return cols, valid
}

// GetParams returns the plan's tunable parameters.
func (ct *ColumnTransformer) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"num__imputer__strategy":   ct.NumImputer.Strategy,
		"num__scaler__with_mean":   ct.Scaler.WithMean,
		"num__scaler__with_std":    ct.Scaler.WithStd,
		"cat__imputer__strategy":   ct.CatImputer.Strategy,
		"cat__ohe__handle_unknown": ct.Encoder.HandleUnknown,
	}
}

// SetParams routes "num__imputer__*", "num__scaler__*", "cat__imputer__*"
// and "cat__ohe__*" to the matching step.
func (ct *ColumnTransformer) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch {
		case strings.HasPrefix(k, "num__imputer__"):
			err = ct.NumImputer.SetParams(map[string]interface{}{strings.TrimPrefix(k, "num__imputer__"): v})
		case strings.HasPrefix(k, "num__scaler__"):
			err = ct.Scaler.SetParams(map[string]interface{}{strings.TrimPrefix(k, "num__scaler__"): v})
		case strings.HasPrefix(k, "cat__imputer__"):
			err = ct.CatImputer.SetParams(map[string]interface{}{strings.TrimPrefix(k, "cat__imputer__"): v})
		case strings.HasPrefix(k, "cat__ohe__"):
			err = ct.Encoder.SetParams(map[string]interface{}{strings.TrimPrefix(k, "cat__ohe__"): v})
		default:
			err = model.UnknownParam("ColumnTransformer", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an unfitted plan with the same column groups and parameters.
func (ct *ColumnTransformer) Clone() *ColumnTransformer {
	c := NewColumnTransformer(ct.NumericCols, ct.CategoricalCols)
	c.NumImputer.Strategy = ct.NumImputer.Strategy
	c.NumImputer.FillValue = ct.NumImputer.FillValue
	c.Scaler.WithMean = ct.Scaler.WithMean
	c.Scaler.WithStd = ct.Scaler.WithStd
	c.CatImputer.Strategy = ct.CatImputer.Strategy
	c.CatImputer.FillValue = ct.CatImputer.FillValue
	c.Encoder.HandleUnknown = ct.Encoder.HandleUnknown
	return c
}
