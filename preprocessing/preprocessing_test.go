package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/dataset"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

func trainFrame() *dataset.Frame {
	return dataset.MustFrame(
		dataset.NewNumeric("pl_orbper", []float64{1, math.NaN(), 3, 5}),
		dataset.NewNumeric("st_tmag", []float64{10, 10, 10, 10}),
		dataset.NewCategorical("band", []string{"r", "g", "", "g"}, []bool{true, true, false, true}),
	)
}

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	s := NewStandardScalerDefault()
	out, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, s.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), s.Scale[0], 1e-12)
	// 定数列はスケール1
	assert.Equal(t, 1.0, s.Scale[1])
	assert.Equal(t, 0.0, out.At(0, 1))

	sum := 0.0
	for i := 0; i < 4; i++ {
		sum += out.At(i, 0)
	}
	assert.InDelta(t, 0, sum, 1e-12)

	_, err = s.Transform(mat.NewDense(1, 3, nil))
	var dimErr *scierrors.DimensionError
	assert.True(t, scierrors.As(err, &dimErr))

	noMean := NewStandardScaler(false, true)
	out, err = noMean.FitTransform(X)
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt(1.25), out.At(0, 0), 1e-12)

	assert.Error(t, s.SetParams(map[string]interface{}{"copy": true}))
	require.NoError(t, s.SetParams(map[string]interface{}{"with_mean": false}))
	assert.False(t, s.WithMean)
}

func TestStandardScaler_NotFitted(t *testing.T) {
	_, err := NewStandardScalerDefault().Transform(mat.NewDense(1, 1, nil))
	var nf *scierrors.NotFittedError
	assert.True(t, scierrors.As(err, &nf))
}

func TestSimpleImputer(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(5, 3, []float64{
		1, nan, 2,
		nan, nan, 2,
		3, nan, 7,
		10, nan, 7,
		nan, nan, 1,
	})

	tests := []struct {
		strategy string
		want     []float64
	}{
		{StrategyMedian, []float64{3, 0, 2}},
		{StrategyMean, []float64{14.0 / 3, 0, 19.0 / 5}},
		{StrategyMostFrequent, []float64{1, 0, 2}},
		{StrategyConstant, []float64{0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			im := NewSimpleImputer(tt.strategy)
			out, err := im.FitTransform(X)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, im.Statistics, 1e-12)
			r, c := out.Dims()
			for i := 0; i < r; i++ {
				for j := 0; j < c; j++ {
					assert.False(t, math.IsNaN(out.At(i, j)))
				}
			}
		})
	}

	bad := NewSimpleImputer("mode")
	assert.Error(t, bad.Fit(X))
}

func TestCategoricalImputer(t *testing.T) {
	cols := [][]string{{"b", "a", "", "a", "b"}}
	valid := [][]bool{{true, true, false, true, true}}

	im := NewCategoricalImputer(StrategyMostFrequent)
	require.NoError(t, im.Fit(cols, valid))
	// 同数の場合は辞書順で小さい方
	assert.Equal(t, []string{"a"}, im.Statistics)
	out, err := im.Transform(cols, valid)
	require.NoError(t, err)
	assert.Equal(t, "a", out[0][2])

	constant := NewCategoricalImputer(StrategyConstant)
	require.NoError(t, constant.Fit(cols, valid))
	out, err = constant.Transform(cols, valid)
	require.NoError(t, err)
	assert.Equal(t, "missing_value", out[0][2])

	assert.Error(t, im.SetParams(map[string]interface{}{"strategy": StrategyMedian}))
}

func TestOneHotEncoder(t *testing.T) {
	enc := NewOneHotEncoder("ignore")
	require.NoError(t, enc.Fit([][]string{{"r", "g", "r"}, {"x", "y", "z"}}))
	assert.Equal(t, 5, enc.Width())
	assert.Equal(t, []string{"band_g", "band_r", "q_x", "q_y", "q_z"}, enc.FeatureNamesOut([]string{"band", "q"}))

	out, err := enc.Transform([][]string{{"g", "unseen"}, {"z", "x"}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0, 1}, mat.Row(nil, 0, out))
	assert.Equal(t, []float64{0, 0, 1, 0, 0}, mat.Row(nil, 1, out))

	strict := NewOneHotEncoder("error")
	require.NoError(t, strict.Fit([][]string{{"a"}}))
	_, err = strict.Transform([][]string{{"b"}})
	var valErr *scierrors.ValueError
	assert.True(t, scierrors.As(err, &valErr))

	assert.Error(t, NewOneHotEncoder("drop").Fit([][]string{{"a"}}))
}

func TestBuildPreprocessor_Partition(t *testing.T) {
	ct := BuildPreprocessor(trainFrame())
	assert.Equal(t, []string{"pl_orbper", "st_tmag"}, ct.NumericCols)
	assert.Equal(t, []string{"band"}, ct.CategoricalCols)
	assert.Equal(t, map[string]string{
		"pl_orbper": "numeric",
		"st_tmag":   "numeric",
		"band":      "categorical",
	}, ct.ColumnKinds())
}

func TestColumnTransformer_FitTransform(t *testing.T) {
	ct := BuildPreprocessor(trainFrame())
	out, err := ct.FitTransform(trainFrame())
	require.NoError(t, err)

	r, c := out.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 4, c) // 2 numeric + {g, r}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.False(t, math.IsNaN(out.At(i, j)), "NaN at (%d,%d)", i, j)
		}
	}
	assert.Equal(t, []string{"num__pl_orbper", "num__st_tmag", "cat__band_g", "cat__band_r"}, ct.FeatureNamesOut())

	// 欠損カテゴリは最頻値 g で補完される
	assert.Equal(t, []float64{1, 0}, []float64{out.At(2, 2), out.At(2, 3)})
	// 欠損数値は中央値 3 で補完されてから標準化される
	assert.InDelta(t, out.At(2, 0), out.At(1, 0), 1e-12)
}

func TestColumnTransformer_TransformUnseenAndMissing(t *testing.T) {
	ct := BuildPreprocessor(trainFrame())
	require.NoError(t, ct.Fit(trainFrame()))

	infer := dataset.MustFrame(
		dataset.NewCategorical("band", []string{"uv"}, nil),
		dataset.NewNumeric("st_tmag", []float64{10}),
		dataset.NewCategorical("pl_orbper", []string{"3"}, nil),
	)
	out, err := ct.Transform(infer)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.At(0, 2))
	assert.Equal(t, 0.0, out.At(0, 3))
	assert.InDelta(t, 0.0, out.At(0, 0), 1e-12)

	_, err = ct.Transform(dataset.MustFrame(dataset.NewNumeric("st_tmag", []float64{1})))
	var schemaErr *scierrors.SchemaError
	require.True(t, scierrors.As(err, &schemaErr))
	assert.ElementsMatch(t, []string{"pl_orbper", "band"}, schemaErr.Columns)

	// Reindex で欠けた列は全欠損として扱われる
	realigned := dataset.MustFrame(dataset.NewNumeric("st_tmag", []float64{1})).Reindex(ct.InputColumns())
	out, err = ct.Transform(realigned)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(out.At(0, 0)))
}

func TestColumnTransformer_NotFitted(t *testing.T) {
	_, err := BuildPreprocessor(trainFrame()).Transform(trainFrame())
	var nf *scierrors.NotFittedError
	assert.True(t, scierrors.As(err, &nf))
}

func TestColumnTransformer_ParamsAndClone(t *testing.T) {
	ct := BuildPreprocessor(trainFrame())
	require.NoError(t, ct.SetParams(map[string]interface{}{
		"num__imputer__strategy":   "mean",
		"num__scaler__with_mean":   false,
		"cat__ohe__handle_unknown": "error",
	}))
	params := ct.GetParams()
	assert.Equal(t, "mean", params["num__imputer__strategy"])
	assert.Equal(t, false, params["num__scaler__with_mean"])

	assert.Error(t, ct.SetParams(map[string]interface{}{"num__imputer__strategy": "mode"}))
	assert.Error(t, ct.SetParams(map[string]interface{}{"remainder": "drop"}))

	require.NoError(t, ct.Fit(trainFrame()))
	clone := ct.Clone()
	assert.False(t, clone.IsFitted())
	assert.Equal(t, ct.GetParams(), clone.GetParams())
	assert.Equal(t, ct.NumericCols, clone.NumericCols)
}
