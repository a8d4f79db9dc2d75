package linear_model

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

func gridBlobs() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(12, 2, []float64{
		0, 0, 0.5, 0, 0, 0.5, 0.5, 0.5,
		5, 5, 5.5, 5, 5, 5.5, 5.5, 5.5,
		10, 0, 10.5, 0, 10, 0.5, 10.5, 0.5,
	})
	y := mat.NewDense(12, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2})
	return X, y
}

func TestLogisticRegression_MultinomialAndOVR(t *testing.T) {
	X, y := gridBlobs()
	for _, mode := range []string{"multinomial", "ovr"} {
		t.Run(mode, func(t *testing.T) {
			lr := NewLogisticRegression(WithLRMultiClass(mode), WithLRC(10), WithLRMaxIter(500))
			require.NoError(t, lr.Fit(X, y))
			assert.Equal(t, []int{0, 1, 2}, lr.Classes())
			assert.Len(t, lr.Coef, 3)
			assert.Equal(t, 1.0, lr.Score(X, y))

			proba, err := lr.PredictProba(X)
			require.NoError(t, err)
			for i := 0; i < 12; i++ {
				assert.InDelta(t, 1.0, mat.Sum(proba.(*mat.Dense).RowView(i)), 1e-9)
			}
		})
	}
}

func TestLogisticRegression_NonContiguousCodes(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{-2, -1, 1, 2})
	y := mat.NewDense(4, 1, []float64{2, 2, 5, 5})
	lr := NewLogisticRegression()
	require.NoError(t, lr.Fit(X, y))
	assert.Equal(t, []int{2, 5}, lr.Classes())
	pred, err := lr.Predict(mat.NewDense(1, 1, []float64{3}))
	require.NoError(t, err)
	assert.Equal(t, 5.0, pred.At(0, 0))
}

func TestLogisticRegression_ClassWeightShiftsBoundary(t *testing.T) {
	// 不均衡データ: balanced にすると少数クラスの確率が上がる
	X := mat.NewDense(8, 1, []float64{0, 1, 2, 3, 4, 5, 3.5, 6})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 0, 0, 1, 1})
	point := mat.NewDense(1, 1, []float64{4})

	plain := NewLogisticRegression()
	require.NoError(t, plain.Fit(X, y))
	balanced := NewLogisticRegression(WithLRClassWeight(model.ClassWeight{Mode: "balanced"}))
	require.NoError(t, balanced.Fit(X, y))

	pp, err := plain.PredictProba(point)
	require.NoError(t, err)
	pb, err := balanced.PredictProba(point)
	require.NoError(t, err)
	assert.Greater(t, pb.At(0, 1), pp.At(0, 1))
}

func TestLogisticRegression_ConvergenceWarning(t *testing.T) {
	var warnings []error
	scierrors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer scierrors.SetWarningHandler(nil)

	X, y := gridBlobs()
	lr := NewLogisticRegression(WithLRMaxIter(1), WithLRC(1000))
	require.NoError(t, lr.Fit(X, y))
	require.NotEmpty(t, warnings)
	var cw *scierrors.ConvergenceWarning
	assert.True(t, scierrors.As(warnings[0], &cw))
}

func TestLogisticRegression_ParamCoercion(t *testing.T) {
	lr := NewLogisticRegression()
	require.NoError(t, lr.SetParams(map[string]interface{}{
		"C":            1,
		"max_iter":     2000.0,
		"class_weight": "balanced",
		"penalty":      nil,
		"n_jobs":       -1,
	}))
	assert.Equal(t, 1.0, lr.C)
	assert.Equal(t, 2000, lr.MaxIter)
	assert.Equal(t, "none", lr.Penalty)
	assert.Equal(t, "balanced", lr.GetParams()["class_weight"])

	var ve *scierrors.ValidationError
	assert.True(t, scierrors.As(lr.SetParams(map[string]interface{}{"n_estimators": 3}), &ve))
	assert.Error(t, lr.SetParams(map[string]interface{}{"C": "large"}))

	X, y := gridBlobs()
	assert.Error(t, NewLogisticRegression(WithLRC(0)).Fit(X, y))
	assert.Error(t, NewLogisticRegression(WithLRPenalty("l1")).Fit(X, y))
	assert.Error(t, NewLogisticRegression().Fit(X, mat.NewDense(12, 1, nil)))
}

func TestLogisticRegression_CloneAndGob(t *testing.T) {
	X, y := gridBlobs()
	lr := NewLogisticRegression(WithLRC(5))
	require.NoError(t, lr.Fit(X, y))

	clone := lr.Clone()
	assert.False(t, clone.IsFitted())
	assert.Equal(t, lr.GetParams(), clone.GetParams())

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(lr, &buf))
	restored := &LogisticRegression{}
	require.NoError(t, model.LoadModelFromReader(restored, &buf))
	want, err := lr.PredictProba(X)
	require.NoError(t, err)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))

	_, err = restored.PredictProba(mat.NewDense(1, 3, nil))
	var dimErr *scierrors.DimensionError
	assert.True(t, scierrors.As(err, &dimErr))
}
