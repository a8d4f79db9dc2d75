package ensemble

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/sklearn/tree"
)

func newTestStacker(opts ...StackingOption) *StackingClassifier {
	bases := []NamedEstimator{
		{Name: "rf", Estimator: NewRandomForestClassifier(WithNEstimators(5), WithForestRandomState(0))},
		{Name: "dt", Estimator: tree.NewDecisionTreeClassifier(tree.WithMaxDepth(3))},
	}
	final := tree.NewDecisionTreeClassifier(tree.WithMaxDepth(2))
	return NewStackingClassifier(bases, final, append([]StackingOption{WithCV(3)}, opts...)...)
}

func TestStacking_Multiclass(t *testing.T) {
	X, y := threeBlobs(15, 7)
	s := newTestStacker()
	require.NoError(t, s.Fit(X, y))
	assert.Equal(t, []int{0, 1, 2}, s.Classes())
	assert.True(t, s.Estimators[0].Estimator.IsFitted())
	assert.True(t, s.FinalEstimator.IsFitted())

	meta, err := s.Transform(X)
	require.NoError(t, err)
	_, c := meta.Dims()
	assert.Equal(t, 6, c)

	assert.GreaterOrEqual(t, accuracy(t, s, X, y), 0.95)
	proba, err := s.PredictProba(X)
	require.NoError(t, err)
	_, c = proba.Dims()
	assert.Equal(t, 3, c)
}

func TestStacking_BinaryDropsFirstColumn(t *testing.T) {
	X := mat.NewDense(12, 1, []float64{1, 2, 3, 4, 5, 6, 10, 11, 12, 13, 14, 15})
	y := mat.NewDense(12, 1, []float64{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1})

	s := newTestStacker(WithPassthrough(true))
	require.NoError(t, s.Fit(X, y))
	meta, err := s.Transform(X)
	require.NoError(t, err)
	_, c := meta.Dims()
	// 2 bases × 1 column + 1 passthrough feature
	assert.Equal(t, 3, c)
	assert.InDelta(t, 1.0, meta.At(11, 1), 1e-12)
	assert.Equal(t, 15.0, meta.At(11, 2))
}

func TestAlignProba(t *testing.T) {
	proba := mat.NewDense(1, 2, []float64{0.25, 0.75})
	got := alignProba(proba, []int{1, 4}, []int{0, 1, 4})
	assert.Equal(t, []float64{0, 0.25, 0.75}, got.RawRowView(0))
}

func TestStacking_Params(t *testing.T) {
	s := newTestStacker()
	params := s.GetParams()
	assert.Equal(t, 3, params["cv"])
	assert.Equal(t, 5, params["rf__n_estimators"])
	assert.Equal(t, 2, params["final_estimator__max_depth"])

	require.NoError(t, s.SetParams(map[string]interface{}{
		"rf__n_estimators":           7,
		"final_estimator__max_depth": 4,
		"passthrough":                true,
	}))
	assert.Equal(t, 7, s.GetParams()["rf__n_estimators"])
	assert.Equal(t, 4, s.GetParams()["final_estimator__max_depth"])
	assert.True(t, s.Passthrough)

	var ve *scierrors.ValidationError
	assert.True(t, scierrors.As(s.SetParams(map[string]interface{}{"svc__C": 1.0}), &ve))
	assert.True(t, scierrors.As(s.SetParams(map[string]interface{}{"bogus": 1}), &ve))
	assert.Error(t, s.SetParams(map[string]interface{}{"stack_method": "predict"}))
}

func TestStacking_Validation(t *testing.T) {
	X, y := threeBlobs(6, 1)
	dup := NewStackingClassifier([]NamedEstimator{
		{Name: "a", Estimator: tree.NewDecisionTreeClassifier()},
		{Name: "a", Estimator: tree.NewDecisionTreeClassifier()},
	}, tree.NewDecisionTreeClassifier())
	assert.Error(t, dup.Fit(X, y))
	assert.Error(t, NewStackingClassifier(nil, tree.NewDecisionTreeClassifier()).Fit(X, y))
	assert.Error(t, newTestStacker(WithCV(10)).Fit(X, y))

	_, err := newTestStacker().Predict(X)
	var nf *scierrors.NotFittedError
	assert.True(t, scierrors.As(err, &nf))
}

func TestStacking_CloneAndGob(t *testing.T) {
	X, y := threeBlobs(9, 8)
	s := newTestStacker()
	require.NoError(t, s.Fit(X, y))

	clone := s.Clone().(*StackingClassifier)
	assert.False(t, clone.IsFitted())
	assert.False(t, clone.Estimators[0].Estimator.IsFitted())

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(s, &buf))
	restored := &StackingClassifier{}
	require.NoError(t, model.LoadModelFromReader(restored, &buf))
	want, err := s.PredictProba(X)
	require.NoError(t, err)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}
