package ensemble

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

// threeBlobs は十分に離れた3クラスの2次元データを返す
func threeBlobs(perClass int, seed int64) (*mat.Dense, *mat.Dense) {
	r := rand.New(rand.NewSource(seed))
	centers := [][2]float64{{0, 0}, {6, 6}, {12, 0}}
	n := perClass * len(centers)
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for c, ctr := range centers {
		for i := 0; i < perClass; i++ {
			row := c*perClass + i
			X.Set(row, 0, ctr[0]+r.NormFloat64()*0.5)
			X.Set(row, 1, ctr[1]+r.NormFloat64()*0.5)
			y.Set(row, 0, float64(c))
		}
	}
	return X, y
}

func accuracy(t *testing.T, clf model.Classifier, X, y mat.Matrix) float64 {
	t.Helper()
	pred, err := clf.Predict(X)
	require.NoError(t, err)
	n, _ := X.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func TestForests_FitPredict(t *testing.T) {
	X, y := threeBlobs(30, 1)
	tests := []struct {
		name string
		clf  model.Classifier
	}{
		{"random_forest", NewRandomForestClassifier(WithNEstimators(20), WithForestRandomState(0))},
		{"extra_trees", NewExtraTreesClassifier(WithNEstimators(20), WithForestRandomState(0))},
		{"balanced_subsample", NewRandomForestClassifier(WithNEstimators(10), WithForestRandomState(0),
			WithForestClassWeight(model.ClassWeight{Mode: "balanced_subsample"}))},
		{"single_worker", NewRandomForestClassifier(WithNEstimators(5), WithNJobs(1), WithForestRandomState(0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.clf.Fit(X, y))
			assert.Equal(t, []int{0, 1, 2}, tt.clf.Classes())
			assert.GreaterOrEqual(t, accuracy(t, tt.clf, X, y), 0.95)

			proba, err := tt.clf.PredictProba(X)
			require.NoError(t, err)
			r, c := proba.Dims()
			assert.Equal(t, 90, r)
			assert.Equal(t, 3, c)
			for i := 0; i < r; i++ {
				assert.InDelta(t, 1.0, mat.Sum(proba.(*mat.Dense).RowView(i)), 1e-9)
			}
		})
	}
}

func TestForest_Reproducible(t *testing.T) {
	X, y := threeBlobs(20, 2)
	a := NewRandomForestClassifier(WithNEstimators(8), WithForestRandomState(42))
	b := NewRandomForestClassifier(WithNEstimators(8), WithForestRandomState(42), WithNJobs(1))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	pa, err := a.PredictProba(X)
	require.NoError(t, err)
	pb, err := b.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pa, pb))

	imp := a.FeatureImportances()
	assert.Len(t, imp, 2)
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9)
}

func TestForest_Params(t *testing.T) {
	rf := NewRandomForestClassifier()
	params := rf.GetParams()
	assert.Equal(t, 100, params["n_estimators"])
	assert.Equal(t, "sqrt", params["max_features"])
	assert.Equal(t, true, params["bootstrap"])
	assert.Nil(t, params["max_depth"])

	require.NoError(t, rf.SetParams(map[string]interface{}{
		"n_estimators": 500.0,
		"class_weight": "balanced_subsample",
		"max_depth":    8,
		"n_jobs":       nil,
	}))
	assert.Equal(t, 500, rf.NEstimators)
	assert.Equal(t, "balanced_subsample", rf.GetParams()["class_weight"])
	assert.Equal(t, 8, rf.MaxDepth)
	assert.Equal(t, 1, rf.NJobs)

	var ve *scierrors.ValidationError
	assert.True(t, scierrors.As(rf.SetParams(map[string]interface{}{"learning_rate": 0.1}), &ve))

	et := NewExtraTreesClassifier()
	assert.Equal(t, false, et.GetParams()["bootstrap"])
}

func TestForest_NotFitted(t *testing.T) {
	rf := NewRandomForestClassifier()
	_, err := rf.Predict(mat.NewDense(1, 2, nil))
	var nf *scierrors.NotFittedError
	assert.True(t, scierrors.As(err, &nf))
	assert.Error(t, NewRandomForestClassifier(WithNEstimators(0)).Fit(threeBlobs(3, 0)))
}

func TestForest_CloneAndGob(t *testing.T) {
	X, y := threeBlobs(10, 3)
	rf := NewRandomForestClassifier(WithNEstimators(5), WithForestRandomState(1))
	require.NoError(t, rf.Fit(X, y))

	clone := rf.Clone()
	assert.False(t, clone.IsFitted())
	assert.Equal(t, rf.GetParams(), clone.GetParams())

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(rf, &buf))
	restored := &RandomForestClassifier{}
	require.NoError(t, model.LoadModelFromReader(restored, &buf))
	want, err := rf.PredictProba(X)
	require.NoError(t, err)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}
