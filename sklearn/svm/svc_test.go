package svm

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

func blobs(perClass int, centers [][2]float64) (*mat.Dense, *mat.Dense) {
	r := rand.New(rand.NewSource(11))
	n := perClass * len(centers)
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for c, ctr := range centers {
		for i := 0; i < perClass; i++ {
			row := c*perClass + i
			X.Set(row, 0, ctr[0]+r.NormFloat64()*0.3)
			X.Set(row, 1, ctr[1]+r.NormFloat64()*0.3)
			y.Set(row, 0, float64(c))
		}
	}
	return X, y
}

func score(t *testing.T, s *SVC, X, y mat.Matrix) float64 {
	t.Helper()
	pred, err := s.Predict(X)
	require.NoError(t, err)
	n, _ := X.Dims()
	ok := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			ok++
		}
	}
	return float64(ok) / float64(n)
}

func TestSVC_Kernels(t *testing.T) {
	X, y := blobs(20, [][2]float64{{0, 0}, {3, 3}, {6, 0}})
	for _, kernel := range []string{"linear", "rbf"} {
		t.Run(kernel, func(t *testing.T) {
			s := NewSVC(WithKernel(kernel), WithProbability(true), WithSVCRandomState(0))
			require.NoError(t, s.Fit(X, y))
			assert.Equal(t, []int{0, 1, 2}, s.Classes())
			assert.GreaterOrEqual(t, score(t, s, X, y), 0.95)

			proba, err := s.PredictProba(X)
			require.NoError(t, err)
			for i := 0; i < 60; i++ {
				row := proba.(*mat.Dense).RawRowView(i)
				assert.InDelta(t, 1.0, row[0]+row[1]+row[2], 1e-9)
			}
		})
	}
}

func TestSVC_Binary(t *testing.T) {
	X, y := blobs(15, [][2]float64{{0, 0}, {4, 4}})
	s := NewSVC(WithKernel("linear"), WithProbability(true))
	require.NoError(t, s.Fit(X, y))
	assert.Len(t, s.Coef, 1)

	proba, err := s.PredictProba(mat.NewDense(2, 2, []float64{0, 0, 4, 4}))
	require.NoError(t, err)
	assert.Greater(t, proba.At(0, 0), 0.5)
	assert.Greater(t, proba.At(1, 1), 0.5)
}

func TestSVC_ProbabilityDisabled(t *testing.T) {
	X, y := blobs(5, [][2]float64{{0, 0}, {4, 4}})
	s := NewSVC(WithKernel("linear"))
	require.NoError(t, s.Fit(X, y))
	_, err := s.PredictProba(X)
	assert.Error(t, err)
	_, err = s.Predict(X)
	assert.NoError(t, err)
}

func TestFourierFeaturesApproximateKernel(t *testing.T) {
	f := NewFourierFeatures(2, 4000, 0.5, rand.New(rand.NewSource(3)))
	X := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	z := f.Transform(X)
	got := mat.Dot(z.RowView(0), z.RowView(1))
	want := math.Exp(-0.5 * 2)
	assert.InDelta(t, want, got, 0.05)
}

func TestPlattFit(t *testing.T) {
	f := []float64{-3, -2, -1, -0.5, 0.5, 1, 2, 3}
	tg := []float64{-1, -1, -1, -1, 1, 1, 1, 1}
	a, b := plattFit(f, tg)
	assert.Less(t, a, 0.0)
	assert.Greater(t, plattProb(3, a, b), 0.5)
	assert.Less(t, plattProb(-3, a, b), 0.5)
}

func TestGamma(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{0, 0, 2, 2})
	g, err := ParseGamma("gamma", "scale")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, g.Resolve(X), 1e-12)
	g, err = ParseGamma("gamma", "auto")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, g.Resolve(X), 1e-12)
	g, err = ParseGamma("gamma", 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0.1, g.Param())
	_, err = ParseGamma("gamma", -1.0)
	assert.Error(t, err)
	_, err = ParseGamma("gamma", "wide")
	assert.Error(t, err)
}

func TestSVC_Params(t *testing.T) {
	s := NewSVC()
	require.NoError(t, s.SetParams(map[string]interface{}{
		"C": 10, "gamma": "auto", "probability": true, "kernel": "linear", "max_iter": -1,
	}))
	assert.Equal(t, 10.0, s.C)
	assert.Equal(t, "auto", s.GetParams()["gamma"])
	assert.Equal(t, 500, s.MaxIter)

	var ve *scierrors.ValidationError
	assert.True(t, scierrors.As(s.SetParams(map[string]interface{}{"degree": 3}), &ve))

	X, y := blobs(3, [][2]float64{{0, 0}, {4, 4}})
	assert.Error(t, NewSVC(WithKernel("poly")).Fit(X, y))
	assert.Error(t, NewSVC(WithSVCC(-1)).Fit(X, y))
}

func TestSVC_Gob(t *testing.T) {
	X, y := blobs(8, [][2]float64{{0, 0}, {3, 3}, {6, 0}})
	s := NewSVC(WithProbability(true), WithSVCRandomState(5))
	s.NComponents = 50
	require.NoError(t, s.Fit(X, y))

	clone := s.Clone()
	assert.False(t, clone.IsFitted())

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(s, &buf))
	restored := &SVC{}
	require.NoError(t, model.LoadModelFromReader(restored, &buf))
	want, err := s.PredictProba(X)
	require.NoError(t, err)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))
}
