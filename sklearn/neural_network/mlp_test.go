package neural_network

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

// shuffledBlobs は3クラスの混ぜ済みデータ. 末尾の検証分割にも全クラスが入る.
func shuffledBlobs(n int, seed int64) (*mat.Dense, *mat.Dense) {
	r := rand.New(rand.NewSource(seed))
	centers := [][2]float64{{0, 0}, {4, 4}, {8, 0}}
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		c := r.Intn(3)
		X.Set(i, 0, centers[c][0]+r.NormFloat64()*0.4)
		X.Set(i, 1, centers[c][1]+r.NormFloat64()*0.4)
		y.Set(i, 0, float64(c*2))
	}
	return X, y
}

func accuracy(t *testing.T, m *MLPClassifier, X, y mat.Matrix) float64 {
	t.Helper()
	pred, err := m.Predict(X)
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

func TestMLPClassifier_Kinds(t *testing.T) {
	X, y := shuffledBlobs(300, 1)
	for _, kind := range []string{KindMLP, KindMLPBN} {
		t.Run(kind, func(t *testing.T) {
			m, err := NewMLPClassifier(kind,
				WithHiddenLayers([]int{16, 8}, []float64{0.1, 0.1}),
				WithEpochs(40), WithBatchSize(32), WithLearningRate(0.01),
				WithMLPRandomState(7),
			)
			require.NoError(t, err)
			require.NoError(t, m.Fit(X, y))

			assert.Equal(t, []int{0, 2, 4}, m.Classes())
			assert.GreaterOrEqual(t, accuracy(t, m, X, y), 0.85)
			assert.NotEmpty(t, m.History.ValAccuracy)
			assert.Len(t, m.History.Loss, len(m.History.ValLoss))
			assert.GreaterOrEqual(t, m.BestEpoch, 1)

			proba, err := m.PredictProba(X)
			require.NoError(t, err)
			for i := 0; i < 10; i++ {
				assert.InDelta(t, 1.0, mat.Sum(proba.(*mat.Dense).RowView(i)), 1e-9)
			}
		})
	}
}

func TestMLPClassifier_Presets(t *testing.T) {
	m, err := NewMLPClassifier(KindMLP)
	require.NoError(t, err)
	assert.Equal(t, []int{256, 128}, m.HiddenLayerSizes)
	assert.Equal(t, []float64{0.3, 0.2}, m.Dropouts)
	assert.False(t, m.BatchNorm)
	assert.Equal(t, 60, m.Epochs)
	assert.Equal(t, 128, m.BatchSize)
	assert.Equal(t, 8, m.Patience)
	assert.Equal(t, "balanced", m.GetParams()["class_weight"])

	bn, err := NewMLPClassifier(KindMLPBN)
	require.NoError(t, err)
	assert.Equal(t, []int{512, 256}, bn.HiddenLayerSizes)
	assert.True(t, bn.BatchNorm)

	_, err = NewMLPClassifier("cnn")
	assert.Error(t, err)
}

func TestMLPClassifier_EarlyStoppingRestoresBest(t *testing.T) {
	X, y := shuffledBlobs(120, 2)
	m, err := NewMLPClassifier(KindMLP,
		WithHiddenLayers([]int{8}, []float64{0}),
		WithEpochs(200), WithBatchSize(16), WithLearningRate(0.05),
		WithMLPRandomState(3),
	)
	require.NoError(t, err)
	m.Patience = 2
	require.NoError(t, m.Fit(X, y))

	run := len(m.History.Loss)
	assert.Less(t, run, 200)
	assert.Equal(t, m.BestEpoch+m.Patience, run)

	best := 0.0
	for _, v := range m.History.ValAccuracy {
		if v > best {
			best = v
		}
	}
	assert.Equal(t, best, m.History.ValAccuracy[m.BestEpoch-1])
}

func TestMLPClassifier_NoValidation(t *testing.T) {
	X, y := shuffledBlobs(60, 4)
	m, err := NewMLPClassifier(KindMLP,
		WithHiddenLayers([]int{8}, []float64{0}),
		WithEpochs(5), WithValidationFraction(0), WithMLPRandomState(1),
	)
	require.NoError(t, err)
	require.NoError(t, m.Fit(X, y))
	assert.Empty(t, m.History.ValLoss)
	assert.Len(t, m.History.Accuracy, len(m.History.Loss))
}

func TestMLPClassifier_Validation(t *testing.T) {
	X, y := shuffledBlobs(20, 5)
	m, err := NewMLPClassifier(KindMLP, WithHiddenLayers([]int{4, 4}, []float64{0.1}))
	require.NoError(t, err)
	assert.Error(t, m.Fit(X, y))

	m, err = NewMLPClassifier(KindMLP, WithBatchSize(0))
	require.NoError(t, err)
	assert.Error(t, m.Fit(X, y))

	m, err = NewMLPClassifier(KindMLP)
	require.NoError(t, err)
	_, err = m.Predict(X)
	var nf *scierrors.NotFittedError
	assert.True(t, scierrors.As(err, &nf))
}

func TestMLPClassifier_Params(t *testing.T) {
	m, err := NewMLPClassifier(KindMLP)
	require.NoError(t, err)
	require.NoError(t, m.SetParams(map[string]interface{}{
		"hidden_layer_sizes": []interface{}{32.0, 16},
		"dropout":            []interface{}{0.2, 0.1},
		"max_iter":           10,
		"patience":           3,
		"validation_split":   0.1,
		"class_weight":       nil,
	}))
	assert.Equal(t, []int{32, 16}, m.HiddenLayerSizes)
	assert.Equal(t, []float64{0.2, 0.1}, m.Dropouts)
	assert.Equal(t, 10, m.Epochs)
	assert.Equal(t, 3, m.Patience)
	assert.Nil(t, m.GetParams()["class_weight"])

	var ve *scierrors.ValidationError
	assert.True(t, scierrors.As(m.SetParams(map[string]interface{}{"alpha": 1e-4}), &ve))
	assert.Error(t, m.SetParams(map[string]interface{}{"hidden_layer_sizes": "wide"}))
}

func TestMLPClassifier_CloneAndGob(t *testing.T) {
	X, y := shuffledBlobs(80, 6)
	m, err := NewMLPClassifier(KindMLPBN,
		WithHiddenLayers([]int{8, 4}, []float64{0.2, 0.1}),
		WithEpochs(5), WithMLPRandomState(9),
	)
	require.NoError(t, err)
	require.NoError(t, m.Fit(X, y))

	clone := m.Clone()
	assert.False(t, clone.IsFitted())
	assert.Equal(t, m.GetParams(), clone.GetParams())

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(m, &buf))
	restored := &MLPClassifier{}
	require.NoError(t, model.LoadModelFromReader(restored, &buf))
	want, err := m.PredictProba(X)
	require.NoError(t, err)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12))
}

func TestAdamStep(t *testing.T) {
	p := []float64{1, -1}
	a := newAdam(0.1, [][]float64{p})
	a.update([][]float64{{2, -3}})
	// 初回ステップは符号方向に lr だけ進む
	assert.InDelta(t, 0.9, p[0], 1e-6)
	assert.InDelta(t, -0.9, p[1], 1e-6)
}
