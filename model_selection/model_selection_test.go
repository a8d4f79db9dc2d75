package model_selection

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/dataset"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

func TestKFold_Split(t *testing.T) {
	folds, err := NewKFold(3, false, 0).Split(make([]int, 10))
	require.NoError(t, err)
	require.Len(t, folds, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, folds[0].TestIndices)
	assert.Equal(t, []int{4, 5, 6}, folds[1].TestIndices)
	assert.Equal(t, []int{7, 8, 9}, folds[2].TestIndices)
	for _, f := range folds {
		assert.Len(t, f.TrainIndices, 10-len(f.TestIndices))
	}

	_, err = NewKFold(5, false, 0).Split(make([]int, 3))
	assert.Error(t, err)
}

func TestStratifiedKFold_Split(t *testing.T) {
	y := []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 2, 2, 2}
	for _, shuffle := range []bool{false, true} {
		folds, err := NewStratifiedKFold(3, shuffle, 42).Split(y)
		require.NoError(t, err)
		seen := make([]int, 0, len(y))
		for _, f := range folds {
			counts := map[int]int{}
			for _, i := range f.TestIndices {
				counts[y[i]]++
			}
			assert.Equal(t, map[int]int{0: 2, 1: 1, 2: 1}, counts)
			seen = append(seen, f.TestIndices...)
		}
		sort.Ints(seen)
		for i := range seen {
			assert.Equal(t, i, seen[i])
		}
	}

	again, err := NewStratifiedKFold(3, true, 42).Split(y)
	require.NoError(t, err)
	first, err := NewStratifiedKFold(3, true, 42).Split(y)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = NewStratifiedKFold(5, false, 0).Split([]int{0, 0, 1, 1})
	assert.Error(t, err)
}

func TestParamGrid_Expand(t *testing.T) {
	grid := ParamGrid{
		"clf__n_estimators": {200, 400},
		"clf__max_depth":    {nil, 10, 20},
	}
	require.NoError(t, grid.Validate("clf", "preprocessor"))
	cands := grid.Expand()
	require.Len(t, cands, 6)
	assert.Equal(t, map[string]interface{}{"clf__max_depth": nil, "clf__n_estimators": 200}, cands[0])
	assert.Equal(t, map[string]interface{}{"clf__max_depth": nil, "clf__n_estimators": 400}, cands[1])
	assert.Equal(t, map[string]interface{}{"clf__max_depth": 20, "clf__n_estimators": 400}, cands[5])
}

func TestParamGrid_Validate(t *testing.T) {
	var ve *scierrors.ValidationError
	assert.True(t, scierrors.As(ParamGrid{}.Validate(), &ve))
	assert.True(t, scierrors.As(ParamGrid{"clf__C": {}}.Validate(), &ve))
	assert.True(t, scierrors.As(ParamGrid{"C": {1.0}}.Validate("clf"), &ve))
	assert.True(t, scierrors.As(ParamGrid{"model__C": {1.0}}.Validate("clf"), &ve))
	assert.NoError(t, ParamGrid{"model__C": {1.0}}.Validate())
}

func TestParseParamGrid(t *testing.T) {
	grid, err := ParseParamGrid(map[string]interface{}{
		"clf__C":       []interface{}{0.1, 1.0},
		"clf__penalty": nil,
		"clf__solver":  "lbfgs",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, grid.Size())
	assert.Equal(t, []interface{}{"lbfgs"}, grid["clf__solver"])

	_, err = ParseParamGrid(map[string]interface{}{"clf__C": map[string]interface{}{"a": 1}})
	assert.Error(t, err)
}

// thresholdModel は x > threshold なら "hi" を返す1特徴の分類器
type thresholdModel struct {
	threshold float64
	fitted    bool
}

func (m *thresholdModel) Fit(X *dataset.Frame, y []string) error {
	m.fitted = true
	return nil
}

func (m *thresholdModel) Predict(X *dataset.Frame) ([]string, error) {
	col, _ := X.Column("x")
	out := make([]string, X.NRows())
	for i, v := range col.Floats {
		out[i] = "lo"
		if v > m.threshold {
			out[i] = "hi"
		}
	}
	return out, nil
}

func (m *thresholdModel) GetParams() map[string]interface{} {
	return map[string]interface{}{"clf__threshold": m.threshold}
}

func (m *thresholdModel) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		if k != "clf__threshold" {
			return model.UnknownParam("thresholdModel", k)
		}
		f, err := model.ParamFloat(k, v)
		if err != nil {
			return err
		}
		m.threshold = f
	}
	return nil
}

func (m *thresholdModel) Clone() *thresholdModel { return &thresholdModel{threshold: m.threshold} }

func thresholdData() (*dataset.Frame, []string) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	y := []string{"lo", "lo", "lo", "lo", "lo", "hi", "hi", "hi", "hi", "hi"}
	return dataset.MustFrame(dataset.NewNumeric("x", xs)), y
}

func TestGridSearchCV_FindsBestThreshold(t *testing.T) {
	X, y := thresholdData()
	gs := NewGridSearchCV(&thresholdModel{}, ParamGrid{"clf__threshold": {0.0, 5.5, 8.0}}, "accuracy")
	gs.NJobs = -1
	require.NoError(t, gs.Fit(X, y))

	assert.Equal(t, 1, gs.BestIndex)
	assert.Equal(t, 5.5, gs.BestParams["clf__threshold"])
	assert.Equal(t, 1.0, gs.BestScore)
	assert.Equal(t, 1, gs.CVResults.RankTestScore[1])
	assert.Len(t, gs.CVResults.SplitScores[0], 5)
	assert.Equal(t, 5.5, gs.BestEstimator.threshold)

	pred, err := gs.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, y, pred)
}

func TestGridSearchCV_FailsBeforeFitting(t *testing.T) {
	X, y := thresholdData()
	cases := map[string]*GridSearchCV[*thresholdModel]{
		"unknown param": NewGridSearchCV(&thresholdModel{}, ParamGrid{"clf__depth": {1}}, "accuracy"),
		"bad value":     NewGridSearchCV(&thresholdModel{}, ParamGrid{"clf__threshold": {"high"}}, "accuracy"),
		"bad scorer":    NewGridSearchCV(&thresholdModel{}, ParamGrid{"clf__threshold": {1.0}}, "roc_auc"),
		"empty grid":    NewGridSearchCV(&thresholdModel{}, ParamGrid{}, "accuracy"),
	}
	for name, gs := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, gs.Fit(X, y))
			assert.Nil(t, gs.BestEstimator)
		})
	}

	_, err := NewGridSearchCV(&thresholdModel{}, ParamGrid{"clf__threshold": {1.0}}, "accuracy").Predict(X)
	var nf *scierrors.NotFittedError
	assert.True(t, scierrors.As(err, &nf))
}

func TestSummarize_TiesShareRank(t *testing.T) {
	res := summarize([]map[string]interface{}{{}, {}, {}}, [][]float64{{0.25, 0.25}, {0.75, 0.25}, {0.5, 0.5}})
	assert.Equal(t, []int{3, 1, 1}, res.RankTestScore)
	assert.InDelta(t, 0.25, res.StdTestScore[1], 1e-12)
}
