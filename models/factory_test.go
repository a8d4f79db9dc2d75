package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/exoml/dataset"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/preprocessing"
	"github.com/YuminosukeSato/exoml/sklearn/ensemble"
	"github.com/YuminosukeSato/exoml/sklearn/linear_model"
	"github.com/YuminosukeSato/exoml/sklearn/neural_network"
	"github.com/YuminosukeSato/exoml/sklearn/svm"
)

func TestParseKind_Aliases(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"", RandomForest},
		{"RF", RandomForest},
		{"random-forest", RandomForest},
		{"Random_Forest", RandomForest},
		{"et", ExtraTrees},
		{"HGB", HistGB},
		{"hist-gradient-boosting", HistGB},
		{"lr", LogReg},
		{"logistic_regression", LogReg},
		{"svm", SVC},
		{"XGB", XGBoost},
		{"mlp", MLP},
		{"mlp-bn", MLPBN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKind(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKind_Unsupported(t *testing.T) {
	_, err := ParseKind("not_a_model")
	var ue *scierrors.UnsupportedModelError
	require.True(t, scierrors.As(err, &ue))
	assert.Contains(t, ue.Valid, "random_forest")
	assert.Empty(t, ue.Guidance)

	_, err = ParseKind("TabNet")
	require.True(t, scierrors.As(err, &ue))
	assert.NotEmpty(t, ue.Guidance)
}

func TestBuildModel_AliasEquivalence(t *testing.T) {
	a, err := BuildModel("random_forest", nil)
	require.NoError(t, err)
	b, err := BuildModel("RF", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, a.GetParams(), b.GetParams())
	assert.IsType(t, &ensemble.RandomForestClassifier{}, a)
	assert.Equal(t, 100, a.GetParams()["n_estimators"])
}

func TestBuildModel_Defaults(t *testing.T) {
	lr, err := BuildModel("logreg", map[string]interface{}{"C": 0.5})
	require.NoError(t, err)
	require.IsType(t, &linear_model.LogisticRegression{}, lr)
	assert.Equal(t, 2000, lr.GetParams()["max_iter"])
	assert.Equal(t, 0.5, lr.GetParams()["C"])

	// ユーザー指定がデフォルトに勝つ
	s, err := BuildModel("svc", map[string]interface{}{"probability": false})
	require.NoError(t, err)
	require.IsType(t, &svm.SVC{}, s)
	assert.Equal(t, false, s.GetParams()["probability"])
	s, err = BuildModel("svc", nil)
	require.NoError(t, err)
	assert.Equal(t, true, s.GetParams()["probability"])

	x, err := BuildModel("xgb", map[string]interface{}{"n_estimators": 600, "learning_rate": 0.05})
	require.NoError(t, err)
	assert.Equal(t, "mlogloss", x.GetParams()["eval_metric"])
	assert.Equal(t, 600, x.GetParams()["n_estimators"])

	m, err := BuildModel("mlp_bn", nil)
	require.NoError(t, err)
	require.IsType(t, &neural_network.MLPClassifier{}, m)
	assert.Equal(t, true, m.GetParams()["batch_norm"])
}

func TestBuildModel_BadParams(t *testing.T) {
	_, err := BuildModel("rf", map[string]interface{}{"learning_rate": 0.1})
	var ve *scierrors.ValidationError
	assert.True(t, scierrors.As(err, &ve))
}

func TestParseSpec(t *testing.T) {
	s, err := ParseSpec([]interface{}{"xgb", map[string]interface{}{"max_depth": 6.0}})
	require.NoError(t, err)
	assert.Equal(t, "xgb", s.Name)
	assert.Equal(t, 6.0, s.Params["max_depth"])

	s, err = ParseSpec(map[string]interface{}{"name": "logreg", "params": map[string]interface{}{"C": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, "logreg", s.Name)

	s, err = ParseSpec("rf")
	require.NoError(t, err)
	assert.Nil(t, s.Params)

	for _, bad := range []interface{}{[]interface{}{}, []interface{}{3}, []interface{}{"rf", "x"}, 42} {
		_, err := ParseSpec(bad)
		assert.Error(t, err)
	}
}

func TestBuildPipelines(t *testing.T) {
	f := dataset.MustFrame(
		dataset.NewNumeric("a", []float64{1, 2}),
		dataset.NewCategorical("b", []string{"x", "y"}, []bool{true, true}),
	)
	plan := preprocessing.BuildPreprocessor(f)

	p, err := BuildPipeline(plan, "et", map[string]interface{}{"n_estimators": 10})
	require.NoError(t, err)
	assert.IsType(t, &ensemble.ExtraTreesClassifier{}, p.Classifier)
	assert.Equal(t, 10, p.GetParams()["clf__n_estimators"])

	_, err = BuildPipeline(plan, "boosted_stumps", nil)
	assert.Error(t, err)

	sp, err := BuildStackingPipeline(plan,
		[]Spec{{Name: "xgb", Params: map[string]interface{}{"n_estimators": 5}}, {Name: "rf"}},
		Spec{Name: "logreg", Params: map[string]interface{}{"C": 1.0}},
		map[string]interface{}{"cv": 3},
	)
	require.NoError(t, err)
	stack, ok := sp.Classifier.(*ensemble.StackingClassifier)
	require.True(t, ok)
	assert.Equal(t, 3, stack.CV)
	assert.Equal(t, "xgb", stack.Estimators[0].Name)
	assert.Equal(t, 2000, sp.GetParams()["clf__final_estimator__max_iter"])

	_, err = BuildStackingPipeline(plan, []Spec{{Name: "rf"}}, Spec{Name: "nope"}, nil)
	assert.Error(t, err)
	_, err = BuildStacking(nil, Spec{Name: "logreg"}, nil)
	assert.Error(t, err)
}

func TestNewEstimator_EveryKind(t *testing.T) {
	for k, name := range kindNames {
		est, err := newEstimator(k)
		require.NoError(t, err, name)
		require.NotNil(t, est, name)
		assert.False(t, est.IsFitted(), name)
	}

	_, err := neural_network.NewMLPClassifier("cnn1d")
	var ve *scierrors.ValidationError
	assert.True(t, scierrors.As(err, &ve))
}
