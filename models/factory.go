// Package models is the model and pipeline factory. Model families form a
// closed set behind a static alias table; every name is resolved before
// anything is fitted.
package models

import (
	"sort"
	"strings"

	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/pipeline"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
	"github.com/YuminosukeSato/exoml/preprocessing"
	"github.com/YuminosukeSato/exoml/sklearn/ensemble"
	"github.com/YuminosukeSato/exoml/sklearn/linear_model"
	"github.com/YuminosukeSato/exoml/sklearn/neural_network"
	"github.com/YuminosukeSato/exoml/sklearn/svm"
)

// Kind is a model family.
type Kind int

const (
	RandomForest Kind = iota
	ExtraTrees
	HistGB
	LogReg
	SVC
	XGBoost
	MLP
	MLPBN
)

var kindNames = map[Kind]string{
	RandomForest: "random_forest",
	ExtraTrees:   "extra_trees",
	HistGB:       "histgb",
	LogReg:       "logreg",
	SVC:          "svc",
	XGBoost:      "xgboost",
	MLP:          "mlp",
	MLPBN:        "mlp_bn",
}

func (k Kind) String() string { return kindNames[k] }

// Neural reports whether the kind trains with the epoch-based network.
func (k Kind) Neural() bool { return k == MLP || k == MLPBN }

// aliases keys are normalised: lower case, "-" replaced by "_".
var aliases = map[string]Kind{
	"rf":                     RandomForest,
	"random_forest":          RandomForest,
	"randomforest":           RandomForest,
	"et":                     ExtraTrees,
	"extra_trees":            ExtraTrees,
	"extratrees":             ExtraTrees,
	"histgb":                 HistGB,
	"hgb":                    HistGB,
	"hist_gradient_boosting": HistGB,
	"logreg":                 LogReg,
	"lr":                     LogReg,
	"logistic_regression":    LogReg,
	"svc":                    SVC,
	"svm":                    SVC,
	"xgb":                    XGBoost,
	"xgboost":                XGBoost,
	"mlp":                    MLP,
	"mlp_bn":                 MLPBN,
}

// neuralOnly are recognised names with no native implementation.
var neuralOnly = map[string]bool{
	"cnn1d": true, "transformer": true, "ft": true, "ft_transformer": true, "tabnet": true,
}

const neuralGuidance = "convolutional, transformer and TabNet networks are not available in this build; " +
	"use mlp or mlp_bn with train-dl, or a tree ensemble with train"

// defaults are layered under user params.
var defaults = map[Kind]map[string]interface{}{
	RandomForest: {"n_estimators": 100},
	LogReg:       {"max_iter": 2000},
	SVC:          {"probability": true},
	XGBoost:      {"eval_metric": "mlogloss"},
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// ValidNames returns every accepted alias, sorted.
func ValidNames() []string {
	names := make([]string, 0, len(aliases))
	for a := range aliases {
		names = append(names, a)
	}
	sort.Strings(names)
	return names
}

// ParseKind resolves a model name. An empty name means random_forest.
func ParseKind(name string) (Kind, error) {
	n := normalize(name)
	if n == "" {
		return RandomForest, nil
	}
	if k, ok := aliases[n]; ok {
		return k, nil
	}
	guidance := ""
	if neuralOnly[n] {
		guidance = neuralGuidance
	}
	return 0, errors.NewUnsupportedModelError(name, ValidNames(), guidance)
}

// Spec names a model and its user parameters, as found in the run
// configuration.
type Spec struct {
	Name   string
	Params map[string]interface{}
}

// ParseSpec reads a ["name", {params}] pair or a {"name":..,"params":..}
// mapping from decoded JSON/YAML.
func ParseSpec(raw interface{}) (Spec, error) {
	switch x := raw.(type) {
	case []interface{}:
		if len(x) == 0 || len(x) > 2 {
			return Spec{}, errors.NewValidationError("model_spec", "expected [name, params]", raw)
		}
		name, ok := x[0].(string)
		if !ok {
			return Spec{}, errors.NewValidationError("model_spec", "name must be a string", x[0])
		}
		spec := Spec{Name: name}
		if len(x) == 2 && x[1] != nil {
			params, ok := x[1].(map[string]interface{})
			if !ok {
				return Spec{}, errors.NewValidationError("model_spec", "params must be a mapping", x[1])
			}
			spec.Params = params
		}
		return spec, nil
	case map[string]interface{}:
		name, _ := x["name"].(string)
		spec := Spec{Name: name}
		if p, ok := x["params"].(map[string]interface{}); ok {
			spec.Params = p
		}
		return spec, nil
	case string:
		return Spec{Name: x}, nil
	}
	return Spec{}, errors.NewValidationError("model_spec", "expected [name, params] or {name, params}", raw)
}

// Resolve checks the name without building anything.
func (s Spec) Resolve() (Kind, error) { return ParseKind(s.Name) }

func newEstimator(k Kind) (model.Classifier, error) {
	switch k {
	case ExtraTrees:
		return ensemble.NewExtraTreesClassifier(), nil
	case HistGB:
		return ensemble.NewHistGradientBoostingClassifier(), nil
	case LogReg:
		return linear_model.NewLogisticRegression(), nil
	case SVC:
		return svm.NewSVC(), nil
	case XGBoost:
		return ensemble.NewXGBClassifier(), nil
	case MLP, MLPBN:
		m, err := neural_network.NewMLPClassifier(k.String())
		if err != nil {
			return nil, errors.Wrapf(err, "build %s", k)
		}
		return m, nil
	default:
		return ensemble.NewRandomForestClassifier(), nil
	}
}

// BuildModel returns an unfitted estimator with family defaults, then user
// params applied on top.
func BuildModel(name string, params map[string]interface{}) (model.Classifier, error) {
	k, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	est, err := newEstimator(k)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]interface{}, len(params)+1)
	for key, v := range defaults[k] {
		merged[key] = v
	}
	for key, v := range params {
		merged[key] = v
	}
	if err := est.SetParams(merged); err != nil {
		return nil, errors.Wrapf(err, "invalid parameters for %s", k)
	}
	log.GetLoggerWithName("models").Debug("model built",
		log.ModelNameKey, name,
		log.ModelKindKey, k.String(),
		log.HyperParamsKey, merged,
	)
	return est, nil
}

// BuildPipeline composes the feature plan with a single model.
func BuildPipeline(plan *preprocessing.ColumnTransformer, name string, params map[string]interface{}) (*pipeline.Pipeline, error) {
	clf, err := BuildModel(name, params)
	if err != nil {
		return nil, err
	}
	return pipeline.New(plan, clf), nil
}

// BuildStacking builds every base and the final estimator and wraps them
// in a StackingClassifier configured by stackerParams (cv, passthrough,
// n_jobs, stack_method).
func BuildStacking(bases []Spec, final Spec, stackerParams map[string]interface{}) (*ensemble.StackingClassifier, error) {
	if len(bases) == 0 {
		return nil, errors.NewValidationError("stacking.base_models", "must not be empty", nil)
	}
	named := make([]ensemble.NamedEstimator, 0, len(bases))
	for _, b := range bases {
		est, err := BuildModel(b.Name, b.Params)
		if err != nil {
			return nil, err
		}
		named = append(named, ensemble.NamedEstimator{Name: normalize(b.Name), Estimator: est})
	}
	finalEst, err := BuildModel(final.Name, final.Params)
	if err != nil {
		return nil, err
	}
	stack := ensemble.NewStackingClassifier(named, finalEst)
	if len(stackerParams) > 0 {
		if err := stack.SetParams(stackerParams); err != nil {
			return nil, err
		}
	}
	return stack, nil
}

// BuildStackingPipeline wraps a stacking ensemble with the feature plan.
func BuildStackingPipeline(plan *preprocessing.ColumnTransformer, bases []Spec, final Spec, stackerParams map[string]interface{}) (*pipeline.Pipeline, error) {
	stack, err := BuildStacking(bases, final, stackerParams)
	if err != nil {
		return nil, err
	}
	return pipeline.New(plan, stack), nil
}
